// Package retrieve drives the mailbox retrieval pipeline: a stateful
// windowed cursor over a folder's live message-number range, and a retriever
// that owns folder handles, compiles criteria push-down, and serializes
// access.
package retrieve

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nhle/mailfeed/internal/criteria"
	"github.com/nhle/mailfeed/internal/decompose"
	"github.com/nhle/mailfeed/internal/mailbox"
)

// ErrClosed is returned when a page is requested from a closed cursor.
var ErrClosed = errors.New("retrieve: cursor is closed")

// CursorState is the lifecycle state of a Cursor.
type CursorState int

const (
	StateUninitialized CursorState = iota
	StateActive
	StateExhausted
	StateClosed
)

func (s CursorState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateExhausted:
		return "exhausted"
	case StateClosed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// DeleteFunc applies one deferred deletion.
type DeleteFunc func(ctx context.Context, seqNum uint32) error

// ReleaseFunc releases the folder when the cursor closes. When expunge is
// true, messages marked deleted must be permanently removed.
type ReleaseFunc func(ctx context.Context, expunge bool) error

// Item is one retrieved message: its sequence number, the attribute
// snapshot, and, in eager-content mode, the decomposed content.
type Item struct {
	SeqNum     uint32
	Attributes mailbox.Attributes
	Content    *decompose.Message
}

// CursorConfig carries the construction parameters of a Cursor.
type CursorConfig struct {
	// PageSize bounds each fetched window. Must be positive.
	PageSize int

	// Offset excludes the lowest Offset message numbers from the scan.
	// Must be non-negative; a positive offset is rejected when the
	// folder's protocol does not support one.
	Offset int

	// Limit caps the total matched items across all pages. -1 means
	// unlimited; otherwise it must be positive.
	Limit int

	// Predicate filters messages locally. Nil matches everything.
	Predicate criteria.Predicate

	// MatchSeqNums restricts the scan to the given sequence numbers,
	// typically the result of a server-side search. Nil means no
	// restriction.
	MatchSeqNums []uint32

	// FetchContent enables eager-content mode: each surviving message is
	// decomposed and its attribute snapshot refreshed afterward, since
	// reading content can flip the seen flag.
	FetchContent bool

	// Decompose configures content assembly in eager-content mode.
	Decompose decompose.Options

	// DeleteAfterRetrieve enqueues every delivered message for deletion,
	// applied on Close.
	DeleteAfterRetrieve bool

	// OnDelete applies one deferred deletion. Defaults to marking the
	// message deleted on the folder.
	OnDelete DeleteFunc

	// OnRelease releases the folder on Close. Defaults to closing it.
	OnRelease ReleaseFunc

	Logger *zap.Logger
}

// Cursor iterates a folder backward from its most recent message in
// bounded-size windows. Deletion is deferred and batched so message
// numbering does not shift mid-iteration; numbering only changes on the
// expunge performed at close. Not safe for concurrent use.
type Cursor struct {
	folder mailbox.Folder
	cfg    CursorConfig
	log    *zap.Logger

	state         CursorState
	windowTop     int64
	windowBottom  int64
	matched       int
	offsetReached bool
	pendingDelete []uint32
	matchSet      map[uint32]bool
}

// NewCursor validates cfg and creates a cursor over folder. No fetch is
// issued until the first page request.
func NewCursor(folder mailbox.Folder, cfg CursorConfig) (*Cursor, error) {
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("retrieve: page size must be positive, got %d", cfg.PageSize)
	}
	if cfg.Offset < 0 {
		return nil, fmt.Errorf("retrieve: offset must be non-negative, got %d", cfg.Offset)
	}
	if cfg.Offset > 0 && !folder.Capabilities().Offset {
		return nil, fmt.Errorf("retrieve: offset %d: %w", cfg.Offset, mailbox.ErrOffsetUnsupported)
	}
	if cfg.Limit != -1 && cfg.Limit <= 0 {
		return nil, fmt.Errorf("retrieve: limit must be -1 or positive, got %d", cfg.Limit)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	c := &Cursor{
		folder: folder,
		cfg:    cfg,
		log:    cfg.Logger,
		state:  StateUninitialized,
	}
	if cfg.MatchSeqNums != nil {
		c.matchSet = make(map[uint32]bool, len(cfg.MatchSeqNums))
		for _, seq := range cfg.MatchSeqNums {
			c.matchSet[seq] = true
		}
	}
	return c, nil
}

// State returns the cursor's lifecycle state.
func (c *Cursor) State() CursorState { return c.state }

// NextPage returns the next page of matching items in descending
// message-number order. An empty page with a nil error means the cursor is
// exhausted. Empty intermediate windows never end the iteration; the scan
// continues until a window yields survivors or the range is consumed.
func (c *Cursor) NextPage(ctx context.Context) ([]Item, error) {
	switch c.state {
	case StateClosed:
		return nil, ErrClosed
	case StateExhausted:
		return nil, nil
	case StateUninitialized:
		if err := c.initialize(ctx); err != nil {
			return nil, err
		}
		if c.state == StateExhausted {
			return nil, nil
		}
	}

	if c.cfg.Limit > 0 && c.matched >= c.cfg.Limit {
		c.state = StateExhausted
		return nil, nil
	}

	for {
		// The folder may have shrunk since the window was computed;
		// clamp to the now-current count and continue.
		count, err := c.folder.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading folder count: %w", err)
		}
		if int64(count) < c.windowTop {
			c.windowTop = int64(count)
			if c.windowTop < 1 {
				c.state = StateExhausted
				return nil, nil
			}
			if c.windowTop < c.windowBottom {
				c.computeBottom()
			}
		}
		if c.windowTop < c.windowBottom {
			c.state = StateExhausted
			return nil, nil
		}

		msgs, err := c.folder.FetchRange(ctx, uint32(c.windowBottom), uint32(c.windowTop))
		if err != nil {
			return nil, fmt.Errorf("fetching messages [%d,%d]: %w", c.windowBottom, c.windowTop, err)
		}

		batch, err := c.filterWindow(ctx, msgs)
		if err != nil {
			return nil, err
		}

		windowDone := c.slideWindow()

		if len(batch) == 0 {
			if windowDone {
				c.state = StateExhausted
				return nil, nil
			}
			continue
		}

		if c.cfg.Limit > 0 {
			remaining := c.cfg.Limit - c.matched
			if len(batch) > remaining {
				// Truncate from the low-numbered end so the
				// most recent matches win under a limit.
				batch = batch[len(batch)-remaining:]
			}
		}
		if c.cfg.DeleteAfterRetrieve {
			for _, item := range batch {
				c.pendingDelete = append(c.pendingDelete, item.SeqNum)
			}
		}
		c.matched += len(batch)

		reverse(batch)

		if windowDone || (c.cfg.Limit > 0 && c.matched >= c.cfg.Limit) {
			c.state = StateExhausted
		}
		return batch, nil
	}
}

// Close applies every enqueued deletion in enqueue order, then releases the
// folder. Messages never reached by the iteration are not touched. Safe to
// call from any state; subsequent calls are no-ops.
func (c *Cursor) Close(ctx context.Context) error {
	if c.state == StateClosed {
		return nil
	}
	c.state = StateClosed

	var firstErr error
	for _, seq := range c.pendingDelete {
		if err := c.deleteOne(ctx, seq); err != nil {
			c.log.Warn("applying deferred deletion",
				zap.Uint32("seq_num", seq), zap.Error(err))
			if firstErr == nil {
				firstErr = fmt.Errorf("deleting message %d: %w", seq, err)
			}
		}
	}
	c.pendingDelete = nil

	expunge := c.cfg.DeleteAfterRetrieve && c.folder.Mode() == mailbox.ReadWrite
	if err := c.release(ctx, expunge); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("releasing folder %s: %w", c.folder.Name(), err)
	}
	return firstErr
}

func (c *Cursor) deleteOne(ctx context.Context, seq uint32) error {
	if c.cfg.OnDelete != nil {
		return c.cfg.OnDelete(ctx, seq)
	}
	return c.folder.MarkDeleted(ctx, seq)
}

func (c *Cursor) release(ctx context.Context, expunge bool) error {
	if c.cfg.OnRelease != nil {
		return c.cfg.OnRelease(ctx, expunge)
	}
	return c.folder.Close(ctx, expunge)
}

// initialize reads the folder count and computes the first window.
func (c *Cursor) initialize(ctx context.Context) error {
	count, err := c.folder.Count(ctx)
	if err != nil {
		return fmt.Errorf("reading folder count: %w", err)
	}
	if count == 0 {
		c.state = StateExhausted
		return nil
	}
	c.windowTop = int64(count)
	c.computeBottom()
	c.state = StateActive
	return nil
}

// computeBottom derives windowBottom from windowTop, clamping at 1 and at
// the offset boundary. The window is never inverted beyond bottom == top+1.
func (c *Cursor) computeBottom() {
	bottom := c.windowTop - int64(c.cfg.PageSize) + 1
	if bottom < 1 {
		bottom = 1
	}
	if bottom <= int64(c.cfg.Offset) {
		bottom = int64(c.cfg.Offset) + 1
		c.offsetReached = true
	}
	c.windowBottom = bottom
}

// slideWindow advances to the next window and reports whether the scan is
// over after the window just processed.
func (c *Cursor) slideWindow() bool {
	if c.offsetReached {
		return true
	}
	c.windowTop -= int64(c.cfg.PageSize)
	if c.windowTop < 1 {
		return true
	}
	c.computeBottom()
	return c.windowBottom > c.windowTop
}

// filterWindow applies the match set and local predicate to one fetched
// window and, in eager-content mode, assembles the surviving messages.
func (c *Cursor) filterWindow(ctx context.Context, msgs []mailbox.Message) ([]Item, error) {
	items := make([]Item, 0, len(msgs))
	for _, msg := range msgs {
		seq := msg.SeqNum()
		if c.matchSet != nil && !c.matchSet[seq] {
			continue
		}
		att := msg.Attributes()
		if c.cfg.Predicate != nil && !c.cfg.Predicate(att) {
			continue
		}

		item := Item{SeqNum: seq, Attributes: att}
		if c.cfg.FetchContent {
			root, err := msg.Root(ctx)
			if err != nil {
				return nil, fmt.Errorf("reading message %d content: %w", seq, err)
			}
			item.Content = decompose.Assemble(root, c.cfg.Decompose)
			// Reading content can set the seen flag server-side;
			// refresh the snapshot delivered to the caller.
			if refreshed, err := msg.Refresh(ctx); err == nil {
				item.Attributes = refreshed
			} else {
				c.log.Warn("refreshing message attributes",
					zap.Uint32("seq_num", seq), zap.Error(err))
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func reverse(items []Item) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
