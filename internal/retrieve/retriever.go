package retrieve

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nhle/mailfeed/internal/criteria"
	"github.com/nhle/mailfeed/internal/decompose"
	"github.com/nhle/mailfeed/internal/mailbox"
)

// ErrBusy is returned when a retrieval operation is requested while a
// previous one against the same retriever has not finished. The folder
// collaborator is stateful and not safe for concurrent use, so callers
// serialize access and skip a cycle instead of queueing.
var ErrBusy = errors.New("retrieve: a retrieval operation is already in flight")

// Config describes one list or poll retrieval operation.
type Config struct {
	// Folder is the mailbox folder to retrieve from.
	Folder string

	// PageSize bounds each fetched window. Must be positive.
	PageSize int

	// Offset excludes the lowest Offset message numbers. Default 0.
	Offset int

	// Limit caps total matched results; -1 means unlimited.
	Limit int

	// Criteria filters messages; the compiled push-down expression is
	// sent to the server when representable and supported.
	Criteria criteria.Criteria

	// FetchContent enables eager content assembly per matched message.
	FetchContent bool

	// Decompose configures content assembly.
	Decompose decompose.Options

	// DeleteAfterRetrieve marks each delivered message deleted when the
	// cursor closes, then expunges.
	DeleteAfterRetrieve bool
}

// mode derives the folder open mode: mutating operations need read-write.
func (c Config) mode() mailbox.OpenMode {
	if c.DeleteAfterRetrieve || c.FetchContent {
		return mailbox.ReadWrite
	}
	return mailbox.ReadOnly
}

// Retriever owns the open folder handle of one mail session. The handle is
// exclusive to one cursor at a time and is reused across operations while
// the requested folder and open mode match; a mismatch force-closes the
// previous handle.
type Retriever struct {
	session mailbox.Session
	log     *zap.Logger

	mu         sync.Mutex
	busy       bool
	folder     mailbox.Folder
	folderName string
	folderMode mailbox.OpenMode
}

// New creates a Retriever over an authenticated session.
func New(session mailbox.Session, log *zap.Logger) *Retriever {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{session: session, log: log}
}

// Open starts a retrieval operation and returns its cursor. The caller must
// close the cursor; deferred deletions are applied and the in-flight guard
// released at that point. Returns ErrBusy while a previous operation's
// cursor is still open.
func (r *Retriever) Open(ctx context.Context, cfg Config) (*Cursor, error) {
	r.mu.Lock()
	if r.busy {
		r.mu.Unlock()
		return nil, ErrBusy
	}
	r.busy = true
	r.mu.Unlock()

	cursor, err := r.open(ctx, cfg)
	if err != nil {
		r.mu.Lock()
		r.busy = false
		r.mu.Unlock()
		return nil, err
	}
	return cursor, nil
}

func (r *Retriever) open(ctx context.Context, cfg Config) (*Cursor, error) {
	folder, err := r.acquireFolder(ctx, cfg.Folder, cfg.mode())
	if err != nil {
		return nil, err
	}

	compiled := criteria.Compile(cfg.Criteria)
	matches, err := r.pushdownMatches(ctx, folder, compiled)
	if err != nil {
		return nil, err
	}

	return NewCursor(folder, CursorConfig{
		PageSize:            cfg.PageSize,
		Offset:              cfg.Offset,
		Limit:               cfg.Limit,
		Predicate:           compiled.Predicate,
		MatchSeqNums:        matches,
		FetchContent:        cfg.FetchContent,
		Decompose:           cfg.Decompose,
		DeleteAfterRetrieve: cfg.DeleteAfterRetrieve,
		OnRelease: func(ctx context.Context, expunge bool) error {
			return r.releaseFolder(ctx, expunge)
		},
		Logger: r.log,
	})
}

// List retrieves every matching message with assembled content, draining
// the cursor page by page. Items arrive in descending message-number order.
func (r *Retriever) List(ctx context.Context, cfg Config) ([]Item, error) {
	cfg.FetchContent = true
	cursor, err := r.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := cursor.Close(ctx); closeErr != nil {
			r.log.Warn("closing cursor", zap.Error(closeErr))
		}
	}()

	var all []Item
	for {
		page, err := cursor.NextPage(ctx)
		if err != nil {
			return all, err
		}
		if len(page) == 0 {
			return all, nil
		}
		all = append(all, page...)
	}
}

// Close force-closes any cached folder handle and the session.
func (r *Retriever) Close(ctx context.Context) error {
	r.mu.Lock()
	folder := r.folder
	r.folder = nil
	r.mu.Unlock()

	var firstErr error
	if folder != nil {
		if err := folder.Close(ctx, false); err != nil {
			firstErr = fmt.Errorf("closing folder %s: %w", folder.Name(), err)
		}
	}
	if err := r.session.Close(ctx); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing session: %w", err)
	}
	return firstErr
}

// acquireFolder reuses the cached handle when folder and mode match, and
// force-closes it otherwise. No implicit reuse across mode mismatches.
func (r *Retriever) acquireFolder(ctx context.Context, name string, mode mailbox.OpenMode) (mailbox.Folder, error) {
	r.mu.Lock()
	cached := r.folder
	cachedName, cachedMode := r.folderName, r.folderMode
	r.mu.Unlock()

	if cached != nil {
		if cachedName == name && cachedMode == mode {
			return cached, nil
		}
		r.log.Debug("folder mismatch, closing previous handle",
			zap.String("previous", cachedName),
			zap.String("requested", name))
		if err := cached.Close(ctx, false); err != nil {
			r.log.Warn("closing previous folder", zap.Error(err))
		}
		r.mu.Lock()
		r.folder = nil
		r.mu.Unlock()
	}

	folder, err := r.session.Open(ctx, name, mode)
	if err != nil {
		return nil, fmt.Errorf("opening folder %s %s: %w", name, mode, err)
	}

	r.mu.Lock()
	r.folder = folder
	r.folderName = name
	r.folderMode = mode
	r.mu.Unlock()
	return folder, nil
}

// releaseFolder runs when a cursor closes: expunge drops the handle (the
// numbering shifted), otherwise the handle stays cached for reuse. The
// in-flight guard is released either way.
func (r *Retriever) releaseFolder(ctx context.Context, expunge bool) error {
	r.mu.Lock()
	folder := r.folder
	if expunge {
		r.folder = nil
	}
	r.busy = false
	r.mu.Unlock()

	if folder == nil || !expunge {
		return nil
	}
	return folder.Close(ctx, true)
}

// pushdownMatches executes the server-side search. On a protocol error it
// retries once with the reduced flag-only expression, then falls back to
// unfiltered retrieval with local-only filtering. A nil result means no
// restriction; an empty result means the server matched nothing.
func (r *Retriever) pushdownMatches(ctx context.Context, folder mailbox.Folder, compiled criteria.Compiled) ([]uint32, error) {
	if compiled.Pushdown == nil || compiled.Unrestricted() {
		return nil, nil
	}
	if !folder.Capabilities().Search {
		return nil, nil
	}

	seqs, err := folder.Search(ctx, compiled.Pushdown)
	if err == nil {
		return nonNil(seqs), nil
	}
	if errors.Is(err, mailbox.ErrSearchUnsupported) {
		return nil, nil
	}

	r.log.Warn("push-down search failed, retrying with flag terms only",
		zap.Error(err))
	if compiled.FlagsOnly != nil {
		seqs, err = folder.Search(ctx, compiled.FlagsOnly)
		if err == nil {
			return nonNil(seqs), nil
		}
		r.log.Warn("reduced search failed, falling back to local filtering",
			zap.Error(err))
	}
	return nil, nil
}

func nonNil(seqs []uint32) []uint32 {
	if seqs == nil {
		return []uint32{}
	}
	return seqs
}
