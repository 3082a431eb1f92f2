package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/nhle/mailfeed/internal/criteria"
	"github.com/nhle/mailfeed/internal/decompose"
	"github.com/nhle/mailfeed/internal/mailbox"
	"github.com/nhle/mailfeed/internal/model"
	"github.com/nhle/mailfeed/internal/retrieve"
	"github.com/nhle/mailfeed/internal/store"
)

// PollState represents the current state of an account poll cycle.
type PollState int

const (
	PollIdle PollState = iota
	PollRunning
	PollError
)

// PollStatus holds the polling state for a single account.
type PollStatus struct {
	AccountID string
	State     PollState
	LastPoll  time.Time
	Error     error
}

// PollResult is emitted on the result channel when a poll cycle completes.
type PollResult struct {
	AccountID string
	Messages  []retrieve.Item
	Error     error
	AuthError bool
	NewCount  int
}

// SessionFactory dials and authenticates a mail session for one account.
// The poller owns the returned session for the duration of a poll cycle.
type SessionFactory func(ctx context.Context, cfg model.AccountConfig) (mailbox.Session, error)

// fetchTimeout is the maximum time allowed for a single poll cycle.
const fetchTimeout = 60 * time.Second

// accountEntry holds a registered account and its per-account state.
type accountEntry struct {
	cfg       model.AccountConfig
	factory   SessionFactory
	watermark time.Time
	triggerCh chan struct{}
}

// Poller polls registered mailbox accounts on their configured intervals,
// emitting each new batch on the result channel and optionally archiving
// it. Retrieval is at-least-once: the received-date watermark is held in
// memory only, so messages near the boundary may be delivered again.
type Poller struct {
	archive   store.Store
	retrieval model.RetrievalConfig
	log       *zap.Logger

	mu       gosync.Mutex
	accounts map[string]*accountEntry
	statuses map[string]*PollStatus
	running  bool

	resultCh chan PollResult
	stopCh   chan struct{}
}

// New creates a Poller. The archive store may be nil, in which case
// results are only emitted on the result channel.
func New(archive store.Store, retrieval model.RetrievalConfig, log *zap.Logger) *Poller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Poller{
		archive:   archive,
		retrieval: retrieval,
		log:       log,
		accounts: make(map[string]*accountEntry),
		statuses: make(map[string]*PollStatus),
		resultCh: make(chan PollResult, 16),
		stopCh:   make(chan struct{}),
	}
}

// RegisterAccount adds an account and its session factory to the poller.
func (p *Poller) RegisterAccount(cfg model.AccountConfig, factory SessionFactory) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.accounts[cfg.ID] = &accountEntry{
		cfg:       cfg,
		factory:   factory,
		triggerCh: make(chan struct{}, 1),
	}
	p.statuses[cfg.ID] = &PollStatus{
		AccountID: cfg.ID,
		State:     PollIdle,
	}
}

// Start launches one polling goroutine per registered account. Starting an
// already-running poller is a no-op.
func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	entries := make([]*accountEntry, 0, len(p.accounts))
	for _, e := range p.accounts {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	for _, entry := range entries {
		go p.pollAccount(entry)
	}
}

// Stop halts all polling goroutines.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	close(p.stopCh)
	p.running = false
}

// Results returns the channel poll outcomes are emitted on.
func (p *Poller) Results() <-chan PollResult {
	return p.resultCh
}

// RefreshAll triggers an immediate poll of every registered account.
func (p *Poller) RefreshAll() {
	p.mu.Lock()
	entries := make([]*accountEntry, 0, len(p.accounts))
	for _, e := range p.accounts {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	for _, entry := range entries {
		trigger(entry)
	}
}

// RefreshAccount triggers an immediate poll of one account. Unknown ids are
// ignored.
func (p *Poller) RefreshAccount(accountID string) {
	p.mu.Lock()
	entry := p.accounts[accountID]
	p.mu.Unlock()

	if entry != nil {
		trigger(entry)
	}
}

// trigger requests a poll cycle without blocking; a pending trigger already
// covers the request.
func trigger(entry *accountEntry) {
	select {
	case entry.triggerCh <- struct{}{}:
	default:
	}
}

// Statuses returns the current polling status of all registered accounts.
func (p *Poller) Statuses() []PollStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]PollStatus, 0, len(p.statuses))
	for _, s := range p.statuses {
		statuses = append(statuses, *s)
	}
	return statuses
}

// pollAccount runs the polling loop for a single account.
func (p *Poller) pollAccount(entry *accountEntry) {
	interval := time.Duration(entry.cfg.PollIntervalSec) * time.Second
	if interval <= 0 {
		interval = 120 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Do an initial poll immediately
	p.pollOnce(entry)

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.pollOnce(entry)
		case <-entry.triggerCh:
			p.pollOnce(entry)
		}
	}
}

// pollOnce performs one poll cycle: dial, retrieve everything past the
// watermark, archive, advance the watermark, emit the result.
func (p *Poller) pollOnce(entry *accountEntry) {
	id := entry.cfg.ID
	p.setStatus(id, PollRunning, nil)

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	items, err := p.fetch(ctx, entry)
	if err != nil {
		p.setStatus(id, PollError, err)
		p.sendResult(PollResult{
			AccountID: id,
			Error:     err,
			AuthError: mailbox.IsAuthError(err),
		})
		return
	}

	// The since criterion is inclusive (and day-granular on the server),
	// so messages at the watermark instant come back on every cycle. Only
	// strictly newer ones are new.
	if !entry.watermark.IsZero() {
		fresh := make([]retrieve.Item, 0, len(items))
		for _, item := range items {
			if item.Attributes.ReceivedDate.After(entry.watermark) {
				fresh = append(fresh, item)
			}
		}
		items = fresh
	}

	if p.archive != nil && len(items) > 0 {
		if saveErr := p.archive.SaveMessages(ctx, p.toStored(entry.cfg, items)); saveErr != nil {
			p.setStatus(id, PollError, saveErr)
			p.sendResult(PollResult{AccountID: id, Error: saveErr})
			return
		}
	}

	// Advance the watermark to the newest received date seen, so the
	// next cycle only asks the server for messages from that day on.
	for i := range items {
		if received := items[i].Attributes.ReceivedDate; received.After(entry.watermark) {
			entry.watermark = received
		}
	}

	p.setStatus(id, PollIdle, nil)
	p.sendResult(PollResult{
		AccountID: id,
		Messages:  items,
		NewCount:  len(items),
	})
}

// fetch dials a fresh session and lists all messages past the watermark.
// A cycle that finds the previous one still in flight is skipped, not
// queued.
func (p *Poller) fetch(ctx context.Context, entry *accountEntry) ([]retrieve.Item, error) {
	session, err := entry.factory(ctx, entry.cfg)
	if err != nil {
		return nil, fmt.Errorf("dialing account %s: %w", entry.cfg.ID, err)
	}

	retriever := retrieve.New(session, p.log.With(zap.String("account", entry.cfg.ID)))
	defer func() {
		if closeErr := retriever.Close(ctx); closeErr != nil {
			p.log.Warn("closing retriever", zap.Error(closeErr))
		}
	}()

	return retriever.List(ctx, retrieve.Config{
		Folder:   entry.cfg.Folder,
		PageSize: p.retrieval.PageSize,
		Limit:    p.retrieval.Limit,
		Criteria: criteria.Criteria{
			ReceivedSince: entry.watermark,
		},
		FetchContent: true,
		Decompose: decompose.Options{
			Naming:                decompose.ParseNamingStrategy(p.retrieval.NamingStrategy),
			TreatTextAsAttachment: p.retrieval.TreatTextAsAttachment,
		},
		DeleteAfterRetrieve: entry.cfg.DeleteAfterRetrieve,
	})
}

// toStored converts retrieved items to archive records.
func (p *Poller) toStored(cfg model.AccountConfig, items []retrieve.Item) []model.StoredMessage {
	now := time.Now()
	out := make([]model.StoredMessage, 0, len(items))
	for _, item := range items {
		msg := model.StoredMessage{
			AccountID:  cfg.ID,
			Folder:     cfg.Folder,
			Subject:    item.Attributes.Subject,
			Sender:     item.Attributes.From,
			ReceivedAt: item.Attributes.ReceivedDate,
			SentAt:     item.Attributes.SentDate,
			FetchedAt:  now,
		}
		if item.Content != nil {
			msg.Body = item.Content.Body
			msg.BodyMediaType = item.Content.BodyMediaType
			for _, att := range item.Content.Attachments {
				msg.Attachments = append(msg.Attachments, model.StoredAttachment{
					Name:      att.Name,
					MediaType: att.MediaType,
					Size:      int64(len(att.Data)),
					Data:      att.Data,
				})
			}
		}
		out = append(out, msg)
	}
	return out
}

// setStatus updates the polling status for an account.
func (p *Poller) setStatus(accountID string, state PollState, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.statuses[accountID]
	if !ok {
		return
	}

	status.State = state
	status.Error = err
	if state == PollIdle && err == nil {
		status.LastPoll = time.Now()
	}
}

// sendResult sends a PollResult on the result channel without blocking.
func (p *Poller) sendResult(result PollResult) {
	select {
	case p.resultCh <- result:
	default:
		// Drop if channel is full to avoid blocking the poller
	}
}
