package store

import (
	"context"

	"github.com/nhle/mailfeed/internal/model"
)

// MessageFilter controls filtering, sorting, and pagination for archive
// queries.
type MessageFilter struct {
	AccountID *string
	Folder    *string
	Query     *string // matches subject and sender
	SortDesc  bool
	Limit     int
	Offset    int
}

// Store defines the persistence interface for the local message archive.
type Store interface {
	// SaveMessages inserts or replaces a batch of retrieved messages
	// with their attachments.
	SaveMessages(ctx context.Context, msgs []model.StoredMessage) error

	// GetMessages returns archived messages matching the filter, without
	// attachment content.
	GetMessages(ctx context.Context, opts MessageFilter) ([]model.StoredMessage, error)

	// GetMessageByID returns one archived message with its attachments.
	GetMessageByID(ctx context.Context, id string) (*model.StoredMessage, error)

	// DeleteMessage removes one archived message and its attachments.
	DeleteMessage(ctx context.Context, id string) error

	Close() error
}
