package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-imap/v2"
)

// OpenMode controls whether a folder is opened for reading only or for
// flag mutation and expunge.
type OpenMode int

const (
	ReadOnly OpenMode = iota
	ReadWrite
)

func (m OpenMode) String() string {
	if m == ReadWrite {
		return "read-write"
	}
	return "read-only"
}

// ErrSearchUnsupported is returned by Folder.Search when the underlying
// protocol offers no server-side search.
var ErrSearchUnsupported = errors.New("mailbox: server-side search not supported")

// ErrOffsetUnsupported is returned when a non-zero pagination offset is
// requested against a folder whose protocol cannot honor one.
var ErrOffsetUnsupported = errors.New("mailbox: pagination offset not supported")

// AuthError indicates that authentication failed or expired for an account.
type AuthError struct {
	Account string
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.Account, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Flags is the boolean flag set of one message.
type Flags struct {
	Seen     bool
	Answered bool
	Deleted  bool
	Recent   bool
}

// Attributes is the decoded metadata snapshot of one message, used for
// local filtering.
type Attributes struct {
	Subject      string
	From         string
	ReceivedDate time.Time
	SentDate     time.Time
	Flags        Flags
}

// Capabilities describes what the folder's protocol supports.
type Capabilities struct {
	// Search reports whether Folder.Search can push a query to the server.
	Search bool

	// Offset reports whether a non-zero pagination offset is honored.
	Offset bool
}

// Message is one folder-resident message. Implementations are stateful and
// not safe for concurrent use; callers serialize access through the folder.
type Message interface {
	// SeqNum returns the 1-based message sequence number at fetch time.
	SeqNum() uint32

	// Attributes returns the attribute snapshot decoded at fetch time.
	Attributes() Attributes

	// Refresh re-reads the flag state from the folder and returns the
	// updated snapshot. Reading content can flip the seen flag, so the
	// snapshot must be refreshed after Root.
	Refresh(ctx context.Context) (Attributes, error)

	// Root fetches the full message content and returns the parsed root
	// part. Content is buffered; the returned tree stays valid after the
	// folder is closed.
	Root(ctx context.Context) (*Part, error)
}

// Folder is an open mailbox folder. A folder handle is exclusive to one
// cursor at a time.
type Folder interface {
	Name() string
	Mode() OpenMode
	Capabilities() Capabilities

	// Count returns the current number of messages in the folder. The
	// count can shrink between calls while the folder is open.
	Count(ctx context.Context) (uint32, error)

	// FetchRange returns the messages numbered [low, high] (1-based,
	// inclusive) in ascending sequence-number order. Numbers beyond the
	// current count are silently absent from the result.
	FetchRange(ctx context.Context, low, high uint32) ([]Message, error)

	// Search evaluates criteria on the server and returns the matching
	// sequence numbers. Returns ErrSearchUnsupported when the protocol
	// has no server-side search.
	Search(ctx context.Context, criteria *imap.SearchCriteria) ([]uint32, error)

	// MarkDeleted sets the deleted flag on the given message. Numbering
	// does not shift until the folder is closed with expunge.
	MarkDeleted(ctx context.Context, seqNum uint32) error

	// Close releases the folder, expunging deleted messages when expunge
	// is true and the folder was opened read-write.
	Close(ctx context.Context, expunge bool) error
}

// Session is an authenticated connection to a mail store, able to open
// folders by name.
type Session interface {
	Open(ctx context.Context, folder string, mode OpenMode) (Folder, error)
	Close(ctx context.Context) error
}
