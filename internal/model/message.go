package model

import "time"

// StoredMessage is one normalized retrieved message as persisted to the
// local archive.
type StoredMessage struct {
	// ID is the archive record identifier (UUID).
	ID string `db:"id"`

	// AccountID and Folder identify where the message was retrieved from.
	AccountID string `db:"account_id"`
	Folder    string `db:"folder"`

	Subject string `db:"subject"`
	Sender  string `db:"sender"`

	ReceivedAt time.Time `db:"received_at"`
	SentAt     time.Time `db:"sent_at"`

	// Body is the concatenated body text produced by decomposition.
	Body          string `db:"body"`
	BodyMediaType string `db:"body_media_type"`

	FetchedAt time.Time `db:"fetched_at"`

	// Attachments holds the message's uniquely named attachments.
	// Populated on read when requested.
	Attachments []StoredAttachment `db:"-"`
}

// StoredAttachment is one archived attachment, keyed by its resolved name
// within the owning message.
type StoredAttachment struct {
	MessageID string `db:"message_id"`
	Name      string `db:"name"`
	MediaType string `db:"media_type"`
	Size      int64  `db:"size"`
	Data      []byte `db:"data"`
}
