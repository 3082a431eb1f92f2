package testutil

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailfeed/internal/mailbox"
)

// FakeMessage is one message held by a FakeFolder. Sequence numbers are
// positional: message i in the folder's slice has sequence number i+1.
type FakeMessage struct {
	Attrs mailbox.Attributes
	Part  *mailbox.Part

	// RootErr, when set, is returned by Root instead of the part tree.
	RootErr error

	// RootCalls counts Root invocations.
	RootCalls int
}

// FakeFolder is an in-memory mailbox.Folder for tests. It is not safe for
// concurrent use, matching the contract of the real folder.
type FakeFolder struct {
	FolderName string
	OpenMode   mailbox.OpenMode
	Caps       mailbox.Capabilities

	// Messages in ascending sequence-number order.
	Messages []*FakeMessage

	// SearchFunc, when set, handles Search calls. A nil SearchFunc with
	// Caps.Search true returns every sequence number.
	SearchFunc func(criteria *imap.SearchCriteria) ([]uint32, error)

	// DeletedSeqNums records MarkDeleted calls in order.
	DeletedSeqNums []uint32

	Closed   bool
	Expunged bool
}

// NewFakeFolder builds a folder with full capabilities and the given
// messages.
func NewFakeFolder(name string, mode mailbox.OpenMode, msgs ...*FakeMessage) *FakeFolder {
	return &FakeFolder{
		FolderName: name,
		OpenMode:   mode,
		Caps:       mailbox.Capabilities{Search: true, Offset: true},
		Messages:   msgs,
	}
}

func (f *FakeFolder) Name() string                     { return f.FolderName }
func (f *FakeFolder) Mode() mailbox.OpenMode           { return f.OpenMode }
func (f *FakeFolder) Capabilities() mailbox.Capabilities { return f.Caps }

func (f *FakeFolder) Count(ctx context.Context) (uint32, error) {
	return uint32(len(f.Messages)), nil
}

func (f *FakeFolder) FetchRange(ctx context.Context, low, high uint32) ([]mailbox.Message, error) {
	if f.Closed {
		return nil, fmt.Errorf("folder %s is closed", f.FolderName)
	}
	var out []mailbox.Message
	for seq := low; seq <= high; seq++ {
		if seq < 1 || int(seq) > len(f.Messages) {
			continue
		}
		out = append(out, &fakeHandle{folder: f, seqNum: seq})
	}
	return out, nil
}

func (f *FakeFolder) Search(ctx context.Context, criteria *imap.SearchCriteria) ([]uint32, error) {
	if !f.Caps.Search {
		return nil, mailbox.ErrSearchUnsupported
	}
	if f.SearchFunc != nil {
		return f.SearchFunc(criteria)
	}
	seqs := make([]uint32, len(f.Messages))
	for i := range f.Messages {
		seqs[i] = uint32(i + 1)
	}
	return seqs, nil
}

func (f *FakeFolder) MarkDeleted(ctx context.Context, seqNum uint32) error {
	if f.OpenMode != mailbox.ReadWrite {
		return fmt.Errorf("folder %s is read-only", f.FolderName)
	}
	if seqNum < 1 || int(seqNum) > len(f.Messages) {
		return fmt.Errorf("no message %d in folder %s", seqNum, f.FolderName)
	}
	f.Messages[seqNum-1].Attrs.Flags.Deleted = true
	f.DeletedSeqNums = append(f.DeletedSeqNums, seqNum)
	return nil
}

func (f *FakeFolder) Close(ctx context.Context, expunge bool) error {
	f.Closed = true
	if expunge && f.OpenMode == mailbox.ReadWrite {
		f.Expunged = true
		kept := f.Messages[:0]
		for _, m := range f.Messages {
			if !m.Attrs.Flags.Deleted {
				kept = append(kept, m)
			}
		}
		f.Messages = kept
	}
	return nil
}

// Shrink drops the highest messages so only n remain, simulating an
// external expunge while the folder is open.
func (f *FakeFolder) Shrink(n int) {
	if n < len(f.Messages) {
		f.Messages = f.Messages[:n]
	}
}

// fakeHandle resolves against the folder on every call so that shrinkage
// and flag changes after fetch time are observable, like a live handle.
type fakeHandle struct {
	folder *FakeFolder
	seqNum uint32
}

func (h *fakeHandle) SeqNum() uint32 { return h.seqNum }

func (h *fakeHandle) message() (*FakeMessage, error) {
	if int(h.seqNum) > len(h.folder.Messages) {
		return nil, fmt.Errorf("message %d no longer exists", h.seqNum)
	}
	return h.folder.Messages[h.seqNum-1], nil
}

func (h *fakeHandle) Attributes() mailbox.Attributes {
	msg, err := h.message()
	if err != nil {
		return mailbox.Attributes{}
	}
	return msg.Attrs
}

func (h *fakeHandle) Refresh(ctx context.Context) (mailbox.Attributes, error) {
	msg, err := h.message()
	if err != nil {
		return mailbox.Attributes{}, err
	}
	return msg.Attrs, nil
}

func (h *fakeHandle) Root(ctx context.Context) (*mailbox.Part, error) {
	msg, err := h.message()
	if err != nil {
		return nil, err
	}
	msg.RootCalls++
	if msg.RootErr != nil {
		return nil, msg.RootErr
	}
	// Reading content without peeking marks the message seen.
	if h.folder.OpenMode == mailbox.ReadWrite {
		msg.Attrs.Flags.Seen = true
	}
	if msg.Part == nil {
		return &mailbox.Part{MediaType: "text/plain"}, nil
	}
	return msg.Part, nil
}

// FakeSession is an in-memory mailbox.Session serving folders by name.
type FakeSession struct {
	Folders map[string]*FakeFolder

	// OpenErr, when set, fails every Open call.
	OpenErr error

	OpenCalls int
	Closed    bool
}

// NewFakeSession builds a session over the given folders.
func NewFakeSession(folders ...*FakeFolder) *FakeSession {
	s := &FakeSession{Folders: make(map[string]*FakeFolder, len(folders))}
	for _, f := range folders {
		s.Folders[f.FolderName] = f
	}
	return s
}

func (s *FakeSession) Open(ctx context.Context, folder string, mode mailbox.OpenMode) (mailbox.Folder, error) {
	s.OpenCalls++
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	f, ok := s.Folders[folder]
	if !ok {
		return nil, fmt.Errorf("no such folder %q", folder)
	}
	f.OpenMode = mode
	f.Closed = false
	return f, nil
}

func (s *FakeSession) Close(ctx context.Context) error {
	s.Closed = true
	return nil
}
