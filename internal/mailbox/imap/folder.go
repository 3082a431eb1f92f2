package imap

import (
	"context"
	"fmt"
	"sort"

	goimap "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"go.uber.org/zap"

	"github.com/nhle/mailfeed/internal/mailbox"
)

// IMAP4rev2 dropped \Recent; servers that still announce it do so with the
// legacy atom.
const flagRecent = goimap.Flag("\\Recent")

// folder implements mailbox.Folder over the session's selected mailbox.
type folder struct {
	session *Session
	name    string
	mode    mailbox.OpenMode
}

func (f *folder) Name() string           { return f.name }
func (f *folder) Mode() mailbox.OpenMode { return f.mode }

func (f *folder) Capabilities() mailbox.Capabilities {
	return mailbox.Capabilities{Search: true, Offset: true}
}

// Count issues a NOOP to pick up pending untagged EXISTS updates, then
// reads the tracked message count of the selected mailbox.
func (f *folder) Count(_ context.Context) (uint32, error) {
	if err := f.session.client.Noop().Wait(); err != nil {
		return 0, fmt.Errorf("refreshing folder state: %w", err)
	}
	selected := f.session.client.Mailbox()
	if selected == nil {
		return 0, fmt.Errorf("folder %s is no longer selected", f.name)
	}
	return selected.NumMessages, nil
}

// FetchRange fetches envelope, flags and internal date for the messages
// numbered [low, high], returned in ascending sequence-number order.
func (f *folder) FetchRange(_ context.Context, low, high uint32) ([]mailbox.Message, error) {
	var seqSet goimap.SeqSet
	seqSet.AddRange(low, high)

	fetchCmd := f.session.client.Fetch(seqSet, &goimap.FetchOptions{
		Envelope:     true,
		Flags:        true,
		InternalDate: true,
	})
	defer fetchCmd.Close()

	var out []mailbox.Message
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		buf, err := msg.Collect()
		if err != nil {
			continue
		}
		out = append(out, &message{
			folder: f,
			seqNum: buf.SeqNum,
			attrs:  attributesFromBuffer(buf),
		})
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching messages [%d,%d]: %w", low, high, err)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].SeqNum() < out[j].SeqNum()
	})
	return out, nil
}

// Search pushes the query to the server and returns matching sequence
// numbers.
func (f *folder) Search(_ context.Context, criteria *goimap.SearchCriteria) ([]uint32, error) {
	data, err := f.session.client.Search(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", f.name, err)
	}
	return data.AllSeqNums(), nil
}

// MarkDeleted sets the deleted flag on one message. Numbering does not
// shift until Close expunges.
func (f *folder) MarkDeleted(_ context.Context, seqNum uint32) error {
	seqSet := goimap.SeqSetNum(seqNum)
	cmd := f.session.client.Store(seqSet, &goimap.StoreFlags{
		Op:     goimap.StoreFlagsAdd,
		Silent: true,
		Flags:  []goimap.Flag{goimap.FlagDeleted},
	}, nil)
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("marking message %d deleted: %w", seqNum, err)
	}
	return nil
}

// Close releases the folder, expunging deleted messages first when
// requested on a read-write handle. Deselection failure is tolerated:
// selecting another folder later implicitly deselects this one.
func (f *folder) Close(_ context.Context, expunge bool) error {
	if expunge && f.mode == mailbox.ReadWrite {
		if err := f.session.client.Expunge().Close(); err != nil {
			return fmt.Errorf("expunging %s: %w", f.name, err)
		}
	}
	if err := f.session.client.Unselect().Wait(); err != nil {
		f.session.log.Debug("unselect failed", zap.Error(err))
	}
	return nil
}

// message implements mailbox.Message for one fetched IMAP message.
type message struct {
	folder *folder
	seqNum uint32
	attrs  mailbox.Attributes
}

func (m *message) SeqNum() uint32                 { return m.seqNum }
func (m *message) Attributes() mailbox.Attributes { return m.attrs }

// Refresh re-fetches the flag state; reading content flips the seen flag
// server-side, so the snapshot taken at window fetch time goes stale.
func (m *message) Refresh(_ context.Context) (mailbox.Attributes, error) {
	seqSet := goimap.SeqSetNum(m.seqNum)
	fetchCmd := m.folder.session.client.Fetch(seqSet, &goimap.FetchOptions{Flags: true})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return m.attrs, fmt.Errorf("message %d not found", m.seqNum)
	}
	buf, err := msg.Collect()
	if err != nil {
		return m.attrs, fmt.Errorf("collecting flags for message %d: %w", m.seqNum, err)
	}
	if err := fetchCmd.Close(); err != nil {
		return m.attrs, fmt.Errorf("refreshing message %d: %w", m.seqNum, err)
	}

	m.attrs.Flags = flagsFromList(buf.Flags)
	return m.attrs, nil
}

// Root fetches the full message body (without PEEK, so the server records
// the read) and parses it into a buffered part tree.
func (m *message) Root(_ context.Context) (*mailbox.Part, error) {
	bodySection := &goimap.FetchItemBodySection{}
	seqSet := goimap.SeqSetNum(m.seqNum)
	fetchCmd := m.folder.session.client.Fetch(seqSet, &goimap.FetchOptions{
		BodySection: []*goimap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message %d not found", m.seqNum)
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("collecting message %d body: %w", m.seqNum, err)
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, fmt.Errorf("fetching message %d body: %w", m.seqNum, err)
	}

	raw := buf.FindBodySection(bodySection)
	if raw == nil {
		return nil, fmt.Errorf("message %d has no body section", m.seqNum)
	}
	return parseMessage(raw)
}

// attributesFromBuffer decodes the local-filtering snapshot from a fetch
// response.
func attributesFromBuffer(buf *imapclient.FetchMessageBuffer) mailbox.Attributes {
	att := mailbox.Attributes{
		ReceivedDate: buf.InternalDate,
		Flags:        flagsFromList(buf.Flags),
	}
	if env := buf.Envelope; env != nil {
		att.Subject = env.Subject
		att.SentDate = env.Date
		if len(env.From) > 0 {
			att.From = env.From[0].Addr()
		}
	}
	if att.SentDate.IsZero() {
		att.SentDate = att.ReceivedDate
	}
	return att
}

func flagsFromList(flags []goimap.Flag) mailbox.Flags {
	var out mailbox.Flags
	for _, flag := range flags {
		switch flag {
		case goimap.FlagSeen:
			out.Seen = true
		case goimap.FlagAnswered:
			out.Answered = true
		case goimap.FlagDeleted:
			out.Deleted = true
		case flagRecent:
			out.Recent = true
		}
	}
	return out
}
