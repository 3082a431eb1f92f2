// Package decompose assembles one mail message's part tree into a normalized
// result: concatenated body text plus an ordered, uniquely named attachment
// set, ready for downstream consumption.
package decompose

import (
	"strings"

	"github.com/nhle/mailfeed/internal/mailbox"
)

const defaultBodyMediaType = "text/plain"

// Options configures assembly behavior.
type Options struct {
	// Naming selects the attachment name resolution strategy.
	Naming NamingStrategy

	// TreatTextAsAttachment controls how a text leaf carrying an
	// attachment disposition is classified. The default keeps it as body
	// text.
	TreatTextAsAttachment bool
}

// Attachment is one named non-body part with its buffered content.
type Attachment struct {
	Name      string
	MediaType string
	Data      []byte
}

// Message is the normalized form of one decomposed mail message.
// Attachment names are pairwise unique within the message.
type Message struct {
	Body          string
	BodyMediaType string
	Attachments   []Attachment
}

// Attachment returns the attachment with the given resolved name, or nil.
func (m *Message) Attachment(name string) *Attachment {
	for i := range m.Attachments {
		if m.Attachments[i].Name == name {
			return &m.Attachments[i]
		}
	}
	return nil
}

// Assemble decomposes the message rooted at root. Parts that cannot be
// decoded contribute nothing to the body; attachment content is taken from
// the adapter's eager buffer, so a failed body decode does not drop an
// attachment whose bytes were recovered.
func Assemble(root *mailbox.Part, opts Options) *Message {
	w := &walker{opts: opts}
	w.walk(root)

	msg := &Message{
		Body:          strings.Join(w.segments, "\n"),
		BodyMediaType: w.bodyMediaType,
	}
	if msg.BodyMediaType == "" {
		msg.BodyMediaType = defaultBodyMediaType
	}
	msg.Attachments = resolveNames(w.candidates, opts.Naming)
	return msg
}

// walker accumulates body segments and attachment candidates during the
// depth-first classification walk.
type walker struct {
	opts          Options
	segments      []string
	bodyMediaType string
	candidates    []*mailbox.Part
}

// walk classifies one part. Multipart containers recurse; the container
// kind decides which children are body candidates and which become
// attachments regardless of their own disposition.
func (w *walker) walk(p *mailbox.Part) {
	if p == nil {
		return
	}

	switch {
	case p.Is("multipart/alternative"):
		// Every alternative is a body candidate; all representations
		// are kept, separated by newlines, so downstream parsers see
		// both the plain-text and the HTML rendition.
		for _, child := range p.Subparts {
			w.walk(child)
		}

	case p.Is("multipart/related"):
		// The first child is the primary part; the rest are referenced
		// by it (inline images and the like) and are collected as
		// attachments no matter what their disposition says.
		if len(p.Subparts) == 0 {
			return
		}
		w.walk(p.Subparts[0])
		for _, child := range p.Subparts[1:] {
			w.collect(child)
		}

	case p.IsMultipart():
		// Mixed (or unknown) multipart: the first child not declared
		// as an attachment is the single body candidate. Everything
		// else is an attachment. When every child is attachment-
		// dispositioned the body stays empty.
		bodyIdx := -1
		for i, child := range p.Subparts {
			if child.Disposition != "attachment" {
				bodyIdx = i
				break
			}
		}
		for i, child := range p.Subparts {
			if i == bodyIdx {
				w.walk(child)
			} else {
				w.collect(child)
			}
		}

	case strings.HasPrefix(p.MediaType, "text/"):
		if p.Disposition == "attachment" && w.opts.TreatTextAsAttachment {
			w.collect(p)
			return
		}
		if p.DecodeErr != nil {
			// Unreadable body part: skipped silently.
			return
		}
		w.segments = append(w.segments, p.Text)
		if w.bodyMediaType == "" {
			w.bodyMediaType = p.MediaType
		}

	default:
		w.collect(p)
	}
}

// collect earmarks a part as an attachment candidate.
func (w *walker) collect(p *mailbox.Part) {
	if p == nil {
		return
	}
	w.candidates = append(w.candidates, p)
}

// attachmentData returns the buffered content of an attachment candidate.
// Text leaves collected as attachments fall back to their decoded text.
func attachmentData(p *mailbox.Part) []byte {
	if p.Data != nil {
		return p.Data
	}
	if p.Text != "" {
		return []byte(p.Text)
	}
	return nil
}
