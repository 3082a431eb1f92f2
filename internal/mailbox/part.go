package mailbox

import "strings"

// Header is a single raw message header, preserved in declaration order.
type Header struct {
	Key   string
	Value string
}

// Part is one node of a message's MIME tree. It is a plain data record built
// by a protocol adapter; the retrieval pipeline only reads it. Leaf content
// is buffered eagerly so it stays valid after the underlying folder or
// network stream is closed.
type Part struct {
	// MediaType is the lowercased media type, e.g. "multipart/mixed"
	// or "text/plain".
	MediaType string

	// Params holds the Content-Type parameters (charset, boundary, name).
	Params map[string]string

	// Disposition is "inline", "attachment", or "" when the part carries
	// no Content-Disposition header.
	Disposition string

	// Filename is the declared filename from the Content-Disposition
	// parameters, or "" when absent.
	Filename string

	// Headers is the ordered raw header list of this part.
	Headers []Header

	// Subparts holds the child parts of a multipart container, in
	// document order. Nil for leaves.
	Subparts []*Part

	// Embedded is the parsed root of a nested message/rfc822 payload,
	// or nil.
	Embedded *Part

	// Text is the decoded text content of a text/* leaf.
	Text string

	// Data is the decoded byte content of a leaf, buffered eagerly.
	Data []byte

	// DecodeErr records a failure to decode this leaf's content. The
	// part still participates in attachment collection when Data could
	// be recovered.
	DecodeErr error
}

// IsMultipart reports whether the part is a multipart container.
func (p *Part) IsMultipart() bool {
	return strings.HasPrefix(p.MediaType, "multipart/")
}

// Is reports whether the part's media type equals mediaType
// (case-insensitive; parameters are not considered).
func (p *Part) Is(mediaType string) bool {
	return p.MediaType == strings.ToLower(mediaType)
}

// HeaderValue returns the first header value for key (case-insensitive),
// or "" when the header is absent.
func (p *Part) HeaderValue(key string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Key, key) {
			return h.Value
		}
	}
	return ""
}

// EmbeddedSubject returns the subject line of a nested message/rfc822
// payload, or "" when the part does not embed a message.
func (p *Part) EmbeddedSubject() string {
	if p.Embedded == nil {
		return ""
	}
	return strings.TrimSpace(p.Embedded.HeaderValue("Subject"))
}
