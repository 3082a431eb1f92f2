package decompose

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailfeed/internal/mailbox"
)

func textPart(mediaType, text string) *mailbox.Part {
	return &mailbox.Part{MediaType: mediaType, Text: text, Data: []byte(text)}
}

func filePart(mediaType, filename string, data []byte) *mailbox.Part {
	return &mailbox.Part{
		MediaType:   mediaType,
		Disposition: "attachment",
		Filename:    filename,
		Data:        data,
	}
}

func TestAssembleSingleTextLeaf(t *testing.T) {
	msg := Assemble(textPart("text/plain", "hello"), Options{})

	assert.Equal(t, "hello", msg.Body)
	assert.Equal(t, "text/plain", msg.BodyMediaType)
	assert.Empty(t, msg.Attachments)
}

func TestAssembleAlternativeJoinsAllRepresentations(t *testing.T) {
	root := &mailbox.Part{
		MediaType: "multipart/alternative",
		Subparts: []*mailbox.Part{
			textPart("text/plain", "plain version"),
			textPart("text/html", "<p>html version</p>"),
		},
	}

	msg := Assemble(root, Options{})

	assert.Equal(t, "plain version\n<p>html version</p>", msg.Body)
	assert.Equal(t, "text/plain", msg.BodyMediaType)
	assert.Empty(t, msg.Attachments)
}

func TestAssembleRelatedKeepsFirstChildAsBody(t *testing.T) {
	root := &mailbox.Part{
		MediaType: "multipart/related",
		Subparts: []*mailbox.Part{
			textPart("text/html", "<img src=cid:logo>"),
			{MediaType: "image/png", Disposition: "inline", Filename: "logo.png", Data: []byte{1, 2}},
			{MediaType: "image/gif", Data: []byte{3}},
		},
	}

	msg := Assemble(root, Options{})

	assert.Equal(t, "<img src=cid:logo>", msg.Body)
	assert.Equal(t, "text/html", msg.BodyMediaType)
	// Everything after the first child is an attachment, disposition or not.
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, "logo.png", msg.Attachments[0].Name)
	assert.Equal(t, UnnamedPlaceholder, msg.Attachments[1].Name)
}

func TestAssembleMixedPicksFirstNonAttachmentChild(t *testing.T) {
	root := &mailbox.Part{
		MediaType: "multipart/mixed",
		Subparts: []*mailbox.Part{
			filePart("application/pdf", "report.pdf", []byte("pdf")),
			textPart("text/plain", "see attached"),
			filePart("application/zip", "data.zip", []byte("zip")),
		},
	}

	msg := Assemble(root, Options{})

	assert.Equal(t, "see attached", msg.Body)
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, "report.pdf", msg.Attachments[0].Name)
	assert.Equal(t, "data.zip", msg.Attachments[1].Name)
}

func TestAssembleMixedAllAttachmentsLeavesBodyEmpty(t *testing.T) {
	root := &mailbox.Part{
		MediaType: "multipart/mixed",
		Subparts: []*mailbox.Part{
			filePart("application/pdf", "a.pdf", []byte("a")),
			filePart("application/pdf", "b.pdf", []byte("b")),
		},
	}

	msg := Assemble(root, Options{})

	assert.Empty(t, msg.Body)
	assert.Equal(t, "text/plain", msg.BodyMediaType)
	assert.Len(t, msg.Attachments, 2)
}

func TestAssembleNestedMultipart(t *testing.T) {
	root := &mailbox.Part{
		MediaType: "multipart/mixed",
		Subparts: []*mailbox.Part{
			{
				MediaType: "multipart/alternative",
				Subparts: []*mailbox.Part{
					textPart("text/plain", "plain"),
					textPart("text/html", "<b>html</b>"),
				},
			},
			filePart("image/jpeg", "photo.jpg", []byte("jpg")),
		},
	}

	msg := Assemble(root, Options{})

	assert.Equal(t, "plain\n<b>html</b>", msg.Body)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "photo.jpg", msg.Attachments[0].Name)
}

func TestAssembleTextAttachmentDispositionDefault(t *testing.T) {
	// A text leaf with an attachment disposition stays body text unless
	// TreatTextAsAttachment is set.
	root := &mailbox.Part{
		MediaType: "multipart/mixed",
		Subparts: []*mailbox.Part{
			textPart("text/plain", "body"),
			{
				MediaType:   "text/csv",
				Disposition: "attachment",
				Filename:    "rows.csv",
				Text:        "a,b",
				Data:        []byte("a,b"),
			},
		},
	}

	msg := Assemble(root, Options{})
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "rows.csv", msg.Attachments[0].Name)

	// The csv is the second child, so mixed classification already made
	// it an attachment; the option matters for a csv leaf reached as a
	// body candidate.
	deep := Assemble(&mailbox.Part{
		MediaType:   "text/csv",
		Disposition: "attachment",
		Text:        "a,b",
	}, Options{})
	assert.Equal(t, "a,b", deep.Body)
	assert.Empty(t, deep.Attachments)

	asAttachment := Assemble(&mailbox.Part{
		MediaType:   "text/csv",
		Disposition: "attachment",
		Filename:    "rows.csv",
		Text:        "a,b",
	}, Options{TreatTextAsAttachment: true})
	assert.Empty(t, asAttachment.Body)
	require.Len(t, asAttachment.Attachments, 1)
	assert.Equal(t, []byte("a,b"), asAttachment.Attachments[0].Data)
}

func TestAssembleUndecodableBodyPartSkipped(t *testing.T) {
	root := &mailbox.Part{
		MediaType: "multipart/alternative",
		Subparts: []*mailbox.Part{
			{MediaType: "text/plain", DecodeErr: errors.New("bad charset")},
			textPart("text/html", "<p>ok</p>"),
		},
	}

	msg := Assemble(root, Options{})

	assert.Equal(t, "<p>ok</p>", msg.Body)
	assert.Equal(t, "text/html", msg.BodyMediaType)
}

func TestNameCollisionsSuffixed(t *testing.T) {
	root := &mailbox.Part{
		MediaType: "multipart/mixed",
		Subparts: []*mailbox.Part{
			textPart("text/plain", "body"),
			filePart("application/json", "a.json", []byte("1")),
			filePart("application/json", "a.json", []byte("2")),
			filePart("application/json", "a.json", []byte("3")),
		},
	}

	msg := Assemble(root, Options{})

	require.Len(t, msg.Attachments, 3)
	assert.Equal(t, "a.json", msg.Attachments[0].Name)
	assert.Equal(t, "a.json_1", msg.Attachments[1].Name)
	assert.Equal(t, "a.json_2", msg.Attachments[2].Name)
	assert.Equal(t, []byte("2"), msg.Attachment("a.json_1").Data)
}

func TestNameCollisionWithDeclaredSuffixName(t *testing.T) {
	// A declared filename can look like a generated suffix; the resolver
	// must not emit it a second time for a colliding repeat.
	root := &mailbox.Part{
		MediaType: "multipart/mixed",
		Subparts: []*mailbox.Part{
			textPart("text/plain", "body"),
			filePart("application/json", "a.json", []byte("1")),
			filePart("application/json", "a.json_1", []byte("2")),
			filePart("application/json", "a.json", []byte("3")),
		},
	}

	msg := Assemble(root, Options{})

	require.Len(t, msg.Attachments, 3)
	names := make(map[string]bool)
	for _, att := range msg.Attachments {
		assert.False(t, names[att.Name], "duplicate attachment name %q", att.Name)
		names[att.Name] = true
	}
	assert.Equal(t, "a.json", msg.Attachments[0].Name)
	assert.Equal(t, "a.json_1", msg.Attachments[1].Name)
	assert.Equal(t, "a.json_2", msg.Attachments[2].Name)
	assert.Equal(t, []byte("3"), msg.Attachment("a.json_2").Data)
}

func TestNamingStrategies(t *testing.T) {
	unnamed := &mailbox.Part{
		MediaType: "application/octet-stream",
		Headers: []mailbox.Header{
			{Key: "Content-Type", Value: `application/octet-stream; name="from-header.bin"`},
		},
		Data: []byte("x"),
	}
	embedded := &mailbox.Part{
		MediaType: "message/rfc822",
		Embedded: &mailbox.Part{
			MediaType: "text/plain",
			Headers:   []mailbox.Header{{Key: "Subject", Value: "Forwarded report"}},
		},
		Data: []byte("raw"),
	}

	tests := []struct {
		name     string
		strategy NamingStrategy
		part     *mailbox.Part
		want     string
	}{
		{"name only ignores headers", NameOnly, unnamed, UnnamedPlaceholder},
		{"headers strategy reads name param", NameHeaders, unnamed, "from-header.bin"},
		{"headers strategy ignores subject", NameHeaders, embedded, UnnamedPlaceholder},
		{"subject strategy uses embedded subject", NameHeadersSubject, embedded, "Forwarded report"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := &mailbox.Part{
				MediaType: "multipart/mixed",
				Subparts:  []*mailbox.Part{textPart("text/plain", "body"), tt.part},
			}
			msg := Assemble(root, Options{Naming: tt.strategy})
			require.Len(t, msg.Attachments, 1)
			assert.Equal(t, tt.want, msg.Attachments[0].Name)
		})
	}
}

func TestDeclaredFilenameWinsOverHeaders(t *testing.T) {
	part := &mailbox.Part{
		MediaType: "application/pdf",
		Filename:  "declared.pdf",
		Headers: []mailbox.Header{
			{Key: "Content-Type", Value: `application/pdf; name="other.pdf"`},
		},
		Data: []byte("pdf"),
	}
	root := &mailbox.Part{
		MediaType: "multipart/mixed",
		Subparts:  []*mailbox.Part{textPart("text/plain", "body"), part},
	}

	msg := Assemble(root, Options{Naming: NameHeadersSubject})
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "declared.pdf", msg.Attachments[0].Name)
}

func TestParseNamingStrategy(t *testing.T) {
	assert.Equal(t, NameOnly, ParseNamingStrategy("name"))
	assert.Equal(t, NameHeaders, ParseNamingStrategy("name_headers"))
	assert.Equal(t, NameHeadersSubject, ParseNamingStrategy("name_headers_subject"))
	assert.Equal(t, NameOnly, ParseNamingStrategy("bogus"))
}
