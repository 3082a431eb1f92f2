package imap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailfeed/internal/decompose"
)

func crlf(lines ...string) []byte {
	return []byte(strings.Join(lines, "\r\n") + "\r\n")
}

func TestParseMessagePlainText(t *testing.T) {
	raw := crlf(
		"From: alice@example.test",
		"Subject: greetings",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"hello there",
	)

	root, err := parseMessage(raw)
	require.NoError(t, err)

	assert.Equal(t, "text/plain", root.MediaType)
	assert.Equal(t, "hello there", strings.TrimRight(root.Text, "\r\n"))
	assert.Equal(t, "greetings", root.HeaderValue("Subject"))
	assert.Nil(t, root.Subparts)
}

func TestParseMessageMissingContentTypeDefaultsToPlain(t *testing.T) {
	raw := crlf(
		"From: alice@example.test",
		"",
		"implicit plain text",
	)

	root, err := parseMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", root.MediaType)
}

func TestParseMessageMultipartMixed(t *testing.T) {
	raw := crlf(
		"From: alice@example.test",
		"Subject: with attachment",
		`Content-Type: multipart/mixed; boundary="frontier"`,
		"",
		"--frontier",
		"Content-Type: text/plain",
		"",
		"see attached",
		"--frontier",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="doc.pdf"`,
		"Content-Transfer-Encoding: base64",
		"",
		"UERGMQ==",
		"--frontier--",
	)

	root, err := parseMessage(raw)
	require.NoError(t, err)

	assert.Equal(t, "multipart/mixed", root.MediaType)
	require.Len(t, root.Subparts, 2)

	body := root.Subparts[0]
	assert.Equal(t, "text/plain", body.MediaType)
	assert.Equal(t, "see attached", strings.TrimRight(body.Text, "\r\n"))

	att := root.Subparts[1]
	assert.Equal(t, "application/pdf", att.MediaType)
	assert.Equal(t, "attachment", att.Disposition)
	assert.Equal(t, "doc.pdf", att.Filename)
	// Transfer encoding is undone during the eager read.
	assert.Equal(t, []byte("PDF1"), att.Data)
}

func TestParseMessageEmbeddedMessage(t *testing.T) {
	raw := crlf(
		"From: alice@example.test",
		`Content-Type: multipart/mixed; boundary="outer"`,
		"",
		"--outer",
		"Content-Type: text/plain",
		"",
		"forwarding this",
		"--outer",
		"Content-Type: message/rfc822",
		"",
		"From: bob@example.test",
		"Subject: original report",
		"Content-Type: text/plain",
		"",
		"original body",
		"--outer--",
	)

	root, err := parseMessage(raw)
	require.NoError(t, err)
	require.Len(t, root.Subparts, 2)

	nested := root.Subparts[1]
	assert.Equal(t, "message/rfc822", nested.MediaType)
	require.NotNil(t, nested.Embedded)
	assert.Equal(t, "original report", nested.EmbeddedSubject())
}

func TestParseMessageFeedsDecomposition(t *testing.T) {
	raw := crlf(
		"From: alice@example.test",
		`Content-Type: multipart/alternative; boundary="alt"`,
		"",
		"--alt",
		"Content-Type: text/plain",
		"",
		"plain body",
		"--alt",
		"Content-Type: text/html",
		"",
		"<p>html body</p>",
		"--alt--",
	)

	root, err := parseMessage(raw)
	require.NoError(t, err)

	msg := decompose.Assemble(root, decompose.Options{})
	assert.Contains(t, msg.Body, "plain body")
	assert.Contains(t, msg.Body, "<p>html body</p>")
	assert.Equal(t, "text/plain", msg.BodyMediaType)
	assert.Empty(t, msg.Attachments)
}
