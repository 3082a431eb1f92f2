package imap

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	gomessage "github.com/emersion/go-message"
	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/nhle/mailfeed/internal/mailbox"
)

func init() {
	// GBK is common on QQ/163 mailboxes but not in go-message's default
	// charset table; without it decoding fails with "unhandled charset".
	charset.RegisterEncoding("gbk", simplifiedchinese.GBK)
}

// parseMessage parses a raw RFC 5322 message into a part tree with all leaf
// content decoded and buffered. Unknown charsets are tolerated; the content
// is then read undecoded.
func parseMessage(raw []byte) (*mailbox.Part, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parsing message: %w", err)
	}
	return buildPart(entity), nil
}

// buildPart converts one go-message entity into a mailbox.Part, recursing
// into multipart containers and nested message/* payloads. Content is read
// eagerly: the underlying stream is read-once and must survive folder
// closure.
func buildPart(e *gomessage.Entity) *mailbox.Part {
	mediaType, params, err := e.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}
	disposition, dispParams, _ := e.Header.ContentDisposition()

	p := &mailbox.Part{
		MediaType:   strings.ToLower(mediaType),
		Params:      params,
		Disposition: strings.ToLower(disposition),
		Filename:    dispParams["filename"],
	}

	fields := e.Header.Fields()
	for fields.Next() {
		p.Headers = append(p.Headers, mailbox.Header{
			Key:   fields.Key(),
			Value: fields.Value(),
		})
	}

	if mr := e.MultipartReader(); mr != nil {
		for {
			child, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				if gomessage.IsUnknownCharset(err) {
					continue
				}
				p.DecodeErr = err
				break
			}
			p.Subparts = append(p.Subparts, buildPart(child))
		}
		return p
	}

	data, err := io.ReadAll(e.Body)
	if err != nil {
		p.DecodeErr = err
		return p
	}
	p.Data = data

	switch {
	case strings.HasPrefix(p.MediaType, "text/"):
		p.Text = string(data)
	case strings.HasPrefix(p.MediaType, "message/"):
		nested, err := gomessage.Read(bytes.NewReader(data))
		if err == nil || gomessage.IsUnknownCharset(err) {
			p.Embedded = buildPart(nested)
		}
	}
	return p
}
