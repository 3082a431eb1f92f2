package decompose

import (
	"fmt"
	"regexp"

	"github.com/nhle/mailfeed/internal/mailbox"
)

// NamingStrategy selects which sources an attachment name may be resolved
// from, in precedence order.
type NamingStrategy int

const (
	// NameOnly uses the part's declared filename only.
	NameOnly NamingStrategy = iota

	// NameHeaders falls back to a name= parameter found on any header.
	NameHeaders

	// NameHeadersSubject additionally falls back to the subject line of
	// a nested message part.
	NameHeadersSubject
)

// UnnamedPlaceholder is assigned when no naming source applies.
const UnnamedPlaceholder = "Unnamed"

// ParseNamingStrategy maps a configuration string to a NamingStrategy.
// Unknown values fall back to NameOnly.
func ParseNamingStrategy(s string) NamingStrategy {
	switch s {
	case "name_headers":
		return NameHeaders
	case "name_headers_subject":
		return NameHeadersSubject
	default:
		return NameOnly
	}
}

// headerNameParam matches a name= parameter inside a raw header value.
var headerNameParam = regexp.MustCompile(`(?i)name="?([^";\r\n]+)"?`)

// candidateName resolves the pre-uniqueness name of one attachment
// candidate under the given strategy.
func candidateName(p *mailbox.Part, strategy NamingStrategy) string {
	if p.Filename != "" {
		return p.Filename
	}

	if strategy >= NameHeaders {
		for _, h := range p.Headers {
			if m := headerNameParam.FindStringSubmatch(h.Value); m != nil {
				return m[1]
			}
		}
	}

	if strategy >= NameHeadersSubject {
		if subject := p.EmbeddedSubject(); subject != "" {
			return subject
		}
	}

	return UnnamedPlaceholder
}

// resolveNames assigns each candidate a unique display name. Candidates are
// processed in document order; the first occurrence of a resolved name keeps
// it unchanged and repeats are suffixed "_<k>". A suffixed name can itself
// collide with an explicitly declared one, so every emitted name is
// registered and the suffix keeps bumping until the name is unused. The
// result is deterministic and independent of content.
func resolveNames(candidates []*mailbox.Part, strategy NamingStrategy) []Attachment {
	if len(candidates) == 0 {
		return nil
	}

	next := make(map[string]int, len(candidates))
	used := make(map[string]bool, len(candidates))
	out := make([]Attachment, 0, len(candidates))
	for _, p := range candidates {
		base := candidateName(p, strategy)
		name := base
		for k := next[base]; ; k++ {
			if k > 0 {
				name = fmt.Sprintf("%s_%d", base, k)
			}
			if !used[name] {
				next[base] = k + 1
				break
			}
		}
		used[name] = true
		out = append(out, Attachment{
			Name:      name,
			MediaType: p.MediaType,
			Data:      attachmentData(p),
		})
	}
	return out
}
