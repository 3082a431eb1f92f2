// Package criteria translates declarative retrieval constraints into a
// predicate evaluated locally against decoded message attributes and, when
// every term is representable, an equivalent IMAP search expression that can
// be pushed to the server.
package criteria

import (
	"regexp"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/nhle/mailfeed/internal/mailbox"
)

// FlagPolicy states how one mailbox flag constrains a match.
type FlagPolicy int

const (
	// Include imposes no constraint on the flag. This is the default.
	Include FlagPolicy = iota

	// Require matches only messages with the flag set.
	Require

	// Exclude matches only messages with the flag unset.
	Exclude
)

func (p FlagPolicy) String() string {
	switch p {
	case Require:
		return "require"
	case Exclude:
		return "exclude"
	default:
		return "include"
	}
}

// Criteria is a declarative set of retrieval constraints. Built once per
// retrieval operation; immutable afterwards.
type Criteria struct {
	Seen     FlagPolicy
	Answered FlagPolicy
	Deleted  FlagPolicy
	Recent   FlagPolicy

	// Subject and Sender, when non-nil, must match (unanchored) the
	// message subject and sender address respectively.
	Subject *regexp.Regexp
	Sender  *regexp.Regexp

	// Date bounds are inclusive; a zero time removes that half of the
	// constraint entirely.
	ReceivedSince time.Time
	ReceivedUntil time.Time
	SentSince     time.Time
	SentUntil     time.Time
}

// Predicate evaluates one message's decoded attributes locally.
type Predicate func(mailbox.Attributes) bool

// Compiled is the executable form of a Criteria.
type Compiled struct {
	// Predicate applies the full constraint set locally. Never nil.
	Predicate Predicate

	// Pushdown is the server-side equivalent of the criteria, or nil
	// when some term cannot be represented without approximation. An
	// unconstrained criteria compiles to an empty (match-all) expression,
	// never to a spurious flag term.
	Pushdown *imap.SearchCriteria

	// FlagsOnly is the reduced flag-term expression used for the single
	// retry after a remote search failure. Nil when no flag is
	// constrained or the flag terms are not representable.
	FlagsOnly *imap.SearchCriteria
}

// Unrestricted reports whether the push-down expression exists and imposes
// no restriction at all.
func (c Compiled) Unrestricted() bool {
	return c.Pushdown != nil && searchCriteriaEmpty(c.Pushdown)
}

// Compile derives the local predicate and, when representable, the
// push-down search expression from c.
func Compile(c Criteria) Compiled {
	compiled := Compiled{Predicate: buildPredicate(c)}

	flags, flagsOK := buildFlagTerms(c)
	if flagsOK && anyFlagConstrained(c) {
		flagsOnly := flags
		compiled.FlagsOnly = &flagsOnly
	}

	pushdown, ok := buildPushdown(c, flags, flagsOK)
	if ok {
		compiled.Pushdown = pushdown
	}

	return compiled
}

// buildPredicate ANDs every configured constraint into one local check.
func buildPredicate(c Criteria) Predicate {
	return func(att mailbox.Attributes) bool {
		if !flagSatisfies(c.Seen, att.Flags.Seen) ||
			!flagSatisfies(c.Answered, att.Flags.Answered) ||
			!flagSatisfies(c.Deleted, att.Flags.Deleted) ||
			!flagSatisfies(c.Recent, att.Flags.Recent) {
			return false
		}
		if c.Subject != nil && !c.Subject.MatchString(att.Subject) {
			return false
		}
		if c.Sender != nil && !c.Sender.MatchString(att.From) {
			return false
		}
		if !withinBounds(att.ReceivedDate, c.ReceivedSince, c.ReceivedUntil) {
			return false
		}
		if !withinBounds(att.SentDate, c.SentSince, c.SentUntil) {
			return false
		}
		return true
	}
}

func flagSatisfies(policy FlagPolicy, set bool) bool {
	switch policy {
	case Require:
		return set
	case Exclude:
		return !set
	default:
		return true
	}
}

// withinBounds checks t against inclusive [since, until]; a zero bound is
// unconstrained.
func withinBounds(t, since, until time.Time) bool {
	if !since.IsZero() && t.Before(since) {
		return false
	}
	if !until.IsZero() && t.After(until) {
		return false
	}
	return true
}

func anyFlagConstrained(c Criteria) bool {
	return c.Seen != Include || c.Answered != Include ||
		c.Deleted != Include || c.Recent != Include
}

// buildFlagTerms maps flag policies onto IMAP flag terms. The recent flag
// has no IMAP4rev2 search key, so constraining it makes the flag terms
// unrepresentable. All-Include policies yield an empty term set, never an
// OR of all flags.
func buildFlagTerms(c Criteria) (imap.SearchCriteria, bool) {
	var out imap.SearchCriteria
	if c.Recent != Include {
		return out, false
	}
	for _, entry := range []struct {
		policy FlagPolicy
		flag   imap.Flag
	}{
		{c.Seen, imap.FlagSeen},
		{c.Answered, imap.FlagAnswered},
		{c.Deleted, imap.FlagDeleted},
	} {
		switch entry.policy {
		case Require:
			out.Flag = append(out.Flag, entry.flag)
		case Exclude:
			out.NotFlag = append(out.NotFlag, entry.flag)
		}
	}
	return out, true
}

// buildPushdown assembles the full server-side expression. Date bounds are
// widened to IMAP day granularity, which can only over-select; the local
// predicate enforces the exact bounds. A regex term is representable only
// when its pattern is a plain literal, in which case it maps to the
// protocol's substring header match. Any unrepresentable term omits the
// push-down entirely.
func buildPushdown(c Criteria, flags imap.SearchCriteria, flagsOK bool) (*imap.SearchCriteria, bool) {
	if !flagsOK {
		return nil, false
	}

	out := flags

	if c.Subject != nil {
		literal, ok := literalPattern(c.Subject)
		if !ok {
			return nil, false
		}
		out.Header = append(out.Header, imap.SearchCriteriaHeaderField{
			Key: "Subject", Value: literal,
		})
	}
	if c.Sender != nil {
		literal, ok := literalPattern(c.Sender)
		if !ok {
			return nil, false
		}
		out.Header = append(out.Header, imap.SearchCriteriaHeaderField{
			Key: "From", Value: literal,
		})
	}

	if !c.ReceivedSince.IsZero() {
		out.Since = dateOf(c.ReceivedSince)
	}
	if !c.ReceivedUntil.IsZero() {
		out.Before = dateOf(c.ReceivedUntil).AddDate(0, 0, 1)
	}
	if !c.SentSince.IsZero() {
		out.SentSince = dateOf(c.SentSince)
	}
	if !c.SentUntil.IsZero() {
		out.SentBefore = dateOf(c.SentUntil).AddDate(0, 0, 1)
	}

	return &out, true
}

// literalPattern returns the regex source when it contains no regex
// metacharacters, so an unanchored match degenerates to a substring test.
func literalPattern(re *regexp.Regexp) (string, bool) {
	src := re.String()
	if regexp.QuoteMeta(src) != src {
		return "", false
	}
	return src, true
}

func dateOf(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func searchCriteriaEmpty(c *imap.SearchCriteria) bool {
	return len(c.Flag) == 0 && len(c.NotFlag) == 0 &&
		len(c.Header) == 0 && len(c.Body) == 0 && len(c.Text) == 0 &&
		len(c.Not) == 0 && len(c.Or) == 0 &&
		c.Since.IsZero() && c.Before.IsZero() &&
		c.SentSince.IsZero() && c.SentBefore.IsZero() &&
		len(c.SeqNum) == 0 && len(c.UID) == 0 &&
		c.Larger == 0 && c.Smaller == 0
}
