package criteria

import (
	"regexp"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailfeed/internal/mailbox"
)

func TestCompileUnconstrained(t *testing.T) {
	compiled := Compile(Criteria{})

	assert.True(t, compiled.Predicate(mailbox.Attributes{}))
	assert.True(t, compiled.Predicate(mailbox.Attributes{
		Flags: mailbox.Flags{Seen: true, Answered: true},
	}))

	// An unconstrained criteria pushes down a match-all expression, not
	// a flag disjunction.
	require.NotNil(t, compiled.Pushdown)
	assert.True(t, compiled.Unrestricted())
	assert.Nil(t, compiled.FlagsOnly)
}

func TestPredicateFlagPolicies(t *testing.T) {
	tests := []struct {
		name string
		crit Criteria
		att  mailbox.Attributes
		want bool
	}{
		{"require seen, message seen", Criteria{Seen: Require},
			mailbox.Attributes{Flags: mailbox.Flags{Seen: true}}, true},
		{"require seen, message unseen", Criteria{Seen: Require},
			mailbox.Attributes{}, false},
		{"exclude seen, message seen", Criteria{Seen: Exclude},
			mailbox.Attributes{Flags: mailbox.Flags{Seen: true}}, false},
		{"exclude seen, message unseen", Criteria{Seen: Exclude},
			mailbox.Attributes{}, true},
		{"include is unconstrained", Criteria{},
			mailbox.Attributes{Flags: mailbox.Flags{Deleted: true}}, true},
		{"require recent locally", Criteria{Recent: Require},
			mailbox.Attributes{Flags: mailbox.Flags{Recent: true}}, true},
		{"policies combine conjunctively", Criteria{Seen: Require, Answered: Exclude},
			mailbox.Attributes{Flags: mailbox.Flags{Seen: true, Answered: true}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Compile(tt.crit).Predicate(tt.att))
		})
	}
}

func TestFlagPushdownMapping(t *testing.T) {
	compiled := Compile(Criteria{Seen: Require, Answered: Exclude})

	require.NotNil(t, compiled.Pushdown)
	assert.Equal(t, []imap.Flag{imap.FlagSeen}, compiled.Pushdown.Flag)
	assert.Equal(t, []imap.Flag{imap.FlagAnswered}, compiled.Pushdown.NotFlag)

	require.NotNil(t, compiled.FlagsOnly)
	assert.Equal(t, []imap.Flag{imap.FlagSeen}, compiled.FlagsOnly.Flag)
}

func TestRecentConstraintOmitsPushdown(t *testing.T) {
	// The recent flag has no search key; rather than approximate, the
	// whole push-down is omitted and filtering stays local.
	compiled := Compile(Criteria{Recent: Exclude, Seen: Require})

	assert.Nil(t, compiled.Pushdown)
	assert.Nil(t, compiled.FlagsOnly)
	assert.False(t, compiled.Predicate(mailbox.Attributes{
		Flags: mailbox.Flags{Seen: true, Recent: true},
	}))
	assert.True(t, compiled.Predicate(mailbox.Attributes{
		Flags: mailbox.Flags{Seen: true},
	}))
}

func TestLiteralRegexPushedDownAsSubstring(t *testing.T) {
	compiled := Compile(Criteria{Subject: regexp.MustCompile("invoice")})

	require.NotNil(t, compiled.Pushdown)
	require.Len(t, compiled.Pushdown.Header, 1)
	assert.Equal(t, "Subject", compiled.Pushdown.Header[0].Key)
	assert.Equal(t, "invoice", compiled.Pushdown.Header[0].Value)
}

func TestNonLiteralRegexOmitsPushdown(t *testing.T) {
	compiled := Compile(Criteria{
		Seen:   Exclude,
		Sender: regexp.MustCompile(`.*@example\.org`),
	})

	assert.Nil(t, compiled.Pushdown)
	// The flag terms alone are still representable for the retry path.
	require.NotNil(t, compiled.FlagsOnly)
	assert.Equal(t, []imap.Flag{imap.FlagSeen}, compiled.FlagsOnly.NotFlag)

	assert.True(t, compiled.Predicate(mailbox.Attributes{From: "a@example.org"}))
	assert.False(t, compiled.Predicate(mailbox.Attributes{From: "a@example.com"}))
}

func TestDateBoundsInclusiveLocallyWidenedRemotely(t *testing.T) {
	since := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	until := time.Date(2026, 3, 12, 9, 0, 0, 0, time.UTC)
	compiled := Compile(Criteria{ReceivedSince: since, ReceivedUntil: until})

	// Local bounds are exact and inclusive.
	at := func(t time.Time) mailbox.Attributes { return mailbox.Attributes{ReceivedDate: t} }
	assert.True(t, compiled.Predicate(at(since)))
	assert.True(t, compiled.Predicate(at(until)))
	assert.False(t, compiled.Predicate(at(since.Add(-time.Second))))
	assert.False(t, compiled.Predicate(at(until.Add(time.Second))))

	// Push-down widens to day granularity: since truncates down, until
	// becomes an exclusive before on the following midnight.
	require.NotNil(t, compiled.Pushdown)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC), compiled.Pushdown.Since)
	assert.Equal(t, time.Date(2026, 3, 13, 0, 0, 0, 0, time.UTC), compiled.Pushdown.Before)
}

func TestSentDateBounds(t *testing.T) {
	since := time.Date(2026, 1, 5, 23, 0, 0, 0, time.UTC)
	compiled := Compile(Criteria{SentSince: since})

	assert.False(t, compiled.Predicate(mailbox.Attributes{
		SentDate: since.Add(-time.Hour),
	}))
	require.NotNil(t, compiled.Pushdown)
	assert.Equal(t, time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), compiled.Pushdown.SentSince)
	assert.True(t, compiled.Pushdown.SentBefore.IsZero())
}

func TestSubjectAndSenderUnanchored(t *testing.T) {
	compiled := Compile(Criteria{
		Subject: regexp.MustCompile("report"),
		Sender:  regexp.MustCompile("billing"),
	})

	assert.True(t, compiled.Predicate(mailbox.Attributes{
		Subject: "Weekly report Q1",
		From:    "billing@corp.test",
	}))
	assert.False(t, compiled.Predicate(mailbox.Attributes{
		Subject: "Weekly report Q1",
		From:    "noreply@corp.test",
	}))
}
