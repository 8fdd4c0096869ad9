package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskforge/tradeterm/internal/domain"
)

func TestDriftSentinelDetectsForeignAccount(t *testing.T) {
	s := NewDriftSentinel("Acct1")
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	active := domain.Context{Mode: domain.ModeSim, Account: "Sim90"}

	event, drifted := s.Check(active, "Acct1", "order_update")
	require.True(t, drifted)
	assert.Equal(t, active, event.Expected)
	assert.Equal(t, domain.ModeLive, event.Observed.Mode)
	assert.Equal(t, "Acct1", event.Observed.Account)
	assert.Equal(t, "order_update", event.MessageKind)
	assert.Equal(t, s.now(), event.Timestamp)
}

func TestDriftSentinelQuietCases(t *testing.T) {
	s := NewDriftSentinel("Acct1")
	active := domain.Context{Mode: domain.ModeLive, Account: "Acct1"}

	_, drifted := s.Check(active, "Acct1", "order_update")
	assert.False(t, drifted, "matching tag must not drift")

	_, drifted = s.Check(active, "", "market_data")
	assert.False(t, drifted, "untagged messages must not drift")

	_, drifted = s.Check(domain.Context{}, "Sim90", "position_update")
	assert.False(t, drifted, "no committed context means nothing to drift from")
}

// Only the account decides drift. A committed context whose mode disagrees
// with the tag's natural classification must stay quiet for its own account.
func TestDriftSentinelComparesAccountNotMode(t *testing.T) {
	s := NewDriftSentinel("Acct1")
	active := domain.Context{Mode: domain.ModeSim, Account: "AcctX"}

	_, drifted := s.Check(active, "AcctX", "order_update")
	assert.False(t, drifted, "same account must not drift regardless of mode classification")

	_, drifted = s.Check(active, "AcctY", "order_update")
	assert.True(t, drifted, "a different account still drifts")
}
