package session

import (
	"time"

	"github.com/deskforge/tradeterm/internal/domain"
)

// DriftSentinel compares the account tag of inbound messages against the
// believed active context. Detection is diagnostic, never blocking: the
// message is always processed normally, because suppressing legitimate data
// on a suspected mismatch is worse than a delayed operator warning.
type DriftSentinel struct {
	liveAccount string
	now         func() time.Time
}

// NewDriftSentinel creates a sentinel. liveAccount is the configured
// real-money account used to classify observed tags.
func NewDriftSentinel(liveAccount string) *DriftSentinel {
	return &DriftSentinel{liveAccount: liveAccount, now: time.Now}
}

// Check inspects one inbound account tag. It returns a drift event and true
// when the tag names an account other than the active one. Messages with no
// account tag and sessions with no committed context never drift. Only the
// account is compared: the mode classification of the observed tag is
// advisory context for the operator, so a committed context whose mode
// disagrees with the tag's natural classification does not alarm on every
// message from its own account.
func (s *DriftSentinel) Check(active domain.Context, account, messageKind string) (domain.DriftEvent, bool) {
	if account == "" || active.Zero() {
		return domain.DriftEvent{}, false
	}
	if account == active.Account {
		return domain.DriftEvent{}, false
	}
	observed := domain.Context{Mode: domain.DetectMode(account, s.liveAccount), Account: account}
	return domain.DriftEvent{
		Expected:    active,
		Observed:    observed,
		MessageKind: messageKind,
		Timestamp:   s.now().UTC(),
	}, true
}
