// Package recovery implements the reconnect resynchronization sequence: an
// ordered positions → open orders → fills pipeline followed by bracket
// relinking, keyed by connection epoch so a newer connection supersedes and
// cancels an in-flight run from an earlier one.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/deskforge/tradeterm/internal/domain"
)

// Phase is the recovery pipeline state for one connection epoch.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhasePositions Phase = "positions"
	PhaseOrders    Phase = "orders"
	PhaseFills     Phase = "fills"
	PhaseRelinking Phase = "relinking"
	PhaseDone      Phase = "done"
	PhaseFailed    Phase = "failed"
)

const watermarkKey = "fill_watermark"

// DefaultStepTimeout bounds each snapshot request. Expiry is a step failure.
const DefaultStepTimeout = 10 * time.Second

// Requester is the outbound half of the transport used by recovery.
type Requester interface {
	RequestPositions(ctx context.Context, account string) ([]domain.Position, error)
	RequestOpenOrders(ctx context.Context, account string) ([]domain.Order, error)
	RequestFills(ctx context.Context, account string, since time.Time) ([]domain.Fill, error)
}

// Applier receives recovered state. Position and order sets are replaced
// wholesale, never diffed against what was held before the disconnect. Fills
// reach the applier exactly once: the sequencer gates each one on the
// persisted watermark before handing it over.
type Applier interface {
	ReplacePositions(active domain.Context, positions []domain.Position)
	ReplaceOrders(active domain.Context, orders []domain.Order)
	ApplyFill(active domain.Context, fill domain.Fill)
	SetBracketGroups(active domain.Context, groups []domain.BracketGroup)
}

// StatusFunc observes phase transitions (for the signal bus / panels).
type StatusFunc func(epoch string, phase Phase, err error)

// watermarkDoc is the persisted per-account fill watermark. BoundaryFillIDs
// names the fills already applied at exactly the watermark timestamp, so an
// inclusive re-request after a reconnect can tell the boundary fill it has
// seen from a distinct fill that shares its coarse timestamp.
type watermarkDoc struct {
	LastSeenFill    time.Time `json:"last_seen_fill_timestamp_utc"`
	BoundaryFillIDs []string  `json:"boundary_fill_ids,omitempty"`
}

// Sequencer runs at most one recovery pipeline at a time. Begin for a newer
// epoch atomically invalidates the task handle of any earlier epoch; the
// superseded run is cancelled cooperatively and its late replies discarded.
type Sequencer struct {
	requester   Requester
	store       domain.ScopedStore
	applier     Applier
	onStatus    StatusFunc
	stepTimeout time.Duration
	logger      *slog.Logger

	mu     sync.Mutex
	epoch  string
	phase  Phase
	cancel context.CancelFunc
	done   chan struct{}

	// wmMu serializes watermark read-modify-write between an in-flight
	// pipeline and steady-state MarkFill calls.
	wmMu sync.Mutex
}

// New creates a Sequencer. onStatus may be nil.
func New(requester Requester, store domain.ScopedStore, applier Applier, onStatus StatusFunc, stepTimeout time.Duration, logger *slog.Logger) *Sequencer {
	if stepTimeout <= 0 {
		stepTimeout = DefaultStepTimeout
	}
	return &Sequencer{
		requester:   requester,
		store:       store,
		applier:     applier,
		onStatus:    onStatus,
		stepTimeout: stepTimeout,
		phase:       PhaseIdle,
		logger:      logger.With(slog.String("component", "recovery")),
	}
}

// Phase returns the current phase and the epoch it belongs to.
func (s *Sequencer) Phase() (string, Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch, s.phase
}

// Begin starts recovery for the given connection epoch and active context,
// cancelling any in-flight run from an earlier epoch. It returns a channel
// closed when this run finishes (for tests and shutdown draining).
func (s *Sequencer) Begin(ctx context.Context, epoch string, active domain.Context) <-chan struct{} {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.epoch = epoch
	s.phase = PhaseIdle
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.run(runCtx, epoch, active)
	}()
	return done
}

// Cancel aborts any in-flight recovery (used on shutdown and disconnect).
func (s *Sequencer) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sequencer) run(ctx context.Context, epoch string, active domain.Context) {
	s.logger.Info("recovery started",
		slog.String("epoch", epoch),
		slog.String("context", active.String()),
	)

	if err := s.runSteps(ctx, epoch, active); err != nil {
		// A superseded epoch is not a failure of the pipeline, just a stale
		// run losing the race to a newer connection.
		if errors.Is(err, domain.ErrRecoverySuperseded) || !s.isCurrent(epoch) {
			s.logger.Info("recovery superseded", slog.String("epoch", epoch))
			return
		}
		s.setPhase(epoch, PhaseFailed, err)
		s.logger.Warn("recovery failed, will restart from step 1 on next connect",
			slog.String("epoch", epoch),
			slog.String("error", err.Error()),
		)
		return
	}
	s.setPhase(epoch, PhaseDone, nil)
	s.logger.Info("recovery complete", slog.String("epoch", epoch))
}

// runSteps is the ordered pipeline. Each step gates the next: orders without
// position context are meaningless, and the fills watermark should reflect
// the most complete possible account snapshot.
func (s *Sequencer) runSteps(ctx context.Context, epoch string, active domain.Context) error {
	// Step 1: positions, replaced wholesale.
	s.setPhase(epoch, PhasePositions, nil)
	positions, err := step(ctx, s.stepTimeout, func(c context.Context) ([]domain.Position, error) {
		return s.requester.RequestPositions(c, active.Account)
	})
	if err != nil {
		return fmt.Errorf("positions: %w: %w", domain.ErrRecoveryStepFailed, err)
	}
	if !s.isCurrent(epoch) {
		return domain.ErrRecoverySuperseded
	}
	s.applier.ReplacePositions(active, positions)

	// Step 2: open orders, replaced wholesale.
	s.setPhase(epoch, PhaseOrders, nil)
	orders, err := step(ctx, s.stepTimeout, func(c context.Context) ([]domain.Order, error) {
		return s.requester.RequestOpenOrders(c, active.Account)
	})
	if err != nil {
		return fmt.Errorf("orders: %w: %w", domain.ErrRecoveryStepFailed, err)
	}
	if !s.isCurrent(epoch) {
		return domain.ErrRecoverySuperseded
	}
	s.applier.ReplaceOrders(active, orders)

	// Step 3: fills since the persisted watermark.
	s.setPhase(epoch, PhaseFills, nil)
	since := s.loadWatermark(active)
	fills, err := step(ctx, s.stepTimeout, func(c context.Context) ([]domain.Fill, error) {
		return s.requester.RequestFills(c, active.Account, since)
	})
	if err != nil {
		return fmt.Errorf("fills: %w: %w", domain.ErrRecoveryStepFailed, err)
	}
	if !s.isCurrent(epoch) {
		return domain.ErrRecoverySuperseded
	}

	// The watermark commit is the line that defines "seen": each fill is
	// persisted into the watermark before being acted on, so a crash
	// mid-processing can neither double-count nor silently skip a fill, and
	// the inclusive boundary re-delivered by the since request is dropped
	// instead of re-applied. Oldest first, so the watermark only ever meets
	// fills at or past it.
	sort.Slice(fills, func(i, j int) bool { return fills[i].Timestamp.Before(fills[j].Timestamp) })
	for _, fill := range fills {
		first, err := s.MarkFill(active, fill.FillID, fill.Timestamp)
		if err != nil {
			return fmt.Errorf("watermark: %w: %w", domain.ErrRecoveryStepFailed, err)
		}
		if !first {
			continue
		}
		s.applier.ApplyFill(active, fill)
	}

	// Step 4: relink brackets from the order snapshot alone.
	s.setPhase(epoch, PhaseRelinking, nil)
	s.applier.SetBracketGroups(active, BuildBracketGroups(orders))
	return nil
}

// step runs one request under the per-step timeout.
func step[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(stepCtx)
}

func (s *Sequencer) setPhase(epoch string, phase Phase, err error) {
	s.mu.Lock()
	if s.epoch == epoch {
		s.phase = phase
	}
	s.mu.Unlock()
	if s.onStatus != nil {
		s.onStatus(epoch, phase, err)
	}
}

func (s *Sequencer) isCurrent(epoch string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch == epoch
}

// MarkFill records one fill against the persisted watermark and reports
// whether this is its first sighting. A fill strictly before the watermark,
// or at the watermark with an identity already in the boundary set, has been
// applied before and returns false. A first sighting persists the advanced
// watermark before returning, so the caller acts on the fill only after the
// "seen" line is committed. The watermark never regresses. Steady-state fill
// processing and the recovery pipeline share this single owner, keeping
// watermark read-modify-write serialized.
func (s *Sequencer) MarkFill(active domain.Context, fillID string, ts time.Time) (bool, error) {
	s.wmMu.Lock()
	defer s.wmMu.Unlock()

	doc := s.loadWatermarkDoc(active)
	switch {
	case ts.After(doc.LastSeenFill):
		doc.LastSeenFill = ts.UTC()
		doc.BoundaryFillIDs = nil
		if fillID != "" {
			doc.BoundaryFillIDs = []string{fillID}
		}
	case ts.Equal(doc.LastSeenFill):
		// Same coarse timestamp as the boundary: the fill ID decides whether
		// this is a re-delivery or a distinct fill in the same second.
		if fillID == "" {
			return true, nil
		}
		if slices.Contains(doc.BoundaryFillIDs, fillID) {
			return false, nil
		}
		doc.BoundaryFillIDs = append(doc.BoundaryFillIDs, fillID)
	default:
		return false, nil
	}

	if err := s.store.Write(active, watermarkKey, doc); err != nil {
		return true, err
	}
	return true, nil
}

// loadWatermark returns the persisted per-account fill watermark timestamp,
// defaulting to the epoch origin if never recorded or unreadable (fail
// closed toward re-requesting more history rather than skipping fills).
func (s *Sequencer) loadWatermark(active domain.Context) time.Time {
	return s.loadWatermarkDoc(active).LastSeenFill
}

func (s *Sequencer) loadWatermarkDoc(active domain.Context) watermarkDoc {
	var doc watermarkDoc
	if err := s.store.Read(active, watermarkKey, &doc); err != nil {
		if err != domain.ErrNotFound {
			s.logger.Warn("fill watermark unreadable, defaulting to epoch",
				slog.String("context", active.String()),
				slog.String("error", err.Error()),
			)
		}
		return watermarkDoc{LastSeenFill: time.Unix(0, 0).UTC()}
	}
	return doc
}
