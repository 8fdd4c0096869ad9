// Package session is the integrity core of the terminal: it owns the single
// serialized inbound-message stream and wires the mode debouncer, drift
// sentinel, balance ledger, recovery sequencer, update coalescer, and live
// arm gate around it. Every piece exists to answer one question: is it safe
// and correct to treat this message as belonging to the active (mode,
// account) context?
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/deskforge/tradeterm/internal/domain"
	"github.com/deskforge/tradeterm/internal/ledger"
	"github.com/deskforge/tradeterm/internal/modes"
	"github.com/deskforge/tradeterm/internal/recovery"
	"github.com/deskforge/tradeterm/internal/transport"
)

// BusChannel is the signal-bus channel session events are published on.
const BusChannel = "ch:session"

const signalBuffer = 16

// Config carries the session tunables.
type Config struct {
	// LiveAccount is the broker account treated as real money.
	LiveAccount string
	// DebounceWindow and DebounceQuorum configure the mode debouncer.
	DebounceWindow time.Duration
	DebounceQuorum int
	// FlushInterval caps coalesced refresh notifications.
	FlushInterval time.Duration
	// RecoveryStepTimeout bounds each recovery request.
	RecoveryStepTimeout time.Duration
}

// Session owns all session-integrity state for one terminal. External
// surfaces (panels, HTTP handlers) call its exported methods; inbound wire
// traffic and raw mode signals are serialized through Run's single loop.
type Session struct {
	cfg    Config
	logger *slog.Logger

	tr          transport.Transport
	ledger      *ledger.Ledger
	debouncer   *modes.Debouncer
	history     *modes.HistoryLog
	provisional *modes.Provisional
	books       *Books
	gate        *ArmGate
	sentinel    *DriftSentinel
	sequencer   *recovery.Sequencer
	coalescer   *Coalescer
	bus         domain.SignalBus
	audit       domain.AuditStore // optional

	modeSignals chan domain.Context
	resets      chan struct{}

	mu        sync.Mutex
	epoch     string
	connected bool
	flushCbs  []func()
}

// New wires a Session. bus must be non-nil (use the in-memory bus when no
// Redis is configured); audit may be nil.
func New(cfg Config, tr transport.Transport, store domain.ScopedStore, led *ledger.Ledger, bus domain.SignalBus, audit domain.AuditStore, logger *slog.Logger) *Session {
	s := &Session{
		cfg:         cfg,
		logger:      logger.With(slog.String("component", "session")),
		tr:          tr,
		ledger:      led,
		debouncer:   modes.NewDebouncer(cfg.DebounceWindow, cfg.DebounceQuorum),
		history:     modes.NewHistoryLog(store),
		provisional: modes.NewProvisional(store),
		books:       NewBooks(),
		gate:        NewArmGate(),
		sentinel:    NewDriftSentinel(cfg.LiveAccount),
		bus:         bus,
		audit:       audit,
		modeSignals: make(chan domain.Context, signalBuffer),
		resets:      make(chan struct{}, 1),
	}
	s.sequencer = recovery.New(tr, store, s, s.onRecoveryStatus, cfg.RecoveryStepTimeout, logger)
	s.coalescer = NewCoalescer(cfg.FlushInterval, s.fireFlush)
	return s
}

// Run processes the inbound stream until ctx is cancelled. Inbound messages
// are handled one at a time in arrival order; panel signals and the debounce
// expiry sweep run on the same loop, so no two mutations ever race on the
// same context.
func (s *Session) Run(ctx context.Context) error {
	defer s.coalescer.Close()
	defer s.sequencer.Cancel()

	s.bootProvisional()

	window := s.cfg.DebounceWindow
	if window <= 0 {
		window = modes.DefaultWindow
	}
	sweep := time.NewTicker(window / 2)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-s.tr.Messages():
			if !ok {
				return nil
			}
			s.handle(ctx, msg)
		case sig := <-s.modeSignals:
			s.applySignal(ctx, sig, "panel")
		case <-s.resets:
			s.debouncer.Reset()
		case <-sweep.C:
			s.debouncer.ExpirePending()
		}
	}
}

// bootProvisional seeds the active context from the last known mode when it
// is still fresh. Purely advisory: the first committed signal overrides it.
func (s *Session) bootProvisional() {
	ctx, ok, err := s.provisional.Load()
	if err != nil {
		s.logger.Warn("provisional boot state unreadable", slog.String("error", err.Error()))
		return
	}
	if !ok {
		return
	}
	s.debouncer.SeedActive(ctx)
	// Pre-load the scoped ledger so the first panel read is warm.
	if _, err := s.ledger.GetBalance(ctx); err != nil {
		s.logger.Warn("provisional balance preload failed", slog.String("error", err.Error()))
	}
	s.logger.Info("booted in provisional context", slog.String("context", ctx.String()))
	s.publish(domain.EventModeChange, map[string]any{
		"context":     ctx.String(),
		"provisional": true,
	})
}

func (s *Session) handle(ctx context.Context, msg transport.Message) {
	switch msg.Kind {
	case transport.KindConnected:
		s.handleConnected(ctx, msg.Epoch)
		return
	case transport.KindDisconnected:
		s.handleDisconnected(msg.Epoch)
		return
	}

	// Data from a superseded connection is stale by definition: messages
	// buffered before a disconnect must not touch the new epoch's state.
	s.mu.Lock()
	epoch := s.epoch
	s.mu.Unlock()
	if msg.Epoch != epoch {
		s.logger.Debug("dropping message from stale epoch",
			slog.String("kind", string(msg.Kind)),
			slog.String("message_epoch", msg.Epoch),
			slog.String("current_epoch", epoch),
		)
		return
	}

	// Drift check first: diagnostic, never blocking. The message continues
	// through the normal path regardless.
	active := s.debouncer.Active()
	if event, drifted := s.sentinel.Check(active, msg.Account, string(msg.Kind)); drifted {
		s.onDrift(event)
	}

	// Messages carrying an account tag double as mode signals: orders
	// always, positions only when the position is not flat.
	switch msg.Kind {
	case transport.KindOrderUpdate, transport.KindTradeAccount:
		s.signalFromAccount(ctx, msg.Account)
	case transport.KindPositionUpdate:
		if msg.Position != nil && msg.Position.Quantity != 0 {
			s.signalFromAccount(ctx, msg.Account)
		}
	}

	switch msg.Kind {
	case transport.KindPositionUpdate:
		if msg.Position != nil {
			s.books.UpsertPosition(*msg.Position)
			s.coalescer.MarkDirty()
		}
	case transport.KindOrderUpdate:
		if msg.Order != nil {
			s.books.UpsertOrder(*msg.Order)
			s.coalescer.MarkDirty()
		}
	case transport.KindFill:
		if msg.Fill != nil {
			s.handleFill(*msg.Fill)
		}
	case transport.KindBalanceUpdate:
		s.publish(domain.EventBalanceChange, map[string]any{
			"account":      msg.Account,
			"cash_balance": msg.CashBalance,
		})
		s.coalescer.MarkDirty()
	}
}

func (s *Session) handleConnected(ctx context.Context, epoch string) {
	s.mu.Lock()
	s.epoch = epoch
	s.connected = true
	s.mu.Unlock()

	s.logger.Info("transport connected", slog.String("epoch", epoch))
	s.publish(domain.EventRecoveryStatus, map[string]any{"epoch": epoch, "phase": "connected"})

	active := s.debouncer.Active()
	if !active.Zero() {
		s.sequencer.Begin(ctx, epoch, active)
	}
	s.coalescer.MarkDirty()
}

func (s *Session) handleDisconnected(epoch string) {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()

	s.sequencer.Cancel()
	s.debouncer.Reset()
	if s.gate.Disarm(DisarmReasonDisconnect) {
		s.publishArmChange()
	}
	s.logger.Warn("transport disconnected", slog.String("epoch", epoch))
	s.publish(domain.EventRecoveryStatus, map[string]any{"epoch": epoch, "phase": "disconnected"})
	s.coalescer.MarkDirty()
}

// handleFill processes one steady-state wire fill. The watermark commit is
// the dedupe line: a fill already covered (re-delivered by the broker, or
// the inclusive boundary of a recovery request) is dropped before it can
// touch the books or the ledger a second time.
func (s *Session) handleFill(fill domain.Fill) {
	scope := s.fillScope(fill)
	first, err := s.sequencer.MarkFill(scope, fill.FillID, fill.Timestamp)
	if err != nil {
		s.logger.Warn("fill watermark advance failed",
			slog.String("account", fill.Account),
			slog.String("error", err.Error()),
		)
	}
	if !first {
		return
	}
	s.ApplyFill(s.debouncer.Active(), fill)
}

func (s *Session) fillScope(fill domain.Fill) domain.Context {
	return domain.Context{
		Mode:    domain.DetectMode(fill.Account, s.cfg.LiveAccount),
		Account: fill.Account,
	}
}

// signalFromAccount turns an inbound account tag into a raw mode signal.
func (s *Session) signalFromAccount(ctx context.Context, account string) {
	if account == "" {
		return
	}
	sig := domain.Context{
		Mode:    domain.DetectMode(account, s.cfg.LiveAccount),
		Account: account,
	}
	s.applySignal(ctx, sig, "wire")
}

// applySignal feeds one raw signal into the debouncer and performs the
// commit side effects when a quorum completes.
func (s *Session) applySignal(ctx context.Context, sig domain.Context, source string) {
	previous, committed := s.debouncer.Signal(sig)
	if !committed {
		return
	}

	if _, err := s.history.Append(previous, sig); err != nil {
		s.logger.Error("mode history append failed", slog.String("error", err.Error()))
	}
	if err := s.provisional.Save(sig); err != nil {
		s.logger.Error("provisional save failed", slog.String("error", err.Error()))
	}

	if previous.Mode == domain.ModeLive && sig.Mode != domain.ModeLive {
		if s.gate.Disarm(DisarmReasonModeSwitch) {
			s.publishArmChange()
		}
	}

	s.logger.Info("mode committed",
		slog.String("previous", previous.String()),
		slog.String("new", sig.String()),
		slog.String("source", source),
	)
	s.publish(domain.EventModeChange, map[string]any{
		"previous": previous.String(),
		"new":      sig.String(),
		"source":   source,
	})

	s.mu.Lock()
	epoch := s.epoch
	connected := s.connected
	s.mu.Unlock()
	if connected {
		s.sequencer.Begin(ctx, epoch, sig)
	}
	s.coalescer.MarkDirty()
}

func (s *Session) onDrift(event domain.DriftEvent) {
	s.logger.Warn("mode drift detected",
		slog.String("expected", event.Expected.String()),
		slog.String("observed", event.Observed.String()),
		slog.String("message_kind", event.MessageKind),
	)
	s.publish(domain.EventDrift, map[string]any{
		"expected":     event.Expected.String(),
		"observed":     event.Observed.String(),
		"message_kind": event.MessageKind,
	})
	if s.gate.Disarm(DisarmReasonDrift) {
		s.publishArmChange()
	}
}

func (s *Session) onRecoveryStatus(epoch string, phase recovery.Phase, err error) {
	detail := map[string]any{"epoch": epoch, "phase": string(phase)}
	if err != nil {
		detail["error"] = err.Error()
	}
	s.publish(domain.EventRecoveryStatus, detail)
	if phase == recovery.PhaseDone || phase == recovery.PhaseFailed {
		s.coalescer.MarkDirty()
	}
}

// ---------------------------------------------------------------- surfaces

// SetTradingMode is the raw panel signal intake. The signal is queued onto
// the processing loop and debounced like any wire signal.
func (s *Session) SetTradingMode(mode domain.Mode, account string) error {
	if !mode.Valid() {
		return fmt.Errorf("session: unknown mode %q", mode)
	}
	select {
	case s.modeSignals <- domain.Context{Mode: mode, Account: account}:
		return nil
	default:
		return fmt.Errorf("session: signal intake saturated")
	}
}

// ResetDebounce discards any pending mode candidate.
func (s *Session) ResetDebounce() {
	select {
	case s.resets <- struct{}{}:
	default:
	}
}

// ActiveContext returns the committed (or provisional) active context.
func (s *Session) ActiveContext() domain.Context {
	return s.debouncer.Active()
}

// GetBalance returns the ledger balance for scope.
func (s *Session) GetBalance(scope domain.Context) (domain.Balance, error) {
	return s.ledger.GetBalance(scope)
}

// ListAccounts returns every account with a ledger record.
func (s *Session) ListAccounts() ([]string, error) {
	return s.ledger.ListAccounts()
}

// ModeHistory returns all committed transitions, oldest first.
func (s *Session) ModeHistory() ([]domain.ModeHistoryEntry, error) {
	return s.history.History()
}

// LastModeChange returns the most recent committed transition.
func (s *Session) LastModeChange() (domain.ModeHistoryEntry, bool, error) {
	return s.history.LastChange()
}

// ArmState returns the live-arming interlock state.
func (s *Session) ArmState() domain.ArmState {
	return s.gate.State()
}

// Arm arms live trading. Permitted only in LIVE with a healthy connection.
func (s *Session) Arm() error {
	s.mu.Lock()
	connected := s.connected
	s.mu.Unlock()
	if err := s.gate.Arm(s.debouncer.Active(), connected); err != nil {
		return err
	}
	s.publishArmChange()
	return nil
}

// Disarm disarms live trading. Always permitted.
func (s *Session) Disarm(reason string) {
	if reason == "" {
		reason = DisarmReasonOperator
	}
	if s.gate.Disarm(reason) {
		s.publishArmChange()
	}
}

// NotifyConfigReload disarms the gate after a configuration reload.
func (s *Session) NotifyConfigReload() {
	if s.gate.Disarm(DisarmReasonConfigReload) {
		s.publishArmChange()
	}
}

// SubmitOrder is the outbound control point. LIVE orders must pass the arm
// gate and match the active account; SIM orders bypass the gate entirely.
// Live-ness is derived from the ticket's account, never trusted from the
// caller: a mislabeled ticket against the live account still hits the gate.
func (s *Session) SubmitOrder(ctx context.Context, ticket transport.OrderTicket) error {
	live := ticket.IsLive ||
		domain.DetectMode(ticket.Account, s.cfg.LiveAccount) == domain.ModeLive
	if live {
		if err := s.gate.Authorize(s.debouncer.Active(), ticket.Account); err != nil {
			return err
		}
	}
	return s.tr.Submit(ctx, ticket)
}

// OnFlush registers a coalesced refresh callback. Callbacks fire at most
// once per flush interval and carry no payload; consumers re-read state.
func (s *Session) OnFlush(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushCbs = append(s.flushCbs, cb)
}

// Positions returns the in-memory position set.
func (s *Session) Positions() []domain.Position { return s.books.Positions() }

// Orders returns the in-memory open-order set.
func (s *Session) Orders() []domain.Order { return s.books.Orders() }

// BracketGroups returns the current bracket projection.
func (s *Session) BracketGroups() []domain.BracketGroup { return s.books.BracketGroups() }

// RecoveryPhase returns the current recovery epoch and phase.
func (s *Session) RecoveryPhase() (string, recovery.Phase) {
	return s.sequencer.Phase()
}

// ResetSimBalance manually resets a SIM account's ledger.
func (s *Session) ResetSimBalance(account string) (domain.Balance, error) {
	bal, err := s.ledger.ResetSim(account)
	if err != nil {
		return domain.Balance{}, err
	}
	s.coalescer.MarkDirty()
	return bal, nil
}

// ------------------------------------------------------- recovery applier

// ReplacePositions implements recovery.Applier.
func (s *Session) ReplacePositions(active domain.Context, positions []domain.Position) {
	s.books.ReplacePositions(active, positions)
}

// ReplaceOrders implements recovery.Applier.
func (s *Session) ReplaceOrders(active domain.Context, orders []domain.Order) {
	s.books.ReplaceOrders(active, orders)
}

// SetBracketGroups implements recovery.Applier.
func (s *Session) SetBracketGroups(active domain.Context, groups []domain.BracketGroup) {
	s.books.SetBracketGroups(active, groups)
}

// ApplyFill implements recovery.Applier: the single application path for
// both recovered and steady-state fills. Every fill lands on the books and
// the ledger exactly once; callers gate on the watermark before calling.
func (s *Session) ApplyFill(active domain.Context, fill domain.Fill) {
	s.books.ApplyFill(active, fill)
	if fill.Fee != 0 {
		if _, err := s.ledger.PostFee(s.fillScope(fill), fill.Fee); err != nil {
			s.logger.Warn("fee posting failed",
				slog.String("account", fill.Account),
				slog.String("error", err.Error()),
			)
		}
	}
	s.coalescer.MarkDirty()
}

var _ recovery.Applier = (*Session)(nil)

// ---------------------------------------------------------------- plumbing

func (s *Session) fireFlush() {
	s.mu.Lock()
	cbs := make([]func(), len(s.flushCbs))
	copy(cbs, s.flushCbs)
	s.mu.Unlock()
	for _, cb := range cbs {
		cb()
	}
	s.publish(domain.EventRefresh, nil)
}

func (s *Session) publishArmChange() {
	state := s.gate.State()
	s.publish(domain.EventArmChange, map[string]any{
		"armed":         state.Armed,
		"disarm_reason": state.DisarmReason,
	})
}

// publish emits one structured event on the signal bus and, when configured,
// into the audit store. Both are best effort: observability failures must
// never disturb the session.
func (s *Session) publish(kind domain.EventKind, detail map[string]any) {
	event := domain.Event{Kind: kind, Timestamp: time.Now().UTC(), Detail: detail}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.bus.Publish(pubCtx, BusChannel, payload); err != nil {
		s.logger.Debug("bus publish failed", slog.String("error", err.Error()))
	}

	if s.audit != nil && kind != domain.EventRefresh {
		if err := s.audit.Log(pubCtx, string(kind), detail); err != nil {
			s.logger.Debug("audit log failed", slog.String("error", err.Error()))
		}
	}
}
