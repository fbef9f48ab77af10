package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mvbraga/peertrade/internal/arbiter"
	"github.com/mvbraga/peertrade/internal/chat"
	"github.com/mvbraga/peertrade/internal/custodian"
	"github.com/mvbraga/peertrade/internal/events"
	"github.com/mvbraga/peertrade/internal/idgen"
	"github.com/mvbraga/peertrade/internal/metrics"
	"github.com/mvbraga/peertrade/internal/order"
	"github.com/mvbraga/peertrade/internal/pagination"
	"github.com/mvbraga/peertrade/internal/syncutil"
	"github.com/mvbraga/peertrade/internal/token"
	"github.com/mvbraga/peertrade/internal/traces"
)

// DefaultPaymentWindow applies when the order sets no payment window.
const DefaultPaymentWindow = 30 * time.Minute

// Deadlines is the slice of the scheduler the service needs.
type Deadlines interface {
	Arm(ctx context.Context, tradeID string, firesAt time.Time) error
	Disarm(ctx context.Context, tradeID string) error
}

// Service implements the trade state machine.
type Service struct {
	store     Store
	orders    *order.Service
	custodian custodian.Custodian
	arbiter   *arbiter.Service
	events    *events.Dispatcher
	chat      *chat.Log
	deadlines Deadlines
	locks     syncutil.ContextShardedMutex
	window    time.Duration
	logger    *slog.Logger
}

// NewService creates a trade service. Chat and deadline wiring is
// attached afterwards via WithChat and WithDeadlines because both sides
// reference the service.
func NewService(store Store, orders *order.Service, cust custodian.Custodian, arb *arbiter.Service, dispatcher *events.Dispatcher, window time.Duration, logger *slog.Logger) *Service {
	if window <= 0 {
		window = DefaultPaymentWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		orders:    orders,
		custodian: cust,
		arbiter:   arb,
		events:    dispatcher,
		window:    window,
		logger:    logger,
	}
}

// WithChat attaches the trade chat log used for system messages.
func (s *Service) WithChat(log *chat.Log) *Service {
	s.chat = log
	return s
}

// WithDeadlines attaches the payment deadline scheduler.
func (s *Service) WithDeadlines(d Deadlines) *Service {
	s.deadlines = d
	return s
}

// TradeParties resolves the chat participants for a trade.
func (s *Service) TradeParties(ctx context.Context, tradeID string) (string, string, error) {
	t, err := s.store.Get(ctx, tradeID)
	if err != nil {
		return "", "", err
	}
	return t.BuyerID, t.SellerID, nil
}

// OpenRequest contains the parameters for opening a trade.
type OpenRequest struct {
	OrderID string `json:"orderId" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

// Open creates a trade against an active order, locks the seller's
// tokens in escrow and arms the payment deadline. The escrow lock comes
// first: if the custodian rejects it, no trade record exists.
func (s *Service) Open(ctx context.Context, callerID string, req OpenRequest) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.open",
		traces.OrderID(req.OrderID), traces.Actor(callerID), traces.Amount(req.Amount))
	defer span.End()

	ord, err := s.orders.Get(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if ord.Status != order.StatusActive {
		return nil, order.ErrOrderNotActive
	}
	if callerID == ord.OwnerID {
		return nil, ErrSelfTrade
	}

	if _, ok := token.Parse(req.Amount); !ok || req.Amount == "" {
		return nil, ErrAmountOutOfBounds
	}
	if c, ok := token.Cmp(req.Amount, ord.MinAmount); !ok || c < 0 {
		return nil, ErrAmountOutOfBounds
	}
	if c, ok := token.Cmp(req.Amount, ord.MaxAmount); !ok || c > 0 {
		return nil, ErrAmountOutOfBounds
	}

	buyerID, sellerID := callerID, ord.OwnerID
	if ord.Side == order.SideBuy {
		buyerID, sellerID = ord.OwnerID, callerID
	}

	window := s.window
	if ord.PaymentWindow > 0 {
		window = ord.PaymentWindow
	}

	now := time.Now()
	expires := now.Add(window)
	t := &Trade{
		ID:              idgen.Trade(),
		OrderID:         ord.ID,
		BuyerID:         buyerID,
		SellerID:        sellerID,
		Amount:          req.Amount,
		UnitPrice:       ord.UnitPrice,
		TokenSymbol:     ord.TokenSymbol,
		FiatCurrency:    ord.FiatCurrency,
		Phase:           PhaseInitiated,
		EscrowExpiresAt: &expires,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.custodian.Lock(ctx, custodian.LockRequest{
		TradeID:  t.ID,
		SellerID: sellerID,
		BuyerID:  buyerID,
		Amount:   t.Amount,
		Currency: t.TokenSymbol,
	})
	if err != nil {
		if errors.Is(err, custodian.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrCustodianFailure, err)
		}
		return nil, err
	}

	if err := s.store.Create(ctx, t); err != nil {
		// Unlock the stranded escrow; the refund is idempotent.
		if _, rerr := s.custodian.Refund(ctx, t.ID); rerr != nil {
			s.logger.Error("failed to refund escrow after create failure",
				"trade_id", t.ID, "error", rerr)
		}
		return nil, fmt.Errorf("failed to create trade: %w", err)
	}

	if s.deadlines != nil {
		if err := s.deadlines.Arm(ctx, t.ID, expires); err != nil {
			s.logger.Error("failed to arm payment deadline", "trade_id", t.ID, "error", err)
		}
	}

	s.systemMessage(ctx, t.ID, fmt.Sprintf("trade opened: %s %s at %s %s each, payment due by %s",
		t.Amount, t.TokenSymbol, t.UnitPrice, t.FiatCurrency, expires.UTC().Format(time.RFC3339)))
	s.publishPhase(ctx, events.EventTradeOpened, t, callerID, t.Phase)
	metrics.TradesOpenedTotal.Inc()
	metrics.TradeTransitionsTotal.WithLabelValues("open", string(PhaseInitiated)).Inc()
	return t, nil
}

// MarkPaymentSent records the buyer's claim that the fiat payment left
// their account.
func (s *Service) MarkPaymentSent(ctx context.Context, callerID, id string) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.mark_payment_sent",
		traces.TradeID(id), traces.Actor(callerID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Participant(callerID) {
		return nil, ErrNotParticipant
	}
	if callerID != t.BuyerID {
		return nil, ErrNotBuyer
	}
	if t.Phase != PhaseInitiated {
		metrics.InvalidTransitionsTotal.WithLabelValues("mark_payment_sent").Inc()
		return nil, invalidTransition("mark_payment_sent", t.Phase)
	}

	from := t.Phase
	t.Phase = PhasePaymentPending
	t.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}

	s.systemMessage(ctx, t.ID, "buyer marked the fiat payment as sent")
	s.publishPhase(ctx, events.EventTradePaymentSent, t, callerID, from)
	metrics.TradeTransitionsTotal.WithLabelValues("mark_payment_sent", string(t.Phase)).Inc()
	return t, nil
}

// ProofRequest carries a payment proof submission.
type ProofRequest struct {
	Type     string `json:"type" binding:"required"`     // "image" or "file"
	Location string `json:"location" binding:"required"` // where the artifact is stored
}

// SubmitProof attaches the buyer's payment evidence. A later submission
// replaces the earlier one. Once the seller confirmed, proof is
// pointless and rejected with ErrProofNotAllowed.
func (s *Service) SubmitProof(ctx context.Context, callerID, id string, req ProofRequest) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.submit_proof",
		traces.TradeID(id), traces.Actor(callerID))
	defer span.End()

	if req.Type != chat.TypeImage && req.Type != chat.TypeFile {
		return nil, fmt.Errorf("%w: proof type must be image or file", ErrProofNotAllowed)
	}

	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Participant(callerID) {
		return nil, ErrNotParticipant
	}
	if callerID != t.BuyerID {
		return nil, ErrNotBuyer
	}
	switch t.Phase {
	case PhasePaymentPending:
	case PhasePaymentConfirmed, PhaseCompleted:
		return nil, ErrProofNotAllowed
	default:
		metrics.InvalidTransitionsTotal.WithLabelValues("submit_proof").Inc()
		return nil, invalidTransition("submit_proof", t.Phase)
	}

	now := time.Now()
	t.Proof = &PaymentProof{Type: req.Type, Location: req.Location, SubmittedAt: now}
	t.UpdatedAt = now
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}

	s.systemMessage(ctx, t.ID, "buyer submitted payment proof")
	s.publish(ctx, events.EventTradeProofSubmitted, t, callerID,
		fmt.Sprintf("%s:proof:%d", t.ID, now.UnixNano()), t.Phase)
	return t, nil
}

// ConfirmPayment is the seller acknowledging the fiat arrived. The
// escrow is released to the buyer; if the custodian is unavailable the
// trade parks in payment_confirmed and the settler finishes the job.
// Any other custodian failure leaves the trade untouched.
func (s *Service) ConfirmPayment(ctx context.Context, callerID, id string) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.confirm_payment",
		traces.TradeID(id), traces.Actor(callerID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Participant(callerID) {
		return nil, ErrNotParticipant
	}
	if callerID != t.SellerID {
		return nil, ErrNotSeller
	}
	if t.Phase != PhasePaymentPending {
		metrics.InvalidTransitionsTotal.WithLabelValues("confirm_payment").Inc()
		return nil, invalidTransition("confirm_payment", t.Phase)
	}

	from := t.Phase
	receipt, err := s.custodian.Release(ctx, t.ID)
	switch {
	case err == nil:
		metrics.SettlementsTotal.WithLabelValues("release", "success").Inc()
		t.Phase = PhaseCompleted
		t.SettlementReceiptID = receipt.ID
	case errors.Is(err, custodian.ErrUnavailable):
		metrics.SettlementsTotal.WithLabelValues("release", "unavailable").Inc()
		t.Phase = PhasePaymentConfirmed
	default:
		metrics.SettlementsTotal.WithLabelValues("release", "failure").Inc()
		return nil, fmt.Errorf("%w: release: %v", ErrCustodianFailure, err)
	}

	t.EscrowExpiresAt = nil
	t.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	s.disarm(ctx, t.ID)

	s.systemMessage(ctx, t.ID, "seller confirmed receiving the fiat payment")
	s.publishPhase(ctx, events.EventTradePaymentConfirmed, t, callerID, from)
	metrics.TradeTransitionsTotal.WithLabelValues("confirm_payment", string(t.Phase)).Inc()
	if t.Phase == PhaseCompleted {
		s.systemMessage(ctx, t.ID, "escrow released to buyer, trade completed")
		s.publishPhase(ctx, events.EventTradeCompleted, t, callerID, t.Phase)
	}
	return t, nil
}

// Cancel tears down a trade before the buyer claimed payment. Once a
// payment proof exists the money question is live and only the seller's
// confirmation or a dispute can close the trade.
func (s *Service) Cancel(ctx context.Context, callerID, id string) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.cancel",
		traces.TradeID(id), traces.Actor(callerID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Participant(callerID) {
		return nil, ErrNotParticipant
	}
	if t.Phase != PhaseInitiated && t.Phase != PhasePaymentPending {
		metrics.InvalidTransitionsTotal.WithLabelValues("cancel").Inc()
		return nil, invalidTransition("cancel", t.Phase)
	}
	if t.Proof != nil {
		return nil, ErrCancelAfterProof
	}

	from := t.Phase
	if err := s.refundInto(ctx, t, "cancel"); err != nil {
		return nil, err
	}

	s.disarm(ctx, t.ID)
	s.systemMessage(ctx, t.ID, fmt.Sprintf("trade cancelled by %s", role(t, callerID)))
	s.publishPhase(ctx, events.EventTradeCancelled, t, callerID, from)
	metrics.TradeTransitionsTotal.WithLabelValues("cancel", string(t.Phase)).Inc()
	return t, nil
}

// DisputeRequest carries the reason for opening a dispute.
type DisputeRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// OpenDispute freezes the trade for arbitration. The deadline is
// disarmed so the escrow cannot auto-refund out from under the arbiter.
func (s *Service) OpenDispute(ctx context.Context, callerID, id string, req DisputeRequest) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.open_dispute",
		traces.TradeID(id), traces.Actor(callerID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Participant(callerID) {
		return nil, ErrNotParticipant
	}
	if t.Phase != PhaseInitiated && t.Phase != PhasePaymentPending {
		metrics.InvalidTransitionsTotal.WithLabelValues("open_dispute").Inc()
		return nil, invalidTransition("open_dispute", t.Phase)
	}

	if _, err := s.arbiter.Open(ctx, t.ID, callerID, req.Reason); err != nil {
		return nil, err
	}

	from := t.Phase
	t.Phase = PhaseDisputed
	t.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}
	s.disarm(ctx, t.ID)

	s.systemMessage(ctx, t.ID, fmt.Sprintf("dispute opened by %s: %s", role(t, callerID), req.Reason))
	s.publishPhase(ctx, events.EventTradeDisputed, t, callerID, from)
	metrics.TradeTransitionsTotal.WithLabelValues("open_dispute", string(t.Phase)).Inc()
	metrics.DisputesTotal.WithLabelValues("opened", "").Inc()
	return t, nil
}

// SubmitEvidence attaches supporting material to an open dispute.
func (s *Service) SubmitEvidence(ctx context.Context, callerID, id, note, attachmentURL string) (*arbiter.Evidence, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Participant(callerID) {
		return nil, ErrNotParticipant
	}
	if t.Phase != PhaseDisputed {
		return nil, ErrNotDisputed
	}
	return s.arbiter.AddEvidence(ctx, id, callerID, note, attachmentURL)
}

// ArbitrateRequest carries the arbiter's ruling.
type ArbitrateRequest struct {
	Decision string `json:"decision" binding:"required"` // "release" or "refund"
	Reason   string `json:"reason"`
}

// Arbitrate records the ruling and settles the escrow accordingly. The
// decision is durable before any custodian call: if settlement fails
// the trade parks in the matching pending phase and the settler retries
// with the recorded decision.
func (s *Service) Arbitrate(ctx context.Context, arbiterID, id string, req ArbitrateRequest) (*Trade, error) {
	ctx, span := traces.StartSpan(ctx, "trade.arbitrate",
		traces.TradeID(id), traces.Actor(arbiterID))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Phase != PhaseDisputed {
		// A trade that already left disputed under a ruling reports the
		// ruling, not a missing dispute.
		if d, derr := s.arbiter.Get(ctx, t.ID); derr == nil && d.Status == arbiter.StatusDecided {
			return nil, arbiter.ErrAlreadyDecided
		}
		return nil, ErrNotDisputed
	}

	decision := req.Decision
	_, err = s.arbiter.Decide(ctx, t.ID, decision, arbiterID, req.Reason)
	if errors.Is(err, arbiter.ErrAlreadyDecided) {
		// A prior ruling exists but settlement never landed. Adopt it.
		d, gerr := s.arbiter.Get(ctx, t.ID)
		if gerr != nil {
			return nil, gerr
		}
		decision = d.Decision
	} else if err != nil {
		return nil, err
	}

	from := t.Phase
	switch decision {
	case arbiter.DecisionRelease:
		receipt, rerr := s.custodian.Release(ctx, t.ID)
		if rerr == nil {
			metrics.SettlementsTotal.WithLabelValues("release", "success").Inc()
			t.Phase = PhaseCompleted
			t.SettlementReceiptID = receipt.ID
		} else {
			metrics.SettlementsTotal.WithLabelValues("release", "unavailable").Inc()
			s.logger.Warn("release after ruling deferred to settler", "trade_id", t.ID, "error", rerr)
			t.Phase = PhasePaymentConfirmed
		}
	case arbiter.DecisionRefund:
		receipt, rerr := s.custodian.Refund(ctx, t.ID)
		if rerr == nil {
			metrics.SettlementsTotal.WithLabelValues("refund", "success").Inc()
			t.Phase = PhaseCancelled
			t.SettlementReceiptID = receipt.ID
		} else {
			metrics.SettlementsTotal.WithLabelValues("refund", "unavailable").Inc()
			s.logger.Warn("refund after ruling deferred to settler", "trade_id", t.ID, "error", rerr)
			t.Phase = PhaseRefundPending
		}
	}

	t.EscrowExpiresAt = nil
	t.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, t); err != nil {
		return nil, err
	}

	s.systemMessage(ctx, t.ID, fmt.Sprintf("arbiter ruled %s: %s", decision, req.Reason))
	s.publishPhase(ctx, events.EventTradeDecided, t, arbiterID, from)
	metrics.TradeTransitionsTotal.WithLabelValues("arbitrate", string(t.Phase)).Inc()
	metrics.DisputesTotal.WithLabelValues("resolved", decision).Inc()
	switch t.Phase {
	case PhaseCompleted:
		s.publishPhase(ctx, events.EventTradeCompleted, t, arbiterID, t.Phase)
	case PhaseCancelled:
		s.publishPhase(ctx, events.EventTradeCancelled, t, arbiterID, t.Phase)
	}
	return t, nil
}

// HandleTimeout is the deadline scheduler's callback. Firings that
// arrive after the trade already moved on are dropped.
func (s *Service) HandleTimeout(ctx context.Context, tradeID string, firesAt time.Time) {
	ctx, span := traces.StartSpan(ctx, "trade.handle_timeout",
		traces.TradeID(tradeID), traces.Trigger("deadline"))
	defer span.End()

	unlock, err := s.locks.LockContext(ctx, tradeID)
	if err != nil {
		s.logger.Error("timeout: failed to lock trade", "trade_id", tradeID, "error", err)
		return
	}
	defer unlock()

	t, err := s.store.Get(ctx, tradeID)
	if err != nil {
		s.logger.Error("timeout: failed to load trade", "trade_id", tradeID, "error", err)
		return
	}
	if t.Phase != PhaseInitiated && t.Phase != PhasePaymentPending {
		metrics.TimeoutsFiredTotal.WithLabelValues("stale").Inc()
		return
	}

	from := t.Phase
	if err := s.refundInto(ctx, t, "timeout"); err != nil {
		s.logger.Error("timeout: refund failed", "trade_id", tradeID, "error", err)
		return
	}
	metrics.TimeoutsFiredTotal.WithLabelValues("applied").Inc()

	s.systemMessage(ctx, t.ID, fmt.Sprintf("payment window expired at %s, escrow refunded to seller",
		firesAt.UTC().Format(time.RFC3339)))
	s.publishPhase(ctx, events.EventTradeExpired, t, "", from)
	metrics.TradeTransitionsTotal.WithLabelValues("timeout", string(t.Phase)).Inc()
	if t.Phase == PhaseCancelled {
		s.publishPhase(ctx, events.EventTradeCancelled, t, "", t.Phase)
	}
}

// refundInto settles the escrow back to the seller and advances t to
// cancelled, or parks it in refund_pending when the custodian is down.
// Non-availability errors fail closed: the trade is left untouched.
func (s *Service) refundInto(ctx context.Context, t *Trade, trigger string) error {
	receipt, err := s.custodian.Refund(ctx, t.ID)
	switch {
	case err == nil:
		metrics.SettlementsTotal.WithLabelValues("refund", "success").Inc()
		t.Phase = PhaseCancelled
		t.SettlementReceiptID = receipt.ID
	case errors.Is(err, custodian.ErrUnavailable):
		metrics.SettlementsTotal.WithLabelValues("refund", "unavailable").Inc()
		s.logger.Warn("refund deferred to settler", "trade_id", t.ID, "trigger", trigger, "error", err)
		t.Phase = PhaseRefundPending
	default:
		metrics.SettlementsTotal.WithLabelValues("refund", "failure").Inc()
		return fmt.Errorf("%w: refund: %v", ErrCustodianFailure, err)
	}

	t.EscrowExpiresAt = nil
	t.UpdatedAt = time.Now()
	return s.store.Update(ctx, t)
}

// Get returns a trade to one of its participants.
func (s *Service) Get(ctx context.Context, callerID, id string) (*Trade, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !t.Participant(callerID) {
		return nil, ErrNotParticipant
	}
	return t, nil
}

// Inspect returns a trade without a participant check, for arbitration
// and read-only tooling.
func (s *Service) Inspect(ctx context.Context, id string) (*Trade, error) {
	return s.store.Get(ctx, id)
}

// Dispute returns the dispute record for a trade.
func (s *Service) Dispute(ctx context.Context, tradeID string) (*arbiter.Dispute, error) {
	return s.arbiter.Get(ctx, tradeID)
}

// ListForUser returns the caller's trades, newest first.
func (s *Service) ListForUser(ctx context.Context, userID, cursor string, limit int) ([]*Trade, string, bool, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var before *time.Time
	var beforeID string
	if cursor != "" {
		c, err := pagination.Decode(cursor)
		if err != nil {
			return nil, "", false, err
		}
		before = &c.CreatedAt
		beforeID = c.ID
	}

	trades, err := s.store.ListForUser(ctx, userID, before, beforeID, limit+1)
	if err != nil {
		return nil, "", false, err
	}
	page, next, more := pagination.ComputePage(trades, limit, func(t *Trade) (time.Time, string) {
		return t.CreatedAt, t.ID
	})
	return page, next, more, nil
}

// systemMessage appends a lifecycle note to the trade chat. Failures
// are logged, not surfaced: the transition already happened.
func (s *Service) systemMessage(ctx context.Context, tradeID, body string) {
	if s.chat == nil {
		return
	}
	if _, err := s.chat.System(ctx, tradeID, body); err != nil {
		s.logger.Error("failed to append system message", "trade_id", tradeID, "error", err)
	}
}

func (s *Service) disarm(ctx context.Context, tradeID string) {
	if s.deadlines == nil {
		return
	}
	if err := s.deadlines.Disarm(ctx, tradeID); err != nil {
		s.logger.Error("failed to disarm deadline", "trade_id", tradeID, "error", err)
	}
}

// publishPhase emits a lifecycle event keyed on the resulting phase, so
// redelivery of the same transition is detectable downstream. from is
// the phase the trade left; events that merely echo an already-applied
// transition pass the current phase and carry no transition fields.
func (s *Service) publishPhase(ctx context.Context, typ events.EventType, t *Trade, actorID string, from Phase) {
	s.publish(ctx, typ, t, actorID, t.ID+":"+string(t.Phase), from)
}

func (s *Service) publish(ctx context.Context, typ events.EventType, t *Trade, actorID, idempotencyKey string, from Phase) {
	if s.events == nil {
		return
	}
	data := map[string]any{
		"phase":  string(t.Phase),
		"amount": t.Amount,
	}
	if from != "" && from != t.Phase {
		data["from"] = string(from)
		data["to"] = string(t.Phase)
		if ef, et := escrowStatusFor(from), escrowStatusFor(t.Phase); ef != et {
			data["escrowFrom"] = string(ef)
			data["escrowTo"] = string(et)
		}
	}
	if actorID != "" {
		data["actor"] = actorID
	}
	s.events.Publish(ctx, &events.Event{
		Type:           typ,
		TradeID:        t.ID,
		IdempotencyKey: idempotencyKey,
		Data:           data,
	})
}

func role(t *Trade, userID string) string {
	if userID == t.BuyerID {
		return "buyer"
	}
	return "seller"
}
