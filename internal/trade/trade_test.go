package trade

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mvbraga/peertrade/internal/arbiter"
	"github.com/mvbraga/peertrade/internal/chat"
	"github.com/mvbraga/peertrade/internal/custodian"
	"github.com/mvbraga/peertrade/internal/events"
	"github.com/mvbraga/peertrade/internal/ledger"
	"github.com/mvbraga/peertrade/internal/order"
	"github.com/mvbraga/peertrade/internal/token"
)

// flakyCustodian wraps a real custodian and injects failures per call
// kind. A zero value passes everything through.
type flakyCustodian struct {
	inner custodian.Custodian

	mu         sync.Mutex
	lockErr    error
	releaseErr error
	refundErr  error
	releaseCnt int
	refundCnt  int
}

func (f *flakyCustodian) fail(release, refund error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseErr, f.refundErr = release, refund
}

func (f *flakyCustodian) Lock(ctx context.Context, req custodian.LockRequest) error {
	f.mu.Lock()
	err := f.lockErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.inner.Lock(ctx, req)
}

func (f *flakyCustodian) Release(ctx context.Context, tradeID string) (*custodian.Receipt, error) {
	f.mu.Lock()
	f.releaseCnt++
	err := f.releaseErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.inner.Release(ctx, tradeID)
}

func (f *flakyCustodian) Refund(ctx context.Context, tradeID string) (*custodian.Receipt, error) {
	f.mu.Lock()
	f.refundCnt++
	err := f.refundErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.inner.Refund(ctx, tradeID)
}

func (f *flakyCustodian) Get(ctx context.Context, tradeID string) (*custodian.Escrow, error) {
	return f.inner.Get(ctx, tradeID)
}

// fakeDeadlines records arm/disarm calls.
type fakeDeadlines struct {
	mu    sync.Mutex
	armed map[string]time.Time
}

func newFakeDeadlines() *fakeDeadlines {
	return &fakeDeadlines{armed: make(map[string]time.Time)}
}

func (f *fakeDeadlines) Arm(ctx context.Context, tradeID string, firesAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed[tradeID] = firesAt
	return nil
}

func (f *fakeDeadlines) Disarm(ctx context.Context, tradeID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.armed, tradeID)
	return nil
}

func (f *fakeDeadlines) isArmed(tradeID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.armed[tradeID]
	return ok
}

type env struct {
	service   *Service
	ledger    *ledger.Ledger
	custodian *flakyCustodian
	chat      *chat.Log
	deadlines *fakeDeadlines
	orders    *order.Service
	arbiter   *arbiter.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	led := ledger.New(ledger.NewMemoryStore())
	cust := &flakyCustodian{inner: custodian.NewLedgerCustodian(custodian.NewMemoryStore(), led)}
	orders := order.NewService(order.NewMemoryStore(), "BZR", "BRL")
	arb := arbiter.NewService(arbiter.NewMemoryStore())
	deadlines := newFakeDeadlines()

	svc := NewService(NewMemoryStore(), orders, cust, arb, nil, time.Minute, logger)
	chatLog := chat.NewLog(chat.NewMemoryStore(), svc)
	svc.WithChat(chatLog).WithDeadlines(deadlines)

	if err := led.Deposit(context.Background(), "seller", "100", "seed"); err != nil {
		t.Fatalf("seed deposit: %v", err)
	}

	return &env{
		service:   svc,
		ledger:    led,
		custodian: cust,
		chat:      chatLog,
		deadlines: deadlines,
		orders:    orders,
		arbiter:   arb,
	}
}

func (e *env) sellOrder(t *testing.T) *order.Order {
	t.Helper()
	o, err := e.orders.Create(context.Background(), "seller", order.CreateRequest{
		Side:           order.SideSell,
		UnitPrice:      "5.25",
		MinAmount:      "1",
		MaxAmount:      "50",
		PaymentMethods: []string{"pix"},
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func (e *env) open(t *testing.T, orderID, amount string) *Trade {
	t.Helper()
	tr, err := e.service.Open(context.Background(), "buyer", OpenRequest{OrderID: orderID, Amount: amount})
	if err != nil {
		t.Fatalf("open trade: %v", err)
	}
	return tr
}

// openPending opens a trade and advances it to payment_pending.
func (e *env) openPending(t *testing.T) *Trade {
	t.Helper()
	tr := e.open(t, e.sellOrder(t).ID, "10")
	tr, err := e.service.MarkPaymentSent(context.Background(), "buyer", tr.ID)
	if err != nil {
		t.Fatalf("mark payment sent: %v", err)
	}
	return tr
}

func (e *env) available(t *testing.T, userID string) string {
	t.Helper()
	bal, err := e.ledger.GetBalance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance %s: %v", userID, err)
	}
	return bal.Available
}

// eventRecorder collects published events in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *eventRecorder) record(ev *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// transitions returns the recorded events carrying a phase change.
func (r *eventRecorder) transitions() []*events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*events.Event
	for _, ev := range r.events {
		if _, ok := ev.Data["from"]; ok {
			out = append(out, ev)
		}
	}
	return out
}

// recordEvents attaches a dispatcher with an in-process listener, so a
// test can observe what the service publishes from this point on.
func (e *env) recordEvents(t *testing.T) *eventRecorder {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec := &eventRecorder{}
	d := events.NewDispatcher(events.NewMemoryStore(), logger)
	d.AddListener(rec.record)
	e.service.events = d
	return rec
}

func assertAmount(t *testing.T, got, want string) {
	t.Helper()
	if c, ok := token.Cmp(got, want); !ok || c != 0 {
		t.Errorf("amount = %s, want %s", got, want)
	}
}

func TestOpen_LocksEscrowAndArmsDeadline(t *testing.T) {
	e := newEnv(t)
	tr := e.open(t, e.sellOrder(t).ID, "10")

	if tr.Phase != PhaseInitiated {
		t.Errorf("phase = %s, want %s", tr.Phase, PhaseInitiated)
	}
	if tr.BuyerID != "buyer" || tr.SellerID != "seller" {
		t.Errorf("parties = %s/%s", tr.BuyerID, tr.SellerID)
	}
	if tr.EscrowExpiresAt == nil {
		t.Fatal("escrow deadline not set")
	}
	if !e.deadlines.isArmed(tr.ID) {
		t.Error("deadline not armed")
	}
	assertAmount(t, e.available(t, "seller"), "90")

	esc, err := e.custodian.Get(context.Background(), tr.ID)
	if err != nil {
		t.Fatalf("escrow: %v", err)
	}
	if esc.Status != custodian.StatusLocked {
		t.Errorf("escrow status = %s", esc.Status)
	}

	msgs, _ := e.chat.ListAfter(context.Background(), tr.ID, 0, 100)
	if len(msgs) != 1 || msgs[0].Type != chat.TypeSystem {
		t.Errorf("expected one system message, got %+v", msgs)
	}
}

func TestOpen_BuySideOrderSwapsParties(t *testing.T) {
	e := newEnv(t)
	// Owner buys BZR, so the taker is the seller and funds the escrow.
	if err := e.ledger.Deposit(context.Background(), "taker", "100", "seed"); err != nil {
		t.Fatal(err)
	}
	o, err := e.orders.Create(context.Background(), "owner", order.CreateRequest{
		Side:           order.SideBuy,
		UnitPrice:      "5.00",
		MinAmount:      "1",
		MaxAmount:      "50",
		PaymentMethods: []string{"pix"},
	})
	if err != nil {
		t.Fatal(err)
	}

	tr, err := e.service.Open(context.Background(), "taker", OpenRequest{OrderID: o.ID, Amount: "10"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if tr.BuyerID != "owner" || tr.SellerID != "taker" {
		t.Errorf("parties = %s/%s, want owner/taker", tr.BuyerID, tr.SellerID)
	}
	assertAmount(t, e.available(t, "taker"), "90")
}

func TestOpen_PriceSnapshotSurvivesOrderEdit(t *testing.T) {
	e := newEnv(t)
	o := e.sellOrder(t)
	tr := e.open(t, o.ID, "10")
	ctx := context.Background()

	if _, err := e.orders.Edit(ctx, "seller", o.ID, order.UpdateRequest{UnitPrice: "9.99"}); err != nil {
		t.Fatalf("edit order: %v", err)
	}

	got, err := e.service.Get(ctx, "buyer", tr.ID)
	if err != nil {
		t.Fatalf("get trade: %v", err)
	}
	if got.UnitPrice != "5.25" {
		t.Errorf("unit price = %s, want the price at open", got.UnitPrice)
	}
}

func TestOpen_Rejections(t *testing.T) {
	e := newEnv(t)
	o := e.sellOrder(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		caller  string
		orderID string
		amount  string
		wantErr error
	}{
		{"self trade", "seller", o.ID, "10", ErrSelfTrade},
		{"below minimum", "buyer", o.ID, "0.5", ErrAmountOutOfBounds},
		{"above maximum", "buyer", o.ID, "51", ErrAmountOutOfBounds},
		{"garbage amount", "buyer", o.ID, "ten", ErrAmountOutOfBounds},
		{"unknown order", "buyer", "ord_missing", "10", order.ErrOrderNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.service.Open(ctx, tt.caller, OpenRequest{OrderID: tt.orderID, Amount: tt.amount})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("open = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestOpen_PausedOrderRejected(t *testing.T) {
	e := newEnv(t)
	o := e.sellOrder(t)
	if _, err := e.orders.Pause(context.Background(), "seller", o.ID); err != nil {
		t.Fatal(err)
	}

	_, err := e.service.Open(context.Background(), "buyer", OpenRequest{OrderID: o.ID, Amount: "10"})
	if !errors.Is(err, order.ErrOrderNotActive) {
		t.Errorf("open = %v, want ErrOrderNotActive", err)
	}
}

func TestOpen_InsufficientEscrowAbortsCreation(t *testing.T) {
	e := newEnv(t)
	o := e.sellOrder(t)

	// Seller has 100, order allows up to 50; drain the balance first.
	if err := e.ledger.Withdraw(context.Background(), "seller", "95", "drain"); err != nil {
		t.Fatal(err)
	}

	_, err := e.service.Open(context.Background(), "buyer", OpenRequest{OrderID: o.ID, Amount: "10"})
	if !errors.Is(err, custodian.ErrInsufficientFunds) {
		t.Fatalf("open = %v, want ErrInsufficientFunds", err)
	}

	trades, _, _, lerr := e.service.ListForUser(context.Background(), "buyer", "", 10)
	if lerr != nil || len(trades) != 0 {
		t.Errorf("trades = %v (err %v), want none", trades, lerr)
	}
}

func TestMarkPaymentSent(t *testing.T) {
	e := newEnv(t)
	tr := e.open(t, e.sellOrder(t).ID, "10")
	ctx := context.Background()

	if _, err := e.service.MarkPaymentSent(ctx, "seller", tr.ID); !errors.Is(err, ErrNotBuyer) {
		t.Errorf("seller mark = %v, want ErrNotBuyer", err)
	}
	if _, err := e.service.MarkPaymentSent(ctx, "stranger", tr.ID); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("stranger mark = %v, want ErrNotParticipant", err)
	}

	got, err := e.service.MarkPaymentSent(ctx, "buyer", tr.ID)
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	if got.Phase != PhasePaymentPending {
		t.Errorf("phase = %s, want %s", got.Phase, PhasePaymentPending)
	}

	if _, err := e.service.MarkPaymentSent(ctx, "buyer", tr.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second mark = %v, want ErrInvalidTransition", err)
	}
}

func TestSubmitProof(t *testing.T) {
	e := newEnv(t)
	tr := e.open(t, e.sellOrder(t).ID, "10")
	ctx := context.Background()
	proof := ProofRequest{Type: "image", Location: "s3://proofs/receipt.png"}

	// Proof before the payment claim is premature.
	if _, err := e.service.SubmitProof(ctx, "buyer", tr.ID, proof); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("early proof = %v, want ErrInvalidTransition", err)
	}

	if _, err := e.service.MarkPaymentSent(ctx, "buyer", tr.ID); err != nil {
		t.Fatal(err)
	}

	got, err := e.service.SubmitProof(ctx, "buyer", tr.ID, proof)
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	if got.Phase != PhasePaymentPending {
		t.Errorf("phase = %s, proof must not advance the trade", got.Phase)
	}
	if got.Proof == nil || got.Proof.Location != proof.Location {
		t.Errorf("proof = %+v", got.Proof)
	}

	// A second submission replaces the first.
	got, err = e.service.SubmitProof(ctx, "buyer", tr.ID, ProofRequest{Type: "file", Location: "s3://proofs/receipt.pdf"})
	if err != nil {
		t.Fatalf("replace proof: %v", err)
	}
	if got.Proof.Type != "file" {
		t.Errorf("proof type = %s, want file", got.Proof.Type)
	}

	if _, err := e.service.SubmitProof(ctx, "seller", tr.ID, proof); !errors.Is(err, ErrNotBuyer) {
		t.Errorf("seller proof = %v, want ErrNotBuyer", err)
	}
}

func TestSubmitProof_AfterConfirmRejected(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)
	ctx := context.Background()

	if _, err := e.service.ConfirmPayment(ctx, "seller", tr.ID); err != nil {
		t.Fatal(err)
	}

	_, err := e.service.SubmitProof(ctx, "buyer", tr.ID, ProofRequest{Type: "image", Location: "s3://late.png"})
	if !errors.Is(err, ErrProofNotAllowed) {
		t.Errorf("late proof = %v, want ErrProofNotAllowed", err)
	}
}

func TestConfirmPayment_CompletesAndPaysBuyer(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)
	ctx := context.Background()

	got, err := e.service.ConfirmPayment(ctx, "seller", tr.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got.Phase != PhaseCompleted {
		t.Errorf("phase = %s, want %s", got.Phase, PhaseCompleted)
	}
	if got.SettlementReceiptID == "" {
		t.Error("settlement receipt not recorded")
	}
	if got.EscrowStatus() != EscrowReleased {
		t.Errorf("escrow status = %s", got.EscrowStatus())
	}
	if e.deadlines.isArmed(tr.ID) {
		t.Error("deadline still armed after completion")
	}
	assertAmount(t, e.available(t, "buyer"), "10")
	assertAmount(t, e.available(t, "seller"), "90")
}

func TestConfirmPayment_OnlySellerFromPaymentPending(t *testing.T) {
	e := newEnv(t)
	tr := e.open(t, e.sellOrder(t).ID, "10")
	ctx := context.Background()

	if _, err := e.service.ConfirmPayment(ctx, "buyer", tr.ID); !errors.Is(err, ErrNotSeller) {
		t.Errorf("buyer confirm = %v, want ErrNotSeller", err)
	}
	if _, err := e.service.ConfirmPayment(ctx, "seller", tr.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("confirm in initiated = %v, want ErrInvalidTransition", err)
	}
}

func TestConfirmPayment_CustodianDownParksTrade(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)
	ctx := context.Background()
	e.custodian.fail(custodian.ErrUnavailable, nil)

	got, err := e.service.ConfirmPayment(ctx, "seller", tr.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if got.Phase != PhasePaymentConfirmed {
		t.Errorf("phase = %s, want %s", got.Phase, PhasePaymentConfirmed)
	}
	if e.deadlines.isArmed(tr.ID) {
		t.Error("deadline still armed; confirmed trades must not expire")
	}
	// Funds still in escrow until the settler finishes.
	assertAmount(t, e.available(t, "buyer"), "0")
}

func TestConfirmPayment_HardFailureLeavesTradeUntouched(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)
	ctx := context.Background()
	e.custodian.fail(errors.New("escrow corrupted"), nil)

	_, err := e.service.ConfirmPayment(ctx, "seller", tr.ID)
	if !errors.Is(err, ErrCustodianFailure) {
		t.Fatalf("confirm = %v, want ErrCustodianFailure", err)
	}

	got, _ := e.service.Get(ctx, "seller", tr.ID)
	if got.Phase != PhasePaymentPending {
		t.Errorf("phase = %s, want unchanged %s", got.Phase, PhasePaymentPending)
	}
	if !e.deadlines.isArmed(tr.ID) {
		t.Error("deadline must stay armed when nothing moved")
	}
}

func TestCancel_RefundsSeller(t *testing.T) {
	e := newEnv(t)
	tr := e.open(t, e.sellOrder(t).ID, "10")
	ctx := context.Background()

	got, err := e.service.Cancel(ctx, "seller", tr.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Phase != PhaseCancelled {
		t.Errorf("phase = %s, want %s", got.Phase, PhaseCancelled)
	}
	if e.deadlines.isArmed(tr.ID) {
		t.Error("deadline still armed after cancel")
	}
	assertAmount(t, e.available(t, "seller"), "100")
}

func TestCancel_BuyerMayCancelWhilePaymentPending(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)

	got, err := e.service.Cancel(context.Background(), "buyer", tr.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Phase != PhaseCancelled {
		t.Errorf("phase = %s", got.Phase)
	}
}

func TestCancel_BlockedByProof(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)
	ctx := context.Background()

	if _, err := e.service.SubmitProof(ctx, "buyer", tr.ID, ProofRequest{Type: "image", Location: "s3://p.png"}); err != nil {
		t.Fatal(err)
	}

	if _, err := e.service.Cancel(ctx, "seller", tr.ID); !errors.Is(err, ErrCancelAfterProof) {
		t.Errorf("cancel = %v, want ErrCancelAfterProof", err)
	}
}

func TestCancel_TerminalPhaseRejected(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)
	ctx := context.Background()

	if _, err := e.service.ConfirmPayment(ctx, "seller", tr.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.service.Cancel(ctx, "buyer", tr.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancel = %v, want ErrInvalidTransition", err)
	}
}

func TestDispute_FreezesTrade(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)
	ctx := context.Background()

	got, err := e.service.OpenDispute(ctx, "buyer", tr.ID, DisputeRequest{Reason: "seller unresponsive"})
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if got.Phase != PhaseDisputed {
		t.Errorf("phase = %s, want %s", got.Phase, PhaseDisputed)
	}
	if got.EscrowStatus() != EscrowDisputed {
		t.Errorf("escrow status = %s", got.EscrowStatus())
	}
	if e.deadlines.isArmed(tr.ID) {
		t.Error("deadline must be disarmed during dispute")
	}

	// Frozen: no confirm, no cancel, no second dispute.
	if _, err := e.service.ConfirmPayment(ctx, "seller", tr.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("confirm = %v", err)
	}
	if _, err := e.service.Cancel(ctx, "buyer", tr.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancel = %v", err)
	}
	if _, err := e.service.OpenDispute(ctx, "seller", tr.ID, DisputeRequest{Reason: "again"}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second dispute = %v", err)
	}

	d, err := e.arbiter.Get(ctx, tr.ID)
	if err != nil {
		t.Fatalf("dispute record: %v", err)
	}
	if d.OpenedBy != "buyer" || d.Status != arbiter.StatusOpen {
		t.Errorf("dispute = %+v", d)
	}
}

func TestSubmitEvidence(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)
	ctx := context.Background()

	if _, err := e.service.SubmitEvidence(ctx, "buyer", tr.ID, "bank statement", ""); !errors.Is(err, ErrNotDisputed) {
		t.Errorf("evidence before dispute = %v, want ErrNotDisputed", err)
	}

	if _, err := e.service.OpenDispute(ctx, "buyer", tr.ID, DisputeRequest{Reason: "no tokens"}); err != nil {
		t.Fatal(err)
	}

	ev, err := e.service.SubmitEvidence(ctx, "seller", tr.ID, "chat screenshot", "https://cdn/img.png")
	if err != nil {
		t.Fatalf("evidence: %v", err)
	}
	if ev.ActorID != "seller" {
		t.Errorf("evidence actor = %s", ev.ActorID)
	}

	if _, err := e.service.SubmitEvidence(ctx, "stranger", tr.ID, "x", ""); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("stranger evidence = %v, want ErrNotParticipant", err)
	}
}

func TestArbitrate_Release(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)
	ctx := context.Background()

	if _, err := e.service.OpenDispute(ctx, "buyer", tr.ID, DisputeRequest{Reason: "paid, no tokens"}); err != nil {
		t.Fatal(err)
	}

	got, err := e.service.Arbitrate(ctx, "arb_1", tr.ID, ArbitrateRequest{
		Decision: arbiter.DecisionRelease, Reason: "proof checks out",
	})
	if err != nil {
		t.Fatalf("arbitrate: %v", err)
	}
	if got.Phase != PhaseCompleted {
		t.Errorf("phase = %s, want %s", got.Phase, PhaseCompleted)
	}
	assertAmount(t, e.available(t, "buyer"), "10")

	d, _ := e.arbiter.Get(ctx, tr.ID)
	if d.Status != arbiter.StatusDecided || d.Decision != arbiter.DecisionRelease {
		t.Errorf("dispute = %+v", d)
	}
}

func TestArbitrate_Refund(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)
	ctx := context.Background()

	if _, err := e.service.OpenDispute(ctx, "seller", tr.ID, DisputeRequest{Reason: "payment never arrived"}); err != nil {
		t.Fatal(err)
	}

	got, err := e.service.Arbitrate(ctx, "arb_1", tr.ID, ArbitrateRequest{
		Decision: arbiter.DecisionRefund, Reason: "no payment evidence",
	})
	if err != nil {
		t.Fatalf("arbitrate: %v", err)
	}
	if got.Phase != PhaseCancelled {
		t.Errorf("phase = %s, want %s", got.Phase, PhaseCancelled)
	}
	assertAmount(t, e.available(t, "seller"), "100")
}

func TestArbitrate_RequiresDispute(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)

	_, err := e.service.Arbitrate(context.Background(), "arb_1", tr.ID, ArbitrateRequest{Decision: arbiter.DecisionRelease})
	if !errors.Is(err, ErrNotDisputed) {
		t.Errorf("arbitrate = %v, want ErrNotDisputed", err)
	}
}

func TestArbitrate_SecondRulingReportsDecided(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)
	ctx := context.Background()

	if _, err := e.service.OpenDispute(ctx, "seller", tr.ID, DisputeRequest{Reason: "payment never arrived"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.service.Arbitrate(ctx, "arb_1", tr.ID, ArbitrateRequest{Decision: arbiter.DecisionRefund}); err != nil {
		t.Fatalf("arbitrate: %v", err)
	}

	_, err := e.service.Arbitrate(ctx, "arb_2", tr.ID, ArbitrateRequest{Decision: arbiter.DecisionRelease})
	if !errors.Is(err, arbiter.ErrAlreadyDecided) {
		t.Errorf("second arbitrate = %v, want ErrAlreadyDecided", err)
	}

	// The original ruling stands.
	got, _ := e.service.Inspect(ctx, tr.ID)
	if got.Phase != PhaseCancelled {
		t.Errorf("phase = %s, want %s", got.Phase, PhaseCancelled)
	}
	assertAmount(t, e.available(t, "seller"), "100")
}

func TestArbitrate_InvalidDecision(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)
	ctx := context.Background()

	if _, err := e.service.OpenDispute(ctx, "buyer", tr.ID, DisputeRequest{Reason: "r"}); err != nil {
		t.Fatal(err)
	}

	_, err := e.service.Arbitrate(ctx, "arb_1", tr.ID, ArbitrateRequest{Decision: "split"})
	if !errors.Is(err, arbiter.ErrInvalidDecision) {
		t.Errorf("arbitrate = %v, want ErrInvalidDecision", err)
	}

	// The bad ruling must not have moved the trade.
	got, _ := e.service.Inspect(ctx, tr.ID)
	if got.Phase != PhaseDisputed {
		t.Errorf("phase = %s, want %s", got.Phase, PhaseDisputed)
	}
}

func TestArbitrate_CustodianDownParksDecision(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)
	ctx := context.Background()

	if _, err := e.service.OpenDispute(ctx, "buyer", tr.ID, DisputeRequest{Reason: "r"}); err != nil {
		t.Fatal(err)
	}
	e.custodian.fail(custodian.ErrUnavailable, custodian.ErrUnavailable)

	got, err := e.service.Arbitrate(ctx, "arb_1", tr.ID, ArbitrateRequest{Decision: arbiter.DecisionRelease})
	if err != nil {
		t.Fatalf("arbitrate: %v", err)
	}
	if got.Phase != PhasePaymentConfirmed {
		t.Errorf("phase = %s, want %s", got.Phase, PhasePaymentConfirmed)
	}

	// The ruling is durable even though settlement is pending.
	d, _ := e.arbiter.Get(ctx, tr.ID)
	if d.Status != arbiter.StatusDecided {
		t.Errorf("dispute status = %s", d.Status)
	}
}

func TestHandleTimeout_RefundsSeller(t *testing.T) {
	e := newEnv(t)
	tr := e.open(t, e.sellOrder(t).ID, "10")
	ctx := context.Background()

	e.service.HandleTimeout(ctx, tr.ID, time.Now())

	got, _ := e.service.Inspect(ctx, tr.ID)
	if got.Phase != PhaseCancelled {
		t.Errorf("phase = %s, want %s", got.Phase, PhaseCancelled)
	}
	assertAmount(t, e.available(t, "seller"), "100")
}

func TestHandleTimeout_EventCarriesStatusChange(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)
	rec := e.recordEvents(t)
	ctx := context.Background()

	e.service.HandleTimeout(ctx, tr.ID, time.Now())

	changed := rec.transitions()
	if len(changed) != 1 {
		t.Fatalf("transition events = %d, want 1", len(changed))
	}
	ev := changed[0]
	if ev.Type != events.EventTradeExpired {
		t.Errorf("type = %s, want %s", ev.Type, events.EventTradeExpired)
	}
	if ev.Data["from"] != string(PhasePaymentPending) || ev.Data["to"] != string(PhaseCancelled) {
		t.Errorf("transition = %v -> %v", ev.Data["from"], ev.Data["to"])
	}
	if ev.Data["escrowFrom"] != string(EscrowLocked) || ev.Data["escrowTo"] != string(EscrowReleased) {
		t.Errorf("escrow transition = %v -> %v", ev.Data["escrowFrom"], ev.Data["escrowTo"])
	}
}

func TestHandleTimeout_StaleFiringIsNoOp(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)
	ctx := context.Background()

	if _, err := e.service.ConfirmPayment(ctx, "seller", tr.ID); err != nil {
		t.Fatal(err)
	}
	refunds := e.custodian.refundCnt

	e.service.HandleTimeout(ctx, tr.ID, time.Now())

	got, _ := e.service.Inspect(ctx, tr.ID)
	if got.Phase != PhaseCompleted {
		t.Errorf("phase = %s, stale timeout must not move the trade", got.Phase)
	}
	if e.custodian.refundCnt != refunds {
		t.Error("stale timeout attempted a refund")
	}
}

// A seller confirmation and a deadline firing race on the same trade.
// The per-trade lock serializes them: whichever runs second sees the
// phase already moved and backs off, and the escrow settles exactly once.
func TestConfirmAndTimeoutRace(t *testing.T) {
	e := newEnv(t)
	tr := e.openPending(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var confirmErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, confirmErr = e.service.ConfirmPayment(ctx, "seller", tr.ID)
	}()
	go func() {
		defer wg.Done()
		e.service.HandleTimeout(ctx, tr.ID, time.Now())
	}()
	wg.Wait()

	got, err := e.service.Inspect(ctx, tr.ID)
	if err != nil {
		t.Fatal(err)
	}

	switch got.Phase {
	case PhaseCompleted:
		if confirmErr != nil {
			t.Errorf("trade completed but confirm failed: %v", confirmErr)
		}
		assertAmount(t, e.available(t, "buyer"), "10")
		assertAmount(t, e.available(t, "seller"), "90")
	case PhaseCancelled:
		if !errors.Is(confirmErr, ErrInvalidTransition) {
			t.Errorf("trade cancelled, confirm = %v, want ErrInvalidTransition", confirmErr)
		}
		assertAmount(t, e.available(t, "buyer"), "0")
		assertAmount(t, e.available(t, "seller"), "100")
	default:
		t.Fatalf("phase = %s, want a terminal phase", got.Phase)
	}

	// No double settlement either way.
	esc, err := e.custodian.Get(ctx, tr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if esc.Status == custodian.StatusLocked {
		t.Error("escrow never settled")
	}
	bal, _ := e.ledger.GetBalance(ctx, "seller")
	if c, _ := token.Cmp(bal.Escrowed, "0"); c != 0 {
		t.Errorf("seller escrowed = %s, want 0", bal.Escrowed)
	}
}

func TestListForUser_Pagination(t *testing.T) {
	e := newEnv(t)
	o := e.sellOrder(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e.open(t, o.ID, "1")
		time.Sleep(2 * time.Millisecond)
	}

	first, cursor, more, err := e.service.ListForUser(ctx, "buyer", "", 3)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(first) != 3 || !more || cursor == "" {
		t.Fatalf("page = %d items, more=%v, cursor=%q", len(first), more, cursor)
	}
	if first[0].CreatedAt.Before(first[1].CreatedAt) {
		t.Error("trades not newest first")
	}

	second, _, more, err := e.service.ListForUser(ctx, "buyer", cursor, 3)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second) != 2 || more {
		t.Errorf("second page = %d items, more=%v", len(second), more)
	}

	seen := make(map[string]bool)
	for _, tr := range append(first, second...) {
		if seen[tr.ID] {
			t.Errorf("trade %s appears twice", tr.ID)
		}
		seen[tr.ID] = true
	}

	// The seller sees the same trades from their side.
	sellerTrades, _, _, err := e.service.ListForUser(ctx, "seller", "", 10)
	if err != nil || len(sellerTrades) != 5 {
		t.Errorf("seller trades = %d (err %v), want 5", len(sellerTrades), err)
	}
}

func TestSystemMessagesPerTransition(t *testing.T) {
	e := newEnv(t)
	tr := e.open(t, e.sellOrder(t).ID, "10")
	ctx := context.Background()

	if _, err := e.service.MarkPaymentSent(ctx, "buyer", tr.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.service.SubmitProof(ctx, "buyer", tr.ID, ProofRequest{Type: "image", Location: "s3://p.png"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.service.ConfirmPayment(ctx, "seller", tr.ID); err != nil {
		t.Fatal(err)
	}

	// opened, payment sent, proof, confirmed, completed.
	msgs, _ := e.chat.ListAfter(ctx, tr.ID, 0, 100)
	if len(msgs) != 5 {
		t.Fatalf("got %d system messages, want 5", len(msgs))
	}
	for _, m := range msgs {
		if m.Type != chat.TypeSystem || m.SenderID != chat.SystemSender {
			t.Errorf("unexpected message %+v", m)
		}
	}
}

func TestGet_ParticipantsOnly(t *testing.T) {
	e := newEnv(t)
	tr := e.open(t, e.sellOrder(t).ID, "10")
	ctx := context.Background()

	if _, err := e.service.Get(ctx, "buyer", tr.ID); err != nil {
		t.Errorf("buyer get: %v", err)
	}
	if _, err := e.service.Get(ctx, "stranger", tr.ID); !errors.Is(err, ErrNotParticipant) {
		t.Errorf("stranger get = %v, want ErrNotParticipant", err)
	}
	if _, err := e.service.Get(ctx, "buyer", "trd_missing"); !errors.Is(err, ErrTradeNotFound) {
		t.Errorf("missing get = %v, want ErrTradeNotFound", err)
	}
}
