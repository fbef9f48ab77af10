package order

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestService() *Service {
	return NewService(NewMemoryStore(), "BZR", "BRL")
}

func validRequest() CreateRequest {
	return CreateRequest{
		Side:           SideSell,
		UnitPrice:      "5.20",
		MinAmount:      "10",
		MaxAmount:      "500",
		PaymentMethods: []string{"pix"},
	}
}

func TestCreate(t *testing.T) {
	s := newTestService()

	o, err := s.Create(context.Background(), "alice", validRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.ID == "" || o.Status != StatusActive {
		t.Errorf("order = %+v", o)
	}
	if o.TokenSymbol != "BZR" || o.FiatCurrency != "BRL" {
		t.Errorf("pair = %s/%s", o.TokenSymbol, o.FiatCurrency)
	}
}

func TestCreate_Invalid(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"bad side", func(r *CreateRequest) { r.Side = "short" }},
		{"zero price", func(r *CreateRequest) { r.UnitPrice = "0" }},
		{"negative min", func(r *CreateRequest) { r.MinAmount = "-1" }},
		{"max below min", func(r *CreateRequest) { r.MaxAmount = "5" }},
		{"no payment methods", func(r *CreateRequest) { r.PaymentMethods = nil }},
		{"bad window", func(r *CreateRequest) { r.PaymentWindow = "soon" }},
		{"negative window", func(r *CreateRequest) { r.PaymentWindow = "-5m" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			if _, err := s.Create(ctx, "alice", req); !errors.Is(err, ErrInvalidOrder) {
				t.Errorf("create = %v, want ErrInvalidOrder", err)
			}
		})
	}
}

func TestCreate_CustomWindow(t *testing.T) {
	s := newTestService()
	req := validRequest()
	req.PaymentWindow = "45m"

	o, err := s.Create(context.Background(), "alice", req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if o.PaymentWindow != 45*time.Minute {
		t.Errorf("window = %v, want 45m", o.PaymentWindow)
	}
}

func TestEdit(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	o, err := s.Create(ctx, "alice", validRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	terms := "fast payers only"
	o, err = s.Edit(ctx, "alice", o.ID, UpdateRequest{
		UnitPrice:     "6.10",
		MaxAmount:     "800",
		PaymentWindow: "20m",
		Terms:         &terms,
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if o.UnitPrice != "6.10" || o.MaxAmount != "800" || o.Terms != terms {
		t.Errorf("order = %+v", o)
	}
	if o.PaymentWindow != 20*time.Minute {
		t.Errorf("window = %v, want 20m", o.PaymentWindow)
	}
	// Untouched fields survive.
	if o.MinAmount != "10" || len(o.PaymentMethods) != 1 {
		t.Errorf("order = %+v", o)
	}
}

func TestEdit_Invalid(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	o, err := s.Create(ctx, "alice", validRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tests := []struct {
		name string
		req  UpdateRequest
	}{
		{"zero price", UpdateRequest{UnitPrice: "0"}},
		{"negative min", UpdateRequest{MinAmount: "-1"}},
		{"max below existing min", UpdateRequest{MaxAmount: "5"}},
		{"min above existing max", UpdateRequest{MinAmount: "501"}},
		{"empty payment methods", UpdateRequest{PaymentMethods: []string{}}},
		{"bad window", UpdateRequest{PaymentWindow: "soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.Edit(ctx, "alice", o.ID, tt.req); !errors.Is(err, ErrInvalidOrder) {
				t.Errorf("edit = %v, want ErrInvalidOrder", err)
			}
		})
	}
}

func TestEdit_OwnerAndStatusGuards(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	o, err := s.Create(ctx, "alice", validRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.Edit(ctx, "mallory", o.ID, UpdateRequest{UnitPrice: "1"}); !errors.Is(err, ErrNotOwner) {
		t.Errorf("edit by non-owner = %v, want ErrNotOwner", err)
	}

	// Paused orders remain editable.
	if _, err := s.Pause(ctx, "alice", o.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := s.Edit(ctx, "alice", o.ID, UpdateRequest{UnitPrice: "7"}); err != nil {
		t.Errorf("edit paused order: %v", err)
	}

	if _, err := s.Cancel(ctx, "alice", o.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := s.Edit(ctx, "alice", o.ID, UpdateRequest{UnitPrice: "8"}); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("edit cancelled order = %v, want ErrInvalidStatus", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	o, err := s.Create(ctx, "alice", validRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if o, err = s.Pause(ctx, "alice", o.ID); err != nil || o.Status != StatusPaused {
		t.Fatalf("pause: %v, status=%s", err, o.Status)
	}
	if o, err = s.Resume(ctx, "alice", o.ID); err != nil || o.Status != StatusActive {
		t.Fatalf("resume: %v, status=%s", err, o.Status)
	}
	if o, err = s.Complete(ctx, "alice", o.ID); err != nil || o.Status != StatusCompleted {
		t.Fatalf("complete: %v, status=%s", err, o.Status)
	}

	// Terminal: no further transitions.
	if _, err = s.Resume(ctx, "alice", o.ID); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("resume completed order = %v, want ErrInvalidStatus", err)
	}
	if _, err = s.Cancel(ctx, "alice", o.ID); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("cancel completed order = %v, want ErrInvalidStatus", err)
	}
}

func TestOwnerOnlyMutation(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	o, err := s.Create(ctx, "alice", validRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.Pause(ctx, "mallory", o.ID); !errors.Is(err, ErrNotOwner) {
		t.Errorf("pause by non-owner = %v, want ErrNotOwner", err)
	}
}

func TestList(t *testing.T) {
	s := newTestService()
	ctx := context.Background()

	if _, err := s.Create(ctx, "alice", validRequest()); err != nil {
		t.Fatal(err)
	}
	buyReq := validRequest()
	buyReq.Side = SideBuy
	if _, err := s.Create(ctx, "bob", buyReq); err != nil {
		t.Fatal(err)
	}

	sells, err := s.List(ctx, ListFilter{Side: SideSell})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(sells) != 1 || sells[0].OwnerID != "alice" {
		t.Errorf("sell side: %+v", sells)
	}

	all, err := s.List(ctx, ListFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d orders, want 2", len(all))
	}
}
