package audithook

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/xraph/agentchat"
	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/payment/memory"
	memstore "github.com/xraph/agentchat/store/memory"
	"github.com/xraph/agentchat/types"
)

type sink struct {
	mu     sync.Mutex
	events []*AuditEvent
}

func (s *sink) Record(_ context.Context, e *AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *sink) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, e := range s.events {
		out[i] = e.Action
	}
	return out
}

func (s *sink) last() *AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

var (
	owner = account.MustParse("0x00000000000000000000000000000000000000a1")
	agent = account.MustParse("0x00000000000000000000000000000000000000a2")
	user  = account.MustParse("0x00000000000000000000000000000000000000b1")
)

func TestRecordsEngineEvents(t *testing.T) {
	ctx := context.Background()
	rec := &sink{}
	bank := memory.NewBank()
	_ = bank.Deposit(user, types.Units(10))

	l := agentchat.New(memstore.New(),
		agentchat.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		agentchat.WithForwarder(bank),
		agentchat.WithPlugin(New(rec)),
	)

	c, err := l.Deploy(ctx, owner, agent)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := l.BuyChatLimit(ctx, c.ID, user, types.Units(1)); err != nil {
		t.Fatal(err)
	}
	if err := l.SetBuyLimitPrice(ctx, c.ID, owner, types.Units(3)); err != nil {
		t.Fatal(err)
	}
	if err := l.SetUserLimit(ctx, c.ID, owner, user, types.Units(7)); err != nil {
		t.Fatal(err)
	}
	if _, err := l.InitiateTransfer(ctx, c.ID, owner, user); err != nil {
		t.Fatal(err)
	}
	if _, err := l.CancelTransfer(ctx, c.ID, owner); err != nil {
		t.Fatal(err)
	}
	_, _ = l.InitiateTransfer(ctx, c.ID, user, user)

	want := []string{
		ActionContractDeployed,
		ActionLimitPurchased,
		ActionPricingChanged,
		ActionUserLimitsSet,
		ActionTransferInitiated,
		ActionTransferCanceled,
		ActionOperationRejected,
	}
	got := rec.actions()
	if len(got) != len(want) {
		t.Fatalf("actions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("action[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	rejected := rec.last()
	if rejected.Severity != SeverityWarning || rejected.Outcome != OutcomeFailure {
		t.Errorf("rejection event = %+v", rejected)
	}
	if rejected.Metadata["revert_reason"] != "You aren't the owner" {
		t.Errorf("revert_reason = %v", rejected.Metadata["revert_reason"])
	}
	if rejected.Metadata["op"] != agentchat.OpInitiateTransfer {
		t.Errorf("op = %v", rejected.Metadata["op"])
	}
}

func TestPaymentReversalSeverity(t *testing.T) {
	ctx := context.Background()
	rec := &sink{}
	e := New(rec)
	cid := id.NewContractID()

	_ = e.OnPaymentReversed(ctx, cid, "ref-1", nil)
	if ev := rec.last(); ev.Action != ActionPaymentReversed || ev.Severity != SeverityWarning {
		t.Errorf("event = %+v", ev)
	}

	_ = e.OnPaymentReversed(ctx, cid, "ref-2", errors.New("bank down"))
	ev := rec.last()
	if ev.Action != ActionPaymentReversalFailed || ev.Severity != SeverityCritical || ev.Reason != "bank down" {
		t.Errorf("event = %+v", ev)
	}
	if ev.ResourceID != "ref-2" {
		t.Errorf("ResourceID = %q", ev.ResourceID)
	}
}

func TestEnabledActions(t *testing.T) {
	ctx := context.Background()
	cid := id.NewContractID()

	rec := &sink{}
	e := New(rec, WithEnabledActions(ActionPaymentReversalFailed))
	_ = e.OnPaymentReversed(ctx, cid, "ref", nil)
	_ = e.OnPaymentReversed(ctx, cid, "ref", errors.New("x"))
	if got := rec.actions(); len(got) != 1 || got[0] != ActionPaymentReversalFailed {
		t.Errorf("actions = %v", got)
	}

	rec = &sink{}
	e = New(rec, WithDisabledActions(ActionOperationRejected))
	_ = e.OnOperationRejected(ctx, agentchat.OpBuyChatLimit, cid, user, agentchat.ErrIncorrectPayment)
	_ = e.OnPaymentReversed(ctx, cid, "ref", nil)
	if got := rec.actions(); len(got) != 1 || got[0] != ActionPaymentReversed {
		t.Errorf("actions = %v", got)
	}
}

func TestRecorderErrorIsSwallowed(t *testing.T) {
	e := New(RecorderFunc(func(context.Context, *AuditEvent) error {
		return errors.New("backend down")
	}), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	if err := e.OnPaymentReversed(context.Background(), id.NewContractID(), "ref", nil); err != nil {
		t.Errorf("err = %v, want nil", err)
	}
}
