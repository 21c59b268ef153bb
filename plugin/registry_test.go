package plugin

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/agentchat/contract"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/ownership"
	"github.com/xraph/agentchat/purchase"
)

type recorder struct {
	name      string
	deployed  atomic.Int32
	purchased atomic.Int32
	accepted  atomic.Int32
	err       error
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnContractDeployed(context.Context, *contract.Contract) error {
	r.deployed.Add(1)
	return r.err
}

func (r *recorder) OnLimitPurchased(context.Context, *purchase.Receipt) error {
	r.purchased.Add(1)
	return r.err
}

func (r *recorder) OnTransferAccepted(context.Context, *ownership.Transfer) error {
	r.accepted.Add(1)
	return r.err
}

type slow struct{}

func (slow) Name() string { return "slow" }

func (slow) OnContractDeployed(ctx context.Context, _ *contract.Contract) error {
	<-ctx.Done()
	time.Sleep(10 * time.Millisecond)
	return nil
}

type panicky struct{}

func (panicky) Name() string { return "panicky" }

func (panicky) OnContractDeployed(context.Context, *contract.Contract) error {
	panic("boom")
}

func quietRegistry(buf *bytes.Buffer) *Registry {
	return NewRegistry().WithLogger(slog.New(slog.NewTextHandler(buf, nil)))
}

func TestRegisterDuplicate(t *testing.T) {
	var buf bytes.Buffer
	r := quietRegistry(&buf)
	if err := r.Register(&recorder{name: "a"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&recorder{name: "a"}); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if r.Count() != 1 {
		t.Errorf("Count = %d, want 1", r.Count())
	}
	if r.Get("a") == nil || r.Get("missing") != nil {
		t.Error("Get returned unexpected result")
	}
	if len(r.List()) != 1 {
		t.Errorf("List len = %d", len(r.List()))
	}
}

func TestDispatchOnlyToImplementers(t *testing.T) {
	var buf bytes.Buffer
	r := quietRegistry(&buf)
	rec := &recorder{name: "rec"}
	if err := r.Register(rec); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	r.EmitContractDeployed(ctx, &contract.Contract{})
	r.EmitLimitPurchased(ctx, &purchase.Receipt{})
	r.EmitLimitPurchased(ctx, &purchase.Receipt{})
	r.EmitTransferInitiated(ctx, &ownership.Transfer{})
	r.EmitPaymentReversed(ctx, id.NewContractID(), "ref", nil)

	if got := rec.deployed.Load(); got != 1 {
		t.Errorf("deployed = %d, want 1", got)
	}
	if got := rec.purchased.Load(); got != 2 {
		t.Errorf("purchased = %d, want 2", got)
	}
	if got := rec.accepted.Load(); got != 0 {
		t.Errorf("accepted = %d, want 0", got)
	}
}

func TestHookErrorIsLogged(t *testing.T) {
	var buf bytes.Buffer
	r := quietRegistry(&buf)
	_ = r.Register(&recorder{name: "failing", err: errors.New("nope")})

	r.EmitTransferAccepted(context.Background(), &ownership.Transfer{})

	if !strings.Contains(buf.String(), "plugin OnTransferAccepted failed") {
		t.Errorf("expected warning in log, got %q", buf.String())
	}
}

func TestTimeout(t *testing.T) {
	var buf bytes.Buffer
	r := quietRegistry(&buf).WithTimeout(20 * time.Millisecond)
	_ = r.Register(slow{})

	start := time.Now()
	r.EmitContractDeployed(context.Background(), &contract.Contract{})
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("emit took %v, expected the timeout to cut it short", elapsed)
	}
	if !strings.Contains(buf.String(), "plugin timeout: slow") {
		t.Errorf("expected timeout in log, got %q", buf.String())
	}
}

func TestPanicIsContained(t *testing.T) {
	var buf bytes.Buffer
	r := quietRegistry(&buf)
	_ = r.Register(panicky{})

	r.EmitContractDeployed(context.Background(), &contract.Contract{})

	if !strings.Contains(buf.String(), "plugin panic: panicky") {
		t.Errorf("expected panic in log, got %q", buf.String())
	}
}

func TestImplementedInterfaces(t *testing.T) {
	got := implementedInterfaces(&recorder{name: "rec"})
	want := []string{"OnContractDeployed", "OnTransferAccepted", "OnLimitPurchased"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("implementedInterfaces = %v, want %v", got, want)
	}
}
