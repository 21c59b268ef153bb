package observability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/agentchat"
	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/payment/memory"
	memstore "github.com/xraph/agentchat/store/memory"
	"github.com/xraph/agentchat/types"
)

var (
	owner = account.MustParse("0x00000000000000000000000000000000000000a1")
	agent = account.MustParse("0x00000000000000000000000000000000000000a2")
	user  = account.MustParse("0x00000000000000000000000000000000000000b1")
)

func counterValue(t *testing.T, c Counter) float64 {
	t.Helper()
	pc, ok := c.(prometheus.Counter)
	if !ok {
		t.Fatalf("counter %T is not a prometheus.Counter", c)
	}
	return testutil.ToFloat64(pc)
}

func TestMetricsThroughEngine(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := NewMetricsExtension(NewPrometheusFactory(reg))

	bank := memory.NewBank()
	_ = bank.Deposit(user, types.Units(10))
	l := agentchat.New(memstore.New(),
		agentchat.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		agentchat.WithForwarder(bank),
		agentchat.WithPlugin(m),
	)

	c, err := l.Deploy(ctx, owner, agent)
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if _, err := l.BuyChatLimit(ctx, c.ID, user, types.Units(1)); err != nil {
			t.Fatal(err)
		}
	}
	_, _ = l.BuyChatLimit(ctx, c.ID, user, types.Units(2))
	_ = l.SetBuyLimit(ctx, c.ID, user, types.Units(1))
	bank.Reject(agent, true)
	_, _ = l.BuyChatLimit(ctx, c.ID, user, types.Units(1))

	tests := []struct {
		name string
		c    Counter
		want float64
	}{
		{"ContractsDeployed", m.ContractsDeployed, 1},
		{"Purchases", m.Purchases, 3},
		{"MessagesGranted", m.MessagesGranted, 300},
		{"Rejections", m.Rejections, 3},
		{"IncorrectPayments", m.IncorrectPayments, 1},
		{"Unauthorized", m.Unauthorized, 1},
		{"ForwardFailures", m.ForwardFailures, 1},
		{"StoreErrors", m.StoreErrors, 0},
	}
	for _, tt := range tests {
		if got := counterValue(t, tt.c); got != tt.want {
			t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
		}
	}

	if n, err := testutil.GatherAndCount(reg, "agentchat_purchase_payment_amount"); err != nil || n != 1 {
		t.Errorf("payment histogram series = %d, %v", n, err)
	}
}

func TestRejectionClassification(t *testing.T) {
	m := NewMetricsExtension(NewPrometheusFactory(prometheus.NewRegistry()))
	ctx := context.Background()
	cid := id.NewContractID()

	_ = m.OnOperationRejected(ctx, agentchat.OpSetBuyLimit, cid, user, fmt.Errorf("x: %w", agentchat.ErrTransactionFailed))
	_ = m.OnOperationRejected(ctx, agentchat.OpBuyChatLimit, cid, user, agentchat.ErrContractNotFound)
	_ = m.OnPaymentReversed(ctx, cid, "ref", nil)
	_ = m.OnPaymentReversed(ctx, cid, "ref", errors.New("down"))

	if got := counterValue(t, m.StoreErrors); got != 1 {
		t.Errorf("StoreErrors = %v, want 1", got)
	}
	if got := counterValue(t, m.Rejections); got != 2 {
		t.Errorf("Rejections = %v, want 2", got)
	}
	if got := counterValue(t, m.PaymentsReversed); got != 1 {
		t.Errorf("PaymentsReversed = %v", got)
	}
	if got := counterValue(t, m.ReversalsFailed); got != 1 {
		t.Errorf("ReversalsFailed = %v", got)
	}
}

func TestPrometheusFactoryReuse(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := NewPrometheusFactory(reg)

	a := f.Counter("agentchat.test.count")
	b := f.Counter("agentchat.test.count")
	a.Inc()
	b.Inc()
	if got := counterValue(t, a); got != 2 {
		t.Errorf("shared counter = %v, want 2", got)
	}

	// A second factory on the same registry picks up the existing collector.
	g := NewPrometheusFactory(reg).Counter("agentchat.test.count")
	g.Inc()
	if got := counterValue(t, a); got != 3 {
		t.Errorf("counter after second factory = %v, want 3", got)
	}

	if got := promName("agentchat.payment.forward-failed"); got != "agentchat_payment_forward_failed" {
		t.Errorf("promName = %q", got)
	}
}
