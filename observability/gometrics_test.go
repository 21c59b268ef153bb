package observability

import (
	"context"
	"io"
	"log/slog"
	"testing"

	gometrics "github.com/xraph/go-utils/metrics"

	"github.com/xraph/agentchat"
	"github.com/xraph/agentchat/payment/memory"
	memstore "github.com/xraph/agentchat/store/memory"
	"github.com/xraph/agentchat/types"
)

func TestFromMetrics(t *testing.T) {
	ctx := context.Background()
	collector := gometrics.NewMetricsCollector("agentchat-test")

	bank := memory.NewBank()
	_ = bank.Deposit(user, types.Units(10))
	l := agentchat.New(memstore.New(),
		agentchat.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		agentchat.WithForwarder(bank),
		agentchat.WithPlugin(NewMetricsExtension(FromMetrics(collector))),
	)

	c, err := l.Deploy(ctx, owner, agent)
	if err != nil {
		t.Fatal(err)
	}
	for range 2 {
		if _, err := l.BuyChatLimit(ctx, c.ID, user, types.Units(1)); err != nil {
			t.Fatal(err)
		}
	}

	if got := collector.Counter("agentchat.contract.deployed").Value(); got != 1 {
		t.Errorf("deployed = %v, want 1", got)
	}
	if got := collector.Counter("agentchat.purchase.completed").Value(); got != 2 {
		t.Errorf("purchases = %v, want 2", got)
	}
}
