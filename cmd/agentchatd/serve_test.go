package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/xraph/agentchat"
	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/internal/config"
	"github.com/xraph/agentchat/payment"
	paymem "github.com/xraph/agentchat/payment/memory"
	"github.com/xraph/agentchat/types"
)

func TestMemoryForwarderFunded(t *testing.T) {
	setEnv(t)
	buyer := account.MustParse("0x00000000000000000000000000000000000000b1")
	broke := account.MustParse("0x00000000000000000000000000000000000000b2")
	t.Setenv("AGENTCHAT_FORWARDER", "memory")
	t.Setenv("AGENTCHAT_BALANCES", buyer.Hex()+":5")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fwd, err := openForwarder(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	ledger, err := openLedger(ctx, cfg, logger, fwd)
	if err != nil {
		t.Fatal(err)
	}
	if err := ledger.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer ledger.Stop()

	deployer := account.MustParse("0x00000000000000000000000000000000000000d1")
	agent := account.MustParse("0x00000000000000000000000000000000000000a1")
	c, err := ledger.Deploy(ctx, deployer, agent)
	if err != nil {
		t.Fatal(err)
	}

	r, err := ledger.BuyChatLimit(ctx, c.ID, buyer, types.Units(1))
	if err != nil {
		t.Fatalf("funded buyer: %v", err)
	}
	if !r.LimitAfter.Equal(types.Units(100)) {
		t.Errorf("limit after = %s, want 100", r.LimitAfter)
	}

	if _, err := ledger.BuyChatLimit(ctx, c.ID, broke, types.Units(1)); !errors.Is(err, agentchat.ErrPaymentForwardFailed) {
		t.Errorf("unfunded buyer err = %v, want ErrPaymentForwardFailed", err)
	}

	bank, ok := fwd.(*paymem.Bank)
	if !ok {
		t.Fatalf("forwarder = %T, want *memory.Bank", fwd)
	}
	if got := bank.Balance(buyer); !got.Equal(types.Units(4)) {
		t.Errorf("buyer balance = %s, want 4", got)
	}
	if got := bank.Balance(agent); !got.Equal(types.Units(1)) {
		t.Errorf("agent balance = %s, want 1", got)
	}
}

func TestDiscardForwarderAcceptsAnyBuyer(t *testing.T) {
	setEnv(t)
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fwd, err := openForwarder(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	ledger, err := openLedger(ctx, cfg, logger, fwd)
	if err != nil {
		t.Fatal(err)
	}
	if err := ledger.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer ledger.Stop()

	c, err := ledger.Deploy(ctx,
		account.MustParse("0x00000000000000000000000000000000000000d1"),
		account.MustParse("0x00000000000000000000000000000000000000a1"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ledger.BuyChatLimit(ctx, c.ID, account.MustParse("0x00000000000000000000000000000000000000b9"), types.Units(1)); err != nil {
		t.Fatal(err)
	}
}

func TestDiscardForwarderIsDefault(t *testing.T) {
	setEnv(t)
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	fwd, err := openForwarder(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fwd.(payment.ForwarderFuncs); !ok {
		t.Errorf("forwarder = %T, want the discard forwarder", fwd)
	}
}

func TestBalancesNeedMemoryForwarder(t *testing.T) {
	setEnv(t)
	t.Setenv("AGENTCHAT_BALANCES", "0x00000000000000000000000000000000000000b1:5")
	if _, err := config.Load(""); err == nil {
		t.Fatal("expected error for balances with the discard forwarder")
	}
}
