package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/api"
	"github.com/xraph/agentchat/id"
)

const testSecret = "0123456789abcdef-test"

func setEnv(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("AGENTCHAT_CONFIG", "")
	t.Setenv("AGENTCHAT_JWT_SECRET", testSecret)
	t.Setenv("AGENTCHAT_STORE", "memory")
	t.Setenv("AGENTCHAT_LOG_LEVEL", "error")
}

func TestRunUsage(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), nil, &out); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "agentchatd serve") {
		t.Errorf("usage = %q", out.String())
	}

	if err := run(context.Background(), []string{"launch"}, &out); err == nil || !strings.Contains(err.Error(), `unknown command "launch"`) {
		t.Errorf("err = %v", err)
	}
}

func TestToken(t *testing.T) {
	setEnv(t)
	sub := account.MustParse("0x00000000000000000000000000000000000000b1")

	var out bytes.Buffer
	if err := run(context.Background(), []string{"token", "--sub", sub.Hex(), "--ttl", "5m"}, &out); err != nil {
		t.Fatal(err)
	}
	got, err := api.NewAuthenticator([]byte(testSecret)).Verify(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatal(err)
	}
	if got != sub {
		t.Errorf("subject = %s, want %s", got.Hex(), sub.Hex())
	}
}

func TestTokenValidation(t *testing.T) {
	setEnv(t)
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing sub", []string{"token"}, "--sub"},
		{"bad ttl", []string{"token", "--sub", "0x00000000000000000000000000000000000000b1", "--ttl", "0s"}, "--ttl"},
		{"extra arg", []string{"token", "--sub", "0x00000000000000000000000000000000000000b1", "oops"}, "unexpected argument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), tt.args, &bytes.Buffer{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestDeployPrintsID(t *testing.T) {
	setEnv(t)
	var out bytes.Buffer
	args := []string{"deploy", "--agent", "0x00000000000000000000000000000000000000a2"}
	if err := run(context.Background(), args, &out); err != nil {
		t.Fatal(err)
	}
	if _, err := id.ParseContractID(strings.TrimSpace(out.String())); err != nil {
		t.Errorf("output %q is not a contract ID: %v", out.String(), err)
	}
}

func TestServeShutsDown(t *testing.T) {
	setEnv(t)
	t.Setenv("AGENTCHAT_ADDR", "127.0.0.1:0")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"serve"}, &bytes.Buffer{}) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not shut down")
	}
}
