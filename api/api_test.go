package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xraph/agentchat"
	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/contract"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/payment/memory"
	memstore "github.com/xraph/agentchat/store/memory"
	"github.com/xraph/agentchat/types"
)

var (
	owner    = account.MustParse("0x00000000000000000000000000000000000000a1")
	agent    = account.MustParse("0x00000000000000000000000000000000000000a2")
	user1    = account.MustParse("0x00000000000000000000000000000000000000b1")
	user2    = account.MustParse("0x00000000000000000000000000000000000000b2")
	stranger = account.MustParse("0x00000000000000000000000000000000000000c1")
)

type harness struct {
	t      *testing.T
	srv    *httptest.Server
	auth   *Authenticator
	ledger *agentchat.AccessLedger
	bank   *memory.Bank
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bank := memory.NewBank()
	for _, u := range []account.Address{user1, user2} {
		if err := bank.Deposit(u, types.Units(100)); err != nil {
			t.Fatal(err)
		}
	}
	l := agentchat.New(memstore.New(),
		agentchat.WithLogger(logger),
		agentchat.WithForwarder(bank),
	)
	auth := NewAuthenticator([]byte("test-secret"))
	srv := httptest.NewServer(New(l, auth, WithLogger(logger)).Handler())
	t.Cleanup(srv.Close)
	return &harness{t: t, srv: srv, auth: auth, ledger: l, bank: bank}
}

// do sends body as JSON. A zero as sends the request anonymously.
func (h *harness) do(method, path string, as account.Address, body any) (*http.Response, []byte) {
	h.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			h.t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	if err != nil {
		h.t.Fatal(err)
	}
	if as != account.Zero {
		tok, err := h.auth.Mint(as, time.Hour)
		if err != nil {
			h.t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatal(err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatal(err)
	}
	return resp, out
}

func (h *harness) deploy() string {
	h.t.Helper()
	resp, body := h.do(http.MethodPost, "/contracts", owner, map[string]string{"agent": agent.Hex()})
	if resp.StatusCode != http.StatusCreated {
		h.t.Fatalf("deploy status = %d: %s", resp.StatusCode, body)
	}
	var c contract.Contract
	if err := json.Unmarshal(body, &c); err != nil {
		h.t.Fatal(err)
	}
	return c.ID.String()
}

func mustContractID(t *testing.T, s string) id.ContractID {
	t.Helper()
	cid, err := id.ParseContractID(s)
	if err != nil {
		t.Fatal(err)
	}
	return cid
}

func decodeError(t *testing.T, body []byte) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	return e
}

func TestDeployAndRead(t *testing.T) {
	h := newHarness(t)
	cid := h.deploy()

	tests := []struct {
		path string
		key  string
		want string
	}{
		{"/owner", "owner", owner.Hex()},
		{"/agent", "agent", agent.Hex()},
		{"/buy-limit", "buy_limit", "100"},
		{"/buy-limit-price", "buy_limit_price", "1"},
		{"/users/" + user1.Hex() + "/chat-limit", "chat_limit", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, body := h.do(http.MethodGet, "/contracts/"+cid+tt.path, account.Zero, nil)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d: %s", resp.StatusCode, body)
			}
			var got map[string]any
			if err := json.Unmarshal(body, &got); err != nil {
				t.Fatal(err)
			}
			if got[tt.key] != tt.want {
				t.Errorf("%s = %v, want %s", tt.key, got[tt.key], tt.want)
			}
		})
	}

	resp, body := h.do(http.MethodGet, "/contracts/"+cid+"/pending-owner", account.Zero, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"pending_owner":null`) {
		t.Errorf("pending-owner = %d %s", resp.StatusCode, body)
	}
}

func TestWritesRequireCaller(t *testing.T) {
	h := newHarness(t)
	cid := h.deploy()

	resp, body := h.do(http.MethodPost, "/contracts/"+cid+"/purchases", account.Zero, map[string]string{"amount": "1"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	if e := decodeError(t, body); e.Error != "unauthenticated" {
		t.Errorf("error = %q", e.Error)
	}

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/contracts/"+cid, nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", res.StatusCode)
	}
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t)
	cid := h.deploy()
	base := "/contracts/" + cid

	tests := []struct {
		name   string
		method string
		path   string
		as     account.Address
		body   any
		status int
		code   string
		reason string
	}{
		{"non-owner pricing", http.MethodPut, base + "/buy-limit", stranger, map[string]string{"value": "5"},
			http.StatusForbidden, "unauthorized", "You aren't the owner"},
		{"zero candidate", http.MethodPost, base + "/ownership/transfer", owner, map[string]string{"candidate": account.Zero.Hex()},
			http.StatusBadRequest, "invalid_target", "New owner is the zero address"},
		{"wrong payment", http.MethodPost, base + "/purchases", user1, map[string]string{"amount": "2"},
			http.StatusUnprocessableEntity, "incorrect_payment", "Balance is not enough"},
		{"length mismatch", http.MethodPost, base + "/chat-limits", owner,
			map[string][]string{"users": {user1.Hex()}, "values": {}},
			http.StatusBadRequest, "length_mismatch", "Array lengths must match"},
		{"non-owner malformed batch", http.MethodPost, base + "/chat-limits", stranger,
			map[string][]string{"users": {"0xnothex"}, "values": {"5"}},
			http.StatusForbidden, "unauthorized", "You aren't the owner"},
		{"unknown contract", http.MethodGet, "/contracts/ctr_01h2xcejqtf2nbrexx3vqjhp41", account.Zero, nil,
			http.StatusNotFound, "contract_not_found", ""},
		{"malformed id", http.MethodGet, "/contracts/nope", account.Zero, nil,
			http.StatusBadRequest, "invalid_input", ""},
		{"malformed amount", http.MethodPost, base + "/purchases", user1, map[string]string{"amount": "-1"},
			http.StatusBadRequest, "invalid_input", ""},
		{"unknown field", http.MethodPut, base + "/buy-limit", owner, `{"value":"1","extra":true}`,
			http.StatusBadRequest, "invalid_input", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.do(tt.method, tt.path, tt.as, tt.body)
			if resp.StatusCode != tt.status {
				t.Fatalf("status = %d, want %d: %s", resp.StatusCode, tt.status, body)
			}
			e := decodeError(t, body)
			if e.Error != tt.code {
				t.Errorf("error = %q, want %q", e.Error, tt.code)
			}
			if e.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", e.Reason, tt.reason)
			}
		})
	}
}

func TestTimelockConflict(t *testing.T) {
	h := newHarness(t)
	cid := h.deploy()
	base := "/contracts/" + cid

	resp, body := h.do(http.MethodPost, base+"/ownership/transfer", owner, map[string]string{"candidate": user1.Hex()})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("initiate = %d: %s", resp.StatusCode, body)
	}
	resp, body = h.do(http.MethodPost, base+"/ownership/accept", user1, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("accept = %d, want 409", resp.StatusCode)
	}
	if e := decodeError(t, body); e.Reason != "Timelock period not elapsed" {
		t.Errorf("reason = %q", e.Reason)
	}

	resp, _ = h.do(http.MethodPost, base+"/ownership/cancel", owner, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel = %d", resp.StatusCode)
	}
	resp, _ = h.do(http.MethodPost, base+"/ownership/cancel", owner, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("second cancel = %d, want 204", resp.StatusCode)
	}
}

func TestPurchaseFlow(t *testing.T) {
	h := newHarness(t)
	cid := h.deploy()
	base := "/contracts/" + cid

	resp, body := h.do(http.MethodPost, base+"/purchases", user1, map[string]string{"amount": "1"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("purchase = %d: %s", resp.StatusCode, body)
	}
	if !h.bank.Balance(agent).Equal(types.Units(1)) {
		t.Errorf("agent balance = %s", h.bank.Balance(agent))
	}

	resp, body = h.do(http.MethodGet, base+"/purchases?buyer="+user1.Hex(), account.Zero, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list = %d", resp.StatusCode)
	}
	var list []map[string]any
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0]["granted"] != "100" {
		t.Errorf("purchases = %v", list)
	}

	h.bank.Reject(agent, true)
	resp, body = h.do(http.MethodPost, base+"/purchases", user1, map[string]string{"amount": "1"})
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("rejected forward = %d, want 502", resp.StatusCode)
	}
	if e := decodeError(t, body); e.Error != "payment_forward_failed" {
		t.Errorf("error = %q", e.Error)
	}
}

func TestBatchRejectsMalformedEntry(t *testing.T) {
	h := newHarness(t)
	cid := h.deploy()
	base := "/contracts/" + cid

	resp, body := h.do(http.MethodPost, base+"/chat-limits", owner, map[string][]string{
		"users":  {user1.Hex(), "0xnothex", user2.Hex()},
		"values": {"5", "6", "7"},
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if e := decodeError(t, body); e.Field != "users[1]" {
		t.Errorf("field = %q, want users[1]", e.Field)
	}
	limit, err := h.ledger.UserChatLimit(t.Context(), mustContractID(t, cid), user1)
	if err != nil || !limit.IsZero() {
		t.Errorf("user1 limit = %s, %v; want untouched", limit, err)
	}

	resp, _ = h.do(http.MethodPost, base+"/chat-limits", owner, map[string][]string{
		"users":  {user1.Hex(), user2.Hex()},
		"values": {"5", "7"},
	})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("batch = %d", resp.StatusCode)
	}
	resp, body = h.do(http.MethodGet, base+"/chat-limits?non_zero=true", account.Zero, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list = %d", resp.StatusCode)
	}
	var entries []map[string]any
	if err := json.Unmarshal(body, &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %v", entries)
	}
}

func TestBalances(t *testing.T) {
	h := newHarness(t)
	resp, _ := h.do(http.MethodGet, "/balances/"+user1.Hex(), account.Zero, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("without a reader = %d, want 404", resp.StatusCode)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(New(h.ledger, h.auth, WithLogger(logger), WithBalances(h.bank)).Handler())
	t.Cleanup(srv.Close)
	h.srv = srv

	resp, body := h.do(http.MethodGet, "/balances/"+user1.Hex(), account.Zero, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("balance = %d: %s", resp.StatusCode, body)
	}
	var got map[string]string
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if got["balance"] != "100" {
		t.Errorf("balance = %v, want 100", got)
	}

	resp, _ = h.do(http.MethodGet, "/balances/nobody", account.Zero, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed address = %d, want 400", resp.StatusCode)
	}
}

func TestAuthenticator(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	a := NewAuthenticator([]byte("k"), WithAuthClock(clock))

	tok, err := a.Mint(user1, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	got, err := a.Verify(tok)
	if err != nil || got != user1 {
		t.Fatalf("Verify = %s, %v", got.Hex(), err)
	}

	if _, err := NewAuthenticator([]byte("other"), WithAuthClock(clock)).Verify(tok); err == nil {
		t.Error("token verified with the wrong key")
	}
	if _, err := NewAuthenticator([]byte("k"), WithAuthClock(clock), WithIssuer("elsewhere")).Verify(tok); err == nil {
		t.Error("token verified with the wrong issuer")
	}

	now = now.Add(2 * time.Minute)
	if _, err := a.Verify(tok); err == nil {
		t.Error("expired token verified")
	}
}

func TestStatusOf(t *testing.T) {
	if got := StatusOf(agentchat.ErrStoreClosed); got != http.StatusServiceUnavailable {
		t.Errorf("store closed = %d", got)
	}
	if got := StatusOf(io.EOF); got != http.StatusInternalServerError {
		t.Errorf("unknown = %d", got)
	}
}
