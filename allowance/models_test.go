package allowance

import (
	"testing"

	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/types"
)

func TestCheck(t *testing.T) {
	user := account.MustParse("0x00000000000000000000000000000000000000aa")

	tests := []struct {
		name    string
		limit   types.Amount
		allowed bool
	}{
		{"none", types.ZeroAmount(), false},
		{"one left", types.Units(1), true},
		{"plenty", types.Units(100), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Check(user, tt.limit)
			if r.Allowed != tt.allowed {
				t.Errorf("Allowed = %v, want %v", r.Allowed, tt.allowed)
			}
			if !r.Remaining.Equal(tt.limit) || r.User != user {
				t.Errorf("unexpected result %+v", r)
			}
		})
	}
}
