package pricing

import (
	"testing"

	"github.com/xraph/agentchat/types"
)

func TestDefault(t *testing.T) {
	c := Default()
	if !c.BuyLimit.Equal(types.Units(100)) {
		t.Errorf("BuyLimit = %s, want 100", c.BuyLimit)
	}
	if !c.BuyLimitPrice.Equal(types.Units(1)) {
		t.Errorf("BuyLimitPrice = %s, want 1", c.BuyLimitPrice)
	}
}

func TestAccepts(t *testing.T) {
	tests := []struct {
		name    string
		price   types.Amount
		payment types.Amount
		want    bool
	}{
		{"exact", types.Units(1), types.Units(1), true},
		{"under", types.Units(5), types.Units(4), false},
		{"over", types.Units(5), types.Units(6), false},
		{"free with zero", types.ZeroAmount(), types.ZeroAmount(), true},
		{"free rejects payment", types.ZeroAmount(), types.Units(1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Config{BuyLimit: types.Units(100), BuyLimitPrice: tt.price}
			if got := c.Accepts(tt.payment); got != tt.want {
				t.Errorf("Accepts(%s) = %v, want %v", tt.payment, got, tt.want)
			}
		})
	}
}
