// Package pricing holds the purchase configuration of a contract: how many
// chat messages one purchase grants and what it costs.
package pricing

import "github.com/xraph/agentchat/types"

const (
	DefaultBuyLimit      uint64 = 100
	DefaultBuyLimitPrice uint64 = 1
)

// Config is the purchase configuration. Neither field is bounded; a zero
// price makes purchases free and a zero limit makes them grant nothing.
type Config struct {
	BuyLimit      types.Amount `json:"buy_limit"`
	BuyLimitPrice types.Amount `json:"buy_limit_price"`
}

// Default returns the configuration every contract starts with: 100 messages
// for 1 unit.
func Default() Config {
	return Config{
		BuyLimit:      types.Units(DefaultBuyLimit),
		BuyLimitPrice: types.Units(DefaultBuyLimitPrice),
	}
}

// Accepts reports whether payment is exactly the configured price.
func (c Config) Accepts(payment types.Amount) bool {
	return payment.Equal(c.BuyLimitPrice)
}

// Field names a Config field, used when reporting changes.
type Field string

const (
	FieldBuyLimit      Field = "buy_limit"
	FieldBuyLimitPrice Field = "buy_limit_price"
)
