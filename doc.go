// Package agentchat provides a pay-per-message access ledger for chat agents.
//
// An agent charges users for the right to send a bounded number of chat
// messages. Each deployed contract instance tracks:
//
//   - an owner who administers pricing and limits
//   - the agent that receives every purchase payment
//   - a per-user chat allowance, zero until bought or granted
//
// Agentchat is a library. The engine is an [AccessLedger] over a pluggable
// [store.Store] (memory, SQLite, PostgreSQL, MongoDB) and a
// [payment.Forwarder] that moves purchase payments to the agent.
//
// # Quick Start
//
//	import (
//	    "github.com/xraph/agentchat"
//	    "github.com/xraph/agentchat/payment/memory"
//	    "github.com/xraph/agentchat/store/sqlite"
//	)
//
//	s, err := sqlite.Open(ctx, "agentchat.db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	l := agentchat.New(s, agentchat.WithForwarder(memory.NewBank()))
//	if err := l.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer l.Stop()
//
//	c, err := l.Deploy(ctx, owner, agent)
//	receipt, err := l.BuyChatLimit(ctx, c.ID, user, agentchat.Units(1))
//
// # Ownership
//
// Ownership moves in two phases. The owner proposes a successor with
// [AccessLedger.InitiateTransfer]; the successor claims it with
// [AccessLedger.AcceptTransfer] no earlier than 24 hours later. The owner can
// withdraw the proposal at any time with [AccessLedger.CancelTransfer].
//
// # Purchases
//
// [AccessLedger.BuyChatLimit] requires a payment exactly equal to the
// configured price and adds the configured limit to the buyer's allowance.
// The allowance update and the payment either both happen or neither does:
// a forwarding failure rolls the update back, and a storage failure after a
// successful forward reverses the payment.
//
// # Serving
//
// Package api exposes every operation over HTTP with bearer-token callers.
// cmd/agentchatd serves it standalone; package extension embeds the engine
// in a Forge application instead.
//
// # Errors
//
// Rejections are sentinel errors such as [ErrUnauthorized]. [RevertReason]
// maps them to the reason strings clients of the deployed contract know and
// [Code] to stable snake_case codes.
//
// # TypeID
//
// Records use TypeIDs:
//
//	ctr_01h2xcejqtf2nbrexx3vqjhp41   // contract instance
//	buy_01h2xcejqtf2nbrexx3vqjhp41   // purchase receipt
//	xfer_01h455vb4pex5vsknk084sn02q  // ownership transfer
//	pay_01h455vb4pex5vsknk084sn02q   // forwarded payment
package agentchat
