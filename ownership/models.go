// Package ownership models the two-phase, timelocked succession of a
// contract's administrative owner.
package ownership

import (
	"time"

	"github.com/xraph/agentchat/account"
	"github.com/xraph/agentchat/id"
	"github.com/xraph/agentchat/types"
)

// Timelock is the fixed delay between initiating a transfer and the earliest
// moment the candidate may accept it.
const Timelock = 24 * time.Hour

type Phase string

const (
	PhaseStable          Phase = "stable"
	PhasePendingTransfer Phase = "pending_transfer"
)

// State is the ownership sub-state of a contract. Pending being set implies
// PendingSince and TransferID are meaningful; otherwise both are zero.
type State struct {
	Owner        account.Address  `json:"owner"`
	Pending      account.Optional `json:"pending_owner"`
	PendingSince time.Time        `json:"pending_owner_set_at,omitzero"`
	TransferID   id.TransferID    `json:"transfer_id,omitzero"`
}

// NewState returns a stable state owned by owner.
func NewState(owner account.Address) State {
	return State{Owner: owner}
}

func (s State) Phase() Phase {
	if s.Pending.IsSet() {
		return PhasePendingTransfer
	}
	return PhaseStable
}

// ReadyAt is the earliest time the pending candidate may accept. Zero when
// nothing is pending.
func (s State) ReadyAt() time.Time {
	if !s.Pending.IsSet() {
		return time.Time{}
	}
	return s.PendingSince.Add(Timelock)
}

// TimelockElapsed reports whether now >= PendingSince + Timelock. Always
// false when nothing is pending.
func (s State) TimelockElapsed(now time.Time) bool {
	if !s.Pending.IsSet() {
		return false
	}
	return !now.Before(s.ReadyAt())
}

// Propose records candidate as pending, replacing any previous candidate.
func (s *State) Propose(candidate account.Address, at time.Time, transferID id.TransferID) {
	s.Pending = account.Some(candidate)
	s.PendingSince = types.Stamp(at)
	s.TransferID = transferID
}

// Clear drops the pending candidate. Safe to call when stable.
func (s *State) Clear() {
	s.Pending = account.None()
	s.PendingSince = time.Time{}
	s.TransferID = id.Nil
}

// Promote makes the pending candidate the owner and clears the pending slot.
// It reports false, changing nothing, when no candidate is pending.
func (s *State) Promote() bool {
	candidate, ok := s.Pending.Get()
	if !ok {
		return false
	}
	s.Owner = candidate
	s.Clear()
	return true
}

// Status is the lifecycle stage of a Transfer record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusCanceled   Status = "canceled"
	StatusSuperseded Status = "superseded"
)

// Transfer is the audit record of one initiated ownership transfer.
type Transfer struct {
	types.Entity
	ID          id.TransferID   `json:"id"`
	ContractID  id.ContractID   `json:"contract_id"`
	From        account.Address `json:"from"`
	Candidate   account.Address `json:"candidate"`
	Status      Status          `json:"status"`
	InitiatedAt time.Time       `json:"initiated_at"`
	ResolvedAt  time.Time       `json:"resolved_at,omitzero"`
}

// Resolve closes a pending record with the given terminal status.
func (t *Transfer) Resolve(status Status, at time.Time) {
	t.Status = status
	t.ResolvedAt = types.Stamp(at)
	t.Touch(at)
}

func (t *Transfer) IsPending() bool { return t.Status == StatusPending }
