package store

import "cartsync/internal/model"

// Op is the kind of an optimistic mutation.
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
	OpClear  Op = "clear"
)

// Phase is the lifecycle state of one identity key: either Confirmed by the
// server (or committed locally), or Optimistic while a mutation is in flight.
// A rolled-back key returns to whatever Confirmed state it had, or to absence.
type Phase interface {
	isPhase()
}

// Confirmed is a settled entry.
type Confirmed struct {
	Item model.Item
}

// Optimistic is an applied but unconfirmed mutation.
type Optimistic struct {
	Op      Op
	Version uint64
	Item    *model.Item // value shown while in flight; nil for a remove
	Base    *model.Item // confirmed value the mutation started from; nil if absent
}

func (Confirmed) isPhase()  {}
func (Optimistic) isPhase() {}

// Mutation is the ticket returned by every store mutation. It must be handed
// back to Confirm or Rollback exactly once; extra calls are harmless.
type Mutation struct {
	Op      Op
	Key     model.Key
	Version uint64
	Settled uint64       // settled state version when the mutation began
	Item    *model.Item  // optimistic result; nil for remove and clear
	Base    *model.Item  // confirmed state before the mutation
	Bases   []model.Item // clear only: confirmed items before the clear
	Delta   int          // add only: quantity being added
	Noop    bool         // nothing to do (remove of an absent key)
}
