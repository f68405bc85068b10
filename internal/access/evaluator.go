package access

import (
	"context"
	"sync"
)

// Evaluator answers "can this user do X" by combining the store's flat grant
// set with the group rule table. A flat grant can never override a policy
// deny, and a policy allow never substitutes for a missing grant.
type Evaluator struct {
	store  *Store
	userID int64
}

// NewEvaluator binds an Evaluator to the store owned by one session.
func NewEvaluator(store *Store, userID int64) *Evaluator {
	return &Evaluator{store: store, userID: userID}
}

// UserID returns the owner of this evaluator.
func (e *Evaluator) UserID() int64 {
	return e.userID
}

// HasPermission reports whether the user may perform action on module. With
// no usable snapshot (never loaded, expired, or load failed) every call
// returns false: fail closed, never open.
func (e *Evaluator) HasPermission(m Module, a Action) bool {
	snap, ok := e.store.Current()
	if !ok {
		return false
	}
	d := Decide(snap.Group, m)
	switch d.Effect {
	case EffectDeny:
		return false
	case EffectAllowScoped:
		if d.Scope.ReadOnly && a.Mutates() {
			return false
		}
		if d.Scope.ViewEditOnly && a != ActionVisualizar && a != ActionEditar {
			return false
		}
	}
	return snap.HasGrant(m, a)
}

// IsReadOnly reports whether the module is restricted to read access for the
// user's group. Without a snapshot it answers true, the restrictive default.
func (e *Evaluator) IsReadOnly(m Module) bool {
	snap, ok := e.store.Current()
	if !ok {
		return true
	}
	d := Decide(snap.Group, m)
	return d.Effect == EffectAllowScoped && d.Scope.ReadOnly
}

// IsBranchOnly reports whether the module is scoped to the user's own branch.
func (e *Evaluator) IsBranchOnly(m Module) bool {
	snap, ok := e.store.Current()
	if !ok {
		return true
	}
	d := Decide(snap.Group, m)
	return d.Effect == EffectAllowScoped && d.Scope.BranchOnly
}

// Refresh discards the snapshot and loads a fresh one. Used after login and
// on explicit "refresh permissions" requests.
func (e *Evaluator) Refresh(ctx context.Context) error {
	e.store.Invalidate()
	_, err := e.store.Load(ctx, e.userID)
	return err
}

// Snapshot exposes the current snapshot for diagnostics endpoints.
func (e *Evaluator) Snapshot() (*Snapshot, bool) {
	return e.store.Current()
}

// Evaluators tracks the evaluator owned by each authenticated session. The
// auth lifecycle puts one in at login and removes it at logout; nothing here
// is global process state.
type Evaluators struct {
	mu     sync.Mutex
	byUser map[int64]*Evaluator
}

// NewEvaluators constructs an empty registry.
func NewEvaluators() *Evaluators {
	return &Evaluators{byUser: make(map[int64]*Evaluator)}
}

// Put installs the evaluator for a user, replacing any previous one.
func (r *Evaluators) Put(userID int64, e *Evaluator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byUser[userID] = e
}

// Get returns the evaluator for a user.
func (r *Evaluators) Get(userID int64) (*Evaluator, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byUser[userID]
	return e, ok
}

// Remove drops the evaluator and invalidates its store so another login on
// the same device starts from a clean slate.
func (r *Evaluators) Remove(userID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.byUser[userID]; ok {
		e.store.Invalidate()
		delete(r.byUser, userID)
	}
}
