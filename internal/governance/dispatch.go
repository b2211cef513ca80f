package governance

import (
	"context"
	"fmt"
	"sync"

	"quorum/api/internal/store"
)

// ActionHandler carries out the side effect a passed proposal declared.
// Handlers read their parameters from the proposal's ActionData and write
// through the ActionStore; whatever they return is persisted as the
// proposal's execution result and never retried.
type ActionHandler interface {
	Execute(ctx context.Context, st ActionStore, proposal store.Proposal) (detail string, err error)
}

type HandlerFunc func(ctx context.Context, st ActionStore, proposal store.Proposal) (string, error)

func (f HandlerFunc) Execute(ctx context.Context, st ActionStore, proposal store.Proposal) (string, error) {
	return f(ctx, st, proposal)
}

// Registry maps action types to handlers. Registration normally happens at
// startup, but the lock makes later additions safe too.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

// NewRegistry returns a registry pre-loaded with the built-in handlers.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[string]ActionHandler)}
	r.Register(ActionTypeLinkEntity, HandlerFunc(handleLinkEntity))
	r.Register(ActionTypeCreateContract, HandlerFunc(handleCreateContract))
	r.Register(ActionTypeCreateProject, HandlerFunc(handleCreateProject))
	r.Register(ActionTypeSpendFunds, HandlerFunc(handleSpendFunds))
	return r
}

func (r *Registry) Register(actionType string, h ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = h
}

func (r *Registry) lookup(actionType string) (ActionHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[actionType]
	return h, ok
}

// dispatch executes a passed proposal's action exactly once. The executed_at
// claim is taken before the handler runs, so a concurrent dispatcher loses
// the claim and returns without side effects; a handler failure after the
// claim is recorded, not retried.
func (e *Engine) dispatch(ctx context.Context, proposal store.Proposal) {
	claimed, err := e.store.ClaimProposalExecution(ctx, proposal.ID, e.now())
	if err != nil {
		e.logger.Printf("governance: claiming execution of %s: %v", proposal.ID, err)
		return
	}
	if !claimed {
		return
	}

	result := e.execute(ctx, proposal)
	if err := e.store.SetExecutionResult(ctx, proposal.ID, result); err != nil {
		e.logger.Printf("governance: recording execution of %s: %v", proposal.ID, err)
	}
}

func (e *Engine) execute(ctx context.Context, proposal store.Proposal) store.ExecutionResult {
	handler, ok := e.actions.lookup(proposal.ActionType)
	if !ok {
		// An action type nothing is registered for is not a failure: the
		// proposal passed, there is just nothing automatic to do.
		e.logger.Printf("governance: proposal %s passed with unhandled action %q", proposal.ID, proposal.ActionType)
		return store.ExecutionResult{
			OK:     true,
			Action: proposal.ActionType,
			Detail: "no handler registered; nothing to execute",
		}
	}

	detail, err := safeExecute(ctx, handler, e.store, proposal)
	if err != nil {
		e.logger.Printf("governance: executing %s for proposal %s: %v", proposal.ActionType, proposal.ID, err)
		return store.ExecutionResult{
			OK:     false,
			Action: proposal.ActionType,
			Error:  err.Error(),
		}
	}
	return store.ExecutionResult{
		OK:     true,
		Action: proposal.ActionType,
		Detail: detail,
	}
}

// safeExecute converts a handler panic into an error so a bad handler can
// never take down the resolution path.
func safeExecute(ctx context.Context, h ActionHandler, st ActionStore, proposal store.Proposal) (detail string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.Execute(ctx, st, proposal)
}
