package core

import (
	"context"
	"sync"
)

type (
	// Transactor runs fn inside a single database transaction.
	// Nested calls (ctx already carrying a transaction) join the outer transaction.
	// The transaction is committed when fn returns nil and rolled back otherwise.
	Transactor interface {
		WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	}

	// CommitHooks collects side effects that must only run once the outermost transaction committed.
	CommitHooks struct {
		mu  sync.Mutex
		fns []func()
	}

	commitHooksKey struct{}
)

// WithCommitHooks attaches a fresh CommitHooks to ctx. Transactor implementations call it when
// opening the outermost transaction and Run the hooks after a successful commit.
func WithCommitHooks(ctx context.Context) (context.Context, *CommitHooks) {
	hooks := new(CommitHooks)
	return context.WithValue(ctx, commitHooksKey{}, hooks), hooks
}

// OnCommit defers fn until the transaction carried by ctx commits.
// Without a transaction fn runs right away.
func OnCommit(ctx context.Context, fn func()) {
	if hooks, ok := ctx.Value(commitHooksKey{}).(*CommitHooks); ok {
		hooks.mu.Lock()
		hooks.fns = append(hooks.fns, fn)
		hooks.mu.Unlock()
		return
	}
	fn()
}

func (h *CommitHooks) Run() {
	h.mu.Lock()
	fns := h.fns
	h.fns = nil
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
