package core

import (
	"context"
	"sync/atomic"
)

// =============================================================================
// Context Helper
// =============================================================================

type schedulerKeyType struct{}
type handleKeyType struct{}
type ownerKeyType struct{}

var (
	schedulerKey schedulerKeyType
	handleKey    handleKeyType
	ownerKey     ownerKeyType
)

// WithScheduler returns a context whose ambient scheduler is s.
func WithScheduler(ctx context.Context, s *Scheduler) context.Context {
	return context.WithValue(ctx, schedulerKey, s)
}

// SchedulerFromContext returns the ambient scheduler of ctx, or nil.
func SchedulerFromContext(ctx context.Context) *Scheduler {
	if v, ok := ctx.Value(schedulerKey).(*Scheduler); ok {
		return v
	}
	return nil
}

// HandleFromContext returns the handle of the tasklet whose step is running
// with ctx, or nil outside a step.
func HandleFromContext(ctx context.Context) *Handle {
	if v, ok := ctx.Value(handleKey).(*Handle); ok {
		return v
	}
	return nil
}

func withHandle(ctx context.Context, h *Handle) context.Context {
	return context.WithValue(ctx, handleKey, h)
}

// Detach returns a context with the ambient scheduler and every synchronous
// ownership claim removed. Use it before handing a context to another
// goroutine: an owner context must never leave the goroutine that owns it.
func Detach(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, ownerKey, (*ownerToken)(nil))
	return context.WithValue(ctx, schedulerKey, (*Scheduler)(nil))
}

// =============================================================================
// Ownership tokens
// =============================================================================

var ownerSeq atomic.Uint64

// ownerToken marks a context as the synchronous owner of one scheduler.
// Tokens chain so a goroutine can own several schedulers at once.
type ownerToken struct {
	seq    uint64
	sched  *Scheduler
	parent *ownerToken
}

func newOwnerToken(s *Scheduler) *ownerToken {
	return &ownerToken{seq: ownerSeq.Add(1), sched: s}
}

// same reports whether t and o stand for the same ownership claim.
func (t *ownerToken) same(o *ownerToken) bool {
	return t != nil && o != nil && t.seq == o.seq
}

// tokenFor returns the token ctx holds for s, or nil.
func tokenFor(ctx context.Context, s *Scheduler) *ownerToken {
	tok, _ := ctx.Value(ownerKey).(*ownerToken)
	for ; tok != nil; tok = tok.parent {
		if tok.sched == s {
			return tok
		}
	}
	return nil
}

// withOwner returns ctx carrying tok, keeping claims on other schedulers.
func withOwner(ctx context.Context, tok *ownerToken) context.Context {
	if tokenFor(ctx, tok.sched).same(tok) {
		return ctx
	}
	parent, _ := ctx.Value(ownerKey).(*ownerToken)
	link := &ownerToken{seq: tok.seq, sched: tok.sched, parent: parent}
	return context.WithValue(ctx, ownerKey, link)
}

// withoutOwner drops the claim ctx holds on s.
func withoutOwner(ctx context.Context, s *Scheduler) context.Context {
	if tokenFor(ctx, s) == nil {
		return ctx
	}
	var kept []*ownerToken
	tok, _ := ctx.Value(ownerKey).(*ownerToken)
	for ; tok != nil; tok = tok.parent {
		if tok.sched != s {
			kept = append(kept, tok)
		}
	}
	var chain *ownerToken
	for i := len(kept) - 1; i >= 0; i-- {
		chain = &ownerToken{seq: kept[i].seq, sched: kept[i].sched, parent: chain}
	}
	return context.WithValue(ctx, ownerKey, chain)
}
