package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_AmbientScheduler(t *testing.T) {
	s, _ := newTestScheduler(t)
	ctx := context.Background()

	assert.Nil(t, SchedulerFromContext(ctx))
	assert.Same(t, s, SchedulerFromContext(WithScheduler(ctx, s)))
	assert.Nil(t, SchedulerFromContext(Detach(WithScheduler(ctx, s))))
	assert.Nil(t, HandleFromContext(ctx))
}

// TestContext_OwnerChain verifies one context can own several schedulers
func TestContext_OwnerChain(t *testing.T) {
	a, _ := newTestScheduler(t)
	b, _ := newTestScheduler(t)

	ctx := a.SetAuto(context.Background(), true)
	ctx = b.SetAuto(ctx, true)
	assert.True(t, a.Owns(ctx))
	assert.True(t, b.Owns(ctx))

	withoutA := withoutOwner(ctx, a)
	assert.False(t, a.Owns(withoutA))
	assert.True(t, b.Owns(withoutA))

	detached := Detach(ctx)
	assert.False(t, a.Owns(detached))
	assert.False(t, b.Owns(detached))
}

// TestContext_StaleTokenDoesNotOwn verifies an old owner context loses
// ownership once it has been released and claimed again.
func TestContext_StaleTokenDoesNotOwn(t *testing.T) {
	s, _ := newTestScheduler(t)

	stale := s.SetAuto(context.Background(), true)
	s.SetAuto(context.Background(), false)
	fresh := s.SetAuto(context.Background(), true)

	assert.False(t, s.Owns(stale))
	assert.True(t, s.Owns(fresh))
}

func TestOwnerToken_WithOwnerIsIdempotent(t *testing.T) {
	s, _ := newTestScheduler(t)
	tok := newOwnerToken(s)

	ctx := withOwner(context.Background(), tok)
	again := withOwner(ctx, tok)

	assert.Equal(t, ctx, again)
	assert.True(t, tokenFor(again, s).same(tok))
}
