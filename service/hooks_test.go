package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tieubaoca/paperflow/types"
)

// fakeAI answers every prompt with reply and records what it was asked.
type fakeAI struct {
	mu      sync.Mutex
	reply   string
	err     error
	prompts []string
	inputs  []string
}

func (f *fakeAI) Complete(ctx context.Context, systemPrompt, userContent string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, systemPrompt)
	f.inputs = append(f.inputs, userContent)
	return f.reply, f.err
}

func (f *fakeAI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

func TestChainHooksRunsEveryHook(t *testing.T) {
	var order []string
	errA := errors.New("a failed")
	hook := ChainHooks(
		func(ctx context.Context, in types.HookInput) error { order = append(order, "a"); return errA },
		nil,
		func(ctx context.Context, in types.HookInput) error { order = append(order, "b"); panic("boom") },
		func(ctx context.Context, in types.HookInput) error { order = append(order, "c"); return nil },
	)
	err := hook(context.Background(), types.HookInput{Name: "x.pdf"})
	assert.ErrorIs(t, err, errA)
	assert.Contains(t, err.Error(), "hook panic on x.pdf")
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestAsyncHookCountsFailures(t *testing.T) {
	var ran atomic.Int32
	async := NewAsyncHook(func(ctx context.Context, in types.HookInput) error {
		ran.Add(1)
		if in.Name == "bad.pdf" {
			return errors.New("model unavailable")
		}
		return nil
	}, 2, nil)

	ctx, cancel := context.WithCancel(context.Background())
	hook := async.Hook()
	for _, name := range []string{"a.pdf", "bad.pdf", "b.pdf", "bad.pdf"} {
		assert.NoError(t, hook(ctx, types.HookInput{Name: name}))
	}
	// Dispatched work outlives the caller's context.
	cancel()
	assert.Equal(t, 2, async.Wait())
	assert.EqualValues(t, 4, ran.Load())
}
