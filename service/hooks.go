package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tieubaoca/paperflow/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ItemHook runs after an item's outputs are written. Its errors are logged and
// never change the item's outcome.
type ItemHook func(ctx context.Context, in types.HookInput) error

// ChainHooks runs hooks in order and joins their errors.
func ChainHooks(hooks ...ItemHook) ItemHook {
	return func(ctx context.Context, in types.HookInput) error {
		var errs []error
		for _, h := range hooks {
			if h == nil {
				continue
			}
			if err := safeInvoke(ctx, h, in); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

// safeInvoke calls h and turns a panic into an error.
func safeInvoke(ctx context.Context, h ItemHook, in types.HookInput) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panic on %s: %v", in.Name, r)
		}
	}()
	return h(ctx, in)
}

// AsyncHook dispatches a hook onto its own bounded pool so slow downstream
// work does not hold up the conversion pipeline. Wait must be called before
// the process exits.
type AsyncHook struct {
	hook   ItemHook
	group  errgroup.Group
	logger *zap.Logger

	mu     sync.Mutex
	failed int
}

func NewAsyncHook(hook ItemHook, concurrency int, logger *zap.Logger) *AsyncHook {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &AsyncHook{hook: hook, logger: logger.Named("hook")}
	a.group.SetLimit(concurrency)
	return a
}

// Hook returns the ItemHook that enqueues work. It blocks while the pool is
// full.
func (a *AsyncHook) Hook() ItemHook {
	return func(ctx context.Context, in types.HookInput) error {
		hookCtx := context.WithoutCancel(ctx)
		a.group.Go(func() error {
			if err := safeInvoke(hookCtx, a.hook, in); err != nil {
				a.mu.Lock()
				a.failed++
				a.mu.Unlock()
				a.logger.Warn("hook failed", zap.String("file", in.Name), zap.Error(err))
			}
			return nil
		})
		return nil
	}
}

// Wait blocks until every dispatched hook has returned and reports how many
// failed.
func (a *AsyncHook) Wait() int {
	_ = a.group.Wait()
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failed
}
