package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tieubaoca/paperflow/types"
	"go.uber.org/zap"
)

const (
	RunStatusRunning  = "running"
	RunStatusFinished = "finished"
	RunStatusFailed   = "failed"

	maxRunHistory = 1000
)

var ErrUnknownRun = errors.New("unknown run")

// CoordinatorFactory builds a coordinator reporting progress to progress.
type CoordinatorFactory func(progress ProgressFunc) *Coordinator

// RunStatus is a point-in-time view of a background run.
type RunStatus struct {
	RunID     string           `json:"run_id"`
	Status    string           `json:"status"`
	Files     int              `json:"files"`
	StartedAt time.Time        `json:"started_at"`
	Error     string           `json:"error,omitempty"`
	Report    *types.RunReport `json:"report,omitempty"`
}

type runState struct {
	mu          sync.Mutex
	status      RunStatus
	history     []types.ProgressEvent
	subscribers map[chan types.ProgressEvent]struct{}
	done        chan struct{}
}

// RunManager starts coordinator runs in the background and fans their
// progress out to subscribers.
type RunManager struct {
	ctx     context.Context
	factory CoordinatorFactory
	logger  *zap.Logger

	mu   sync.RWMutex
	runs map[string]*runState
	wg   sync.WaitGroup
}

// NewRunManager ties every run to ctx, not to the request that started it.
func NewRunManager(ctx context.Context, factory CoordinatorFactory, logger *zap.Logger) *RunManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunManager{
		ctx:     ctx,
		factory: factory,
		logger:  logger.Named("runs"),
		runs:    make(map[string]*runState),
	}
}

// Start launches a run over inputs and returns its id.
func (m *RunManager) Start(inputs []types.InputFile) string {
	runID := uuid.NewString()
	st := &runState{
		status: RunStatus{
			RunID:     runID,
			Status:    RunStatusRunning,
			Files:     len(inputs),
			StartedAt: time.Now(),
		},
		subscribers: make(map[chan types.ProgressEvent]struct{}),
		done:        make(chan struct{}),
	}
	m.mu.Lock()
	m.runs[runID] = st
	m.mu.Unlock()

	coordinator := m.factory(st.publish)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		report, err := coordinator.RunWithID(m.ctx, runID, inputs)
		st.finish(report, err)
		if err != nil {
			m.logger.Error("run failed", zap.String("run_id", runID), zap.Error(err))
		}
	}()
	m.logger.Info("run started", zap.String("run_id", runID), zap.Int("files", len(inputs)))
	return runID
}

// Status returns the current view of a run.
func (m *RunManager) Status(runID string) (RunStatus, error) {
	st, err := m.get(runID)
	if err != nil {
		return RunStatus{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.status, nil
}

// Subscribe returns the events seen so far and a channel of later ones. The
// channel is closed when the run ends or cancel is called.
func (m *RunManager) Subscribe(runID string) ([]types.ProgressEvent, <-chan types.ProgressEvent, func(), error) {
	st, err := m.get(runID)
	if err != nil {
		return nil, nil, nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	history := append([]types.ProgressEvent(nil), st.history...)
	ch := make(chan types.ProgressEvent, 64)
	select {
	case <-st.done:
		close(ch)
		return history, ch, func() {}, nil
	default:
	}
	st.subscribers[ch] = struct{}{}
	cancel := func() {
		st.mu.Lock()
		defer st.mu.Unlock()
		if _, ok := st.subscribers[ch]; ok {
			delete(st.subscribers, ch)
			close(ch)
		}
	}
	return history, ch, cancel, nil
}

// Done returns a channel closed when the run ends.
func (m *RunManager) Done(runID string) (<-chan struct{}, error) {
	st, err := m.get(runID)
	if err != nil {
		return nil, err
	}
	return st.done, nil
}

// Wait blocks until every started run has finished.
func (m *RunManager) Wait() {
	m.wg.Wait()
}

func (m *RunManager) get(runID string) (*runState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.runs[runID]
	if !ok {
		return nil, ErrUnknownRun
	}
	return st, nil
}

func (st *runState) publish(ev types.ProgressEvent) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.history) < maxRunHistory {
		st.history = append(st.history, ev)
	}
	for ch := range st.subscribers {
		select {
		case ch <- ev:
		default:
			// slow subscriber, drop
		}
	}
}

func (st *runState) finish(report *types.RunReport, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.status.Report = report
	st.status.Status = RunStatusFinished
	if err != nil {
		st.status.Status = RunStatusFailed
		st.status.Error = err.Error()
	}
	for ch := range st.subscribers {
		close(ch)
		delete(st.subscribers, ch)
	}
	close(st.done)
}
