package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/moonhollow/werewolf-arena/internal/metrics"
)

const (
	// taskBuffer bounds each game's mailbox. Submissions past it get ErrBusy
	// instead of queueing behind a stuck turn.
	taskBuffer = 32
	// runnerIdle is how long a runner lingers after its last task before the
	// goroutine exits. Parked games cost nothing while waiting on a human.
	runnerIdle = 2 * time.Minute
)

type task struct {
	fn    func(context.Context) error
	reply chan error
}

type runner struct {
	tasks chan task
}

// Scheduler gives every game a single writer: one runner goroutine drains
// that game's mailbox in order, so advance passes and human submissions can
// never interleave. Runners spawn on demand and retire when idle; distinct
// games run in parallel.
type Scheduler struct {
	engine *Engine
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	runners map[uuid.UUID]*runner
}

func NewScheduler(engine *Engine, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		engine:  engine,
		log:     logger,
		ctx:     ctx,
		cancel:  cancel,
		runners: make(map[uuid.UUID]*runner),
	}
}

// Kick schedules an advance pass for the game. Non-blocking: a full mailbox
// already guarantees a pending pass, so the extra kick is dropped.
func (s *Scheduler) Kick(gameID uuid.UUID) {
	s.enqueue(gameID, task{fn: func(ctx context.Context) error {
		return s.engine.advance(ctx, gameID)
	}})
}

// Do runs fn on the game's runner and waits for the result. fn receives the
// scheduler's context, not the caller's: a submission that was accepted keeps
// driving the game even if the submitting request goes away.
func (s *Scheduler) Do(ctx context.Context, gameID uuid.UUID, fn func(context.Context) error) error {
	reply := make(chan error, 1)
	if !s.enqueue(gameID, task{fn: fn, reply: reply}) {
		return ErrBusy
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// Stop cancels the scheduler context and waits for every runner to finish its
// current task.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// enqueue delivers a task to the game's runner, spawning one if needed.
// Sending under the lock is what makes runner retirement safe: the idle exit
// re-checks the mailbox under the same lock, so a task either lands before
// the runner leaves the map or creates a fresh runner.
func (s *Scheduler) enqueue(gameID uuid.UUID, t task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	r, ok := s.runners[gameID]
	if !ok {
		r = &runner{tasks: make(chan task, taskBuffer)}
		s.runners[gameID] = r
		s.wg.Add(1)
		metrics.ActiveRunners.Inc()
		go s.run(gameID, r)
	}
	select {
	case r.tasks <- t:
		return true
	default:
		return false
	}
}

func (s *Scheduler) run(gameID uuid.UUID, r *runner) {
	defer s.wg.Done()
	defer metrics.ActiveRunners.Dec()

	idle := time.NewTimer(runnerIdle)
	defer idle.Stop()
	for {
		select {
		case <-s.ctx.Done():
			s.retire(gameID)
			return
		case t := <-r.tasks:
			s.execute(gameID, t)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(runnerIdle)
		case <-idle.C:
			s.mu.Lock()
			if len(r.tasks) > 0 {
				s.mu.Unlock()
				idle.Reset(runnerIdle)
				continue
			}
			delete(s.runners, gameID)
			s.mu.Unlock()
			return
		}
	}
}

func (s *Scheduler) execute(gameID uuid.UUID, t task) {
	err := s.safeRun(t.fn)
	if t.reply != nil {
		t.reply <- err
		return
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Error("scheduled pass failed",
			zap.String("game_id", gameID.String()), zap.Error(err))
	}
}

// safeRun keeps a panicking turn from taking the runner down with it.
func (s *Scheduler) safeRun(fn func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("recovered runner panic", zap.Any("panic", rec), zap.Stack("stack"))
			err = fmt.Errorf("runner panic: %v", rec)
		}
	}()
	return fn(s.ctx)
}

func (s *Scheduler) retire(gameID uuid.UUID) {
	s.mu.Lock()
	delete(s.runners, gameID)
	s.mu.Unlock()
}
