package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultPollInterval is how often the Scheduler checks for due tasks.
const DefaultPollInterval = time.Second

// Scheduler runs RotationTasks on their configured cron/interval schedule.
// One Scheduler instance serves every storage that declared a rotation
// interval in its storage_config.
type Scheduler struct {
	mu           sync.Mutex
	tasks        map[string]*taskState
	pollInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type taskState struct {
	task    *RotationTask
	next    time.Time
	running bool
}

// New creates a Scheduler with no tasks registered.
func New() *Scheduler {
	return &Scheduler{
		tasks:        make(map[string]*taskState),
		pollInterval: DefaultPollInterval,
	}
}

// Register adds task to the scheduler, computing its first fire time
// relative to now. Calling Register twice for the same Name replaces the
// prior registration.
func (s *Scheduler) Register(task *RotationTask) error {
	first, err := nextRun(task, time.Now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.Name] = &taskState{task: task, next: first}
	return nil
}

// Start begins the poll loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.pollLoop(runCtx)

	log.Info().Dur("poll_interval", s.pollInterval).Msg("rotation scheduler started")
}

// Stop cancels the poll loop and waits for any in-flight rotation to
// return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	log.Info().Msg("rotation scheduler stopped")
}

func (s *Scheduler) pollLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	due := make([]*taskState, 0)
	for _, st := range s.tasks {
		if !st.next.After(now) {
			due = append(due, st)
		}
	}
	s.mu.Unlock()

	for _, st := range due {
		s.runOne(ctx, st)
	}
}

func (s *Scheduler) runOne(ctx context.Context, st *taskState) {
	s.mu.Lock()
	if st.running && st.task.SkipIfRunning {
		s.mu.Unlock()
		log.Debug().Str("task", st.task.Name).Msg("skipping rotation, previous run still active")
		return
	}
	st.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			st.running = false
			now := time.Now()
			st.task.LastRun = &now
			if next, err := nextRun(st.task, now); err == nil {
				st.next = next
			} else {
				log.Error().Str("task", st.task.Name).Err(err).Msg("computing next rotation time")
			}
			s.mu.Unlock()
		}()

		if err := st.task.Target.Rotate(ctx); err != nil {
			s.mu.Lock()
			st.task.LastErr = err
			s.mu.Unlock()
			log.Error().Str("task", st.task.Name).Err(err).Msg("rotation task failed")
		} else {
			log.Debug().Str("task", st.task.Name).Msg("rotation task completed")
		}
	}()
}
