package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

type worker struct {
	name   string
	run    func(context.Context) error
	closeF func() error
}

// Supervisor runs a fixed set of workers. The first worker that returns an
// error cancels every other worker, and Wait reports that error so the
// process can exit non-zero.
type Supervisor struct {
	mu      sync.Mutex
	workers []worker
	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
	failed  chan struct{}
	cancel  context.CancelFunc
	started bool
}

func NewSupervisor() *Supervisor {
	return &Supervisor{failed: make(chan struct{})}
}

func (s *Supervisor) Add(name string, run func(context.Context) error, closeF func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, worker{name: name, run: run, closeF: closeF})
}

func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("supervisor already started")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, w := range s.workers {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			log.WithField("worker", w.name).Debug("Worker starting")
			err := w.run(ctx)
			if err == nil || (ctx.Err() != nil && errors.Is(err, context.Canceled)) {
				log.WithField("worker", w.name).Debug("Worker stopped")
				return
			}
			log.WithError(err).WithField("worker", w.name).Error("Worker failed")
			s.errOnce.Do(func() {
				s.err = fmt.Errorf("%s: %w", w.name, err)
				close(s.failed)
			})
			s.cancel()
		}()
	}
	return nil
}

// Wait blocks until ctx is done or a worker fails, then closes the workers
// in reverse order and returns the first worker error, if any.
func (s *Supervisor) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
	case <-s.failed:
	}

	s.mu.Lock()
	workers := append([]worker(nil), s.workers...)
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Close in reverse order.
	for i := len(workers) - 1; i >= 0; i-- {
		if workers[i].closeF != nil {
			if err := workers[i].closeF(); err != nil {
				log.WithError(err).WithField("worker", workers[i].name).Warn("Worker close failed")
			}
		}
	}
	s.wg.Wait()
	return s.err
}
