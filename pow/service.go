// Copyright (c) 2024 The bmnode developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package pow

import (
	"context"
	"sync"

	"github.com/btcsuite/btclog"
)

// log is the package-level logger, wired by UseLogger the same way the
// teacher's mining packages do.
var log = btclog.Disabled

// UseLogger sets the package-wide logger.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// Job is one queued grind request.
type Job struct {
	ID          uint64
	InitialHash [64]byte
	Target      uint64

	// Result receives exactly one value: the solved nonce on success, or
	// an error if the job was cancelled before it ran or while running.
	Result chan Result
}

// Result is what a Job.Result channel delivers.
type Result struct {
	Nonce uint64
	Err   error
}

// Service runs queued PoW jobs one at a time, FIFO, off the I/O path. It
// mirrors the single-flight job queue of the teacher's mining pool job
// manager: one active job, a quit channel, and a dedicated goroutine —
// generalized here to grind requests instead of block templates.
type Service struct {
	engine Engine

	mu      sync.Mutex
	queue   []*Job
	pending map[uint64]context.CancelFunc

	wake chan struct{}
	quit chan struct{}
	wg   sync.WaitGroup

	nextID uint64
}

// NewService starts a Service backed by engine. Call Stop to shut it down.
func NewService(engine Engine) *Service {
	s := &Service{
		engine:  engine,
		pending: make(map[uint64]context.CancelFunc),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Submit enqueues a grind request and returns its Job; the caller reads
// exactly one Result off Job.Result.
func (s *Service) Submit(initialHash [64]byte, target uint64) *Job {
	s.mu.Lock()
	s.nextID++
	job := &Job{
		ID:          s.nextID,
		InitialHash: initialHash,
		Target:      target,
		Result:      make(chan Result, 1),
	}
	s.queue = append(s.queue, job)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}

	log.Debugf("pow: queued job %d (queue depth %d)", job.ID, len(s.queue))
	return job
}

// Cancel removes a not-yet-started job from the queue, or cancels it if it
// is currently running. It is a no-op if the job already completed.
func (s *Service) Cancel(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.queue {
		if job.ID == id {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			job.Result <- Result{Err: context.Canceled}
			return
		}
	}
	if cancel, ok := s.pending[id]; ok {
		cancel()
	}
}

// Stop drains the queue with context.Canceled and stops the worker
// goroutine. Blocks until the in-flight job (if any) returns.
func (s *Service) Stop() {
	close(s.quit)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.queue {
		job.Result <- Result{Err: context.Canceled}
	}
	s.queue = nil
}

func (s *Service) run() {
	defer s.wg.Done()

	for {
		job := s.dequeue()
		if job == nil {
			select {
			case <-s.wake:
				continue
			case <-s.quit:
				return
			}
		}

		ctx, cancel := context.WithCancel(context.Background())
		s.mu.Lock()
		s.pending[job.ID] = cancel
		s.mu.Unlock()

		go func() {
			select {
			case <-s.quit:
				cancel()
			case <-ctx.Done():
			}
		}()

		nonce, err := s.engine.Grind(ctx, job.InitialHash, job.Target)

		s.mu.Lock()
		delete(s.pending, job.ID)
		s.mu.Unlock()
		cancel()

		job.Result <- Result{Nonce: nonce, Err: err}

		select {
		case <-s.quit:
			return
		default:
		}
	}
}

func (s *Service) dequeue() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return nil
	}
	job := s.queue[0]
	s.queue = s.queue[1:]
	return job
}
