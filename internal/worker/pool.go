// Package worker implements a bounded worker pool for concurrent ingestion.
package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shantanudwvd/File-Vault/internal/ingest"
	"github.com/shantanudwvd/File-Vault/internal/repository"
)

// Ingester is the part of the pipeline the pool drives.
type Ingester interface {
	Ingest(ctx context.Context, up ingest.Upload) (*repository.FileRecord, error)
}

// Job is one upload to ingest. Open is called on the worker, so the payload
// is only read once a worker is free. The result is sent on Reply, which
// must have room for it; the worker never waits on a slow reader.
type Job struct {
	Ctx       context.Context
	Index     int
	Name      string
	MediaType string
	Open      func() (io.ReadCloser, error)
	Reply     chan<- Result
}

// Result holds the outcome of a single job.
type Result struct {
	Index  int
	Name   string
	Record *repository.FileRecord
	Err    error
}

// Pool manages a fixed set of worker goroutines that process Jobs from a
// channel.
type Pool struct {
	workers  int
	ingester Ingester
	jobs     chan Job
	wg       sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
	logger   *slog.Logger
}

// NewPool creates a pool with the given number of workers.
// Call Start() to launch the goroutines.
func NewPool(workers int, ingester Ingester, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		workers:  workers,
		ingester: ingester,
		jobs:     make(chan Job, workers*2), // small buffer for backpressure
		logger:   logger.With(slog.String("component", "worker")),
	}
}

// Start launches worker goroutines. Each reads from the jobs channel until
// it is closed.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Submit enqueues a job. It blocks while the buffer is full (backpressure)
// or until the job's context ends. Returns false if the pool is shut down or
// the job was not accepted.
func (p *Pool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case p.jobs <- job:
		return true
	case <-ctx.Done():
		return false
	}
}

// Shutdown stops accepting jobs, lets the workers drain what is queued and
// waits for them to exit. Safe to call more than once.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		job.Reply <- p.process(id, job)
	}
	p.logger.Debug("worker exiting", slog.Int("worker_id", id))
}

// process ingests a single job, respecting its context.
func (p *Pool) process(workerID int, job Job) Result {
	res := Result{Index: job.Index, Name: job.Name}

	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("job cancelled before processing: %w", err)
		return res
	}

	start := time.Now()
	body, err := job.Open()
	if err != nil {
		res.Err = fmt.Errorf("open %s: %w", job.Name, err)
		return res
	}
	defer body.Close()

	res.Record, res.Err = p.ingester.Ingest(ctx, ingest.Upload{
		Body:      body,
		Name:      job.Name,
		MediaType: job.MediaType,
	})

	latency := time.Since(start)
	if res.Err != nil {
		p.logger.Error("processing failed",
			slog.Int("worker_id", workerID),
			slog.String("name", job.Name),
			slog.Duration("latency", latency),
			slog.String("error", res.Err.Error()),
		)
		return res
	}

	p.logger.Info("processing completed",
		slog.Int("worker_id", workerID),
		slog.String("file_id", res.Record.ID),
		slog.Duration("latency", latency),
		slog.Bool("duplicate", res.Record.IsDuplicate),
	)
	return res
}
