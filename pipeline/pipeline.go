package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-gallery/config"
	"github.com/aluiziolira/go-scrape-gallery/models"
)

var (
	// ErrPipelineClosed is returned when a record arrives after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when Close gives up waiting for the
	// owner goroutine to drain.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

var drainTimeout = 30 * time.Second

// OutputWriter defines the interface for data output.
type OutputWriter interface {
	Write(rows []models.Row) error
	Close() error
	Validate() error
}

type outcome struct {
	topic     string
	pageIndex int
	record    *models.ImageRecord
	failure   *models.ExtractionFailure
}

// Pipeline funnels extraction outcomes from concurrent workers into one
// owning goroutine that appends them to the Aggregator and flushes rows to
// the writer in batches.
type Pipeline struct {
	ctx       context.Context
	writer    OutputWriter
	agg       *Aggregator
	ch        chan outcome
	batchSize int

	wg   sync.WaitGroup
	once sync.Once

	mu      sync.Mutex // guards closed/err/written
	closed  bool
	err     error
	written int

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline sized from cfg. writer may be nil, in which
// case outcomes are only aggregated.
func NewPipeline(ctx context.Context, writer OutputWriter, cfg *config.Config) *Pipeline {
	if ctx == nil {
		ctx = context.Background()
	}
	buffer := cfg.PipelineBufferSize
	if buffer <= 0 {
		buffer = 1
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1
	}
	return &Pipeline{
		ctx:       ctx,
		writer:    writer,
		agg:       NewAggregator(cfg.DedupeMaxSize),
		ch:        make(chan outcome, buffer),
		batchSize: batch,
		shutdown:  make(chan struct{}),
	}
}

// Start launches the owning goroutine. Calling it more than once is a no-op.
func (p *Pipeline) Start() {
	p.once.Do(func() {
		p.wg.Add(1)
		go p.run()
	})
}

// Aggregator exposes the accumulated outcomes.
func (p *Pipeline) Aggregator() *Aggregator {
	return p.agg
}

// RecordSuccess enqueues a successful record. After Close the record is
// appended to the aggregator directly so it is never lost.
func (p *Pipeline) RecordSuccess(topic string, pageIndex int, record *models.ImageRecord) {
	if record == nil {
		return
	}
	if err := p.enqueue(outcome{topic: topic, pageIndex: pageIndex, record: record}); err != nil {
		slog.Warn("record after pipeline close", slog.String("link", record.ImagePage))
		p.agg.RecordSuccess(topic, pageIndex, record)
	}
}

// RecordFailure enqueues a failed link.
func (p *Pipeline) RecordFailure(failure models.ExtractionFailure) {
	if err := p.enqueue(outcome{failure: &failure}); err != nil {
		slog.Warn("failure after pipeline close", slog.String("link", failure.Link))
		p.agg.RecordFailure(failure)
	}
}

// Close stops intake, waits for the owner goroutine to drain and flush, and
// returns the first write error. It does not close the writer.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.ch)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		return fmt.Errorf("drain after %s: %w", drainTimeout, ErrPipelineCloseTimeout)
	}
	return p.Err()
}

// Err returns the first error encountered while writing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Written returns the number of rows handed to the writer successfully.
func (p *Pipeline) Written() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

// StartProgressReporting logs aggregator counts every interval until the
// pipeline closes or its context ends.
func (p *Pipeline) StartProgressReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				rows, failures, duplicates := p.agg.Counts()
				slog.Info("pipeline progress",
					slog.Int("rows", rows),
					slog.Int("failures", failures),
					slog.Int("repeated_links", duplicates),
					slog.Int("written", p.Written()),
				)
			case <-p.shutdown:
				return
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

func (p *Pipeline) run() {
	defer p.wg.Done()

	batch := make([]models.Row, 0, p.batchSize)
	flush := func() {
		if len(batch) == 0 || p.writer == nil {
			batch = batch[:0]
			return
		}
		if p.Err() == nil {
			if err := p.writer.Write(batch); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
			} else {
				p.mu.Lock()
				p.written += len(batch)
				p.mu.Unlock()
			}
		}
		batch = batch[:0]
	}

	for o := range p.ch {
		if o.failure != nil {
			p.agg.RecordFailure(*o.failure)
			continue
		}
		p.agg.RecordSuccess(o.topic, o.pageIndex, o.record)
		batch = append(batch, models.Row{
			SearchTopic: o.topic,
			PageNum:     o.pageIndex,
			ImageRecord: *o.record,
		})
		if len(batch) >= p.batchSize {
			flush()
		}
	}
	flush()
}

func (p *Pipeline) enqueue(o outcome) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrPipelineClosed
	}

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.ch <- o:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err == nil {
		p.err = err
	}
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}
