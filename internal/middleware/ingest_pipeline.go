package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"MarketLens/internal/domain/models"
	domrepo "MarketLens/internal/domain/repository"
)

// Dispatcher is the minimal downstream the pipeline needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, b *models.ScrapeBatch) error
}

// IngestPipeline sits between the scrape collector and the dispatcher.
// It enforces the ingestion contract, optionally transforms batches and
// buffers them while downstream is unavailable.
type IngestPipeline struct {
	next      Dispatcher
	metrics   domrepo.Metrics
	bufSize   int
	bufCh     chan *models.ScrapeBatch
	stopCh    chan struct{} // nil while stopped
	mu        sync.Mutex
	transform func(*models.ScrapeBatch) *models.ScrapeBatch
	backoff   time.Duration
	maxWait   time.Duration
}

type PipelineOption func(*IngestPipeline)

// WithBufferSize sets the buffer size used while downstream is unavailable.
func WithBufferSize(n int) PipelineOption {
	return func(p *IngestPipeline) {
		if n > 0 {
			p.bufSize = n
		}
	}
}

// WithBackoff sets the initial and maximum flush retry delay.
func WithBackoff(initial, max time.Duration) PipelineOption {
	return func(p *IngestPipeline) {
		if initial > 0 {
			p.backoff = initial
		}
		if max >= p.backoff {
			p.maxWait = max
		}
	}
}

// WithTransform sets a hook applied to each batch after validation.
func WithTransform(fn func(*models.ScrapeBatch) *models.ScrapeBatch) PipelineOption {
	return func(p *IngestPipeline) { p.transform = fn }
}

func NewIngestPipeline(next Dispatcher, metrics domrepo.Metrics, opts ...PipelineOption) *IngestPipeline {
	p := &IngestPipeline{
		next:    next,
		metrics: metrics,
		bufSize: 64,
		backoff: 50 * time.Millisecond,
		maxWait: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.bufCh = make(chan *models.ScrapeBatch, p.bufSize)
	return p
}

// Start launches background flushing of buffered batches. A stopped
// pipeline can be started again; buffered batches are kept.
func (p *IngestPipeline) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil {
		return
	}
	p.stopCh = make(chan struct{})
	go p.flush(ctx, p.stopCh)
}

func (p *IngestPipeline) flush(ctx context.Context, stop <-chan struct{}) {
	backoff := p.backoff
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case b := <-p.bufCh:
			if b == nil {
				continue
			}
			if err := p.next.Dispatch(ctx, b); err != nil {
				p.metrics.RecordError("pipeline_flush")
				if backoff < p.maxWait {
					backoff *= 2
					if backoff > p.maxWait {
						backoff = p.maxWait
					}
				}
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				case <-stop:
					return
				}
				select {
				case p.bufCh <- b:
				default:
					p.metrics.RecordError("pipeline_buffer_drop")
				}
				continue
			}
			backoff = p.backoff
		}
	}
}

// Stop stops the background flushing. Stopping twice is a no-op.
func (p *IngestPipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh == nil {
		return
	}
	close(p.stopCh)
	p.stopCh = nil
}

// Buffered returns the number of batches waiting for downstream.
func (p *IngestPipeline) Buffered() int { return len(p.bufCh) }

// Process validates a batch, drops rows that break the contract and
// forwards it. A downstream failure buffers the batch and is returned.
func (p *IngestPipeline) Process(ctx context.Context, b *models.ScrapeBatch) error {
	start := time.Now()
	if b == nil {
		return fmt.Errorf("batch nil")
	}
	if err := b.Validate(); err != nil {
		p.metrics.RecordError("pipeline_validate")
		return err
	}
	if dropped := b.Clean(); dropped > 0 {
		p.metrics.RecordError("pipeline_invalid_row")
	}
	if p.transform != nil {
		b = p.transform(b)
		if b == nil {
			return nil
		}
		if err := b.Validate(); err != nil {
			p.metrics.RecordError("pipeline_transform_invalid")
			return err
		}
	}
	if len(b.Rows) == 0 {
		p.metrics.RecordError("pipeline_empty")
		return nil
	}

	if err := p.next.Dispatch(ctx, b); err != nil {
		p.metrics.RecordError("pipeline_process")
		select {
		case p.bufCh <- b:
			p.metrics.RecordLatency("pipeline_buffer_depth", float64(len(p.bufCh)))
		default:
			p.metrics.RecordError("pipeline_buffer_full")
		}
		return fmt.Errorf("pipeline downstream: %w", err)
	}
	p.metrics.RecordLatency("pipeline_process", time.Since(start).Seconds())
	return nil
}
