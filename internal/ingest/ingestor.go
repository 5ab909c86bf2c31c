package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/aicoder88/roigpt-sub000/internal/domain"
)

// BatchWriter persists a batch and reports how many rows were new.
type BatchWriter interface {
	InsertBatch(ctx context.Context, items []domain.Event) (int64, error)
}

// Ingestor buffers events on a bounded queue and flushes them to a
// BatchWriter by size, by timer, and once more when its context ends.
type Ingestor struct {
	queue        chan domain.Event
	writer       BatchWriter
	batchMaxSize int
	batchMaxWait time.Duration
	logger       *zap.Logger
	done         chan struct{}
}

func NewIngestor(writer BatchWriter, queueMaxSize, batchMaxSize int, batchMaxWait time.Duration, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		queue:        make(chan domain.Event, queueMaxSize),
		writer:       writer,
		batchMaxSize: batchMaxSize,
		batchMaxWait: batchMaxWait,
		logger:       logger,
		done:         make(chan struct{}),
	}
}

// Start runs the flush loop until ctx is cancelled. Events still queued
// at that point are flushed with a fresh context before Done closes.
func (ig *Ingestor) Start(ctx context.Context) {
	go func() {
		defer close(ig.done)
		batch := make([]domain.Event, 0, ig.batchMaxSize)
		t := time.NewTimer(ig.batchMaxWait)
		defer t.Stop()

		resetTimer := func() {
			if !t.Stop() {
				select {
				case <-t.C:
				default:
				}
			}
			t.Reset(ig.batchMaxWait)
		}

		flush := func(ctx context.Context) {
			if len(batch) == 0 {
				resetTimer()
				return
			}
			affected, err := ig.writer.InsertBatch(ctx, batch)
			if err != nil {
				ig.logger.Error("batch insert failed", zap.Error(err), zap.Int("dropped", len(batch)))
			} else {
				ig.logger.Debug("batch insert ok", zap.Int64("inserted", affected), zap.Int("size", len(batch)))
			}
			batch = batch[:0]
			resetTimer()
		}

		for {
			select {
			case <-ctx.Done():
				drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			drain:
				for {
					select {
					case ev := <-ig.queue:
						batch = append(batch, ev)
						if len(batch) >= ig.batchMaxSize {
							flush(drainCtx)
						}
					default:
						break drain
					}
				}
				flush(drainCtx)
				cancel()
				return
			case ev := <-ig.queue:
				batch = append(batch, ev)
				if len(batch) >= ig.batchMaxSize {
					flush(ctx)
				}
			case <-t.C:
				flush(ctx)
			}
		}
	}()
}

// Enqueue adds ev without blocking; false means the queue is full.
func (ig *Ingestor) Enqueue(ev domain.Event) bool {
	select {
	case ig.queue <- ev:
		return true
	default:
		return false
	}
}

// Done is closed once the flush loop has exited.
func (ig *Ingestor) Done() <-chan struct{} { return ig.done }
