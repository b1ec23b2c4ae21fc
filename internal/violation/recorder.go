package violation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/models"
	"github.com/zebra-devops/MarketEdge-Platform-sub005/internal/observability"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	flushTimeout         = 5 * time.Second
)

// BatchWriter is the slice of the violation repository the recorder needs.
type BatchWriter interface {
	CreateBatch(ctx context.Context, violations []*models.RateLimitViolation) error
}

// Recorder persists denial records off the request path. Record never
// blocks: violations go onto a bounded queue and a background worker batch
// inserts them. When the queue is full the oldest record is dropped (and
// counted) so the newest evidence survives.
type Recorder struct {
	repo     BatchWriter
	counters *observability.Counters
	logger   *zap.Logger

	queue chan *models.RateLimitViolation
	done  chan struct{}
	wg    sync.WaitGroup
	once  sync.Once

	batchSize     int
	flushInterval time.Duration
}

func NewRecorder(repo BatchWriter, counters *observability.Counters, logger *zap.Logger, queueSize int) *Recorder {
	if queueSize <= 0 {
		queueSize = 1000
	}

	r := &Recorder{
		repo:          repo,
		counters:      counters,
		logger:        logger,
		queue:         make(chan *models.RateLimitViolation, queueSize),
		done:          make(chan struct{}),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
	}

	r.wg.Add(1)
	go r.worker()

	return r
}

// Record enqueues a violation without blocking the caller.
func (r *Recorder) Record(v *models.RateLimitViolation) {
	select {
	case r.queue <- v:
		return
	default:
	}

	// Queue full: evict the oldest record to make room
	select {
	case <-r.queue:
		r.counters.IncViolationDropped()
	default:
	}

	select {
	case r.queue <- v:
	default:
		// Lost the race with other producers; the new record is the casualty
		r.counters.IncViolationDropped()
	}
}

// Close stops the worker after draining and flushing the queue. Safe to call
// multiple times.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.done)
	})
	r.wg.Wait()
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	batch := make([]*models.RateLimitViolation, 0, r.batchSize)
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case v := <-r.queue:
			batch = append(batch, v)
			if len(batch) >= r.batchSize {
				r.flush(batch)
				batch = make([]*models.RateLimitViolation, 0, r.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = make([]*models.RateLimitViolation, 0, r.batchSize)
			}
		case <-r.done:
			// Drain whatever is queued, then flush once and exit
			for {
				select {
				case v := <-r.queue:
					batch = append(batch, v)
				default:
					if len(batch) > 0 {
						r.flush(batch)
					}
					return
				}
			}
		}
	}
}

// flush writes one batch, retrying once before giving the records up.
func (r *Recorder) flush(batch []*models.RateLimitViolation) {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	err := r.repo.CreateBatch(ctx, batch)
	if err == nil {
		return
	}

	r.logger.Warn("violation batch insert failed, retrying",
		zap.Int("batch_size", len(batch)),
		zap.Error(err))

	if err := r.repo.CreateBatch(ctx, batch); err != nil {
		for range batch {
			r.counters.IncViolationDropped()
		}
		r.logger.Error("violation batch insert failed, records dropped",
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
	}
}
