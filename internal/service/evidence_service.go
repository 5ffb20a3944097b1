package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/evaguard/evaguard/internal/domain/evidence"
)

// EvidenceService records decisions asynchronously through a buffered
// channel drained by a background worker. Checks never wait on storage.
type EvidenceService struct {
	store         evidence.DecisionStore
	records       chan evidence.DecisionRecord
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int
	sendTimeout time.Duration // 0 = drop immediately
	dropCount   atomic.Int64

	warningThreshold int          // percent of channelSize
	lastWarning      atomic.Int64 // unix nanos

	adaptiveFlushThreshold int

	stopOnce sync.Once
}

// EvidenceOption configures EvidenceService.
type EvidenceOption func(*EvidenceService)

// WithBatchSize sets the number of records to batch before writing.
func WithBatchSize(size int) EvidenceOption {
	return func(s *EvidenceService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets the interval to flush pending records.
func WithFlushInterval(interval time.Duration) EvidenceOption {
	return func(s *EvidenceService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the size of the record channel buffer.
func WithChannelSize(size int) EvidenceOption {
	return func(s *EvidenceService) {
		if size > 0 {
			s.records = make(chan evidence.DecisionRecord, size)
			s.channelSize = size
		}
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 drops immediately, >0 blocks up to this duration before dropping.
func WithSendTimeout(timeout time.Duration) EvidenceOption {
	return func(s *EvidenceService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the channel depth warning percentage (0-100).
func WithWarningThreshold(percent int) EvidenceOption {
	return func(s *EvidenceService) {
		s.warningThreshold = clampPercent(percent)
	}
}

// WithAdaptiveFlushThreshold sets the channel depth % that triggers faster flushing.
// When depth exceeds it, the flush interval drops to a quarter. 0 disables.
func WithAdaptiveFlushThreshold(percent int) EvidenceOption {
	return func(s *EvidenceService) {
		s.adaptiveFlushThreshold = clampPercent(percent)
	}
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// NewEvidenceService creates an EvidenceService writing to store.
func NewEvidenceService(store evidence.DecisionStore, logger *slog.Logger, opts ...EvidenceOption) *EvidenceService {
	const defaultChannelSize = 1000
	s := &EvidenceService{
		store:                  store,
		records:                make(chan evidence.DecisionRecord, defaultChannelSize),
		logger:                 logger,
		batchSize:              100,
		flushInterval:          time.Second,
		channelSize:            defaultChannelSize,
		sendTimeout:            100 * time.Millisecond,
		warningThreshold:       80,
		adaptiveFlushThreshold: 80,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background worker that batches and writes records.
func (s *EvidenceService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Record queues a decision record. It tries a non-blocking send first,
// then blocks up to sendTimeout. Records that still do not fit are dropped
// and counted.
func (s *EvidenceService) Record(record evidence.DecisionRecord) {
	if s.warningThreshold > 0 {
		depth := len(s.records)
		if depth >= s.channelSize*s.warningThreshold/100 {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.records <- record:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(record)
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.records <- record:
	case <-timer.C:
		s.recordDrop(record)
	}
}

func (s *EvidenceService) recordDrop(record evidence.DecisionRecord) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("decision record dropped",
		"request_id", record.RequestID,
		"decision", record.DecisionLabel(),
		"total_drops", drops,
	)
}

// warnChannelDepth logs at most once per second.
func (s *EvidenceService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("evidence channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedRecords returns the total number of dropped records.
func (s *EvidenceService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns the current channel usage.
func (s *EvidenceService) ChannelDepth() int {
	return len(s.records)
}

// ChannelCapacity returns the channel buffer size.
func (s *EvidenceService) ChannelCapacity() int {
	return s.channelSize
}

// Stop closes the channel and waits for pending records to be flushed.
// Record must not be called after Stop.
func (s *EvidenceService) Stop() {
	s.stopOnce.Do(func() {
		close(s.records)
		s.wg.Wait()
	})
}

func (s *EvidenceService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]evidence.DecisionRecord, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	fastMode := false

	for {
		select {
		case record, ok := <-s.records:
			if !ok {
				s.finalFlush(batch)
				return
			}
			batch = append(batch, record)

			shouldFlush := len(batch) >= s.batchSize
			depthPercent := len(s.records) * 100 / s.channelSize
			if !shouldFlush && s.adaptiveFlushThreshold > 0 && depthPercent >= s.adaptiveFlushThreshold {
				shouldFlush = true
			}
			if shouldFlush {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

			if s.adaptiveFlushThreshold > 0 {
				switch {
				case depthPercent >= s.adaptiveFlushThreshold && !fastMode:
					ticker.Reset(s.flushInterval / 4)
					fastMode = true
					s.logger.Debug("evidence adaptive flush: entering fast mode",
						"depth_percent", depthPercent,
						"interval", s.flushInterval/4,
					)
				case depthPercent < s.adaptiveFlushThreshold && fastMode:
					ticker.Reset(s.flushInterval)
					fastMode = false
					s.logger.Debug("evidence adaptive flush: returning to normal mode",
						"depth_percent", depthPercent,
						"interval", s.flushInterval,
					)
				}
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Drain what is buffered; Stop closes the channel.
			for record := range s.records {
				batch = append(batch, record)
			}
			s.finalFlush(batch)
			return
		}
	}
}

// finalFlush writes the remaining batch with a bounded deadline.
func (s *EvidenceService) finalFlush(batch []evidence.DecisionRecord) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flush(ctx, batch)
	if err := s.store.Flush(ctx); err != nil {
		s.logger.Error("failed to flush decision store", "error", err)
	}
}

// flush writes a batch. Errors are logged: evidence never fails a check.
func (s *EvidenceService) flush(ctx context.Context, batch []evidence.DecisionRecord) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write decision batch",
			"error", err,
			"count", len(batch),
		)
	}
}
