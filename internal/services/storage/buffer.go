package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"somnoalert/internal/backoff"
	"somnoalert/internal/logger"
	"somnoalert/internal/models"
	"somnoalert/internal/repository"
	"somnoalert/internal/services/stats"

	"github.com/google/uuid"
)

// BufferService collects records from the processing loop and writes them
// to the repositories in batches. Adding never blocks on the database;
// when the buffer is full new records are dropped and counted.
type BufferService struct {
	store       *repository.Store
	bufferLimit int
	retry       backoff.Policy
	sleep       func(context.Context, time.Duration) error
	logger      *logger.Logger
	stats       *stats.Metrics

	deviceID       atomic.Int64
	sessionID      atomic.Int64
	pendingSession atomic.Pointer[sessionRequest]

	mu      sync.Mutex
	metrics []models.MetricRecord
	events  []models.EventRecord
	reports []models.WindowReport
	dropped int
}

func NewBufferService(store *repository.Store, bufferLimit int, log *logger.Logger, metrics *stats.Metrics) *BufferService {
	return &BufferService{
		store:       store,
		bufferLimit: bufferLimit,
		retry:       backoff.Storage,
		sleep:       backoff.Sleep,
		logger:      log,
		stats:       metrics,
	}
}

// sessionRequest is a session that could not be opened yet.
type sessionRequest struct {
	deviceName  string
	deviceModel string
	startedAt   time.Time
}

// StartSession registers the device and opens a session. When that fails
// the request is kept and Flush retries it; queued records are held until
// a session exists.
func (s *BufferService) StartSession(ctx context.Context, deviceName, deviceModel string, now time.Time) error {
	req := sessionRequest{deviceName: deviceName, deviceModel: deviceModel, startedAt: now}
	if err := s.openSession(ctx, req); err != nil {
		s.pendingSession.Store(&req)
		return err
	}
	s.pendingSession.Store(nil)
	return nil
}

func (s *BufferService) openSession(ctx context.Context, req sessionRequest) error {
	var deviceID, sessionID int64
	err := s.retry.RetryWith(ctx, s.sleep, func(ctx context.Context) error {
		var err error
		if deviceID, err = s.store.Devices.Upsert(ctx, req.deviceName, req.deviceModel); err != nil {
			return err
		}
		sessionID, err = s.store.Sessions.Start(ctx, deviceID, uuid.NewString(), req.startedAt)
		return err
	})
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	s.deviceID.Store(deviceID)
	s.sessionID.Store(sessionID)
	s.logger.Info("Storage session %d started for device %s (%d)", sessionID, req.deviceName, deviceID)
	return nil
}

// EndSession stamps the end of the current session.
func (s *BufferService) EndSession(ctx context.Context, now time.Time) error {
	id := s.sessionID.Load()
	if id == 0 {
		return nil
	}
	if err := s.store.Sessions.End(ctx, id, now); err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

func (s *BufferService) SessionID() int64 {
	return s.sessionID.Load()
}

// SaveConfig persists cfg as the device's current configuration.
func (s *BufferService) SaveConfig(ctx context.Context, cfg interface{}, now time.Time) error {
	deviceID := s.deviceID.Load()
	if deviceID == 0 {
		return nil
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return s.retry.RetryWith(ctx, s.sleep, func(ctx context.Context) error {
		return s.store.Devices.SaveConfig(ctx, models.DeviceConfig{DeviceID: deviceID, UpdatedAt: now, Config: raw})
	})
}

// AddMetric queues a metrics snapshot.
func (s *BufferService) AddMetric(at time.Time, msg models.MetricsMessage) {
	rec := models.MetricRecordFrom(s.sessionID.Load(), at, msg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full() {
		s.dropped++
		return
	}
	s.metrics = append(s.metrics, rec)
}

// AddEvent queues a detector event. Window reports go to their own table;
// frame overlays are display-only and never stored.
func (s *BufferService) AddEvent(e models.Event) {
	if e.Type == models.EventFrameOverlay {
		return
	}
	sessionID := s.sessionID.Load()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full() {
		s.dropped++
		return
	}
	if e.IsWindowReport() {
		rep, err := models.WindowReportFrom(sessionID, e)
		if err != nil {
			s.logger.Error("Error encoding window report: %v", err)
			return
		}
		s.reports = append(s.reports, rep)
		return
	}
	rec, err := models.EventRecordFrom(sessionID, e)
	if err != nil {
		s.logger.Error("Error encoding event %s: %v", e.Type, err)
		return
	}
	s.events = append(s.events, rec)
}

func (s *BufferService) full() bool {
	return len(s.metrics)+len(s.events)+len(s.reports) >= s.bufferLimit
}

// Pending returns the number of queued records.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.metrics) + len(s.events) + len(s.reports)
}

// Run flushes every interval until ctx is done, then flushes once more
// with a short grace period.
func (s *BufferService) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.Flush(final)
			cancel()
			return nil
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Flush writes everything queued so far. Each batch is retried with
// backoff; a batch that still fails is dropped and logged. While a
// requested session cannot be opened the queue is kept as it is. The
// number of records dropped is returned.
func (s *BufferService) Flush(ctx context.Context) int {
	if req := s.pendingSession.Load(); req != nil {
		if err := s.openSession(ctx, *req); err != nil {
			s.logger.Warning("Storage session unavailable, holding %d records: %v", s.Pending(), err)
			return s.countDrops(s.takeOverflow())
		}
		s.pendingSession.Store(nil)
	}
	sessionID := s.sessionID.Load()

	s.mu.Lock()
	metrics, events, reports := s.metrics, s.events, s.reports
	s.metrics, s.events, s.reports = nil, nil, nil
	s.mu.Unlock()
	lost := s.takeOverflow()

	// Records queued before the session opened.
	for i := range metrics {
		if metrics[i].SessionID == 0 {
			metrics[i].SessionID = sessionID
		}
	}
	for i := range events {
		if events[i].SessionID == 0 {
			events[i].SessionID = sessionID
		}
	}
	for i := range reports {
		if reports[i].SessionID == 0 {
			reports[i].SessionID = sessionID
		}
	}

	lost += s.write(ctx, "metrics", len(metrics), func(ctx context.Context) error {
		return s.store.Metrics.InsertBatch(ctx, metrics)
	})
	lost += s.write(ctx, "events", len(events), func(ctx context.Context) error {
		return s.store.Events.InsertBatch(ctx, events)
	})
	lost += s.write(ctx, "window reports", len(reports), func(ctx context.Context) error {
		return s.store.Reports.InsertBatch(ctx, reports)
	})
	return s.countDrops(lost)
}

// takeOverflow resets and returns the number of records refused because
// the buffer was full.
func (s *BufferService) takeOverflow() int {
	s.mu.Lock()
	overflow := s.dropped
	s.dropped = 0
	s.mu.Unlock()
	if overflow > 0 {
		s.logger.Warning("Storage buffer full: dropped %d records", overflow)
	}
	return overflow
}

func (s *BufferService) countDrops(lost int) int {
	if lost > 0 && s.stats != nil {
		s.stats.AddStorageDrops(lost)
	}
	return lost
}

func (s *BufferService) write(ctx context.Context, what string, n int, fn func(context.Context) error) int {
	if n == 0 {
		return 0
	}
	if err := s.retry.RetryWith(ctx, s.sleep, fn); err != nil {
		s.logger.Error("Error storing %d %s: %v", n, what, err)
		return n
	}
	return 0
}
