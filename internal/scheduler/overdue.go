package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sajanshree/order-api/internal/models"
	"github.com/sajanshree/order-api/internal/service"
	"github.com/sajanshree/order-api/pkg/logger"
)

// ErrSweepInProgress is returned by RunOnce while another sweep is running
var ErrSweepInProgress = errors.New("overdue sweep already in progress")

// OrderLifecycle is the part of the order service the sweep drives
type OrderLifecycle interface {
	ListOverdue(ctx context.Context, asOf time.Time) ([]*models.Order, error)
	SetStatus(ctx context.Context, id, status string, opts ...service.StatusOption) (*models.Order, error)
}

// Config sets the daily wall-clock time of the sweep
type Config struct {
	Hour       int
	Minute     int
	Location   *time.Location
	RunOnStart bool
}

// SweepReport summarises one sweep run. Skipped orders left Pending between the listing and their update.
type SweepReport struct {
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Matched    int       `json:"matched"`
	Advanced   int       `json:"advanced"`
	Failed     int       `json:"failed"`
	FailedIDs  []string  `json:"failedIds,omitempty"`
	Skipped    int       `json:"skipped"`
	SkippedIDs []string  `json:"skippedIds,omitempty"`
}

// OverdueSweeper moves Pending orders past their delivery date to Processing once a day
type OverdueSweeper struct {
	orders OrderLifecycle
	cfg    Config
	logger logger.Logger
	now    func() time.Time

	sweeping chan struct{}

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex
}

// NewOverdueSweeper creates a new OverdueSweeper
func NewOverdueSweeper(orders OrderLifecycle, cfg Config, logger logger.Logger) *OverdueSweeper {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	return &OverdueSweeper{
		orders:   orders,
		cfg:      cfg,
		logger:   logger.With("component", "overdue_sweeper"),
		now:      time.Now,
		sweeping: make(chan struct{}, 1),
	}
}

// Start launches the daily loop
func (s *OverdueSweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		s.loop()
	}()

	s.logger.Info("Overdue sweeper started",
		"at", time.Date(0, 1, 1, s.cfg.Hour, s.cfg.Minute, 0, 0, time.UTC).Format("15:04"),
		"location", s.cfg.Location.String(),
		"nextRun", s.NextRun(s.now()))
}

// Stop cancels the loop and waits for an in-flight sweep to finish
func (s *OverdueSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.cancel()
	s.wg.Wait()
	s.running = false

	s.logger.Info("Overdue sweeper stopped")
}

func (s *OverdueSweeper) loop() {
	if s.cfg.RunOnStart {
		s.runScheduled()
	}

	for {
		wait := s.NextRun(s.now()).Sub(s.now())
		timer := time.NewTimer(wait)

		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runScheduled()
		}
	}
}

func (s *OverdueSweeper) runScheduled() {
	if _, err := s.RunOnce(s.ctx); err != nil {
		s.logger.Error("Scheduled overdue sweep failed", "error", err)
	}
}

// NextRun returns the first scheduled instant strictly after now
func (s *OverdueSweeper) NextRun(now time.Time) time.Time {
	local := now.In(s.cfg.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.cfg.Hour, s.cfg.Minute, 0, 0, s.cfg.Location)

	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.cfg.Hour, s.cfg.Minute, 0, 0, s.cfg.Location)
	}
	return next
}

// RunOnce performs one sweep. Failures on single orders are counted and logged; the sweep continues.
func (s *OverdueSweeper) RunOnce(ctx context.Context) (*SweepReport, error) {
	select {
	case s.sweeping <- struct{}{}:
	default:
		return nil, ErrSweepInProgress
	}
	defer func() { <-s.sweeping }()

	report := &SweepReport{StartedAt: s.now().UTC()}

	overdue, err := s.orders.ListOverdue(ctx, report.StartedAt)

	if err != nil {
		return nil, err
	}

	report.Matched = len(overdue)

	for _, order := range overdue {
		if err := ctx.Err(); err != nil {
			s.logger.Warn("Overdue sweep interrupted", "error", err,
				"remaining", report.Matched-report.Advanced-report.Failed-report.Skipped)
			break
		}

		_, err := s.orders.SetStatus(ctx, order.ID, string(models.OrderStatusProcessing),
			service.Automatic(), service.ExpectStatus(models.OrderStatusPending))

		if errors.Is(err, service.ErrStatusChanged) {
			report.Skipped++
			report.SkippedIDs = append(report.SkippedIDs, order.ID)
			s.logger.Info("Overdue order is no longer Pending, leaving it", "id", order.ID, "orderId", order.OrderID)
			continue
		}

		if err != nil {
			report.Failed++
			report.FailedIDs = append(report.FailedIDs, order.ID)
			s.logger.Error("Failed to advance overdue order", "error", err, "id", order.ID, "orderId", order.OrderID)
			continue
		}

		report.Advanced++
	}

	report.FinishedAt = s.now().UTC()

	s.logger.Info("Overdue sweep finished",
		"matched", report.Matched,
		"advanced", report.Advanced,
		"failed", report.Failed,
		"skipped", report.Skipped,
		"duration", report.FinishedAt.Sub(report.StartedAt))

	return report, nil
}
