// Package scheduler runs a job at a fixed interval. The server uses it to
// refit the model from a remote dataset that may change upstream.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one scheduled execution.
type Job func(ctx context.Context) error

// Scheduler 定时任务调度器
type Scheduler struct {
	mu             sync.RWMutex
	running        bool
	interval       time.Duration
	jobTimeout     time.Duration
	lastExecution  time.Time
	lastErr        error
	executionCount int64
	failureCount   int64
	job            Job
	logger         *zap.Logger
	cancel         context.CancelFunc
	done           chan struct{}
}

// Stats 调度器统计信息
type Stats struct {
	Running        bool      `json:"running"`
	Interval       string    `json:"interval"`
	LastExecution  time.Time `json:"last_execution"`
	LastError      string    `json:"last_error,omitempty"`
	ExecutionCount int64     `json:"execution_count"`
	FailureCount   int64     `json:"failure_count"`
}

// New 创建调度器. jobTimeout bounds each execution; zero means no bound.
func New(interval, jobTimeout time.Duration, job Job, logger *zap.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("invalid interval %s", interval)
	}
	if job == nil {
		return nil, fmt.Errorf("job is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		interval:   interval,
		jobTimeout: jobTimeout,
		job:        job,
		logger:     logger,
	}, nil
}

// Start 启动调度器，ctx结束时自动停止
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	go s.run(ctx, s.done)

	s.logger.Info("scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop 停止调度器并等待当前任务结束
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	s.cancel()
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Running:        s.running,
		Interval:       s.interval.String(),
		LastExecution:  s.lastExecution,
		ExecutionCount: s.executionCount,
		FailureCount:   s.failureCount,
	}
	if s.lastErr != nil {
		stats.LastError = s.lastErr.Error()
	}
	return stats
}

// run 调度器主循环
func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	ticker := time.NewTicker(s.interval)
	defer func() {
		ticker.Stop()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ExecuteNow(ctx)
		}
	}
}

// ExecuteNow 立即执行一次
func (s *Scheduler) ExecuteNow(ctx context.Context) error {
	start := time.Now()
	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}

	err := s.job(ctx)

	s.mu.Lock()
	s.executionCount++
	s.lastExecution = start
	s.lastErr = err
	if err != nil {
		s.failureCount++
	}
	count := s.executionCount
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("scheduled job failed", zap.Int64("execution", count), zap.Error(err))
		return err
	}
	s.logger.Debug("scheduled job completed", zap.Int64("execution", count), zap.Duration("elapsed", time.Since(start)))
	return nil
}
