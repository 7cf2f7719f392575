// Package scheduler runs periodic maintenance on a cron schedule.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Task is a named unit of periodic work
type Task struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context)
}

// Scheduler drives registered tasks with robfig/cron. Tasks run with a
// background context; stopping the scheduler waits for in-flight runs.
type Scheduler struct {
	cron   *cron.Cron
	logger arbor.ILogger
}

func New(logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logger.WithPrefix("scheduler"),
	}
}

// Register adds a task, validating its cron expression
func (s *Scheduler) Register(task Task) error {
	if task.Run == nil {
		return fmt.Errorf("task %s has no run function", task.Name)
	}
	_, err := s.cron.AddFunc(task.Schedule, func() {
		s.logger.Debug().Str("task", task.Name).Msg("Task started")
		task.Run(context.Background())
		s.logger.Debug().Str("task", task.Name).Msg("Task finished")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule task %s: %w", task.Name, err)
	}
	s.logger.Info().Str("task", task.Name).Str("schedule", task.Schedule).Msg("Task registered")
	return nil
}

// Start begins dispatching tasks
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts dispatch and blocks until running tasks return
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
