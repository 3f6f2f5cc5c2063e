// SPDX-License-Identifier: MIT
package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegisterTaskParsesIntervalSchedule(t *testing.T) {
	s := New()
	before := time.Now()
	if err := s.RegisterTask("reload", "reload lists", "5m", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("RegisterTask() error: %v", err)
	}

	tasks := s.ListTasks()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 registered task, got %d", len(tasks))
	}
	task := tasks[0]
	if !task.Enabled {
		t.Fatal("expected newly registered task to be enabled")
	}
	if task.LastResult != "pending" {
		t.Fatalf("expected initial result pending, got %q", task.LastResult)
	}
	if task.NextRun.Before(before.Add(4 * time.Minute)) {
		t.Fatalf("expected NextRun roughly 5m out, got %v (registered at %v)", task.NextRun, before)
	}
}

func TestRegisterTaskParsesCronSchedule(t *testing.T) {
	s := New()
	if err := s.RegisterTask("reload", "reload lists", "0 * * * *", func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("RegisterTask() error: %v", err)
	}
	tasks := s.ListTasks()
	if tasks[0].NextRun.IsZero() {
		t.Fatal("expected cron schedule to compute a NextRun")
	}
}

func TestRegisterTaskRejectsInvalidSchedule(t *testing.T) {
	s := New()
	if err := s.RegisterTask("reload", "reload lists", "not a schedule", func(ctx context.Context) error { return nil }); err == nil {
		t.Fatal("expected an invalid schedule string to be rejected")
	}
}

func TestRunTaskNowRecordsSuccessHistory(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	ran := make(chan struct{}, 1)
	if err := s.RegisterTask("reload", "reload lists", "1h", func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}); err != nil {
		t.Fatalf("RegisterTask() error: %v", err)
	}

	if err := s.RunTaskNow("reload"); err != nil {
		t.Fatalf("RunTaskNow() error: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run within 2s")
	}
	waitForRunCount(t, s, "reload", 1)

	tasks := s.ListTasks()
	if tasks[0].RunCount != 1 {
		t.Fatalf("expected RunCount 1, got %d", tasks[0].RunCount)
	}
	if tasks[0].LastResult != "success" {
		t.Fatalf("expected LastResult success, got %q", tasks[0].LastResult)
	}

	hist := s.GetHistory("reload", 10)
	if len(hist) != 1 || hist[0].Result != "success" {
		t.Fatalf("expected one successful history entry, got %v", hist)
	}
}

func TestRunTaskNowRecordsFailureHistory(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	failErr := errors.New("boom")
	if err := s.RegisterTask("reload", "reload lists", "1h", func(ctx context.Context) error {
		return failErr
	}); err != nil {
		t.Fatalf("RegisterTask() error: %v", err)
	}

	if err := s.RunTaskNow("reload"); err != nil {
		t.Fatalf("RunTaskNow() error: %v", err)
	}
	waitForRunCount(t, s, "reload", 1)

	tasks := s.ListTasks()
	if tasks[0].LastResult != "failure" {
		t.Fatalf("expected LastResult failure, got %q", tasks[0].LastResult)
	}
	if tasks[0].LastError != failErr.Error() {
		t.Fatalf("expected LastError %q, got %q", failErr.Error(), tasks[0].LastError)
	}
	if tasks[0].FailCount != 1 {
		t.Fatalf("expected FailCount 1, got %d", tasks[0].FailCount)
	}
}

func TestRunTaskNowUnknownTask(t *testing.T) {
	s := New()
	if err := s.RunTaskNow("missing"); err == nil {
		t.Fatal("expected RunTaskNow on an unregistered task to fail")
	}
}

func TestIsRunningTracksStartStop(t *testing.T) {
	s := New()
	if s.IsRunning() {
		t.Fatal("expected a fresh scheduler to not be running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	if !s.IsRunning() {
		t.Fatal("expected scheduler to report running after Start")
	}

	s.Stop()
	cancel()
	if s.IsRunning() {
		t.Fatal("expected scheduler to report stopped after Stop")
	}
}

func waitForRunCount(t *testing.T, s *Scheduler, taskID string, want int64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, task := range s.ListTasks() {
			if task.ID == taskID && task.RunCount >= want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s did not reach RunCount %d in time", taskID, want)
}
