package cache

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSweepSchedule runs housekeeping once a day.
const DefaultSweepSchedule = "@daily"

// Task is a named housekeeping job.
type Task struct {
	Name string
	Run  func() error
}

// Janitor runs housekeeping tasks on a cron schedule.
type Janitor struct {
	cron *cron.Cron
	log  *zap.Logger

	mu    sync.Mutex
	tasks []Task
}

// NewJanitor validates spec and registers tasks to run on it.
func NewJanitor(spec string, log *zap.Logger, tasks ...Task) (*Janitor, error) {
	if spec == "" {
		spec = DefaultSweepSchedule
	}
	if log == nil {
		log = zap.NewNop()
	}
	j := &Janitor{
		log:   log.Named("janitor"),
		tasks: tasks,
	}
	j.cron = cron.New(cron.WithLogger(cronLogger{j.log.Sugar()}))
	if _, err := j.cron.AddFunc(spec, j.RunOnce); err != nil {
		return nil, fmt.Errorf("cache: invalid sweep schedule %q: %w", spec, err)
	}
	return j, nil
}

// SweepTask returns a task that purges expired cache entries.
func SweepTask(c *Cache) Task {
	return Task{
		Name: "cache-sweep",
		Run: func() error {
			c.Sweep()
			return nil
		},
	}
}

// Start begins running tasks on schedule.
func (j *Janitor) Start() {
	j.cron.Start()
	j.log.Info("janitor started", zap.Int("tasks", len(j.tasks)))
}

// Stop halts the schedule and waits for a running pass to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// RunOnce executes every task now. A failing task does not stop the others.
func (j *Janitor) RunOnce() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, t := range j.tasks {
		if err := t.Run(); err != nil {
			j.log.Warn("housekeeping task failed", zap.String("task", t.Name), zap.Error(err))
			continue
		}
		j.log.Debug("housekeeping task done", zap.String("task", t.Name))
	}
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
