package task

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/panda/pkg/errdefs"
	"github.com/cuemby/panda/pkg/events"
	"github.com/cuemby/panda/pkg/log"
	"github.com/cuemby/panda/pkg/metrics"
	"github.com/cuemby/panda/pkg/oms"
	"github.com/cuemby/panda/pkg/types"
)

var taskIDPattern = regexp.MustCompile(`/task/(\d+)`)

// Policy bounds the polling of one task
type Policy struct {
	Interval time.Duration
	Timeout  time.Duration
}

var (
	// DefaultPolicy polls every minute for up to an hour
	DefaultPolicy = Policy{Interval: 60 * time.Second, Timeout: 3600 * time.Second}

	// UpgradePolicy is used for every blue/green upgrade phase
	UpgradePolicy = Policy{Interval: 30 * time.Second, Timeout: 1200 * time.Second}

	// CreatePolicy is used for cluster creation and retry
	CreatePolicy = Policy{Interval: 60 * time.Second, Timeout: 5400 * time.Second}
)

// Handle identifies a submitted task
type Handle struct {
	Operation string
	ID        string
}

// Fetcher reads the current state of a task
type Fetcher interface {
	GetTask(ctx context.Context, id string) (*types.Task, error)
}

// Submit checks that resp accepted an asynchronous operation and extracts
// its task id. It never polls.
func Submit(operation string, resp *oms.Response) (Handle, error) {
	if resp.StatusCode != http.StatusAccepted {
		return Handle{}, &errdefs.SubmissionError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       resp.Text(),
		}
	}

	m := taskIDPattern.FindStringSubmatch(resp.Header.Get("Location"))
	if m == nil {
		return Handle{}, &errdefs.SubmissionError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			MissingID:  true,
		}
	}
	return Handle{Operation: operation, ID: m[1]}, nil
}

// Tracker polls tasks until they reach a terminal status
type Tracker struct {
	fetcher Fetcher
	events  events.Publisher
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	logger  zerolog.Logger
}

// Option configures a Tracker
type Option func(*Tracker)

// WithClock replaces the wall clock and sleep, for tests
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Tracker) {
		t.now = now
		t.sleep = sleep
	}
}

// WithPublisher publishes task events to p
func WithPublisher(p events.Publisher) Option {
	return func(t *Tracker) {
		t.events = p
	}
}

// NewTracker creates a tracker reading tasks from fetcher
func NewTracker(fetcher Fetcher, opts ...Option) *Tracker {
	t := &Tracker{
		fetcher: fetcher,
		events:  events.Discard,
		now:     time.Now,
		sleep:   sleepContext,
		logger:  log.WithComponent("task"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// AwaitCompletion polls task id every policy.Interval and returns its
// terminal status and error message. If no terminal status is seen within
// policy.Timeout it returns a TimeoutError and stops polling.
func (t *Tracker) AwaitCompletion(ctx context.Context, id string, policy Policy) (types.TaskStatus, string, error) {
	begin := t.now()
	for t.now().Sub(begin) < policy.Timeout {
		metrics.TaskPollsTotal.Inc()
		task, err := t.fetcher.GetTask(ctx, id)
		if err != nil {
			return "", "", err
		}
		if task.Status.IsTerminal() {
			t.logger.Debug().Str("task_id", id).Str("status", string(task.Status)).Msg("Task finished")
			return task.Status, task.ErrorMessage, nil
		}
		if err := t.sleep(ctx, policy.Interval); err != nil {
			return "", "", err
		}
	}
	return "", "", &errdefs.TimeoutError{TaskID: id, Elapsed: policy.Timeout}
}

// Validate submits resp as operation, waits for the task and requires it to
// complete. It returns the task id.
func (t *Tracker) Validate(ctx context.Context, operation string, resp *oms.Response, policy Policy) (string, error) {
	start := t.now()
	logger := t.logger.With().Str("operation", operation).Logger()

	handle, err := Submit(operation, resp)
	if err != nil {
		logger.Error().Err(err).Msg("Task submission rejected")
		return "", err
	}
	logger = logger.With().Str("task_id", handle.ID).Logger()
	logger.Info().Msg("Task submitted")
	t.events.Publish(&events.Event{
		Type:     events.EventTaskSubmitted,
		Message:  operation,
		Metadata: map[string]string{"task_id": handle.ID},
	})

	status, message, err := t.AwaitCompletion(ctx, handle.ID, policy)
	elapsed := t.now().Sub(start)
	metrics.TaskWaitDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
	if err != nil {
		logger.Error().Err(err).Dur("waited", elapsed).Msg("Task did not finish")
		return "", err
	}
	metrics.TasksTotal.WithLabelValues(operation, string(status)).Inc()

	if status != types.TaskStatusCompleted {
		logger.Error().Str("status", string(status)).Str("error_message", message).Msg("Task failed")
		t.events.Publish(&events.Event{
			Type:     events.EventTaskFailed,
			Message:  operation + ": " + message,
			Metadata: map[string]string{"task_id": handle.ID, "status": string(status)},
		})
		return "", &errdefs.TaskFailedError{
			Operation: operation,
			TaskID:    handle.ID,
			Status:    string(status),
			Message:   message,
		}
	}

	logger.Info().Dur("took", elapsed).Msg("Task completed")
	t.events.Publish(&events.Event{
		Type:     events.EventTaskCompleted,
		Message:  operation,
		Metadata: map[string]string{"task_id": handle.ID},
	})
	return handle.ID, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
