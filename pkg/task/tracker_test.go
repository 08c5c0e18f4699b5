package task

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/panda/pkg/errdefs"
	"github.com/cuemby/panda/pkg/oms"
	"github.com/cuemby/panda/pkg/types"
)

// fakeFetcher returns statuses in order, repeating the last one
type fakeFetcher struct {
	statuses []types.TaskStatus
	message  string
	calls    int
	err      error
}

func (f *fakeFetcher) GetTask(ctx context.Context, id string) (*types.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	i := f.calls
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	f.calls++
	return &types.Task{ID: id, Status: f.statuses[i], ErrorMessage: f.message}, nil
}

// fakeClock advances only when sleep is called
type fakeClock struct {
	t      time.Time
	sleeps []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return nil
}

func newTracker(f Fetcher) (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewTracker(f, WithClock(clock.now, clock.sleep)), clock
}

func accepted(location string) *oms.Response {
	h := http.Header{}
	if location != "" {
		h.Set("Location", location)
	}
	return &oms.Response{StatusCode: http.StatusAccepted, Header: h}
}

func TestSubmit(t *testing.T) {
	tests := []struct {
		name      string
		resp      *oms.Response
		wantID    string
		wantError string
	}{
		{
			name:   "accepted",
			resp:   accepted("https://oms:8443/oms/api/task/42"),
			wantID: "42",
		},
		{
			name:      "not accepted",
			resp:      &oms.Response{StatusCode: http.StatusBadRequest, Header: http.Header{}, Body: []byte("bad spec")},
			wantError: "task Create cluster failed: HTTP 400: bad spec",
		},
		{
			name:      "no task id",
			resp:      accepted("https://oms:8443/oms/api/cluster/VIO"),
			wantError: "task id of Create cluster not found",
		},
		{
			name:      "no location",
			resp:      accepted(""),
			wantError: "task id of Create cluster not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := Submit("Create cluster", tt.resp)
			if tt.wantError != "" {
				assert.ErrorIs(t, err, errdefs.ErrTaskSubmission)
				assert.EqualError(t, err, tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, h.ID)
			assert.Equal(t, "Create cluster", h.Operation)
		})
	}
}

func TestAwaitCompletionSequence(t *testing.T) {
	f := &fakeFetcher{statuses: []types.TaskStatus{types.TaskStatusRunning, types.TaskStatusRunning, types.TaskStatusCompleted}}
	tracker, clock := newTracker(f)

	status, _, err := tracker.AwaitCompletion(context.Background(), "42", Policy{Interval: time.Minute, Timeout: time.Hour})
	require.NoError(t, err)
	assert.Equal(t, types.TaskStatusCompleted, status)
	assert.Equal(t, 3, f.calls)
	assert.Equal(t, []time.Duration{time.Minute, time.Minute}, clock.sleeps)
}

func TestAwaitCompletionTimeout(t *testing.T) {
	f := &fakeFetcher{statuses: []types.TaskStatus{types.TaskStatusRunning}}
	tracker, _ := newTracker(f)

	_, _, err := tracker.AwaitCompletion(context.Background(), "42", Policy{Interval: 30 * time.Second, Timeout: 1200 * time.Second})

	var timeout *errdefs.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "42", timeout.TaskID)
	assert.Equal(t, "waited 1200 seconds for task 42", err.Error())
	// 40 polls fit in the budget; none after the timeout is raised
	assert.Equal(t, 40, f.calls)
}

func TestAwaitCompletionCancelled(t *testing.T) {
	f := &fakeFetcher{statuses: []types.TaskStatus{types.TaskStatusRunning}}
	tracker, _ := newTracker(f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := tracker.AwaitCompletion(ctx, "42", DefaultPolicy)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, f.calls)
}

func TestAwaitCompletionFetchError(t *testing.T) {
	f := &fakeFetcher{err: errors.New("connection reset")}
	tracker, _ := newTracker(f)

	_, _, err := tracker.AwaitCompletion(context.Background(), "42", DefaultPolicy)
	assert.EqualError(t, err, "connection reset")
}

func TestValidate(t *testing.T) {
	t.Run("completed", func(t *testing.T) {
		f := &fakeFetcher{statuses: []types.TaskStatus{types.TaskStatusRunning, types.TaskStatusCompleted}}
		tracker, _ := newTracker(f)

		id, err := tracker.Validate(context.Background(), "Create cluster", accepted("/oms/api/task/7"), CreatePolicy)
		require.NoError(t, err)
		assert.Equal(t, "7", id)
	})

	t.Run("failed", func(t *testing.T) {
		f := &fakeFetcher{statuses: []types.TaskStatus{types.TaskStatusRunning, types.TaskStatusFailed}, message: "quota exceeded"}
		tracker, _ := newTracker(f)

		_, err := tracker.Validate(context.Background(), "Create cluster", accepted("/oms/api/task/7"), CreatePolicy)

		var failed *errdefs.TaskFailedError
		require.ErrorAs(t, err, &failed)
		assert.Equal(t, "FAILED", failed.Status)
		assert.Equal(t, "quota exceeded", failed.Message)
		assert.Equal(t, "7", failed.TaskID)
	})

	t.Run("stopped", func(t *testing.T) {
		f := &fakeFetcher{statuses: []types.TaskStatus{types.TaskStatusStopped}}
		tracker, _ := newTracker(f)

		_, err := tracker.Validate(context.Background(), "Delete cluster", accepted("/oms/api/task/8"), DefaultPolicy)
		assert.True(t, errdefs.IsTaskFailed(err))
	})

	t.Run("rejected submission never polls", func(t *testing.T) {
		f := &fakeFetcher{statuses: []types.TaskStatus{types.TaskStatusCompleted}}
		tracker, _ := newTracker(f)

		resp := &oms.Response{StatusCode: http.StatusInternalServerError, Header: http.Header{}, Body: []byte("boom")}
		_, err := tracker.Validate(context.Background(), "Create cluster", resp, DefaultPolicy)
		assert.True(t, errdefs.IsSubmission(err))
		assert.Equal(t, 0, f.calls)

		_, err = tracker.Validate(context.Background(), "Create cluster", accepted("/nowhere"), DefaultPolicy)
		assert.True(t, errdefs.IsSubmission(err))
		assert.Equal(t, 0, f.calls)
	})
}

func TestPolicies(t *testing.T) {
	assert.Equal(t, Policy{Interval: 60 * time.Second, Timeout: 3600 * time.Second}, DefaultPolicy)
	assert.Equal(t, Policy{Interval: 30 * time.Second, Timeout: 1200 * time.Second}, UpgradePolicy)
	assert.Equal(t, 5400*time.Second, CreatePolicy.Timeout)
}
