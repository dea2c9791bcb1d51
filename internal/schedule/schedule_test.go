package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/relay/internal/store"
	"github.com/rendis/relay/pkg/schema"
)

type fakeRunStore struct {
	mu      sync.Mutex
	runs    []*store.ScheduledRun
	updates map[string][]store.ScheduledRunUpdate
	listErr error
}

func newFakeRunStore(runs ...*store.ScheduledRun) *fakeRunStore {
	return &fakeRunStore{runs: runs, updates: make(map[string][]store.ScheduledRunUpdate)}
}

func (f *fakeRunStore) ListScheduledRuns(ctx context.Context, filter store.ScheduledRunFilter) ([]*store.ScheduledRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*store.ScheduledRun
	for _, r := range f.runs {
		if filter.Enabled != nil && r.Enabled != *filter.Enabled {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRunStore) UpdateScheduledRun(ctx context.Context, id string, update store.ScheduledRunUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates[id] = append(f.updates[id], update)
	return nil
}

func (f *fakeRunStore) lastUpdate(t *testing.T, id string) store.ScheduledRunUpdate {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	ups := f.updates[id]
	require.NotEmpty(t, ups)
	return ups[len(ups)-1]
}

func (f *fakeRunStore) updateCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates[id])
}

type fakeRunner struct {
	mu       sync.Mutex
	calls    int
	execs    []string // workflow IDs run, in order
	err      error
	failExec bool
	block    chan struct{} // when set, Run blocks until closed
}

func (f *fakeRunner) Run(ctx context.Context, wf *schema.Workflow, projectID string) (*schema.Execution, error) {
	f.mu.Lock()
	f.calls++
	f.execs = append(f.execs, wf.ID)
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if f.err != nil {
		return nil, f.err
	}
	status := schema.ExecutionStatusCompleted
	if f.failExec {
		status = schema.ExecutionStatusFailed
	}
	return &schema.Execution{ID: "exec-1", WorkflowID: wf.ID, Status: status}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func scheduledRun(id string, nextRunAt *time.Time) *store.ScheduledRun {
	return &store.ScheduledRun{
		ID:             id,
		Workflow:       schema.Workflow{ID: "wf-" + id, Steps: []schema.AgentStep{{AgentID: "a"}}},
		CronExpression: "0 * * * *",
		Enabled:        true,
		NextRunAt:      nextRunAt,
	}
}

func TestTick_RunsDueSchedule(t *testing.T) {
	past := time.Now().UTC().Add(-time.Minute)
	st := newFakeRunStore(scheduledRun("s1", &past))
	runner := &fakeRunner{}
	s := NewScheduler(st, runner, testLogger())

	s.tick(context.Background())

	assert.Equal(t, 1, runner.callCount())
	update := st.lastUpdate(t, "s1")
	assert.Equal(t, "success", update.LastRunStatus)
	require.NotNil(t, update.NextRunAt)
	assert.True(t, update.NextRunAt.After(time.Now().UTC().Add(-time.Second)))
}

func TestTick_NilNextRunAtIsDue(t *testing.T) {
	st := newFakeRunStore(scheduledRun("s1", nil))
	runner := &fakeRunner{}
	s := NewScheduler(st, runner, testLogger())

	s.tick(context.Background())

	assert.Equal(t, 1, runner.callCount())
}

func TestTick_FutureScheduleNotRun(t *testing.T) {
	future := time.Now().UTC().Add(time.Hour)
	st := newFakeRunStore(scheduledRun("s1", &future))
	runner := &fakeRunner{}
	s := NewScheduler(st, runner, testLogger())

	s.tick(context.Background())

	assert.Equal(t, 0, runner.callCount())
	assert.Equal(t, 0, st.updateCount("s1"))
}

func TestTick_RunnerErrorRecordsErrorStatus(t *testing.T) {
	past := time.Now().UTC().Add(-time.Minute)
	st := newFakeRunStore(scheduledRun("s1", &past))
	runner := &fakeRunner{err: fmt.Errorf("invoker unreachable")}
	s := NewScheduler(st, runner, testLogger())

	s.tick(context.Background())

	assert.Equal(t, "error", st.lastUpdate(t, "s1").LastRunStatus)
}

func TestTick_FailedExecutionRecordsErrorStatus(t *testing.T) {
	past := time.Now().UTC().Add(-time.Minute)
	st := newFakeRunStore(scheduledRun("s1", &past))
	runner := &fakeRunner{failExec: true}
	s := NewScheduler(st, runner, testLogger())

	s.tick(context.Background())

	assert.Equal(t, "error", st.lastUpdate(t, "s1").LastRunStatus)
}

func TestTick_InflightDedup(t *testing.T) {
	past := time.Now().UTC().Add(-time.Minute)
	st := newFakeRunStore(scheduledRun("s1", &past))
	block := make(chan struct{})
	runner := &fakeRunner{block: block}
	s := NewScheduler(st, runner, testLogger())

	firstDone := make(chan struct{})
	go func() {
		s.tick(context.Background())
		close(firstDone)
	}()

	// Wait for the first tick to reach the blocked runner.
	require.Eventually(t, func() bool { return runner.callCount() == 1 },
		time.Second, 5*time.Millisecond)

	// A second tick while the first is in flight must skip the schedule.
	s.tick(context.Background())
	assert.Equal(t, 1, runner.callCount())

	close(block)
	<-firstDone

	// Once released, the schedule is runnable again.
	s.tick(context.Background())
	assert.Equal(t, 2, runner.callCount())
}

func TestCalculateNextRun(t *testing.T) {
	s := NewScheduler(newFakeRunStore(), &fakeRunner{}, testLogger())
	from := time.Date(2026, 3, 10, 1, 30, 0, 0, time.UTC)

	next, err := s.CalculateNextRun("0 2 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC), next)

	next, err = s.CalculateNextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 10, 1, 45, 0, 0, time.UTC), next)
}

func TestCalculateNextRun_InvalidExpression(t *testing.T) {
	s := NewScheduler(newFakeRunStore(), &fakeRunner{}, testLogger())
	_, err := s.CalculateNextRun("not a cron", time.Now())
	assert.Error(t, err)
}

func TestRecoverMissed(t *testing.T) {
	past := time.Now().UTC().Add(-2 * time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	st := newFakeRunStore(
		scheduledRun("missed", &past),
		scheduledRun("upcoming", &future),
		scheduledRun("fresh", nil),
	)
	runner := &fakeRunner{}
	s := NewScheduler(st, runner, testLogger())

	require.NoError(t, s.RecoverMissed(context.Background()))

	// Only the schedule with a next_run_at in the past is recovered; a nil
	// next_run_at waits for the first regular tick.
	assert.Equal(t, 1, runner.callCount())
	assert.Equal(t, []string{"wf-missed"}, runner.execs)
	assert.Equal(t, "success", st.lastUpdate(t, "missed").LastRunStatus)
	assert.Equal(t, 0, st.updateCount("upcoming"))
}

func TestStartAndStop(t *testing.T) {
	st := newFakeRunStore()
	s := NewScheduler(st, &fakeRunner{}, testLogger())

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())

	// Restart after a clean stop is allowed.
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}

func TestStart_InitialTickRunsDueSchedules(t *testing.T) {
	past := time.Now().UTC().Add(-time.Minute)
	st := newFakeRunStore(scheduledRun("s1", &past))
	runner := &fakeRunner{}
	s := NewScheduler(st, runner, testLogger())

	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })

	require.Eventually(t, func() bool { return runner.callCount() == 1 },
		time.Second, 5*time.Millisecond)
}
