package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/Aman-CERP/strata/internal/errors"
)

func TestValidateSpec(t *testing.T) {
	for _, ok := range []string{"*/15 * * * *", "0 3 * * 1-5", "@hourly", "@every 10m"} {
		assert.NoError(t, ValidateSpec(ok), ok)
	}
	for _, bad := range []string{"", "every hour", "* * * *", "0 0 0 * * *"} {
		err := ValidateSpec(bad)
		assert.Equal(t, serrors.ErrCodeConfigInvalid, serrors.GetCode(err), bad)
	}
}

func TestCronScheduler_RunsJob(t *testing.T) {
	s := NewCronScheduler()
	ran := make(chan struct{}, 4)
	require.NoError(t, s.AddJob(JobFunc{JobName: "sync", Fn: func(context.Context) error {
		ran <- struct{}{}
		return nil
	}}, "@every 1s"))
	assert.False(t, s.Next("sync").IsZero())
	assert.True(t, s.Next("missing").IsZero())

	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(3 * time.Second):
		t.Fatal("job never ran")
	}
}

func TestCronScheduler_RejectsBadSpec(t *testing.T) {
	s := NewCronScheduler()
	err := s.AddJob(JobFunc{JobName: "x", Fn: func(context.Context) error { return nil }}, "whenever")
	assert.Error(t, err)
}

func TestWrap_SkipsOverlappingRuns(t *testing.T) {
	s := NewCronScheduler()
	release := make(chan struct{})
	var runs atomic.Int32
	tick := s.wrap(JobFunc{JobName: "slow", Fn: func(context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}}, "@hourly")

	// Given: a run in progress
	done := make(chan struct{})
	go func() { tick(); close(done) }()
	require.Eventually(t, func() bool { return runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	// When: the next tick fires
	tick()

	// Then: it is skipped
	close(release)
	<-done
	assert.Equal(t, int32(1), runs.Load())
}

func TestWrap_CancelledContextSkipsRun(t *testing.T) {
	s := NewCronScheduler()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s.ctx = ctx
	var runs atomic.Int32
	tick := s.wrap(JobFunc{JobName: "j", Fn: func(context.Context) error {
		runs.Add(1)
		return errors.New("unreachable")
	}}, "@hourly")

	tick()

	assert.Zero(t, runs.Load())
}
