package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/stratbot/internal/scheduler"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeArchiver struct {
	mu       sync.Mutex
	cutoffs  []time.Time
	tradeErr error
}

func (f *fakeArchiver) ArchiveTrades(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, before)
	return 3, f.tradeErr
}

func (f *fakeArchiver) ArchiveSnapshots(context.Context, time.Time) (int64, error) {
	return 7, nil
}

func (f *fakeArchiver) runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestParseCron_Next(t *testing.T) {
	base := time.Date(2025, 3, 10, 2, 30, 15, 0, time.UTC) // Monday

	tests := []struct {
		expr string
		want time.Time
	}{
		{"0 3 * * *", time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)},
		{"*/15 * * * *", time.Date(2025, 3, 10, 2, 45, 0, 0, time.UTC)},
		{"0 0 1 * *", time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"30 2 * * 1-5", time.Date(2025, 3, 11, 2, 30, 0, 0, time.UTC)},
		{"0 12 * * 0,6", time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			s, err := ParseCron(tt.expr)
			require.NoError(t, err)
			got, err := s.Next(base)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseCron_Invalid(t *testing.T) {
	for _, expr := range []string{"", "* * * *", "60 * * * *", "x * * * *", "*/0 * * * *", "5-1 * * * *", "0 0 31 2 *"} {
		s, err := ParseCron(expr)
		if err == nil {
			// syntactically valid but never matching
			_, err = s.Next(time.Now())
		}
		assert.Error(t, err, expr)
	}
}

func TestJob_RunUsesRetentionCutoff(t *testing.T) {
	fa := &fakeArchiver{}
	j, err := NewJob(fa, 30, "0 3 * * *", discardLogger())
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return now }

	require.NoError(t, j.Run(context.Background()))
	require.Len(t, fa.cutoffs, 1)
	assert.Equal(t, now.Add(-30*24*time.Hour), fa.cutoffs[0])
}

func TestJob_RunPropagatesErrors(t *testing.T) {
	fa := &fakeArchiver{tradeErr: errors.New("boom")}
	j, err := NewJob(fa, 0, "0 3 * * *", discardLogger())
	require.NoError(t, err)
	assert.Equal(t, 90, j.retentionDays)
	assert.ErrorContains(t, j.Run(context.Background()), "boom")
}

func TestNewJob_BadCron(t *testing.T) {
	_, err := NewJob(&fakeArchiver{}, 30, "not a cron", discardLogger())
	assert.Error(t, err)
}

func TestJob_RegisterRearmsAfterRun(t *testing.T) {
	fa := &fakeArchiver{}
	j, err := NewJob(fa, 30, "* * * * *", discardLogger())
	require.NoError(t, err)

	// pin the clock just before a minute boundary so every run fires quickly
	var mu sync.Mutex
	clock := time.Now().UTC().Truncate(time.Minute).Add(time.Minute - 20*time.Millisecond)
	j.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	s := scheduler.New(discardLogger())
	require.NoError(t, j.Register(s))
	status, ok := s.TaskStatus(TaskID)
	require.True(t, ok)
	assert.True(t, status.OneShot)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool { return fa.runs() >= 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := s.TaskStatus(TaskID)
		return ok
	}, time.Second, 5*time.Millisecond)
}
