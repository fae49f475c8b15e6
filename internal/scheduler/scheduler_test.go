package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttleday/platform/internal/domain"
	"github.com/shuttleday/platform/internal/repository"
)

type fakeEventRepo struct {
	started     int64
	calculating int64
	err         error
	calls       int
	lastNow     time.Time
}

func (f *fakeEventRepo) Create(context.Context, repository.DBTX, *domain.Event) error { return nil }
func (f *fakeEventRepo) FindByID(context.Context, repository.DBTX, uuid.UUID) (*domain.Event, error) {
	return nil, nil
}
func (f *fakeEventRepo) Snapshot(context.Context, repository.DBTX, uuid.UUID) (*domain.EventSnapshot, error) {
	return nil, nil
}
func (f *fakeEventRepo) ApplyCapacityDelta(context.Context, repository.DBTX, uuid.UUID, int) (bool, error) {
	return false, nil
}
func (f *fakeEventRepo) UpdateStatus(context.Context, repository.DBTX, uuid.UUID, domain.EventStatus, domain.EventStatus) (bool, error) {
	return false, nil
}
func (f *fakeEventRepo) AdvanceLifecycle(_ context.Context, _ repository.DBTX, now time.Time) (int64, int64, error) {
	f.calls++
	f.lastNow = now
	return f.started, f.calculating, f.err
}

func TestPollAdvancesInUTC(t *testing.T) {
	repo := &fakeEventRepo{started: 2, calculating: 1}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	s := New(nil, repo, time.Minute, logger)
	s.now = func() time.Time {
		return time.Date(2026, 3, 14, 20, 0, 0, 0, time.FixedZone("ICT", 7*3600))
	}

	s.Poll(context.Background())
	assert.Equal(t, 1, repo.calls)
	assert.Equal(t, time.UTC, repo.lastNow.Location())
	assert.Equal(t, 13, repo.lastNow.Hour())
}

func TestPollLogsOutageOnce(t *testing.T) {
	repo := &fakeEventRepo{err: errors.New("connection refused")}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := New(nil, repo, time.Minute, logger)

	s.Poll(context.Background())
	s.Poll(context.Background())
	s.Poll(context.Background())

	assert.Equal(t, 1, strings.Count(buf.String(), "unreachable"), "outage logged exactly once")

	repo.err = nil
	s.Poll(context.Background())
	assert.Contains(t, buf.String(), "reachable again")

	// A second outage is a fresh incident and is logged again.
	repo.err = errors.New("connection refused")
	s.Poll(context.Background())
	assert.Equal(t, 2, strings.Count(buf.String(), "unreachable"))
}

func TestPollQuietWhenNothingMoved(t *testing.T) {
	repo := &fakeEventRepo{}
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	s := New(nil, repo, time.Minute, logger)

	s.Poll(context.Background())
	assert.NotContains(t, buf.String(), "events started")
	assert.NotContains(t, buf.String(), "ready for settlement")
}

func TestNewEnforcesIntervalFloor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	s := New(nil, &fakeEventRepo{}, time.Second, logger)
	assert.Equal(t, 15*time.Second, s.interval)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	repo := &fakeEventRepo{}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	s := New(nil, repo, time.Minute, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	require.GreaterOrEqual(t, repo.calls, 1, "polls once immediately on start")
}
