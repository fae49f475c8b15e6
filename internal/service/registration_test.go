package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttleday/platform/internal/domain"
	"github.com/shuttleday/platform/internal/promoter"
	"github.com/shuttleday/platform/internal/repository"
)

type fakeRegistry struct {
	event    *domain.Event
	snapshot *domain.EventSnapshot
	err      error
}

func (f *fakeRegistry) GetEvent(context.Context, uuid.UUID) (*domain.Event, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.event, nil
}
func (f *fakeRegistry) GetSnapshot(context.Context, uuid.UUID) (*domain.EventSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshot, nil
}

type fakeRegRepo struct {
	created    []*domain.Registration
	byID       map[uuid.UUID]*domain.Registration
	cancelOK   bool
	cancelPrev domain.RegistrationStatus
	gotPenalty *bool
}

func (f *fakeRegRepo) Create(_ context.Context, _ repository.DBTX, reg *domain.Registration) error {
	f.created = append(f.created, reg)
	return nil
}
func (f *fakeRegRepo) FindByID(_ context.Context, _ repository.DBTX, id uuid.UUID) (*domain.Registration, error) {
	return f.byID[id], nil
}
func (f *fakeRegRepo) OldestWaitlisted(context.Context, repository.DBTX, uuid.UUID) (*domain.Registration, error) {
	return nil, nil
}
func (f *fakeRegRepo) PromoteIfWaitlisted(context.Context, repository.DBTX, uuid.UUID) (bool, error) {
	return false, nil
}
func (f *fakeRegRepo) CancelIfActive(_ context.Context, _ repository.DBTX, _ uuid.UUID, isPenalty bool) (domain.RegistrationStatus, bool, error) {
	f.gotPenalty = &isPenalty
	return f.cancelPrev, f.cancelOK, nil
}
func (f *fakeRegRepo) ListByEvent(context.Context, repository.DBTX, uuid.UUID) ([]domain.Registration, error) {
	return nil, nil
}

type fakePublisher struct {
	events []string
	data   []any
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, eventType string, data any) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, eventType)
	f.data = append(f.data, data)
	return nil
}

func openSnapshot(available int, waitlist bool) *domain.EventSnapshot {
	return &domain.EventSnapshot{
		EventID: uuid.New(),
		Status:  domain.EventUpcoming,
		Capacity: domain.Capacity{
			MaxParticipants:     20,
			CurrentParticipants: 20 - available,
			AvailableSlots:      available,
			WaitlistEnabled:     waitlist,
		},
	}
}

func newTestService(registry *fakeRegistry, repo *fakeRegRepo, pub *fakePublisher) *RegistrationService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	prom := promoter.New(nil, repo, pub, logger)
	return NewRegistrationService(nil, repo, registry, pub, prom, 24*time.Hour, logger)
}

func memberParams(eventID uuid.UUID) RegisterParams {
	userID := uuid.New()
	return RegisterParams{EventID: eventID, UserID: &userID}
}

func TestRegisterTakesSeatWhenRoomLeft(t *testing.T) {
	registry := &fakeRegistry{snapshot: openSnapshot(3, false)}
	repo := &fakeRegRepo{}
	pub := &fakePublisher{}
	svc := newTestService(registry, repo, pub)

	reg, err := svc.Register(context.Background(), memberParams(uuid.New()))
	require.NoError(t, err)
	assert.Equal(t, domain.RegistrationRegistered, reg.Status)
	require.Len(t, repo.created, 1)

	require.Equal(t, []string{domain.EventParticipantJoined}, pub.events)
	joined := pub.data[0].(domain.ParticipantJoined)
	assert.Equal(t, reg.ID, joined.RegistrationID)
	assert.Equal(t, string(domain.RegistrationRegistered), joined.Status)
}

func TestRegisterFullEventGoesToWaitlist(t *testing.T) {
	registry := &fakeRegistry{snapshot: openSnapshot(0, true)}
	repo := &fakeRegRepo{}
	pub := &fakePublisher{}
	svc := newTestService(registry, repo, pub)

	reg, err := svc.Register(context.Background(), memberParams(uuid.New()))
	require.NoError(t, err)
	assert.Equal(t, domain.RegistrationWaitlist, reg.Status)
	require.Equal(t, []string{domain.EventWaitingAdded}, pub.events)
}

func TestRegisterFullEventWithoutWaitlistRejected(t *testing.T) {
	registry := &fakeRegistry{snapshot: openSnapshot(0, false)}
	repo := &fakeRegRepo{}
	svc := newTestService(registry, repo, &fakePublisher{})

	_, err := svc.Register(context.Background(), memberParams(uuid.New()))
	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "EVENT_FULL", appErr.Code)
	assert.Empty(t, repo.created)
}

func TestRegisterFailClosedWhenRegistryDown(t *testing.T) {
	registry := &fakeRegistry{err: errors.New("connection refused")}
	repo := &fakeRegRepo{}
	svc := newTestService(registry, repo, &fakePublisher{})

	_, err := svc.Register(context.Background(), memberParams(uuid.New()))
	require.Error(t, err)
	assert.Empty(t, repo.created, "no snapshot, no registration")
}

func TestRegisterRejectsClosedEvent(t *testing.T) {
	snap := openSnapshot(5, false)
	snap.Status = domain.EventCalculating
	svc := newTestService(&fakeRegistry{snapshot: snap}, &fakeRegRepo{}, &fakePublisher{})

	_, err := svc.Register(context.Background(), memberParams(uuid.New()))
	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "STATUS_MISMATCH", appErr.Code)
}

func TestRegisterValidation(t *testing.T) {
	svc := newTestService(&fakeRegistry{snapshot: openSnapshot(5, false)}, &fakeRegRepo{}, &fakePublisher{})
	userID := uuid.New()

	t.Run("neither identity", func(t *testing.T) {
		_, err := svc.Register(context.Background(), RegisterParams{EventID: uuid.New()})
		require.Error(t, err)
	})

	t.Run("guest missing phone", func(t *testing.T) {
		_, err := svc.Register(context.Background(), RegisterParams{EventID: uuid.New(), GuestName: "Somchai"})
		require.Error(t, err)
	})

	t.Run("both identities", func(t *testing.T) {
		_, err := svc.Register(context.Background(), RegisterParams{
			EventID: uuid.New(), UserID: &userID, GuestName: "Somchai", GuestPhone: "0812345678",
		})
		require.Error(t, err)
	})

	t.Run("guest with name and phone", func(t *testing.T) {
		_, err := svc.Register(context.Background(), RegisterParams{
			EventID: uuid.New(), GuestName: "Somchai", GuestPhone: "0812345678",
		})
		require.NoError(t, err)
	})
}

func TestRegisterSucceedsWhenPublishFails(t *testing.T) {
	registry := &fakeRegistry{snapshot: openSnapshot(3, false)}
	repo := &fakeRegRepo{}
	pub := &fakePublisher{err: errors.New("broker gone")}
	svc := newTestService(registry, repo, pub)

	reg, err := svc.Register(context.Background(), memberParams(uuid.New()))
	require.NoError(t, err, "publish hiccups must not fail an accepted registration")
	assert.NotNil(t, reg)
	assert.Len(t, repo.created, 1)
}

func eventStartingAt(id uuid.UUID, start time.Time) *domain.Event {
	return &domain.Event{
		ID: id,
		Courts: []domain.CourtSession{
			{CourtNumber: 1, StartTime: start, EndTime: start.Add(2 * time.Hour)},
		},
	}
}

func TestCancelInsidePenaltyWindow(t *testing.T) {
	eventID := uuid.New()
	regID := uuid.New()
	start := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

	repo := &fakeRegRepo{
		byID: map[uuid.UUID]*domain.Registration{
			regID: {ID: regID, EventID: eventID, Status: domain.RegistrationRegistered},
		},
		cancelOK:   true,
		cancelPrev: domain.RegistrationRegistered,
	}
	pub := &fakePublisher{}
	svc := newTestService(&fakeRegistry{event: eventStartingAt(eventID, start)}, repo, pub)
	svc.now = func() time.Time { return start.Add(-2 * time.Hour) }

	reg, err := svc.Cancel(context.Background(), eventID, regID)
	require.NoError(t, err)
	assert.True(t, reg.IsPenalty)
	require.NotNil(t, repo.gotPenalty)
	assert.True(t, *repo.gotPenalty)

	require.Equal(t, []string{domain.EventParticipantCancelled}, pub.events)
	cancelled := pub.data[0].(domain.ParticipantCancelled)
	assert.True(t, cancelled.WasRegistered)
	assert.True(t, cancelled.IsPenalty)
}

func TestCancelOutsidePenaltyWindow(t *testing.T) {
	eventID := uuid.New()
	regID := uuid.New()
	start := time.Date(2026, 3, 14, 20, 0, 0, 0, time.UTC)

	repo := &fakeRegRepo{
		byID: map[uuid.UUID]*domain.Registration{
			regID: {ID: regID, EventID: eventID, Status: domain.RegistrationRegistered},
		},
		cancelOK:   true,
		cancelPrev: domain.RegistrationRegistered,
	}
	svc := newTestService(&fakeRegistry{event: eventStartingAt(eventID, start)}, repo, &fakePublisher{})
	svc.now = func() time.Time { return start.Add(-48 * time.Hour) }

	reg, err := svc.Cancel(context.Background(), eventID, regID)
	require.NoError(t, err)
	assert.False(t, reg.IsPenalty)
}

func TestCancelWaitlistNeverPenalized(t *testing.T) {
	eventID := uuid.New()
	regID := uuid.New()

	repo := &fakeRegRepo{
		byID: map[uuid.UUID]*domain.Registration{
			regID: {ID: regID, EventID: eventID, Status: domain.RegistrationWaitlist},
		},
		cancelOK:   true,
		cancelPrev: domain.RegistrationWaitlist,
	}
	// No registry event wired: a waitlist cancel must not need one.
	pub := &fakePublisher{}
	svc := newTestService(&fakeRegistry{err: errors.New("should not be called")}, repo, pub)

	reg, err := svc.Cancel(context.Background(), eventID, regID)
	require.NoError(t, err)
	assert.False(t, reg.IsPenalty)

	cancelled := pub.data[0].(domain.ParticipantCancelled)
	assert.False(t, cancelled.WasRegistered, "waitlist cancel frees no seat")
}

func TestCancelAlreadyCanceledConflicts(t *testing.T) {
	eventID := uuid.New()
	regID := uuid.New()

	repo := &fakeRegRepo{
		byID: map[uuid.UUID]*domain.Registration{
			regID: {ID: regID, EventID: eventID, Status: domain.RegistrationCanceled},
		},
		cancelOK: false,
	}
	pub := &fakePublisher{}
	svc := newTestService(&fakeRegistry{}, repo, pub)

	_, err := svc.Cancel(context.Background(), eventID, regID)
	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "CONFLICT", appErr.Code)
	assert.Empty(t, pub.events, "no second cancellation event")
}

func TestCancelWrongEventIsNotFound(t *testing.T) {
	regID := uuid.New()
	repo := &fakeRegRepo{
		byID: map[uuid.UUID]*domain.Registration{
			regID: {ID: regID, EventID: uuid.New(), Status: domain.RegistrationRegistered},
		},
	}
	svc := newTestService(&fakeRegistry{}, repo, &fakePublisher{})

	_, err := svc.Cancel(context.Background(), uuid.New(), regID)
	var appErr *domain.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "NOT_FOUND", appErr.Code)
}
