package promoter

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttleday/platform/internal/bus"
	"github.com/shuttleday/platform/internal/domain"
	"github.com/shuttleday/platform/internal/repository"
)

// fakeRegRepo keeps an in-order waitlist. IDs in stolen simulate a concurrent
// promoter winning the compare-and-swap: the flip fails and the record leaves
// the waitlist without counting here.
type fakeRegRepo struct {
	waitlist []domain.Registration
	stolen   map[uuid.UUID]bool
	promoted []uuid.UUID
}

func (f *fakeRegRepo) Create(context.Context, repository.DBTX, *domain.Registration) error {
	return nil
}
func (f *fakeRegRepo) FindByID(context.Context, repository.DBTX, uuid.UUID) (*domain.Registration, error) {
	return nil, nil
}
func (f *fakeRegRepo) OldestWaitlisted(context.Context, repository.DBTX, uuid.UUID) (*domain.Registration, error) {
	if len(f.waitlist) == 0 {
		return nil, nil
	}
	head := f.waitlist[0]
	return &head, nil
}
func (f *fakeRegRepo) PromoteIfWaitlisted(_ context.Context, _ repository.DBTX, id uuid.UUID) (bool, error) {
	if len(f.waitlist) == 0 || f.waitlist[0].ID != id {
		return false, nil
	}
	f.waitlist = f.waitlist[1:]
	if f.stolen[id] {
		return false, nil
	}
	f.promoted = append(f.promoted, id)
	return true, nil
}
func (f *fakeRegRepo) CancelIfActive(context.Context, repository.DBTX, uuid.UUID, bool) (domain.RegistrationStatus, bool, error) {
	return "", false, nil
}
func (f *fakeRegRepo) ListByEvent(context.Context, repository.DBTX, uuid.UUID) ([]domain.Registration, error) {
	return nil, nil
}

type fakePublisher struct {
	events []string
	data   []any
}

func (f *fakePublisher) Publish(_ context.Context, eventType string, data any) error {
	f.events = append(f.events, eventType)
	f.data = append(f.data, data)
	return nil
}

func waitlisted(offsetMinutes int) domain.Registration {
	return domain.Registration{
		ID:               uuid.New(),
		Status:           domain.RegistrationWaitlist,
		RegistrationTime: time.Date(2026, 3, 14, 18, offsetMinutes, 0, 0, time.UTC),
	}
}

func newTestPromoter(repo *fakeRegRepo, pub *fakePublisher) *Promoter {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(nil, repo, pub, logger)
}

func TestPromoteFIFO(t *testing.T) {
	first := waitlisted(0)
	second := waitlisted(5)
	repo := &fakeRegRepo{waitlist: []domain.Registration{first, second}}
	pub := &fakePublisher{}
	p := newTestPromoter(repo, pub)

	n, err := p.Promote(context.Background(), uuid.New(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Equal(t, []uuid.UUID{first.ID}, repo.promoted)

	require.Len(t, pub.events, 1)
	assert.Equal(t, domain.EventWaitlistPromoted, pub.events[0])
	promoted := pub.data[0].(domain.WaitlistPromoted)
	assert.Equal(t, first.ID, promoted.RegistrationID)
}

func TestPromoteStopsWhenWaitlistEmpty(t *testing.T) {
	first := waitlisted(0)
	repo := &fakeRegRepo{waitlist: []domain.Registration{first}}
	pub := &fakePublisher{}
	p := newTestPromoter(repo, pub)

	n, err := p.Promote(context.Background(), uuid.New(), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "never promote more than the waitlist holds")
	assert.Len(t, pub.events, 1)
}

func TestPromoteSkipsLostRace(t *testing.T) {
	first := waitlisted(0)
	second := waitlisted(5)
	repo := &fakeRegRepo{
		waitlist: []domain.Registration{first, second},
		stolen:   map[uuid.UUID]bool{first.ID: true},
	}
	pub := &fakePublisher{}
	p := newTestPromoter(repo, pub)

	n, err := p.Promote(context.Background(), uuid.New(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Equal(t, []uuid.UUID{second.ID}, repo.promoted, "losing the cas moves on to the next oldest")
}

func TestPromoteZeroSlots(t *testing.T) {
	repo := &fakeRegRepo{waitlist: []domain.Registration{waitlisted(0)}}
	pub := &fakePublisher{}
	p := newTestPromoter(repo, pub)

	n, err := p.Promote(context.Background(), uuid.New(), 0)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, pub.events)
}

func TestHandleSlotOpened(t *testing.T) {
	first := waitlisted(0)
	repo := &fakeRegRepo{waitlist: []domain.Registration{first}}
	pub := &fakePublisher{}
	p := newTestPromoter(repo, pub)

	raw, err := json.Marshal(domain.SlotOpened{EventID: uuid.New(), OpenedSlots: 1})
	require.NoError(t, err)
	env := bus.Envelope{EventType: domain.EventSlotOpened, Data: raw}

	require.NoError(t, p.Handle(context.Background(), "event.event.capacity.slot.opened", env))
	assert.Equal(t, []uuid.UUID{first.ID}, repo.promoted)
}

func TestHandleIgnoresOtherEvents(t *testing.T) {
	repo := &fakeRegRepo{waitlist: []domain.Registration{waitlisted(0)}}
	p := newTestPromoter(repo, &fakePublisher{})

	env := bus.Envelope{EventType: domain.EventParticipantJoined, Data: []byte(`{}`)}
	require.NoError(t, p.Handle(context.Background(), "event.participant.joined", env))
	assert.Empty(t, repo.promoted)
}
