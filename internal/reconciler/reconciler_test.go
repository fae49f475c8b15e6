package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shuttleday/platform/internal/bus"
	"github.com/shuttleday/platform/internal/domain"
	"github.com/shuttleday/platform/internal/repository"
)

// fakeTx stages writes and applies them on Commit; Rollback discards them.
type fakeTx struct {
	committed  bool
	rolledBack bool
	staged     []func()
}

func (t *fakeTx) Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (t *fakeTx) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}
func (t *fakeTx) QueryRow(context.Context, string, ...interface{}) pgx.Row { return nil }
func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	for _, apply := range t.staged {
		apply()
	}
	t.staged = nil
	return nil
}
func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
		t.staged = nil
	}
	return nil
}

type fakeTxStarter struct {
	txs []*fakeTx
}

func (f *fakeTxStarter) Begin(context.Context) (repository.Tx, error) {
	tx := &fakeTx{}
	f.txs = append(f.txs, tx)
	return tx, nil
}

type fakeEventRepo struct {
	deltas  map[uuid.UUID]int
	missing bool
	failErr error
}

func (f *fakeEventRepo) Create(context.Context, repository.DBTX, *domain.Event) error { return nil }
func (f *fakeEventRepo) FindByID(context.Context, repository.DBTX, uuid.UUID) (*domain.Event, error) {
	return nil, nil
}
func (f *fakeEventRepo) Snapshot(context.Context, repository.DBTX, uuid.UUID) (*domain.EventSnapshot, error) {
	return nil, nil
}
func (f *fakeEventRepo) ApplyCapacityDelta(_ context.Context, db repository.DBTX, id uuid.UUID, delta int) (bool, error) {
	if f.failErr != nil {
		return false, f.failErr
	}
	if f.missing {
		return false, nil
	}
	tx := db.(*fakeTx)
	tx.staged = append(tx.staged, func() {
		if f.deltas == nil {
			f.deltas = map[uuid.UUID]int{}
		}
		f.deltas[id] += delta
	})
	return true, nil
}
func (f *fakeEventRepo) UpdateStatus(context.Context, repository.DBTX, uuid.UUID, domain.EventStatus, domain.EventStatus) (bool, error) {
	return false, nil
}
func (f *fakeEventRepo) AdvanceLifecycle(context.Context, repository.DBTX, time.Time) (int64, int64, error) {
	return 0, 0, nil
}

// fakeProcessed only treats committed claims as seen, mirroring the real
// table's transactional behavior.
type fakeProcessed struct {
	seen map[string]bool
}

func (f *fakeProcessed) MarkProcessed(_ context.Context, db repository.DBTX, key, _ string) (bool, error) {
	if f.seen[key] {
		return false, nil
	}
	tx := db.(*fakeTx)
	tx.staged = append(tx.staged, func() {
		if f.seen == nil {
			f.seen = map[string]bool{}
		}
		f.seen[key] = true
	})
	return true, nil
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

type fakeNudger struct {
	nudged []uuid.UUID
}

func (f *fakeNudger) TriggerPromotion(_ context.Context, eventID uuid.UUID) {
	f.nudged = append(f.nudged, eventID)
}

func envelope(t *testing.T, eventType string, payload any) bus.Envelope {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return bus.Envelope{EventType: eventType, Data: raw}
}

type harness struct {
	db     *fakeTxStarter
	events *fakeEventRepo
	pub    *fakePublisher
	nudge  *fakeNudger
	rec    *Reconciler
}

func newHarness() *harness {
	h := &harness{
		db:     &fakeTxStarter{},
		events: &fakeEventRepo{},
		pub:    &fakePublisher{},
		nudge:  &fakeNudger{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.rec = New(h.db, h.events, &fakeProcessed{}, h.pub, h.nudge, logger)
	return h
}

func TestBindingKeys(t *testing.T) {
	assert.Equal(t, []string{"event.participant.joined", "event.participant.cancelled"}, BindingKeys())
}

func TestHandleJoinedTakesSeat(t *testing.T) {
	h := newHarness()
	eventID := uuid.New()
	env := envelope(t, domain.EventParticipantJoined, domain.ParticipantJoined{
		EventID:        eventID,
		RegistrationID: uuid.New(),
		Status:         string(domain.RegistrationRegistered),
	})

	require.NoError(t, h.rec.Handle(context.Background(), "event.participant.joined", env))
	assert.Equal(t, 1, h.events.deltas[eventID])
	require.Len(t, h.db.txs, 1)
	assert.True(t, h.db.txs[0].committed)
}

func TestHandleJoinedIgnoresWaitlist(t *testing.T) {
	h := newHarness()
	env := envelope(t, domain.EventParticipantJoined, domain.ParticipantJoined{
		EventID:        uuid.New(),
		RegistrationID: uuid.New(),
		Status:         string(domain.RegistrationWaitlist),
	})

	require.NoError(t, h.rec.Handle(context.Background(), "event.participant.joined", env))
	assert.Empty(t, h.events.deltas)
	assert.Empty(t, h.db.txs, "no transaction for a no-op")
}

func TestHandleJoinedDuplicateDeliveryIsNoOp(t *testing.T) {
	h := newHarness()
	eventID := uuid.New()
	env := envelope(t, domain.EventParticipantJoined, domain.ParticipantJoined{
		EventID:        eventID,
		RegistrationID: uuid.New(),
		Status:         string(domain.RegistrationRegistered),
	})

	require.NoError(t, h.rec.Handle(context.Background(), "event.participant.joined", env))
	require.NoError(t, h.rec.Handle(context.Background(), "event.participant.joined", env))
	assert.Equal(t, 1, h.events.deltas[eventID], "redelivery must not double-count")
}

func TestHandleJoinedTransientFailureThenRedelivery(t *testing.T) {
	// A failed ledger write must roll back the dedup claim with it: the
	// redelivery is not a duplicate and applies the delta exactly once.
	h := newHarness()
	eventID := uuid.New()
	env := envelope(t, domain.EventParticipantJoined, domain.ParticipantJoined{
		EventID:        eventID,
		RegistrationID: uuid.New(),
		Status:         string(domain.RegistrationRegistered),
	})

	h.events.failErr = errors.New("connection reset")
	require.Error(t, h.rec.Handle(context.Background(), "event.participant.joined", env))
	require.Len(t, h.db.txs, 1)
	assert.True(t, h.db.txs[0].rolledBack)
	assert.Zero(t, h.events.deltas[eventID])

	h.events.failErr = nil
	require.NoError(t, h.rec.Handle(context.Background(), "event.participant.joined", env))
	assert.Equal(t, 1, h.events.deltas[eventID], "redelivery repairs the ledger")

	require.NoError(t, h.rec.Handle(context.Background(), "event.participant.joined", env))
	assert.Equal(t, 1, h.events.deltas[eventID], "further redeliveries are duplicates")
}

func TestHandleJoinedMissingEventIsSilent(t *testing.T) {
	h := newHarness()
	h.events.missing = true
	env := envelope(t, domain.EventParticipantJoined, domain.ParticipantJoined{
		EventID:        uuid.New(),
		RegistrationID: uuid.New(),
		Status:         string(domain.RegistrationRegistered),
	})

	require.NoError(t, h.rec.Handle(context.Background(), "event.participant.joined", env))
	require.Len(t, h.db.txs, 1)
	assert.True(t, h.db.txs[0].committed, "the claim sticks, the event is gone for good")
}

func TestHandleCancelledFreesSeatAndOpensSlot(t *testing.T) {
	h := newHarness()
	eventID := uuid.New()
	env := envelope(t, domain.EventParticipantCancelled, domain.ParticipantCancelled{
		EventID:        eventID,
		RegistrationID: uuid.New(),
		WasRegistered:  true,
	})

	require.NoError(t, h.rec.Handle(context.Background(), "event.participant.cancelled", env))
	assert.Equal(t, -1, h.events.deltas[eventID])
	require.Equal(t, []string{domain.EventSlotOpened}, h.pub.events)
	opened := h.pub.data[0].(domain.SlotOpened)
	assert.Equal(t, eventID, opened.EventID)
	assert.Equal(t, 1, opened.OpenedSlots)

	require.Equal(t, []uuid.UUID{eventID}, h.nudge.nudged, "advisory promotion nudge after a freed seat")
}

func TestHandleCancelledWaitlistFreesNothing(t *testing.T) {
	h := newHarness()
	env := envelope(t, domain.EventParticipantCancelled, domain.ParticipantCancelled{
		EventID:        uuid.New(),
		RegistrationID: uuid.New(),
		WasRegistered:  false,
	})

	require.NoError(t, h.rec.Handle(context.Background(), "event.participant.cancelled", env))
	assert.Empty(t, h.events.deltas)
	assert.Empty(t, h.pub.events)
	assert.Empty(t, h.nudge.nudged)
}

func TestHandleCancelledDuplicateOpensSlotOnce(t *testing.T) {
	h := newHarness()
	eventID := uuid.New()
	env := envelope(t, domain.EventParticipantCancelled, domain.ParticipantCancelled{
		EventID:        eventID,
		RegistrationID: uuid.New(),
		WasRegistered:  true,
	})

	require.NoError(t, h.rec.Handle(context.Background(), "event.participant.cancelled", env))
	require.NoError(t, h.rec.Handle(context.Background(), "event.participant.cancelled", env))
	assert.Equal(t, -1, h.events.deltas[eventID])
	assert.Len(t, h.pub.events, 1)
	assert.Len(t, h.nudge.nudged, 1)
}

func TestHandleCancelledPublishFailureRollsClaimBack(t *testing.T) {
	h := newHarness()
	eventID := uuid.New()
	env := envelope(t, domain.EventParticipantCancelled, domain.ParticipantCancelled{
		EventID:        eventID,
		RegistrationID: uuid.New(),
		WasRegistered:  true,
	})

	h.pub.err = errors.New("marshal failed")
	require.Error(t, h.rec.Handle(context.Background(), "event.participant.cancelled", env))
	require.Len(t, h.db.txs, 1)
	assert.True(t, h.db.txs[0].rolledBack)
	assert.Zero(t, h.events.deltas[eventID])
	assert.Empty(t, h.nudge.nudged)

	h.pub.err = nil
	require.NoError(t, h.rec.Handle(context.Background(), "event.participant.cancelled", env))
	assert.Equal(t, -1, h.events.deltas[eventID])
	assert.Len(t, h.pub.events, 1)
}

func TestHandleUnknownEventTypeIgnored(t *testing.T) {
	h := newHarness()
	env := envelope(t, "something.else", map[string]string{})
	require.NoError(t, h.rec.Handle(context.Background(), "event.something.else", env))
	assert.Empty(t, h.events.deltas)
}

func TestHandleMalformedPayloadIsPoison(t *testing.T) {
	h := newHarness()
	env := bus.Envelope{EventType: domain.EventParticipantJoined, Data: []byte(`"not an object"`)}
	assert.Error(t, h.rec.Handle(context.Background(), "event.participant.joined", env))
}
