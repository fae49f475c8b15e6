package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shuttleday/platform/internal/domain"
)

// DBTX abstracts pgx.Tx and pgxpool.Pool so repositories work with both.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Tx is the transactional slice of pgx.Tx consumers use: repository calls plus
// commit/rollback.
type Tx interface {
	DBTX
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxStarter begins transactions for handlers that must make several writes
// atomic, such as a dedup claim plus the ledger update it guards.
type TxStarter interface {
	Begin(ctx context.Context) (Tx, error)
}

type poolStarter struct {
	pool *pgxpool.Pool
}

// NewTxStarter adapts a pgxpool.Pool to TxStarter.
func NewTxStarter(pool *pgxpool.Pool) TxStarter {
	return &poolStarter{pool: pool}
}

func (p *poolStarter) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// EventRepository provides access to the registry-owned events store.
type EventRepository interface {
	// Create inserts an event with its court sessions (direct admin edit).
	Create(ctx context.Context, db DBTX, event *domain.Event) error

	// FindByID returns an event with its court sessions, or nil if absent.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Event, error)

	// Snapshot returns the live capacity view, or nil if the event is absent.
	Snapshot(ctx context.Context, db DBTX, id uuid.UUID) (*domain.EventSnapshot, error)

	// ApplyCapacityDelta adjusts the capacity ledger by delta seats in a
	// single conditional statement, re-deriving available_slots and
	// waitlist_enabled server-side. Returns false when the event no longer
	// exists (a silent no-op for the reconciler).
	ApplyCapacityDelta(ctx context.Context, db DBTX, id uuid.UUID, delta int) (bool, error)

	// UpdateStatus moves an event from one status to another; false when the
	// event is missing or no longer in the expected prior status.
	UpdateStatus(ctx context.Context, db DBTX, id uuid.UUID, from, to domain.EventStatus) (bool, error)

	// AdvanceLifecycle bulk-applies the time-driven transitions as of now:
	// upcoming events whose first session has started become in_progress,
	// in_progress events whose last session has ended become calculating.
	// Returns the number of rows moved per transition.
	AdvanceLifecycle(ctx context.Context, db DBTX, now time.Time) (started, calculating int64, err error)
}

// RegistrationRepository provides access to the roster store.
type RegistrationRepository interface {
	// Create inserts a roster record. Violating the one-active-record-per-
	// (event,user) or (event,phone) constraint yields ErrDuplicateRegistration.
	Create(ctx context.Context, db DBTX, reg *domain.Registration) error

	// FindByID returns a record or nil.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Registration, error)

	// OldestWaitlisted returns the FIFO head of the event's waitlist, or nil.
	OldestWaitlisted(ctx context.Context, db DBTX, eventID uuid.UUID) (*domain.Registration, error)

	// PromoteIfWaitlisted flips a record waitlist -> registered, conditional
	// on the prior status so a duplicate promotion is a no-op.
	PromoteIfWaitlisted(ctx context.Context, db DBTX, id uuid.UUID) (bool, error)

	// CancelIfActive flips a non-canceled record to canceled and returns the
	// prior status. ok is false when the record was already canceled or gone.
	CancelIfActive(ctx context.Context, db DBTX, id uuid.UUID, isPenalty bool) (prior domain.RegistrationStatus, ok bool, err error)

	// ListByEvent returns all records for an event ordered by registration
	// time ascending.
	ListByEvent(ctx context.Context, db DBTX, eventID uuid.UUID) ([]domain.Registration, error)
}

// ProcessedEventRepository is the consumed-message dedup ledger. Keys are
// deterministic per message ("<eventType>:<entityId>") so an at-least-once
// redelivery lands on the same row.
type ProcessedEventRepository interface {
	// MarkProcessed records a message key; first is false when the key was
	// already present, i.e. this delivery is a duplicate.
	MarkProcessed(ctx context.Context, db DBTX, key, routingKey string) (first bool, err error)
}

// SettlementRepository provides access to settlements and breakdown rows.
type SettlementRepository interface {
	// Insert writes the settlement header plus all breakdown rows.
	Insert(ctx context.Context, db DBTX, s *domain.Settlement) error

	// FindByID returns a settlement with its breakdown, or nil.
	FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Settlement, error)

	// FindByEvent returns the settlement for an event, or nil.
	FindByEvent(ctx context.Context, db DBTX, eventID uuid.UUID) (*domain.Settlement, error)

	// Finish records the terminal status and charge counters.
	Finish(ctx context.Context, db DBTX, id uuid.UUID, status domain.SettlementStatus, successful, failed int) error

	// AttachPaymentRef stores the downstream payment reference on one
	// breakdown row. Breakdown amounts themselves are immutable.
	AttachPaymentRef(ctx context.Context, db DBTX, settlementID, playerID uuid.UUID, ref, status string) error
}
