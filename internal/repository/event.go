package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/shuttleday/platform/internal/domain"
)

type eventRepo struct{}

// NewEventRepository returns a pgx-backed EventRepository.
func NewEventRepository() EventRepository {
	return &eventRepo{}
}

func (r *eventRepo) Create(ctx context.Context, db DBTX, event *domain.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	_, err := db.Exec(ctx, `
		INSERT INTO events
		  (id, title, event_date, status, max_participants, current_participants,
		   available_slots, waitlist_enabled, shuttlecock_price, court_hourly_rate,
		   penalty_fee, shuttlecock_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		event.ID,
		event.Title,
		event.EventDate,
		string(event.Status),
		event.Capacity.MaxParticipants,
		event.Capacity.CurrentParticipants,
		event.Capacity.AvailableSlots,
		event.Capacity.WaitlistEnabled,
		event.Costs.ShuttlecockPrice.String(),
		event.Costs.CourtHourlyRate.String(),
		event.Costs.PenaltyFee.String(),
		event.Costs.ShuttlecockCount,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	for _, c := range event.Courts {
		_, err := db.Exec(ctx, `
			INSERT INTO court_sessions (event_id, court_number, start_time, end_time)
			VALUES ($1, $2, $3, $4)`,
			event.ID, c.CourtNumber, c.StartTime, c.EndTime,
		)
		if err != nil {
			return fmt.Errorf("insert court session: %w", err)
		}
	}
	return nil
}

func (r *eventRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Event, error) {
	var (
		e                  domain.Event
		status             string
		price, rate, pefee string
	)
	err := db.QueryRow(ctx, `
		SELECT id, title, event_date, status, max_participants, current_participants,
		       available_slots, waitlist_enabled, shuttlecock_price::text,
		       court_hourly_rate::text, penalty_fee::text, shuttlecock_count,
		       created_at, updated_at
		FROM events WHERE id = $1`, id).Scan(
		&e.ID, &e.Title, &e.EventDate, &status,
		&e.Capacity.MaxParticipants, &e.Capacity.CurrentParticipants,
		&e.Capacity.AvailableSlots, &e.Capacity.WaitlistEnabled,
		&price, &rate, &pefee, &e.Costs.ShuttlecockCount,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find event: %w", err)
	}
	e.Status = domain.EventStatus(status)
	if e.Costs.ShuttlecockPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("parse shuttlecock price: %w", err)
	}
	if e.Costs.CourtHourlyRate, err = decimal.NewFromString(rate); err != nil {
		return nil, fmt.Errorf("parse court rate: %w", err)
	}
	if e.Costs.PenaltyFee, err = decimal.NewFromString(pefee); err != nil {
		return nil, fmt.Errorf("parse penalty fee: %w", err)
	}

	rows, err := db.Query(ctx, `
		SELECT court_number, start_time, end_time
		FROM court_sessions WHERE event_id = $1
		ORDER BY start_time ASC, court_number ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("list court sessions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.CourtSession
		if err := rows.Scan(&c.CourtNumber, &c.StartTime, &c.EndTime); err != nil {
			return nil, fmt.Errorf("scan court session: %w", err)
		}
		e.Courts = append(e.Courts, c)
	}
	return &e, rows.Err()
}

func (r *eventRepo) Snapshot(ctx context.Context, db DBTX, id uuid.UUID) (*domain.EventSnapshot, error) {
	var (
		s      domain.EventSnapshot
		status string
	)
	err := db.QueryRow(ctx, `
		SELECT id, status, max_participants, current_participants,
		       available_slots, waitlist_enabled
		FROM events WHERE id = $1`, id).Scan(
		&s.EventID, &status,
		&s.Capacity.MaxParticipants, &s.Capacity.CurrentParticipants,
		&s.Capacity.AvailableSlots, &s.Capacity.WaitlistEnabled,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot event: %w", err)
	}
	s.Status = domain.EventStatus(status)
	return &s, nil
}

// ApplyCapacityDelta is the single write primitive for the capacity ledger.
// current_participants, available_slots and waitlist_enabled are all derived
// server-side in one statement so concurrent deliveries for the same event
// cannot lose updates.
func (r *eventRepo) ApplyCapacityDelta(ctx context.Context, db DBTX, id uuid.UUID, delta int) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE events SET
		  current_participants = GREATEST(current_participants + $2, 0),
		  available_slots = GREATEST(max_participants - GREATEST(current_participants + $2, 0), 0),
		  waitlist_enabled = status IN ('upcoming', 'in_progress')
		                     AND GREATEST(current_participants + $2, 0) >= max_participants,
		  updated_at = now()
		WHERE id = $1`, id, delta)
	if err != nil {
		return false, fmt.Errorf("apply capacity delta: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *eventRepo) UpdateStatus(ctx context.Context, db DBTX, id uuid.UUID, from, to domain.EventStatus) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE events SET
		  status = $3,
		  waitlist_enabled = $3 IN ('upcoming', 'in_progress')
		                     AND current_participants >= max_participants,
		  updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return false, fmt.Errorf("update event status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AdvanceLifecycle applies the two time-driven transitions as bulk conditional
// updates. The WHERE status = <prior> guard makes each transition monotonic
// regardless of poll timing.
func (r *eventRepo) AdvanceLifecycle(ctx context.Context, db DBTX, now time.Time) (int64, int64, error) {
	startTag, err := db.Exec(ctx, `
		UPDATE events e SET status = 'in_progress', updated_at = now()
		WHERE e.status = 'upcoming'
		  AND EXISTS (
		    SELECT 1 FROM court_sessions c
		    WHERE c.event_id = e.id AND c.start_time <= $1
		  )`, now)
	if err != nil {
		return 0, 0, fmt.Errorf("advance to in_progress: %w", err)
	}

	calcTag, err := db.Exec(ctx, `
		UPDATE events e SET status = 'calculating', waitlist_enabled = false, updated_at = now()
		WHERE e.status = 'in_progress'
		  AND EXISTS (SELECT 1 FROM court_sessions c WHERE c.event_id = e.id)
		  AND NOT EXISTS (
		    SELECT 1 FROM court_sessions c
		    WHERE c.event_id = e.id AND c.end_time > $1
		  )`, now)
	if err != nil {
		return startTag.RowsAffected(), 0, fmt.Errorf("advance to calculating: %w", err)
	}

	return startTag.RowsAffected(), calcTag.RowsAffected(), nil
}
