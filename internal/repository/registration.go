package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shuttleday/platform/internal/domain"
)

type registrationRepo struct{}

// NewRegistrationRepository returns a pgx-backed RegistrationRepository.
func NewRegistrationRepository() RegistrationRepository {
	return &registrationRepo{}
}

const registrationColumns = `
	id, event_id, user_id, guest_name, guest_phone, start_time, end_time,
	status, is_penalty, registration_time, canceled_at`

func (r *registrationRepo) Create(ctx context.Context, db DBTX, reg *domain.Registration) error {
	if reg.ID == uuid.Nil {
		reg.ID = uuid.New()
	}
	_, err := db.Exec(ctx, `
		INSERT INTO registrations
		  (id, event_id, user_id, guest_name, guest_phone, start_time, end_time,
		   status, is_penalty, registration_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		reg.ID, reg.EventID, reg.UserID, reg.GuestName, reg.GuestPhone,
		reg.StartTime, reg.EndTime, string(reg.Status), reg.IsPenalty,
		reg.RegistrationTime,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateRegistration()
		}
		return fmt.Errorf("insert registration: %w", err)
	}
	return nil
}

func (r *registrationRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Registration, error) {
	row := db.QueryRow(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id)
	return scanRegistration(row)
}

func (r *registrationRepo) OldestWaitlisted(ctx context.Context, db DBTX, eventID uuid.UUID) (*domain.Registration, error) {
	row := db.QueryRow(ctx, `
		SELECT `+registrationColumns+` FROM registrations
		WHERE event_id = $1 AND status = 'waitlist'
		ORDER BY registration_time ASC
		LIMIT 1`, eventID)
	return scanRegistration(row)
}

// PromoteIfWaitlisted is the compare-and-swap that keeps duplicate "slot
// opened" deliveries from double-promoting the same player.
func (r *registrationRepo) PromoteIfWaitlisted(ctx context.Context, db DBTX, id uuid.UUID) (bool, error) {
	tag, err := db.Exec(ctx, `
		UPDATE registrations SET status = 'registered'
		WHERE id = $1 AND status = 'waitlist'`, id)
	if err != nil {
		return false, fmt.Errorf("promote registration: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelIfActive flips a record to canceled conditional on it not being
// canceled already, and reports which status it held before the flip.
func (r *registrationRepo) CancelIfActive(ctx context.Context, db DBTX, id uuid.UUID, isPenalty bool) (domain.RegistrationStatus, bool, error) {
	var prior string
	err := db.QueryRow(ctx, `
		UPDATE registrations r SET
		  status = 'canceled',
		  is_penalty = $2,
		  canceled_at = now()
		FROM (SELECT id, status FROM registrations WHERE id = $1 FOR UPDATE) prev
		WHERE r.id = prev.id AND prev.status <> 'canceled'
		RETURNING prev.status`, id, isPenalty).Scan(&prior)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cancel registration: %w", err)
	}
	return domain.RegistrationStatus(prior), true, nil
}

func (r *registrationRepo) ListByEvent(ctx context.Context, db DBTX, eventID uuid.UUID) ([]domain.Registration, error) {
	rows, err := db.Query(ctx, `
		SELECT `+registrationColumns+` FROM registrations
		WHERE event_id = $1
		ORDER BY registration_time ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var out []domain.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *reg)
	}
	return out, rows.Err()
}

func scanRegistration(row pgx.Row) (*domain.Registration, error) {
	var (
		reg    domain.Registration
		status string
	)
	err := row.Scan(
		&reg.ID, &reg.EventID, &reg.UserID, &reg.GuestName, &reg.GuestPhone,
		&reg.StartTime, &reg.EndTime, &status, &reg.IsPenalty,
		&reg.RegistrationTime, &reg.CanceledAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan registration: %w", err)
	}
	reg.Status = domain.RegistrationStatus(status)
	return &reg, nil
}
