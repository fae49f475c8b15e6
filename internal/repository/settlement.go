package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/shuttleday/platform/internal/domain"
)

type settlementRepo struct{}

// NewSettlementRepository returns a pgx-backed SettlementRepository.
func NewSettlementRepository() SettlementRepository {
	return &settlementRepo{}
}

func (r *settlementRepo) Insert(ctx context.Context, db DBTX, s *domain.Settlement) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := db.Exec(ctx, `
		INSERT INTO settlements
		  (id, event_id, total_collected, successful_charges, failed_charges, status)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.ID, s.EventID, s.TotalCollected.String(),
		s.SuccessfulCharges, s.FailedCharges, string(s.Status),
	)
	if err != nil {
		return fmt.Errorf("insert settlement: %w", err)
	}
	for _, item := range s.Items {
		hours, err := json.Marshal(item.PerHourSessions)
		if err != nil {
			return fmt.Errorf("marshal hour lines: %w", err)
		}
		_, err = db.Exec(ctx, `
			INSERT INTO settlement_items
			  (settlement_id, player_id, court_fee, shuttlecock_fee, penalty_fee,
			   total_amount, hours_played, per_hour_sessions, payment_ref, charge_status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			s.ID, item.PlayerID, item.CourtFee.String(), item.ShuttlecockFee.String(),
			item.PenaltyFee.String(), item.TotalAmount.String(), item.HoursPlayed,
			hours, item.PaymentRef, item.ChargeStatus,
		)
		if err != nil {
			return fmt.Errorf("insert settlement item: %w", err)
		}
	}
	return nil
}

func (r *settlementRepo) FindByID(ctx context.Context, db DBTX, id uuid.UUID) (*domain.Settlement, error) {
	return r.findOne(ctx, db, `WHERE id = $1`, id)
}

func (r *settlementRepo) FindByEvent(ctx context.Context, db DBTX, eventID uuid.UUID) (*domain.Settlement, error) {
	return r.findOne(ctx, db, `WHERE event_id = $1`, eventID)
}

func (r *settlementRepo) findOne(ctx context.Context, db DBTX, where string, arg any) (*domain.Settlement, error) {
	var (
		s      domain.Settlement
		total  string
		status string
	)
	err := db.QueryRow(ctx, `
		SELECT id, event_id, total_collected::text, successful_charges,
		       failed_charges, status, created_at
		FROM settlements `+where, arg).Scan(
		&s.ID, &s.EventID, &total, &s.SuccessfulCharges,
		&s.FailedCharges, &status, &s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find settlement: %w", err)
	}
	s.Status = domain.SettlementStatus(status)
	if s.TotalCollected, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total collected: %w", err)
	}

	rows, err := db.Query(ctx, `
		SELECT player_id, court_fee::text, shuttlecock_fee::text, penalty_fee::text,
		       total_amount::text, hours_played, per_hour_sessions, payment_ref, charge_status
		FROM settlement_items
		WHERE settlement_id = $1
		ORDER BY player_id ASC`, s.ID)
	if err != nil {
		return nil, fmt.Errorf("list settlement items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			item                     domain.PlayerBreakdown
			court, shuttle, pen, amt string
			hours                    []byte
		)
		err := rows.Scan(&item.PlayerID, &court, &shuttle, &pen, &amt,
			&item.HoursPlayed, &hours, &item.PaymentRef, &item.ChargeStatus)
		if err != nil {
			return nil, fmt.Errorf("scan settlement item: %w", err)
		}
		if item.CourtFee, err = decimal.NewFromString(court); err != nil {
			return nil, fmt.Errorf("parse court fee: %w", err)
		}
		if item.ShuttlecockFee, err = decimal.NewFromString(shuttle); err != nil {
			return nil, fmt.Errorf("parse shuttlecock fee: %w", err)
		}
		if item.PenaltyFee, err = decimal.NewFromString(pen); err != nil {
			return nil, fmt.Errorf("parse penalty fee: %w", err)
		}
		if item.TotalAmount, err = decimal.NewFromString(amt); err != nil {
			return nil, fmt.Errorf("parse total amount: %w", err)
		}
		if len(hours) > 0 {
			if err := json.Unmarshal(hours, &item.PerHourSessions); err != nil {
				return nil, fmt.Errorf("unmarshal hour lines: %w", err)
			}
		}
		s.Items = append(s.Items, item)
	}
	return &s, rows.Err()
}

func (r *settlementRepo) Finish(ctx context.Context, db DBTX, id uuid.UUID, status domain.SettlementStatus, successful, failed int) error {
	_, err := db.Exec(ctx, `
		UPDATE settlements SET
		  status = $2, successful_charges = $3, failed_charges = $4
		WHERE id = $1`,
		id, string(status), successful, failed)
	if err != nil {
		return fmt.Errorf("finish settlement: %w", err)
	}
	return nil
}

func (r *settlementRepo) AttachPaymentRef(ctx context.Context, db DBTX, settlementID, playerID uuid.UUID, ref, status string) error {
	_, err := db.Exec(ctx, `
		UPDATE settlement_items SET payment_ref = $3, charge_status = $4
		WHERE settlement_id = $1 AND player_id = $2`,
		settlementID, playerID, ref, status)
	if err != nil {
		return fmt.Errorf("attach payment ref: %w", err)
	}
	return nil
}
