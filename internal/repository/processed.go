package repository

import (
	"context"
	"fmt"
)

type processedRepo struct{}

// NewProcessedEventRepository returns a pgx-backed ProcessedEventRepository.
func NewProcessedEventRepository() ProcessedEventRepository {
	return &processedRepo{}
}

// MarkProcessed claims a message key. ON CONFLICT DO NOTHING means only the
// first delivery of a duplicated message wins the claim.
func (r *processedRepo) MarkProcessed(ctx context.Context, db DBTX, key, routingKey string) (bool, error) {
	tag, err := db.Exec(ctx, `
		INSERT INTO processed_events (key, routing_key)
		VALUES ($1, $2)
		ON CONFLICT (key) DO NOTHING`, key, routingKey)
	if err != nil {
		return false, fmt.Errorf("mark processed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
