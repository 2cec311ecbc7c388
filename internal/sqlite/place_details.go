package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"travel-router/internal/models"
)

type placeDetailsRepository struct {
	store *Store
}

func (r *placeDetailsRepository) Get(ctx context.Context, placeID string, maxAge time.Duration) (*models.PlaceDetails, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	query := `SELECT address, website, phone, hours, fetched_at
	          FROM place_details
	          WHERE place_id = ?`

	var (
		details   models.PlaceDetails
		hoursJSON string
		fetchedAt int64
	)
	err := r.store.db.QueryRowContext(ctx, query, placeID).Scan(
		&details.Address, &details.Website, &details.Phone, &hoursJSON, &fetchedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get place details: %w", err)
	}

	if r.store.now().Sub(time.Unix(fetchedAt, 0)) >= maxAge {
		return nil, nil
	}

	if err := json.Unmarshal([]byte(hoursJSON), &details.Hours); err != nil {
		return nil, fmt.Errorf("failed to decode stored hours: %w", err)
	}
	return &details, nil
}

func (r *placeDetailsRepository) Put(ctx context.Context, placeID string, details *models.PlaceDetails) error {
	hours := details.Hours
	if hours == nil {
		hours = []string{}
	}
	hoursJSON, err := json.Marshal(hours)
	if err != nil {
		return fmt.Errorf("failed to encode hours: %w", err)
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	query := `INSERT INTO place_details (place_id, address, website, phone, hours, fetched_at)
	          VALUES (?, ?, ?, ?, ?, ?)
	          ON CONFLICT(place_id) DO UPDATE SET
	              address = excluded.address,
	              website = excluded.website,
	              phone = excluded.phone,
	              hours = excluded.hours,
	              fetched_at = excluded.fetched_at`

	_, err = r.store.db.ExecContext(ctx, query,
		placeID, details.Address, details.Website, details.Phone, string(hoursJSON), r.store.now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save place details: %w", err)
	}
	return nil
}

func (r *placeDetailsRepository) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	cutoff := r.store.now().Add(-olderThan).Unix()
	result, err := r.store.db.ExecContext(ctx, "DELETE FROM place_details WHERE fetched_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune place details: %w", err)
	}
	return result.RowsAffected()
}
