package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"upkeep/internal/types"
)

// AssetRepository provides read access to asset records. Asset lifecycle is
// owned by external CRUD; the engine only reads criticality, organization,
// and name by identifier.
type AssetRepository struct {
	db DBTX
}

// NewAssetRepository creates a new AssetRepository backed by the given
// database connection (pool or transaction).
func NewAssetRepository(db DBTX) *AssetRepository {
	return &AssetRepository{db: db}
}

// GetByID returns the asset with the given identifier.
func (r *AssetRepository) GetByID(ctx context.Context, id int64) (*types.Asset, error) {
	var a types.Asset
	err := r.db.QueryRow(ctx,
		`SELECT id, organization_id, name, criticality FROM assets WHERE id = $1`,
		id,
	).Scan(&a.ID, &a.OrganizationID, &a.Name, &a.Criticality)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundAsset, "asset not found", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load asset", err)
	}
	return &a, nil
}

// MeterReadingRepository provides read access to meter readings recorded
// against assets, ordered by reading date.
type MeterReadingRepository struct {
	db DBTX
}

// NewMeterReadingRepository creates a new MeterReadingRepository backed by
// the given database connection (pool or transaction).
func NewMeterReadingRepository(db DBTX) *MeterReadingRepository {
	return &MeterReadingRepository{db: db}
}

// Latest returns the most recent reading of the given meter type for the
// asset, or nil if the asset has no readings of that type.
func (r *MeterReadingRepository) Latest(ctx context.Context, assetID int64, meter types.MeterType) (*types.MeterReading, error) {
	return r.latestBefore(ctx, assetID, meter, nil)
}

// LatestAt returns the most recent reading recorded at or before the given
// time, or nil if none exists. The evaluator uses this to find the reading
// in effect when a trigger last fired.
func (r *MeterReadingRepository) LatestAt(ctx context.Context, assetID int64, meter types.MeterType, at time.Time) (*types.MeterReading, error) {
	return r.latestBefore(ctx, assetID, meter, &at)
}

func (r *MeterReadingRepository) latestBefore(ctx context.Context, assetID int64, meter types.MeterType, at *time.Time) (*types.MeterReading, error) {
	query := `SELECT asset_id, meter_type, value, recorded_at
	          FROM meter_readings
	          WHERE asset_id = $1 AND meter_type = $2`
	args := []any{assetID, string(meter)}
	if at != nil {
		query += ` AND recorded_at <= $3`
		args = append(args, *at)
	}
	query += ` ORDER BY recorded_at DESC LIMIT 1`

	var reading types.MeterReading
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&reading.AssetID, &reading.Meter, &reading.Value, &reading.RecordedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to load meter reading", err)
	}
	return &reading, nil
}
