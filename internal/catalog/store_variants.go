package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const variantColumns = `id, asset_id, quality, width, height, video_bitrate_kbps,
    audio_bitrate_kbps, playlist_path, segment_count, segment_seconds, byte_size,
    status, progress_percent, last_error, created_at, updated_at`

// InsertVariant persists a newly created encode variant.
func (s *Store) InsertVariant(ctx context.Context, variant *VideoVariant) error {
	if variant == nil {
		return errors.New("variant is nil")
	}
	now := time.Now().UTC()
	variant.CreatedAt = now
	variant.UpdatedAt = now

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO video_variants (`+variantColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		variant.ID,
		variant.AssetID,
		variant.Quality,
		variant.Width,
		variant.Height,
		variant.VideoBitrateKbps,
		variant.AudioBitrateKbps,
		nullableString(variant.PlaylistPath),
		variant.SegmentCount,
		variant.SegmentSeconds,
		variant.ByteSize,
		variant.Status,
		variant.ProgressPercent,
		nullableString(variant.LastError),
		formatTime(variant.CreatedAt),
		formatTime(variant.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert variant: %w", err)
	}
	return nil
}

// UpdateVariant persists changes to an existing encode variant.
func (s *Store) UpdateVariant(ctx context.Context, variant *VideoVariant) error {
	if variant == nil {
		return errors.New("variant is nil")
	}
	variant.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE video_variants
         SET playlist_path = ?, segment_count = ?, segment_seconds = ?, byte_size = ?,
             status = ?, progress_percent = ?, last_error = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(variant.PlaylistPath),
		variant.SegmentCount,
		variant.SegmentSeconds,
		variant.ByteSize,
		variant.Status,
		variant.ProgressPercent,
		nullableString(variant.LastError),
		formatTime(variant.UpdatedAt),
		variant.ID,
	)
	if err != nil {
		return fmt.Errorf("update variant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update variant %s: %w", variant.ID, ErrNotFound)
	}
	return nil
}

// GetVariant fetches an encode variant by identifier.
func (s *Store) GetVariant(ctx context.Context, id string) (*VideoVariant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+variantColumns+` FROM video_variants WHERE id = ?`, id)
	variant, err := scanVariant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("variant %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get variant: %w", err)
	}
	return variant, nil
}

// VariantsForAsset returns every variant for an asset ordered by descending
// video bitrate, the order manifests list them in.
func (s *Store) VariantsForAsset(ctx context.Context, assetID string) ([]*VideoVariant, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+variantColumns+` FROM video_variants WHERE asset_id = ?
         ORDER BY video_bitrate_kbps DESC, quality`,
		assetID,
	)
	if err != nil {
		return nil, fmt.Errorf("variants for asset: %w", err)
	}
	defer rows.Close()

	var variants []*VideoVariant
	for rows.Next() {
		variant, err := scanVariant(rows)
		if err != nil {
			return nil, err
		}
		variants = append(variants, variant)
	}
	return variants, rows.Err()
}

func scanVariant(scanner interface{ Scan(dest ...any) error }) (*VideoVariant, error) {
	var (
		variant      VideoVariant
		playlistPath sql.NullString
		statusStr    string
		lastError    sql.NullString
		createdRaw   string
		updatedRaw   string
	)

	if err := scanner.Scan(
		&variant.ID,
		&variant.AssetID,
		&variant.Quality,
		&variant.Width,
		&variant.Height,
		&variant.VideoBitrateKbps,
		&variant.AudioBitrateKbps,
		&playlistPath,
		&variant.SegmentCount,
		&variant.SegmentSeconds,
		&variant.ByteSize,
		&statusStr,
		&variant.ProgressPercent,
		&lastError,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	variant.PlaylistPath = playlistPath.String
	variant.Status = VariantStatus(statusStr)
	variant.LastError = lastError.String
	if created, err := parseTimeString(createdRaw); err == nil {
		variant.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		variant.UpdatedAt = updated
	}
	return &variant, nil
}
