package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const assetColumns = `id, title, description, tags_json, status, source_path,
    manifest_path, duration_secs, error_message, created_at, updated_at`

// InsertAsset persists a newly created video asset.
func (s *Store) InsertAsset(ctx context.Context, asset *VideoAsset) error {
	if asset == nil {
		return errors.New("asset is nil")
	}
	now := time.Now().UTC()
	asset.CreatedAt = now
	asset.UpdatedAt = now

	tagsJSON, err := marshalJSON(asset.Tags)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO video_assets (`+assetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		asset.ID,
		nullableString(asset.Title),
		nullableString(asset.Description),
		tagsJSON,
		asset.Status,
		nullableString(asset.SourcePath),
		nullableString(asset.ManifestPath),
		asset.DurationSecs,
		nullableString(asset.ErrorMessage),
		formatTime(asset.CreatedAt),
		formatTime(asset.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

// UpdateAsset persists changes to an existing asset.
func (s *Store) UpdateAsset(ctx context.Context, asset *VideoAsset) error {
	if asset == nil {
		return errors.New("asset is nil")
	}
	asset.UpdatedAt = time.Now().UTC()

	tagsJSON, err := marshalJSON(asset.Tags)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE video_assets
         SET title = ?, description = ?, tags_json = ?, status = ?, source_path = ?,
             manifest_path = ?, duration_secs = ?, error_message = ?, updated_at = ?
         WHERE id = ?`,
		nullableString(asset.Title),
		nullableString(asset.Description),
		tagsJSON,
		asset.Status,
		nullableString(asset.SourcePath),
		nullableString(asset.ManifestPath),
		asset.DurationSecs,
		nullableString(asset.ErrorMessage),
		formatTime(asset.UpdatedAt),
		asset.ID,
	)
	if err != nil {
		return fmt.Errorf("update asset: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update asset %s: %w", asset.ID, ErrNotFound)
	}
	return nil
}

// GetAsset fetches a video asset by identifier.
func (s *Store) GetAsset(ctx context.Context, id string) (*VideoAsset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM video_assets WHERE id = ?`, id)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("asset %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return asset, nil
}

// ListAssets returns assets filtered by status set (or all assets when no
// status is provided), ordered by creation time.
func (s *Store) ListAssets(ctx context.Context, statuses ...AssetStatus) ([]*VideoAsset, error) {
	baseQuery := `SELECT ` + assetColumns + ` FROM video_assets`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []*VideoAsset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

// AssetStats returns a count of assets grouped by status.
func (s *Store) AssetStats(ctx context.Context) (map[AssetStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM video_assets GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("asset stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[AssetStatus]int)
	for rows.Next() {
		var status AssetStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

func scanAsset(scanner interface{ Scan(dest ...any) error }) (*VideoAsset, error) {
	var (
		asset        VideoAsset
		title        sql.NullString
		description  sql.NullString
		tagsJSON     sql.NullString
		statusStr    string
		sourcePath   sql.NullString
		manifestPath sql.NullString
		errorMessage sql.NullString
		createdRaw   string
		updatedRaw   string
	)

	if err := scanner.Scan(
		&asset.ID,
		&title,
		&description,
		&tagsJSON,
		&statusStr,
		&sourcePath,
		&manifestPath,
		&asset.DurationSecs,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	asset.Title = title.String
	asset.Description = description.String
	asset.Status = AssetStatus(statusStr)
	asset.SourcePath = sourcePath.String
	asset.ManifestPath = manifestPath.String
	asset.ErrorMessage = errorMessage.String
	if err := unmarshalJSON(tagsJSON, &asset.Tags); err != nil {
		return nil, err
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		asset.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		asset.UpdatedAt = updated
	}
	return &asset, nil
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
