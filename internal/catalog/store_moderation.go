package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const moderationColumns = `asset_id, malware_status, safety_status, reasons_json,
    highest_severity, reviewer_decision, created_at, updated_at`

// InsertModeration persists the moderation row created at pipeline start.
func (s *Store) InsertModeration(ctx context.Context, result *ModerationResult) error {
	if result == nil {
		return errors.New("moderation result is nil")
	}
	now := time.Now().UTC()
	result.CreatedAt = now
	result.UpdatedAt = now

	reasonsJSON, err := marshalJSON(result.Reasons)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO moderation_results (`+moderationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.AssetID,
		result.Malware,
		result.Safety,
		reasonsJSON,
		nullableString(result.HighestSeverity),
		nullableString(string(result.Reviewer)),
		formatTime(result.CreatedAt),
		formatTime(result.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert moderation result: %w", err)
	}
	return nil
}

// UpdateModeration persists changes to an existing moderation row.
func (s *Store) UpdateModeration(ctx context.Context, result *ModerationResult) error {
	if result == nil {
		return errors.New("moderation result is nil")
	}
	result.UpdatedAt = time.Now().UTC()

	reasonsJSON, err := marshalJSON(result.Reasons)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE moderation_results
         SET malware_status = ?, safety_status = ?, reasons_json = ?,
             highest_severity = ?, reviewer_decision = ?, updated_at = ?
         WHERE asset_id = ?`,
		result.Malware,
		result.Safety,
		reasonsJSON,
		nullableString(result.HighestSeverity),
		nullableString(string(result.Reviewer)),
		formatTime(result.UpdatedAt),
		result.AssetID,
	)
	if err != nil {
		return fmt.Errorf("update moderation result: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update moderation for %s: %w", result.AssetID, ErrNotFound)
	}
	return nil
}

// GetModeration fetches the moderation result for an asset.
func (s *Store) GetModeration(ctx context.Context, assetID string) (*ModerationResult, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+moderationColumns+` FROM moderation_results WHERE asset_id = ?`,
		assetID,
	)
	result, err := scanModeration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("moderation for %s: %w", assetID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get moderation result: %w", err)
	}
	return result, nil
}

func scanModeration(scanner interface{ Scan(dest ...any) error }) (*ModerationResult, error) {
	var (
		result      ModerationResult
		malwareStr  string
		safetyStr   string
		reasonsJSON sql.NullString
		severity    sql.NullString
		reviewer    sql.NullString
		createdRaw  string
		updatedRaw  string
	)

	if err := scanner.Scan(
		&result.AssetID,
		&malwareStr,
		&safetyStr,
		&reasonsJSON,
		&severity,
		&reviewer,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	result.Malware = MalwareStatus(malwareStr)
	result.Safety = SafetyStatus(safetyStr)
	result.HighestSeverity = severity.String
	result.Reviewer = ReviewDecision(reviewer.String)
	if err := unmarshalJSON(reasonsJSON, &result.Reasons); err != nil {
		return nil, err
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		result.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		result.UpdatedAt = updated
	}
	return &result, nil
}
