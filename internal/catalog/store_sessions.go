package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const sessionColumns = `id, file_name, content_type, file_size, chunk_size, total_chunks,
    committed_chunks, committed_sizes_json, block_ids_json, status, owner, blob_path,
    asset_id, expires_at, created_at, updated_at`

// InsertSession persists a newly created upload session.
func (s *Store) InsertSession(ctx context.Context, session *UploadSession) error {
	if session == nil {
		return errors.New("session is nil")
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now

	sizesJSON, err := marshalJSON(session.CommittedSizes)
	if err != nil {
		return err
	}
	blocksJSON, err := marshalJSON(session.BlockIDs)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO upload_sessions (`+sessionColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID,
		session.FileName,
		session.ContentType,
		session.FileSize,
		session.ChunkSize,
		session.TotalChunks,
		session.CommittedChunks,
		sizesJSON,
		blocksJSON,
		session.Status,
		nullableString(session.Owner),
		nullableString(session.BlobPath),
		nullableString(session.AssetID),
		formatTime(session.ExpiresAt),
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// UpdateSession persists changes to an existing session.
func (s *Store) UpdateSession(ctx context.Context, session *UploadSession) error {
	if session == nil {
		return errors.New("session is nil")
	}
	session.UpdatedAt = time.Now().UTC()

	sizesJSON, err := marshalJSON(session.CommittedSizes)
	if err != nil {
		return err
	}
	blocksJSON, err := marshalJSON(session.BlockIDs)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE upload_sessions
         SET committed_chunks = ?, committed_sizes_json = ?, block_ids_json = ?,
             status = ?, blob_path = ?, asset_id = ?, expires_at = ?, updated_at = ?
         WHERE id = ?`,
		session.CommittedChunks,
		sizesJSON,
		blocksJSON,
		session.Status,
		nullableString(session.BlobPath),
		nullableString(session.AssetID),
		formatTime(session.ExpiresAt),
		formatTime(session.UpdatedAt),
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("update session %s: %w", session.ID, ErrNotFound)
	}
	return nil
}

// ClaimSessionCompletion atomically moves a session into the completing
// status. It succeeds only when the session is still accepting chunks, so a
// second concurrent completion attempt loses the claim.
func (s *Store) ClaimSessionCompletion(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE upload_sessions SET status = ?, updated_at = ?
         WHERE id = ? AND status IN (?, ?)`,
		SessionCompleting,
		formatTime(time.Now().UTC()),
		sessionID,
		SessionCreated,
		SessionUploading,
	)
	if err != nil {
		return false, fmt.Errorf("claim session completion: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetSession fetches an upload session by identifier.
func (s *Store) GetSession(ctx context.Context, id string) (*UploadSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM upload_sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// ListSessions returns sessions ordered by creation time, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]*UploadSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM upload_sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*UploadSession
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// ExpireSessions marks non-terminal sessions past their expiry as expired
// and returns how many rows changed. Lazy per-access expiry remains the
// correctness mechanism; this is an optional sweep for tidiness.
func (s *Store) ExpireSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE upload_sessions SET status = ?, updated_at = ?
         WHERE status IN (?, ?) AND expires_at < ?`,
		SessionExpired,
		formatTime(now),
		SessionCreated,
		SessionUploading,
		formatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("expire sessions: %w", err)
	}
	return res.RowsAffected()
}

func scanSession(scanner interface{ Scan(dest ...any) error }) (*UploadSession, error) {
	var (
		session    UploadSession
		statusStr  string
		sizesJSON  sql.NullString
		blocksJSON sql.NullString
		owner      sql.NullString
		blobPath   sql.NullString
		assetID    sql.NullString
		expiresRaw sql.NullString
		createdRaw string
		updatedRaw string
	)

	if err := scanner.Scan(
		&session.ID,
		&session.FileName,
		&session.ContentType,
		&session.FileSize,
		&session.ChunkSize,
		&session.TotalChunks,
		&session.CommittedChunks,
		&sizesJSON,
		&blocksJSON,
		&statusStr,
		&owner,
		&blobPath,
		&assetID,
		&expiresRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	session.Status = SessionStatus(statusStr)
	session.Owner = owner.String
	session.BlobPath = blobPath.String
	session.AssetID = assetID.String
	session.CommittedSizes = make(map[int]int64)
	session.BlockIDs = make(map[int]string)
	if err := unmarshalJSON(sizesJSON, &session.CommittedSizes); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(blocksJSON, &session.BlockIDs); err != nil {
		return nil, err
	}
	if expires := parseNullableTime(expiresRaw); expires != nil {
		session.ExpiresAt = *expires
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		session.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		session.UpdatedAt = updated
	}
	return &session, nil
}
