package sessionpg

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/UnendingLoop/BgRemover/internal/model"
	"github.com/wb-go/wbf/dbpg"
)

type PostgresRepo struct {
	DB *dbpg.DB
}

func (p PostgresRepo) Create(ctx context.Context, s *model.Session) error {
	query := `INSERT INTO sessions (session_uid, original_key, result_key, processing, loading_text, alert, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := p.DB.Master.ExecContext(ctx, query, s.UID, s.OriginalKey, s.ResultKey, s.Processing, s.LoadingText, s.Alert, s.CreatedAt, s.CreatedAt)
	return err
}

func (p PostgresRepo) Get(ctx context.Context, id string) (*model.Session, error) {
	query := `SELECT session_uid, original_key, result_key, processing, loading_text, alert, created_at, updated_at
	FROM sessions
	WHERE session_uid = $1`
	var s model.Session

	err := p.DB.QueryRowContext(ctx, query, id).Scan(&s.UID,
		&s.OriginalKey,
		&s.ResultKey,
		&s.Processing,
		&s.LoadingText,
		&s.Alert,
		&s.CreatedAt,
		&s.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, model.ErrSessionNotFound
		default:
			return nil, err // 500
		}
	}
	return &s, nil
}

// CompareAndUpdate writes the mutable part of the session row only while the row still holds the
// handles, processing flag and alert of expect. Returns false when the row changed meanwhile or is gone.
func (p PostgresRepo) CompareAndUpdate(ctx context.Context, s *model.Session, expect model.Session) (bool, error) {
	query := `UPDATE sessions
	SET original_key = $1, result_key = $2, processing = $3, loading_text = $4, alert = $5, updated_at = $6
	WHERE session_uid = $7 AND original_key = $8 AND result_key = $9 AND processing = $10 AND alert = $11`
	res, err := p.DB.Master.ExecContext(ctx, query,
		s.OriginalKey, s.ResultKey, s.Processing, s.LoadingText, s.Alert, s.UpdatedAt,
		s.UID, expect.OriginalKey, expect.ResultKey, expect.Processing, expect.Alert)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p PostgresRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM sessions
	WHERE session_uid = $1`

	res, err := p.DB.Master.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// SetProgress updates loading text only while the session is still processing the given original.
func (p PostgresRepo) SetProgress(ctx context.Context, id, originalKey, text string) (bool, error) {
	query := `UPDATE sessions SET loading_text = $1, updated_at = now()
	WHERE session_uid = $2 AND original_key = $3 AND processing`

	res, err := p.DB.Master.ExecContext(ctx, query, text, id, originalKey)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FinishRemoval leaves the processing state. Returns false when the session is gone or has
// switched to another original in the meantime.
func (p PostgresRepo) FinishRemoval(ctx context.Context, id, originalKey, resultKey, alert string) (bool, error) {
	query := `UPDATE sessions SET processing = FALSE, result_key = $1, alert = $2, updated_at = now()
	WHERE session_uid = $3 AND original_key = $4 AND processing`

	res, err := p.DB.Master.ExecContext(ctx, query, resultKey, alert, id, originalKey)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (p PostgresRepo) FetchStale(ctx context.Context, cutoff time.Time, limit int) ([]model.Session, error) {
	query := `SELECT session_uid, original_key
	FROM sessions
	WHERE processing AND updated_at < $1
	LIMIT $2`

	rows, err := p.DB.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		return nil, err
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Error while closing *sql.Rows after scanning: %v", err)
		}
	}()

	stale := make([]model.Session, 0, limit)
	for rows.Next() {
		var s model.Session
		if err := rows.Scan(&s.UID, &s.OriginalKey); err != nil {
			return nil, err
		}
		stale = append(stale, s)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return stale, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrSessionNotFound
	}
	return nil
}
