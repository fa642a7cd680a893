package models

import (
	"context"
	"fmt"
	"strings"
)

const subjectColumns = `id, external_id, display_name, photo_url, status, last_seen_ms, created_at_ms, updated_at_ms`

func scanSubject(row interface{ Scan(...any) error }) (Subject, error) {
	var i Subject
	err := row.Scan(
		&i.ID,
		&i.ExternalID,
		&i.DisplayName,
		&i.PhotoURL,
		&i.Status,
		&i.LastSeenMs,
		&i.CreatedAtMs,
		&i.UpdatedAtMs,
	)
	return i, err
}

const getSubjectByID = `SELECT ` + subjectColumns + ` FROM subjects WHERE id = ? LIMIT 1`

func (q *Queries) GetSubjectByID(ctx context.Context, id string) (Subject, error) {
	return scanSubject(q.db.QueryRowContext(ctx, getSubjectByID, id))
}

const getSubjectByExternalID = `SELECT ` + subjectColumns + ` FROM subjects WHERE external_id = ? LIMIT 1`

func (q *Queries) GetSubjectByExternalID(ctx context.Context, externalID string) (Subject, error) {
	return scanSubject(q.db.QueryRowContext(ctx, getSubjectByExternalID, externalID))
}

const upsertSubject = `
INSERT INTO subjects (id, external_id, display_name, photo_url, status, last_seen_ms, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, 'offline', 0, ?, ?)
ON CONFLICT(external_id) DO UPDATE SET
	display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE subjects.display_name END,
	photo_url = CASE WHEN excluded.photo_url != '' THEN excluded.photo_url ELSE subjects.photo_url END,
	updated_at_ms = excluded.updated_at_ms
RETURNING ` + subjectColumns

type UpsertSubjectParams struct {
	ID          string
	ExternalID  string
	DisplayName string
	PhotoURL    string
	AtMs        int64
}

// UpsertSubject provisions a subject on first sight and refreshes its
// profile on later logins. ID is only used for new rows.
func (q *Queries) UpsertSubject(ctx context.Context, arg UpsertSubjectParams) (Subject, error) {
	row := q.db.QueryRowContext(ctx, upsertSubject,
		arg.ID,
		arg.ExternalID,
		arg.DisplayName,
		arg.PhotoURL,
		arg.AtMs,
		arg.AtMs,
	)
	return scanSubject(row)
}

const updateSubjectStatus = `
UPDATE subjects
SET status = ?, last_seen_ms = ?, updated_at_ms = ?
WHERE id = ? AND last_seen_ms <= ?`

type UpdateSubjectStatusParams struct {
	ID         string
	Status     string
	LastSeenMs int64
}

// UpdateSubjectStatus writes a presence transition unless a newer one has
// already been stored. It returns the number of rows changed.
func (q *Queries) UpdateSubjectStatus(ctx context.Context, arg UpdateSubjectStatusParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateSubjectStatus,
		arg.Status,
		arg.LastSeenMs,
		arg.LastSeenMs,
		arg.ID,
		arg.LastSeenMs,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const resetSubjectStatuses = `UPDATE subjects SET status = 'offline', updated_at_ms = ? WHERE status != 'offline'`

// ResetSubjectStatuses marks every subject offline. Used at startup since no
// connection survives a restart.
func (q *Queries) ResetSubjectStatuses(ctx context.Context, atMs int64) error {
	_, err := q.db.ExecContext(ctx, resetSubjectStatuses, atMs)
	return err
}

// ListSubjectsByIDs returns the subjects for ids, in no particular order.
func (q *Queries) ListSubjectsByIDs(ctx context.Context, ids []string) ([]Subject, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimRight(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	query := fmt.Sprintf(`SELECT %s FROM subjects WHERE id IN (%s)`, subjectColumns, placeholders)
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []Subject
	for rows.Next() {
		i, err := scanSubject(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
