package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

var ErrNotFound = errors.New("not found")

// AppendLog inserts one log row, assigning id and timestamp, and returns the
// assigned id. Ids are strictly increasing in insertion order.
func (s *Store) AppendLog(ctx context.Context, e NewLog) (int64, error) {
	ts := s.now().UTC().Format(TimeLayout)
	meta := e.Metadata
	if len(meta) == 0 || !json.Valid(meta) {
		meta = json.RawMessage("{}")
	}

	q := s.sql.Insert("logs").
		Columns("timestamp", "model", "prompt", "response", "duration_ms", "error", "metadata", "locked", "tag").
		Values(ts, e.Model, e.Prompt, encodeResponse(e.Response), e.DurationMs, e.Error, string(meta), false, e.Tag)

	if s.driver == "postgres" {
		sqlStr, args, err := q.Suffix("RETURNING id").ToSql()
		if err != nil {
			return 0, fmt.Errorf("build append log query: %w", err)
		}
		var id int64
		if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("append log: %w", err)
		}
		return id, nil
	}

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build append log query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("append log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append log id: %w", err)
	}
	return id, nil
}

// ListLogs returns at most limit rows ordered by id descending, skipping
// offset matches. Filters are inclusive and never mutate state.
func (s *Store) ListLogs(ctx context.Context, limit, offset uint64, f Filter) ([]LogEntry, error) {
	q := s.sql.Select("id", "timestamp", "model", "prompt", "response", "duration_ms", "error", "metadata", "locked", "tag").
		From("logs").
		Where(filterConds(f)).
		OrderBy("id DESC").
		Limit(limit).
		Offset(offset)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list logs query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	out := make([]LogEntry, 0)
	for rows.Next() {
		var (
			e        LogEntry
			response sql.NullString
			errText  sql.NullString
			metadata sql.NullString
			tag      sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Model, &e.Prompt, &response, &e.DurationMs, &errText, &metadata, &e.Locked, &tag); err != nil {
			return nil, fmt.Errorf("scan log row: %w", err)
		}
		e.Response = decodeResponse(response)
		e.Metadata = decodeMetadata(metadata)
		if errText.Valid {
			e.Error = &errText.String
		}
		if tag.Valid {
			e.Tag = &tag.String
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log rows: %w", err)
	}
	return out, nil
}

// CountLogs returns the number of rows matching the filter, ignoring
// pagination.
func (s *Store) CountLogs(ctx context.Context, f Filter) (int64, error) {
	q := s.sql.Select("COUNT(*)").From("logs").Where(filterConds(f))
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count logs query: %w", err)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count logs: %w", err)
	}
	return n, nil
}

// SetLogLocked flips the lock flag on one row. Returns false when no row has
// the given id.
func (s *Store) SetLogLocked(ctx context.Context, id int64, locked bool) (bool, error) {
	q := s.sql.Update("logs").Set("locked", locked).Where(sq.Eq{"id": id})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return false, fmt.Errorf("build set lock query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return false, fmt.Errorf("set lock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set lock rows affected: %w", err)
	}
	return n > 0, nil
}

// PurgeOlderThan deletes unlocked rows whose timestamp is older than
// now - daysToKeep days and returns the number deleted. The lock check happens
// inside the single DELETE, so a row locked concurrently is never lost.
func (s *Store) PurgeOlderThan(ctx context.Context, daysToKeep int) (int64, error) {
	if daysToKeep < 0 {
		daysToKeep = 0
	}
	cutoff := s.now().UTC().Add(-time.Duration(daysToKeep) * 24 * time.Hour).Format(TimeLayout)

	q := s.sql.Delete("logs").Where(sq.And{
		sq.Lt{"timestamp": cutoff},
		sq.Eq{"locked": false},
	})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("purge logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge rows affected: %w", err)
	}
	return n, nil
}

// PurgeKeepingNewest deletes all unlocked rows beyond the countToKeep most
// recent unlocked ones. Locked rows are untouched and do not count against the
// quota, so the table may retain more than countToKeep rows in total.
func (s *Store) PurgeKeepingNewest(ctx context.Context, countToKeep int) (int64, error) {
	if countToKeep < 0 {
		countToKeep = 0
	}

	q := s.sql.Delete("logs").Where(sq.And{
		sq.Eq{"locked": false},
		sq.Expr("id NOT IN (SELECT id FROM (SELECT id FROM logs WHERE locked = ? ORDER BY id DESC LIMIT ?) keep)", false, countToKeep),
	})
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build purge by count query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return 0, fmt.Errorf("purge logs by count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge by count rows affected: %w", err)
	}
	return n, nil
}

// UniqueTags returns the distinct non-empty tag values across all rows.
func (s *Store) UniqueTags(ctx context.Context) ([]string, error) {
	q := s.sql.Select("DISTINCT tag").
		From("logs").
		Where(sq.And{
			sq.NotEq{"tag": nil},
			sq.NotEq{"tag": ""},
		}).
		OrderBy("tag ASC")
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unique tags query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("unique tags: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		out = append(out, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	return out, nil
}

func filterConds(f Filter) sq.And {
	conds := sq.And{}
	if f.Start != "" {
		conds = append(conds, sq.GtOrEq{"timestamp": f.Start})
	}
	if f.End != "" {
		conds = append(conds, sq.LtOrEq{"timestamp": f.End})
	}
	if f.Tag != "" {
		conds = append(conds, sq.Eq{"tag": f.Tag})
	}
	return conds
}

func encodeResponse(v ResultValue) *string {
	switch v.Kind {
	case ResultText:
		b, err := json.Marshal(v.Text)
		if err != nil {
			return nil
		}
		s := string(b)
		return &s
	case ResultJSON:
		s := string(v.JSON)
		return &s
	default:
		return nil
	}
}

// decodeResponse tolerates malformed stored JSON by falling back to the raw
// stored text.
func decodeResponse(ns sql.NullString) ResultValue {
	if !ns.Valid || ns.String == "" || ns.String == "null" {
		return ResultValue{}
	}
	var text string
	if err := json.Unmarshal([]byte(ns.String), &text); err == nil {
		return TextResult(text)
	}
	if json.Valid([]byte(ns.String)) {
		return JSONResult(json.RawMessage(ns.String))
	}
	return TextResult(ns.String)
}

// decodeMetadata tolerates malformed stored JSON by falling back to an empty
// object.
func decodeMetadata(ns sql.NullString) json.RawMessage {
	if !ns.Valid || !json.Valid([]byte(ns.String)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(ns.String)
}
