package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

type legacyRecord struct {
	Timestamp  string          `json:"timestamp"`
	Model      string          `json:"model"`
	Prompt     string          `json:"prompt"`
	Response   json.RawMessage `json:"response"`
	DurationMs float64         `json:"duration_ms"`
	Error      *string         `json:"error"`
	Metadata   json.RawMessage `json:"metadata"`
}

// ImportLegacy performs the one-shot import of the newline-delimited legacy
// log file into the logs table. Imported rows are unlocked and keep their
// original timestamps. Malformed lines are skipped and counted, not fatal.
// On success the source file is renamed with a .bak suffix so the import
// never runs twice.
func (s *Store) ImportLegacy(ctx context.Context, path string) (imported, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("open legacy log file: %w", err)
	}
	defer f.Close()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin legacy import: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var rec legacyRecord
		if jsonErr := json.Unmarshal([]byte(line), &rec); jsonErr != nil {
			skipped++
			continue
		}

		meta := rec.Metadata
		if len(meta) == 0 || !json.Valid(meta) {
			meta = json.RawMessage("{}")
		}
		var response *string
		if len(rec.Response) > 0 && string(rec.Response) != "null" {
			v := string(rec.Response)
			response = &v
		}

		q := s.sql.Insert("logs").
			Columns("timestamp", "model", "prompt", "response", "duration_ms", "error", "metadata", "locked").
			Values(rec.Timestamp, rec.Model, rec.Prompt, response, rec.DurationMs, rec.Error, string(meta), false)
		sqlStr, args, buildErr := q.ToSql()
		if buildErr != nil {
			return imported, skipped, fmt.Errorf("build legacy insert: %w", buildErr)
		}
		if _, execErr := tx.ExecContext(ctx, sqlStr, args...); execErr != nil {
			return imported, skipped, fmt.Errorf("insert legacy row: %w", execErr)
		}
		imported++
	}
	if scanErr := scanner.Err(); scanErr != nil {
		err = fmt.Errorf("read legacy log file: %w", scanErr)
		return imported, skipped, err
	}

	if err = tx.Commit(); err != nil {
		return imported, skipped, fmt.Errorf("commit legacy import: %w", err)
	}

	_ = f.Close()
	if renameErr := os.Rename(path, path+".bak"); renameErr != nil {
		return imported, skipped, fmt.Errorf("archive legacy log file: %w", renameErr)
	}
	return imported, skipped, nil
}
