package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/h2non/filetype"

	"github.com/weightfetch/weightfetch/internal/engine/types"
)

// Task statuses.
const (
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// TaskRecord is one submitted batch.
type TaskRecord struct {
	ID         string
	Status     string
	Error      string
	CreatedAt  time.Time
	FinishedAt time.Time
	Items      []ItemRecord
}

// ItemRecord is the last known state of one item of a task.
type ItemRecord struct {
	Index        int
	URL          string
	DestPath     string
	SHA256       string
	ExpectedSize *int64
	Status       types.ItemStatus
	Error        string
	Size         int64
	MIME         string
	UpdatedAt    time.Time
}

// StartTask records a task and its items as pending. Resubmitting a known
// task ID resets it.
func (s *Store) StartTask(taskID string, items []types.DownloadItem, paths []string) error {
	if len(paths) != len(items) {
		return fmt.Errorf("got %d paths for %d items", len(paths), len(items))
	}
	now := time.Now().Unix()
	return s.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO tasks (id, status, error, created_at, finished_at)
			VALUES (?, ?, NULL, ?, NULL)
			ON CONFLICT(id) DO UPDATE SET
				status=excluded.status,
				error=NULL,
				finished_at=NULL
		`, taskID, TaskRunning, now)
		if err != nil {
			return fmt.Errorf("failed to upsert task: %w", err)
		}

		if _, err := tx.Exec("DELETE FROM items WHERE task_id = ?", taskID); err != nil {
			return fmt.Errorf("failed to delete old items: %w", err)
		}

		stmt, err := tx.Prepare(`
			INSERT INTO items (task_id, idx, url, dest_path, sha256, expected_size, status, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare item insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i, item := range items {
			var expected sql.NullInt64
			if item.Size != nil {
				expected = sql.NullInt64{Int64: *item.Size, Valid: true}
			}
			if _, err := stmt.Exec(taskID, i, item.URL, paths[i], item.SHA256, expected, string(types.StatusPending), now); err != nil {
				return fmt.Errorf("failed to insert item %d: %w", i, err)
			}
		}
		return nil
	})
}

// SetItemStatus moves an item to status. Items already in a terminal state
// are left unchanged. Completing an item records its size and detected MIME
// type.
func (s *Store) SetItemStatus(taskID string, index int, status types.ItemStatus, errMsg string) error {
	var size sql.NullInt64
	var mime sql.NullString
	if status == types.StatusCompleted {
		var dest string
		err := s.db.QueryRow("SELECT dest_path FROM items WHERE task_id = ? AND idx = ?", taskID, index).Scan(&dest)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to query item: %w", err)
		}
		if dest != "" {
			if info, err := os.Stat(dest); err == nil {
				size = sql.NullInt64{Int64: info.Size(), Valid: true}
			}
			mime = sql.NullString{String: DetectMIME(dest), Valid: true}
		}
	}

	_, err := s.db.Exec(`
		UPDATE items SET
			status = ?,
			error = NULLIF(?, ''),
			size = COALESCE(?, size),
			mime = COALESCE(?, mime),
			updated_at = ?
		WHERE task_id = ? AND idx = ?
			AND status NOT IN (?, ?, ?)
	`, string(status), errMsg, size, mime, time.Now().Unix(), taskID, index,
		string(types.StatusCompleted), string(types.StatusFailed), string(types.StatusCancelled))
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	return nil
}

// FinishTask stamps the task outcome.
func (s *Store) FinishTask(taskID string, taskErr error) error {
	status, msg := TaskCompleted, ""
	if taskErr != nil {
		status, msg = TaskFailed, taskErr.Error()
	}
	_, err := s.db.Exec(`
		UPDATE tasks SET status = ?, error = NULLIF(?, ''), finished_at = ? WHERE id = ?
	`, status, msg, time.Now().Unix(), taskID)
	if err != nil {
		return fmt.Errorf("failed to finish task: %w", err)
	}
	return nil
}

// GetTask returns a task with its items, or nil if it does not exist.
func (s *Store) GetTask(taskID string) (*TaskRecord, error) {
	row := s.db.QueryRow("SELECT id, status, error, created_at, finished_at FROM tasks WHERE id = ?", taskID)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, fmt.Errorf("failed to query task: %w", err)
	}
	if t.Items, err = s.items(t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks returns the most recent tasks first. limit <= 0 returns all.
func (s *Store) ListTasks(limit int) ([]TaskRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`
		SELECT id, status, error, created_at, finished_at
		FROM tasks
		ORDER BY created_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}

	var list []TaskRecord
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		list = append(list, *t)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	// Items are loaded after the cursor is released; the pool has one connection.
	for i := range list {
		if list[i].Items, err = s.items(list[i].ID); err != nil {
			return nil, err
		}
	}
	return list, nil
}

// DeleteTask removes a task and its items.
func (s *Store) DeleteTask(taskID string) error {
	return s.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM items WHERE task_id = ?", taskID); err != nil {
			return fmt.Errorf("failed to delete items: %w", err)
		}
		if _, err := tx.Exec("DELETE FROM tasks WHERE id = ?", taskID); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
		return nil
	})
}

func (s *Store) items(taskID string) ([]ItemRecord, error) {
	rows, err := s.db.Query(`
		SELECT idx, url, dest_path, sha256, expected_size, status, error, size, mime, updated_at
		FROM items WHERE task_id = ? ORDER BY idx
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ItemRecord
	for rows.Next() {
		var it ItemRecord
		var sha, errMsg, mime sql.NullString
		var expected, size sql.NullInt64
		var status string
		var updated int64
		if err := rows.Scan(&it.Index, &it.URL, &it.DestPath, &sha, &expected, &status, &errMsg, &size, &mime, &updated); err != nil {
			return nil, err
		}
		it.SHA256 = sha.String
		if expected.Valid {
			v := expected.Int64
			it.ExpectedSize = &v
		}
		it.Status = types.ItemStatus(status)
		it.Error = errMsg.String
		it.Size = size.Int64
		it.MIME = mime.String
		it.UpdatedAt = time.Unix(updated, 0)
		out = append(out, it)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*TaskRecord, error) {
	var t TaskRecord
	var errMsg sql.NullString
	var created int64
	var finished sql.NullInt64
	if err := row.Scan(&t.ID, &t.Status, &errMsg, &created, &finished); err != nil {
		return nil, err
	}
	t.Error = errMsg.String
	t.CreatedAt = time.Unix(created, 0)
	if finished.Valid {
		t.FinishedAt = time.Unix(finished.Int64, 0)
	}
	return &t, nil
}

// DetectMIME sniffs the file's magic bytes. Unrecognised content is
// reported as application/octet-stream.
func DetectMIME(path string) string {
	kind, err := filetype.MatchFile(path)
	if err != nil || kind == filetype.Unknown || kind.MIME.Value == "" {
		return "application/octet-stream"
	}
	return kind.MIME.Value
}
