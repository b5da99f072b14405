package database

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/thinkscotty/dispatch/internal/models"
	"github.com/thinkscotty/dispatch/internal/similarity"
)

const runColumns = `id, started_at, finished_at, status, control_value, news_title,
	news_trigrams, generated_chars, tokens_used, target, locator, error`

// RecordRun stores a run and its publish attempts in one transaction. A run
// without an ID is given a new one, which is written back into r.
func (db *DB) RecordRun(r *models.Run) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.StartedAt), formatTime(r.FinishedAt), r.Status,
		r.ControlValue, r.NewsTitle, r.NewsTrigrams, r.GeneratedChars,
		r.TokensUsed, r.Target, r.Locator, r.Error)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO publish_attempts (run_id, position, target, outcome, status_code, locator, error, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare attempts: %w", err)
	}
	defer stmt.Close()

	for _, a := range r.Attempts {
		if _, err := stmt.Exec(r.ID, a.Position, a.Target, a.Outcome, a.StatusCode, a.Locator, a.Error, a.ElapsedMS); err != nil {
			return fmt.Errorf("insert attempt %d: %w", a.Position, err)
		}
	}

	return tx.Commit()
}

// RecentRuns returns the newest runs first, each with its attempts.
func (db *DB) RecentRuns(limit int) ([]models.Run, error) {
	rows, err := db.conn.Query(`
		SELECT `+runColumns+`
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}

	for i := range runs {
		attempts, err := db.AttemptsForRun(runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Attempts = attempts
	}
	return runs, nil
}

func (db *DB) GetRun(id string) (models.Run, error) {
	rows, err := db.conn.Query(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	if err != nil {
		return models.Run{}, err
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return models.Run{}, err
	}
	if len(runs) == 0 {
		return models.Run{}, sql.ErrNoRows
	}
	r := runs[0]
	r.Attempts, err = db.AttemptsForRun(id)
	return r, err
}

// AttemptsForRun returns a run's publish attempts in chain order.
func (db *DB) AttemptsForRun(id string) ([]models.AttemptLog, error) {
	rows, err := db.conn.Query(`
		SELECT position, target, outcome, status_code, locator, error, elapsed_ms
		FROM publish_attempts WHERE run_id = ? ORDER BY position ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []models.AttemptLog
	for rows.Next() {
		var a models.AttemptLog
		if err := rows.Scan(&a.Position, &a.Target, &a.Outcome, &a.StatusCode, &a.Locator, &a.Error, &a.ElapsedMS); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// RecentPublishedTrigrams returns the stored headline grams of the latest
// published runs.
func (db *DB) RecentPublishedTrigrams(limit int) ([]similarity.StoredTrigrams, error) {
	rows, err := db.conn.Query(`
		SELECT id, news_title, news_trigrams FROM runs
		WHERE status = ? AND news_trigrams != ''
		ORDER BY started_at DESC, rowid DESC LIMIT ?`, models.RunPublished, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []similarity.StoredTrigrams
	for rows.Next() {
		var st similarity.StoredTrigrams
		if err := rows.Scan(&st.RunID, &st.Title, &st.Trigrams); err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

// RunCounts returns the number of runs per status.
func (db *DB) RunCounts() (map[string]int, error) {
	rows, err := db.conn.Query(`SELECT status, COUNT(*) FROM runs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func scanRuns(rows *sql.Rows) ([]models.Run, error) {
	defer rows.Close()
	var runs []models.Run
	for rows.Next() {
		var r models.Run
		var started, finished string
		if err := rows.Scan(&r.ID, &started, &finished, &r.Status, &r.ControlValue,
			&r.NewsTitle, &r.NewsTrigrams, &r.GeneratedChars, &r.TokensUsed,
			&r.Target, &r.Locator, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt, _ = parseTime(started)
		r.FinishedAt, _ = parseTime(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
