// Package archive is the append-only ledger of world-state transitions.
//
// The ledger lives in its own SQLite database, outside every session
// directory, so a session reset never touches it. Ledger turn numbers are
// assigned here, one past the last entry for the session, which keeps them
// strictly increasing across resets.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tatianab/storyframe/internal/apperrors"
	"github.com/tatianab/storyframe/internal/archive/migrations"
	"github.com/tatianab/storyframe/internal/models"
)

// Ledger provides SQLite-backed archive persistence.
type Ledger struct {
	db *sql.DB
}

// Open opens (or creates) the ledger at path and applies migrations.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("archive path is required")
	}
	cleanPath := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(cleanPath), 0755); err != nil {
		return nil, apperrors.Storage("create archive dir", err)
	}

	dsn := cleanPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperrors.Storage("open archive db", err)
	}
	// One connection serialises writers; turn assignment relies on it.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperrors.Storage("ping archive db", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, apperrors.Storage("migrate archive db", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the SQLite connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Append records one transition. It fills in the id, the timestamp when
// zero, the ledger turn and the session epoch, and returns the stored entry.
func (l *Ledger) Append(ctx context.Context, entry models.ArchiveEntry) (models.ArchiveEntry, error) {
	if err := ctx.Err(); err != nil {
		return models.ArchiveEntry{}, err
	}
	entry.SessionID = strings.TrimSpace(entry.SessionID)
	if entry.SessionID == "" {
		return models.ArchiveEntry{}, apperrors.New(apperrors.CodeValidation, "archive entry needs a session id")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	entry.ID = uuid.NewString()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return models.ArchiveEntry{}, apperrors.Storage("begin archive append", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(turn), -1) + 1 FROM archive_entries WHERE session_id = ?`,
		entry.SessionID,
	).Scan(&entry.Turn); err != nil {
		return models.ArchiveEntry{}, apperrors.Storage("next archive turn", err)
	}

	epoch, err := currentEpoch(ctx, tx, entry.SessionID)
	if err != nil {
		return models.ArchiveEntry{}, apperrors.Storage("read archive epoch", err)
	}
	entry.Epoch = epoch

	if _, err := tx.ExecContext(ctx, `
INSERT INTO archive_entries (
	id,
	session_id,
	turn,
	game_turn,
	epoch,
	created_at,
	situation_before,
	situation_after,
	action,
	consequence,
	vision
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`,
		entry.ID,
		entry.SessionID,
		entry.Turn,
		entry.GameTurn,
		entry.Epoch,
		entry.Timestamp.UTC().UnixMilli(),
		entry.SituationBefore,
		entry.SituationAfter,
		entry.Action,
		entry.Consequence,
		entry.Vision,
	); err != nil {
		return models.ArchiveEntry{}, apperrors.Storage("insert archive entry", err)
	}
	if err := tx.Commit(); err != nil {
		return models.ArchiveEntry{}, apperrors.Storage("commit archive entry", err)
	}
	return entry, nil
}

// MarkReset bumps the session epoch. Existing entries are left alone.
func (l *Ledger) MarkReset(ctx context.Context, sessionID string) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO archive_sessions (session_id, epoch, reset_at) VALUES (?, 1, ?)
ON CONFLICT(session_id) DO UPDATE SET epoch = epoch + 1, reset_at = excluded.reset_at
`, sessionID, time.Now().UTC().UnixMilli())
	if err != nil {
		return apperrors.Storage("mark archive reset", err)
	}
	return nil
}

// List returns a session's entries in ledger turn order. A limit of zero or
// less returns all of them; otherwise the most recent limit entries.
func (l *Ledger) List(ctx context.Context, sessionID string, limit int) ([]models.ArchiveEntry, error) {
	query := `
SELECT id, session_id, turn, game_turn, epoch, created_at,
	situation_before, situation_after, action, consequence, vision
FROM archive_entries
WHERE session_id = ?
ORDER BY turn DESC`
	args := []any{sessionID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Storage("list archive entries", err)
	}
	defer rows.Close()

	var entries []models.ArchiveEntry
	for rows.Next() {
		var (
			entry     models.ArchiveEntry
			createdAt int64
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.SessionID,
			&entry.Turn,
			&entry.GameTurn,
			&entry.Epoch,
			&createdAt,
			&entry.SituationBefore,
			&entry.SituationAfter,
			&entry.Action,
			&entry.Consequence,
			&entry.Vision,
		); err != nil {
			return nil, apperrors.Storage("scan archive entry", err)
		}
		entry.Timestamp = time.UnixMilli(createdAt).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("iterate archive entries", err)
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Sessions returns every session id with at least one entry.
func (l *Ledger) Sessions(ctx context.Context) ([]string, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM archive_entries ORDER BY session_id`)
	if err != nil {
		return nil, apperrors.Storage("list archive sessions", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Storage("scan archive session", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage("iterate archive sessions", err)
	}
	return ids, nil
}

func currentEpoch(ctx context.Context, tx *sql.Tx, sessionID string) (int, error) {
	var epoch int
	err := tx.QueryRowContext(ctx, `SELECT epoch FROM archive_sessions WHERE session_id = ?`, sessionID).Scan(&epoch)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return epoch, err
}
