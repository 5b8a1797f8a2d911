// Package sqlite provides a SQLite-backed implementation of the storage.Store interface.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mmynk/dosetrack/internal/metrics"
	"github.com/mmynk/dosetrack/internal/models"
	"github.com/mmynk/dosetrack/internal/storage"
)

// Ensure SQLiteStore implements storage.Store
var _ storage.Store = (*SQLiteStore)(nil)

// SQLiteStore implements storage.Store using SQLite. Subscriptions are
// fanned out in-process: after every committed mutation the affected user's
// full record set is re-queried and delivered to each subscriber.
type SQLiteStore struct {
	db *sql.DB

	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]storage.SnapshotFunc // userID -> subID -> fn
}

// New creates a new SQLiteStore with the given database path.
// It creates the parent directories and runs migrations automatically.
func New(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{
		db:   db,
		subs: make(map[string]map[int]storage.SnapshotFunc),
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRecord persists a new record, assigning its ID and timestamps.
func (s *SQLiteStore) CreateRecord(ctx context.Context, record *models.DailyRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	now := time.Now().Unix()
	record.CreatedAt = now
	record.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_records
		  (id, user_id, date, dose_amount, time_of_day, notes, completed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.UserID, record.Date, record.DoseAmount,
		record.TimeOfDay, record.Notes, boolToInt(record.Completed),
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert record: %v", models.ErrWrite, err)
	}

	s.notify(record.UserID)
	return nil
}

// UpdateRecord applies a partial update to an existing record.
func (s *SQLiteStore) UpdateRecord(ctx context.Context, id string, patch models.RecordPatch) error {
	userID, err := s.ownerOf(ctx, id)
	if err != nil {
		return err
	}

	sets := []string{"updated_at = ?"}
	args := []any{time.Now().Unix()}
	if patch.DoseAmount != nil {
		sets = append(sets, "dose_amount = ?")
		args = append(args, *patch.DoseAmount)
	}
	if patch.TimeOfDay != nil {
		sets = append(sets, "time_of_day = ?")
		args = append(args, *patch.TimeOfDay)
	}
	if patch.Notes != nil {
		sets = append(sets, "notes = ?")
		args = append(args, *patch.Notes)
	}
	if patch.Completed != nil {
		sets = append(sets, "completed = ?")
		args = append(args, boolToInt(*patch.Completed))
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE daily_records SET %s WHERE id = ?", strings.Join(sets, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%w: update record %s: %v", models.ErrWrite, id, err)
	}

	s.notify(userID)
	return nil
}

// DeleteRecord removes a record by id.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, id string) error {
	userID, err := s.ownerOf(ctx, id)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM daily_records WHERE id = ?", id); err != nil {
		return fmt.Errorf("%w: delete record %s: %v", models.ErrWrite, id, err)
	}

	s.notify(userID)
	return nil
}

// GetRecordByDate retrieves the record for (userID, date), or (nil, nil)
// when none exists. If the documented duplicate race ever produces more
// than one row, the first is returned.
func (s *SQLiteStore) GetRecordByDate(ctx context.Context, userID, date string) (*models.DailyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		selectColumns+" WHERE user_id = ? AND date = ? ORDER BY created_at LIMIT 1",
		userID, date,
	)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record by date: %w", err)
	}
	return record, nil
}

// GetAllRecords returns the user's full record set, newest date first.
func (s *SQLiteStore) GetAllRecords(ctx context.Context, userID string) ([]models.DailyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		selectColumns+" WHERE user_id = ? ORDER BY date DESC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}
	defer rows.Close()

	var records []models.DailyRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate records: %w", err)
	}
	return records, nil
}

// DeleteAllRecords removes every record for the user (explicit bulk erase).
func (s *SQLiteStore) DeleteAllRecords(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM daily_records WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("%w: delete all records for %s: %v", models.ErrWrite, userID, err)
	}

	s.notify(userID)
	return nil
}

// Subscribe registers fn for full-snapshot delivery. The initial snapshot
// is delivered synchronously before Subscribe returns.
func (s *SQLiteStore) Subscribe(userID string, fn storage.SnapshotFunc) func() {
	s.mu.Lock()
	s.nextID++
	subID := s.nextID
	if s.subs[userID] == nil {
		s.subs[userID] = make(map[int]storage.SnapshotFunc)
	}
	s.subs[userID][subID] = fn
	s.mu.Unlock()

	s.deliver(userID, fn)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[userID], subID)
			if len(s.subs[userID]) == 0 {
				delete(s.subs, userID)
			}
			s.mu.Unlock()
		})
	}
}

// notify re-queries the user's record set and pushes it to every subscriber.
// Full-snapshot push-replace: subscribers never see diffs.
func (s *SQLiteStore) notify(userID string) {
	s.mu.Lock()
	fns := make([]storage.SnapshotFunc, 0, len(s.subs[userID]))
	for _, fn := range s.subs[userID] {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	if len(fns) == 0 {
		return
	}
	for _, fn := range fns {
		s.deliver(userID, fn)
	}
}

func (s *SQLiteStore) deliver(userID string, fn storage.SnapshotFunc) {
	records, err := s.GetAllRecords(context.Background(), userID)
	if err != nil {
		slog.Error("failed to build snapshot for subscriber", "user_id", userID, "error", err)
		return
	}
	metrics.SnapshotsDelivered.Inc()
	fn(records)
}

// ownerOf returns the user_id of a record, or models.ErrNotFound.
func (s *SQLiteStore) ownerOf(ctx context.Context, id string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id FROM daily_records WHERE id = ?", id,
	).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", models.ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up record %s: %w", id, err)
	}
	return userID, nil
}

const selectColumns = `SELECT id, user_id, date, dose_amount, time_of_day, notes, completed, created_at, updated_at
 FROM daily_records`

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*models.DailyRecord, error) {
	record := &models.DailyRecord{}
	var completed int
	err := row.Scan(
		&record.ID, &record.UserID, &record.Date, &record.DoseAmount,
		&record.TimeOfDay, &record.Notes, &completed,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	record.Completed = completed != 0
	return record, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
