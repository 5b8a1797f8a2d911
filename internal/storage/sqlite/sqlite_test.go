package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mmynk/dosetrack/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "dosetrack-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("CreateRecord generates ID and timestamps", func(t *testing.T) {
		record := &models.DailyRecord{
			UserID:     "user1",
			Date:       "2025-06-30",
			DoseAmount: 2,
			TimeOfDay:  "09:15",
			Completed:  true,
		}

		if err := store.CreateRecord(ctx, record); err != nil {
			t.Fatalf("CreateRecord failed: %v", err)
		}

		if record.ID == "" {
			t.Error("Expected record ID to be generated")
		}
		if record.CreatedAt == 0 {
			t.Error("Expected CreatedAt to be set")
		}
		if record.UpdatedAt == 0 {
			t.Error("Expected UpdatedAt to be set")
		}
	})

	t.Run("GetRecordByDate retrieves the record", func(t *testing.T) {
		got, err := store.GetRecordByDate(ctx, "user1", "2025-06-30")
		if err != nil {
			t.Fatalf("GetRecordByDate failed: %v", err)
		}
		if got == nil {
			t.Fatal("Expected a record, got nil")
		}
		if got.DoseAmount != 2 || got.TimeOfDay != "09:15" || !got.Completed {
			t.Errorf("Got %+v, want dose=2 time=09:15 completed=true", got)
		}
	})

	t.Run("GetRecordByDate returns nil, nil when absent", func(t *testing.T) {
		got, err := store.GetRecordByDate(ctx, "user1", "1999-01-01")
		if err != nil {
			t.Fatalf("GetRecordByDate failed: %v", err)
		}
		if got != nil {
			t.Errorf("Expected nil for a missing date, got %+v", got)
		}
	})

	t.Run("UpdateRecord applies only the patched fields", func(t *testing.T) {
		existing, err := store.GetRecordByDate(ctx, "user1", "2025-06-30")
		if err != nil || existing == nil {
			t.Fatalf("GetRecordByDate failed: %v", err)
		}

		dose := 5
		notes := "double dose day"
		patch := models.RecordPatch{DoseAmount: &dose, Notes: &notes}
		if err := store.UpdateRecord(ctx, existing.ID, patch); err != nil {
			t.Fatalf("UpdateRecord failed: %v", err)
		}

		got, err := store.GetRecordByDate(ctx, "user1", "2025-06-30")
		if err != nil {
			t.Fatalf("GetRecordByDate failed: %v", err)
		}
		if got.DoseAmount != 5 {
			t.Errorf("DoseAmount = %d, want 5", got.DoseAmount)
		}
		if got.Notes != "double dose day" {
			t.Errorf("Notes = %q, want %q", got.Notes, notes)
		}
		if got.TimeOfDay != "09:15" {
			t.Errorf("TimeOfDay changed to %q, want unchanged 09:15", got.TimeOfDay)
		}
		if !got.Completed {
			t.Error("Completed changed, want unchanged true")
		}
	})

	t.Run("UpdateRecord on missing id is ErrNotFound", func(t *testing.T) {
		dose := 1
		err := store.UpdateRecord(ctx, "no-such-id", models.RecordPatch{DoseAmount: &dose})
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("UpdateRecord error = %v, want ErrNotFound", err)
		}
	})

	t.Run("GetAllRecords returns newest date first", func(t *testing.T) {
		for _, date := range []string{"2025-06-28", "2025-06-29"} {
			record := &models.DailyRecord{UserID: "user1", Date: date, DoseAmount: 1, Completed: true}
			if err := store.CreateRecord(ctx, record); err != nil {
				t.Fatalf("CreateRecord failed: %v", err)
			}
		}

		records, err := store.GetAllRecords(ctx, "user1")
		if err != nil {
			t.Fatalf("GetAllRecords failed: %v", err)
		}
		if len(records) != 3 {
			t.Fatalf("Got %d records, want 3", len(records))
		}
		for i := 1; i < len(records); i++ {
			if records[i-1].Date < records[i].Date {
				t.Errorf("Records out of order: %s before %s", records[i-1].Date, records[i].Date)
			}
		}
	})

	t.Run("GetAllRecords scopes to the user", func(t *testing.T) {
		record := &models.DailyRecord{UserID: "user2", Date: "2025-06-30", DoseAmount: 1, Completed: true}
		if err := store.CreateRecord(ctx, record); err != nil {
			t.Fatalf("CreateRecord failed: %v", err)
		}

		records, err := store.GetAllRecords(ctx, "user2")
		if err != nil {
			t.Fatalf("GetAllRecords failed: %v", err)
		}
		if len(records) != 1 {
			t.Errorf("Got %d records for user2, want 1", len(records))
		}
	})

	t.Run("DeleteRecord removes the record", func(t *testing.T) {
		got, err := store.GetRecordByDate(ctx, "user1", "2025-06-28")
		if err != nil || got == nil {
			t.Fatalf("GetRecordByDate failed: %v", err)
		}

		if err := store.DeleteRecord(ctx, got.ID); err != nil {
			t.Fatalf("DeleteRecord failed: %v", err)
		}

		gone, err := store.GetRecordByDate(ctx, "user1", "2025-06-28")
		if err != nil {
			t.Fatalf("GetRecordByDate failed: %v", err)
		}
		if gone != nil {
			t.Errorf("Record still present after delete: %+v", gone)
		}
	})

	t.Run("DeleteRecord on missing id is ErrNotFound", func(t *testing.T) {
		err := store.DeleteRecord(ctx, "no-such-id")
		if !errors.Is(err, models.ErrNotFound) {
			t.Errorf("DeleteRecord error = %v, want ErrNotFound", err)
		}
	})

	t.Run("DeleteAllRecords erases only the user's records", func(t *testing.T) {
		if err := store.DeleteAllRecords(ctx, "user1"); err != nil {
			t.Fatalf("DeleteAllRecords failed: %v", err)
		}

		records, err := store.GetAllRecords(ctx, "user1")
		if err != nil {
			t.Fatalf("GetAllRecords failed: %v", err)
		}
		if len(records) != 0 {
			t.Errorf("user1 still has %d records after erase", len(records))
		}

		others, err := store.GetAllRecords(ctx, "user2")
		if err != nil {
			t.Fatalf("GetAllRecords failed: %v", err)
		}
		if len(others) != 1 {
			t.Errorf("user2 records affected by user1 erase: got %d, want 1", len(others))
		}
	})
}

func TestSQLiteStoreSubscribe(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var snapshots [][]models.DailyRecord
	unsubscribe := store.Subscribe("user1", func(records []models.DailyRecord) {
		snapshots = append(snapshots, records)
	})

	// Initial snapshot arrives synchronously.
	if len(snapshots) != 1 {
		t.Fatalf("Got %d snapshots after Subscribe, want 1", len(snapshots))
	}
	if len(snapshots[0]) != 0 {
		t.Errorf("Initial snapshot has %d records, want 0", len(snapshots[0]))
	}

	record := &models.DailyRecord{UserID: "user1", Date: "2025-06-30", DoseAmount: 2, Completed: true}
	if err := store.CreateRecord(ctx, record); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("Got %d snapshots after create, want 2", len(snapshots))
	}
	if len(snapshots[1]) != 1 || snapshots[1][0].Date != "2025-06-30" {
		t.Errorf("Snapshot after create = %+v, want one record for 2025-06-30", snapshots[1])
	}

	// Writes for other users do not reach this subscriber.
	other := &models.DailyRecord{UserID: "user2", Date: "2025-06-30", DoseAmount: 1, Completed: true}
	if err := store.CreateRecord(ctx, other); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	if len(snapshots) != 2 {
		t.Errorf("Got %d snapshots after another user's write, want 2", len(snapshots))
	}

	completed := false
	if err := store.UpdateRecord(ctx, record.ID, models.RecordPatch{Completed: &completed}); err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}
	if len(snapshots) != 3 {
		t.Fatalf("Got %d snapshots after update, want 3", len(snapshots))
	}
	if snapshots[2][0].Completed {
		t.Error("Snapshot after update still shows completed = true")
	}

	unsubscribe()
	if err := store.DeleteRecord(ctx, record.ID); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	if len(snapshots) != 3 {
		t.Errorf("Got %d snapshots after unsubscribe, want 3", len(snapshots))
	}

	// Unsubscribing twice is harmless.
	unsubscribe()
}

func TestSQLiteStoreMultipleSubscribers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var first, second int
	unsub1 := store.Subscribe("user1", func([]models.DailyRecord) { first++ })
	unsub2 := store.Subscribe("user1", func([]models.DailyRecord) { second++ })
	defer unsub2()

	record := &models.DailyRecord{UserID: "user1", Date: "2025-06-30", DoseAmount: 1, Completed: true}
	if err := store.CreateRecord(ctx, record); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	if first != 2 || second != 2 {
		t.Errorf("Snapshot counts = (%d, %d), want (2, 2)", first, second)
	}

	unsub1()
	if err := store.DeleteAllRecords(ctx, "user1"); err != nil {
		t.Fatalf("DeleteAllRecords failed: %v", err)
	}
	if first != 2 {
		t.Errorf("Unsubscribed fn received a snapshot: count = %d, want 2", first)
	}
	if second != 3 {
		t.Errorf("Remaining subscriber count = %d, want 3", second)
	}
}
