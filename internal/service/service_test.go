package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/dosetrack/internal/identity"
	"github.com/mmynk/dosetrack/internal/models"
	"github.com/mmynk/dosetrack/internal/storage/sqlite"
)

// setupTestServer starts the full Connect stack on a temp SQLite database.
func setupTestServer(t *testing.T) (url string, cleanup func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "dosetrack-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()

	store, err := sqlite.New(tmpFile.Name())
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("failed to create store: %v", err)
	}

	verifier := identity.NewVerifier("test-secret", time.Hour)
	svc := NewTrackerService(store, verifier, WithRetryDelay(time.Millisecond))

	mux := http.NewServeMux()
	svc.RegisterHandlers(mux)
	server := httptest.NewServer(mux)

	cleanup = func() {
		server.Close()
		svc.Close()
		store.Close()
		os.Remove(tmpFile.Name())
	}
	return server.URL, cleanup
}

func newClient[Req, Res any](url, procedure string) *connect.Client[Req, Res] {
	return connect.NewClient[Req, Res](http.DefaultClient, url+procedure, connect.WithCodec(jsonCodec{}))
}

// authed wraps msg in a request carrying the bearer token.
func authed[T any](msg *T, token string) *connect.Request[T] {
	req := connect.NewRequest(msg)
	req.Header().Set("Authorization", "Bearer "+token)
	return req
}

func login(t *testing.T, url, userID string) string {
	t.Helper()
	resp, err := newClient[LoginRequest, LoginResponse](url, ProcedureLogin).CallUnary(
		context.Background(), connect.NewRequest(&LoginRequest{UserID: userID}))
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.Msg.Token == "" {
		t.Fatal("Login returned empty token")
	}
	return resp.Msg.Token
}

func TestLoginRequiresUserID(t *testing.T) {
	url, cleanup := setupTestServer(t)
	defer cleanup()

	_, err := newClient[LoginRequest, LoginResponse](url, ProcedureLogin).CallUnary(
		context.Background(), connect.NewRequest(&LoginRequest{UserID: "  "}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("Login with blank user id code = %v, want invalid_argument", connect.CodeOf(err))
	}
}

func TestAuthRequired(t *testing.T) {
	url, cleanup := setupTestServer(t)
	defer cleanup()

	ctx := context.Background()
	client := newClient[GetStatsRequest, GetStatsResponse](url, ProcedureGetStats)

	_, err := client.CallUnary(ctx, connect.NewRequest(&GetStatsRequest{}))
	if connect.CodeOf(err) != connect.CodeUnauthenticated {
		t.Errorf("Missing token code = %v, want unauthenticated", connect.CodeOf(err))
	}

	_, err = client.CallUnary(ctx, authed(&GetStatsRequest{}, "garbage-token"))
	if connect.CodeOf(err) != connect.CodeUnauthenticated {
		t.Errorf("Bad token code = %v, want unauthenticated", connect.CodeOf(err))
	}
}

func TestCheckInFlow(t *testing.T) {
	url, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()
	token := login(t, url, "alice")

	today := time.Now().Format(models.DateLayout)

	// The gate is open before the first check-in.
	todayResp, err := newClient[GetTodayRequest, GetTodayResponse](url, ProcedureGetToday).CallUnary(
		ctx, authed(&GetTodayRequest{}, token))
	if err != nil {
		t.Fatalf("GetToday failed: %v", err)
	}
	if !todayResp.Msg.Today.CanCheckIn {
		t.Fatalf("GetToday = %+v, want check-in available", todayResp.Msg.Today)
	}
	if todayResp.Msg.UntilMidnight == "" {
		t.Error("GetToday returned empty countdown")
	}

	checkIn := newClient[CheckInRequest, CheckInResponse](url, ProcedureCheckIn)
	resp, err := checkIn.CallUnary(ctx, authed(&CheckInRequest{DoseAmount: 2, TimeOfDay: "09:15"}, token))
	if err != nil {
		t.Fatalf("CheckIn failed: %v", err)
	}
	if resp.Msg.Record == nil || resp.Msg.Record.Date != today || !resp.Msg.Record.Completed {
		t.Errorf("CheckIn record = %+v, want completed record for %s", resp.Msg.Record, today)
	}
	if resp.Msg.Today.State != models.CheckInCompleted {
		t.Errorf("Today state = %v after check-in, want completed", resp.Msg.Today.State)
	}

	// The once-per-day rule holds at the RPC boundary.
	_, err = checkIn.CallUnary(ctx, authed(&CheckInRequest{DoseAmount: 2, TimeOfDay: "21:00"}, token))
	if connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Errorf("Second CheckIn code = %v, want failed_precondition", connect.CodeOf(err))
	}

	statsResp, err := newClient[GetStatsRequest, GetStatsResponse](url, ProcedureGetStats).CallUnary(
		ctx, authed(&GetStatsRequest{}, token))
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if statsResp.Msg.Stats.TotalCompletedDays != 1 || statsResp.Msg.Stats.CurrentStreak != 1 {
		t.Errorf("Stats = %+v, want one completed day and streak 1", statsResp.Msg.Stats)
	}
}

func TestCheckInValidation(t *testing.T) {
	url, cleanup := setupTestServer(t)
	defer cleanup()
	token := login(t, url, "alice")

	_, err := newClient[CheckInRequest, CheckInResponse](url, ProcedureCheckIn).CallUnary(
		context.Background(), authed(&CheckInRequest{DoseAmount: 0}, token))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("CheckIn(dose=0) code = %v, want invalid_argument", connect.CodeOf(err))
	}
}

func TestRecordLifecycle(t *testing.T) {
	url, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()
	token := login(t, url, "alice")

	createResp, err := newClient[CreateRecordRequest, CreateRecordResponse](url, ProcedureCreateRecord).CallUnary(
		ctx, authed(&CreateRecordRequest{Date: "2025-06-10", DoseAmount: 2, TimeOfDay: "08:00", Completed: true}, token))
	if err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}
	record := createResp.Msg.Record
	if record == nil || record.ID == "" {
		t.Fatalf("CreateRecord returned %+v, want a record with an id", record)
	}

	dose := 4
	_, err = newClient[UpdateRecordRequest, UpdateRecordResponse](url, ProcedureUpdateRecord).CallUnary(
		ctx, authed(&UpdateRecordRequest{ID: record.ID, Patch: models.RecordPatch{DoseAmount: &dose}}, token))
	if err != nil {
		t.Fatalf("UpdateRecord failed: %v", err)
	}

	listResp, err := newClient[ListRecordsRequest, ListRecordsResponse](url, ProcedureListRecords).CallUnary(
		ctx, authed(&ListRecordsRequest{}, token))
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(listResp.Msg.State.Records) != 1 {
		t.Fatalf("ListRecords = %d records, want 1", len(listResp.Msg.State.Records))
	}
	if listResp.Msg.State.Records[0].DoseAmount != 4 {
		t.Errorf("DoseAmount = %d after update, want 4", listResp.Msg.State.Records[0].DoseAmount)
	}
	if listResp.Msg.State.SyncStatus != models.SyncSynced {
		t.Errorf("SyncStatus = %v, want synced", listResp.Msg.State.SyncStatus)
	}

	monthResp, err := newClient[GetMonthlyStatsRequest, GetMonthlyStatsResponse](url, ProcedureGetMonthlyStats).CallUnary(
		ctx, authed(&GetMonthlyStatsRequest{Year: 2025, Month: 6}, token))
	if err != nil {
		t.Fatalf("GetMonthlyStats failed: %v", err)
	}
	if monthResp.Msg.Stats.CompletedDays != 1 || monthResp.Msg.Stats.TotalDaysInMonth != 30 {
		t.Errorf("MonthlyStats = %+v, want 1 completed day of 30", monthResp.Msg.Stats)
	}
	if monthResp.Msg.Stats.BestDay == nil || monthResp.Msg.Stats.BestDay.ID != record.ID {
		t.Errorf("BestDay = %+v, want the single record", monthResp.Msg.Stats.BestDay)
	}

	_, err = newClient[DeleteRecordRequest, DeleteRecordResponse](url, ProcedureDeleteRecord).CallUnary(
		ctx, authed(&DeleteRecordRequest{ID: record.ID}, token))
	if err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}

	_, err = newClient[DeleteRecordRequest, DeleteRecordResponse](url, ProcedureDeleteRecord).CallUnary(
		ctx, authed(&DeleteRecordRequest{ID: record.ID}, token))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("Deleting a deleted record code = %v, want not_found", connect.CodeOf(err))
	}
}

func TestGetMonthlyStatsRejectsBadMonth(t *testing.T) {
	url, cleanup := setupTestServer(t)
	defer cleanup()
	token := login(t, url, "alice")

	for _, month := range []int{0, 13} {
		_, err := newClient[GetMonthlyStatsRequest, GetMonthlyStatsResponse](url, ProcedureGetMonthlyStats).CallUnary(
			context.Background(), authed(&GetMonthlyStatsRequest{Year: 2025, Month: month}, token))
		if connect.CodeOf(err) != connect.CodeInvalidArgument {
			t.Errorf("GetMonthlyStats(month=%d) code = %v, want invalid_argument", month, connect.CodeOf(err))
		}
	}
}

func TestEraseAll(t *testing.T) {
	url, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()
	token := login(t, url, "alice")

	create := newClient[CreateRecordRequest, CreateRecordResponse](url, ProcedureCreateRecord)
	for _, date := range []string{"2025-06-10", "2025-06-11"} {
		if _, err := create.CallUnary(ctx, authed(&CreateRecordRequest{Date: date, DoseAmount: 1, Completed: true}, token)); err != nil {
			t.Fatalf("CreateRecord failed: %v", err)
		}
	}

	if _, err := newClient[EraseAllRequest, EraseAllResponse](url, ProcedureEraseAll).CallUnary(
		ctx, authed(&EraseAllRequest{}, token)); err != nil {
		t.Fatalf("EraseAll failed: %v", err)
	}

	listResp, err := newClient[ListRecordsRequest, ListRecordsResponse](url, ProcedureListRecords).CallUnary(
		ctx, authed(&ListRecordsRequest{}, token))
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(listResp.Msg.State.Records) != 0 {
		t.Errorf("ListRecords = %d records after erase, want 0", len(listResp.Msg.State.Records))
	}

	statsResp, err := newClient[GetStatsRequest, GetStatsResponse](url, ProcedureGetStats).CallUnary(
		ctx, authed(&GetStatsRequest{}, token))
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if statsResp.Msg.Stats != (models.DerivedStats{}) {
		t.Errorf("Stats = %+v after erase, want zero value", statsResp.Msg.Stats)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	url, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()
	token := login(t, url, "alice")

	create := newClient[CreateRecordRequest, CreateRecordResponse](url, ProcedureCreateRecord)
	for _, date := range []string{"2025-06-10", "2025-06-11", "2025-06-12"} {
		if _, err := create.CallUnary(ctx, authed(&CreateRecordRequest{Date: date, DoseAmount: 2, Completed: true}, token)); err != nil {
			t.Fatalf("CreateRecord failed: %v", err)
		}
	}

	exportResp, err := newClient[ExportRecordsRequest, ExportRecordsResponse](url, ProcedureExportRecords).CallUnary(
		ctx, authed(&ExportRecordsRequest{}, token))
	if err != nil {
		t.Fatalf("ExportRecords failed: %v", err)
	}
	if exportResp.Msg.Count != 3 || len(exportResp.Msg.Records) != 3 {
		t.Fatalf("Export = %d records (count %d), want 3", len(exportResp.Msg.Records), exportResp.Msg.Count)
	}
	if exportResp.Msg.ExportedAt == 0 {
		t.Error("ExportedAt not set")
	}

	if _, err := newClient[EraseAllRequest, EraseAllResponse](url, ProcedureEraseAll).CallUnary(
		ctx, authed(&EraseAllRequest{}, token)); err != nil {
		t.Fatalf("EraseAll failed: %v", err)
	}

	importResp, err := newClient[ImportRecordsRequest, ImportRecordsResponse](url, ProcedureImportRecords).CallUnary(
		ctx, authed(&ImportRecordsRequest{Records: exportResp.Msg.Records}, token))
	if err != nil {
		t.Fatalf("ImportRecords failed: %v", err)
	}
	if importResp.Msg.Imported != 3 || importResp.Msg.Skipped != 0 {
		t.Errorf("Import = (%d imported, %d skipped), want (3, 0)", importResp.Msg.Imported, importResp.Msg.Skipped)
	}

	listResp, err := newClient[ListRecordsRequest, ListRecordsResponse](url, ProcedureListRecords).CallUnary(
		ctx, authed(&ListRecordsRequest{}, token))
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(listResp.Msg.State.Records) != 3 {
		t.Fatalf("Records = %d after restore, want 3", len(listResp.Msg.State.Records))
	}
	dates := make(map[string]bool)
	for _, r := range listResp.Msg.State.Records {
		dates[r.Date] = true
	}
	for _, date := range []string{"2025-06-10", "2025-06-11", "2025-06-12"} {
		if !dates[date] {
			t.Errorf("Restored ledger missing %s", date)
		}
	}
}

func TestImportRecordsRejectsMalformedEntry(t *testing.T) {
	url, cleanup := setupTestServer(t)
	defer cleanup()
	token := login(t, url, "alice")

	_, err := newClient[ImportRecordsRequest, ImportRecordsResponse](url, ProcedureImportRecords).CallUnary(
		context.Background(), authed(&ImportRecordsRequest{
			Records: []models.DailyRecord{{Date: "2025-06-10", DoseAmount: 0, Completed: true}},
		}, token))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("Import of invalid record code = %v, want invalid_argument", connect.CodeOf(err))
	}
}

func TestUserIsolation(t *testing.T) {
	url, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()

	aliceToken := login(t, url, "alice")
	bobToken := login(t, url, "bob")

	create := newClient[CreateRecordRequest, CreateRecordResponse](url, ProcedureCreateRecord)
	if _, err := create.CallUnary(ctx, authed(&CreateRecordRequest{Date: "2025-06-10", DoseAmount: 1, Completed: true}, aliceToken)); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	list := newClient[ListRecordsRequest, ListRecordsResponse](url, ProcedureListRecords)
	bobList, err := list.CallUnary(ctx, authed(&ListRecordsRequest{}, bobToken))
	if err != nil {
		t.Fatalf("ListRecords failed: %v", err)
	}
	if len(bobList.Msg.State.Records) != 0 {
		t.Errorf("bob sees %d of alice's records", len(bobList.Msg.State.Records))
	}
}

func TestLogoutEndsSession(t *testing.T) {
	url, cleanup := setupTestServer(t)
	defer cleanup()
	ctx := context.Background()
	token := login(t, url, "alice")

	if _, err := newClient[LogoutRequest, LogoutResponse](url, ProcedureLogout).CallUnary(
		ctx, authed(&LogoutRequest{}, token)); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	// The token is still cryptographically valid; a later call simply starts
	// a fresh session.
	resp, err := newClient[ListRecordsRequest, ListRecordsResponse](url, ProcedureListRecords).CallUnary(
		ctx, authed(&ListRecordsRequest{}, token))
	if err != nil {
		t.Fatalf("ListRecords after logout failed: %v", err)
	}
	if resp.Msg.State.Loading {
		t.Error("Fresh session still loading after initial snapshot")
	}
}

func TestWatchRecords(t *testing.T) {
	url, cleanup := setupTestServer(t)
	defer cleanup()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	token := login(t, url, "alice")

	watch := newClient[WatchRecordsRequest, Snapshot](url, ProcedureWatchRecords)
	stream, err := watch.CallServerStream(ctx, authed(&WatchRecordsRequest{}, token))
	if err != nil {
		t.Fatalf("WatchRecords failed: %v", err)
	}
	defer stream.Close()

	// The initial snapshot arrives before any write.
	if !stream.Receive() {
		t.Fatalf("stream closed before initial snapshot: %v", stream.Err())
	}
	if got := len(stream.Msg().Records); got != 0 {
		t.Fatalf("Initial snapshot has %d records, want 0", got)
	}

	if _, err := newClient[CreateRecordRequest, CreateRecordResponse](url, ProcedureCreateRecord).CallUnary(
		ctx, authed(&CreateRecordRequest{Date: "2025-06-10", DoseAmount: 2, Completed: true}, token)); err != nil {
		t.Fatalf("CreateRecord failed: %v", err)
	}

	if !stream.Receive() {
		t.Fatalf("stream closed before change snapshot: %v", stream.Err())
	}
	records := stream.Msg().Records
	if len(records) != 1 || records[0].Date != "2025-06-10" {
		t.Errorf("Change snapshot = %+v, want one record for 2025-06-10", records)
	}
}

func TestWatchRecordsRequiresAuth(t *testing.T) {
	url, cleanup := setupTestServer(t)
	defer cleanup()

	watch := newClient[WatchRecordsRequest, Snapshot](url, ProcedureWatchRecords)
	stream, err := watch.CallServerStream(context.Background(), connect.NewRequest(&WatchRecordsRequest{}))
	if err == nil {
		// Connect may surface the error on first receive instead.
		if stream.Receive() {
			t.Fatal("unauthenticated stream delivered a snapshot")
		}
		err = stream.Err()
		stream.Close()
	}
	if connect.CodeOf(err) != connect.CodeUnauthenticated {
		t.Errorf("WatchRecords without token code = %v, want unauthenticated", connect.CodeOf(err))
	}
}

func TestResume(t *testing.T) {
	url, cleanup := setupTestServer(t)
	defer cleanup()
	token := login(t, url, "alice")

	resp, err := newClient[ResumeRequest, ResumeResponse](url, ProcedureResume).CallUnary(
		context.Background(), authed(&ResumeRequest{}, token))
	if err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if resp.Msg.Today.Date != time.Now().Format(models.DateLayout) {
		t.Errorf("Resume date = %q, want today", resp.Msg.Today.Date)
	}
	if resp.Msg.UntilMidnight == "" {
		t.Error("Resume returned empty countdown")
	}
}
