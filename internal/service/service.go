// Package service exposes the tracking engine to a UI layer over Connect.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/dosetrack/internal/dayclock"
	"github.com/mmynk/dosetrack/internal/identity"
	"github.com/mmynk/dosetrack/internal/middleware"
	"github.com/mmynk/dosetrack/internal/models"
	"github.com/mmynk/dosetrack/internal/storage"
	"github.com/mmynk/dosetrack/internal/tracker"
)

// Procedure paths for the TrackerService.
const (
	ProcedureLogin           = "/dosetrack.v1.TrackerService/Login"
	ProcedureLogout          = "/dosetrack.v1.TrackerService/Logout"
	ProcedureCheckIn         = "/dosetrack.v1.TrackerService/CheckIn"
	ProcedureGetToday        = "/dosetrack.v1.TrackerService/GetToday"
	ProcedureResume          = "/dosetrack.v1.TrackerService/Resume"
	ProcedureGetStats        = "/dosetrack.v1.TrackerService/GetStats"
	ProcedureGetMonthlyStats = "/dosetrack.v1.TrackerService/GetMonthlyStats"
	ProcedureListRecords     = "/dosetrack.v1.TrackerService/ListRecords"
	ProcedureCreateRecord    = "/dosetrack.v1.TrackerService/CreateRecord"
	ProcedureUpdateRecord    = "/dosetrack.v1.TrackerService/UpdateRecord"
	ProcedureDeleteRecord    = "/dosetrack.v1.TrackerService/DeleteRecord"
	ProcedureEraseAll        = "/dosetrack.v1.TrackerService/EraseAll"
	ProcedureExportRecords   = "/dosetrack.v1.TrackerService/ExportRecords"
	ProcedureImportRecords   = "/dosetrack.v1.TrackerService/ImportRecords"
	ProcedureRefresh         = "/dosetrack.v1.TrackerService/Refresh"
	ProcedureWatchRecords    = "/dosetrack.v1.TrackerService/WatchRecords"
)

// TrackerService serves one tracker session per authenticated user,
// created lazily on first use and torn down on logout.
type TrackerService struct {
	store      storage.Store
	verifier   *identity.Verifier
	retryDelay time.Duration
	clockOpts  []dayclock.Option

	mu       sync.Mutex
	sessions map[string]*userSession
}

// userSession bundles a user's identity lifecycle, tracker and day timer.
type userSession struct {
	session *identity.Session
	tracker *tracker.Tracker
	clock   *dayclock.Detector
	cancel  context.CancelFunc
}

// Option configures a TrackerService.
type Option func(*TrackerService)

// WithRetryDelay overrides the tracker's write retry delay.
func WithRetryDelay(d time.Duration) Option {
	return func(s *TrackerService) { s.retryDelay = d }
}

// WithClockOptions forwards options to each session's day detector.
func WithClockOptions(opts ...dayclock.Option) Option {
	return func(s *TrackerService) { s.clockOpts = opts }
}

// NewTrackerService creates the service with the given storage backend and
// token verifier.
func NewTrackerService(store storage.Store, verifier *identity.Verifier, opts ...Option) *TrackerService {
	s := &TrackerService{
		store:      store,
		verifier:   verifier,
		retryDelay: tracker.DefaultRetryDelay,
		sessions:   make(map[string]*userSession),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RegisterHandlers mounts every procedure on mux. Login skips the auth
// interceptor; everything else requires a valid bearer token.
func (s *TrackerService) RegisterHandlers(mux *http.ServeMux) {
	codec := connect.WithCodec(jsonCodec{})
	open := connect.WithOptions(codec, connect.WithInterceptors(middleware.LoggingInterceptor()))
	authed := connect.WithOptions(codec, connect.WithInterceptors(
		middleware.RequireAuth(s.verifier),
		middleware.LoggingInterceptor(),
	))

	mux.Handle(ProcedureLogin, connect.NewUnaryHandler(ProcedureLogin, s.Login, open))
	mux.Handle(ProcedureLogout, connect.NewUnaryHandler(ProcedureLogout, s.Logout, authed))
	mux.Handle(ProcedureCheckIn, connect.NewUnaryHandler(ProcedureCheckIn, s.CheckIn, authed))
	mux.Handle(ProcedureGetToday, connect.NewUnaryHandler(ProcedureGetToday, s.GetToday, authed))
	mux.Handle(ProcedureResume, connect.NewUnaryHandler(ProcedureResume, s.Resume, authed))
	mux.Handle(ProcedureGetStats, connect.NewUnaryHandler(ProcedureGetStats, s.GetStats, authed))
	mux.Handle(ProcedureGetMonthlyStats, connect.NewUnaryHandler(ProcedureGetMonthlyStats, s.GetMonthlyStats, authed))
	mux.Handle(ProcedureListRecords, connect.NewUnaryHandler(ProcedureListRecords, s.ListRecords, authed))
	mux.Handle(ProcedureCreateRecord, connect.NewUnaryHandler(ProcedureCreateRecord, s.CreateRecord, authed))
	mux.Handle(ProcedureUpdateRecord, connect.NewUnaryHandler(ProcedureUpdateRecord, s.UpdateRecord, authed))
	mux.Handle(ProcedureDeleteRecord, connect.NewUnaryHandler(ProcedureDeleteRecord, s.DeleteRecord, authed))
	mux.Handle(ProcedureEraseAll, connect.NewUnaryHandler(ProcedureEraseAll, s.EraseAll, authed))
	mux.Handle(ProcedureExportRecords, connect.NewUnaryHandler(ProcedureExportRecords, s.ExportRecords, authed))
	mux.Handle(ProcedureImportRecords, connect.NewUnaryHandler(ProcedureImportRecords, s.ImportRecords, authed))
	mux.Handle(ProcedureRefresh, connect.NewUnaryHandler(ProcedureRefresh, s.Refresh, authed))
	mux.Handle(ProcedureWatchRecords, connect.NewServerStreamHandler(ProcedureWatchRecords, s.WatchRecords, codec))
}

// sessionFor returns the user's live session, creating and starting one on
// first use.
func (s *TrackerService) sessionFor(userID string) *userSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if us, ok := s.sessions[userID]; ok {
		return us
	}

	clock := dayclock.New(s.clockOpts...)
	tr := tracker.New(s.store, clock, tracker.WithRetryDelay(s.retryDelay))
	sess := identity.NewSession()
	tr.Bind(sess)

	ctx, cancel := context.WithCancel(context.Background())
	go clock.Run(ctx)

	us := &userSession{session: sess, tracker: tr, clock: clock, cancel: cancel}
	s.sessions[userID] = us
	sess.Login(userID)
	return us
}

// endSession tears down a user's session: subscription, timer, cache.
func (s *TrackerService) endSession(userID string) {
	s.mu.Lock()
	us, ok := s.sessions[userID]
	delete(s.sessions, userID)
	s.mu.Unlock()
	if !ok {
		return
	}
	us.session.Logout()
	us.cancel()
	slog.Info("session ended", "user_id", userID)
}

// Close tears down every live session. Called on server shutdown.
func (s *TrackerService) Close() {
	s.mu.Lock()
	users := make([]string, 0, len(s.sessions))
	for userID := range s.sessions {
		users = append(users, userID)
	}
	s.mu.Unlock()
	for _, userID := range users {
		s.endSession(userID)
	}
}

// Login issues a bearer token for an externally established identity.
func (s *TrackerService) Login(ctx context.Context, req *connect.Request[LoginRequest]) (*connect.Response[LoginResponse], error) {
	userID := strings.TrimSpace(req.Msg.UserID)
	if userID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("user id required"))
	}
	token, err := s.verifier.Generate(userID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	s.sessionFor(userID)
	return connect.NewResponse(&LoginResponse{Token: token}), nil
}

// Logout ends the caller's session, releasing its subscription and timer.
func (s *TrackerService) Logout(ctx context.Context, req *connect.Request[LogoutRequest]) (*connect.Response[LogoutResponse], error) {
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		return nil, connect.NewError(connect.CodeUnauthenticated, fmt.Errorf("authentication required"))
	}
	s.endSession(userID)
	return connect.NewResponse(&LogoutResponse{}), nil
}

// CheckIn records today's dose through the gate.
func (s *TrackerService) CheckIn(ctx context.Context, req *connect.Request[CheckInRequest]) (*connect.Response[CheckInResponse], error) {
	us, err := s.callerSession(ctx)
	if err != nil {
		return nil, err
	}
	record, err := us.tracker.CheckIn(ctx, req.Msg.DoseAmount, req.Msg.TimeOfDay, req.Msg.Notes)
	if err != nil {
		return nil, rpcError(err)
	}
	return connect.NewResponse(&CheckInResponse{
		Record: record,
		Today:  us.tracker.TodayContext(),
	}), nil
}

// GetToday returns the gate's current view of the day.
func (s *TrackerService) GetToday(ctx context.Context, req *connect.Request[GetTodayRequest]) (*connect.Response[GetTodayResponse], error) {
	us, err := s.callerSession(ctx)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&GetTodayResponse{
		Today:         us.tracker.TodayContext(),
		UntilMidnight: dayclock.FormatCountdown(us.clock.TimeUntilMidnight()),
	}), nil
}

// Resume is the app-foreground hook: it forces an immediate day-boundary
// check before answering, catching rollovers the interval timer slept
// through.
func (s *TrackerService) Resume(ctx context.Context, req *connect.Request[ResumeRequest]) (*connect.Response[ResumeResponse], error) {
	us, err := s.callerSession(ctx)
	if err != nil {
		return nil, err
	}
	us.clock.Resume()
	return connect.NewResponse(&ResumeResponse{
		Today:         us.tracker.TodayContext(),
		UntilMidnight: dayclock.FormatCountdown(us.clock.TimeUntilMidnight()),
	}), nil
}

// GetStats returns the full derived aggregates.
func (s *TrackerService) GetStats(ctx context.Context, req *connect.Request[GetStatsRequest]) (*connect.Response[GetStatsResponse], error) {
	us, err := s.callerSession(ctx)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&GetStatsResponse{Stats: us.tracker.Stats()}), nil
}

// GetMonthlyStats returns period aggregates for one calendar month.
func (s *TrackerService) GetMonthlyStats(ctx context.Context, req *connect.Request[GetMonthlyStatsRequest]) (*connect.Response[GetMonthlyStatsResponse], error) {
	us, err := s.callerSession(ctx)
	if err != nil {
		return nil, err
	}
	if req.Msg.Month < 1 || req.Msg.Month > 12 {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("month must be 1-12, got %d", req.Msg.Month))
	}
	stats := us.tracker.MonthlyStats(req.Msg.Year, time.Month(req.Msg.Month))
	return connect.NewResponse(&GetMonthlyStatsResponse{Stats: stats}), nil
}

// ListRecords returns the reactive cache state.
func (s *TrackerService) ListRecords(ctx context.Context, req *connect.Request[ListRecordsRequest]) (*connect.Response[ListRecordsResponse], error) {
	us, err := s.callerSession(ctx)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(&ListRecordsResponse{State: us.tracker.State()}), nil
}

// CreateRecord persists a record for an arbitrary date (e.g. backfill).
func (s *TrackerService) CreateRecord(ctx context.Context, req *connect.Request[CreateRecordRequest]) (*connect.Response[CreateRecordResponse], error) {
	us, err := s.callerSession(ctx)
	if err != nil {
		return nil, err
	}
	record, err := us.tracker.CreateRecord(ctx, models.DailyRecord{
		Date:       req.Msg.Date,
		DoseAmount: req.Msg.DoseAmount,
		TimeOfDay:  req.Msg.TimeOfDay,
		Notes:      req.Msg.Notes,
		Completed:  req.Msg.Completed,
	})
	if err != nil {
		return nil, rpcError(err)
	}
	return connect.NewResponse(&CreateRecordResponse{Record: record}), nil
}

// UpdateRecord applies a partial update to an existing record.
func (s *TrackerService) UpdateRecord(ctx context.Context, req *connect.Request[UpdateRecordRequest]) (*connect.Response[UpdateRecordResponse], error) {
	us, err := s.callerSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := us.tracker.UpdateRecord(ctx, req.Msg.ID, req.Msg.Patch); err != nil {
		return nil, rpcError(err)
	}
	return connect.NewResponse(&UpdateRecordResponse{}), nil
}

// DeleteRecord removes a single record.
func (s *TrackerService) DeleteRecord(ctx context.Context, req *connect.Request[DeleteRecordRequest]) (*connect.Response[DeleteRecordResponse], error) {
	us, err := s.callerSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := us.tracker.DeleteRecord(ctx, req.Msg.ID); err != nil {
		return nil, rpcError(err)
	}
	return connect.NewResponse(&DeleteRecordResponse{}), nil
}

// EraseAll bulk-deletes the caller's entire record set.
func (s *TrackerService) EraseAll(ctx context.Context, req *connect.Request[EraseAllRequest]) (*connect.Response[EraseAllResponse], error) {
	us, err := s.callerSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := us.tracker.EraseAll(ctx); err != nil {
		return nil, rpcError(err)
	}
	return connect.NewResponse(&EraseAllResponse{}), nil
}

// ExportRecords returns the caller's full ledger as a portable backup.
func (s *TrackerService) ExportRecords(ctx context.Context, req *connect.Request[ExportRecordsRequest]) (*connect.Response[ExportRecordsResponse], error) {
	us, err := s.callerSession(ctx)
	if err != nil {
		return nil, err
	}
	records := us.tracker.State().Records
	return connect.NewResponse(&ExportRecordsResponse{
		Records:    records,
		Count:      len(records),
		ExportedAt: time.Now().Unix(),
	}), nil
}

// ImportRecords replays an exported ledger into the caller's account.
func (s *TrackerService) ImportRecords(ctx context.Context, req *connect.Request[ImportRecordsRequest]) (*connect.Response[ImportRecordsResponse], error) {
	us, err := s.callerSession(ctx)
	if err != nil {
		return nil, err
	}
	imported, skipped, err := us.tracker.ImportRecords(ctx, req.Msg.Records, req.Msg.Replace)
	if err != nil {
		return nil, rpcError(err)
	}
	return connect.NewResponse(&ImportRecordsResponse{Imported: imported, Skipped: skipped}), nil
}

// Refresh forces a full re-fetch, the manual recovery path after an error.
func (s *TrackerService) Refresh(ctx context.Context, req *connect.Request[RefreshRequest]) (*connect.Response[RefreshResponse], error) {
	us, err := s.callerSession(ctx)
	if err != nil {
		return nil, err
	}
	if err := us.tracker.Refresh(ctx); err != nil {
		return nil, rpcError(err)
	}
	return connect.NewResponse(&RefreshResponse{State: us.tracker.State()}), nil
}

// WatchRecords streams full snapshots to the client: the initial record set
// immediately, then one message per change. Unary interceptors do not run
// for streams, so the bearer token is validated here.
func (s *TrackerService) WatchRecords(ctx context.Context, req *connect.Request[WatchRecordsRequest], stream *connect.ServerStream[Snapshot]) error {
	userID, err := s.verifyHeader(req.Header().Get("Authorization"))
	if err != nil {
		return connect.NewError(connect.CodeUnauthenticated, err)
	}
	slog.Info("record watch started", "user_id", userID)
	defer slog.Info("record watch ended", "user_id", userID)

	// Buffered relay from the subscription goroutine. When the client is
	// slow the oldest pending snapshot is dropped: each one is a full
	// replacement, so only the latest matters.
	updates := make(chan []models.DailyRecord, 1)
	push := func(records []models.DailyRecord) {
		for {
			select {
			case updates <- records:
				return
			default:
				select {
				case <-updates:
				default:
				}
			}
		}
	}
	unsubscribe := s.store.Subscribe(userID, push)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case records := <-updates:
			if err := stream.Send(&Snapshot{Records: records}); err != nil {
				return err
			}
		}
	}
}

// callerSession resolves the authenticated caller's live session.
func (s *TrackerService) callerSession(ctx context.Context) (*userSession, error) {
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		return nil, connect.NewError(connect.CodeUnauthenticated, fmt.Errorf("authentication required"))
	}
	return s.sessionFor(userID), nil
}

func (s *TrackerService) verifyHeader(authHeader string) (string, error) {
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", identity.ErrMissingToken
	}
	claims, err := s.verifier.Validate(parts[1])
	if err != nil {
		return "", err
	}
	return claims.UserID, nil
}

// rpcError maps the engine's error taxonomy onto Connect codes.
func rpcError(err error) error {
	switch {
	case errors.Is(err, models.ErrValidation):
		return connect.NewError(connect.CodeInvalidArgument, err)
	case errors.Is(err, models.ErrNotFound):
		return connect.NewError(connect.CodeNotFound, err)
	case errors.Is(err, models.ErrAlreadyCheckedIn):
		return connect.NewError(connect.CodeFailedPrecondition,
			fmt.Errorf("%w: your next check-in opens after midnight", err))
	case errors.Is(err, models.ErrCheckInPending):
		return connect.NewError(connect.CodeFailedPrecondition, err)
	case errors.Is(err, models.ErrNoUser):
		return connect.NewError(connect.CodeUnauthenticated, err)
	case errors.Is(err, models.ErrWrite):
		return connect.NewError(connect.CodeUnavailable,
			fmt.Errorf("%w: your data was not saved, check your connection and try again", err))
	default:
		return connect.NewError(connect.CodeInternal, err)
	}
}
