// Package service orchestrates snapshot synchronization: it classifies both
// sides, asks the decision engine for a direction, persists accepted writes
// and appends the audit trail.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/iudanet/toolsync/internal/diff"
	"github.com/iudanet/toolsync/internal/models"
	"github.com/iudanet/toolsync/internal/resolve"
	"github.com/iudanet/toolsync/internal/server/storage"
	"github.com/iudanet/toolsync/internal/snapshot"
	"github.com/iudanet/toolsync/internal/validation"
)

// ErrInvalidInput is returned for requests rejected before touching storage.
var ErrInvalidInput = errors.New("invalid input")

// Response messages.
const (
	MessageClientNewer = "client newer than server"
	MessageServerNewer = "server newer than client"
	MessageNoChanges   = "no changes"
	MessageForced      = "decision forced by operator"
)

// Store is the persistence the service depends on.
type Store interface {
	storage.SnapshotStorage
	storage.RecordStorage
}

// SyncRequest is one sync call.
type SyncRequest struct {
	ToolsData snapshot.Snapshot
	// ClientTimeMs is the device wall clock; v1 calls never carry it.
	ClientTimeMs *int64
	// ClientIsEmpty is the client's own emptiness verdict. Required for v2,
	// ignored for v1 where it is derived from ToolsData.
	ClientIsEmpty *bool
	// LastServerRevision is informational and only logged.
	LastServerRevision *int64
	UserID             string
	// ForceDecision is "", "use_client" or "use_server".
	ForceDecision   string
	ProtocolVersion int
}

// SyncResult is the outcome of Sync. ToolsData is set only for use_server.
type SyncResult struct {
	ToolsData      snapshot.Snapshot
	Decision       resolve.Decision
	Message        string
	ServerTimeMs   int64
	ServerRevision int64
	// RecordID is the audit record id, 0 when nothing was recorded.
	RecordID int64
}

// RecordPage is one page of the audit log.
type RecordPage struct {
	// NextBeforeID is set when the page is full and more records may follow.
	NextBeforeID *int64
	Records      []*models.SyncRecord
}

// RollbackResult is the outcome of Rollback.
type RollbackResult struct {
	ToolsData            snapshot.Snapshot
	ServerRevision       int64
	RestoredFromRevision int64
	ServerTimeMs         int64
	RecordID             int64
}

// SyncService implements sync, history and rollback on top of a Store.
type SyncService struct {
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	diffOpts []diff.Option
}

// Option configures SyncService.
type Option func(*SyncService)

// WithClock replaces the wall clock, used for server_time_ms and rollback
// timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *SyncService) { s.now = now }
}

// WithDiffOptions sets the limits of the audit diff.
func WithDiffOptions(opts ...diff.Option) Option {
	return func(s *SyncService) { s.diffOpts = opts }
}

// NewSyncService creates a new sync service
func NewSyncService(logger *slog.Logger, store Store, opts ...Option) *SyncService {
	s := &SyncService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// syncState собирает всё, что известно о вызове после классификации.
type syncState struct {
	current           *models.UserSnapshot
	client            snapshot.Snapshot
	clientTimeMs      *int64
	userID            string
	mode              resolve.Mode
	protocol          int
	serverTimeMs      int64
	clientUpdatedAtMs int64
}

// syncAttempts bounds how many times Sync and Rollback decide again after
// another write changed the live revision before theirs was committed.
const syncAttempts = 8

// Sync runs one sync call: validate, classify, decide, then persist and
// audit according to the decision.
func (s *SyncService) Sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	st, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	clientEmpty := snapshot.IsAllToolsEmpty(st.client)
	if req.ProtocolVersion == models.ProtocolV2 {
		clientEmpty = *req.ClientIsEmpty
	}

	for attempt := 1; ; attempt++ {
		result, err := s.syncOnce(ctx, st, clientEmpty, req.LastServerRevision)
		if !errors.Is(err, storage.ErrRevisionConflict) || attempt == syncAttempts {
			return result, err
		}
		s.logger.Info("Snapshot changed while syncing, deciding again",
			"user_id", st.userID,
			"attempt", attempt,
		)
	}
}

// syncOnce читает текущий снимок, принимает решение и исполняет его.
func (s *SyncService) syncOnce(ctx context.Context, st *syncState, clientEmpty bool, lastServerRevision *int64) (*SyncResult, error) {
	current, err := s.store.GetCurrent(ctx, st.userID)
	switch {
	case errors.Is(err, storage.ErrSnapshotNotFound):
		current = nil
	case err != nil:
		return nil, fmt.Errorf("failed to load current snapshot: %w", err)
	}
	st.current = current

	in := resolve.Input{
		ClientEmpty:       clientEmpty,
		ClientUpdatedAtMs: st.clientUpdatedAtMs,
		ServerHasSnapshot: current != nil,
		ServerEmpty:       true,
	}
	if current != nil {
		in.ServerEmpty = snapshot.IsAllToolsEmpty(current.ToolsData)
		in.ServerUpdatedAtMs = current.UpdatedAtMs
	}

	decision := resolve.Apply(st.mode, in)

	s.logger.Info("Sync decided",
		"user_id", st.userID,
		"protocol_version", st.protocol,
		"mode", st.mode.String(),
		"decision", string(decision),
		"client_empty", in.ClientEmpty,
		"client_updated_at_ms", in.ClientUpdatedAtMs,
		"server_has_snapshot", in.ServerHasSnapshot,
		"server_empty", in.ServerEmpty,
		"server_updated_at_ms", in.ServerUpdatedAtMs,
		"last_server_revision", derefOrNil(lastServerRevision),
	)

	switch decision {
	case resolve.UseClient:
		return s.acceptClient(ctx, st)
	case resolve.UseServer:
		return s.serveServer(ctx, st)
	default:
		result := &SyncResult{
			Decision:     resolve.Noop,
			Message:      MessageNoChanges,
			ServerTimeMs: st.serverTimeMs,
		}
		if current != nil {
			result.ServerRevision = current.ServerRevision
		}
		return result, nil
	}
}

func (s *SyncService) prepare(req SyncRequest) (*syncState, error) {
	userID, err := validation.NormalizeUserID(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	switch req.ProtocolVersion {
	case models.ProtocolV1, models.ProtocolV2:
	default:
		return nil, fmt.Errorf("%w: unsupported protocol_version %d", ErrInvalidInput, req.ProtocolVersion)
	}

	if req.ProtocolVersion == models.ProtocolV2 && req.ClientIsEmpty == nil {
		return nil, fmt.Errorf("%w: client_state.client_is_empty is required", ErrInvalidInput)
	}

	mode, err := resolve.ParseMode(req.ForceDecision)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	client := req.ToolsData
	if client == nil {
		client = snapshot.Snapshot{}
	}

	st := &syncState{
		client:            client,
		userID:            userID,
		mode:              mode,
		protocol:          req.ProtocolVersion,
		serverTimeMs:      s.nowMs(),
		clientUpdatedAtMs: snapshot.LatestTimestamp(client),
	}
	// v1 не передаёт время клиента
	if req.ProtocolVersion == models.ProtocolV2 {
		st.clientTimeMs = req.ClientTimeMs
	}

	return st, nil
}

// acceptClient сохраняет снимок клиента как новую ревизию вместе с записью
// аудита. Если с момента чтения ревизия изменилась, Save вернёт
// ErrRevisionConflict.
func (s *SyncService) acceptClient(ctx context.Context, st *syncState) (*SyncResult, error) {
	var (
		serverData snapshot.Snapshot
		expected   int64
	)
	if st.current != nil {
		serverData = st.current.ToolsData
		expected = st.current.ServerRevision
	}

	changes := diff.Compute(serverData, st.client, s.diffOpts...)

	record := &models.SyncRecord{
		UserID:            st.userID,
		ProtocolVersion:   st.protocol,
		Decision:          models.DecisionUseClient,
		ServerTimeMs:      st.serverTimeMs,
		ClientTimeMs:      st.clientTimeMs,
		ClientUpdatedAtMs: st.clientUpdatedAtMs,
		Diff:              changes,
	}

	revision, err := s.store.Save(ctx, storage.SaveParams{
		UserID:           st.userID,
		ToolsData:        st.client,
		UpdatedAtMs:      st.clientUpdatedAtMs,
		ServerTimeMs:     st.serverTimeMs,
		ClientTimeMs:     st.clientTimeMs,
		ExpectedRevision: &expected,
		Record:           record,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save client snapshot: %w", err)
	}

	s.logger.Info("Client snapshot saved",
		"user_id", st.userID,
		"server_revision", revision,
		"changed_tools", changes.Summary.ChangedTools,
	)

	return &SyncResult{
		Decision:       resolve.UseClient,
		Message:        s.message(st.mode, MessageClientNewer),
		ServerTimeMs:   st.serverTimeMs,
		ServerRevision: revision,
		RecordID:       record.ID,
	}, nil
}

// serveServer отдаёт клиенту снимок сервера; состояние хранилища не меняется.
// Без снимка на сервере отдавать нечего, даже если решение навязано.
func (s *SyncService) serveServer(ctx context.Context, st *syncState) (*SyncResult, error) {
	if st.current == nil {
		return nil, fmt.Errorf("%w: user %q has nothing to serve", storage.ErrSnapshotNotFound, st.userID)
	}
	current := st.current

	changes := diff.Compute(current.ToolsData, st.client, s.diffOpts...)

	recordID, err := s.store.AppendSyncRecord(ctx, &models.SyncRecord{
		UserID:                  st.userID,
		ProtocolVersion:         st.protocol,
		Decision:                models.DecisionUseServer,
		ServerTimeMs:            st.serverTimeMs,
		ClientTimeMs:            st.clientTimeMs,
		ClientUpdatedAtMs:       st.clientUpdatedAtMs,
		ServerUpdatedAtMsBefore: current.UpdatedAtMs,
		ServerUpdatedAtMsAfter:  current.UpdatedAtMs,
		ServerRevisionBefore:    current.ServerRevision,
		ServerRevisionAfter:     current.ServerRevision,
		Diff:                    changes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append sync record: %w", err)
	}

	return &SyncResult{
		ToolsData:      current.ToolsData,
		Decision:       resolve.UseServer,
		Message:        s.message(st.mode, MessageServerNewer),
		ServerTimeMs:   st.serverTimeMs,
		ServerRevision: current.ServerRevision,
		RecordID:       recordID,
	}, nil
}

// ListRecords returns one page of the user's audit log, newest first.
func (s *SyncService) ListRecords(ctx context.Context, userID string, limit int, beforeID *int64) (*RecordPage, error) {
	userID, err := validation.NormalizeUserID(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	limit = storage.ClampLimit(limit)
	records, err := s.store.ListSyncRecords(ctx, userID, limit, beforeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync records: %w", err)
	}

	page := &RecordPage{Records: records}
	if len(records) == limit {
		next := records[len(records)-1].ID
		page.NextBeforeID = &next
	}

	return page, nil
}

// GetRecord returns a single audit record owned by userID. Records of other
// users are reported as not found.
func (s *SyncService) GetRecord(ctx context.Context, recordID int64, userID string) (*models.SyncRecord, error) {
	userID, err := validation.NormalizeUserID(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if recordID <= 0 {
		return nil, fmt.Errorf("%w: record id must be positive", ErrInvalidInput)
	}

	record, err := s.store.GetSyncRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if record.UserID != userID {
		return nil, storage.ErrRecordNotFound
	}

	return record, nil
}

// SnapshotAtRevision returns the stored snapshot of a user at a revision.
func (s *SyncService) SnapshotAtRevision(ctx context.Context, userID string, revision int64) (*models.UserSnapshot, error) {
	userID, err := validation.NormalizeUserID(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := validation.ValidateRevision(revision); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	return s.store.GetAtRevision(ctx, userID, revision)
}

// Rollback restores targetRevision as a new revision. The restored snapshot
// gets updated_at_ms = max(target.updated_at_ms, now) so that later syncs
// treat it as the newest state.
func (s *SyncService) Rollback(ctx context.Context, userID string, targetRevision int64) (*RollbackResult, error) {
	userID, err := validation.NormalizeUserID(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if err := validation.ValidateRevision(targetRevision); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	target, err := s.store.GetAtRevision(ctx, userID, targetRevision)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		result, err := s.rollbackOnce(ctx, userID, target)
		if !errors.Is(err, storage.ErrRevisionConflict) || attempt == syncAttempts {
			return result, err
		}
		s.logger.Info("Snapshot changed during rollback, retrying",
			"user_id", userID,
			"attempt", attempt,
		)
	}
}

func (s *SyncService) rollbackOnce(ctx context.Context, userID string, target *models.UserSnapshot) (*RollbackResult, error) {
	var (
		serverData snapshot.Snapshot
		expected   int64
	)
	current, err := s.store.GetCurrent(ctx, userID)
	switch {
	case err == nil:
		serverData = current.ToolsData
		expected = current.ServerRevision
	case !errors.Is(err, storage.ErrSnapshotNotFound):
		return nil, fmt.Errorf("failed to load current snapshot: %w", err)
	}

	nowMs := s.nowMs()
	effectiveUpdatedAtMs := max(target.UpdatedAtMs, nowMs)

	record := &models.SyncRecord{
		UserID:            userID,
		ProtocolVersion:   models.ProtocolV2,
		Decision:          models.DecisionRollback,
		ServerTimeMs:      nowMs,
		ClientUpdatedAtMs: effectiveUpdatedAtMs,
		Diff:              diff.Compute(serverData, target.ToolsData, s.diffOpts...),
	}

	revision, err := s.store.Save(ctx, storage.SaveParams{
		UserID:           userID,
		ToolsData:        target.ToolsData,
		UpdatedAtMs:      effectiveUpdatedAtMs,
		ServerTimeMs:     nowMs,
		ExpectedRevision: &expected,
		Record:           record,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save rollback snapshot: %w", err)
	}

	s.logger.Info("Snapshot rolled back",
		"user_id", userID,
		"restored_from_revision", target.ServerRevision,
		"server_revision", revision,
	)

	return &RollbackResult{
		ToolsData:            target.ToolsData,
		ServerRevision:       revision,
		RestoredFromRevision: target.ServerRevision,
		ServerTimeMs:         nowMs,
		RecordID:             record.ID,
	}, nil
}

func (s *SyncService) nowMs() int64 {
	return s.now().UnixMilli()
}

func (s *SyncService) message(mode resolve.Mode, natural string) string {
	if mode != resolve.ModeNatural {
		return MessageForced
	}
	return natural
}

func derefOrNil(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
