package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/iudanet/toolsync/internal/models"
	"github.com/iudanet/toolsync/internal/resolve"
	"github.com/iudanet/toolsync/internal/server/service"
	"github.com/iudanet/toolsync/internal/snapshot"
	"github.com/iudanet/toolsync/pkg/api"
)

// DefaultRecordsLimit используется, когда limit не передан
const DefaultRecordsLimit = 50

// SyncService операции сервиса, которые использует HTTP слой
type SyncService interface {
	Sync(ctx context.Context, req service.SyncRequest) (*service.SyncResult, error)
	ListRecords(ctx context.Context, userID string, limit int, beforeID *int64) (*service.RecordPage, error)
	GetRecord(ctx context.Context, recordID int64, userID string) (*models.SyncRecord, error)
	SnapshotAtRevision(ctx context.Context, userID string, revision int64) (*models.UserSnapshot, error)
	Rollback(ctx context.Context, userID string, targetRevision int64) (*service.RollbackResult, error)
}

// SyncHandler обрабатывает запросы синхронизации, истории и отката
type SyncHandler struct {
	logger       *slog.Logger
	service      SyncService
	maxBodyBytes int64
}

// NewSyncHandler создает новый handler для синхронизации
func NewSyncHandler(logger *slog.Logger, svc SyncService) *SyncHandler {
	return &SyncHandler{
		logger:       logger,
		service:      svc,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
}

// SetMaxBodyBytes меняет ограничение на размер тела запроса
func (h *SyncHandler) SetMaxBodyBytes(n int64) {
	if n > 0 {
		h.maxBodyBytes = n
	}
}

// HandleSyncV1 обрабатывает POST /sync
// Устаревший протокол: пустота клиента определяется на сервере по tools_data.
func (h *SyncHandler) HandleSyncV1(w http.ResponseWriter, r *http.Request) {
	var req api.SyncRequestV1
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	toolsData, err := parseToolsData(req.ToolsData)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := authorizeUser(r.Context(), req.UserID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.service.Sync(r.Context(), service.SyncRequest{
		UserID:          req.UserID,
		ToolsData:       toolsData,
		ProtocolVersion: models.ProtocolV1,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := api.SyncResponseV1{
		Success:    true,
		ServerTime: result.ServerTimeMs,
		Message:    stringPtr(result.Message),
	}
	if result.Decision == resolve.UseServer {
		resp.ToolsData = snapshot.CanonicalSnapshot(result.ToolsData)
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}

// HandleSyncV2 обрабатывает POST /sync/v2
func (h *SyncHandler) HandleSyncV2(w http.ResponseWriter, r *http.Request) {
	var req api.SyncRequestV2
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if req.ProtocolVersion != models.ProtocolV2 {
		writeError(w, h.logger, badRequest("protocol_version must be %d", models.ProtocolV2))
		return
	}

	toolsData, err := parseToolsData(req.ToolsData)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := authorizeUser(r.Context(), req.UserID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.service.Sync(r.Context(), service.SyncRequest{
		UserID:             req.UserID,
		ToolsData:          toolsData,
		ClientTimeMs:       req.ClientTime,
		ClientIsEmpty:      req.ClientState.ClientIsEmpty,
		LastServerRevision: req.ClientState.LastServerRevision,
		ForceDecision:      req.ForceDecision,
		ProtocolVersion:    models.ProtocolV2,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := api.SyncResponseV2{
		Success:        true,
		Decision:       string(result.Decision),
		ServerTime:     result.ServerTimeMs,
		ServerRevision: result.ServerRevision,
		Message:        stringPtr(result.Message),
	}
	if result.Decision == resolve.UseServer {
		resp.ToolsData = snapshot.CanonicalSnapshot(result.ToolsData)
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}

// HandleListRecords обрабатывает GET /sync/records
func (h *SyncHandler) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if err := authorizeUser(r.Context(), userID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	limit := DefaultRecordsLimit
	rawLimit, err := queryInt64(r, "limit")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if rawLimit != nil {
		limit = int(*rawLimit)
	}

	beforeID, err := queryInt64(r, "before_id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	page, err := h.service.ListRecords(r.Context(), userID, limit, beforeID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := api.SyncRecordsResponse{
		Success:      true,
		NextBeforeID: page.NextBeforeID,
		Records:      make([]api.SyncRecord, 0, len(page.Records)),
	}
	for _, record := range page.Records {
		item, err := toAPIRecord(record, false)
		if err != nil {
			writeError(w, h.logger, err)
			return
		}
		resp.Records = append(resp.Records, item)
	}

	writeJSON(w, h.logger, http.StatusOK, resp)
}

// HandleGetRecord обрабатывает GET /sync/records/{id}
func (h *SyncHandler) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	recordID, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if err := authorizeUser(r.Context(), userID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	record, err := h.service.GetRecord(r.Context(), recordID, userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	item, err := toAPIRecord(record, true)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, api.SyncRecordResponse{Success: true, Record: item})
}

// HandleGetSnapshot обрабатывает GET /sync/snapshots/{revision}
func (h *SyncHandler) HandleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	revision, err := pathInt64(r, "revision")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if err := authorizeUser(r.Context(), userID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	snap, err := h.service.SnapshotAtRevision(r.Context(), userID, revision)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, api.SnapshotResponse{
		Success: true,
		Snapshot: api.Snapshot{
			UserID:         snap.UserID,
			ServerRevision: snap.ServerRevision,
			UpdatedAtMs:    snap.UpdatedAtMs,
			ToolsData:      snapshot.CanonicalSnapshot(snap.ToolsData),
		},
	})
}

// HandleRollback обрабатывает POST /sync/rollback
func (h *SyncHandler) HandleRollback(w http.ResponseWriter, r *http.Request) {
	var req api.RollbackRequest
	if err := decodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := authorizeUser(r.Context(), req.UserID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	result, err := h.service.Rollback(r.Context(), req.UserID, req.TargetRevision)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, api.RollbackResponse{
		Success:              true,
		ToolsData:            snapshot.CanonicalSnapshot(result.ToolsData),
		ServerRevision:       result.ServerRevision,
		RestoredFromRevision: result.RestoredFromRevision,
		ServerTime:           result.ServerTimeMs,
	})
}

// parseToolsData проверяет, что tools_data передан и является объектом объектов
func parseToolsData(raw json.RawMessage) (snapshot.Snapshot, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, badRequest("tools_data is required")
	}
	toolsData, err := snapshot.ParseSnapshot(raw)
	if err != nil {
		return nil, badRequest("invalid tools_data: %v", err)
	}
	return toolsData, nil
}

// toAPIRecord переводит запись аудита в wire формат.
// В списке отдается только сводка, полный diff только по id.
func toAPIRecord(record *models.SyncRecord, withDiff bool) (api.SyncRecord, error) {
	item := api.SyncRecord{
		ID:                      record.ID,
		UserID:                  record.UserID,
		ProtocolVersion:         record.ProtocolVersion,
		Decision:                record.Decision,
		ServerTimeMs:            record.ServerTimeMs,
		ClientTimeMs:            record.ClientTimeMs,
		ClientUpdatedAtMs:       record.ClientUpdatedAtMs,
		ServerUpdatedAtMsBefore: record.ServerUpdatedAtMsBefore,
		ServerUpdatedAtMsAfter:  record.ServerUpdatedAtMsAfter,
		ServerRevisionBefore:    record.ServerRevisionBefore,
		ServerRevisionAfter:     record.ServerRevisionAfter,
	}

	if !withDiff {
		item.DiffSummary = &api.DiffSummary{
			ChangedTools: record.Diff.Summary.ChangedTools,
			DiffItems:    record.Diff.Summary.DiffItems,
			Truncated:    record.Diff.Summary.Truncated,
		}
		return item, nil
	}

	raw, err := json.Marshal(record.Diff)
	if err != nil {
		return api.SyncRecord{}, err
	}
	item.Diff = raw
	return item, nil
}
