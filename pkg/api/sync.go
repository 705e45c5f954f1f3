// Package api содержит типы запросов и ответов HTTP API сервера синхронизации.
package api

import "encoding/json"

// SyncRequestV1 представляет запрос устаревшего протокола /sync
type SyncRequestV1 struct {
	UserID    string          `json:"user_id"`
	ToolsData json.RawMessage `json:"tools_data"` // объект tool_id -> {version, data}
}

// SyncResponseV1 представляет ответ /sync
// tools_data присутствует только когда клиент должен принять данные сервера
type SyncResponseV1 struct {
	Message    *string         `json:"message"`
	ToolsData  json.RawMessage `json:"tools_data"`
	ServerTime int64           `json:"server_time"`
	Success    bool            `json:"success"`
}

// SyncClientState описывает состояние клиента в запросе v2
type SyncClientState struct {
	LastServerRevision *int64 `json:"last_server_revision"`      // последняя известная клиенту ревизия
	ClientIsEmpty      *bool  `json:"client_is_empty,omitempty"` // обязательное поле
}

// SyncRequestV2 представляет запрос /sync/v2
type SyncRequestV2 struct {
	ClientTime      *int64          `json:"client_time"`
	ClientState     SyncClientState `json:"client_state"`
	UserID          string          `json:"user_id"`
	ForceDecision   string          `json:"force_decision,omitempty"` // "", "use_client" или "use_server"
	ToolsData       json.RawMessage `json:"tools_data"`
	ProtocolVersion int             `json:"protocol_version"`
}

// SyncResponseV2 представляет ответ /sync/v2
type SyncResponseV2 struct {
	Message        *string         `json:"message"`
	ToolsData      json.RawMessage `json:"tools_data"`
	Decision       string          `json:"decision"`
	ServerTime     int64           `json:"server_time"`
	ServerRevision int64           `json:"server_revision"`
	Success        bool            `json:"success"`
}

// DiffSummary краткая сводка различий из записи аудита
type DiffSummary struct {
	ChangedTools int  `json:"changed_tools"`
	DiffItems    int  `json:"diff_items"`
	Truncated    bool `json:"truncated"`
}

// SyncRecord представляет запись аудита синхронизации
// В списке передается только diff_summary, полный diff - в детальном запросе
type SyncRecord struct {
	ClientTimeMs            *int64          `json:"client_time_ms"`
	DiffSummary             *DiffSummary    `json:"diff_summary,omitempty"`
	Diff                    json.RawMessage `json:"diff,omitempty"`
	UserID                  string          `json:"user_id"`
	Decision                string          `json:"decision"`
	ID                      int64           `json:"id"`
	ProtocolVersion         int             `json:"protocol_version"`
	ServerTimeMs            int64           `json:"server_time_ms"`
	ClientUpdatedAtMs       int64           `json:"client_updated_at_ms"`
	ServerUpdatedAtMsBefore int64           `json:"server_updated_at_ms_before"`
	ServerUpdatedAtMsAfter  int64           `json:"server_updated_at_ms_after"`
	ServerRevisionBefore    int64           `json:"server_revision_before"`
	ServerRevisionAfter     int64           `json:"server_revision_after"`
}

// SyncRecordsResponse представляет ответ GET /sync/records
type SyncRecordsResponse struct {
	NextBeforeID *int64       `json:"next_before_id"`
	Records      []SyncRecord `json:"records"`
	Success      bool         `json:"success"`
}

// SyncRecordResponse представляет ответ GET /sync/records/{id}
type SyncRecordResponse struct {
	Record  SyncRecord `json:"record"`
	Success bool       `json:"success"`
}

// Snapshot представляет снимок пользователя на определенной ревизии
type Snapshot struct {
	UserID         string          `json:"user_id"`
	ToolsData      json.RawMessage `json:"tools_data"`
	ServerRevision int64           `json:"server_revision"`
	UpdatedAtMs    int64           `json:"updated_at_ms"`
}

// SnapshotResponse представляет ответ GET /sync/snapshots/{revision}
type SnapshotResponse struct {
	Snapshot Snapshot `json:"snapshot"`
	Success  bool     `json:"success"`
}

// RollbackRequest представляет запрос POST /sync/rollback
type RollbackRequest struct {
	UserID         string `json:"user_id"`
	TargetRevision int64  `json:"target_revision"`
}

// RollbackResponse представляет ответ на откат
type RollbackResponse struct {
	ToolsData            json.RawMessage `json:"tools_data"`
	ServerRevision       int64           `json:"server_revision"`
	RestoredFromRevision int64           `json:"restored_from_revision"`
	ServerTime           int64           `json:"server_time"`
	Success              bool            `json:"success"`
}

// HealthResponse представляет ответ GET /healthz
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Message string `json:"message"`
}
