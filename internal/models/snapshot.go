package models

import (
	"github.com/iudanet/toolsync/internal/diff"
	"github.com/iudanet/toolsync/internal/snapshot"
)

// Protocol versions of the sync endpoint.
const (
	ProtocolV1 = 1
	ProtocolV2 = 2
)

// Decisions stored in the audit log.
const (
	DecisionUseClient = "use_client"
	DecisionUseServer = "use_server"
	DecisionRollback  = "rollback"
)

// UserSnapshot is the state of one user at a given revision: either the live
// row or an immutable history entry.
type UserSnapshot struct {
	ToolsData      snapshot.Snapshot `json:"tools_data"`
	ClientTimeMs   *int64            `json:"client_time_ms,omitempty"`
	UserID         string            `json:"user_id"`
	ServerRevision int64             `json:"server_revision"`
	UpdatedAtMs    int64             `json:"updated_at_ms"`
	ServerTimeMs   int64             `json:"server_time_ms"`
}

// SyncRecord is one row of the append-only audit log. Only state-changing
// decisions are recorded.
type SyncRecord struct {
	ClientTimeMs            *int64      `json:"client_time_ms"`
	Diff                    diff.Result `json:"diff"`
	UserID                  string      `json:"user_id"`
	Decision                string      `json:"decision"`
	ID                      int64       `json:"id"`
	ProtocolVersion         int         `json:"protocol_version"`
	ServerTimeMs            int64       `json:"server_time_ms"`
	ClientUpdatedAtMs       int64       `json:"client_updated_at_ms"`
	ServerUpdatedAtMsBefore int64       `json:"server_updated_at_ms_before"`
	ServerUpdatedAtMsAfter  int64       `json:"server_updated_at_ms_after"`
	ServerRevisionBefore    int64       `json:"server_revision_before"`
	ServerRevisionAfter     int64       `json:"server_revision_after"`
}
