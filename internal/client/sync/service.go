package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	httpClient "github.com/iudanet/toolsync/internal/client/api"
	"github.com/iudanet/toolsync/internal/client/storage"
	"github.com/iudanet/toolsync/internal/resolve"
	"github.com/iudanet/toolsync/internal/snapshot"
	"github.com/iudanet/toolsync/internal/validation"
	"github.com/iudanet/toolsync/pkg/api"
)

// Service определяет интерфейс для sync.Service
type Service interface {
	// Sync отправляет локальный снимок на сервер и возвращает решение
	Sync(ctx context.Context, params SyncParams) (*SyncResult, error)

	// Status возвращает сохраненное состояние последней синхронизации
	Status(ctx context.Context, userID string) (*storage.SyncState, error)
}

// SyncParams описывает один запуск синхронизации
type SyncParams struct {
	UserID      string
	AccessToken string
	Force       string // "", "use_client" или "use_server"
	ToolsData   []byte
}

// SyncResult contains sync operation results
type SyncResult struct {
	Message        string
	Decision       resolve.Decision
	ToolsData      []byte // снимок сервера, только для use_server
	ServerRevision int64
	ServerTimeMs   int64
	ClientIsEmpty  bool
}

// service handles synchronization between client and server
type service struct {
	apiClient    httpClient.ClientAPI
	stateStorage storage.StateStorage
	logger       *slog.Logger
	now          func() time.Time
}

// NewService creates a new sync service
func NewService(apiClient httpClient.ClientAPI, stateStorage storage.StateStorage, logger *slog.Logger) Service {
	return &service{
		apiClient:    apiClient,
		stateStorage: stateStorage,
		logger:       logger,
		now:          time.Now,
	}
}

// Sync performs one whole-snapshot synchronization:
// 1. classifies the local snapshot as empty or not
// 2. sends it to /sync/v2 with the last known server revision
// 3. remembers the new revision and caches the server snapshot
func (s *service) Sync(ctx context.Context, params SyncParams) (*SyncResult, error) {
	userID, err := validation.NormalizeUserID(params.UserID)
	if err != nil {
		return nil, err
	}

	if _, err := resolve.ParseMode(params.Force); err != nil {
		return nil, err
	}

	local, err := snapshot.ParseSnapshot(params.ToolsData)
	if err != nil {
		return nil, fmt.Errorf("invalid local snapshot: %w", err)
	}
	clientEmpty := snapshot.IsAllToolsEmpty(local)

	var lastRevision *int64
	state, err := s.stateStorage.GetSyncState(ctx, userID)
	switch {
	case err == nil:
		lastRevision = &state.LastServerRevision
	case errors.Is(err, storage.ErrStateNotFound):
	default:
		s.logger.Warn("Failed to read sync state, syncing without it", "error", err)
	}

	s.logger.Info("Starting synchronization",
		"user_id", userID,
		"client_empty", clientEmpty,
		"force", params.Force,
	)

	payload := snapshot.CanonicalSnapshot(local)
	clientTime := s.now().UnixMilli()
	resp, err := s.apiClient.SyncV2(ctx, params.AccessToken, api.SyncRequestV2{
		UserID:          userID,
		ProtocolVersion: 2,
		ClientTime:      &clientTime,
		ClientState: api.SyncClientState{
			LastServerRevision: lastRevision,
			ClientIsEmpty:      &clientEmpty,
		},
		ForceDecision: params.Force,
		ToolsData:     payload,
	})
	if err != nil {
		return nil, err
	}

	result := &SyncResult{
		Decision:       resolve.Decision(resp.Decision),
		ServerRevision: resp.ServerRevision,
		ServerTimeMs:   resp.ServerTime,
		ClientIsEmpty:  clientEmpty,
	}
	if resp.Message != nil {
		result.Message = *resp.Message
	}

	switch result.Decision {
	case resolve.UseServer:
		// ревизия 0 значит, что на сервере нет снимка, и файл затирать нечем
		if resp.ServerRevision < 1 {
			return nil, fmt.Errorf("server chose use_server without a stored revision")
		}
		if len(resp.ToolsData) == 0 {
			return nil, fmt.Errorf("server chose use_server but sent no tools_data")
		}
		serverSnap, err := snapshot.ParseSnapshot(resp.ToolsData)
		if err != nil {
			return nil, fmt.Errorf("invalid server snapshot: %w", err)
		}
		result.ToolsData = snapshot.CanonicalSnapshot(serverSnap)
		s.cacheSnapshot(ctx, userID, result.ToolsData, resp.ServerRevision)
	case resolve.UseClient:
		// сервер теперь хранит ровно наш снимок
		s.cacheSnapshot(ctx, userID, payload, resp.ServerRevision)
	}

	err = s.stateStorage.SaveSyncState(ctx, userID, storage.SyncState{
		LastServerRevision: resp.ServerRevision,
		LastServerTimeMs:   resp.ServerTime,
		LastSyncedAtMs:     s.now().UnixMilli(),
		LastDecision:       resp.Decision,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save sync state: %w", err)
	}

	s.logger.Info("Synchronization finished",
		"user_id", userID,
		"decision", resp.Decision,
		"server_revision", resp.ServerRevision,
	)

	return result, nil
}

// cacheSnapshot logs cache failures and carries on.
func (s *service) cacheSnapshot(ctx context.Context, userID string, data []byte, revision int64) {
	err := s.stateStorage.SaveServerSnapshot(ctx, userID, storage.CachedSnapshot{
		ToolsData:      data,
		ServerRevision: revision,
	})
	if err != nil {
		s.logger.Warn("Failed to cache server snapshot", "error", err, "server_revision", revision)
	}
}

// Status возвращает сохраненное состояние последней синхронизации
func (s *service) Status(ctx context.Context, userID string) (*storage.SyncState, error) {
	userID, err := validation.NormalizeUserID(userID)
	if err != nil {
		return nil, err
	}
	return s.stateStorage.GetSyncState(ctx, userID)
}
