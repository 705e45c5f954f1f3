package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iudanet/toolsync/pkg/api"
)

// ClientAPI описывает вызовы сервера синхронизации
type ClientAPI interface {
	SyncV2(ctx context.Context, accessToken string, req api.SyncRequestV2) (*api.SyncResponseV2, error)
	ListRecords(ctx context.Context, accessToken string, q RecordsQuery) (*api.SyncRecordsResponse, error)
	GetRecord(ctx context.Context, accessToken, userID string, id int64) (*api.SyncRecordResponse, error)
	GetSnapshot(ctx context.Context, accessToken, userID string, revision int64) (*api.SnapshotResponse, error)
	Rollback(ctx context.Context, accessToken string, req api.RollbackRequest) (*api.RollbackResponse, error)
	Health(ctx context.Context) (*api.HealthResponse, error)
}

// RecordsQuery задает параметры постраничного списка записей аудита
type RecordsQuery struct {
	BeforeID *int64
	UserID   string
	Limit    int
}

// Error is a non-2xx answer from the server.
type Error struct {
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is a server answer with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient создает новый API клиент
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
}

// SyncV2 отправляет снимок клиента на POST /sync/v2
func (c *Client) SyncV2(ctx context.Context, accessToken string, req api.SyncRequestV2) (*api.SyncResponseV2, error) {
	var resp api.SyncResponseV2
	if err := c.doRequest(ctx, http.MethodPost, "/sync/v2", accessToken, req, &resp); err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}
	return &resp, nil
}

// ListRecords получает страницу записей аудита, новые первыми
func (c *Client) ListRecords(ctx context.Context, accessToken string, q RecordsQuery) (*api.SyncRecordsResponse, error) {
	params := url.Values{}
	params.Set("user_id", q.UserID)
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.BeforeID != nil {
		params.Set("before_id", strconv.FormatInt(*q.BeforeID, 10))
	}

	var resp api.SyncRecordsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/sync/records?"+params.Encode(), accessToken, nil, &resp); err != nil {
		return nil, fmt.Errorf("list records request failed: %w", err)
	}
	return &resp, nil
}

// GetRecord получает запись аудита с полным diff
func (c *Client) GetRecord(ctx context.Context, accessToken, userID string, id int64) (*api.SyncRecordResponse, error) {
	path := fmt.Sprintf("/sync/records/%d?user_id=%s", id, url.QueryEscape(userID))

	var resp api.SyncRecordResponse
	if err := c.doRequest(ctx, http.MethodGet, path, accessToken, nil, &resp); err != nil {
		return nil, fmt.Errorf("get record request failed: %w", err)
	}
	return &resp, nil
}

// GetSnapshot получает снимок пользователя на ревизии
func (c *Client) GetSnapshot(ctx context.Context, accessToken, userID string, revision int64) (*api.SnapshotResponse, error) {
	path := fmt.Sprintf("/sync/snapshots/%d?user_id=%s", revision, url.QueryEscape(userID))

	var resp api.SnapshotResponse
	if err := c.doRequest(ctx, http.MethodGet, path, accessToken, nil, &resp); err != nil {
		return nil, fmt.Errorf("get snapshot request failed: %w", err)
	}
	return &resp, nil
}

// Rollback восстанавливает исторический снимок как новую ревизию
func (c *Client) Rollback(ctx context.Context, accessToken string, req api.RollbackRequest) (*api.RollbackResponse, error) {
	var resp api.RollbackResponse
	if err := c.doRequest(ctx, http.MethodPost, "/sync/rollback", accessToken, req, &resp); err != nil {
		return nil, fmt.Errorf("rollback request failed: %w", err)
	}
	return &resp, nil
}

// Health проверяет доступность сервера
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/healthz", "", nil, &resp); err != nil {
		return nil, fmt.Errorf("health request failed: %w", err)
	}
	return &resp, nil
}

// doRequest выполняет HTTP запрос
func (c *Client) doRequest(ctx context.Context, method, path, accessToken string, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Message != "" {
			return &Error{StatusCode: resp.StatusCode, Message: errResp.Message}
		}
		return &Error{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
