package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"rugs_go/internal/domain"
)

const apiTimeout = 10 * time.Second

// APIExecutor dispatches actions against the upstream REST endpoint.
type APIExecutor struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewAPIExecutor creates a network execution backend.
func NewAPIExecutor(baseURL, authToken string) *APIExecutor {
	return &APIExecutor{
		baseURL:   baseURL,
		authToken: authToken,
		httpClient: &http.Client{
			Timeout: apiTimeout,
		},
	}
}

// Name implements Executor.
func (e *APIExecutor) Name() string {
	return "api"
}

type apiRequest struct {
	ActionID string `json:"action_id"`
	GameID   string `json:"game_id"`
	Tick     int64  `json:"tick"`
	Amount   string `json:"amount"`
}

type apiResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Execute implements Executor. One request per action; a transport or server
// failure is reported as-is and never retried here.
func (e *APIExecutor) Execute(ctx context.Context, a Action) Result {
	body, err := json.Marshal(apiRequest{
		ActionID: a.ID,
		GameID:   a.GameID,
		Tick:     a.Tick,
		Amount:   a.Amount.String(),
	})
	if err != nil {
		return Result{Err: err}
	}

	url := e.baseURL + endpointFor(a.Kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if e.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+e.authToken)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Result{Err: domain.NewNetworkError("execute", err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{Err: domain.NewNetworkError("read response", err)}
	}

	var out apiResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return Result{Err: fmt.Errorf("malformed execution response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK || !out.Success {
		msg := out.Error
		if msg == "" {
			msg = resp.Status
		}
		return Result{Err: fmt.Errorf("%w: %s", domain.ErrExecutionRejected, msg)}
	}

	return Result{Success: true}
}
