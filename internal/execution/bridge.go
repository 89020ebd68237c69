package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"rugs_go/internal/domain"
)

// bridgeTimeout is generous: the bridge drives a real browser session and a
// click round-trip is far slower than a direct API call.
const bridgeTimeout = 15 * time.Second

// BridgeExecutor dispatches actions through a local UI-automation bridge
// that drives the game's browser session. The bridge owns all automation
// detail; this side only speaks the execute/confirm contract.
type BridgeExecutor struct {
	bridgeURL  string
	httpClient *http.Client
}

// NewBridgeExecutor creates a UI-automation execution backend.
func NewBridgeExecutor(bridgeURL string) *BridgeExecutor {
	return &BridgeExecutor{
		bridgeURL: bridgeURL,
		httpClient: &http.Client{
			Timeout: bridgeTimeout,
		},
	}
}

// Name implements Executor.
func (e *BridgeExecutor) Name() string {
	return "browser"
}

type bridgeRequest struct {
	Action string `json:"action"`
	GameID string `json:"game_id"`
	Amount string `json:"amount"`
}

type bridgeResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Execute implements Executor.
func (e *BridgeExecutor) Execute(ctx context.Context, a Action) Result {
	body, err := json.Marshal(bridgeRequest{
		Action: a.Kind.String(),
		GameID: a.GameID,
		Amount: a.Amount.String(),
	})
	if err != nil {
		return Result{Err: err}
	}

	url := e.bridgeURL + "/automation" + endpointFor(a.Kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Result{Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Result{Err: domain.NewNetworkError("bridge", err)}
	}
	defer resp.Body.Close()

	var out bridgeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{Err: fmt.Errorf("malformed bridge response: %w", err)}
	}

	if !out.OK {
		msg := out.Error
		if msg == "" {
			msg = resp.Status
		}
		return Result{Err: fmt.Errorf("%w: %s", domain.ErrExecutionRejected, msg)}
	}

	return Result{Success: true}
}
