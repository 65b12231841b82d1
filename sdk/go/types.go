package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"questkit/analytics"
	"questkit/catalog"
	"questkit/core"
	"questkit/criteria"
	"questkit/engine"
	"questkit/leaderboard"
)

// Server payloads shared with the API.
type (
	Quest         = core.Quest
	Action        = core.Action
	Result        = core.Result
	Template      = catalog.Template
	Stats         = analytics.Snapshot
	Diagnostic    = criteria.Diagnostic
	ActionOutcome = engine.ActionOutcome
	Standing      = leaderboard.Entry
)

// Leaderboard is the GET /leaderboard response. User is set when the request
// named a ranked user.
type Leaderboard struct {
	Entries []Standing `json:"entries"`
	Users   int        `json:"users"`
	User    *Standing  `json:"user,omitempty"`
}

// EvaluateRequest is the body of POST /evaluate.
type EvaluateRequest struct {
	Type            core.CriterionType `json:"type"`
	Config          map[string]any     `json:"config"`
	Event           map[string]any     `json:"event"`
	CurrentProgress int64              `json:"current_progress,omitempty"`
	TargetCount     int64              `json:"target_count,omitempty"`
	UserID          string             `json:"user_id,omitempty"`
	Timezone        string             `json:"timezone,omitempty"`
}

// EvaluateResponse carries a nil Result when the event does not apply.
type EvaluateResponse struct {
	Result      *Result      `json:"result"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// HealthStatus describes the /healthz response.
type HealthStatus struct {
	Status string         `json:"status"`
	Checks map[string]any `json:"checks"`
}

// APIError is the decoded error envelope of a failed request.
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("request failed: status %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func decodeJSON(resp *http.Response, target any) error {
	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = json.Unmarshal(body, apiErr)
		return apiErr
	}
	if target == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

// ErrEmptyUserID is returned when user id is empty.
var ErrEmptyUserID = errors.New("user id is required")
