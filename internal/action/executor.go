// File: internal/action/executor.go

// Package action validates and executes assistant-issued UI actions: frontend
// directives through registered hooks, backend calls over HTTP, confirmation
// gating for mutating actions and per-correlation undo.
package action

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/mirahq/mira-core/api/schemas"
	"github.com/mirahq/mira-core/internal/bus"
	"github.com/mirahq/mira-core/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrCancelled is returned when the user declines a required confirmation.
// The backend endpoint is never contacted in that case.
var ErrCancelled = errors.New("action cancelled by user")

// ErrNoConfirmer is returned when a confirm-gated action runs without a
// confirmation hook.
var ErrNoConfirmer = errors.New("confirmation unavailable")

// Hooks connect the executor to the frontend surface. Nil hooks disable the
// corresponding action types.
type Hooks struct {
	// Navigate applies a navigate action and returns an undo callback, or
	// nil when the navigation cannot be reverted.
	Navigate func(a schemas.UIAction) (undo func(), err error)

	// Prefill delivers a sanitized prefill payload to the target form.
	Prefill func(a schemas.UIAction) error

	// Popup opens a dialog after a navigate action lands.
	Popup func(popup string, a schemas.UIAction) error

	// Confirm asks the user to approve a mutating action. Returning false
	// aborts the action without side effects.
	Confirm func(a schemas.UIAction) bool
}

// Executor runs UI actions sequentially and publishes each outcome.
type Executor struct {
	logger *zap.Logger
	bus    *bus.Bus
	cfg    config.ActionsConfig
	hooks  Hooks
	client *http.Client

	mu   sync.Mutex
	undo map[string][]func()

	now func() time.Time
}

// NewExecutor builds the Executor.
func NewExecutor(logger *zap.Logger, b *bus.Bus, cfg config.ActionsConfig, hooks Hooks) *Executor {
	return &Executor{
		logger: logger.Named("actions"),
		bus:    b,
		cfg:    cfg,
		hooks:  hooks,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		undo:   make(map[string][]func()),
		now:    time.Now,
	}
}

// ExecuteAll runs a batch of actions in order. A failed action is reported
// but does not stop the rest of the batch. Every outcome is published on the
// bus.
func (e *Executor) ExecuteAll(ctx context.Context, actions []schemas.UIAction, correlationID string) []schemas.ActionResult {
	results := make([]schemas.ActionResult, 0, len(actions))
	for _, a := range actions {
		if a.CorrelationID == "" {
			a.CorrelationID = correlationID
		}
		results = append(results, e.Execute(ctx, a))
	}
	return results
}

// Execute validates and runs a single action.
func (e *Executor) Execute(ctx context.Context, a schemas.UIAction) schemas.ActionResult {
	start := e.now()
	result := schemas.ActionResult{Action: a}

	response, err := e.run(ctx, a)
	result.DurationMS = e.now().Sub(start).Milliseconds()
	result.Response = response
	if err != nil {
		result.Error = err.Error()
		e.logger.Warn("Action failed",
			zap.String("type", string(a.Type)),
			zap.String("id", a.ID),
			zap.Error(err))
	} else {
		result.Success = true
		e.logger.Debug("Action executed",
			zap.String("type", string(a.Type)),
			zap.Int64("duration_ms", result.DurationMS))
	}

	if postErr := e.bus.Post(ctx, bus.TypeActionResult, result); postErr != nil {
		e.logger.Warn("Failed to publish action result", zap.Error(postErr))
	}
	return result
}

func (e *Executor) run(ctx context.Context, a schemas.UIAction) (map[string]any, error) {
	if err := e.Validate(a); err != nil {
		return nil, err
	}

	switch a.Type {
	case schemas.ActionNavigate, schemas.ActionOpenDialog, schemas.ActionOpenTool, schemas.ActionOpenEditMode:
		return nil, e.navigate(a)
	case schemas.ActionPrefill, schemas.ActionUpdateField, schemas.ActionSetFilter, schemas.ActionApplyFilter, schemas.ActionSearchAction:
		return nil, e.prefill(a)
	case schemas.ActionExecute, schemas.ActionSubmit, schemas.ActionUpdateStatus:
		return e.executeBackend(ctx, a)
	default:
		return nil, fmt.Errorf("unsupported action type: %s", a.Type)
	}
}

// Validate checks an action's shape without running it.
func (e *Executor) Validate(a schemas.UIAction) error {
	if !schemas.ValidUIActionTypes[a.Type] {
		return fmt.Errorf("unknown action type: %q", a.Type)
	}

	// update_status may carry an api_call (backend transition) or not
	// (frontend-only state flip), so it is validated but never required.
	needsAPICall := a.Type == schemas.ActionExecute || a.Type == schemas.ActionSubmit
	allowsAPICall := needsAPICall || a.Type == schemas.ActionUpdateStatus
	if needsAPICall && a.APICall == nil {
		return fmt.Errorf("%s action requires an api_call", a.Type)
	}
	if a.APICall != nil {
		if !allowsAPICall {
			return fmt.Errorf("%s action must not carry an api_call", a.Type)
		}
		if a.APICall.Endpoint == "" {
			return fmt.Errorf("missing endpoint for %s action", a.Type)
		}
		if a.APICall.Method != "" && !schemas.ValidHTTPMethods[a.APICall.Method] {
			return fmt.Errorf("invalid method %q for %s action", a.APICall.Method, a.Type)
		}
	}

	if a.Type == schemas.ActionPrefill || a.Type == schemas.ActionUpdateField {
		if _, err := e.sanitizePrefillPayload(a.Payload); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) navigate(a schemas.UIAction) error {
	if e.hooks.Navigate == nil {
		return fmt.Errorf("no navigation hook registered")
	}
	undo, err := e.hooks.Navigate(a)
	if err != nil {
		return err
	}
	e.registerUndo(a.CorrelationID, undo)

	if popup := strings.TrimSpace(a.Popup); popup != "" && e.hooks.Popup != nil {
		return e.hooks.Popup(popup, a)
	}
	return nil
}

func (e *Executor) prefill(a schemas.UIAction) error {
	if e.hooks.Prefill == nil {
		return fmt.Errorf("no prefill hook registered")
	}
	clean, err := e.sanitizePrefillPayload(a.Payload)
	if err != nil {
		return err
	}
	a.Payload = clean
	return e.hooks.Prefill(a)
}

func (e *Executor) executeBackend(ctx context.Context, a schemas.UIAction) (map[string]any, error) {
	if a.ConfirmRequired {
		if e.hooks.Confirm == nil {
			return nil, ErrNoConfirmer
		}
		if !e.hooks.Confirm(a) {
			return nil, ErrCancelled
		}
	}

	call := a.APICall
	if call == nil {
		// update_status without an api_call is a frontend-only state flip.
		if e.hooks.Prefill != nil {
			return nil, e.hooks.Prefill(a)
		}
		return nil, fmt.Errorf("no frontend hook for %s action", a.Type)
	}

	method := call.Method
	if method == "" {
		method = http.MethodPost
	}
	endpoint, err := e.resolveEndpoint(call.Endpoint)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if method != http.MethodGet {
		raw, err := json.Marshal(call.Payload)
		if err != nil {
			return nil, fmt.Errorf("encoding payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range call.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("backend action failed (%d): %s", resp.StatusCode, msg)
	}

	var decoded map[string]any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			// Non-JSON success bodies are kept verbatim.
			decoded = map[string]any{"raw": string(raw)}
		}
	}
	return decoded, nil
}

func (e *Executor) resolveEndpoint(endpoint string) (string, error) {
	if endpoint == "" {
		return "", fmt.Errorf("missing endpoint for execute action")
	}
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		return endpoint, nil
	}
	base := strings.TrimSuffix(e.cfg.BackendBaseURL, "/")
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return base + endpoint, nil
}

// registerUndo pushes an undo callback onto the correlation's stack.
func (e *Executor) registerUndo(correlationID string, undo func()) {
	if correlationID == "" || undo == nil {
		return
	}
	e.mu.Lock()
	e.undo[correlationID] = append(e.undo[correlationID], undo)
	e.mu.Unlock()
}

// Undo reverts every undoable action recorded under the correlation id, most
// recent first. Returns the number of callbacks run.
func (e *Executor) Undo(correlationID string) int {
	e.mu.Lock()
	stack := e.undo[correlationID]
	delete(e.undo, correlationID)
	e.mu.Unlock()

	for i := len(stack) - 1; i >= 0; i-- {
		func(fn func()) {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Warn("Undo callback panicked", zap.Any("panic_value", r))
				}
			}()
			fn()
		}(stack[i])
	}
	return len(stack)
}
