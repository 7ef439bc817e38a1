// File: internal/action/executor_test.go
package action_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mirahq/mira-core/api/schemas"
	"github.com/mirahq/mira-core/internal/action"
	"github.com/mirahq/mira-core/internal/bus"
	"github.com/mirahq/mira-core/internal/config"
)

func actionsCfg(baseURL string) config.ActionsConfig {
	return config.ActionsConfig{
		BackendBaseURL:  baseURL,
		RequestTimeout:  5 * time.Second,
		MaxPrefillDepth: 3,
		MaxPrefillKeys:  50,
		MaxPrefillItems: 25,
	}
}

func newExecutor(t *testing.T, hooks action.Hooks, cfg config.ActionsConfig) (*action.Executor, *bus.Bus) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	b := bus.New(logger, 64)
	t.Cleanup(b.Shutdown)
	return action.NewExecutor(logger, b, cfg, hooks), b
}

func TestValidate(t *testing.T) {
	e, _ := newExecutor(t, action.Hooks{}, actionsCfg(""))

	cases := []struct {
		name    string
		act     schemas.UIAction
		wantErr string
	}{
		{
			"unknown type",
			schemas.UIAction{Type: "analytics_view"},
			"unknown action type",
		},
		{
			"execute without api_call",
			schemas.UIAction{Type: schemas.ActionExecute},
			"requires an api_call",
		},
		{
			"execute without endpoint",
			schemas.UIAction{Type: schemas.ActionExecute, APICall: &schemas.APICall{Method: http.MethodPost}},
			"missing endpoint",
		},
		{
			"execute with bad method",
			schemas.UIAction{Type: schemas.ActionExecute, APICall: &schemas.APICall{Method: "TRACE", Endpoint: "/x"}},
			"invalid method",
		},
		{
			"navigate with api_call",
			schemas.UIAction{Type: schemas.ActionNavigate, APICall: &schemas.APICall{Endpoint: "/x"}},
			"must not carry an api_call",
		},
		{
			"prefill with empty payload",
			schemas.UIAction{Type: schemas.ActionPrefill, Target: "fact-finding"},
			"at least one field",
		},
		{
			"valid navigate",
			schemas.UIAction{Type: schemas.ActionNavigate, Page: "/customers"},
			"",
		},
		{
			"valid submit",
			schemas.UIAction{Type: schemas.ActionSubmit, APICall: &schemas.APICall{Endpoint: "/api/proposals"}},
			"",
		},
		{
			"update_status without api_call",
			schemas.UIAction{Type: schemas.ActionUpdateStatus, Target: "proposal-status"},
			"",
		},
		{
			"update_status with api_call",
			schemas.UIAction{Type: schemas.ActionUpdateStatus, APICall: &schemas.APICall{Endpoint: "/api/proposals/7/status"}},
			"",
		},
		{
			"update_status with api_call missing endpoint",
			schemas.UIAction{Type: schemas.ActionUpdateStatus, APICall: &schemas.APICall{Method: http.MethodPut}},
			"missing endpoint",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.Validate(tc.act)
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestPrefillSanitization(t *testing.T) {
	var delivered schemas.UIAction
	hooks := action.Hooks{
		Prefill: func(a schemas.UIAction) error { delivered = a; return nil },
	}
	e, _ := newExecutor(t, hooks, actionsCfg(""))
	ctx := context.Background()

	t.Run("scalars and timestamps pass through", func(t *testing.T) {
		when := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
		res := e.Execute(ctx, schemas.UIAction{
			Type:   schemas.ActionPrefill,
			Target: "fact-finding",
			Payload: map[string]any{
				"name":    "Tan Wei Ming",
				"age":     34,
				"smoker":  false,
				"note":    nil,
				"created": when,
			},
		})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "2026-03-14T09:30:00Z", delivered.Payload["created"])
		assert.Equal(t, "Tan Wei Ming", delivered.Payload["name"])
	})

	t.Run("overlong arrays are rejected", func(t *testing.T) {
		items := make([]any, 26)
		for i := range items {
			items[i] = i
		}
		res := e.Execute(ctx, schemas.UIAction{
			Type:    schemas.ActionPrefill,
			Payload: map[string]any{"riders": items},
		})
		require.False(t, res.Success)
		assert.Contains(t, res.Error, "at most 25 entries")
	})

	t.Run("excessive nesting is rejected", func(t *testing.T) {
		deep := map[string]any{"a": map[string]any{"b": map[string]any{"c": map[string]any{"d": map[string]any{"e": 1}}}}}
		res := e.Execute(ctx, schemas.UIAction{Type: schemas.ActionPrefill, Payload: deep})
		require.False(t, res.Success)
		assert.Contains(t, res.Error, "too deep")
	})

	t.Run("unsupported values are rejected", func(t *testing.T) {
		res := e.Execute(ctx, schemas.UIAction{
			Type:    schemas.ActionPrefill,
			Payload: map[string]any{"fn": func() {}},
		})
		require.False(t, res.Success)
		assert.Contains(t, res.Error, "unsupported data")
	})
}

func TestBackendExecution(t *testing.T) {
	var gotPath, gotMethod, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"prop-7","status":"submitted"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	e, _ := newExecutor(t, action.Hooks{}, actionsCfg(srv.URL))

	res := e.Execute(context.Background(), schemas.UIAction{
		Type: schemas.ActionExecute,
		APICall: &schemas.APICall{
			Endpoint: "/api/proposals/submit",
			Payload:  map[string]any{"customer_id": "42"},
		},
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "/api/proposals/submit", gotPath)
	assert.Equal(t, http.MethodPost, gotMethod, "method defaults to POST")
	assert.JSONEq(t, `{"customer_id":"42"}`, gotBody)
	assert.Equal(t, "prop-7", res.Response["id"])
	assert.GreaterOrEqual(t, res.DurationMS, int64(0))
}

func TestBackendFailureSurfacesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	e, _ := newExecutor(t, action.Hooks{}, actionsCfg(srv.URL))
	res := e.Execute(context.Background(), schemas.UIAction{
		Type:    schemas.ActionExecute,
		APICall: &schemas.APICall{Endpoint: "api/quota"},
	})

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "429")
	assert.Contains(t, res.Error, "quota exceeded")
}

func TestUpdateStatusRouting(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"status":"approved"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	var delivered schemas.UIAction
	hooks := action.Hooks{
		Prefill: func(a schemas.UIAction) error { delivered = a; return nil },
	}
	e, _ := newExecutor(t, hooks, actionsCfg(srv.URL))
	ctx := context.Background()

	t.Run("with api_call it hits the backend", func(t *testing.T) {
		res := e.Execute(ctx, schemas.UIAction{
			Type:    schemas.ActionUpdateStatus,
			APICall: &schemas.APICall{Endpoint: "/api/proposals/7/status"},
		})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "/api/proposals/7/status", gotPath)
		assert.Equal(t, "approved", res.Response["status"])
	})

	t.Run("without api_call it flips state on the frontend", func(t *testing.T) {
		gotPath = ""
		res := e.Execute(ctx, schemas.UIAction{
			Type:   schemas.ActionUpdateStatus,
			Target: "proposal-status",
		})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, "proposal-status", delivered.Target)
		assert.Empty(t, gotPath, "no backend call without an api_call")
	})
}

func TestConfirmationGate(t *testing.T) {
	var called atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	}))
	defer srv.Close()

	act := schemas.UIAction{
		Type:            schemas.ActionExecute,
		ConfirmRequired: true,
		APICall:         &schemas.APICall{Endpoint: "/api/policies/cancel"},
	}

	t.Run("declined confirmation aborts without a backend call", func(t *testing.T) {
		e, _ := newExecutor(t, action.Hooks{Confirm: func(schemas.UIAction) bool { return false }}, actionsCfg(srv.URL))
		res := e.Execute(context.Background(), act)
		require.False(t, res.Success)
		assert.Equal(t, action.ErrCancelled.Error(), res.Error)
		assert.False(t, called.Load(), "the endpoint must not be contacted")
	})

	t.Run("missing confirmation hook aborts", func(t *testing.T) {
		e, _ := newExecutor(t, action.Hooks{}, actionsCfg(srv.URL))
		res := e.Execute(context.Background(), act)
		require.False(t, res.Success)
		assert.Equal(t, action.ErrNoConfirmer.Error(), res.Error)
		assert.False(t, called.Load())
	})

	t.Run("approved confirmation proceeds", func(t *testing.T) {
		e, _ := newExecutor(t, action.Hooks{Confirm: func(schemas.UIAction) bool { return true }}, actionsCfg(srv.URL))
		res := e.Execute(context.Background(), act)
		require.True(t, res.Success, res.Error)
		assert.True(t, called.Load())
	})
}

func TestUndoRunsInReverseOrder(t *testing.T) {
	var order []string
	hooks := action.Hooks{
		Navigate: func(a schemas.UIAction) (func(), error) {
			page := a.Page
			return func() { order = append(order, page) }, nil
		},
	}
	e, _ := newExecutor(t, hooks, actionsCfg(""))

	actions := []schemas.UIAction{
		{Type: schemas.ActionNavigate, Page: "/customers"},
		{Type: schemas.ActionNavigate, Page: "/proposals"},
		{Type: schemas.ActionNavigate, Page: "/analytics"},
	}
	results := e.ExecuteAll(context.Background(), actions, "corr-1")
	for _, r := range results {
		require.True(t, r.Success, r.Error)
	}

	assert.Equal(t, 3, e.Undo("corr-1"))
	assert.Equal(t, []string{"/analytics", "/proposals", "/customers"}, order)

	// The stack is consumed.
	assert.Zero(t, e.Undo("corr-1"))
	assert.Zero(t, e.Undo("no-such-correlation"))
}

func TestResultsPublishedOnBus(t *testing.T) {
	hooks := action.Hooks{
		Navigate: func(schemas.UIAction) (func(), error) { return nil, nil },
	}
	e, b := newExecutor(t, hooks, actionsCfg(""))
	msgChan, unsub := b.Subscribe(bus.TypeActionResult)
	defer unsub()

	e.Execute(context.Background(), schemas.UIAction{Type: schemas.ActionNavigate, Page: "/home"})

	select {
	case msg := <-msgChan:
		b.Acknowledge(msg)
		res, ok := msg.Payload.(schemas.ActionResult)
		require.True(t, ok)
		assert.True(t, res.Success)
		assert.Equal(t, schemas.ActionNavigate, res.Action.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no action result published")
	}
}

func TestBatchContinuesPastFailures(t *testing.T) {
	hooks := action.Hooks{
		Navigate: func(schemas.UIAction) (func(), error) { return nil, nil },
	}
	e, _ := newExecutor(t, hooks, actionsCfg(""))

	results := e.ExecuteAll(context.Background(), []schemas.UIAction{
		{Type: schemas.ActionNavigate, Page: "/a"},
		{Type: "bogus"},
		{Type: schemas.ActionNavigate, Page: "/b"},
	}, "")

	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.True(t, results[2].Success, "a failed action does not stop the batch")
}
