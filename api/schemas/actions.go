package schemas

import (
	"net/http"
)

// -- UI Action Schemas --

// UIActionType names an executable action returned by the assistant or
// attached to a suggestion.
type UIActionType string

// Constants for the supported action types.
const (
	ActionNavigate     UIActionType = "navigate"
	ActionOpenDialog   UIActionType = "open_dialog"
	ActionOpenTool     UIActionType = "open_tool"
	ActionOpenEditMode UIActionType = "open_edit_mode"
	ActionSetFilter    UIActionType = "set_filter"
	ActionApplyFilter  UIActionType = "apply_filter"
	ActionSearchAction UIActionType = "search_action"
	ActionPrefill      UIActionType = "frontend_prefill"
	ActionUpdateField  UIActionType = "update_field"
	ActionUpdateStatus UIActionType = "update_status"
	ActionSubmit       UIActionType = "submit_action"
	ActionExecute      UIActionType = "execute"
)

// ValidUIActionTypes enumerates every executable action type. Actions outside
// this set fail validation before execution.
var ValidUIActionTypes = map[UIActionType]bool{
	ActionNavigate:     true,
	ActionOpenDialog:   true,
	ActionOpenTool:     true,
	ActionOpenEditMode: true,
	ActionSetFilter:    true,
	ActionApplyFilter:  true,
	ActionSearchAction: true,
	ActionPrefill:      true,
	ActionUpdateField:  true,
	ActionUpdateStatus: true,
	ActionSubmit:       true,
	ActionExecute:      true,
}

// ValidHTTPMethods enumerates the methods allowed on an APICall.
var ValidHTTPMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// APICall describes the backend request an execute or submit action performs.
type APICall struct {
	Method   string            `json:"method"`
	Endpoint string            `json:"endpoint"`
	Payload  map[string]any    `json:"payload,omitempty"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// UIAction is a single executable action. The fields used depend on Type:
// navigate actions use Module/Page/Popup, prefill actions use Target/Payload,
// and execute actions use APICall. Unused fields stay zero.
type UIAction struct {
	ID          string       `json:"id,omitempty"`
	Type        UIActionType `json:"action"`
	Description string       `json:"description,omitempty"`

	// Target is the form, field or component the action operates on.
	Target string `json:"target,omitempty"`

	// Module and Page direct navigate actions; Popup optionally opens a
	// dialog after arriving.
	Module string `json:"module,omitempty"`
	Page   string `json:"page,omitempty"`
	Popup  string `json:"popup,omitempty"`

	// Payload carries action-specific data such as prefill values or
	// filter criteria.
	Payload map[string]any `json:"payload,omitempty"`

	// APICall is required for execute and submit actions and forbidden for
	// all others.
	APICall *APICall `json:"api_call,omitempty"`

	// ConfirmRequired gates execution behind a user confirmation. Declined
	// confirmations abort without side effects.
	ConfirmRequired bool `json:"confirm_required,omitempty"`

	// CorrelationID groups an action with its undo entry and outcome log.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Mutating reports whether the action changes backend state and therefore
// participates in confirmation and undo.
func (a *UIAction) Mutating() bool {
	switch a.Type {
	case ActionExecute, ActionSubmit, ActionUpdateStatus, ActionUpdateField:
		return true
	}
	return false
}

// ActionResult is the outcome of executing a single UIAction.
type ActionResult struct {
	Action  UIAction `json:"action"`
	Success bool     `json:"success"`
	Error   string   `json:"error,omitempty"`

	// Response holds the decoded backend response for execute actions.
	Response map[string]any `json:"response,omitempty"`

	// DurationMS is how long the action took to run, in milliseconds.
	DurationMS int64 `json:"duration_ms"`
}
