package schemas

import (
	"time"
)

// -- Behavioral Event Schemas --

// ActionType classifies a captured user interaction. The values are lowercase
// with underscores to align with database ENUMs and the upload wire format.
type ActionType string

// Constants defining the recognized interaction action types.
const (
	ActionClick       ActionType = "click"        // A pointer click on an element.
	ActionNavigation  ActionType = "navigation"   // A route or page change.
	ActionFormInput   ActionType = "form_input"   // A keystroke or value change in a form field.
	ActionFormSubmit  ActionType = "form_submit"  // A form submission.
	ActionSearch      ActionType = "search"       // A search query being issued.
	ActionFilter      ActionType = "filter"       // A filter being applied to a data view.
	ActionExport      ActionType = "export"       // A data export action.
	ActionModalOpen   ActionType = "modal_open"   // A modal or dialog opening.
	ActionModalClose  ActionType = "modal_close"  // A modal or dialog closing.
	ActionTabSwitch   ActionType = "tab_switch"   // A tab change within a page.
	ActionScroll      ActionType = "scroll"       // A scroll event.
	ActionHover       ActionType = "hover"        // A sustained hover over an element.
	ActionCopy        ActionType = "copy"         // Content copied to the clipboard.
	ActionPageFocus   ActionType = "page_focus"   // The page gaining focus.
	ActionPageBlur    ActionType = "page_blur"    // The page losing focus.
	ActionAPICall     ActionType = "api_call"     // A backend call observed from the client.
	ActionStateChange ActionType = "state_change" // An application state transition.
)

// ValidActionTypes enumerates every recognized ActionType. Events carrying a
// type outside this set are rejected at capture time.
var ValidActionTypes = map[ActionType]bool{
	ActionClick:       true,
	ActionNavigation:  true,
	ActionFormInput:   true,
	ActionFormSubmit:  true,
	ActionSearch:      true,
	ActionFilter:      true,
	ActionExport:      true,
	ActionModalOpen:   true,
	ActionModalClose:  true,
	ActionTabSwitch:   true,
	ActionScroll:      true,
	ActionHover:       true,
	ActionCopy:        true,
	ActionPageFocus:   true,
	ActionPageBlur:    true,
	ActionAPICall:     true,
	ActionStateChange: true,
}

// InteractionEvent is a single captured user interaction after sanitization.
// It maps directly to the `behavioral_events` table.
type InteractionEvent struct {
	ID        string     `json:"id"`                // Unique identifier for the event.
	SessionID string     `json:"session_id"`        // The capture session this event belongs to.
	UserID    string     `json:"user_id,omitempty"` // The authenticated user, stamped at upload time.
	Timestamp time.Time  `json:"timestamp"`         // When the interaction occurred.
	Action    ActionType `json:"action"`            // The classified interaction type.

	Page    string `json:"page"`              // The page path where the interaction happened.
	Element string `json:"element,omitempty"` // A short description of the target element.

	// Metadata carries sanitized, type-specific detail. Sensitive keys are
	// redacted and values truncated before the event is ever stored.
	Metadata map[string]any `json:"metadata,omitempty"`

	// TimeSpent is how long the user spent before this interaction, in
	// milliseconds, capped at one hour.
	TimeSpent int64 `json:"time_spent,omitempty"`
}

// NavigationTrigger identifies what caused a navigation.
type NavigationTrigger string

// Constants for navigation triggers.
const (
	TriggerClick   NavigationTrigger = "click"   // A link or button click.
	TriggerSearch  NavigationTrigger = "search"  // A search result selection.
	TriggerDirect  NavigationTrigger = "direct"  // A direct URL entry or external referral.
	TriggerBack    NavigationTrigger = "back"    // Browser history back.
	TriggerForward NavigationTrigger = "forward" // Browser history forward.
)

// NavigationEvent records a transition between two pages.
type NavigationEvent struct {
	SessionID string            `json:"session_id,omitempty"`
	From      string            `json:"from"`      // The page navigated away from.
	To        string            `json:"to"`        // The page navigated to.
	Timestamp time.Time         `json:"timestamp"` // When the navigation occurred.
	Trigger   NavigationTrigger `json:"trigger"`   // What caused the navigation.

	// TimeOnPreviousPage is the dwell time on the `From` page in milliseconds.
	TimeOnPreviousPage int64 `json:"time_on_previous_page,omitempty"`
}

// SessionContext is a point-in-time snapshot of the current capture session.
// The slices are copies; mutating a snapshot never affects the live recorder.
type SessionContext struct {
	SessionID   string    `json:"session_id"`
	StartedAt   time.Time `json:"started_at"`
	CurrentPage string    `json:"current_page"`
	Module      string    `json:"module,omitempty"`

	// PageEnteredAt is when the current page was reached.
	PageEnteredAt time.Time `json:"page_entered_at"`

	// RecentActions holds the most recent interactions, oldest first,
	// bounded by the recorder's action ring capacity.
	RecentActions []InteractionEvent `json:"recent_actions"`

	// NavigationPath holds the most recent navigations, oldest first,
	// bounded by the recorder's navigation ring capacity.
	NavigationPath []NavigationEvent `json:"navigation_path"`

	// IdleTime is how long since the last interaction, in milliseconds.
	IdleTime int64 `json:"idle_time"`
}

// LastAction returns the most recent interaction in the snapshot, or nil when
// the session has recorded none.
func (s *SessionContext) LastAction() *InteractionEvent {
	if len(s.RecentActions) == 0 {
		return nil
	}
	return &s.RecentActions[len(s.RecentActions)-1]
}

// ActionsOfType returns the snapshot's interactions matching the given type,
// oldest first.
func (s *SessionContext) ActionsOfType(t ActionType) []InteractionEvent {
	var out []InteractionEvent
	for _, a := range s.RecentActions {
		if a.Action == t {
			out = append(out, a)
		}
	}
	return out
}
