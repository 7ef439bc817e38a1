// File: internal/sanitize/sanitize.go
package sanitize

import (
	"net/url"
	"regexp"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/mirahq/mira-core/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// sensitiveFieldMarkers are substrings that mark a field name as carrying
// personal or financial data. Matching is case-insensitive.
var sensitiveFieldMarkers = []string{
	"password",
	"passwd",
	"pwd",
	"nric",
	"ssn",
	"social",
	"income",
	"salary",
	"medical",
	"health",
	"diagnosis",
	"prescription",
	"credit",
	"card",
	"cvv",
	"pin",
	"account",
	"routing",
}

// Placeholders substituted for removed data.
const (
	Redacted          = "[REDACTED]"
	ObjectPlaceholder = "[OBJECT]"
)

// Size limits applied during sanitization.
const (
	MaxValueLen = 256 // characters kept of any free-form string value
	MaxLabelLen = 100 // characters kept of an element label

	MaxExportActions     = 20   // actions included in a context export
	MaxExportNavigations = 10   // navigations included in a context export
	MaxExportBytes       = 5000 // serialized size ceiling of a context export
)

// maxTimeSpent caps recorded dwell times at one hour.
const maxTimeSpent = int64(time.Hour / time.Millisecond)

// IsSensitiveField reports whether a field name indicates sensitive data.
func IsSensitiveField(name string) bool {
	normalized := strings.ToLower(name)
	for _, marker := range sensitiveFieldMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// Event returns a sanitized copy of an interaction event. Sensitive element
// references are dropped, metadata keys matching a sensitive marker are
// redacted, string values are truncated and dwell time is capped. The input
// is never modified.
func Event(ev schemas.InteractionEvent) schemas.InteractionEvent {
	out := ev
	out.Page = Path(ev.Page)

	if IsSensitiveField(ev.Element) {
		out.Element = Redacted
	} else if len(ev.Element) > MaxLabelLen {
		out.Element = ev.Element[:MaxLabelLen]
	}

	out.Metadata = Map(ev.Metadata)

	if out.TimeSpent > maxTimeSpent {
		out.TimeSpent = maxTimeSpent
	}
	if out.TimeSpent < 0 {
		out.TimeSpent = 0
	}
	return out
}

// Map sanitizes one level of a metadata map. Sensitive keys are redacted,
// strings are truncated, scalars pass through and nested collections collapse
// to a placeholder so no deep structure ever leaves the process.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveField(k) {
			out[k] = Redacted
			continue
		}
		switch val := v.(type) {
		case string:
			if len(val) > MaxValueLen {
				val = val[:MaxValueLen]
			}
			out[k] = val
		case nil, bool,
			int, int8, int16, int32, int64,
			uint, uint8, uint16, uint32, uint64,
			float32, float64:
			out[k] = val
		default:
			out[k] = ObjectPlaceholder
		}
	}
	return out
}

// Navigation returns a sanitized copy of a navigation event with query
// strings stripped and dwell time capped.
func Navigation(nav schemas.NavigationEvent) schemas.NavigationEvent {
	out := nav
	out.From = Path(nav.From)
	out.To = Path(nav.To)
	if out.TimeOnPreviousPage > maxTimeSpent {
		out.TimeOnPreviousPage = maxTimeSpent
	}
	return out
}

// Path strips query parameters and fragments from a page path, since they
// routinely carry identifiers and search terms.
func Path(p string) string {
	if u, err := url.Parse(p); err == nil && u.Path != "" {
		return u.Path
	}
	if i := strings.IndexByte(p, '?'); i >= 0 {
		return p[:i]
	}
	return p
}

// ExportMeta reports how much of a session snapshot survived export trimming.
type ExportMeta struct {
	OriginalActions     int `json:"original_actions"`
	SentActions         int `json:"sent_actions"`
	OriginalNavigations int `json:"original_navigations"`
	SentNavigations     int `json:"sent_navigations"`
	EstimatedBytes      int `json:"estimated_bytes"`
}

// Context prepares a session snapshot for transmission. Every action and
// navigation is sanitized, the history is trimmed to the export caps, and if
// the serialized form still exceeds MaxExportBytes the action list is cut
// proportionally. The returned metadata records what was trimmed.
func Context(ctx schemas.SessionContext) (schemas.SessionContext, ExportMeta) {
	meta := ExportMeta{
		OriginalActions:     len(ctx.RecentActions),
		OriginalNavigations: len(ctx.NavigationPath),
	}

	out := ctx
	out.CurrentPage = Path(ctx.CurrentPage)

	actions := ctx.RecentActions
	if len(actions) > MaxExportActions {
		actions = actions[len(actions)-MaxExportActions:]
	}
	out.RecentActions = make([]schemas.InteractionEvent, len(actions))
	for i, a := range actions {
		out.RecentActions[i] = Event(a)
	}

	navs := ctx.NavigationPath
	if len(navs) > MaxExportNavigations {
		navs = navs[len(navs)-MaxExportNavigations:]
	}
	out.NavigationPath = make([]schemas.NavigationEvent, len(navs))
	for i, n := range navs {
		out.NavigationPath[i] = Navigation(n)
	}

	if size := estimateSize(out); size > MaxExportBytes {
		ratio := float64(MaxExportBytes) / float64(size)
		keep := int(float64(len(out.RecentActions)) * ratio)
		if keep < 0 {
			keep = 0
		}
		out.RecentActions = out.RecentActions[len(out.RecentActions)-keep:]
	}

	meta.SentActions = len(out.RecentActions)
	meta.SentNavigations = len(out.NavigationPath)
	meta.EstimatedBytes = estimateSize(out)
	return out, meta
}

// estimateSize returns the serialized size of a value in bytes, or zero when
// it cannot be serialized.
func estimateSize(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}

var (
	emailPattern = regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w+`)
	phonePattern = regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)
	uuidPattern  = regexp.MustCompile(`(?i)\b[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}\b`)
	tokenPattern = regexp.MustCompile(`(?i)bearer\s+[\w.-]+`)
)

// ErrorMessage scrubs identifiers and credentials that tend to leak into
// error strings before they are logged or shipped.
func ErrorMessage(msg string) string {
	out := emailPattern.ReplaceAllString(msg, "[EMAIL]")
	out = phonePattern.ReplaceAllString(out, "[PHONE]")
	out = uuidPattern.ReplaceAllString(out, "[ID]")
	out = tokenPattern.ReplaceAllString(out, "bearer [TOKEN]")
	return out
}
