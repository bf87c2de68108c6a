// Package command implements the command router: validating a controller's
// touch/key/system/macro/ai command, applying the rate limiter to the
// categories that require it, sanitizing a copy for the audit log, and
// producing the payload to forward.
package command

import (
	"encoding/json"

	"github.com/arcs-project/relay/internal/protocol"
	"github.com/arcs-project/relay/internal/ratelimit"
)

// sensitiveFields are masked in the audit copy of a command but left
// untouched in the payload actually forwarded downstream.
var sensitiveFields = []string{"jwt_token", "secret", "password"}

// Router validates and forwards controller-originated commands. The rate
// limiter is injected explicitly — the source this router replaces used a
// process-wide static limiter, which made it impossible to give each test
// its own clean limiter; here the caller constructs and owns one.
type Router struct {
	limiter *ratelimit.Limiter
}

// New creates a Router backed by limiter.
func New(limiter *ratelimit.Limiter) *Router {
	return &Router{limiter: limiter}
}

// Result is the outcome of routing a command to the device.
type Result struct {
	// Payload is the bytes to forward. Empty means "drop silently" (failed
	// structural validation). ErrorPayload, when non-nil, should be sent
	// back to the sender instead (e.g. a rate-limit rejection).
	Payload      []byte
	ErrorPayload []byte
}

// RouteToDevice validates raw, applies rate limiting keyed by sessionID,
// and returns the original bytes to forward unchanged. Audit logging of the
// sanitized copy is the caller's responsibility: RouteToDevice does not
// return it, and callers build it with Sanitize before or after forwarding.
func (r *Router) RouteToDevice(sessionID string, raw []byte) Result {
	msg, err := protocol.Parse(raw)
	if err != nil || !protocol.Validate(msg) {
		return Result{}
	}

	category, limited := categoryFor(msg)
	if limited {
		if !r.limiter.Allow(sessionID, category) {
			return Result{ErrorPayload: protocol.MakeError("ERR_RATE_LIMIT", "rate limit exceeded for "+string(category))}
		}
	}

	return Result{Payload: raw}
}

// RouteToController forwards a server/device-originated response to the
// controller side. No rate limiting applies in this direction.
func (r *Router) RouteToController(raw []byte) Result {
	msg, err := protocol.Parse(raw)
	if err != nil || !protocol.Validate(msg) {
		return Result{}
	}
	return Result{Payload: raw}
}

// categoryFor derives the rate-limit category for a validated message, and
// whether that category is actually rate-limited (every touch is; some
// key/ai subtypes and all other types are not).
func categoryFor(msg protocol.Message) (ratelimit.Category, bool) {
	switch msg.Type {
	case protocol.TypeTouch:
		return ratelimit.CategoryTouch, true
	case protocol.TypeKey:
		if action, _ := msg.Fields["action"].(string); action == "text" {
			return ratelimit.CategoryText, true
		}
		return "", false
	case protocol.TypeMacro:
		return ratelimit.CategoryMacro, true
	case protocol.TypeAI:
		if action, _ := msg.Fields["action"].(string); action == "ocr" || action == "detect_ui" {
			return ratelimit.CategoryOCR, true
		}
		return "", false
	default:
		return "", false
	}
}

// Sanitize returns a copy of raw with jwt_token, secret, and password field
// values replaced by "***", for audit logging only. The bytes actually
// forwarded downstream are never touched.
func Sanitize(raw []byte) []byte {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return raw
	}

	changed := false
	for _, key := range sensitiveFields {
		if _, ok := fields[key]; ok {
			fields[key] = "***"
			changed = true
		}
	}
	if !changed {
		return raw
	}

	out, err := json.Marshal(fields)
	if err != nil {
		return raw
	}
	return out
}

// ValidateCommand reports whether raw passes the message codec's
// structural validation for its declared type.
func ValidateCommand(raw []byte) bool {
	msg, err := protocol.Parse(raw)
	if err != nil {
		return false
	}
	return protocol.Validate(msg)
}
