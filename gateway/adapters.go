package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-entitlements/core"
)

const missingItemMessage = "missing from platform response"

// itemAdapter turns one decoded response item into a normalized outcome.
// Endpoints disagree on payload shape, so each endpoint picks its adapter.
type itemAdapter func(item map[string]any) core.AccessOutcome

// statusStringItem reads `{scriptId, status, expiration?, error?}` items.
func statusStringItem(item map[string]any) core.AccessOutcome {
	outcome := core.AccessOutcome{
		IndicatorID: stringField(item, "scriptId", "script_id", "pineId"),
		Outcome:     core.OutcomeFailure,
		RawPayload:  item,
	}
	status := strings.ToLower(stringField(item, "status"))
	if successStatus(status) {
		outcome.Outcome = core.OutcomeSuccess
	} else {
		outcome.Error = stringField(item, "error", "message")
		if outcome.Error == "" {
			outcome.Error = fmt.Sprintf("platform reported status %q", status)
		}
	}
	outcome.EffectiveExpiry = timeField(item, "expiration", "currentExpiration")
	if value, ok := item["hasAccess"].(bool); ok {
		outcome.HasAccess = &value
	}
	return outcome
}

// accessFlagItem reads `{scriptId, hasAccess, currentExpiration, expiration}`
// items. hasAccess=true is success for grant-like calls.
func accessFlagItem(item map[string]any) core.AccessOutcome {
	outcome := core.AccessOutcome{
		IndicatorID: stringField(item, "scriptId", "script_id", "pineId"),
		Outcome:     core.OutcomeFailure,
		RawPayload:  item,
	}
	outcome.EffectiveExpiry = timeField(item, "expiration", "currentExpiration")
	hasAccess, ok := item["hasAccess"].(bool)
	if ok {
		outcome.HasAccess = &hasAccess
	}
	if ok && hasAccess {
		outcome.Outcome = core.OutcomeSuccess
		return outcome
	}
	outcome.Error = stringField(item, "error", "message")
	if outcome.Error == "" {
		outcome.Error = "platform did not confirm access"
	}
	return outcome
}

// removalItem accepts either shape: a success status string or an explicit
// hasAccess=false confirms removal.
func removalItem(item map[string]any) core.AccessOutcome {
	outcome := core.AccessOutcome{
		IndicatorID: stringField(item, "scriptId", "script_id", "pineId"),
		Outcome:     core.OutcomeFailure,
		RawPayload:  item,
	}
	if hasAccess, ok := item["hasAccess"].(bool); ok {
		outcome.HasAccess = &hasAccess
		if !hasAccess {
			outcome.Outcome = core.OutcomeSuccess
			return outcome
		}
	}
	status := strings.ToLower(stringField(item, "status"))
	if status != "" && successStatus(status) && outcome.HasAccess == nil {
		outcome.Outcome = core.OutcomeSuccess
		return outcome
	}
	outcome.Error = stringField(item, "error", "message")
	if outcome.Error == "" {
		outcome.Error = "platform did not confirm removal"
	}
	return outcome
}

// statusQueryItem reads status responses. A decoded item is always a
// successful answer; HasAccess carries the platform's view.
func statusQueryItem(item map[string]any) core.AccessOutcome {
	outcome := core.AccessOutcome{
		IndicatorID:     stringField(item, "scriptId", "script_id", "pineId"),
		Outcome:         core.OutcomeFailure,
		EffectiveExpiry: timeField(item, "currentExpiration", "expiration"),
		RawPayload:      item,
	}
	if hasAccess, ok := item["hasAccess"].(bool); ok {
		outcome.HasAccess = &hasAccess
		outcome.Outcome = core.OutcomeSuccess
		return outcome
	}
	outcome.Error = "platform response missing hasAccess"
	return outcome
}

func successStatus(status string) bool {
	switch status {
	case "ok", "success", "granted", "removed", "updated", "replaced":
		return true
	default:
		return false
	}
}

// decodeItems accepts a bare array or an object wrapping the array under
// results, data, or items.
func decodeItems(body []byte) ([]map[string]any, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, fmt.Errorf("gateway: empty response body")
	}
	if strings.HasPrefix(trimmed, "[") {
		var items []map[string]any
		if err := json.Unmarshal([]byte(trimmed), &items); err != nil {
			return nil, fmt.Errorf("gateway: decode response items: %w", err)
		}
		return items, nil
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
		return nil, fmt.Errorf("gateway: decode response envelope: %w", err)
	}
	for _, key := range []string{"results", "data", "items"} {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		var items []map[string]any
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("gateway: decode %s: %w", key, err)
		}
		return items, nil
	}
	return nil, fmt.Errorf("gateway: response has no result items")
}

// normalize returns exactly one outcome per requested script id, in request
// order. Items for other usernames or unrequested scripts are dropped.
func normalize(scriptIDs []string, username string, items []map[string]any, adapt itemAdapter) []core.AccessOutcome {
	byScript := make(map[string]core.AccessOutcome, len(items))
	for _, item := range items {
		if itemUser := stringField(item, "username"); itemUser != "" && !strings.EqualFold(itemUser, username) {
			continue
		}
		outcome := adapt(item)
		if outcome.IndicatorID == "" {
			continue
		}
		if _, seen := byScript[outcome.IndicatorID]; seen {
			continue
		}
		byScript[outcome.IndicatorID] = outcome
	}
	out := make([]core.AccessOutcome, 0, len(scriptIDs))
	for _, scriptID := range scriptIDs {
		outcome, ok := byScript[scriptID]
		if !ok {
			outcome = failedOutcome(scriptID, missingItemMessage, nil)
		}
		out = append(out, outcome)
	}
	return out
}

// failAll reports a whole-request failure as one failure per requested id.
func failAll(scriptIDs []string, cause error) []core.AccessOutcome {
	message := "platform request failed"
	if cause != nil {
		message = cause.Error()
	}
	out := make([]core.AccessOutcome, 0, len(scriptIDs))
	for _, scriptID := range scriptIDs {
		out = append(out, failedOutcome(scriptID, message, map[string]any{"request_failed": true}))
	}
	return out
}

func failedOutcome(scriptID string, message string, extra map[string]any) core.AccessOutcome {
	payload := map[string]any{"scriptId": scriptID, "error": message}
	for key, value := range extra {
		payload[key] = value
	}
	return core.AccessOutcome{
		IndicatorID: scriptID,
		Outcome:     core.OutcomeFailure,
		Error:       message,
		RawPayload:  payload,
	}
}

func stringField(item map[string]any, keys ...string) string {
	for _, key := range keys {
		switch value := item[key].(type) {
		case string:
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		case float64:
			return strconv.FormatFloat(value, 'f', -1, 64)
		}
	}
	return ""
}

var expiryLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timeField parses the first present expiry field. Numbers are epoch
// seconds, or milliseconds when large enough.
func timeField(item map[string]any, keys ...string) *time.Time {
	for _, key := range keys {
		switch value := item[key].(type) {
		case string:
			trimmed := strings.TrimSpace(value)
			if trimmed == "" {
				continue
			}
			for _, layout := range expiryLayouts {
				if parsed, err := time.Parse(layout, trimmed); err == nil {
					parsed = parsed.UTC()
					return &parsed
				}
			}
		case float64:
			if value <= 0 || math.IsNaN(value) {
				continue
			}
			var parsed time.Time
			if value > 1e12 {
				parsed = time.UnixMilli(int64(value)).UTC()
			} else {
				parsed = time.Unix(int64(value), 0).UTC()
			}
			return &parsed
		}
	}
	return nil
}
