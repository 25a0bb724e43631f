package gateway

import (
	"fmt"
	"math"
	"strings"
)

// Outcome is the normalized reading of a gateway status payload.
type Outcome struct {
	Delivered bool
	Ack       bool
	Failed    bool
	Detail    string
}

func Classify(body map[string]any) Outcome {
	status := strings.ToLower(firstString(body, "status", "event"))

	return Outcome{
		Delivered: strings.Contains(status, "deliver") || truthy(body["delivered"]) || truthy(body["isDelivered"]),
		Ack:       strings.Contains(status, "read") || strings.Contains(status, "ack") || truthy(body["ack"]) || truthy(body["isRead"]) || truthy(body["read"]),
		Failed:    strings.Contains(status, "fail") || strings.Contains(status, "error") || truthy(body["error"]),
		Detail:    detail(body, status),
	}
}

// MessageID returns the first non-empty message identifier found in a gateway body.
func MessageID(body map[string]any) string {
	if id := firstString(body, "messageId", "id", "message_id"); id != "" {
		return id
	}
	if data, ok := body["data"].(map[string]any); ok {
		return firstString(data, "id")
	}
	return ""
}

// sentMessageID prefers "id" since that is what send responses carry.
func sentMessageID(body map[string]any) string {
	if id := firstString(body, "id"); id != "" {
		return id
	}
	return MessageID(body)
}

func detail(body map[string]any, status string) string {
	if d := firstString(body, "detail", "error"); d != "" {
		return d
	}
	return status
}

func firstString(body map[string]any, keys ...string) string {
	for _, key := range keys {
		if s := stringify(body[key]); s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if !t {
			return ""
		}
		return "true"
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case map[string]any, []any:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	default:
		return true
	}
}
