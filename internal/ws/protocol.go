package ws

import "fmt"

// Groups a client can join.
const (
	GroupView    = "view"
	GroupSummary = "summary"
)

var validGroups = map[string]bool{
	GroupView:    true,
	GroupSummary: true,
}

// Upstream message types for internal routing
type (
	joinGroupRequest struct {
		group string
		ackID *uint64
	}
	leaveGroupRequest struct {
		group string
		ackID *uint64
	}
	pingRequest struct{}
)

// parseUpstream routes a decoded upstream envelope.
func parseUpstream(msg map[string]any) (any, error) {
	msgType, _ := msg["type"].(string)

	switch msgType {
	case "joinGroup":
		group, _ := msg["group"].(string)
		return &joinGroupRequest{group: group, ackID: ackIDOf(msg)}, nil

	case "leaveGroup":
		group, _ := msg["group"].(string)
		return &leaveGroupRequest{group: group, ackID: ackIDOf(msg)}, nil

	case "ping":
		return &pingRequest{}, nil

	default:
		return nil, fmt.Errorf("unknown message type: %q", msgType)
	}
}

func ackIDOf(msg map[string]any) *uint64 {
	v, ok := msg["ackId"].(float64)
	if !ok || v < 0 {
		return nil
	}
	id := uint64(v)
	return &id
}

func connectedMessage(connectionID string) map[string]any {
	return map[string]any{
		"type":         "system",
		"event":        "connected",
		"connectionId": connectionID,
	}
}

func ackMessage(ackID uint64, success bool) map[string]any {
	return map[string]any{
		"type":    "ack",
		"ackId":   float64(ackID),
		"success": success,
	}
}

func pongMessage() map[string]any {
	return map[string]any{"type": "pong"}
}

func dataMessage(group string, version uint64, data map[string]any) map[string]any {
	return map[string]any{
		"type":    "message",
		"group":   group,
		"version": float64(version),
		"data":    data,
	}
}
