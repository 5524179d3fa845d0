package events

import "context"

// StreamDeals carries every deal lifecycle event.
const StreamDeals = "events:deal"

// Event types
const (
	EventDealCreated       = "deal_created"
	EventDealStatusChanged = "deal_status_changed"
	EventDepositVerified   = "deposit_verified"
	EventDepositFailed     = "deposit_failed"
)

// Event payloads are flat JSON objects. Keys used by consumers:
// deal_id, old_status, new_status, op, recipients ([]int64 telegram ids), text.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// Recipients reads the recipients list of a payload. Events that crossed Redis
// carry JSON numbers, in-process events carry []int64.
func Recipients(payload map[string]any) []int64 {
	switch v := payload["recipients"].(type) {
	case []int64:
		return v
	case []any:
		out := make([]int64, 0, len(v))
		for _, item := range v {
			switch n := item.(type) {
			case float64:
				out = append(out, int64(n))
			case int64:
				out = append(out, n)
			case int:
				out = append(out, int64(n))
			}
		}
		return out
	}
	return nil
}
