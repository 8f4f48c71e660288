package realtime

// Event is the wire envelope pushed to subscribers.
type Event struct {
	Topic string `json:"topic"`
	Type  string `json:"type"`
	Data  any    `json:"data"`
}

const (
	EventTypeMessage       = "message"
	EventTypeGlobalMessage = "global_message"
)
