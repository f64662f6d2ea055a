package types

// Event represents a typed event emitted during state transitions. Sequence
// and Timestamp are assigned by the node once the producing operation has
// committed; zero values mean the event has not been published yet.
type Event struct {
	Sequence   uint64            `json:"sequence"`
	Timestamp  int64             `json:"timestamp"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// Attr returns the named attribute or the empty string.
func (e *Event) Attr(key string) string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[key]
}
