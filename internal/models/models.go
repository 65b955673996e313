package models

// WSMessage represents a WebSocket message
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// EventFilter narrows an event query. Empty fields match everything.
type EventFilter struct {
	Status        EventStatus `json:"status,omitempty"`
	RequestedBy   string      `json:"requestedBy,omitempty"`
	Organizer     string      `json:"organizer,omitempty"`
	Member        string      `json:"member,omitempty"`
	ParentEventID string      `json:"parentEventId,omitempty"`
	NewestFirst   bool        `json:"newestFirst,omitempty"`
	Limit         int         `json:"limit,omitempty"`
}

// Matches reports whether ev satisfies every set field of the filter
func (f EventFilter) Matches(ev *Event) bool {
	if f.Status != "" && ev.Status != f.Status {
		return false
	}
	if f.RequestedBy != "" && ev.RequestedBy != f.RequestedBy {
		return false
	}
	if f.Organizer != "" && !ev.IsOrganizer(f.Organizer) {
		return false
	}
	if f.Member != "" && !ev.IsParticipant(f.Member) {
		return false
	}
	if f.ParentEventID != "" && ev.ParentEventID != f.ParentEventID {
		return false
	}
	return true
}
