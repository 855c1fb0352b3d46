package recorder

import (
	"time"

	"github.com/soundlab/tapedeck/internal/audio"
)

// EventType discriminates engine events pushed to connected UIs.
type EventType string

const (
	EventLevel   EventType = "level"
	EventState   EventType = "state"
	EventSaved   EventType = "saved"
	EventVideo   EventType = "video"
	EventWarning EventType = "warning"
	EventError   EventType = "error"
)

// Event is one engine notification. Fields are populated per type and
// serialized as-is over the websocket.
type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`

	Level *audio.ChannelLevel `json:"level,omitempty"`

	State      string `json:"state,omitempty"`
	AutoRecord *bool  `json:"auto_record,omitempty"`
	MonitorArm *bool  `json:"monitor_armed,omitempty"`

	Path      string  `json:"path,omitempty"`
	DurationS float64 `json:"duration_s,omitempty"`
	TrimmedS  float64 `json:"trimmed_s,omitempty"`

	Message string `json:"message,omitempty"`
}

// levelEvent builds a level event from one metered block.
func levelEvent(lu audio.LevelUpdate) Event {
	lv := lu.Level
	return Event{Type: EventLevel, Time: lu.Time, Level: &lv}
}
