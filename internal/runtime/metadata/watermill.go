package metadata

import (
	"maps"

	"github.com/ThreeDotsLabs/watermill/message"
)

// FromWatermill copies bus message headers into Metadata. Never nil.
func FromWatermill(md message.Metadata) Metadata {
	if out := Metadata(maps.Clone(md)); out != nil {
		return out
	}
	return Metadata{}
}

// ToWatermill builds the headers of a relay bus message. The event name and
// session id always override same-named entries in extra.
func ToWatermill(extra Metadata, event, sessionID string) message.Metadata {
	wm := make(message.Metadata, len(extra)+2)
	maps.Copy(wm, extra)
	wm[KeyEvent] = event
	wm[KeySessionID] = sessionID
	return wm
}
