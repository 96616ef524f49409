package metadata

// Metadata keys carried on bus messages. They are reserved for the relay.
const (
	// KeyEvent names the inbound event (for example "share-location").
	KeyEvent = "relay_event"

	// KeySessionID identifies the connection the event arrived on.
	KeySessionID = "relay_session_id"

	// KeyRemoteAddr, KeyUserAgent and KeyConnectedAt describe a freshly
	// accepted connection on session-opened events.
	KeyRemoteAddr  = "relay_remote_addr"
	KeyUserAgent   = "relay_user_agent"
	KeyConnectedAt = "relay_connected_at"

	// KeyInstanceID identifies the relay process that accepted the connection.
	KeyInstanceID = "relay_instance_id"

	// KeyCorrelationID tracks a single inbound event through middleware logs and spans.
	KeyCorrelationID = "correlation_id"
)
