package metadata

// Metadata represents the headers carried alongside a bus message.
type Metadata map[string]string

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// Event returns the relay event name, if present.
func (m Metadata) Event() string {
	return m[KeyEvent]
}

// SessionID returns the originating session id, if present.
func (m Metadata) SessionID() string {
	return m[KeySessionID]
}

// CorrelationID returns the correlation id, if present.
func (m Metadata) CorrelationID() string {
	return m[KeyCorrelationID]
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		md[pairs[i]] = pairs[i+1]
	}
	return md
}
