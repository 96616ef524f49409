package errors

import sterrors "errors"

var (
	ErrConfigRequired    = sterrors.New("devicerelay: configuration is required")
	ErrLoggerRequired    = sterrors.New("devicerelay: logger is required")
	ErrPublisherRequired = sterrors.New("devicerelay: publisher is required")
	ErrTopicRequired     = sterrors.New("devicerelay: topic is required")
	ErrEventNameRequired = sterrors.New("devicerelay: event name is required")
	ErrSessionIDRequired = sterrors.New("devicerelay: session id is required")
	ErrMalformedEnvelope = sterrors.New("devicerelay: malformed envelope")
	ErrServiceNotStarted = sterrors.New("devicerelay: service is not running")
)

// ConfigValidationError marks errors returned by Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "devicerelay: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError wraps err, returning nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
