package realtime

import "fmt"

// UsageError reports a misuse of the client API: connecting twice,
// sending while disconnected, registering a duplicate tool, cancelling an
// invalid item. It is always returned synchronously to the caller and is
// never worth retrying.
type UsageError struct {
	msg string
}

func (e *UsageError) Error() string { return e.msg }

func usageErrorf(format string, args ...any) *UsageError {
	return &UsageError{msg: fmt.Sprintf(format, args...)}
}

// ProtocolError reports an inbound event the conversation cannot apply:
// an unrecognized event type, or an event referencing an item or response
// that must exist but does not. It indicates a version mismatch with the
// remote endpoint or an internal bug and is surfaced rather than dropped,
// since silently ignoring it would corrupt conversation state.
type ProtocolError struct {
	msg string
}

func (e *ProtocolError) Error() string { return e.msg }

func protocolErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{msg: fmt.Sprintf(format, args...)}
}

// TransportError reports a connection-level failure. The caller may
// recover by reconnecting; the client never reconnects on its own.
type TransportError struct {
	msg string
	err error
}

func (e *TransportError) Error() string {
	if e.err == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %v", e.msg, e.err)
}

func (e *TransportError) Unwrap() error { return e.err }

func transportError(msg string, err error) *TransportError {
	return &TransportError{msg: msg, err: err}
}
