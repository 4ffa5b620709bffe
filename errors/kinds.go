package errors

// Agent error taxonomy.
//
// Each kind is a reference error. The constructors below mark an existing
// error with a kind, so errors.Is(err, ErrTransport) keeps working after any
// amount of Wrap calls further up the stack.
var (
	// ErrTransport: the agent pipe closed or the subprocess died.
	ErrTransport = New("transport error")

	// ErrProtocol: handshake or ordering violation. Fatal to the session.
	ErrProtocol = New("protocol error")

	// ErrDecode: a malformed inbound frame. Logged and skipped.
	ErrDecode = New("decode error")

	// ErrRequest: a single RPC call was rejected or timed out.
	ErrRequest = New("request failed")

	// ErrConfiguration: unusable runtime or agent path, caught before spawn.
	ErrConfiguration = New("configuration error")
)

// Transport marks err as a transport failure.
func Transport(err error) error { return mark(err, ErrTransport) }

// Protocol marks err as a protocol violation.
func Protocol(err error) error { return mark(err, ErrProtocol) }

// Decode marks err as a frame decoding failure.
func Decode(err error) error { return mark(err, ErrDecode) }

// Request marks err as a failed request.
func Request(err error) error { return mark(err, ErrRequest) }

// Configuration marks err as a configuration problem.
func Configuration(err error) error { return mark(err, ErrConfiguration) }

func mark(err, kind error) error {
	if err == nil {
		return nil
	}
	return Mark(err, kind)
}

// Kind returns the taxonomy name of err, or "internal" when it carries none.
// Protocol wins over transport: a handshake attempted on a dead pipe is a
// protocol violation first.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrProtocol):
		return "protocol"
	case Is(err, ErrTransport):
		return "transport"
	case Is(err, ErrDecode):
		return "decode"
	case Is(err, ErrRequest):
		return "request"
	case Is(err, ErrConfiguration):
		return "configuration"
	default:
		return "internal"
	}
}

// IsFatal reports whether err should stop the agent: transport and protocol
// failures end the session, everything else is recoverable.
func IsFatal(err error) bool {
	return err != nil && IsAny(err, ErrTransport, ErrProtocol)
}
