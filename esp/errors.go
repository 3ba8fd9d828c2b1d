package esp

import "errors"

var (
	// ErrNoDialer is returned when a Device is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the module.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Device
	// that has no transport.
	//
	// This can occur if the Dialer returned a nil Transport or if the Device
	// was not created via New.
	ErrNotInitialized = errors.New("device not initialized")

	// ErrAlreadyClosed is returned when an operation, including Close, is
	// attempted on a Device that has already been closed.
	ErrAlreadyClosed = errors.New("device already closed")

	// ErrTimeout is returned when an expected token, line or data frame did
	// not arrive before its deadline. The deadline bounds the silence between
	// received bytes, not the total duration of the wait.
	//
	// A reply that never contains the expected token is indistinguishable from
	// a slow one and is reported the same way.
	ErrTimeout = errors.New("timed out waiting for module")

	// ErrShortRead marks a transport read that returned fewer bytes than were
	// reported as buffered. It is logged and counted, never returned: the
	// matcher only consumes what it received.
	ErrShortRead = errors.New("short read")

	// ErrSequenceFailure is returned when a step of a multi-step operation
	// fails and the remaining steps are skipped. The failing step's error is
	// wrapped as well.
	ErrSequenceFailure = errors.New("sequence failed")

	// ErrInvalidState is returned when an operation is not allowed in the
	// current connection state.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrNoHost is returned by RequestURL when no client connection has been
	// opened with ConnectTCP.
	ErrNoHost = errors.New("no open client connection")

	// ErrMalformedHeader is returned when the bytes following a "+IPD," frame
	// prefix do not end in ":" within the longest header the firmware emits.
	// The consumed bytes are lost; the next receive resynchronizes on the
	// following frame prefix.
	ErrMalformedHeader = errors.New("malformed frame header")

	// ErrLineTooLong is returned when a response line exceeds the maximum
	// length requested by the caller. The truncated line is returned with it.
	ErrLineTooLong = errors.New("response line too long")
)
