package stick

import "errors"

// Failure taxonomy for lifecycle stages. Each kind is distinct so the hub
// can render an accurate diagnostic; all of them collapse to the same
// retryable setup outcome.
var (
	// ErrPort means the physical/serial channel could not be opened.
	ErrPort = errors.New("cannot open stick port")

	// ErrStickInit means the stick protocol handshake failed.
	ErrStickInit = errors.New("stick initialization failed")

	// ErrCirclePlus means the Circle+ coordinator node is unreachable.
	ErrCirclePlus = errors.New("circle+ unreachable")

	// ErrNetworkDown means the mesh network is not responding. This is an
	// operational condition, not a configuration one.
	ErrNetworkDown = errors.New("plugwise network down")

	// ErrTimeout means a stage exceeded its deadline.
	ErrTimeout = errors.New("stick operation timed out")
)
