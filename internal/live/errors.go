package live

import "errors"

var (
	ErrMissingInput     = errors.New("missing required input")
	ErrNoActiveSession  = errors.New("no live stream is running")
	ErrControllerClosed = errors.New("controller stopped")
)
