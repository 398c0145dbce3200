package board

import "errors"

var (
	// ErrPluginContract means the configured pipeline did not produce the
	// identity fields the board depends on. It is an operator problem, not a
	// user one.
	ErrPluginContract = errors.New("board: validator did not produce required fields")

	// ErrBackend wraps failures talking to the record store.
	ErrBackend = errors.New("board: backend unavailable")
)
