package plugin

import "errors"

var (
	// ErrNotRegistered reports a plugin that is not loaded.
	ErrNotRegistered = errors.New("plugin not registered")
	// ErrWrongType reports a plugin loaded with a different type than requested.
	ErrWrongType = errors.New("plugin has wrong type")
	// ErrUnknown reports a name with no catalog entry.
	ErrUnknown = errors.New("unknown plugin")
	// ErrBadMagic reports a module built against another plugin ABI.
	ErrBadMagic = errors.New("plugin magic number mismatch")
	// ErrBadType reports a module with an out-of-range type.
	ErrBadType = errors.New("plugin type out of range")
)

// Error names the plugin an operation failed for.
type Error struct {
	Plugin string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Plugin + ": " + e.Err.Error()
	}
	return e.Op + " " + e.Plugin + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
