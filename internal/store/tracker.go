package store

// Tracker receives progress from long-running store operations. Each call is a
// visible state change; implementations persist and publish it before returning.
type Tracker interface {
	// Begin resets the unit of work to total items of which done are already complete.
	Begin(total, done int, message string) error
	// Advance marks n more items complete.
	Advance(n int, message string) error
	// Log appends a message without changing progress.
	Log(message string) error
}

type nopTracker struct{}

func (nopTracker) Begin(int, int, string) error { return nil }
func (nopTracker) Advance(int, string) error    { return nil }
func (nopTracker) Log(string) error             { return nil }

func trackerOrNop(t Tracker) Tracker {
	if t == nil {
		return nopTracker{}
	}
	return t
}
