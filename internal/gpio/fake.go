package gpio

import "sync"

// Write is one recorded output write.
type Write struct {
	Line int
	On   bool
}

// FakeWriter is a test double that records output writes.
// Safe for concurrent use.
type FakeWriter struct {
	mu     sync.Mutex
	writes []Write
	state  map[int]bool
	err    error
	closed bool
}

// NewFakeWriter creates a FakeWriter with every line low.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{state: make(map[int]bool)}
}

// Write records the write. If an error is set, it is returned and the line
// state is left unchanged.
func (f *FakeWriter) Write(line int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.writes = append(f.writes, Write{Line: line, On: on})
	f.state[line] = on
	return nil
}

// Close drives every line low and marks the writer closed.
func (f *FakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for line := range f.state {
		f.state[line] = false
	}
	f.closed = true
	return nil
}

// SetError makes subsequent writes fail with err (nil clears it).
func (f *FakeWriter) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// IsOn reports the last value written to line.
func (f *FakeWriter) IsOn(line int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[line]
}

// Writes returns a copy of every successful write, in order.
func (f *FakeWriter) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.writes))
	copy(out, f.writes)
	return out
}

// Closed reports whether Close was called.
func (f *FakeWriter) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset clears recorded writes and errors.
func (f *FakeWriter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
	f.err = nil
	f.closed = false
}

// FakeLevel is a float switch whose reading is set by the test.
// Safe for concurrent use.
type FakeLevel struct {
	mu     sync.Mutex
	full   bool
	err    error
	reads  int
	closed bool
}

// NewFakeLevel creates a FakeLevel reading full.
func NewFakeLevel(full bool) *FakeLevel {
	return &FakeLevel{full: full}
}

// IsFull returns the scripted reading, or the scripted error.
func (f *FakeLevel) IsFull() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.err != nil {
		return false, f.err
	}
	return f.full, nil
}

// SetFull changes the reading.
func (f *FakeLevel) SetFull(full bool) {
	f.mu.Lock()
	f.full = full
	f.mu.Unlock()
}

// SetError makes reads fail with err (nil clears it).
func (f *FakeLevel) SetError(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

// Reads returns how many times IsFull was called.
func (f *FakeLevel) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Close marks the switch closed.
func (f *FakeLevel) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
