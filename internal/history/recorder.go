package history

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/sweeney/tank-controller/internal/logic"
	"github.com/sweeney/tank-controller/internal/valve"
)

// DefaultQueue is the Recorder's default queue length.
const DefaultQueue = 256

// Recorder feeds valve events and alerts into a Store from its own
// goroutine. Its methods never block: if the queue is full the entry is
// dropped and logged.
type Recorder struct {
	store *Store
	ch    chan Entry
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewRecorder starts a recorder writing to store.
func NewRecorder(store *Store, queue int) *Recorder {
	if queue <= 0 {
		queue = DefaultQueue
	}
	r := &Recorder{
		store: store,
		ch:    make(chan Entry, queue),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// ObserveValve records a valve transition. It is a valve.Observer.
func (r *Recorder) ObserveValve(e valve.Event) {
	detail := string(e.Status)
	if e.Reason != "" {
		detail = fmt.Sprintf("%s: %s", e.Status, e.Reason)
	}
	r.record(Entry{Kind: KindValve, Valve: e.Valve, Detail: detail, At: e.At})
}

// Alert records an alert. Recorder is a logic.Alerter.
func (r *Recorder) Alert(a logic.Alert) {
	r.record(Entry{Kind: KindAlert, Valve: a.Valve, Detail: fmt.Sprintf("%s: %s", a.Kind, a.Message), At: a.Time})
}

func (r *Recorder) record(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.ch <- e:
	default:
		log.Printf("history: queue full, dropping %s entry", e.Kind)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.ch {
		if _, err := r.store.Append(context.Background(), e); err != nil {
			log.Printf("history: %v", err)
		}
	}
}

// Close stops accepting entries and waits for the queue to drain. It does
// not close the Store.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ch)
	}
	r.mu.Unlock()
	<-r.done
	return nil
}
