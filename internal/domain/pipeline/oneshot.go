package pipeline

import "sync"

// OneShot is the sending half of a single-use response channel. The
// receiving half observes either exactly one value or a closed channel
// when the sender was dropped without responding.
type OneShot[D any] struct {
	mu        sync.Mutex
	ch        chan D
	responded bool
	closed    bool
}

// NewOneShot returns a sender and its receive-only channel.
func NewOneShot[D any]() (*OneShot[D], <-chan D) {
	ch := make(chan D, 1)
	return &OneShot[D]{ch: ch}, ch
}

// Respond delivers v. It never blocks and succeeds at most once.
func (o *OneShot[D]) Respond(v D) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.responded {
		return ErrAlreadyResponded
	}
	if o.closed {
		return ErrOneShotClosed
	}
	o.responded = true
	o.closed = true
	o.ch <- v
	close(o.ch)
	return nil
}

// Close drops the sender. A receiver still waiting sees a closed channel.
func (o *OneShot[D]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.ch)
}

// Responded reports whether a value was delivered.
func (o *OneShot[D]) Responded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.responded
}
