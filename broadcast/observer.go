package broadcast

import "sync"

// ChanObserver buffers messages for a single consumer goroutine.
type ChanObserver struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

func NewChanObserver(buffer int) *ChanObserver {
	if buffer <= 0 {
		buffer = 16
	}
	return &ChanObserver{ch: make(chan Message, buffer)}
}

// C returns the receive side. It is closed by Close.
func (o *ChanObserver) C() <-chan Message {
	return o.ch
}

func (o *ChanObserver) Deliver(msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrObserverClosed
	}
	select {
	case o.ch <- msg:
		return nil
	default:
		return ErrObserverBehind
	}
}

func (o *ChanObserver) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.ch)
}
