package settings

import "sync"

// Handle identifies a subscription for Unsubscribe.
type Handle uint64

// Observers is a publish/subscribe list for settings changes. Callbacks run
// synchronously, in registration order, on the goroutine calling Notify.
type Observers struct {
	mu   sync.Mutex
	next Handle
	subs []subscription
}

type subscription struct {
	handle Handle
	fn     func(*Settings)
}

// Subscribe registers fn and returns its handle.
func (o *Observers) Subscribe(fn func(*Settings)) Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next++
	o.subs = append(o.subs, subscription{handle: o.next, fn: fn})
	return o.next
}

// Unsubscribe removes a subscription. Unknown handles are ignored.
func (o *Observers) Unsubscribe(h Handle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, sub := range o.subs {
		if sub.handle == h {
			o.subs = append(o.subs[:i], o.subs[i+1:]...)
			return
		}
	}
}

// Notify hands each subscriber its own clone of s.
func (o *Observers) Notify(s *Settings) {
	o.mu.Lock()
	subs := make([]subscription, len(o.subs))
	copy(subs, o.subs)
	o.mu.Unlock()

	for _, sub := range subs {
		sub.fn(s.Clone())
	}
}

// Len returns the number of subscribers.
func (o *Observers) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.subs)
}
