package watcher

import (
	"sync"
)

// NotificationType names a lifecycle notification.
type NotificationType string

const (
	NotifyLocalStart      NotificationType = "local-start"
	NotifyLocalEnd        NotificationType = "local-end"
	NotifyInitialScanDone NotificationType = "initial-scan-done"
	NotifySyncTarget      NotificationType = "sync-target"
	NotifyFatal           NotificationType = "fatal"
	NotifyBufferingStart  NotificationType = "buffering-start"
	NotifyBufferingEnd    NotificationType = "buffering-end"
	// NotifyDispatched is published for every event applied to the store.
	NotifyDispatched NotificationType = "dispatched"
)

// Notification is a lifecycle signal published by the pipeline.
type Notification struct {
	Type  NotificationType
	Seq   int64  // sync-target watermark
	Err   error  // fatal error
	Event *Event // dispatched event
}

// Notifier fans notifications out to subscribers. Each subscriber gets a
// buffered channel; notifications that do not fit are dropped for that
// subscriber so publishers never block.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan Notification
	next   int
	closed bool
}

// NewNotifier creates a Notifier.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Notification)}
}

// Subscribe returns a channel of notifications with the given buffer size
// and a function to unsubscribe.
func (n *Notifier) Subscribe(buffer int) (<-chan Notification, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan Notification, buffer)
	if n.closed {
		close(ch)
		return ch, func() {}
	}

	id := n.next
	n.next++
	n.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if sub, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(sub)
			}
		})
	}
}

// Publish delivers a notification to every subscriber.
func (n *Notifier) Publish(note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		select {
		case ch <- note:
		default:
		}
	}
}

// Close closes every subscription. Later publications are dropped.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
