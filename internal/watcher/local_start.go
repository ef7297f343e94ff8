package watcher

// localStart announces local activity as soon as a batch gets past the
// cheap stages, before debouncing delays it.
type localStart struct {
	notifier *Notifier
}

func (s *localStart) step(events Batch) Batch {
	s.notifier.Publish(Notification{Type: NotifyLocalStart})
	return events
}
