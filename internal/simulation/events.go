package simulation

import "time"

// EventType names a change clients may want to refetch on.
type EventType string

const (
	DataChanged       EventType = "data:changed"
	AllocationChanged EventType = "allocation:changed"
)

type Event struct {
	Type EventType `json:"type"`
	Time time.Time `json:"time"`
}

// Listener receives simulation events. OnEvent must not block.
type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) { f(e) }

// Subscribe registers l and returns a function removing it.
func (s *Simulation) Subscribe(l Listener) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()

	s.nextListener++
	id := s.nextListener
	s.listeners[id] = l
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Simulation) emit(t EventType) {
	e := Event{Type: t, Time: s.now()}

	s.lmu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.lmu.Unlock()

	for _, l := range ls {
		l.OnEvent(e)
	}
}
