package initd

// Journaler describes an event logger.
type Journaler interface {
	Write(Event) error
}

// JournalerFunc is a function that implements Journaler.
type JournalerFunc func(Event) error

// Write calls f.
func (f JournalerFunc) Write(ev Event) error { return f(ev) }

// Discard is a journaler that drops every event.
var Discard Journaler = JournalerFunc(func(Event) error { return nil })
