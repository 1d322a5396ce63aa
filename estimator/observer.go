package estimator

// EventKind identifies a diagnostic event raised by an Estimator
type EventKind int

const (
	EventPredicted EventKind = iota
	EventUpdated
	EventRejected
	EventClamped
	EventStale
	EventReacquired
	EventGateRecovered
	EventSingular
)

var eventNames = [...]string{
	EventPredicted:     "predicted",
	EventUpdated:       "updated",
	EventRejected:      "rejected",
	EventClamped:       "clamped",
	EventStale:         "stale",
	EventReacquired:    "reacquired",
	EventGateRecovered: "gate_recovered",
	EventSingular:      "singular",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return "unknown"
}

// Event describes one diagnostic occurrence. Distance is set for update-related events.
type Event struct {
	Kind        EventKind
	Time        float64
	Measurement Kind
	Distance    float64
	Err         error
}

// Observer receives diagnostic events synchronously on the caller's goroutine.
// Implementations must not call back into the Estimator.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

type nopObserver struct{}

func (nopObserver) Observe(Event) {}

// Observers fans an event out to several observers in order
type Observers []Observer

func (os Observers) Observe(ev Event) {
	for _, o := range os {
		o.Observe(ev)
	}
}

// Stats counts what an Estimator has done since Initialize
type Stats struct {
	Predicts   int
	Updates    int
	Rejections int
	Clamps     int
	Stale      int
	Reacquired int
	Recovered  int
	Singular   int

	Innovation [3]InnovationStats // position fix innovations per axis
}
