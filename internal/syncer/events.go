package syncer

// Kind is the granularity at which sync and invalidation operate.
type Kind string

const (
	KindTab    Kind = "tab"
	KindColors Kind = "colors"
	KindImages Kind = "images"
	KindStore  Kind = "store"
	KindAll    Kind = "all"
)

// Reason tags why a change was emitted.
type Reason string

const (
	ReasonSync        Reason = "sync"
	ReasonForced      Reason = "forced_sync"
	ReasonInitialSync Reason = "initial_sync"
	ReasonRealtime    Reason = "realtime"
	ReasonLanguage    Reason = "language_changed"
	ReasonReconnect   Reason = "reconnect"
)

// Change is emitted after a scope was replaced in the cache. Name is empty
// for colors, images and initial_sync.
type Change struct {
	Reason Reason
	Kind   Kind
	Name   string
}

type scope struct {
	kind Kind
	name string
}

func (s scope) key() string {
	if s.name == "" {
		return string(s.kind)
	}
	return string(s.kind) + ":" + s.name
}
