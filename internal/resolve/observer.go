package resolve

import "time"

// CallKind distinguishes the two bridge request shapes.
type CallKind string

const (
	CallStyle   CallKind = "style"
	CallInspect CallKind = "inspect"
)

// Observer is notified around every bridge round trip. Implementations
// must be safe for concurrent use.
type Observer interface {
	CallStarted(kind CallKind)
	CallFinished(kind CallKind, elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) CallStarted(CallKind)                         {}
func (nopObserver) CallFinished(CallKind, time.Duration, error) {}

// MultiObserver fans notifications out to several observers.
type MultiObserver []Observer

func (m MultiObserver) CallStarted(kind CallKind) {
	for _, o := range m {
		o.CallStarted(kind)
	}
}

func (m MultiObserver) CallFinished(kind CallKind, elapsed time.Duration, err error) {
	for _, o := range m {
		o.CallFinished(kind, elapsed, err)
	}
}
