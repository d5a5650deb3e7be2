package session

import "github.com/alxayo/go-bolt/internal/bolt/packstream"

// Records is a lazy sequence of field-lists a run-task produces, consumed
// one item at a time by the worker once a PULL_ALL releases its readiness
// signal. Next returns (fields, true, nil) for each item, then
// (nil, false, nil) at the end, or (nil, false, err) on failure.
type Records interface {
	Next() (packstream.List, bool, error)
}

// SliceRecords adapts a fully materialized slice of field-lists to Records,
// for run-tasks that don't need true laziness (e.g. an echo handler).
type SliceRecords struct {
	items []packstream.List
	pos   int
}

// NewSliceRecords wraps items as a Records sequence.
func NewSliceRecords(items []packstream.List) *SliceRecords {
	return &SliceRecords{items: items}
}

func (r *SliceRecords) Next() (packstream.List, bool, error) {
	if r == nil || r.pos >= len(r.items) {
		return nil, false, nil
	}
	v := r.items[r.pos]
	r.pos++
	return v, true, nil
}

// RunFunc is the application-provided computation invoked on RUN. It may
// return a single field-list's worth of Records or a longer lazy sequence;
// Records being nil is treated as zero produced items.
type RunFunc func(statement string, params packstream.Map) (Records, error)

// Hooks is the capability set an embedder supplies to customize a server
// session, replacing the inheritance-based extension point of the source
// implementation (spec.md §9 "Replacing inheritance for custom server
// sessions"; grounded on internal/rtmp/rpc/dispatcher.go's handler-function-
// fields pattern generalized from RTMP commands to Bolt lifecycle hooks).
// OnRun is required; all others default to no-ops if left nil.
type Hooks struct {
	GetServerMetadata func() packstream.Map
	OnInit            func(authToken packstream.Map) error
	OnRun             RunFunc
	OnAckFailure      func() error
	OnDiscardAll      func() error
	OnReset           func() error
	OnConnectionClose func()
}

func (h Hooks) serverMetadata() packstream.Map {
	if h.GetServerMetadata == nil {
		return packstream.Map{}
	}
	return h.GetServerMetadata()
}

func (h Hooks) init(authToken packstream.Map) error {
	if h.OnInit == nil {
		return nil
	}
	return h.OnInit(authToken)
}

func (h Hooks) ackFailure() error {
	if h.OnAckFailure == nil {
		return nil
	}
	return h.OnAckFailure()
}

func (h Hooks) discardAll() error {
	if h.OnDiscardAll == nil {
		return nil
	}
	return h.OnDiscardAll()
}

func (h Hooks) reset() error {
	if h.OnReset == nil {
		return nil
	}
	return h.OnReset()
}

func (h Hooks) connectionClosed() {
	if h.OnConnectionClose != nil {
		h.OnConnectionClose()
	}
}
