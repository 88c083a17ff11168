package broker

import "go.uber.org/atomic"

type counters struct {
	issued   atomic.Int64
	consumed atomic.Int64
	notFound atomic.Int64
	expired  atomic.Int64
	replayed atomic.Int64
	swept    atomic.Int64
}

// Stats is a snapshot of broker activity since start
type Stats struct {
	Issued         int64 `json:"issued"`
	Consumed       int64 `json:"consumed"`
	NotFound       int64 `json:"notFound"`
	Expired        int64 `json:"expired"`
	Replayed       int64 `json:"replayed"`
	Swept          int64 `json:"swept"`
	PendingDeletes int   `json:"pendingDeletes"`
}

// Stats returns the current counters
func (b *Broker) Stats() Stats {
	return Stats{
		Issued:         b.stats.issued.Load(),
		Consumed:       b.stats.consumed.Load(),
		NotFound:       b.stats.notFound.Load(),
		Expired:        b.stats.expired.Load(),
		Replayed:       b.stats.replayed.Load(),
		Swept:          b.stats.swept.Load(),
		PendingDeletes: b.reaper.pending(),
	}
}
