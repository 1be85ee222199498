package transfer

// Event is one progress message from a running transfer or import. Sessions
// report into a Reporter; schedulers (worker pools, IPC bridges) consume
// events however they like, and the core never learns about them.
type Event struct {
	HashID string
	// Bytes is cumulative bytes transferred so far.
	Bytes int64
	Done  bool
	Err   error
}

// Reporter receives progress events. Implementations must not block.
type Reporter interface {
	Report(Event)
}

// ChanReporter forwards events onto a channel, dropping events the consumer
// is too slow to take; progress reporting never stalls a transfer.
type ChanReporter struct {
	C chan Event
}

func NewChanReporter(buffer int) *ChanReporter {
	return &ChanReporter{C: make(chan Event, buffer)}
}

func (c *ChanReporter) Report(e Event) {
	select {
	case c.C <- e:
	default:
	}
}

// nopReporter is used when the caller passes a nil Reporter.
type nopReporter struct{}

func (nopReporter) Report(Event) {}
