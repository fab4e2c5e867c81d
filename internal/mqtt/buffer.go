package mqtt

import "log/slog"

// bufferedMsg is a serialized message waiting for the broker.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
	system   bool // lifecycle event rather than an index event
}

// offlineQueue holds messages published while the broker is unreachable.
// When full it evicts the oldest index event, falling back to the oldest
// message only when every queued message is a system event.
// Not safe for concurrent use; the caller must synchronize.
type offlineQueue struct {
	msgs     []bufferedMsg
	capacity int
	overflow bool // set until the next drain once anything was evicted
	dropped  int
	logger   *slog.Logger
}

func newOfflineQueue(capacity int, logger *slog.Logger) *offlineQueue {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &offlineQueue{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

func (q *offlineQueue) push(msg bufferedMsg) {
	if len(q.msgs) == q.capacity {
		victim := 0
		for i, m := range q.msgs {
			if !m.system {
				victim = i
				break
			}
		}
		if !q.overflow {
			q.logger.Warn("offline queue full, evicting", "capacity", q.capacity)
			q.overflow = true
		}
		q.msgs = append(q.msgs[:victim], q.msgs[victim+1:]...)
		q.dropped++
	}
	q.msgs = append(q.msgs, msg)
}

// drainAll returns the queued messages oldest first and empties the queue.
func (q *offlineQueue) drainAll() []bufferedMsg {
	if len(q.msgs) == 0 {
		return nil
	}
	out := q.msgs
	q.msgs = make([]bufferedMsg, 0, q.capacity)
	q.overflow = false
	return out
}

func (q *offlineQueue) len() int {
	return len(q.msgs)
}
