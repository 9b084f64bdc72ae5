package transport

// Queue is an ordered play list with a cursor. Next and Previous wrap
// around when the queue holds more than one item; a single-item queue never
// moves. The zero value is an empty queue.
type Queue struct {
	items []string
	index int
}

// NewQueue returns a queue over items positioned at start, clamped to the
// valid range.
func NewQueue(items []string, start int) Queue {
	q := Queue{items: append([]string(nil), items...)}
	if start >= len(q.items) {
		start = len(q.items) - 1
	}
	if start < 0 {
		start = 0
	}
	q.index = start
	return q
}

func (q *Queue) Len() int   { return len(q.items) }
func (q *Queue) Index() int { return q.index }

// Items returns a copy of the queue contents.
func (q *Queue) Items() []string {
	return append([]string(nil), q.items...)
}

// Current returns the item under the cursor, or "" for an empty queue.
func (q *Queue) Current() string {
	if len(q.items) == 0 {
		return ""
	}
	return q.items[q.index]
}

// Next moves to the following item, wrapping to the first. It reports
// whether the cursor moved.
func (q *Queue) Next() (string, bool) {
	switch {
	case q.index+1 < len(q.items):
		q.index++
	case len(q.items) > 1:
		q.index = 0
	default:
		return q.Current(), false
	}
	return q.items[q.index], true
}

// Previous moves to the preceding item, wrapping to the last.
func (q *Queue) Previous() (string, bool) {
	switch {
	case q.index > 0:
		q.index--
	case len(q.items) > 1:
		q.index = len(q.items) - 1
	default:
		return q.Current(), false
	}
	return q.items[q.index], true
}

// Advance moves to the following item without wrapping. It is used when a
// track plays to its end.
func (q *Queue) Advance() (string, bool) {
	if q.index+1 >= len(q.items) {
		return q.Current(), false
	}
	q.index++
	return q.items[q.index], true
}
