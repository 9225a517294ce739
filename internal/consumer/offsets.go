package consumer

import (
	"sort"
	"sync"
)

type partitionKey struct {
	topic     string
	partition int
}

type partitionOffsets struct {
	// fetched offsets not yet released, ascending
	pending   []int64
	done      map[int64]struct{}
	completed int64
	committed int64
}

// offsetTracker computes, per topic-partition, the highest offset below
// which every fetched message reached a terminal state.
type offsetTracker struct {
	mu         sync.Mutex
	partitions map[partitionKey]*partitionOffsets
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[partitionKey]*partitionOffsets)}
}

// Track registers a fetched message. Offsets of a partition arrive in
// ascending order.
func (t *offsetTracker) Track(topic string, partition int, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := partitionKey{topic: topic, partition: partition}
	p, ok := t.partitions[key]
	if !ok {
		p = &partitionOffsets{done: make(map[int64]struct{}), completed: -1, committed: -1}
		t.partitions[key] = p
	}
	p.pending = append(p.pending, offset)
}

// Done marks a message terminal and advances the contiguous prefix.
func (t *offsetTracker) Done(topic string, partition int, offset int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.partitions[partitionKey{topic: topic, partition: partition}]
	if !ok {
		return
	}

	p.done[offset] = struct{}{}
	for len(p.pending) > 0 {
		head := p.pending[0]
		if _, ok := p.done[head]; !ok {
			break
		}
		delete(p.done, head)
		p.pending = p.pending[1:]
		p.completed = head
	}
}

// Committable returns every partition whose completed offset moved past
// the last committed one, ordered by topic and partition.
func (t *offsetTracker) Committable() []Offset {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []Offset
	for key, p := range t.partitions {
		if p.completed > p.committed {
			out = append(out, Offset{Topic: key.topic, Partition: key.partition, Offset: p.completed})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Topic != out[j].Topic {
			return out[i].Topic < out[j].Topic
		}
		return out[i].Partition < out[j].Partition
	})

	return out
}

// Committed records offsets the broker acknowledged.
func (t *offsetTracker) Committed(offsets []Offset) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, o := range offsets {
		p, ok := t.partitions[partitionKey{topic: o.Topic, partition: o.Partition}]
		if ok && o.Offset > p.committed {
			p.committed = o.Offset
		}
	}
}

// Pending returns the number of tracked messages not yet released.
func (t *offsetTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, p := range t.partitions {
		n += len(p.pending)
	}
	return n
}
