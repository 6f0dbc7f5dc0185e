package aqm

import (
	"time"

	"github.com/flocklab/flocknet/sim"
)

// fqBuckets is the number of flow hash buckets.
const fqBuckets = 1024

// Bucket list membership.
const (
	fqDetached = iota
	fqNew
	fqOld
)

type fqBucket struct {
	idx     uint32
	q       *codelQueue
	deficit int
	where   int
}

// fqQueue fans packets out to per-flow buckets, each running its own CoDel,
// and serves them with deficit round robin. Buckets that just turned
// non-empty are served from the new set before the old set.
type fqQueue struct {
	quantum  int
	target   time.Duration
	interval time.Duration

	buckets map[uint32]*fqBucket
	newList []*fqBucket
	oldList []*fqBucket
	total   int
}

func newFQQueue(quantum int, target, interval time.Duration) *fqQueue {
	return &fqQueue{
		quantum:  quantum,
		target:   target,
		interval: interval,
		buckets:  make(map[uint32]*fqBucket),
	}
}

func (q *fqQueue) bucketFor(p sim.Packet) *fqBucket {
	idx := p.SourceAgent % fqBuckets

	b, ok := q.buckets[idx]
	if !ok {
		b = &fqBucket{
			idx: idx,
			q:   newCodelQueue(q.target, q.interval),
		}
		q.buckets[idx] = b
	}

	return b
}

func (q *fqQueue) Push(p sim.Packet, now sim.Timestamp) {
	b := q.bucketFor(p)

	b.q.Push(p, now)
	q.total++

	// A bucket leaving empty returns to the new set on its next enqueue.
	if b.where == fqDetached {
		b.deficit = q.quantum
		b.where = fqNew
		q.newList = append(q.newList, b)
	}
}

func (q *fqQueue) Len() int {
	return q.total
}

func (q *fqQueue) Clear() {
	q.buckets = make(map[uint32]*fqBucket)
	q.newList = nil
	q.oldList = nil
	q.total = 0
}

func (q *fqQueue) headBucket() (*fqBucket, bool) {
	if len(q.newList) > 0 {
		return q.newList[0], true
	}
	if len(q.oldList) > 0 {
		return q.oldList[0], true
	}

	return nil, false
}

func (q *fqQueue) popHead(b *fqBucket) {
	if b.where == fqNew {
		q.newList = q.newList[1:]
	} else {
		q.oldList = q.oldList[1:]
	}
}

func (q *fqQueue) toOldTail(b *fqBucket) {
	q.popHead(b)
	b.where = fqOld
	q.oldList = append(q.oldList, b)
}

func (q *fqQueue) detach(b *fqBucket) {
	q.popHead(b)
	b.where = fqDetached
}

func (q *fqQueue) Pop(now sim.Timestamp) (sim.Packet, []sim.Packet, bool) {
	var dropped []sim.Packet

	for {
		b, ok := q.headBucket()
		if !ok {
			return sim.Packet{}, dropped, false
		}

		if b.deficit <= 0 {
			b.deficit += q.quantum
			q.toOldTail(b)
			continue
		}

		p, dd, served := b.q.Pop(now)
		q.total -= len(dd)
		dropped = append(dropped, dd...)

		if !served {
			q.detach(b)
			continue
		}

		q.total--
		b.deficit -= q.quantum

		switch {
		case b.q.Len() == 0:
			q.detach(b)
		case b.deficit <= 0:
			q.toOldTail(b)
		}

		return p, dropped, true
	}
}

// FQCoDel hashes flows by source agent into 1024 buckets, runs CoDel per
// bucket and schedules buckets with deficit round robin. The quantum is the
// run's fixed packet size, so each visit serves one packet.
type FQCoDel struct {
	q *fqQueue
}

// NewFQCoDel creates an FQ-CoDel strategy with the given DRR quantum.
func NewFQCoDel(quantum int) *FQCoDel {
	if quantum <= 0 {
		quantum = 1
	}

	return &FQCoDel{q: newFQQueue(quantum, codelTarget, codelInterval)}
}

// OwnQueue hands the flow-bucketed store to the server.
func (f *FQCoDel) OwnQueue() sim.PacketQueue {
	return f.q
}

// OnEnqueue always accepts. Per-bucket CoDel sheds at dequeue and the server
// applies the aggregate capacity bound.
func (f *FQCoDel) OnEnqueue(_ *sim.Packet, _ int, _ sim.Timestamp) sim.Verdict {
	return sim.Accept
}

// OnDequeue is a no-op; the owned queue already saw the dequeue.
func (f *FQCoDel) OnDequeue(_ int, _ sim.Timestamp) {}

// Update is a no-op.
func (f *FQCoDel) Update(_ int, _ time.Duration, _ sim.Timestamp) {}

// Reset empties every bucket and both service lists.
func (f *FQCoDel) Reset() {
	f.q.Clear()
}

// Name returns "FQ-CoDel".
func (f *FQCoDel) Name() string {
	return "FQ-CoDel"
}

// Clone returns a fresh instance with empty buckets.
func (f *FQCoDel) Clone() sim.Strategy {
	return &FQCoDel{
		q: newFQQueue(f.q.quantum, f.q.target, f.q.interval),
	}
}
