package rolechanger

import (
	"container/heap"
	"time"

	"github.com/flowhaven/ofcore/pkg/ofp"
)

// taskType distinguishes a role-request send from its timeout enforcement.
type taskType int

const (
	taskSend taskType = iota
	taskTimeout
)

// roleChangeTask is a scheduled unit of work on the Changer's task heap.
// SEND tasks emit role requests to a snapshot of switches; TIMEOUT tasks
// verify every switch in the snapshot drained its pending entry for cookie.
type roleChangeTask struct {
	kind     taskType
	switches []*ofp.Switch
	role     ofp.Role // unused for TIMEOUT
	cookie   uint64
	deadline time.Time
	seq      uint64 // insertion order, breaks deadline ties
	index    int    // heap.Interface bookkeeping
}

// compareTo orders tasks by deadline ascending; ties are broken by
// insertion order. This is a total preorder, matching spec §8 property 4.
func (t *roleChangeTask) compareTo(o *roleChangeTask) int {
	switch {
	case t.deadline.Before(o.deadline):
		return -1
	case t.deadline.After(o.deadline):
		return 1
	case t.seq < o.seq:
		return -1
	case t.seq > o.seq:
		return 1
	default:
		return 0
	}
}

// taskHeap is a container/heap.Interface over roleChangeTask pointers,
// keyed by compareTo.
type taskHeap []*roleChangeTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].compareTo(h[j]) < 0 }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}

func (h *taskHeap) Push(x any) {
	t := x.(*roleChangeTask)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

var _ heap.Interface = (*taskHeap)(nil)
