package scheduler

import "container/heap"

// taskQueue is a min-heap of tasks ordered by due time.
//
// Tasks with equal due times come out in no particular order. Not
// thread-safe: the scheduler guards it with its mutex.
type taskQueue []Task

var _ heap.Interface = (*taskQueue)(nil)

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	return q[i].Details().Due().Before(q[j].Details().Due())
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].Details().index = i
	q[j].Details().index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(Task)
	t.Details().index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	// Nil out the slot so the backing array does not pin the task.
	old[n-1] = nil
	t.Details().index = -1
	*q = old[:n-1]
	return t
}

// peek returns the earliest-due task without removing it.
func (q taskQueue) peek() Task {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

// remove takes t out of the queue if it is queued.
func (q *taskQueue) remove(t Task) {
	if i := t.Details().index; i >= 0 && i < len(*q) && (*q)[i].Details() == t.Details() {
		heap.Remove(q, i)
	}
}
