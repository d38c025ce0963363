package scheduler

import "dropwatch-go/internal/core"

// ticket is one unit of dispatched work: a job due to run for a specific
// target date.
type ticket struct {
	job        core.Job
	targetDate core.Date
	seq        int // submission order, for FIFO tie-breaking within a priority
}

// ticketHeap orders tickets by priority (lower runs first, per
// cron_job_service.get_all's priority-ascending ordering), then by
// submission order.
type ticketHeap []ticket

func (h ticketHeap) Len() int { return len(h) }
func (h ticketHeap) Less(i, j int) bool {
	if h[i].job.Priority != h[j].job.Priority {
		return h[i].job.Priority < h[j].job.Priority
	}
	return h[i].seq < h[j].seq
}
func (h ticketHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *ticketHeap) Push(x interface{}) { *h = append(*h, x.(ticket)) }
func (h *ticketHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
