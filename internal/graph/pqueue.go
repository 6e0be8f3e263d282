package graph

import "container/heap"

// Compile time check to ensure priorityQueue satisfies the heap interface.
var _ heap.Interface = (*priorityQueue)(nil)

type pqItem struct {
	node     int32
	distance float32
}

// priorityQueue is a min-heap on distance, or a max-heap when desc is set.
type priorityQueue struct {
	desc  bool
	items []pqItem
}

func (pq *priorityQueue) Len() int { return len(pq.items) }

func (pq *priorityQueue) Less(i, j int) bool {
	if pq.desc {
		return pq.items[i].distance > pq.items[j].distance
	}
	return pq.items[i].distance < pq.items[j].distance
}

func (pq *priorityQueue) Swap(i, j int) { pq.items[i], pq.items[j] = pq.items[j], pq.items[i] }

func (pq *priorityQueue) Push(x any) { pq.items = append(pq.items, x.(pqItem)) }

func (pq *priorityQueue) Pop() any {
	n := len(pq.items)
	item := pq.items[n-1]
	pq.items = pq.items[:n-1]
	return item
}

func (pq *priorityQueue) top() pqItem { return pq.items[0] }

func (pq *priorityQueue) push(item pqItem) { heap.Push(pq, item) }

func (pq *priorityQueue) pop() pqItem { return heap.Pop(pq).(pqItem) }
