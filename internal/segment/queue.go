package segment

// voxelQueue is a min-priority queue of voxel offsets. Entries with equal
// priority pop in insertion order, which keeps flooding breadth-first across
// plateaus.
type voxelQueue struct {
	items []queueItem
	seq   uint64
}

type queueItem struct {
	priority float32
	seq      uint64
	offset   int32
}

func (q *voxelQueue) Len() int { return len(q.items) }

func (q *voxelQueue) less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	if a.priority != b.priority {
		return a.priority < b.priority
	}
	return a.seq < b.seq
}

func (q *voxelQueue) Push(offset int, priority float32) {
	q.items = append(q.items, queueItem{priority: priority, seq: q.seq, offset: int32(offset)})
	q.seq++

	i := len(q.items) - 1
	for i > 0 {
		parent := (i - 1) / 2
		if !q.less(i, parent) {
			break
		}
		q.items[i], q.items[parent] = q.items[parent], q.items[i]
		i = parent
	}
}

func (q *voxelQueue) Pop() (int, float32) {
	top := q.items[0]
	last := len(q.items) - 1
	q.items[0] = q.items[last]
	q.items = q.items[:last]

	i := 0
	for {
		l, r := 2*i+1, 2*i+2
		smallest := i
		if l < len(q.items) && q.less(l, smallest) {
			smallest = l
		}
		if r < len(q.items) && q.less(r, smallest) {
			smallest = r
		}
		if smallest == i {
			break
		}
		q.items[i], q.items[smallest] = q.items[smallest], q.items[i]
		i = smallest
	}
	return int(top.offset), top.priority
}
