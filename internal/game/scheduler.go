package game

import "container/heap"

// TaskKind names one of the closed set of deferred actions the tick loop
// knows how to run.
type TaskKind int

const (
	TaskRespawnInstance TaskKind = iota + 1
	TaskDespawnInstance
	TaskGatherAttempt
	TaskWeatherRoll
	TaskSavePlayers
	TaskSyncSelf
)

// Task is a deferred action scheduled against a future tick. Payload fields
// are interpreted per kind; tasks never carry closures, so everything a task
// does is visible to the tick loop that runs it.
type Task struct {
	ID         int64
	Kind       TaskKind
	InstanceID int64
	Session    *Session

	fireTick uint64
	every    uint64
	repeat   bool
	seq      uint64
	index    int
}

// Scheduler is a tick-keyed task queue ordered by (fire tick, sequence).
// A task fires when the counter has reached its fire tick; firing on
// "due or later" rather than exact equality is deliberate, so a stalled
// tick delays an overdue one-shot instead of dropping it forever.
type Scheduler struct {
	tasks   taskHeap
	live    map[int64]*Task
	nextID  int64
	nextSeq uint64
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{live: make(map[int64]*Task)}
}

// After schedules a one-shot task delay ticks from now and returns its id.
func (s *Scheduler) After(now, delay uint64, t Task) int64 {
	return s.add(now+delay, 0, false, t)
}

// Every schedules a repeating task firing each interval ticks, first fire a
// full interval from now.
func (s *Scheduler) Every(now, interval uint64, t Task) int64 {
	if interval == 0 {
		interval = 1
	}
	return s.add(now+interval, interval, true, t)
}

func (s *Scheduler) add(fire, interval uint64, repeat bool, t Task) int64 {
	s.nextID++
	s.nextSeq++
	t.ID = s.nextID
	t.fireTick = fire
	t.every = interval
	t.repeat = repeat
	t.seq = s.nextSeq
	s.live[t.ID] = &t
	heap.Push(&s.tasks, &t)
	return t.ID
}

// Cancel removes a scheduled task. Cancelling an already-fired or unknown id
// is a no-op; the result reports whether anything was cancelled.
func (s *Scheduler) Cancel(id int64) bool {
	if _, ok := s.live[id]; !ok {
		return false
	}
	delete(s.live, id)
	return true
}

// Len reports how many tasks are still scheduled.
func (s *Scheduler) Len() int {
	return len(s.live)
}

// Advance fires every task due at or before now. Repeating tasks are
// rescheduled at now + interval before their callback runs, so a callback
// can cancel its own repetition.
func (s *Scheduler) Advance(now uint64, run func(Task)) {
	for s.tasks.Len() > 0 {
		next := s.tasks[0]
		if next.fireTick > now {
			return
		}
		heap.Pop(&s.tasks)
		if _, ok := s.live[next.ID]; !ok {
			continue // cancelled
		}
		if next.repeat {
			next.fireTick = now + next.every
			s.nextSeq++
			next.seq = s.nextSeq
			heap.Push(&s.tasks, next)
		} else {
			delete(s.live, next.ID)
		}
		run(*next)
	}
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].fireTick != h[j].fireTick {
		return h[i].fireTick < h[j].fireTick
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
