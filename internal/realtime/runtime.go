package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bhandras/huddle/internal/metrics"
	"github.com/bhandras/huddle/shared/logger"
)

const roomQueueSize = 256

// roomJob is one serialized unit of work for a room.
type roomJob struct {
	ctx      context.Context
	run      func(ctx context.Context) error
	done     chan error
	enqueued time.Time
}

// roomRuntimes owns per-room runtimes. All writes for a room id run on that
// room's goroutine, so broadcast order equals commit order.
type roomRuntimes struct {
	mu    sync.Mutex
	rooms map[string]*roomRuntime
}

func newRoomRuntimes() *roomRuntimes {
	return &roomRuntimes{rooms: make(map[string]*roomRuntime)}
}

// exec runs fn on the room's runtime and waits for it. The job runs detached
// from ctx cancellation: a caller that goes away stops waiting, but a write
// that was queued still completes and is broadcast.
func (m *roomRuntimes) exec(ctx context.Context, roomID string, fn func(ctx context.Context) error) error {
	job := roomJob{
		ctx:      context.WithoutCancel(ctx),
		run:      fn,
		done:     make(chan error, 1),
		enqueued: time.Now(),
	}
	if !m.getOrCreate(roomID).enqueue(job) {
		return fmt.Errorf("%w: room %s is busy", ErrPersistence, roomID)
	}
	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *roomRuntimes) getOrCreate(roomID string) *roomRuntime {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rt, ok := m.rooms[roomID]; ok {
		return rt
	}
	rt := newRoomRuntime(roomID)
	m.rooms[roomID] = rt
	return rt
}

type roomRuntime struct {
	roomID string
	jobs   chan roomJob

	startOnce sync.Once
}

func newRoomRuntime(roomID string) *roomRuntime {
	return &roomRuntime{
		roomID: roomID,
		jobs:   make(chan roomJob, roomQueueSize),
	}
}

func (r *roomRuntime) enqueue(job roomJob) bool {
	r.startOnce.Do(func() { go r.loop() })
	select {
	case r.jobs <- job:
		return true
	default:
		// Never block a connection loop on a saturated room.
		logger.Warnf("[runtime] room %s queue full; rejecting write", r.roomID)
		return false
	}
}

func (r *roomRuntime) loop() {
	for job := range r.jobs {
		metrics.RoomQueueLatency.Observe(time.Since(job.enqueued).Seconds())
		job.done <- r.run(job)
	}
}

func (r *roomRuntime) run(job roomJob) (err error) {
	defer func() {
		if p := recover(); p != nil {
			logger.Errorf("[runtime] room %s: job panicked: %v", r.roomID, p)
			err = fmt.Errorf("%w: internal error", ErrPersistence)
		}
	}()
	return job.run(job.ctx)
}
