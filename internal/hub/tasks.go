package hub

import (
	"context"
	"time"

	"github.com/nmdchub/nmdchub/internal/logger"
	"github.com/nmdchub/nmdchub/pkg/store"
)

// taskContext is the context tasks hand to the store. Tasks are not
// individually cancellable; shutdown waits for the queue instead.
func taskContext() context.Context {
	return context.Background()
}

// Submit queues blocking work for the pool. The task runs under the hub
// lock with the worker's private storage session; captured sessions must
// be re-validated inside the task, since they can die between submission
// and execution. A full queue drops the task with an error log rather
// than blocking the dispatch path.
func (h *Hub) Submit(t Task) {
	if h.exitTaskRunner.Load() {
		return
	}
	select {
	case h.tasks <- t:
		h.metrics.SetTaskQueueDepth(len(h.tasks))
	default:
		logger.Error("task queue full, dropping task")
	}
}

// workerCount applies the storage thread-safety pin: SQLite gets exactly
// one runner.
func (h *Hub) workerCount() int {
	n := h.cfg.NumTaskRunners
	if n < 1 {
		n = 1
	}
	if !h.storeThreadSafe() && n > 1 {
		logger.Log(logger.LevelThreading, "storage backend not thread-safe, pinning task runners", "requested", n, "using", 1)
		n = 1
	}
	return n
}

func (h *Hub) storeThreadSafe() bool {
	if h.store == nil {
		return true
	}
	return h.store.ThreadSafe()
}

// startWorkers launches the pool.
func (h *Hub) startWorkers() {
	n := h.workerCount()
	logger.Log(logger.LevelThreading, "starting task runners", "count", n)
	for i := 0; i < n; i++ {
		h.taskWG.Add(1)
		go h.runWorker(i)
	}
}

// runWorker is one pool goroutine: per-worker storage session up front,
// then the drain loop. Each task executes under the hub lock so it is
// serialized against the I/O path and every other worker.
func (h *Hub) runWorker(id int) {
	defer h.taskWG.Done()

	var ws *store.Store
	if h.store != nil {
		ws = h.store.WorkerSession()
	}
	logger.Log(logger.LevelThreading, "task runner started", "worker", id)

	for t := range h.tasks {
		if h.exitTaskRunner.Load() {
			break
		}
		if t == nil {
			continue
		}
		h.mu.Lock()
		t(ws)
		h.mu.Unlock()
		h.metrics.RecordTask()
		h.metrics.SetTaskQueueDepth(len(h.tasks))
	}
	logger.Log(logger.LevelThreading, "task runner exiting", "worker", id)
}

// stopWorkers drains the queue within CleanupTime, then releases the pool.
// One nil wake task per worker guarantees nobody stays parked on an empty
// queue.
func (h *Hub) stopWorkers() {
	deadline := time.Now().Add(h.cfg.CleanupTime)
	for len(h.tasks) > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := len(h.tasks); n > 0 {
		logger.Warn("task queue not drained at shutdown", "remaining", n)
	}

	// The channel is never closed; workers leave via the exit flag, and
	// one nil wake per worker unparks anyone waiting on an empty queue.
	h.exitTaskRunner.Store(true)
	for i := 0; i < h.workerCount(); i++ {
		select {
		case h.tasks <- nil:
		default:
		}
	}
	h.taskWG.Wait()
}
