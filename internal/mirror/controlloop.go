/*
Copyright 2024 The Ceph-CSI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mirror

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ceph/rbd-mirror-peer/internal/mirror/metrics"
	"github.com/ceph/rbd-mirror-peer/internal/mirror/types"
	"github.com/ceph/rbd-mirror-peer/internal/util/log"
)

// LoopState is the ControlLoop's observable phase (spec.md §4.3).
type LoopState int

const (
	Running LoopState = iota
	ManualStopped
	Draining
	Terminated
)

// ControlLoop is the single background thread driving periodic
// reconciliation. All supervisor-owned state lives behind mu; cond is used
// to wake the loop early (PoolWatcher refresh, admin commands) and to
// implement the timed wait since sync.Cond has no built-in deadline.
type ControlLoop struct {
	mu   sync.Mutex
	cond *sync.Cond

	state       *ReconcilerState
	reconciler  *Reconciler
	poolWatcher types.PoolWatcher

	runningInterval time.Duration
	drainInterval   time.Duration

	done chan struct{}
}

// NewControlLoop wires a control loop over the given state, reconciler, and
// pool watcher, using the supervisor's shared lock and condition variable.
func NewControlLoop(state *ReconcilerState, reconciler *Reconciler, watcher types.PoolWatcher, runningInterval, drainInterval time.Duration) *ControlLoop {
	cl := &ControlLoop{
		state:           state,
		reconciler:      reconciler,
		poolWatcher:     watcher,
		runningInterval: runningInterval,
		drainInterval:   drainInterval,
		done:            make(chan struct{}),
	}
	cl.cond = sync.NewCond(&cl.mu)

	return cl
}

// Lock/Unlock expose the supervisor lock to AdminSurface so its five
// commands can serialize with reconciliation (spec.md §4.6).
func (cl *ControlLoop) Lock()   { cl.mu.Lock() }
func (cl *ControlLoop) Unlock() { cl.mu.Unlock() }

// Broadcast wakes the control loop immediately, used by PoolWatcher when the
// target set changes and by AdminSurface after mutating ManualStopped.
func (cl *ControlLoop) Broadcast() { cl.cond.Broadcast() }

// Run is the loop body; it is started as its own goroutine by Lifecycle's
// init() step (h).
func (cl *ControlLoop) Run(ctx context.Context) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	for !cl.state.stopping {
		if !cl.state.manualStopped {
			target := cl.poolWatcher.GetImages()
			cl.reconciler.Reconcile(ctx, cl.state, target)
			cl.recordMetrics()
		}

		cl.waitWithDeadline(cl.runningInterval)
	}

	// Release the strong reference to the deleter before draining so it can
	// quiesce independently (spec.md §5).
	cl.reconciler.releaseDeleter()

	for cl.state.imageCount() > 0 {
		cl.reconciler.Reconcile(ctx, cl.state, types.PoolImageIds{})
		cl.recordMetrics()
		cl.waitWithDeadline(cl.drainInterval)
	}

	log.DefaultLog("control loop terminated, all workers drained")
	close(cl.done)
}

// recordMetrics publishes a running-worker-count gauge per pool and counts
// the pass itself. Must be called with mu held, matching Reconcile.
func (cl *ControlLoop) recordMetrics() {
	metrics.IncReconcileTick()

	for poolID, workers := range cl.state.Images {
		running := 0
		for _, w := range workers {
			if w.isRunning() {
				running++
			}
		}
		metrics.SetWorkersRunning(fmt.Sprintf("%d", poolID), running)
	}
}

// waitWithDeadline blocks on cond for at most d, releasing mu while
// waiting. sync.Cond has no native timed wait, so a timer goroutine
// broadcasts after d; any earlier Broadcast (PoolWatcher, admin command,
// shutdown) wakes it sooner. Must be called with mu held.
func (cl *ControlLoop) waitWithDeadline(d time.Duration) {
	timer := time.AfterFunc(d, cl.cond.Broadcast)
	defer timer.Stop()

	cl.cond.Wait()
}

// Stop signals stopping and wakes the loop; it does not block.
func (cl *ControlLoop) Stop() {
	cl.mu.Lock()
	cl.state.stopping = true
	cl.mu.Unlock()
	cl.cond.Broadcast()
}

// Join blocks until Run has fully drained and exited.
func (cl *ControlLoop) Join() {
	<-cl.done
}

// SetManualStopped toggles ManualStopped and wakes the loop so the change
// takes effect immediately rather than waiting out the current deadline.
func (cl *ControlLoop) SetManualStopped(v bool) {
	cl.mu.Lock()
	cl.state.manualStopped = v
	cl.mu.Unlock()
	cl.cond.Broadcast()
}
