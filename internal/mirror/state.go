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
	"github.com/ceph/rbd-mirror-peer/internal/mirror/types"
)

// worker is the reconciler's exclusively-owned handle to a single
// ImageReplayer (spec.md §3 "Worker"). The reconciler is the sole owner:
// nothing outside this package ever holds a *worker.
type worker struct {
	replayer types.ImageReplayer

	poolID    types.PoolID
	imageID   string
	globalID  string
	imageName string
}

func (w *worker) isStopped() bool { return w.replayer.IsStopped() }
func (w *worker) isRunning() bool { return w.replayer.IsRunning() }

// ReconcilerState is the supervisor's in-memory model, mutated exclusively
// under the supervisor lock (spec.md §3 invariant 4).
type ReconcilerState struct {
	// Images is PoolId -> (image-id -> Worker), owned by the reconciler.
	Images map[types.PoolID]map[string]*worker

	// StatusWatches holds one entry per pool with at least one worker
	// (spec.md §3 invariant 2).
	StatusWatches map[types.PoolID]*types.StatusWatchHandle

	// InitResidue is populated once by InitBootstrap and fully drained by
	// the first reconciliation (spec.md §3 invariant 3).
	InitResidue types.InitResidue

	// bootstrapped is set once Phase 1 of the first reconciliation has run.
	bootstrapped bool

	// manualStopped mirrors the AdminSurface's stop/start toggle.
	manualStopped bool

	// stopping is set once, by Destroy, and never cleared.
	stopping bool
}

func newReconcilerState() *ReconcilerState {
	return &ReconcilerState{
		Images:        make(map[types.PoolID]map[string]*worker),
		StatusWatches: make(map[types.PoolID]*types.StatusWatchHandle),
		InitResidue:   make(types.InitResidue),
	}
}

// imageCount returns the total worker count across all pools, used by the
// drain loop's "Images is empty" exit condition.
func (s *ReconcilerState) imageCount() int {
	n := 0
	for _, pool := range s.Images {
		n += len(pool)
	}

	return n
}
