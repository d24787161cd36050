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

	"github.com/ceph/rbd-mirror-peer/internal/mirror/metrics"
	"github.com/ceph/rbd-mirror-peer/internal/mirror/types"
	"github.com/ceph/rbd-mirror-peer/internal/util/log"
)

// Reconciler is the diff engine: given a target PoolImageIds and the current
// ReconcilerState (held under the supervisor lock by the caller), it
// computes and applies start/stop/delete decisions. It is "pure-ish": all
// side effects go through the replayer, deleter, and cluster-handle
// collaborators, never direct I/O.
type Reconciler struct {
	threads uint

	local  types.ClusterHandle
	remote types.ClusterHandle

	deleter types.ImageDeleter // nil once released for drain (spec.md §5)

	watches *StatusWatchMgr

	newReplayer func(localMirrorUUID, remoteMirrorUUID string, localPoolID, remotePoolID types.PoolID, imageID, globalID string) types.ImageReplayer
}

// Reconcile runs all three phases against target. It must be called with
// the supervisor lock held.
func (r *Reconciler) Reconcile(ctx context.Context, state *ReconcilerState, target types.PoolImageIds) {
	if !state.bootstrapped {
		r.bootstrapReconcile(state, target)
		state.bootstrapped = true
	}

	r.shutdownDrift(ctx, state, target)
	r.targetInstall(ctx, state, target)
}

// bootstrapReconcile is Phase 1, run only on the very first reconciliation.
func (r *Reconciler) bootstrapReconcile(state *ReconcilerState, target types.PoolImageIds) {
	for poolID, residue := range state.InitResidue {
		targetPool, ok := target[poolID]
		if ok {
			matched := residue.Clone()
			for info := range residue {
				for _, img := range targetPool {
					if img.GlobalID == info.GlobalID {
						matched.Delete(info)

						break
					}
				}
			}
			residue = matched
		}

		for info := range residue {
			if r.deleter != nil {
				r.deleter.ScheduleImageDelete(info.PoolID, info.ID, info.Name, info.GlobalID)
				metrics.IncDeletionsScheduled()
			}
		}
	}

	state.InitResidue = make(types.InitResidue)
}

// shutdownDrift is Phase 2: stop workers whose pool or image-id has fallen
// out of the target set, erasing them and their pool's StatusWatch once the
// pool empties.
func (r *Reconciler) shutdownDrift(ctx context.Context, state *ReconcilerState, target types.PoolImageIds) {
	for poolID, poolWorkers := range state.Images {
		targetPool, poolInTarget := target[poolID]

		for imageID, w := range poolWorkers {
			_, imageInTarget := targetPool[imageID]
			if poolInTarget && imageInTarget {
				continue
			}

			if r.stopWorker(w) == stopDone {
				delete(poolWorkers, imageID)
			}
		}

		if len(poolWorkers) == 0 {
			if _, hadWatch := state.StatusWatches[poolID]; hadWatch {
				if err := r.watches.Close(ctx, poolID); err != nil {
					log.ErrorLog(ctx, "closing status watch for pool %d: %v", poolID, err)
				}
				delete(state.StatusWatches, poolID)
			}
			delete(state.Images, poolID)
		}
	}
}

// targetInstall is Phase 3: open contexts, read mirror uuids, open status
// watches for newly-seen pools, and create/start workers for every
// advertised image.
func (r *Reconciler) targetInstall(ctx context.Context, state *ReconcilerState, target types.PoolImageIds) {
	for poolID, images := range target {
		remoteIoctx, err := r.remote.IOContextForPoolID(ctx, poolID)
		if err != nil {
			log.ErrorLog(ctx, "opening remote ioctx for pool %d: %v", poolID, err)

			continue
		}

		localIoctx, err := r.local.IOContextForPoolID(ctx, poolID)
		if err != nil {
			log.ErrorLog(ctx, "opening local ioctx for pool %d: %v", poolID, err)
			remoteIoctx.Close()

			continue
		}

		localUUID, err := localIoctx.MirrorUUID(ctx)
		if err != nil {
			log.ErrorLog(ctx, "reading local mirror uuid for pool %d: %v", poolID, err)
			localIoctx.Close()
			remoteIoctx.Close()

			continue
		}

		remoteUUID, err := remoteIoctx.MirrorUUID(ctx)
		if err != nil {
			log.ErrorLog(ctx, "reading remote mirror uuid for pool %d: %v", poolID, err)
			localIoctx.Close()
			remoteIoctx.Close()

			continue
		}

		poolWorkers, havePool := state.Images[poolID]
		if !havePool {
			poolWorkers = make(map[string]*worker)

			handle, err := r.watches.Open(ctx, poolID, localIoctx)
			if err != nil {
				log.ErrorLog(ctx, "opening status watch for pool %d: %v", poolID, err)
				localIoctx.Close()
				remoteIoctx.Close()

				continue
			}
			state.StatusWatches[poolID] = handle
			state.Images[poolID] = poolWorkers
		}

		for imageID, img := range images {
			w, exists := poolWorkers[imageID]
			if !exists {
				w = &worker{
					poolID:    poolID,
					imageID:   img.ID,
					globalID:  img.GlobalID,
					imageName: img.Name,
					replayer:  r.newReplayer(localUUID, remoteUUID, poolID, poolID, img.ID, img.GlobalID),
				}
				poolWorkers[imageID] = w
			}

			r.startWorker(w, img.Name)
		}

		localIoctx.Close()
		remoteIoctx.Close()
	}
}

type stopResult int

const (
	stopDone stopResult = iota
	stopNotYet
)

// stopWorker is the synchronous half-step described in spec.md §4.4. It
// never blocks on the worker's asynchronous completion.
func (r *Reconciler) stopWorker(w *worker) stopResult {
	if w.isStopped() {
		return stopDone
	}

	if w.isRunning() {
		deleter := r.deleter
		poolID, imageID, imageName, globalID := w.poolID, w.imageID, w.imageName, w.globalID
		w.replayer.Stop(func(error) {
			if deleter == nil {
				return // best-effort: released for drain (spec.md §4.4 edge case)
			}
			deleter.ScheduleImageDelete(poolID, imageID, imageName, globalID)
			metrics.IncDeletionsScheduled()
		}, false)

		return stopNotYet
	}

	return stopNotYet
}

// startWorker is the asynchronous half-step described in spec.md §4.4. If
// name is non-empty, the start is gated behind the deleter confirming the
// prior image at that name has been cleared.
func (r *Reconciler) startWorker(w *worker, name string) {
	if !w.isStopped() {
		return // idempotent: already starting, running, or stopping
	}

	if name == "" {
		w.replayer.Start(nil, false)

		return
	}

	if r.deleter == nil {
		return // released for drain; nothing left to gate on
	}

	r.deleter.WaitForScheduledDeletion(name, func(result int) {
		if result >= 0 {
			w.replayer.Start(nil, false)

			return
		}
		r.startWorker(w, name)
	})
}

// releaseDeleter drops the strong reference to the ImageDeleter, called once
// when the control loop transitions to Draining (spec.md §5).
func (r *Reconciler) releaseDeleter() {
	r.deleter = nil
}
