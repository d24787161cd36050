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

// Package poolwatcher implements types.PoolWatcher: a periodic listing of
// the remote cluster's mirrored images, grounded on the teacher's
// internal/liveness ticker-driven poll loop and internal/rbd/rbd_healer.go's
// list-and-build-map shape.
package poolwatcher

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/ceph/rbd-mirror-peer/internal/mirror/types"
	"github.com/ceph/rbd-mirror-peer/internal/util/log"
)

const mirrorListPageSize = 1024

// Watcher periodically lists every mirroring-enabled pool on the remote
// cluster and swaps the result into a shared snapshot, broadcasting the
// supervisor's condition variable only when it changed.
type Watcher struct {
	remote types.ClusterHandle
	period time.Duration

	// broadcast wakes the control loop's wait early; it is the
	// supervisor's own sync.Cond.Broadcast, passed in so PoolWatcher never
	// needs to know the supervisor's lock type.
	broadcast func()

	mu     sync.Mutex
	images types.PoolImageIds

	stop chan struct{}
}

// New constructs a Watcher and starts its periodic ticker goroutine. period
// also doubles as the discovery interval the control loop relies on
// (spec.md §4.3).
func New(remote types.ClusterHandle, period time.Duration, broadcast func()) *Watcher {
	w := &Watcher{
		remote:    remote,
		period:    period,
		broadcast: broadcast,
		images:    make(types.PoolImageIds),
		stop:      make(chan struct{}),
	}

	go w.loop()

	return w
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RefreshImages(context.Background())
		case <-w.stop:
			return
		}
	}
}

// Close stops the background ticker goroutine.
func (w *Watcher) Close() { close(w.stop) }

// RefreshImages synchronously re-lists the remote catalog, swaps it into
// the shared snapshot under its own lock, and broadcasts the supervisor
// condition variable iff the result changed relative to the previous
// snapshot (spec.md §6).
func (w *Watcher) RefreshImages(ctx context.Context) {
	pools, err := w.remote.ListPools(ctx)
	if err != nil {
		log.ErrorLog(ctx, "pool watcher: listing remote pools: %v", err)

		return
	}

	next := make(types.PoolImageIds, len(pools))

	for _, pool := range pools {
		images, err := w.listPoolImages(ctx, pool)
		if err != nil {
			log.ErrorLog(ctx, "pool watcher: listing mirror images for pool %q: %v", pool.Name, err)

			continue
		}
		if len(images) > 0 {
			next[pool.ID] = images
		}
	}

	w.mu.Lock()
	changed := !reflect.DeepEqual(w.images, next)
	w.images = next
	w.mu.Unlock()

	if changed {
		w.broadcast()
	}
}

func (w *Watcher) listPoolImages(ctx context.Context, pool types.PoolInfo) (map[string]types.ImageID, error) {
	ioctx, err := w.remote.IOContextForPoolID(ctx, pool.ID)
	if err != nil {
		return nil, err
	}
	defer ioctx.Close()

	mode, err := ioctx.MirrorMode(ctx)
	if err != nil || mode == types.MirrorModeDisabled {
		return nil, err
	}

	images := make(map[string]types.ImageID)
	after := ""

	for {
		page, err := ioctx.MirrorImageList(ctx, after, mirrorListPageSize)
		if err != nil {
			return nil, err
		}

		var last string
		for imageID, globalID := range page {
			name, err := ioctx.DirGetName(ctx, imageID)
			if err != nil {
				log.DebugLog(ctx, "pool watcher: resolving name for image %q in pool %q: %v", imageID, pool.Name, err)

				continue
			}

			images[imageID] = types.ImageID{ID: imageID, GlobalID: globalID, Name: name}
			last = imageID
		}

		if len(page) < mirrorListPageSize {
			break
		}
		after = last
	}

	return images, nil
}

// GetImages returns the last refreshed snapshot. The caller must already
// hold the supervisor lock (spec.md §6's documented precondition);
// Watcher's own mutex only protects against a concurrent RefreshImages.
func (w *Watcher) GetImages() types.PoolImageIds {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.images.Clone()
}

var _ types.PoolWatcher = (*Watcher)(nil)
