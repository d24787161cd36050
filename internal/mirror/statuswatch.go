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

	"github.com/ceph/rbd-mirror-peer/internal/mirror/types"
	"github.com/ceph/rbd-mirror-peer/internal/util/log"
)

// StatusWatchMgr owns the per-pool lifecycle of a remote "mirroring status"
// watch object: opened when a pool first gains a worker, closed when it
// loses its last one (spec.md §4.5).
type StatusWatchMgr struct {
	local types.ClusterHandle

	watches map[types.PoolID]*types.StatusWatchHandle
}

func newStatusWatchMgr(local types.ClusterHandle) *StatusWatchMgr {
	return &StatusWatchMgr{local: local, watches: make(map[types.PoolID]*types.StatusWatchHandle)}
}

// Open requires no existing entry for poolID. It clears stale per-instance
// status left by a previously crashed instance of this cluster handle, then
// synchronously registers a watch and records the resulting handle. The
// caller is responsible for also recording the returned handle against its
// own pool-scoped state (spec.md §3 invariant 2).
func (m *StatusWatchMgr) Open(ctx context.Context, poolID types.PoolID, ioctx types.IOContext) (*types.StatusWatchHandle, error) {
	if _, ok := m.watches[poolID]; ok {
		return nil, fmt.Errorf("status watch for pool %d already open", poolID)
	}

	if err := ioctx.MirrorImageStatusRemoveDown(ctx); err != nil {
		return nil, &ErrWatchError{Pool: ioctx.PoolName(), Op: "remove-down-entries", Err: err}
	}

	handle, err := m.local.RegisterWatch(ctx, ioctx, mirroringMetadataObject(poolID))
	if err != nil {
		return nil, &ErrWatchError{Pool: ioctx.PoolName(), Op: "register", Err: err}
	}

	m.watches[poolID] = handle

	return handle, nil
}

// Close requires an existing entry for poolID. Unregister errors are logged
// but never prevent the handle from being dropped.
func (m *StatusWatchMgr) Close(ctx context.Context, poolID types.PoolID) error {
	handle, ok := m.watches[poolID]
	if !ok {
		return fmt.Errorf("no status watch open for pool %d", poolID)
	}
	delete(m.watches, poolID)

	if err := m.local.UnregisterWatch(ctx, handle); err != nil {
		log.ErrorLog(ctx, "unregistering status watch for pool %d: %v", poolID, err)
	}

	return nil
}

// Notify is the watch callback: the supervisor does not act on status
// notifications, it only acknowledges them for external readers.
func (m *StatusWatchMgr) Notify(context.Context, types.PoolID) {}

func mirroringMetadataObject(poolID types.PoolID) string {
	return fmt.Sprintf("rbd_mirroring.%d", poolID)
}
