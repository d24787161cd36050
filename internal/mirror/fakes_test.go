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
	"io"
	"sync"

	"github.com/ceph/rbd-mirror-peer/internal/mirror/types"
)

// fakeIOContext is a hand-written test double for types.IOContext, enabling
// core package tests to run without a live Ceph cluster (spec.md §8).
type fakeIOContext struct {
	poolID   types.PoolID
	poolName string
	uuid     string
	mode     types.MirrorMode
	closed   bool
}

func (f *fakeIOContext) PoolID() types.PoolID                        { return f.poolID }
func (f *fakeIOContext) PoolName() string                             { return f.poolName }
func (f *fakeIOContext) Close()                                       { f.closed = true }
func (f *fakeIOContext) MirrorMode(context.Context) (types.MirrorMode, error) { return f.mode, nil }
func (f *fakeIOContext) MirrorUUID(context.Context) (string, error)   { return f.uuid, nil }
func (f *fakeIOContext) MirrorImageList(context.Context, string, int) (map[string]string, error) {
	return nil, nil
}
func (f *fakeIOContext) DirGetName(context.Context, string) (string, error) { return "", nil }
func (f *fakeIOContext) MirrorImageStatusRemoveDown(context.Context) error  { return nil }

// fakeCluster is a hand-written test double for types.ClusterHandle.
type fakeCluster struct {
	mu         sync.Mutex
	name       string
	pools      []types.PoolInfo
	uuidByPool map[types.PoolID]string
	failOpen   map[types.PoolID]bool
}

func newFakeCluster(name string) *fakeCluster {
	return &fakeCluster{name: name, uuidByPool: make(map[types.PoolID]string), failOpen: make(map[types.PoolID]bool)}
}

func (f *fakeCluster) ListPools(context.Context) ([]types.PoolInfo, error) { return f.pools, nil }

func (f *fakeCluster) IOContextForName(ctx context.Context, name string) (types.IOContext, error) {
	for _, p := range f.pools {
		if p.Name == name {
			return f.IOContextForPoolID(ctx, p.ID)
		}
	}

	return nil, fmt.Errorf("pool %q not found", name)
}

func (f *fakeCluster) IOContextForPoolID(_ context.Context, id types.PoolID) (types.IOContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failOpen[id] {
		return nil, fmt.Errorf("fake open failure for pool %d", id)
	}

	name := fmt.Sprintf("pool-%d", id)
	for _, p := range f.pools {
		if p.ID == id {
			name = p.Name
		}
	}

	return &fakeIOContext{poolID: id, poolName: name, uuid: f.uuidByPool[id], mode: types.MirrorModeImage}, nil
}

func (f *fakeCluster) InstanceID() string { return f.name }

func (f *fakeCluster) RegisterWatch(context.Context, types.IOContext, string) (*types.StatusWatchHandle, error) {
	return &types.StatusWatchHandle{InstanceID: f.name}, nil
}

func (f *fakeCluster) UnregisterWatch(context.Context, *types.StatusWatchHandle) error { return nil }

func (f *fakeCluster) Close() {}

// fakeReplayer is a hand-written test double for types.ImageReplayer: Start
// and Stop complete synchronously (no goroutine), which is exactly what
// makes the reconciler's synchronous/asynchronous half-step split testable
// without sleeps.
type fakeReplayer struct {
	mu             sync.Mutex
	state          types.ReplayerState
	poolID         types.PoolID
	imageID        string
	globalID       string
	lifecycleError string
	stopHistory    []bool
	startHistory   []bool
}

func newFakeReplayer(poolID types.PoolID, imageID, globalID string) *fakeReplayer {
	return &fakeReplayer{state: types.Stopped, poolID: poolID, imageID: imageID, globalID: globalID}
}

func (r *fakeReplayer) State() types.ReplayerState { r.mu.Lock(); defer r.mu.Unlock(); return r.state }
func (r *fakeReplayer) IsStopped() bool            { return r.State() == types.Stopped }
func (r *fakeReplayer) IsRunning() bool            { return r.State() == types.Running }

func (r *fakeReplayer) Start(onComplete func(err error), manual bool) {
	r.mu.Lock()
	r.state = types.Running
	r.startHistory = append(r.startHistory, manual)
	r.mu.Unlock()
	if onComplete != nil {
		onComplete(nil)
	}
}

func (r *fakeReplayer) Stop(onComplete func(err error), manual bool) {
	r.mu.Lock()
	r.state = types.Stopped
	r.stopHistory = append(r.stopHistory, manual)
	r.mu.Unlock()
	if onComplete != nil {
		onComplete(nil)
	}
}

func (r *fakeReplayer) Restart() {
	r.Stop(nil, true)
	r.Start(nil, true)
}

func (r *fakeReplayer) Flush() {}

func (r *fakeReplayer) PrintStatus(w io.Writer) error {
	_, err := w.Write([]byte("fake"))

	return err
}

func (r *fakeReplayer) LocalPoolID() types.PoolID { return r.poolID }
func (r *fakeReplayer) LocalImageID() string      { return r.imageID }
func (r *fakeReplayer) LocalImageName() string    { return "name-" + r.imageID }
func (r *fakeReplayer) GlobalImageID() string     { return r.globalID }
func (r *fakeReplayer) LifecycleError() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.lifecycleError
}

var _ types.ImageReplayer = (*fakeReplayer)(nil)

// fakeDeleter is a hand-written test double for types.ImageDeleter. A name
// held in pending defers its completion until resolve is called, exactly
// like the real deleter holding a waiter until the deletion job finishes;
// it never invents a synchronous "still pending" callback, since the real
// WaitForScheduledDeletion only ever fires once, when a result exists.
type fakeDeleter struct {
	mu        sync.Mutex
	scheduled []string
	pending   map[string]bool
	waiters   map[string][]func(result int)
}

func newFakeDeleter() *fakeDeleter {
	return &fakeDeleter{pending: make(map[string]bool), waiters: make(map[string][]func(result int))}
}

func (d *fakeDeleter) ScheduleImageDelete(poolID types.PoolID, imageID, imageName, globalID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scheduled = append(d.scheduled, imageName)
}

func (d *fakeDeleter) WaitForScheduledDeletion(name string, completion func(result int)) {
	d.mu.Lock()
	if d.pending[name] {
		d.waiters[name] = append(d.waiters[name], completion)
		d.mu.Unlock()

		return
	}
	d.mu.Unlock()
	completion(0)
}

// resolve fires any waiters registered while name was pending, then clears
// the pending flag so later WaitForScheduledDeletion calls complete inline.
func (d *fakeDeleter) resolve(name string) {
	d.mu.Lock()
	delete(d.pending, name)
	waiters := d.waiters[name]
	delete(d.waiters, name)
	d.mu.Unlock()

	for _, w := range waiters {
		w(0)
	}
}

var _ types.ImageDeleter = (*fakeDeleter)(nil)

// fakePoolWatcher is a hand-written test double for types.PoolWatcher: its
// snapshot is set directly by the test rather than discovered by polling.
type fakePoolWatcher struct {
	mu       sync.Mutex
	images   types.PoolImageIds
	getCalls int
}

func newFakePoolWatcher() *fakePoolWatcher {
	return &fakePoolWatcher{images: make(types.PoolImageIds)}
}

func (w *fakePoolWatcher) RefreshImages(context.Context) {}

func (w *fakePoolWatcher) GetImages() types.PoolImageIds {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.getCalls++

	return w.images.Clone()
}

func (w *fakePoolWatcher) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.getCalls
}

func (w *fakePoolWatcher) set(images types.PoolImageIds) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.images = images
}

var _ types.PoolWatcher = (*fakePoolWatcher)(nil)
