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

package types

import (
	"context"
	"io"
)

// ClusterHandle is the contract the reconciler core consumes from a cluster
// client library. Both the local and the remote cluster are represented by
// one ClusterHandle each; the concrete implementation in
// internal/mirror/clusterhandle wraps go-ceph.
type ClusterHandle interface {
	// ListPools enumerates the cluster's pools, including base-tier ids so
	// callers can detect and skip cache tiers.
	ListPools(ctx context.Context) ([]PoolInfo, error)
	// IOContextForName opens an I/O context for a pool by name.
	IOContextForName(ctx context.Context, name string) (IOContext, error)
	// IOContextForPoolID opens an I/O context for a pool by id.
	IOContextForPoolID(ctx context.Context, id PoolID) (IOContext, error)
	// InstanceID returns this cluster handle's unique instance id, used to
	// identify and clean up stale per-instance status entries.
	InstanceID() string
	// RegisterWatch registers a watch on the given object within ioctx.
	RegisterWatch(ctx context.Context, ioctx IOContext, object string) (*StatusWatchHandle, error)
	// UnregisterWatch tears down a watch previously returned by RegisterWatch.
	UnregisterWatch(ctx context.Context, handle *StatusWatchHandle) error
	// Close releases resources held by the handle (connection pool entry).
	Close()
}

// IOContext is the per-pool handle used for mirroring-directory primitives.
// Implemented by clusterhandle over rados.IOContext.
type IOContext interface {
	PoolID() PoolID
	PoolName() string
	// MirrorMode returns whether mirroring is enabled for the pool.
	MirrorMode(ctx context.Context) (MirrorMode, error)
	// MirrorUUID returns the pool's mirror-uuid metadata value.
	MirrorUUID(ctx context.Context) (string, error)
	// MirrorImageList pages the mirroring directory, returning at most
	// limit entries after the image id after, keyed by image id with global
	// id values. Callers pass an image id from the previous page as after on
	// the next call.
	MirrorImageList(ctx context.Context, after string, limit int) (map[string]string, error)
	// DirGetName resolves an image id to its human-readable name via the
	// pool's image directory object.
	DirGetName(ctx context.Context, imageID string) (string, error)
	// MirrorImageStatusRemoveDown clears stale per-instance status entries
	// left by a previously crashed instance of this cluster handle.
	MirrorImageStatusRemoveDown(ctx context.Context) error
	// Close releases the underlying ioctx.
	Close()
}

// MirrorMode mirrors librbd's rbd_mirror_mode_t.
type MirrorMode int

const (
	MirrorModeDisabled MirrorMode = iota
	MirrorModeImage
	MirrorModePool
)

// PoolWatcher periodically lists the remote cluster's mirrored images and
// exposes them as the reconciler's target set.
type PoolWatcher interface {
	// RefreshImages synchronously re-lists the remote catalog, swaps it
	// into the shared snapshot under the watcher's own lock, and broadcasts
	// the supervisor condition variable iff the result changed.
	RefreshImages(ctx context.Context)
	// GetImages returns the last refreshed snapshot. Callers must already
	// hold the supervisor lock.
	GetImages() PoolImageIds
}

// ImageDeleter is a shared, independently-concurrent collaborator that
// retires local images InitBootstrap or a stopped worker determined are no
// longer mirrored.
type ImageDeleter interface {
	// ScheduleImageDelete enqueues a deletion; fire-and-forget.
	ScheduleImageDelete(poolID PoolID, imageID, imageName, globalID string)
	// WaitForScheduledDeletion invokes completion once the named deletion
	// resolves. A negative result is a retryable error; callers should
	// re-invoke startWorker rather than treat it as fatal.
	WaitForScheduledDeletion(name string, completion func(result int))
}

// ImageReplayer is a single per-image worker. Start/Stop/Restart/Flush are
// required to be non-blocking: they fire the request and return, completing
// asynchronously via their completion callback.
type ImageReplayer interface {
	State() ReplayerState
	IsStopped() bool
	IsRunning() bool

	// Start begins replay. onComplete, if non-nil, is invoked exactly once
	// when a start attempt from Stopped resolves. A Start on a replayer that
	// is not Stopped is a no-op, and an implementation may then skip
	// onComplete.
	Start(onComplete func(err error), manual bool)
	// Stop halts replay. onComplete is invoked exactly once, after the
	// worker has observably reached Stopped, never before.
	Stop(onComplete func(err error), manual bool)
	Restart()
	Flush()

	PrintStatus(w io.Writer) error

	LocalPoolID() PoolID
	LocalImageID() string
	LocalImageName() string
	GlobalImageID() string
	// LifecycleError returns the last WorkerLifecycleError observed, or
	// "" if none. It is surfaced via status, never propagated as a Go
	// error (spec.md §7).
	LifecycleError() string
}
