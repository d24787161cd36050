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

// Package types holds the data model and the collaborator contracts shared
// between the reconciler core and its cluster-facing implementations, so
// that the core can be exercised against fakes without a live Ceph cluster.
package types

import "k8s.io/apimachinery/pkg/util/sets"

// PeerID identifies the remote cluster a Peer supervisor mirrors from. It is
// immutable after construction.
type PeerID struct {
	ClusterName string
	ClientID    string
	MonHost     string
	ExtraConfig map[string]string
}

// PoolID is a storage pool identifier, scoped to a single cluster handle.
type PoolID int64

// ImageID identifies a mirrored image as advertised by a pool watcher.
// PoolImageIds keys it by ID alone; GlobalID and Name are advisory payloads
// carried forward for deletion scheduling. Go's == on the struct compares
// all three fields.
type ImageID struct {
	ID       string
	GlobalID string
	Name     string
}

// InitImageInfo is an image discovered locally at startup by InitBootstrap,
// before any remote catalog has been read. Matching against remote
// advertisements is done by GlobalID.
type InitImageInfo struct {
	GlobalID string
	PoolID   PoolID
	ID       string
	Name     string
}

// ReplayerState is the observable state of a Worker's underlying
// ImageReplayer.
type ReplayerState int

const (
	// Stopped means the replayer is not running and owns no resources.
	Stopped ReplayerState = iota
	// Starting means a start request was issued but has not yet completed.
	Starting
	// Running means the replayer is actively tailing its image.
	Running
	// Stopping means a stop request was issued but has not yet completed.
	Stopping
)

func (s ReplayerState) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Starting:
		return "Starting"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// ReplayerStatus is a structured status record for a single worker. The
// status admin command does not use it: it renders its own per-image
// entries and reads the lifecycle error from ImageReplayer.LifecycleError.
type ReplayerStatus struct {
	PoolID                PoolID
	LocalImageID          string
	LocalImageName        string
	GlobalImageID         string
	State                 ReplayerState
	WorkerLifecycleError  string
	Description           string
}

// StatusWatchHandle is an opaque handle to a registered watch on a pool's
// mirroring metadata object, returned by ClusterHandle.RegisterWatch.
type StatusWatchHandle struct {
	PoolID     PoolID
	WatchID    uint64
	InstanceID string
}

// PoolInfo describes a pool as enumerated from a cluster handle, including
// the information needed to detect and skip cache tiers (spec.md §4.2 step 1).
type PoolInfo struct {
	Name     string
	ID       PoolID
	BaseTier PoolID
}

// PoolImageIds is the target set produced by a PoolWatcher: every pool's
// currently remote-advertised mirrored images, keyed by ImageID.ID so that
// equality and lookups are on id alone, per spec.
type PoolImageIds map[PoolID]map[string]ImageID

// Clone returns a deep copy, used by PoolWatcher's GetImages so callers
// under the supervisor lock do not alias the watcher's own snapshot.
func (p PoolImageIds) Clone() PoolImageIds {
	out := make(PoolImageIds, len(p))
	for pool, images := range p {
		inner := make(map[string]ImageID, len(images))
		for id, img := range images {
			inner[id] = img
		}
		out[pool] = inner
	}

	return out
}

// InitResidue is the set of images InitBootstrap discovered locally, held
// until the first reconciliation consumes and clears it.
type InitResidue map[PoolID]sets.Set[InitImageInfo]

// ImageIDSet is a set of pool-local image ids, used where only membership
// (not the advisory GlobalID/Name payload) matters.
type ImageIDSet = sets.Set[string]
