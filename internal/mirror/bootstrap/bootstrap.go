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

// Package bootstrap implements the one-shot local scan that runs once,
// before the control loop starts, to discover images already marked as
// mirrored locally so that stale ones can be scheduled for deletion rather
// than leaked (spec.md §4.2).
package bootstrap

import (
	"context"
	"errors"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/ceph/rbd-mirror-peer/internal/mirror/types"
	"github.com/ceph/rbd-mirror-peer/internal/util/log"
)

const mirrorListPageSize = 1024

// ErrNotFound is returned by a ClusterHandle when a pool does not exist
// under the name looked up. Implementations wrap their underlying
// not-found error as this sentinel via errors.Is.
var ErrNotFound = errors.New("not found")

// InitBootstrap scans every pool on the local cluster, skipping cache
// tiers and pools without mirroring enabled, and returns the InitResidue
// keyed by the pool's reconciliation id: the remote pool id if a like-named
// pool exists there, otherwise the local pool id (spec.md §4.2 step 4).
func InitBootstrap(ctx context.Context, local, remote types.ClusterHandle) (types.InitResidue, error) {
	pools, err := local.ListPools(ctx)
	if err != nil {
		return nil, err
	}

	residue := make(types.InitResidue)

	for _, pool := range pools {
		if pool.BaseTier != pool.ID {
			continue // cache tier, skip (step 1)
		}

		images, keyPoolID, ok := scanPool(ctx, local, remote, pool)
		if !ok || images.Len() == 0 {
			continue
		}

		residue[keyPoolID] = images
	}

	return residue, nil
}

func scanPool(ctx context.Context, local, remote types.ClusterHandle, pool types.PoolInfo) (sets.Set[types.InitImageInfo], types.PoolID, bool) {
	localIoctx, err := local.IOContextForPoolID(ctx, pool.ID)
	if err != nil {
		log.DebugLog(ctx, "init bootstrap: opening local pool %q: %v, skipping", pool.Name, err)

		return nil, 0, false // step 2: missing pool, skip
	}
	defer localIoctx.Close()

	mode, err := localIoctx.MirrorMode(ctx)
	if err != nil || mode == types.MirrorModeDisabled {
		return nil, 0, false // step 3
	}

	keyPoolID := pool.ID
	remoteIoctx, err := remote.IOContextForName(ctx, pool.Name)
	switch {
	case err == nil:
		keyPoolID = remoteIoctx.PoolID() // step 4: success, key is remote pool id
		remoteIoctx.Close()
	case errors.Is(err, ErrNotFound):
		// step 4: NotFound, key is local pool id (legacy fallback)
	default:
		log.ErrorLog(ctx, "init bootstrap: opening remote pool %q: %v, skipping", pool.Name, err)

		return nil, 0, false
	}

	images := sets.New[types.InitImageInfo]()

	after := ""
	for {
		page, err := localIoctx.MirrorImageList(ctx, after, mirrorListPageSize)
		if err != nil {
			log.ErrorLog(ctx, "init bootstrap: listing mirror images for pool %q: %v, skipping", pool.Name, err)

			break
		}

		var last string
		for imageID, globalID := range page {
			name, err := localIoctx.DirGetName(ctx, imageID)
			if err != nil {
				log.ErrorLog(ctx, "init bootstrap: resolving name for image %q in pool %q: %v, skipping entry",
					imageID, pool.Name, err)

				continue
			}

			images.Insert(types.InitImageInfo{
				GlobalID: globalID,
				PoolID:   pool.ID,
				ID:       imageID,
				Name:     name,
			})
			last = imageID
		}

		if len(page) < mirrorListPageSize {
			break
		}
		after = last
	}

	return images, keyPoolID, true
}
