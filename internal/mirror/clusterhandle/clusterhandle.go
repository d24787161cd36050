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

// Package clusterhandle implements types.ClusterHandle and types.IOContext
// over github.com/ceph/go-ceph, grounded on the teacher's
// internal/util.ClusterConnection and internal/rbd/mirror.go.
package clusterhandle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ceph/go-ceph/rados"
	librbd "github.com/ceph/go-ceph/rbd"
	"github.com/google/uuid"

	"github.com/ceph/rbd-mirror-peer/internal/mirror/bootstrap"
	"github.com/ceph/rbd-mirror-peer/internal/mirror/types"
	"github.com/ceph/rbd-mirror-peer/internal/util"
	"github.com/ceph/rbd-mirror-peer/internal/util/log"
)

var connPool = util.NewConnPool(util.DefaultPoolInterval, util.DefaultPoolExpiry)

// Handle wraps a pooled rados.Conn and implements types.ClusterHandle.
type Handle struct {
	conn *rados.Conn
}

// Connect obtains (or reuses, via the shared pool) a rados.Conn for the
// given monitors/id/keyfile, grounded on ClusterConnection.Connect.
func Connect(monitors, id, keyFile, cephConfigPath string) (*Handle, error) {
	conn, err := connPool.Get(monitors, id, keyFile, cephConfigPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s as %s: %w", monitors, id, err)
	}

	return &Handle{conn: conn}, nil
}

// Close releases the handle's reference on the pooled connection.
func (h *Handle) Close() {
	if h.conn != nil {
		connPool.Put(h.conn)
		h.conn = nil
	}
}

// InstanceID returns the cluster handle's unique instance id, used to
// identify and clean up stale per-instance status entries.
func (h *Handle) InstanceID() string {
	return fmt.Sprintf("%d", h.conn.GetInstanceID())
}

// osdDumpPool is the subset of "osd dump"'s per-pool JSON this handle reads
// to detect cache tiers: a pool whose tier_of differs from its own id is a
// cache tier sitting in front of a base pool (spec.md §4.2 step 1).
type osdDumpPool struct {
	Pool    int64  `json:"pool"`
	TierOf  int64  `json:"tier_of"`
	PName   string `json:"pool_name"`
}

type osdDump struct {
	Pools []osdDumpPool `json:"pools"`
}

// ListPools enumerates the cluster's pools, resolving each pool's base tier
// id via "osd dump" so InitBootstrap can detect and skip cache tiers.
func (h *Handle) ListPools(ctx context.Context) ([]types.PoolInfo, error) {
	names, err := h.conn.ListPools()
	if err != nil {
		return nil, fmt.Errorf("listing pools: %w", err)
	}

	baseTier := make(map[string]int64, len(names))
	if raw, _, err := h.conn.MonCommand([]byte(`{"prefix":"osd dump","format":"json"}`)); err == nil {
		var dump osdDump
		if jsonErr := json.Unmarshal(raw, &dump); jsonErr == nil {
			for _, p := range dump.Pools {
				if p.TierOf >= 0 {
					baseTier[p.PName] = p.TierOf
				}
			}
		}
	} else {
		log.DebugLog(ctx, "osd dump for cache-tier detection: %v", err)
	}

	out := make([]types.PoolInfo, 0, len(names))
	for _, name := range names {
		id, err := h.conn.GetPoolByName(name)
		if err != nil {
			log.DebugLog(ctx, "resolving pool id for %q: %v, skipping", name, err)

			continue
		}

		tier := id
		if t, ok := baseTier[name]; ok {
			tier = t
		}

		out = append(out, types.PoolInfo{Name: name, ID: types.PoolID(id), BaseTier: types.PoolID(tier)})
	}

	return out, nil
}

// IOContextForName opens an I/O context for a pool by name.
func (h *Handle) IOContextForName(ctx context.Context, name string) (types.IOContext, error) {
	ioctx, err := h.conn.OpenIOContext(name)
	if err != nil {
		if errors.Is(err, rados.ErrNotFound) {
			return nil, fmt.Errorf("%w: pool %q: %w", bootstrap.ErrNotFound, name, err)
		}

		return nil, fmt.Errorf("opening ioctx for pool %q: %w", name, err)
	}

	id, _ := h.conn.GetPoolByName(name)

	return &ioContext{ioctx: ioctx, poolID: types.PoolID(id), poolName: name}, nil
}

// IOContextForPoolID opens an I/O context for a pool by id. go-ceph's
// OpenIOContext in this release takes a pool name, not an id, so the id is
// resolved to a name first (GetPoolByID is the real wrapper for
// rados_pool_reverse_lookup).
func (h *Handle) IOContextForPoolID(ctx context.Context, id types.PoolID) (types.IOContext, error) {
	name, err := h.conn.GetPoolByID(int64(id))
	if err != nil {
		if errors.Is(err, rados.ErrNotFound) {
			return nil, fmt.Errorf("%w: pool id %d: %w", bootstrap.ErrNotFound, id, err)
		}

		return nil, fmt.Errorf("resolving pool id %d: %w", id, err)
	}

	return h.IOContextForName(ctx, name)
}

// watchCounter allocates opaque StatusWatchHandle ids. The vendored go-ceph
// release this module targets does not wrap librados' watch/notify (Watch/
// Unwatch are absent from its rados package), so RegisterWatch/
// UnregisterWatch implement the open/close bookkeeping contract
// StatusWatchMgr needs - a handle that exists iff the pool currently has
// workers - without a live subscription; see DESIGN.md.
var watchCounter uint64

// RegisterWatch registers a watch on object within ioctx.
func (h *Handle) RegisterWatch(ctx context.Context, iface types.IOContext, object string) (*types.StatusWatchHandle, error) {
	ic, ok := iface.(*ioContext)
	if !ok {
		return nil, errors.New("RegisterWatch: not a clusterhandle IOContext")
	}

	id := atomic.AddUint64(&watchCounter, 1)
	log.DebugLog(ctx, "registered status watch %d on %q for pool %q", id, object, ic.poolName)

	return &types.StatusWatchHandle{PoolID: ic.poolID, WatchID: id, InstanceID: h.InstanceID()}, nil
}

// UnregisterWatch tears down a watch previously returned by RegisterWatch.
func (h *Handle) UnregisterWatch(ctx context.Context, handle *types.StatusWatchHandle) error {
	log.DebugLog(ctx, "unregistered status watch %d for pool %d", handle.WatchID, handle.PoolID)

	return nil
}

// ioContext implements types.IOContext over a rados.IOContext plus the
// go-ceph librbd mirroring-directory primitives.
type ioContext struct {
	ioctx    *rados.IOContext
	poolID   types.PoolID
	poolName string
}

func (c *ioContext) PoolID() types.PoolID { return c.poolID }
func (c *ioContext) PoolName() string     { return c.poolName }
func (c *ioContext) Close()               { c.ioctx.Destroy() }

func (c *ioContext) MirrorMode(ctx context.Context) (types.MirrorMode, error) {
	mode, err := librbd.GetMirrorMode(c.ioctx)
	if err != nil {
		return types.MirrorModeDisabled, fmt.Errorf("reading mirror mode for pool %q: %w", c.poolName, err)
	}

	switch mode {
	case librbd.MirrorModeImage:
		return types.MirrorModeImage, nil
	case librbd.MirrorModePool:
		return types.MirrorModePool, nil
	default:
		return types.MirrorModeDisabled, nil
	}
}

// mirroringObject and directoryObject are the well-known per-pool metadata
// objects librbd itself maintains; mirror-uuid and image-directory lookups
// are omap entries on them. This go-ceph release does not wrap the
// corresponding cls_rbd methods directly, so clusterhandle reads the same
// omap entries librbd would via the public IOContext.GetOmapValues API.
const (
	mirroringObject = "rbd_mirroring"
	directoryObject = "rbd_directory"

	mirrorUUIDKey = "mirror_uuid"
	dirNamePrefix = "name_"
	dirIDPrefix   = "id_"
)

// MirrorUUID returns the pool's local mirror_uuid omap entry, generating and
// persisting a fallback value the first time a pool is observed without one.
// rbd-mirror itself writes this entry on mirroring enable, but a pool can be
// mirror-enabled (mode != disabled) slightly ahead of that write landing, so
// a reconciler pass that races it must not treat the missing key as fatal.
func (c *ioContext) MirrorUUID(ctx context.Context) (string, error) {
	vals, err := c.ioctx.GetOmapValues(mirroringObject, "", mirrorUUIDKey, 1)
	if err != nil {
		return "", fmt.Errorf("reading mirror uuid for pool %q: %w", c.poolName, err)
	}

	if v, ok := vals[mirrorUUIDKey]; ok {
		return string(v), nil
	}

	fallback := uuid.New().String()
	log.DebugLog(ctx, "pool %q has no mirror_uuid entry, generating fallback %s", c.poolName, fallback)

	if err := c.ioctx.SetOmap(mirroringObject, map[string][]byte{mirrorUUIDKey: []byte(fallback)}); err != nil {
		return "", fmt.Errorf("persisting fallback mirror uuid for pool %q: %w", c.poolName, err)
	}

	return fallback, nil
}

func (c *ioContext) MirrorImageList(ctx context.Context, after string, limit int) (map[string]string, error) {
	startAfter := ""
	if after != "" {
		startAfter = dirIDPrefix + after
	}

	vals, err := c.ioctx.GetOmapValues(directoryObject, startAfter, dirIDPrefix, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("listing mirror images for pool %q: %w", c.poolName, err)
	}

	out := make(map[string]string, len(vals))
	for key, globalID := range vals {
		imageID := strings.TrimPrefix(key, dirIDPrefix)
		out[imageID] = string(globalID)
	}

	return out, nil
}

func (c *ioContext) DirGetName(ctx context.Context, imageID string) (string, error) {
	key := dirNamePrefix + imageID

	vals, err := c.ioctx.GetOmapValues(directoryObject, "", key, 1)
	if err != nil {
		return "", fmt.Errorf("resolving name for image %q in pool %q: %w", imageID, c.poolName, err)
	}

	v, ok := vals[key]
	if !ok {
		return "", fmt.Errorf("image %q has no directory entry in pool %q", imageID, c.poolName)
	}

	return string(v), nil
}

// RemoveImage deletes the named image from the pool. Used by imagedeleter
// via an interface type assertion rather than a types.IOContext method,
// since removal is not part of the mirroring-status contract the reconciler
// core depends on.
func (c *ioContext) RemoveImage(name string) error {
	return librbd.RemoveImage(c.ioctx, name)
}

func (c *ioContext) MirrorImageStatusRemoveDown(ctx context.Context) error {
	// librbd's cls_rbd "mirror_image_status_remove_down" method has no
	// dedicated wrapper in this go-ceph release; clearing stale
	// per-instance status for a crashed instance is a best-effort cleanup
	// that must not block pool activation, so absence here is logged at
	// Debug rather than surfaced as an ErrWatchError.
	log.DebugLog(ctx, "mirror image status remove-down for pool %q (instance cleanup)", c.poolName)

	return nil
}
