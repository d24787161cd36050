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

// Package mirror implements the per-peer mirror replayer supervisor: the
// reconciler core, its control loop, status-watch lifecycle, and the Peer
// that wires them together.
package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/ceph/rbd-mirror-peer/internal/mirror/bootstrap"
	"github.com/ceph/rbd-mirror-peer/internal/mirror/types"
	"github.com/ceph/rbd-mirror-peer/internal/util"
	"github.com/ceph/rbd-mirror-peer/internal/util/log"
)

// Peer is the per-peer supervisor: one instance exists per remote cluster
// paired with the local cluster (spec.md's Non-goals explicitly exclude
// multi-peer fan-out from inside a single Peer).
type Peer struct {
	cfg    *util.Config
	peerID types.PeerID

	local  types.ClusterHandle
	remote types.ClusterHandle

	deleter types.ImageDeleter

	state      *ReconcilerState
	reconciler *Reconciler
	watches    *StatusWatchMgr
	watcher    types.PoolWatcher
	loop       *ControlLoop

	newLocalHandle   func(cfg *util.Config) (types.ClusterHandle, error)
	newRemoteHandle  func(cfg *util.Config, peerID types.PeerID) (types.ClusterHandle, error)
	newPoolWatcher   func(remote types.ClusterHandle, period time.Duration, broadcast func()) types.PoolWatcher
	newImageReplayer func(local, remote types.ClusterHandle, threads uint, localMirrorUUID, remoteMirrorUUID string, localPoolID, remotePoolID types.PoolID, imageID, globalID string) types.ImageReplayer
	newDeleter       func(local types.ClusterHandle, threads uint) types.ImageDeleter
}

// NewPeer constructs a Peer. It does not connect to anything or start the
// control loop (spec.md §4.1 Construct). The deleter is built from the
// local cluster handle once Init has connected it, so its factory is
// supplied through WirePeer rather than an instance here.
func NewPeer(cfg *util.Config, peerID types.PeerID) *Peer {
	return &Peer{
		cfg:    cfg,
		peerID: peerID,
	}
}

// Init runs the peer's init sequence (spec.md §4.1 "init()"). On any failure
// it releases whatever it had already acquired, in reverse order.
func (p *Peer) Init(ctx context.Context) (err error) {
	if err = p.cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	if err = util.WriteCephConfig(); err != nil {
		return fmt.Errorf("%w: writing ceph config: %w", ErrConfigParse, err)
	}

	p.remote, err = p.connectRemote(ctx)
	if err != nil {
		return &ErrConnectFailure{Peer: p.peerID.ClusterName, Err: err}
	}
	defer func() {
		if err != nil {
			p.remote.Close()
		}
	}()

	p.local, err = p.connectLocal(ctx)
	if err != nil {
		return &ErrConnectFailure{Peer: "local", Err: err}
	}
	defer func() {
		if err != nil {
			p.local.Close()
		}
	}()

	residue, err := bootstrap.InitBootstrap(ctx, p.local, p.remote)
	if err != nil {
		return fmt.Errorf("init bootstrap: %w", err)
	}

	p.deleter = p.newDeleter(p.local, p.cfg.Threads)

	p.state = newReconcilerState()
	p.state.InitResidue = residue

	p.watches = newStatusWatchMgr(p.local)
	p.reconciler = &Reconciler{
		threads: p.cfg.Threads,
		local:   p.local,
		remote:  p.remote,
		deleter: p.deleter,
		watches: p.watches,
	}
	p.reconciler.newReplayer = func(localUUID, remoteUUID string, localPoolID, remotePoolID types.PoolID, imageID, globalID string) types.ImageReplayer {
		return p.newImageReplayer(p.local, p.remote, p.cfg.Threads, localUUID, remoteUUID, localPoolID, remotePoolID, imageID, globalID)
	}

	p.loop = NewControlLoop(p.state, p.reconciler, nil, p.cfg.ControlLoopInterval, p.cfg.DrainInterval)

	p.watcher = p.newPoolWatcher(p.remote, p.cfg.PoolWatcherInterval, p.loop.Broadcast)
	p.loop.poolWatcher = p.watcher

	p.watcher.RefreshImages(ctx)

	go p.loop.Run(ctx)

	log.DefaultLog("peer %q initialized against %q", p.peerID.ClusterName, p.peerID.MonHost)

	return nil
}

// WirePeer injects the collaborator factories a Peer needs before Init can
// run. Exported so cmd/rbd-mirror-peer can supply the go-ceph-backed
// implementations without Peer's fields themselves being exported (tests
// build their own Peer with fakes the same way, from within this package).
func WirePeer(
	p *Peer,
	newLocalHandle func(cfg *util.Config) (types.ClusterHandle, error),
	newRemoteHandle func(cfg *util.Config, peerID types.PeerID) (types.ClusterHandle, error),
	newPoolWatcher func(remote types.ClusterHandle, period time.Duration, broadcast func()) types.PoolWatcher,
	newImageReplayer func(local, remote types.ClusterHandle, threads uint, localMirrorUUID, remoteMirrorUUID string, localPoolID, remotePoolID types.PoolID, imageID, globalID string) types.ImageReplayer,
	newDeleter func(local types.ClusterHandle, threads uint) types.ImageDeleter,
) {
	p.newLocalHandle = newLocalHandle
	p.newRemoteHandle = newRemoteHandle
	p.newPoolWatcher = newPoolWatcher
	p.newImageReplayer = newImageReplayer
	p.newDeleter = newDeleter
}

func (p *Peer) connectRemote(ctx context.Context) (types.ClusterHandle, error) {
	return p.newRemoteHandle(p.cfg, p.peerID)
}

func (p *Peer) connectLocal(ctx context.Context) (types.ClusterHandle, error) {
	return p.newLocalHandle(p.cfg)
}

// Destroy signals stopping, wakes the control loop, joins it, and only then
// tears down the cluster handles (spec.md §4.1 Destroy and §9's open
// question about ordering the stop signal before teardown).
func (p *Peer) Destroy() {
	if p.loop != nil {
		p.loop.Stop()
		p.loop.Join()
	}
	if closer, ok := p.deleter.(interface{ Close() }); ok {
		closer.Close()
	}
	if p.remote != nil {
		p.remote.Close()
	}
	if p.local != nil {
		p.local.Close()
	}
}
