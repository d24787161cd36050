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

package bootstrap_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ceph/rbd-mirror-peer/internal/mirror/bootstrap"
	"github.com/ceph/rbd-mirror-peer/internal/mirror/types"
)

type fakeIOContext struct {
	poolID types.PoolID
	mode   types.MirrorMode
	images map[string]string // imageID -> globalID
	names  map[string]string // imageID -> name
}

func (f *fakeIOContext) PoolID() types.PoolID   { return f.poolID }
func (f *fakeIOContext) PoolName() string       { return fmt.Sprintf("pool-%d", f.poolID) }
func (f *fakeIOContext) Close()                 {}
func (f *fakeIOContext) MirrorMode(context.Context) (types.MirrorMode, error) { return f.mode, nil }
func (f *fakeIOContext) MirrorUUID(context.Context) (string, error)           { return "uuid", nil }

func (f *fakeIOContext) MirrorImageList(_ context.Context, after string, _ int) (map[string]string, error) {
	if after != "" {
		return map[string]string{}, nil // single page is enough for these tests
	}

	return f.images, nil
}

func (f *fakeIOContext) DirGetName(_ context.Context, imageID string) (string, error) {
	name, ok := f.names[imageID]
	if !ok {
		return "", fmt.Errorf("no such image %q", imageID)
	}

	return name, nil
}

func (f *fakeIOContext) MirrorImageStatusRemoveDown(context.Context) error { return nil }

type fakeCluster struct {
	pools    []types.PoolInfo
	contexts map[types.PoolID]*fakeIOContext
	byName   map[string]types.PoolID
}

func (f *fakeCluster) ListPools(context.Context) ([]types.PoolInfo, error) { return f.pools, nil }

func (f *fakeCluster) IOContextForPoolID(_ context.Context, id types.PoolID) (types.IOContext, error) {
	ctx, ok := f.contexts[id]
	if !ok {
		return nil, fmt.Errorf("%w: pool %d", bootstrap.ErrNotFound, id)
	}

	return ctx, nil
}

func (f *fakeCluster) IOContextForName(ctx context.Context, name string) (types.IOContext, error) {
	id, ok := f.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: pool %q", bootstrap.ErrNotFound, name)
	}

	return f.IOContextForPoolID(ctx, id)
}

func (f *fakeCluster) InstanceID() string { return "fake" }
func (f *fakeCluster) RegisterWatch(context.Context, types.IOContext, string) (*types.StatusWatchHandle, error) {
	return nil, nil
}
func (f *fakeCluster) UnregisterWatch(context.Context, *types.StatusWatchHandle) error { return nil }
func (f *fakeCluster) Close()                                                         {}

func TestInitBootstrapSkipsCacheTiers(t *testing.T) {
	local := &fakeCluster{
		pools: []types.PoolInfo{{Name: "cache", ID: 2, BaseTier: 1}},
	}
	remote := &fakeCluster{}

	residue, err := bootstrap.InitBootstrap(context.Background(), local, remote)
	require.NoError(t, err)
	require.Empty(t, residue)
}

func TestInitBootstrapSkipsDisabledMirrorMode(t *testing.T) {
	local := &fakeCluster{
		pools:    []types.PoolInfo{{Name: "rbd", ID: 1, BaseTier: 1}},
		contexts: map[types.PoolID]*fakeIOContext{1: {poolID: 1, mode: types.MirrorModeDisabled}},
	}
	remote := &fakeCluster{}

	residue, err := bootstrap.InitBootstrap(context.Background(), local, remote)
	require.NoError(t, err)
	require.Empty(t, residue)
}

func TestInitBootstrapKeysByRemotePoolIDWhenPoolExistsRemotely(t *testing.T) {
	local := &fakeCluster{
		pools: []types.PoolInfo{{Name: "rbd", ID: 1, BaseTier: 1}},
		contexts: map[types.PoolID]*fakeIOContext{
			1: {
				poolID: 1,
				mode:   types.MirrorModeImage,
				images: map[string]string{"img-a": "global-a"},
				names:  map[string]string{"img-a": "vol-a"},
			},
		},
	}
	remote := &fakeCluster{
		pools:    []types.PoolInfo{{Name: "rbd", ID: 99, BaseTier: 99}},
		contexts: map[types.PoolID]*fakeIOContext{99: {poolID: 99}},
		byName:   map[string]types.PoolID{"rbd": 99},
	}

	residue, err := bootstrap.InitBootstrap(context.Background(), local, remote)
	require.NoError(t, err)
	require.Contains(t, residue, types.PoolID(99), "residue must be keyed by the remote pool id, not the local one")

	entries := residue[99].UnsortedList()
	require.Len(t, entries, 1)
	require.Equal(t, "global-a", entries[0].GlobalID)
	require.Equal(t, "vol-a", entries[0].Name)
}

func TestInitBootstrapFallsBackToLocalPoolIDWhenRemoteMissing(t *testing.T) {
	local := &fakeCluster{
		pools: []types.PoolInfo{{Name: "rbd", ID: 1, BaseTier: 1}},
		contexts: map[types.PoolID]*fakeIOContext{
			1: {
				poolID: 1,
				mode:   types.MirrorModeImage,
				images: map[string]string{"img-a": "global-a"},
				names:  map[string]string{"img-a": "vol-a"},
			},
		},
	}
	remote := &fakeCluster{}

	residue, err := bootstrap.InitBootstrap(context.Background(), local, remote)
	require.NoError(t, err)
	require.Contains(t, residue, types.PoolID(1))
}

func TestInitBootstrapSkipsImagesMissingDirEntry(t *testing.T) {
	local := &fakeCluster{
		pools: []types.PoolInfo{{Name: "rbd", ID: 1, BaseTier: 1}},
		contexts: map[types.PoolID]*fakeIOContext{
			1: {
				poolID: 1,
				mode:   types.MirrorModeImage,
				images: map[string]string{"img-a": "global-a", "img-b": "global-b"},
				names:  map[string]string{"img-a": "vol-a"}, // img-b has no dir entry
			},
		},
	}
	remote := &fakeCluster{}

	residue, err := bootstrap.InitBootstrap(context.Background(), local, remote)
	require.NoError(t, err)
	entries := residue[1].UnsortedList()
	require.Len(t, entries, 1)
	require.Equal(t, "img-a", entries[0].ID)
}
