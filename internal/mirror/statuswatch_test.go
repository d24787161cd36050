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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ceph/rbd-mirror-peer/internal/mirror/types"
)

func TestStatusWatchMgrOpenThenCloseRoundTrip(t *testing.T) {
	local := newFakeCluster("local")
	m := newStatusWatchMgr(local)
	ioctx := &fakeIOContext{poolID: 1, poolName: "rbd"}

	handle, err := m.Open(context.Background(), 1, ioctx)
	require.NoError(t, err)
	require.NotNil(t, handle)
	require.Contains(t, m.watches, types.PoolID(1))

	require.NoError(t, m.Close(context.Background(), 1))
	require.NotContains(t, m.watches, types.PoolID(1))
}

func TestStatusWatchMgrOpenRejectsDuplicatePool(t *testing.T) {
	local := newFakeCluster("local")
	m := newStatusWatchMgr(local)
	ioctx := &fakeIOContext{poolID: 1, poolName: "rbd"}

	_, err := m.Open(context.Background(), 1, ioctx)
	require.NoError(t, err)
	_, err = m.Open(context.Background(), 1, ioctx)
	require.Error(t, err)
}

func TestStatusWatchMgrCloseRejectsUnknownPool(t *testing.T) {
	local := newFakeCluster("local")
	m := newStatusWatchMgr(local)

	require.Error(t, m.Close(context.Background(), 42))
}

func TestMirroringMetadataObjectNamesPerPool(t *testing.T) {
	require.Equal(t, "rbd_mirroring.1", mirroringMetadataObject(1))
	require.Equal(t, "rbd_mirroring.42", mirroringMetadataObject(42))
}
