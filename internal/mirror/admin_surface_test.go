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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ceph/rbd-mirror-peer/internal/mirror/admin"
	"github.com/ceph/rbd-mirror-peer/internal/mirror/types"
)

func newTestPeer() (*Peer, *fakeReplayer) {
	state := newReconcilerState()
	replayer := newFakeReplayer(1, "img-a", "g-a")
	replayer.Start(nil, false)
	state.Images[1] = map[string]*worker{
		"img-a": {poolID: 1, imageID: "img-a", globalID: "g-a", imageName: "vol-a", replayer: replayer},
	}

	loop := NewControlLoop(state, &Reconciler{}, newFakePoolWatcher(), time.Hour, time.Hour)

	p := &Peer{
		peerID: types.PeerID{ClusterName: "remote-site"},
		state:  state,
		loop:   loop,
	}

	return p, replayer
}

func TestDispatchStatusHumanFormat(t *testing.T) {
	p, _ := newTestPeer()

	out, err := p.Dispatch(admin.Status, admin.Human)
	require.NoError(t, err)
	require.Contains(t, out, "remote-site")
	require.Contains(t, out, "img-a")
}

func TestDispatchStatusJSONFormat(t *testing.T) {
	p, _ := newTestPeer()

	out, err := p.Dispatch(admin.Status, admin.JSON)
	require.NoError(t, err)

	var doc replayerStatusDoc
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	require.Equal(t, "remote-site", doc.Peer)
	require.Len(t, doc.ImageReplayers, 1)
	require.Equal(t, "img-a", doc.ImageReplayers[0].LocalImageID)
}

func TestDispatchStopThenStartTogglesManualStopped(t *testing.T) {
	p, replayer := newTestPeer()

	_, err := p.Dispatch(admin.Stop, admin.Human)
	require.NoError(t, err)
	require.True(t, p.state.manualStopped)
	require.True(t, replayer.IsStopped())

	_, err = p.Dispatch(admin.Start, admin.Human)
	require.NoError(t, err)
	require.False(t, p.state.manualStopped)
	require.True(t, replayer.IsRunning())
}

func TestDispatchRestartCyclesReplayer(t *testing.T) {
	p, replayer := newTestPeer()

	_, err := p.Dispatch(admin.Restart, admin.Human)
	require.NoError(t, err)
	require.Len(t, replayer.stopHistory, 1)
	// One start from newTestPeer's setup, one from Restart.
	require.Len(t, replayer.startHistory, 2)
	require.True(t, replayer.IsRunning())
}

func TestDispatchIsNoopWhileStopping(t *testing.T) {
	p, replayer := newTestPeer()
	p.state.stopping = true

	out, err := p.Dispatch(admin.Start, admin.Human)
	require.NoError(t, err)
	require.Empty(t, out)
	require.True(t, replayer.IsRunning(), "no-op dispatch must not touch worker state")
}

func TestDispatchFlushIsNoopWhileManualStopped(t *testing.T) {
	p, _ := newTestPeer()
	p.state.manualStopped = true

	_, err := p.Dispatch(admin.Flush, admin.Human)
	require.NoError(t, err)
}

func TestParseCommandRoundTrip(t *testing.T) {
	for _, verb := range []string{"status", "start", "stop", "restart", "flush"} {
		cmd, ok := admin.ParseCommand(verb)
		require.True(t, ok)
		require.Equal(t, verb, cmd.String())
	}

	_, ok := admin.ParseCommand("bogus")
	require.False(t, ok)
}
