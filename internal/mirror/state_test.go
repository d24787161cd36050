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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewReconcilerStateStartsEmpty(t *testing.T) {
	s := newReconcilerState()

	require.Empty(t, s.Images)
	require.Empty(t, s.StatusWatches)
	require.Empty(t, s.InitResidue)
	require.Equal(t, 0, s.imageCount())
	require.False(t, s.bootstrapped)
	require.False(t, s.manualStopped)
	require.False(t, s.stopping)
}

func TestImageCountSumsAcrossPools(t *testing.T) {
	s := newReconcilerState()
	s.Images[1] = map[string]*worker{
		"img-a": {replayer: newFakeReplayer(1, "img-a", "g-a")},
		"img-b": {replayer: newFakeReplayer(1, "img-b", "g-b")},
	}
	s.Images[2] = map[string]*worker{
		"img-c": {replayer: newFakeReplayer(2, "img-c", "g-c")},
	}

	require.Equal(t, 3, s.imageCount())
}

func TestWorkerDelegatesRunningStateToReplayer(t *testing.T) {
	r := newFakeReplayer(1, "img-a", "g-a")
	w := &worker{poolID: 1, imageID: "img-a", globalID: "g-a", imageName: "vol-a", replayer: r}

	require.True(t, w.isStopped())
	require.False(t, w.isRunning())

	r.Start(nil, false)
	require.True(t, w.isRunning())
	require.False(t, w.isStopped())

	r.Stop(nil, false)
	require.True(t, w.isStopped())
}
