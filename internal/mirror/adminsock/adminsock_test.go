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

package adminsock

import (
	"bufio"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ceph/rbd-mirror-peer/internal/mirror/admin"
)

type fakeDispatcher struct {
	lastCmd    admin.Command
	lastFormat admin.OutputFormat
	output     string
	err        error
}

func (f *fakeDispatcher) Dispatch(cmd admin.Command, format admin.OutputFormat) (string, error) {
	f.lastCmd = cmd
	f.lastFormat = format

	return f.output, f.err
}

func startTestServer(t *testing.T, d Dispatcher) (socketPath string, stop func()) {
	t.Helper()
	socketPath = filepath.Join(t.TempDir(), "admin.sock")

	s, err := Listen(socketPath)
	require.NoError(t, err)
	go s.Serve(d)

	return socketPath, s.Stop
}

func TestCallRoundTripsStatusRequest(t *testing.T) {
	d := &fakeDispatcher{output: "peer remote-site: 0 image replayer(s)\n"}
	socketPath, stop := startTestServer(t, d)
	defer stop()

	resp, err := Call(socketPath, "status", "human")
	require.NoError(t, err)
	require.Empty(t, resp.Error)
	require.Equal(t, d.output, resp.Output)
	require.Equal(t, admin.Status, d.lastCmd)
	require.Equal(t, admin.Human, d.lastFormat)
}

func TestCallWithJSONFormatIsTranslated(t *testing.T) {
	d := &fakeDispatcher{output: `{"peer":"x"}`}
	socketPath, stop := startTestServer(t, d)
	defer stop()

	resp, err := Call(socketPath, "status", "json")
	require.NoError(t, err)
	require.Equal(t, admin.JSON, d.lastFormat)
	require.Equal(t, d.output, resp.Output)
}

func TestCallSurfacesDispatchError(t *testing.T) {
	d := &fakeDispatcher{err: require.AnError}
	socketPath, stop := startTestServer(t, d)
	defer stop()

	resp, err := Call(socketPath, "stop", "human")
	require.NoError(t, err, "transport itself must succeed even when Dispatch errors")
	require.Equal(t, require.AnError.Error(), resp.Error)
}

func TestCallWithUnknownCommandReturnsError(t *testing.T) {
	d := &fakeDispatcher{}
	socketPath, stop := startTestServer(t, d)
	defer stop()

	resp, err := Call(socketPath, "bogus-verb", "human")
	require.NoError(t, err)
	require.Contains(t, resp.Error, "unknown command")
}

func TestListenRemovesStaleSocketFile(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "admin.sock")

	s1, err := Listen(socketPath)
	require.NoError(t, err)
	// Simulate an unclean shutdown: the socket file is left behind without
	// closing the listener first.

	s2, err := Listen(socketPath)
	require.NoError(t, err, "Listen must remove a stale socket file left by a prior instance")
	s2.Stop()
	s1.listener.Close()
}

func TestMultipleRequestsOverOneConnectionAreServedInOrder(t *testing.T) {
	d := &fakeDispatcher{output: "ok"}
	socketPath, stop := startTestServer(t, d)
	defer stop()

	conn, err := net.Dial("unix", socketPath)
	require.NoError(t, err)
	defer conn.Close()

	enc := json.NewEncoder(conn)
	scanner := bufio.NewScanner(conn)
	for _, want := range []admin.Command{admin.Status, admin.Restart, admin.Flush} {
		require.NoError(t, enc.Encode(Request{Command: want.String(), Format: "human"}))
		require.True(t, scanner.Scan())

		var resp Response
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &resp))
		require.Equal(t, "ok", resp.Output)
		require.Equal(t, want, d.lastCmd)
	}
}
