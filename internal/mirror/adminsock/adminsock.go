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

// Package adminsock implements the administrative command transport: a
// Unix-domain-socket, JSON-lines request/response protocol serving
// AdminSurface's five verbs to a separate CLI invocation of the same
// binary. Grounded on the teacher's internal/csi-common/server.go (remove a
// stale socket file, then net.Listen("unix", ...), non-blocking
// Start/Wait/Stop) with the gRPC server swapped for a line protocol, since
// this daemon has no CSI/gRPC surface to reuse (see DESIGN.md).
package adminsock

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"

	"github.com/ceph/rbd-mirror-peer/internal/mirror/admin"
	"github.com/ceph/rbd-mirror-peer/internal/util/log"
)

// Request is one JSON-lines administrative request.
type Request struct {
	Command string `json:"command"`
	Format  string `json:"format,omitempty"`
}

// Response is one JSON-lines administrative response.
type Response struct {
	Output string `json:"output"`
	Error  string `json:"error,omitempty"`
}

// Dispatcher is satisfied by *mirror.Peer.
type Dispatcher interface {
	Dispatch(cmd admin.Command, format admin.OutputFormat) (string, error)
}

// Server listens on a Unix domain socket and serves Dispatcher over the
// JSON-lines protocol. Serve runs the accept loop; Stop closes the listener
// and waits for in-flight connections to finish.
type Server struct {
	listener net.Listener
	wg       sync.WaitGroup
}

// Listen removes any stale socket file left by a prior, uncleanly-stopped
// instance and binds a fresh Unix listener.
func Listen(socketPath string) (*Server, error) {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale admin socket %q: %w", socketPath, err)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on admin socket %q: %w", socketPath, err)
	}

	return &Server{listener: listener}, nil
}

// Serve runs the accept loop against d. It blocks until Stop closes the
// listener, so call it in its own goroutine.
func (s *Server) Serve(d Dispatcher) {
	log.DefaultLog("admin socket listening on %s", s.listener.Addr())

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return // listener closed by Stop
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handleConn(conn, d)
		}()
	}
}

// Stop closes the listener and waits for in-flight connections to drain.
func (s *Server) Stop() {
	s.listener.Close()
	s.wg.Wait()
}

func handleConn(conn net.Conn, d Dispatcher) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			_ = enc.Encode(Response{Error: fmt.Sprintf("malformed request: %v", err)})

			continue
		}

		cmd, ok := admin.ParseCommand(req.Command)
		if !ok {
			_ = enc.Encode(Response{Error: fmt.Sprintf("unknown command %q", req.Command)})

			continue
		}

		format := admin.Human
		if req.Format == "json" {
			format = admin.JSON
		}

		output, err := d.Dispatch(cmd, format)
		resp := Response{Output: output}
		if err != nil {
			resp.Error = err.Error()
		}
		_ = enc.Encode(resp)
	}
}

// Call is the CLI-side client: dial socketPath, send one request, read one
// response.
func Call(socketPath, command, format string) (Response, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return Response{}, fmt.Errorf("connecting to admin socket %q: %w", socketPath, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(Request{Command: command, Format: format}); err != nil {
		return Response{}, fmt.Errorf("sending admin request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Response{}, fmt.Errorf("reading admin response: %w", err)
		}

		return Response{}, errors.New("admin socket closed without a response")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("decoding admin response: %w", err)
	}

	return resp, nil
}
