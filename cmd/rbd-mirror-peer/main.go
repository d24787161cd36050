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

// rbd-mirror-peer is the daemon entrypoint and its own admin CLI client,
// following cmd/cephcsi.go's flag-based main() shape (version flag,
// klog.InitFlags wiring, os.Exit codes).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/ceph/rbd-mirror-peer/internal/mirror"
	"github.com/ceph/rbd-mirror-peer/internal/mirror/adminsock"
	"github.com/ceph/rbd-mirror-peer/internal/mirror/clusterhandle"
	"github.com/ceph/rbd-mirror-peer/internal/mirror/imagedeleter"
	"github.com/ceph/rbd-mirror-peer/internal/mirror/imagereplayer"
	"github.com/ceph/rbd-mirror-peer/internal/mirror/metrics"
	"github.com/ceph/rbd-mirror-peer/internal/mirror/poolwatcher"
	"github.com/ceph/rbd-mirror-peer/internal/mirror/types"
	"github.com/ceph/rbd-mirror-peer/internal/util"
	"github.com/ceph/rbd-mirror-peer/internal/util/log"
)

const (
	envPrefix = "RBD_MIRROR_PEER_"

	// Version is stamped at release build time; left as a default here the
	// same way cephcsi's DriverVersion is a plain package var, not an
	// ldflags-only constant.
	Version = "v0.1.0-dev"
)

var adminVerbs = map[string]bool{
	"status": true, "start": true, "stop": true, "restart": true, "flush": true,
}

func main() {
	var cfg util.Config
	fs := flag.CommandLine
	cfg.RegisterFlags(fs)

	klog.InitFlags(nil)
	if err := fs.Set("logtostderr", "true"); err != nil {
		klog.Exitf("failed to set logtostderr flag: %v", err)
	}
	flag.Parse()

	util.ApplyEnv(envPrefix, fs)

	if cfg.Version {
		printVersion()
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) > 0 && adminVerbs[args[0]] {
		os.Exit(runAdminClient(&cfg, args))
	}

	if err := cfg.ParseExtraArgs(fs, args); err != nil {
		log.ErrorLogMsg("%v", err)
		os.Exit(1)
	}

	os.Exit(runDaemon(&cfg))
}

func printVersion() {
	fmt.Println("rbd-mirror-peer Version:", Version)
	fmt.Println("Go Version:", runtime.Version())
	fmt.Println("Compiler:", runtime.Compiler)
	fmt.Printf("Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// runAdminClient implements the CLI side of SPEC_FULL.md §6.5's admin
// surface: dial the running daemon's admin socket, send one verb, print the
// response.
func runAdminClient(cfg *util.Config, args []string) int {
	fs := flag.NewFlagSet("admin", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "emit machine-readable JSON output")
	if err := fs.Parse(args[1:]); err != nil {
		return 1
	}

	format := "human"
	if *jsonOut {
		format = "json"
	}

	resp, err := adminsock.Call(cfg.AdminSocket, args[0], format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)

		return 1
	}
	if resp.Error != "" {
		fmt.Fprintln(os.Stderr, resp.Error)

		return 1
	}
	fmt.Print(resp.Output)

	return 0
}

// runDaemon builds and runs the peer supervisor until SIGINT/SIGTERM.
func runDaemon(cfg *util.Config) int {
	if err := cfg.Validate(); err != nil {
		log.ErrorLogMsg("%v", err)

		return 1
	}

	peerID := types.PeerID{
		ClusterName: cfg.PeerClusterName,
		ClientID:    cfg.ClientID,
		MonHost:     cfg.MonHost,
	}

	peer := mirror.NewPeer(cfg, peerID)
	wirePeer(peer, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := peer.Init(ctx); err != nil {
		log.ErrorLogMsg("initializing peer %q: %v", peerID.ClusterName, err)

		return 1
	}

	sock, err := adminsock.Listen(cfg.AdminSocket)
	if err != nil {
		log.ErrorLogMsg("%v", err)
		peer.Destroy()

		return 1
	}
	go sock.Serve(peer)

	if cfg.MetricsAddr != "" {
		go metrics.Serve(cfg.MetricsAddr)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.DefaultLog("shutting down peer %q", peerID.ClusterName)
	sock.Stop()
	peer.Destroy()

	return 0
}

// wirePeer injects the go-ceph-backed collaborator factories, leaving
// Peer's own fields unexported so only this entrypoint (or a test building
// fakes directly) can set them.
func wirePeer(peer *mirror.Peer, cfg *util.Config) {
	mirror.WirePeer(peer,
		func(c *util.Config) (types.ClusterHandle, error) {
			return clusterhandle.Connect(localMonHost(), c.ClientID, c.KeyFile, util.CephConfigPath)
		},
		func(c *util.Config, id types.PeerID) (types.ClusterHandle, error) {
			return clusterhandle.Connect(id.MonHost, id.ClientID, c.KeyFile, util.CephConfigPath)
		},
		func(remote types.ClusterHandle, period time.Duration, broadcast func()) types.PoolWatcher {
			return poolwatcher.New(remote, period, broadcast)
		},
		func(local, remote types.ClusterHandle, threads uint, localUUID, remoteUUID string, localPoolID, remotePoolID types.PoolID, imageID, globalID string) types.ImageReplayer {
			return imagereplayer.New(local, remote, threads, localUUID, remoteUUID, localPoolID, remotePoolID, imageID, globalID)
		},
		func(local types.ClusterHandle, threads uint) types.ImageDeleter {
			return imagedeleter.New(local, threads)
		},
	)
}

// localMonHost resolves the local cluster's monitor addresses from the
// standard ceph.conf discovered by util.WriteCephConfig; go-ceph's
// ParseCmdLineArgs/ReadConfigFile path (used by clusterhandle.Connect) reads
// it from the config file when passed an empty monitors string, matching
// ClusterConnection's own behavior of relying on ceph.conf for the local
// cluster identity instead of a mon-host flag.
func localMonHost() string {
	return ""
}
