/*
Copyright 2019 The Ceph-CSI Authors.

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

package util

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config holds the daemon-wide configuration read from flags and the
// environment, mirroring cephcsi's flag-backed util.Config but scoped to a
// single mirror peer. Extra args (ParseExtraArgs) are parsed after flags and
// the environment, matching the precedence spec.md §4.1(b) and §6 describe.
type Config struct {
	// LocalClusterName identifies the local cluster in logs and metrics.
	LocalClusterName string
	// PeerClusterName is the remote cluster this daemon mirrors from.
	PeerClusterName string
	// ClientID is the Ceph client identity used to authenticate to both
	// clusters (local and remote use the same id by convention).
	ClientID string
	// MonHost is the comma separated list of remote monitor addresses.
	MonHost string
	// KeyFile is the path to the client's keyring/keyfile.
	KeyFile string
	// Threads is the image deleter's worker count; it is also passed to
	// each image replayer, which does not use it.
	Threads uint
	// PoolWatcherInterval is how often the PoolWatcher polls the remote
	// catalog (spec.md §4.1(f): 30 seconds by default).
	PoolWatcherInterval time.Duration
	// ControlLoopInterval is the ControlLoop's wait deadline while Running
	// (spec.md §4.3: 30 seconds).
	ControlLoopInterval time.Duration
	// DrainInterval is the ControlLoop's wait deadline while Draining
	// (spec.md §4.3: 1 second).
	DrainInterval time.Duration

	// AdminSocket is the path of the unix-domain socket the admin surface
	// listens on for `rbd-mirror-peer <verb>` commands.
	AdminSocket string

	// MetricsAddr, if non-empty, serves prometheus metrics on this
	// host:port, following cephcsi's liveness endpoint convention.
	MetricsAddr string

	Version bool
}

// RegisterFlags wires Config fields to the flag package, following
// cmd/cephcsi.go's flag.StringVar/flag.DurationVar convention.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.LocalClusterName, "cluster", "ceph", "name of the local cluster")
	fs.StringVar(&c.PeerClusterName, "peer-cluster", "", "name of the remote peer cluster")
	fs.StringVar(&c.ClientID, "id", "rbd-mirror-peer", "ceph client id used to authenticate")
	fs.StringVar(&c.MonHost, "mon-host", "", "comma separated list of remote monitor addresses")
	fs.StringVar(&c.KeyFile, "keyfile", "", "path to the ceph client keyfile")
	fs.UintVar(&c.Threads, "threads", 32, "maximum number of concurrent image replayer/deleter workers")
	fs.DurationVar(&c.PoolWatcherInterval, "pool-watcher-interval", 30*time.Second,
		"how often the pool watcher polls the remote cluster for mirrored images")
	fs.DurationVar(&c.ControlLoopInterval, "control-loop-interval", 30*time.Second,
		"control loop reconciliation deadline while running")
	fs.DurationVar(&c.DrainInterval, "drain-interval", time.Second,
		"control loop reconciliation interval while draining")
	fs.StringVar(&c.AdminSocket, "admin-socket", "/run/rbd-mirror-peer/admin.sock",
		"unix socket path for the admin command surface")
	fs.StringVar(&c.MetricsAddr, "metrics-address", "", "host:port to serve prometheus metrics on, empty disables it")
	fs.BoolVar(&c.Version, "version", false, "print version information and exit")
}

// ParseExtraArgs applies a trailing, ordered sequence of "-flag=value" style
// arguments on top of whatever flags/environment already set, per spec.md
// §4.1(b)/§6: extra_args are parsed after environment variables.
func (c *Config) ParseExtraArgs(fs *flag.FlagSet, extraArgs []string) error {
	if len(extraArgs) == 0 {
		return nil
	}
	if err := fs.Parse(extraArgs); err != nil {
		return fmt.Errorf("%w: failed to parse extra args %v: %w", ErrInvalidArgument, extraArgs, err)
	}

	return nil
}

// ApplyEnv overlays environment variables named RBD_MIRROR_PEER_<FLAG>
// (upper-cased, dashes turned to underscores) onto the flag set; a set
// variable overrides any value already parsed from flags, matching the
// "environment, then extra_args" ordering from spec.md §4.1(b).
func ApplyEnv(prefix string, fs *flag.FlagSet) {
	fs.VisitAll(func(f *flag.Flag) {
		name := prefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if v, ok := os.LookupEnv(name); ok {
			_ = fs.Set(f.Name, v)
		}
	})
}

// Validate checks that the configuration is sufficient to connect to the
// peer cluster, returning ErrInvalidArgument on any parse/semantic failure
// per spec.md §4.1(b) and §7.
func (c *Config) Validate() error {
	if c.PeerClusterName == "" {
		return fmt.Errorf("%w: peer-cluster is required", ErrInvalidArgument)
	}
	if c.MonHost == "" {
		return fmt.Errorf("%w: mon-host is required for peer %q", ErrInvalidArgument, c.PeerClusterName)
	}
	if c.ClientID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidArgument)
	}

	return nil
}
