/*
Copyright 2020 The Ceph-CSI Authors.

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
	"fmt"
	"sync"
	"time"

	"github.com/ceph/go-ceph/rados"
)

// DefaultPoolInterval and DefaultPoolExpiry size the garbage collector of
// the shared connection pool clusterhandle.Connect draws from: long enough
// that a peer's own reconnects never pay a fresh handshake, short enough
// that a torn-down peer's connections are eventually reclaimed. Matches
// ClusterConnection's 15-minute/10-minute timings.
const (
	DefaultPoolInterval = 15 * time.Minute
	DefaultPoolExpiry   = 10 * time.Minute
)

type connEntry struct {
	conn     *rados.Conn
	lastUsed time.Time
	users    int
}

// ConnPool keeps one rados.Conn per (monitors, user, keyfile) tuple alive
// across repeated Connect/Destroy calls, so that the local and remote
// cluster handles a peer opens and closes across reconciliation ticks don't
// each pay the cost of a fresh cluster handshake.
type ConnPool struct {
	interval time.Duration
	expiry   time.Duration
	timer    *time.Timer
	lock     sync.RWMutex
	conns    map[string]*connEntry
}

// NewConnPool creates a connection pool and starts its garbage collector,
// which runs every interval and destroys connections idle for expiry.
func NewConnPool(interval, expiry time.Duration) *ConnPool {
	cp := &ConnPool{
		interval: interval,
		expiry:   expiry,
		conns:    make(map[string]*connEntry),
	}
	cp.timer = time.AfterFunc(interval, cp.gc)

	return cp
}

func (cp *ConnPool) gc() {
	cp.lock.Lock()
	defer cp.lock.Unlock()

	now := time.Now()
	for key, ce := range cp.conns {
		if ce.users == 0 && now.Sub(ce.lastUsed) > cp.expiry {
			ce.destroy()
			delete(cp.conns, key)
		}
	}

	cp.timer.Reset(cp.interval)
}

// Destroy stops the garbage collector and tears down every pooled
// connection. Callers must have released all of their references first.
func (cp *ConnPool) Destroy() {
	cp.timer.Stop()
	cp.lock.Lock()
	defer cp.lock.Unlock()

	for key, ce := range cp.conns {
		if ce.users != 0 {
			continue
		}
		ce.destroy()
		delete(cp.conns, key)
	}
}

func uniqueKey(monitors, user, keyfile string) string {
	return fmt.Sprintf("%s|%s|%s", monitors, user, keyfile)
}

// getConn requires cp.lock to be held (read or write).
func (cp *ConnPool) getConn(unique string) *rados.Conn {
	ce, ok := cp.conns[unique]
	if !ok {
		return nil
	}
	ce.get()

	return ce.conn
}

// Get returns a rados.Conn for the given arguments, connecting a new one if
// none is pooled yet. Every Get must be matched with a Put.
func (cp *ConnPool) Get(monitors, user, keyfile, cephConfigPath string) (*rados.Conn, error) {
	unique := uniqueKey(monitors, user, keyfile)

	cp.lock.RLock()
	conn := cp.getConn(unique)
	cp.lock.RUnlock()
	if conn != nil {
		return conn, nil
	}

	args := []string{"-m", monitors, "--keyfile=" + keyfile}
	conn, err := rados.NewConnWithUser(user)
	if err != nil {
		return nil, fmt.Errorf("creating a new connection failed: %w", err)
	}
	if err = conn.ParseCmdLineArgs(args); err != nil {
		return nil, fmt.Errorf("parsing cmdline args (%v) failed: %w", args, err)
	}
	if cephConfigPath != "" {
		if err = conn.ReadConfigFile(cephConfigPath); err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", cephConfigPath, err)
		}
	}
	if err = conn.Connect(); err != nil {
		return nil, fmt.Errorf("connecting failed: %w", err)
	}

	ce := &connEntry{conn: conn, lastUsed: time.Now(), users: 1}

	cp.lock.Lock()
	defer cp.lock.Unlock()
	if existing := cp.getConn(unique); existing != nil {
		ce.destroy()

		return existing, nil
	}
	cp.conns[unique] = ce

	return conn, nil
}

// Put reduces the reference count of a rados.Conn obtained from Get.
func (cp *ConnPool) Put(conn *rados.Conn) {
	cp.lock.Lock()
	defer cp.lock.Unlock()

	for _, ce := range cp.conns {
		if ce.conn == conn {
			ce.users--

			return
		}
	}
}

func (ce *connEntry) get() {
	ce.lastUsed = time.Now()
	ce.users++
}

func (ce *connEntry) destroy() {
	if ce.conn != nil {
		ce.conn.Shutdown()
		ce.conn = nil
	}
}
