/*
Copyright 2018 The Ceph-CSI Authors.

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
	"os"
)

var cephConfig = []byte(`[global]
auth_cluster_required = cephx
auth_service_required = cephx
auth_client_required = cephx
rbd_cache = false
`)

const (
	cephConfigRoot = "/etc/ceph"
	// CephConfigPath is the ceph configuration file the peer's cluster
	// handles read on connect.
	CephConfigPath = "/etc/ceph/ceph.conf"

	keyRing = "/etc/ceph/keyring"
)

func createCephConfigRoot() error {
	return os.MkdirAll(cephConfigRoot, 0o755) // #nosec:G301, world readable by design
}

// WriteCephConfig writes out a basic ceph.conf with the local read cache
// force-disabled (rbd_cache = false): journal-tail workers always read the
// latest committed state from the cluster, so caching would only risk
// serving stale data.
func WriteCephConfig() error {
	if err := createCephConfigRoot(); err != nil {
		return err
	}

	err := os.WriteFile(CephConfigPath, cephConfig, 0o600)
	if err != nil {
		return err
	}

	return createKeyRingFile()
}

// createKeyRingFile creates an empty keyring file so that ceph client
// commands stop complaining about a missing default keyring location.
func createKeyRingFile() error {
	_, err := os.Create(keyRing)

	return err
}
