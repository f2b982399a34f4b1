package recovery

import (
	version "github.com/hashicorp/go-version"
)

const (
	// top-level reconciling controllers quiesced before any other mutation
	rookOperatorDeployment = "rook-ceph-operator"
	ocsOperatorDeployment  = "ocs-operator"

	monAppLabel   = "app=rook-ceph-mon"
	osdAppLabel   = "app=rook-ceph-osd"
	mdsAppLabel   = "app=rook-ceph-mds"
	rgwAppLabel   = "app=rook-ceph-rgw"
	nfsAppLabel   = "app=rook-ceph-nfs"
	toolsAppLabel = "app=rook-ceph-tools"

	monDaemonIDLabel = "ceph_daemon_id"

	monContainer = "mon"
	osdContainer = "osd"

	monsKeyringSecret  = "rook-ceph-mons-keyring"
	adminKeyringSecret = "rook-ceph-admin-keyring"

	ocsInitName        = "ocsinit"
	storageClusterName = "ocs-storagecluster"

	// in-pod staging paths for the extraction and rebuild tooling
	remoteTarBinary    = "/tmp/odf-tar"
	remoteScriptPath   = "/tmp/extract-monstore.sh"
	remoteMonStorePath = "/tmp/monstore"
	remoteKeyringPath  = "/tmp/monstore-keyring"
	osdDataDir         = "/var/lib/ceph/osd"
	monDataDirPrefix   = "/var/lib/ceph/mon/ceph-"

	healthOK   = "HEALTH_OK"
	healthWarn = "HEALTH_WARN"
)

var ocp4_15 *version.Version

func init() {
	var err error
	ocp4_15, err = version.NewVersion("v4.15")
	if err != nil {
		panic("unable to create constant for OCP version 4.15")
	}
}
