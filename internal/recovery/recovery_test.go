/*
Copyright 2024.

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

package recovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/jordigilh/odf-mon-recovery/internal/config"
	"github.com/jordigilh/odf-mon-recovery/pkg/ocp"
)

const (
	monsKeyringB64  = "W21vbi5dCglrZXkgPSBBUURtb25yZWNvdmVyeXNhbXBsZW1vbmtleVpaPT0K"
	adminKeyringB64 = "W2NsaWVudC5hZG1pbl0KCWtleSA9IEFRRGFkbWlucmVjb3ZlcnlzYW1wbGVhZG1pbmtleVhYPT0K"
)

func listOf(items ...string) string {
	out := "apiVersion: v1\nkind: List\nitems:\n"
	for _, item := range items {
		lines := strings.Split(strings.TrimSpace(item), "\n")
		out += "- " + lines[0] + "\n"
		for _, line := range lines[1:] {
			out += "  " + line + "\n"
		}
	}
	return out
}

func monDeploymentYAML(id string) string {
	return fmt.Sprintf(`apiVersion: apps/v1
kind: Deployment
metadata:
  name: rook-ceph-mon-%s
  namespace: openshift-storage
  labels:
    app: rook-ceph-mon
    ceph_daemon_id: %s
spec:
  replicas: 1
`, id, id)
}

func osdDeploymentYAML(id string) string {
	return fmt.Sprintf(`apiVersion: apps/v1
kind: Deployment
metadata:
  name: rook-ceph-osd-%s
  namespace: openshift-storage
  labels:
    app: rook-ceph-osd
    ceph-osd-id: "%s"
spec:
  replicas: 1
`, id, id)
}

func operatorDeploymentYAML(name string) string {
	return fmt.Sprintf(`apiVersion: apps/v1
kind: Deployment
metadata:
  name: %s
  namespace: openshift-storage
spec:
  replicas: 1
`, name)
}

func podYAML(name string) string {
	return fmt.Sprintf(`apiVersion: v1
kind: Pod
metadata:
  name: %s
  namespace: openshift-storage
`, name)
}

func podStatusTable(name, status string) string {
	return fmt.Sprintf("NAME   READY   STATUS    RESTARTS   AGE\n%s   1/1     %s   0          3d\n", name, status)
}

func secretYAML(name, keyringB64 string) string {
	return fmt.Sprintf(`apiVersion: v1
kind: Secret
metadata:
  name: %s
  namespace: openshift-storage
data:
  keyring: %s
`, name, keyringB64)
}

func clusterVersionYAML(v string) string {
	return fmt.Sprintf(`apiVersion: config.openshift.io/v1
kind: ClusterVersion
metadata:
  name: version
status:
  history:
  - state: Completed
    version: %s
`, v)
}

func testConfig() *config.Config {
	cfg, err := config.New("/tmp/kubeconfig", "")
	Expect(err).NotTo(HaveOccurred())
	cfg.RetryAttempts = 1
	cfg.RetryBackoff = 0
	cfg.Timeouts = config.Timeouts{
		Quiesce:      100 * time.Millisecond,
		Extract:      100 * time.Millisecond,
		Rebuild:      100 * time.Millisecond,
		Revert:       100 * time.Millisecond,
		Secondary:    100 * time.Millisecond,
		PollInterval: time.Millisecond,
		Stabilize:    100 * time.Millisecond,
	}
	return cfg
}

// stubHealthyCluster scripts a three-monitor, two-OSD namespace in which
// every remote step succeeds on the first attempt.
func stubHealthyCluster(fake *ocp.Fake) {
	fake.Stub("get deployment -o yaml -l app=rook-ceph-mon",
		listOf(monDeploymentYAML("a"), monDeploymentYAML("b"), monDeploymentYAML("c")), nil)
	fake.Stub("get deployment -o yaml -l app=rook-ceph-osd",
		listOf(osdDeploymentYAML("0"), osdDeploymentYAML("1")), nil)
	fake.Stub("get deployment -o yaml -l app=rook-ceph-mds", listOf(), nil)
	fake.Stub("get deployment -o yaml -l app=rook-ceph-rgw", listOf(), nil)
	fake.Stub("get deployment -o yaml -l app=rook-ceph-nfs", listOf(), nil)
	fake.Stub("get deployment rook-ceph-operator -o yaml", operatorDeploymentYAML("rook-ceph-operator"), nil)
	fake.Stub("get deployment ocs-operator -o yaml", operatorDeploymentYAML("ocs-operator"), nil)

	// general pod lists first so the daemon-scoped registrations below win
	fake.Stub("get pod -o yaml -l app=rook-ceph-mon",
		listOf(podYAML("rook-ceph-mon-a-0"), podYAML("rook-ceph-mon-b-0"), podYAML("rook-ceph-mon-c-0")), nil)
	fake.Stub("get pod -o yaml -l app=rook-ceph-osd",
		listOf(podYAML("rook-ceph-osd-0-0"), podYAML("rook-ceph-osd-1-0")), nil)
	for _, id := range []string{"a", "b", "c"} {
		fake.Stub("get pod -o yaml -l app=rook-ceph-mon,ceph_daemon_id="+id,
			listOf(podYAML("rook-ceph-mon-"+id+"-0")), nil)
		fake.Stub("get pod rook-ceph-mon-"+id+"-0", podStatusTable("rook-ceph-mon-"+id+"-0", "Running"), nil)
	}
	for _, id := range []string{"0", "1"} {
		fake.Stub("get pod -o yaml -l app=rook-ceph-osd,ceph-osd-id="+id,
			listOf(podYAML("rook-ceph-osd-"+id+"-0")), nil)
		fake.Stub("get pod rook-ceph-osd-"+id+"-0", podStatusTable("rook-ceph-osd-"+id+"-0", "Running"), nil)
	}

	// pulls out of pods must materialize real local files
	writeLocal := func(args []string) ([]byte, []byte, error) {
		return nil, nil, os.WriteFile(args[2], []byte("store-content"), 0o600)
	}
	fake.StubFunc("cp openshift-storage/rook-ceph-osd-0-0:/tmp/monstore.tar.gz", writeLocal)
	fake.StubFunc("cp openshift-storage/rook-ceph-osd-1-0:/tmp/monstore.tar.gz", writeLocal)
	fake.StubFunc("cp openshift-storage/rook-ceph-mon-a-0:/tmp/rebuilt-monstore.tar.gz", writeLocal)

	fake.Stub("get secret rook-ceph-mons-keyring", secretYAML("rook-ceph-mons-keyring", monsKeyringB64), nil)
	fake.Stub("get secret rook-ceph-admin-keyring", secretYAML("rook-ceph-admin-keyring", adminKeyringB64), nil)
	fake.Stub("get clusterversion version", clusterVersionYAML("4.16.3"), nil)

	fake.Stub("get storagecluster ocs-storagecluster", `apiVersion: ocs.openshift.io/v1
kind: StorageCluster
metadata:
  name: ocs-storagecluster
  namespace: openshift-storage
spec:
  enableCephTools: false
`, nil)
	fake.Stub("get pod -o yaml -l app=rook-ceph-tools", listOf(podYAML("rook-ceph-tools-0")), nil)
	fake.Stub("get pod rook-ceph-tools-0", podStatusTable("rook-ceph-tools-0", "Running"), nil)
	fake.Stub("exec rook-ceph-tools-0 -n openshift-storage -- ceph status -f json",
		`{"health":{"status":"HEALTH_OK"}}`, nil)
}

var _ = Describe("MonRecovery", func() {
	var (
		fake *ocp.Fake
		cfg  *config.Config
		r    *MonRecovery
		ctx  = context.Background()
		log  = zap.New(zap.UseDevMode(true))
	)

	BeforeEach(func() {
		fake = ocp.NewFake()
		cfg = testConfig()
		r = New(cfg, fake, log)
	})

	AfterEach(func() {
		os.RemoveAll(cfg.BackupDir)
	})

	Context("When running against a recoverable cluster", func() {
		BeforeEach(func() {
			stubHealthyCluster(fake)
			Expect(r.Run(ctx)).To(Succeed())
		})

		It("quiesces the operators before touching any daemon", func() {
			snapshotIdx := fake.CallIndex("get deployment -o yaml -l app=rook-ceph-mon")
			scaleIdx := fake.CallIndex("scale deployment/rook-ceph-operator --replicas 0")
			patchIdx := fake.CallIndex("patch deployment rook-ceph-mon")
			Expect(snapshotIdx).To(BeNumerically(">=", 0))
			Expect(scaleIdx).To(BeNumerically(">", snapshotIdx))
			Expect(patchIdx).To(BeNumerically(">", scaleIdx))
		})

		It("patches every monitor and OSD into the sleep holding pattern", func() {
			Expect(fake.CallsMatching("patch deployment rook-ceph-mon")).To(HaveLen(3))
			Expect(fake.CallsMatching("patch deployment rook-ceph-osd")).To(HaveLen(2))
			for _, call := range fake.CallsMatching("patch deployment rook-ceph-mon") {
				Expect(strings.Join(call, " ")).To(ContainSubstring(`"command": ["sleep", "infinity"]`))
			}
		})

		It("extracts a store portion from every OSD after quiescing", func() {
			lastPatch := fake.LastCallIndex("patch deployment rook-ceph-osd")
			for _, id := range []string{"0", "1"} {
				pushIdx := fake.CallIndex("cp " + cfg.TarBinary + " openshift-storage/rook-ceph-osd-" + id + "-0:")
				Expect(pushIdx).To(BeNumerically(">", lastPatch))
				Expect(fake.CallIndex("exec rook-ceph-osd-" + id + "-0 -n openshift-storage -- bash /tmp/extract-monstore.sh")).
					To(BeNumerically(">", pushIdx))
			}
		})

		It("rebuilds the store on the lowest daemon only after every extraction", func() {
			rebuildIdx := fake.CallIndex("exec rook-ceph-mon-a-0 -n openshift-storage -- ceph-monstore-tool")
			Expect(rebuildIdx).To(BeNumerically(">", fake.LastCallIndex("cp openshift-storage/rook-ceph-osd")))
			rebuild := strings.Join(fake.Calls()[rebuildIdx], " ")
			Expect(rebuild).To(ContainSubstring("--keyring /tmp/monstore-keyring"))
			Expect(rebuild).To(ContainSubstring("--mon-ids a b c"))
		})

		It("renders the recovered keyring from both secrets", func() {
			raw, err := os.ReadFile(filepath.Join(cfg.BackupDir, "keyring"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(raw)).To(ContainSubstring("key = AQDmonrecoverysamplemonkeyZZ=="))
			Expect(string(raw)).To(ContainSubstring("key = AQDadminrecoverysampleadminkeyXX=="))
			Expect(string(raw)).To(ContainSubstring(`caps osd = "allow *"`))
		})

		It("propagates the rebuilt store to the other monitors and never back to the origin", func() {
			pushes := fake.CallsMatching("cp " + filepath.Join(cfg.BackupDir, "rebuilt-monstore.tar.gz"))
			Expect(pushes).To(HaveLen(2))
			targets := []string{}
			for _, call := range pushes {
				Expect(call[2]).NotTo(ContainSubstring("rook-ceph-mon-a"))
				targets = append(targets, call[2])
			}
			Expect(targets).To(ConsistOf(
				"openshift-storage/rook-ceph-mon-b-0:/tmp/rebuilt-monstore.tar.gz",
				"openshift-storage/rook-ceph-mon-c-0:/tmp/rebuilt-monstore.tar.gz",
			))
		})

		It("restores daemon ownership after each store install", func() {
			for _, id := range []string{"b", "c"} {
				copyIdx := fake.CallIndex("cp " + filepath.Join(cfg.BackupDir, "rebuilt-monstore.tar.gz") + " openshift-storage/rook-ceph-mon-" + id + "-0:")
				chownIdx := fake.CallIndex("exec rook-ceph-mon-" + id + "-0 -n openshift-storage -- chown -R ceph:ceph")
				Expect(copyIdx).To(BeNumerically(">=", 0))
				Expect(chownIdx).To(BeNumerically(">", copyIdx))
			}
		})

		It("reverts the captured documents after propagation and before the fitness check", func() {
			firstReplace := fake.CallIndex("replace -f")
			Expect(fake.CallsMatching("replace -f")).To(HaveLen(5))
			Expect(firstReplace).To(BeNumerically(">", fake.LastCallIndex("exec rook-ceph-mon-c-0 -n openshift-storage -- chown")))
			Expect(fake.CallIndex("exec rook-ceph-tools-0 -n openshift-storage -- ceph status")).
				To(BeNumerically(">", fake.LastCallIndex("replace -f")))
		})

		It("returns the operators to their recorded replica counts", func() {
			upIdx := fake.CallIndex("scale deployment/rook-ceph-operator --replicas 1")
			Expect(upIdx).To(BeNumerically(">", fake.CallIndex("replace -f")))
			Expect(fake.CallIndex("scale deployment/ocs-operator --replicas 1")).To(BeNumerically(">=", 0))
		})

		It("enables the ceph tools through the storage cluster on recent releases", func() {
			patches := fake.CallsMatching("patch storagecluster ocs-storagecluster")
			Expect(patches).To(HaveLen(1))
			Expect(strings.Join(patches[0], " ")).To(ContainSubstring(`"enableCephTools": true`))
		})

		It("archives the crash reports once the cluster is healthy", func() {
			archiveIdx := fake.CallIndex("exec rook-ceph-tools-0 -n openshift-storage -- ceph crash archive-all")
			Expect(archiveIdx).To(BeNumerically(">", fake.CallIndex("exec rook-ceph-tools-0 -n openshift-storage -- ceph status")))
		})
	})

	Context("When restarting secondary daemons", func() {
		It("scales down, drains the pods, and restores the recorded replica count", func() {
			fake.Stub("get deployment -o yaml -l app=rook-ceph-mds", listOf(`apiVersion: apps/v1
kind: Deployment
metadata:
  name: rook-ceph-mds-a
  namespace: openshift-storage
  labels:
    app: rook-ceph-mds
spec:
  replicas: 2
`), nil)
			scaledUp := false
			fake.StubFunc("scale deployment/rook-ceph-mds-a --replicas 2", func([]string) ([]byte, []byte, error) {
				scaledUp = true
				return nil, nil, nil
			})
			fake.StubFunc("get pod -o yaml -l app=rook-ceph-mds", func([]string) ([]byte, []byte, error) {
				if scaledUp {
					return []byte(listOf(podYAML("rook-ceph-mds-a-0"), podYAML("rook-ceph-mds-a-1"))), nil, nil
				}
				return []byte(listOf()), nil, nil
			})
			fake.Stub("get pod rook-ceph-mds-a-0", podStatusTable("rook-ceph-mds-a-0", "Running"), nil)
			fake.Stub("get pod rook-ceph-mds-a-1", podStatusTable("rook-ceph-mds-a-1", "Running"), nil)

			Expect(r.restartDeployments(ctx, "app=rook-ceph-mds")).To(Succeed())
			downIdx := fake.CallIndex("scale deployment/rook-ceph-mds-a --replicas 0")
			upIdx := fake.CallIndex("scale deployment/rook-ceph-mds-a --replicas 2")
			Expect(downIdx).To(BeNumerically(">=", 0))
			Expect(upIdx).To(BeNumerically(">", downIdx))
		})
	})

	Context("When the monitor inventory is unusable", func() {
		It("refuses an even-sized monitor set", func() {
			stubHealthyCluster(fake)
			fake.Stub("get deployment -o yaml -l app=rook-ceph-mon",
				listOf(monDeploymentYAML("a"), monDeploymentYAML("b")), nil)
			err := r.Run(ctx)
			Expect(err).To(HaveOccurred())
			phaseErr := &PhaseError{}
			Expect(errors.As(err, &phaseErr)).To(BeTrue())
			Expect(phaseErr.Phase).To(Equal("SnapshotAll"))
		})

		It("wraps a transport failure into a phase error with a diagnostic dump", func() {
			fake.Stub("get deployment -o yaml -l app=rook-ceph-mon", "",
				&ocp.ExecutionError{Binary: "oc", ExitCode: 1, Stderr: "Unable to connect to the server"})
			fake.Stub("describe deployment", "Name: rook-ceph-mon-a\nStatus: degraded\n", nil)
			err := r.Run(ctx)
			phaseErr := &PhaseError{}
			Expect(errors.As(err, &phaseErr)).To(BeTrue())
			Expect(phaseErr.Phase).To(Equal("SnapshotAll"))
			Expect(phaseErr.Diagnostic).To(ContainSubstring("rook-ceph-mon-a"))
			Expect(errors.Unwrap(phaseErr)).To(MatchError(ContainSubstring("Unable to connect")))
		})
	})
})

var _ = Describe("Snapshot store", func() {
	var (
		dir  string
		fake *ocp.Fake
		cli  *ocp.Client
		ctx  = context.Background()
		log  = zap.New(zap.UseDevMode(true))
	)

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "snapshot-test-")
		Expect(err).NotTo(HaveOccurred())
		fake = ocp.NewFake()
		cli = ocp.NewClient(fake, "deployment", "openshift-storage", log)
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	It("round-trips a captured document byte-identically", func() {
		doc, err := ocp.ParseDocument([]byte(monDeploymentYAML("a")))
		Expect(err).NotTo(HaveOccurred())
		before, err := doc.Marshal()
		Expect(err).NotTo(HaveOccurred())

		snaps := newSnapshotStore(dir, log)
		Expect(snaps.Capture(doc)).To(Succeed())
		doc["spec"] = map[string]interface{}{"replicas": float64(0)}

		restored, ok := snaps.Get("rook-ceph-mon-a")
		Expect(ok).To(BeTrue())
		after, err := restored.Marshal()
		Expect(err).NotTo(HaveOccurred())
		Expect(after).To(Equal(before))
	})

	It("keeps the first capture when the same name is captured twice", func() {
		doc, err := ocp.ParseDocument([]byte(monDeploymentYAML("a")))
		Expect(err).NotTo(HaveOccurred())
		snaps := newSnapshotStore(dir, log)
		Expect(snaps.Capture(doc)).To(Succeed())

		mutated := doc.DeepCopy()
		mutated["spec"] = map[string]interface{}{"replicas": float64(9)}
		Expect(snaps.Capture(mutated)).To(Succeed())
		Expect(snaps.Len()).To(Equal(1))

		restored, _ := snaps.Get("rook-ceph-mon-a")
		Expect(restored.NestedString("metadata", "labels", "ceph_daemon_id")).To(Equal("a"))
	})

	It("reverts in capture order and refuses a second revert", func() {
		snaps := newSnapshotStore(dir, log)
		for _, id := range []string{"c", "a", "b"} {
			doc, err := ocp.ParseDocument([]byte(monDeploymentYAML(id)))
			Expect(err).NotTo(HaveOccurred())
			Expect(snaps.Capture(doc)).To(Succeed())
		}
		Expect(snaps.RevertAll(ctx, cli)).To(Succeed())
		Expect(fake.CallsMatching("replace -f")).To(HaveLen(3))
		Expect(snaps.RevertAll(ctx, cli)).NotTo(Succeed())
		Expect(fake.CallsMatching("replace -f")).To(HaveLen(3))
	})
})

var _ = Describe("Extraction script", func() {
	It("renders the staged paths and a stable checksum", func() {
		dirA, err := os.MkdirTemp("", "script-test-")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dirA)
		dirB, err := os.MkdirTemp("", "script-test-")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(dirB)

		params := extractScriptParams{MonStorePath: "/tmp/monstore", OSDDataDir: "/var/lib/ceph/osd"}
		pathA, sumA, err := renderExtractScript(dirA, params)
		Expect(err).NotTo(HaveOccurred())
		_, sumB, err := renderExtractScript(dirB, params)
		Expect(err).NotTo(HaveOccurred())
		Expect(sumA).To(Equal(sumB))

		raw, err := os.ReadFile(pathA)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(raw)).To(ContainSubstring("monstore=/tmp/monstore"))
		Expect(string(raw)).To(ContainSubstring("--mon-store-path"))
		Expect(string(raw)).To(ContainSubstring("/var/lib/ceph/osd"))
		Expect(string(raw)).To(ContainSubstring("ceph-objectstore-tool"))
	})
})

var _ = Describe("Keyring material", func() {
	It("extracts the key value from a keyring fragment", func() {
		key, err := extractKey("[mon.]\n\tkey = AQDsamplekey==\n\tcaps mon = \"allow *\"\n")
		Expect(err).NotTo(HaveOccurred())
		Expect(key).To(Equal("AQDsamplekey=="))
	})

	It("fails on material without a key entry", func() {
		_, err := extractKey("[mon.]\n\tcaps mon = \"allow *\"\n")
		Expect(err).To(HaveOccurred())
	})
})
