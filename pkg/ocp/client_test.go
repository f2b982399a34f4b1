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

package ocp

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
)

var _ = Describe("Client", func() {
	var (
		fake *Fake
		cli  *Client
		ctx  = context.Background()
	)

	BeforeEach(func() {
		fake = NewFake()
		cli = NewClient(fake, "deployment", "openshift-storage", zap.New(zap.UseDevMode(true)))
	})

	Context("When fetching a resource", func() {
		It("decodes the YAML payload into a document", func() {
			fake.Stub("get deployment rook-ceph-mon-a", `
apiVersion: apps/v1
kind: Deployment
metadata:
  name: rook-ceph-mon-a
  namespace: openshift-storage
`, nil)
			doc, err := cli.Get(ctx, "rook-ceph-mon-a")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Name()).To(Equal("rook-ceph-mon-a"))
			Expect(doc.Kind()).To(Equal("Deployment"))
			Expect(doc.Identity().Namespace).To(Equal("openshift-storage"))
		})

		It("strips a non-payload hint line before the YAML body", func() {
			fake.Stub("get deployment with-hint", "Using default container mon\napiVersion: apps/v1\nkind: Deployment\nmetadata:\n  name: with-hint\n", nil)
			doc, err := cli.Get(ctx, "with-hint")
			Expect(err).NotTo(HaveOccurred())
			Expect(doc.Name()).To(Equal("with-hint"))
		})

		It("scopes the invocation to the client namespace", func() {
			_, err := cli.Get(ctx, "anything")
			Expect(err).NotTo(HaveOccurred())
			calls := fake.Calls()
			Expect(calls).To(HaveLen(1))
			Expect(calls[0]).To(ContainElements("-n", "openshift-storage"))
		})
	})

	Context("When listing a collection", func() {
		It("decodes the list envelope", func() {
			fake.Stub("get deployment -o yaml -l app=rook-ceph-mon", `
apiVersion: v1
kind: List
items:
- apiVersion: apps/v1
  kind: Deployment
  metadata:
    name: rook-ceph-mon-a
- apiVersion: apps/v1
  kind: Deployment
  metadata:
    name: rook-ceph-mon-b
`, nil)
			docs, err := cli.List(ctx, "app=rook-ceph-mon", false)
			Expect(err).NotTo(HaveOccurred())
			Expect(docs).To(HaveLen(2))
			Expect(docs[0].Name()).To(Equal("rook-ceph-mon-a"))
			Expect(docs[1].Name()).To(Equal("rook-ceph-mon-b"))
		})
	})

	Context("When reading the tabular status", func() {
		It("returns the cell under the STATUS header", func() {
			fake.Stub("get pod foo", "NAME STATUS AGE\nfoo Running 3d\n", nil)
			pods := NewClient(fake, "pod", "openshift-storage", zap.New(zap.UseDevMode(true)))
			status, err := pods.ResourceStatus(ctx, "foo")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal("Running"))
		})

		It("handles fixed-width columns with multi-word headers", func() {
			fake.Stub("get pvc claim", "NAME     STATUS   ACCESS MODES   AGE\nclaim    Bound    RWO            7d\n", nil)
			pvcs := NewClient(fake, "pvc", "openshift-storage", zap.New(zap.UseDevMode(true)))
			status, err := pvcs.ResourceStatus(ctx, "claim")
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal("Bound"))
		})

		It("fails when the output carries no STATUS column", func() {
			fake.Stub("get deployment bare", "NAME   READY   AGE\nbare   1/1     2d\n", nil)
			_, err := cli.ResourceStatus(ctx, "bare")
			Expect(err).To(HaveOccurred())
		})
	})

	Context("When a command fails", func() {
		It("preserves the raw stderr in the execution error", func() {
			execErr := &ExecutionError{Binary: "oc", Args: []string{"get", "deployment", "gone"}, ExitCode: 1, Stderr: `Error from server (NotFound): deployments.apps "gone" not found`}
			fake.Stub("get deployment gone", "", execErr)
			_, err := cli.Get(ctx, "gone")
			Expect(err).To(HaveOccurred())
			var target *ExecutionError
			Expect(errors.As(err, &target)).To(BeTrue())
			Expect(target.Stderr).To(ContainSubstring("NotFound"))
			Expect(IsNotFound(err)).To(BeTrue())
		})

		It("does not classify unrelated failures as not found", func() {
			execErr := &ExecutionError{Binary: "oc", Args: []string{"get"}, ExitCode: 1, Stderr: "Unable to connect to the server"}
			Expect(IsNotFound(execErr)).To(BeFalse())
			Expect(IsNotFound(errors.New("plain error"))).To(BeFalse())
		})
	})

	Context("When deleting", func() {
		It("requests forced zero-grace removal when asked", func() {
			Expect(cli.Delete(ctx, "rook-ceph-mon-a", nil, false, true)).To(Succeed())
			calls := fake.CallsMatching("delete deployment rook-ceph-mon-a")
			Expect(calls).To(HaveLen(1))
			Expect(calls[0]).To(ContainElements("--grace-period=0", "--force", "--wait=false"))
		})

		It("rejects a call with neither name nor document", func() {
			err := cli.Delete(ctx, "", nil, true, false)
			Expect(err).To(HaveOccurred())
		})
	})

	Context("When scaling", func() {
		It("targets kind/name with the replica count", func() {
			Expect(cli.Scale(ctx, "rook-ceph-operator", 0)).To(Succeed())
			calls := fake.CallsMatching("scale deployment/rook-ceph-operator")
			Expect(calls).To(HaveLen(1))
			Expect(calls[0]).To(ContainElements("--replicas", "0"))
		})
	})

	Context("When copying files", func() {
		It("addresses the pod through its namespace", func() {
			pods := NewClient(fake, "pod", "openshift-storage", zap.New(zap.UseDevMode(true)))
			Expect(pods.CopyToPod(ctx, "rook-ceph-mon-a-abc", "/usr/bin/tar", "/tmp/odf-tar")).To(Succeed())
			Expect(pods.CopyFromPod(ctx, "rook-ceph-mon-a-abc", "/tmp/monstore.tar.gz", "/var/backup/monstore.tar.gz")).To(Succeed())
			calls := fake.CallsMatching("cp")
			Expect(calls).To(HaveLen(2))
			Expect(calls[0]).To(Equal([]string{"cp", "/usr/bin/tar", "openshift-storage/rook-ceph-mon-a-abc:/tmp/odf-tar"}))
			Expect(calls[1]).To(Equal([]string{"cp", "openshift-storage/rook-ceph-mon-a-abc:/tmp/monstore.tar.gz", "/var/backup/monstore.tar.gz"}))
		})
	})

	Context("When round-tripping a document", func() {
		It("keeps a deep copy isolated from the original", func() {
			doc, err := ParseDocument([]byte("apiVersion: v1\nkind: Secret\nmetadata:\n  name: keyring\n"))
			Expect(err).NotTo(HaveOccurred())
			cp := doc.DeepCopy()
			cp["kind"] = "ConfigMap"
			Expect(doc.Kind()).To(Equal("Secret"))
		})
	})
})
