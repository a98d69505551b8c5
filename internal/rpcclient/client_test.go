/*
Copyright The Pgha Contributors

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

package rpcclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pgha-project/pgha/internal/errclass"
	"github.com/pgha-project/pgha/internal/fsm"
)

var _ = Describe("Client", func() {
	It("registers a node against the monitor's HTTP surface", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			Expect(r.URL.Path).To(Equal("/rpc/register_node"))
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(registerResponseBody{
				NodeID: 1, GroupID: 0, Name: "node-a", AssignedState: "single",
			})
		}))
		defer server.Close()

		client := New(server.URL)
		resp, err := client.RegisterNode(context.Background(), fsm.RegisterRequest{
			Formation: "default", Name: "node-a", DesiredInitial: fsm.Single,
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.NodeID).To(Equal(int64(1)))
		Expect(resp.AssignedRole).To(Equal(fsm.Single))
	})

	It("treats a 4xx response as unretryable", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer server.Close()

		client := New(server.URL)
		_, err := client.RegisterNode(context.Background(), fsm.RegisterRequest{Formation: "default"})
		Expect(err).To(HaveOccurred())
		Expect(errclass.IsRetryable(err)).To(BeFalse())
	})

	It("surfaces a schema mismatch as unretryable", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(nodeActiveResponseBody{
				AssignedState: "secondary", SchemaVersion: "9.9",
			})
		}))
		defer server.Close()

		client := New(server.URL)
		_, err := client.NodeActive(context.Background(), fsm.NodeActiveRequest{Formation: "default"})
		Expect(err).To(HaveOccurred())
		Expect(errclass.IsRetryable(err)).To(BeFalse())
		var mismatch *ErrSchemaMismatch
		Expect(errors.As(err, &mismatch)).To(BeTrue())
	})
})

var _ = Describe("schemaCompatible", func() {
	It("accepts an exact match", func() {
		ok, err := schemaCompatible("1.0", "1.0")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("accepts a monitor ahead on minor version within the same major", func() {
		ok, err := schemaCompatible("1.0", "1.3")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
	})

	It("rejects a monitor behind on minor version", func() {
		ok, err := schemaCompatible("1.3", "1.0")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("rejects a different major version", func() {
		ok, err := schemaCompatible("1.0", "2.0")
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("errors on an unparseable reported version", func() {
		_, err := schemaCompatible("1.0", "not-a-version")
		Expect(err).To(HaveOccurred())
	})
})
