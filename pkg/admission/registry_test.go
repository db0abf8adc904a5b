/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package admission

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
	"gotest.tools/assert"
)

const testDigest = "sha256:9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

const testManifest = `{"schemaVersion":2,"mediaType":"application/vnd.oci.image.manifest.v1+json"}`

// fakeRegistry answers the docker v2 manifest and token endpoints.
type fakeRegistry struct {
	server      *httptest.Server
	wantToken   string
	headCount   int
	tokenCount  int
	requireAuth bool
	// omitDigestHeader mimics registries that only report the digest on GET.
	omitDigestHeader bool
}

func newFakeRegistry(t *testing.T, requireAuth bool) *fakeRegistry {
	t.Helper()
	f := &fakeRegistry{wantToken: "token-abc", requireAuth: requireAuth}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCount++
		assert.Equal(t, r.URL.Query().Get("service"), "registry.test")
		assert.Equal(t, r.URL.Query().Get("scope"), "repository:osmo/train:pull")
		fmt.Fprintf(w, `{"token":%q}`, f.wantToken)
	})
	mux.HandleFunc("/v2/osmo/train/manifests/", func(w http.ResponseWriter, r *http.Request) {
		f.headCount++
		if f.requireAuth && r.Header.Get("Authorization") != "Bearer "+f.wantToken {
			w.Header().Set("Www-Authenticate", fmt.Sprintf(
				`Bearer realm=%q,service="registry.test",scope="repository:osmo/train:pull"`,
				f.server.URL+"/token"))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/missing") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if f.omitDigestHeader {
			w.WriteHeader(http.StatusOK)
			if r.Method == http.MethodGet {
				fmt.Fprint(w, testManifest)
			}
			return
		}
		w.Header().Set("Docker-Content-Digest", testDigest)
		w.WriteHeader(http.StatusOK)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeRegistry) host(t *testing.T) string {
	t.Helper()
	u, err := url.Parse(f.server.URL)
	assert.NilError(t, err)
	return u.Host
}

func testValidator(f *fakeRegistry, disabled ...string) *RegistryValidator {
	v := NewRegistryValidator(disabled)
	v.scheme = "http"
	v.client = f.server.Client()
	return v
}

func TestValidateImagePinsDigestViaBearerToken(t *testing.T) {
	registry := newFakeRegistry(t, true)
	host := registry.host(t)
	v := testValidator(registry)

	pinned, err := v.ValidateImage(context.Background(), host+"/osmo/train:1.0", nil)
	assert.NilError(t, err)
	assert.Equal(t, pinned, host+"/osmo/train:1.0@"+testDigest)
	assert.Equal(t, registry.tokenCount, 1)
	// unauthorized HEAD plus the authorized retry
	assert.Equal(t, registry.headCount, 2)
}

func TestValidateImageCachesDigest(t *testing.T) {
	registry := newFakeRegistry(t, false)
	host := registry.host(t)
	v := testValidator(registry)

	_, err := v.ValidateImage(context.Background(), host+"/osmo/train:1.0", nil)
	assert.NilError(t, err)
	_, err = v.ValidateImage(context.Background(), host+"/osmo/train:1.0", nil)
	assert.NilError(t, err)
	assert.Equal(t, registry.headCount, 1)
}

func TestValidateImageComputesDigestWhenHeaderMissing(t *testing.T) {
	registry := newFakeRegistry(t, false)
	registry.omitDigestHeader = true
	host := registry.host(t)
	v := testValidator(registry)

	pinned, err := v.ValidateImage(context.Background(), host+"/osmo/train:1.0", nil)
	assert.NilError(t, err)
	want := digest.FromBytes([]byte(testManifest)).String()
	assert.Equal(t, pinned, host+"/osmo/train:1.0@"+want)
	// the HEAD without a digest header plus the GET fallback
	assert.Equal(t, registry.headCount, 2)
}

func TestValidateImageMissingTag(t *testing.T) {
	registry := newFakeRegistry(t, false)
	host := registry.host(t)
	v := testValidator(registry)

	_, err := v.ValidateImage(context.Background(), host+"/osmo/train:missing", nil)
	assert.ErrorContains(t, err, "not found")
}

func TestValidateImageDisabledHostSkips(t *testing.T) {
	registry := newFakeRegistry(t, false)
	host := registry.host(t)
	v := testValidator(registry, host)

	pinned, err := v.ValidateImage(context.Background(), host+"/osmo/train:1.0", nil)
	assert.NilError(t, err)
	assert.Equal(t, pinned, host+"/osmo/train:1.0")
	assert.Equal(t, registry.headCount, 0)
}

func TestValidateImageAlreadyPinned(t *testing.T) {
	registry := newFakeRegistry(t, false)
	host := registry.host(t)
	v := testValidator(registry)

	image := host + "/osmo/train@" + testDigest
	pinned, err := v.ValidateImage(context.Background(), image, nil)
	assert.NilError(t, err)
	assert.Equal(t, pinned, image)
	assert.Equal(t, registry.headCount, 0)
}

func TestParseImageRefDefaults(t *testing.T) {
	ref, err := parseImageRef("ubuntu")
	assert.NilError(t, err)
	assert.Equal(t, ref.host, defaultRegistryHost)
	assert.Equal(t, ref.repository, "library/ubuntu")
	assert.Equal(t, ref.tag, "latest")

	ref, err = parseImageRef("nvcr.io/osmo/train:2.1")
	assert.NilError(t, err)
	assert.Equal(t, ref.host, "nvcr.io")
	assert.Equal(t, ref.repository, "osmo/train")
	assert.Equal(t, ref.tag, "2.1")

	ref, err = parseImageRef("localhost:5000/app:dev")
	assert.NilError(t, err)
	assert.Equal(t, ref.host, "localhost:5000")
	assert.Equal(t, ref.repository, "app")
	assert.Equal(t, ref.tag, "dev")
}
