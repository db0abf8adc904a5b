/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package admission

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"k8s.io/klog/v2"

	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/utils/lru"
	"github.com/NVIDIA/OSMO-sub000/pkg/utils/ratelimit"
)

// Docker V2 media types; the OCI ones come from the image-spec module.
const (
	mediaTypeDockerManifest     = "application/vnd.docker.distribution.manifest.v2+json"
	mediaTypeDockerManifestList = "application/vnd.docker.distribution.manifest.list.v2+json"

	headerContentDigest = "Docker-Content-Digest"

	defaultRegistryHost = "registry-1.docker.io"
)

var acceptedManifestTypes = strings.Join([]string{
	ocispec.MediaTypeImageIndex,
	ocispec.MediaTypeImageManifest,
	mediaTypeDockerManifest,
	mediaTypeDockerManifestList,
}, ", ")

// RegistryValidator resolves image references against their registries and
// pins them by digest. Digests are cached by full reference.
type RegistryValidator struct {
	client        *http.Client
	digestCache   *lru.Cache[string]
	disabledHosts map[string]struct{}
	// limiter paces manifest lookups so a wide workflow cannot hammer a
	// registry into throttling the whole service.
	limiter *ratelimit.TokenBucket
	// scheme is https outside of tests.
	scheme string
}

type RegistryAuth struct {
	Username string
	Password string
}

func NewRegistryValidator(disabledHosts []string) *RegistryValidator {
	disabled := make(map[string]struct{}, len(disabledHosts))
	for _, host := range disabledHosts {
		disabled[host] = struct{}{}
	}
	return &RegistryValidator{
		client:        &http.Client{Timeout: 30 * time.Second},
		digestCache:   lru.New[string](4096),
		disabledHosts: disabled,
		limiter:       ratelimit.NewTokenBucket(10, 20),
		scheme:        "https",
	}
}

// ValidateImage checks that the image exists and returns the reference
// pinned by digest when the registry reports one. Hosts on the disabled
// list pass through unchanged.
func (v *RegistryValidator) ValidateImage(ctx context.Context, imageRef string, auth *RegistryAuth) (string, error) {
	ref, err := parseImageRef(imageRef)
	if err != nil {
		return "", err
	}
	if _, disabled := v.disabledHosts[ref.host]; disabled {
		return imageRef, nil
	}
	if ref.digest != "" {
		// already pinned, nothing to resolve
		return imageRef, nil
	}
	if cached, ok := v.digestCache.Get(imageRef); ok {
		return cached, nil
	}
	v.limiter.WaitForTokens(1)
	dgst, err := v.resolveDigest(ctx, ref, auth)
	if err != nil {
		return "", err
	}
	pinned := imageRef
	if dgst != "" {
		pinned = fmt.Sprintf("%s/%s:%s@%s", ref.host, ref.repository, ref.tag, dgst)
	}
	v.digestCache.Put(imageRef, pinned)
	return pinned, nil
}

// resolveDigest implements the docker registry auth flow: HEAD the
// manifest, on 401 read www-authenticate, fetch a bearer token from the
// realm and retry.
func (v *RegistryValidator) resolveDigest(ctx context.Context, ref *imageRef, auth *RegistryAuth) (string, error) {
	manifestURL := fmt.Sprintf("%s://%s/v2/%s/manifests/%s", v.scheme, ref.host, ref.repository, ref.tag)

	var token string
	resp, err := v.manifestRequest(ctx, http.MethodHead, manifestURL, "")
	if err != nil {
		return "", commonerrors.NewBadRequest(
			fmt.Sprintf("failed to reach registry %s: %v", ref.host, err))
	}
	if resp.StatusCode == http.StatusUnauthorized {
		challenge := resp.Header.Get("Www-Authenticate")
		resp.Body.Close()
		if token, err = v.fetchBearerToken(ctx, challenge, auth); err != nil {
			return "", err
		}
		if resp, err = v.manifestRequest(ctx, http.MethodHead, manifestURL, token); err != nil {
			return "", commonerrors.NewBadRequest(
				fmt.Sprintf("failed to reach registry %s: %v", ref.host, err))
		}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", commonerrors.NewCredentialInvalid(
			fmt.Sprintf("registry %s rejected credentials for %s", ref.host, ref.repository))
	case resp.StatusCode == http.StatusNotFound:
		return "", commonerrors.NewBadRequest(
			fmt.Sprintf("image %s/%s:%s not found", ref.host, ref.repository, ref.tag))
	default:
		return "", commonerrors.NewBadRequest(fmt.Sprintf(
			"registry %s returned status %d for %s", ref.host, resp.StatusCode, ref.repository))
	}

	dgst := resp.Header.Get(headerContentDigest)
	if dgst == "" {
		// some registries omit the header on HEAD; the manifest digest is
		// the hash of the canonical manifest bytes, so GET and compute it
		return v.digestFromManifest(ctx, manifestURL, token, ref)
	}
	if _, err = digest.Parse(dgst); err != nil {
		return "", commonerrors.NewBadRequest(
			fmt.Sprintf("registry %s returned malformed digest %q", ref.host, dgst))
	}
	return dgst, nil
}

func (v *RegistryValidator) digestFromManifest(ctx context.Context, url, token string, ref *imageRef) (string, error) {
	resp, err := v.manifestRequest(ctx, http.MethodGet, url, token)
	if err != nil {
		return "", commonerrors.NewBadRequest(
			fmt.Sprintf("failed to reach registry %s: %v", ref.host, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		klog.Warningf("registry %s returned no digest for %s:%s, leaving image unpinned",
			ref.host, ref.repository, ref.tag)
		return "", nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", commonerrors.NewBadRequest(
			fmt.Sprintf("failed to read manifest from registry %s: %v", ref.host, err))
	}
	return digest.FromBytes(body).String(), nil
}

func (v *RegistryValidator) manifestRequest(ctx context.Context, method, url, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptedManifestTypes)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return v.client.Do(req)
}

// fetchBearerToken follows the www-authenticate challenge to the realm.
func (v *RegistryValidator) fetchBearerToken(ctx context.Context, challenge string, auth *RegistryAuth) (string, error) {
	params := parseChallenge(challenge)
	realm := params["realm"]
	if realm == "" {
		return "", commonerrors.NewBadRequest(
			fmt.Sprintf("registry returned unusable auth challenge %q", challenge))
	}
	tokenURL, err := url.Parse(realm)
	if err != nil {
		return "", commonerrors.NewBadRequest(fmt.Sprintf("invalid auth realm %q", realm))
	}
	query := tokenURL.Query()
	for key, value := range params {
		if key == "realm" {
			continue
		}
		query.Set(key, value)
	}
	tokenURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL.String(), nil)
	if err != nil {
		return "", err
	}
	if auth != nil {
		req.SetBasicAuth(auth.Username, auth.Password)
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return "", commonerrors.NewBadRequest(fmt.Sprintf("failed to fetch registry token: %v", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", commonerrors.NewCredentialInvalid(
			fmt.Sprintf("registry token endpoint returned status %d", resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	var payload struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err = json.Unmarshal(body, &payload); err != nil {
		return "", commonerrors.NewBadRequest("registry token endpoint returned malformed payload")
	}
	if payload.Token != "" {
		return payload.Token, nil
	}
	return payload.AccessToken, nil
}

// parseChallenge splits `Bearer realm="…",service="…",scope="…"`.
func parseChallenge(challenge string) map[string]string {
	params := map[string]string{}
	challenge = strings.TrimPrefix(strings.TrimSpace(challenge), "Bearer ")
	for _, part := range strings.Split(challenge, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		params[kv[0]] = strings.Trim(kv[1], `"`)
	}
	return params
}

type imageRef struct {
	host       string
	repository string
	tag        string
	digest     string
}

// parseImageRef splits host/repository:tag[@digest] the way docker does:
// a first segment with a dot, colon or "localhost" is a registry host,
// otherwise the default registry applies.
func parseImageRef(image string) (*imageRef, error) {
	if image == "" {
		return nil, commonerrors.NewBadRequest("empty image reference")
	}
	ref := &imageRef{tag: "latest"}
	rest := image
	if at := strings.Index(rest, "@"); at != -1 {
		ref.digest = rest[at+1:]
		rest = rest[:at]
	}
	slash := strings.Index(rest, "/")
	if slash != -1 {
		first := rest[:slash]
		if strings.ContainsAny(first, ".:") || first == "localhost" {
			ref.host = first
			rest = rest[slash+1:]
		}
	}
	if ref.host == "" {
		ref.host = defaultRegistryHost
		if !strings.Contains(rest, "/") {
			rest = "library/" + rest
		}
	}
	if colon := strings.LastIndex(rest, ":"); colon != -1 {
		ref.tag = rest[colon+1:]
		rest = rest[:colon]
	}
	if rest == "" {
		return nil, commonerrors.NewBadRequest(fmt.Sprintf("invalid image reference %q", image))
	}
	ref.repository = rest
	return ref, nil
}
