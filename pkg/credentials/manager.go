/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/NVIDIA/OSMO-sub000/pkg/common/crypto"
	dbclient "github.com/NVIDIA/OSMO-sub000/pkg/common/database/client"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
	"github.com/NVIDIA/OSMO-sub000/pkg/utils/lru"
)

const (
	TypeRegistry = "registry"
	TypeS3       = "s3"
)

// Access levels on a bucket grant.
type Access string

const (
	AccessRead  Access = "READ"
	AccessWrite Access = "WRITE"
)

// Secret is the decrypted credential payload. Exactly one of Registry or S3
// is set, matching Type.
type Secret struct {
	Name     string          `json:"-"`
	Type     string          `json:"type"`
	Registry *RegistrySecret `json:"registry,omitempty"`
	S3       *S3Secret       `json:"s3,omitempty"`
}

// RegistrySecret authenticates against one registry host.
type RegistrySecret struct {
	Host     string `json:"host"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// S3Secret carries S3-style keys plus the bucket prefixes they grant.
type S3Secret struct {
	Endpoint        string        `json:"endpoint,omitempty"`
	AccessKeyId     string        `json:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key"`
	Buckets         []BucketGrant `json:"buckets,omitempty"`
}

// BucketGrant allows the listed access levels under one URI prefix.
type BucketGrant struct {
	Prefix string   `json:"prefix"`
	Access []Access `json:"access"`
}

func (g *BucketGrant) allows(access Access) bool {
	for _, a := range g.Access {
		if a == access {
			return true
		}
	}
	return false
}

// Manager stores credentials encrypted under the user's KEK and serves
// decrypted secrets through a bounded read-through cache. The cache is never
// authoritative; writes and deletes invalidate it.
type Manager struct {
	db       dbclient.CredentialInterface
	envelope *crypto.Envelope
	cache    *lru.Cache[*Secret]
}

func NewManager(db dbclient.CredentialInterface, envelope *crypto.Envelope) *Manager {
	return &Manager{
		db:       db,
		envelope: envelope,
		cache:    lru.New[*Secret](1024),
	}
}

func cacheKey(user, name string) string { return user + "/" + name }

// Put seals the secret under the user's KEK and upserts the row. All of a
// user's credentials share one KEK; the first Put mints it.
func (m *Manager) Put(ctx context.Context, user, name string, secret *Secret) error {
	if err := validateSecret(secret); err != nil {
		return err
	}
	kek, wrapped, kid, err := m.userKEK(ctx, user)
	if err != nil {
		return err
	}
	plaintext, err := json.Marshal(secret)
	if err != nil {
		return commonerrors.NewInternalError(err.Error())
	}
	ciphertext, err := m.envelope.EncryptSecret(kek, plaintext)
	if err != nil {
		return commonerrors.NewInternalError(err.Error())
	}
	err = m.db.UpsertCredential(ctx, &dbclient.Credential{
		Username:   user,
		Name:       name,
		CredType:   secret.Type,
		Ciphertext: ciphertext,
		WrappedKek: wrapped,
		MekId:      kid,
	})
	if err != nil {
		return err
	}
	m.cache.Invalidate(cacheKey(user, name))
	return nil
}

// Get returns the decrypted secret, serving repeat reads from the cache.
func (m *Manager) Get(ctx context.Context, user, name string) (*Secret, error) {
	key := cacheKey(user, name)
	if secret, ok := m.cache.Get(key); ok {
		return secret, nil
	}
	row, err := m.db.GetCredential(ctx, user, name)
	if err != nil {
		return nil, err
	}
	secret, err := m.decrypt(row)
	if err != nil {
		return nil, err
	}
	m.cache.Put(key, secret)
	return secret, nil
}

// List returns every decrypted credential of the user.
func (m *Manager) List(ctx context.Context, user string) ([]*Secret, error) {
	rows, err := m.db.ListCredentials(ctx, user)
	if err != nil {
		return nil, err
	}
	secrets := make([]*Secret, 0, len(rows))
	for _, row := range rows {
		secret, err := m.decrypt(row)
		if err != nil {
			// an unreadable row must not hide the others
			klog.ErrorS(err, "failed to decrypt credential", "user", user, "name", row.Name)
			continue
		}
		secrets = append(secrets, secret)
	}
	return secrets, nil
}

func (m *Manager) Delete(ctx context.Context, user, name string) error {
	if err := m.db.DeleteCredential(ctx, user, name); err != nil {
		return err
	}
	m.cache.Invalidate(cacheKey(user, name))
	return nil
}

// FindDataCredential returns the user's S3-style secret whose longest
// bucket-prefix match covers the URI with the required access. Prefixes
// lacking the access level do not shadow shorter grants that have it. A nil
// secret with nil error means the user has no credential matching the URI at
// all; the caller decides whether environment auth may stand in.
func (m *Manager) FindDataCredential(ctx context.Context, user, uri string, access Access) (*Secret, error) {
	secrets, err := m.List(ctx, user)
	if err != nil {
		return nil, err
	}
	var best, denied *Secret
	bestLen := -1
	for _, secret := range secrets {
		if secret.Type != TypeS3 || secret.S3 == nil {
			continue
		}
		for i := range secret.S3.Buckets {
			grant := &secret.S3.Buckets[i]
			if !strings.HasPrefix(uri, grant.Prefix) {
				continue
			}
			if !grant.allows(access) {
				denied = secret
				continue
			}
			if len(grant.Prefix) > bestLen {
				best = secret
				bestLen = len(grant.Prefix)
			}
		}
	}
	if best == nil && denied != nil {
		return nil, commonerrors.NewCredentialInvalid(fmt.Sprintf(
			"credential %s grants no %s access to %s", denied.Name, access, uri))
	}
	return best, nil
}

// FindRegistryCredential returns the user's registry secret for the host, or
// nil when the user has none (anonymous pull).
func (m *Manager) FindRegistryCredential(ctx context.Context, user, host string) (*RegistrySecret, error) {
	secrets, err := m.List(ctx, user)
	if err != nil {
		return nil, err
	}
	for _, secret := range secrets {
		if secret.Type == TypeRegistry && secret.Registry != nil && secret.Registry.Host == host {
			return secret.Registry, nil
		}
	}
	return nil, nil
}

// userKEK returns the user's KEK, its wrapped form and the wrapping MEK id.
// An existing credential row supplies the KEK; otherwise a fresh one is
// minted and wrapped under the active MEK.
func (m *Manager) userKEK(ctx context.Context, user string) (kek []byte, wrapped, kid string, err error) {
	rows, err := m.db.ListCredentials(ctx, user)
	if err != nil {
		return nil, "", "", err
	}
	if len(rows) > 0 {
		row := rows[0]
		kek, err = m.envelope.UnwrapKEK(user, row.WrappedKek, row.MekId)
		if err != nil {
			return nil, "", "", commonerrors.NewInternalError(err.Error())
		}
		// rewrap under the active MEK so rotation converges on writes
		wrapped, kid, err = m.envelope.WrapKEK(user, kek)
		if err != nil {
			return nil, "", "", commonerrors.NewInternalError(err.Error())
		}
		return kek, wrapped, kid, nil
	}
	kek, err = crypto.NewKEK()
	if err != nil {
		return nil, "", "", commonerrors.NewInternalError(err.Error())
	}
	wrapped, kid, err = m.envelope.WrapKEK(user, kek)
	if err != nil {
		return nil, "", "", commonerrors.NewInternalError(err.Error())
	}
	return kek, wrapped, kid, nil
}

func (m *Manager) decrypt(row *dbclient.Credential) (*Secret, error) {
	kek, err := m.envelope.UnwrapKEK(row.Username, row.WrappedKek, row.MekId)
	if err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	plaintext, err := m.envelope.DecryptSecret(kek, row.Ciphertext)
	if err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	var secret Secret
	if err = json.Unmarshal(plaintext, &secret); err != nil {
		return nil, commonerrors.NewInternalError(err.Error())
	}
	secret.Name = row.Name
	return &secret, nil
}

func validateSecret(secret *Secret) error {
	switch secret.Type {
	case TypeRegistry:
		if secret.Registry == nil || secret.Registry.Host == "" {
			return commonerrors.NewBadRequest("registry credential requires a host")
		}
	case TypeS3:
		if secret.S3 == nil || secret.S3.AccessKeyId == "" {
			return commonerrors.NewBadRequest("s3 credential requires access keys")
		}
	default:
		return commonerrors.NewBadRequest(fmt.Sprintf("unknown credential type %q", secret.Type))
	}
	return nil
}
