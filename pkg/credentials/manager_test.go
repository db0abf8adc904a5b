/*
 * Copyright (c) 2025, NVIDIA CORPORATION. All rights reserved.
 * See LICENSE for license information.
 */

package credentials

import (
	"context"
	"encoding/base64"
	"testing"

	"gotest.tools/assert"

	"github.com/NVIDIA/OSMO-sub000/pkg/common/crypto"
	dbclient "github.com/NVIDIA/OSMO-sub000/pkg/common/database/client"
	commonerrors "github.com/NVIDIA/OSMO-sub000/pkg/common/errors"
)

// fakeCredentialStore keeps rows in memory keyed by user/name.
type fakeCredentialStore struct {
	rows map[string]*dbclient.Credential
}

func newFakeCredentialStore() *fakeCredentialStore {
	return &fakeCredentialStore{rows: map[string]*dbclient.Credential{}}
}

func (f *fakeCredentialStore) UpsertCredential(_ context.Context, cred *dbclient.Credential) error {
	copied := *cred
	f.rows[cred.Username+"/"+cred.Name] = &copied
	return nil
}

func (f *fakeCredentialStore) GetCredential(_ context.Context, username, name string) (*dbclient.Credential, error) {
	row, ok := f.rows[username+"/"+name]
	if !ok {
		return nil, commonerrors.NewNotFound("Credential", name)
	}
	return row, nil
}

func (f *fakeCredentialStore) ListCredentials(_ context.Context, username string) ([]*dbclient.Credential, error) {
	var rows []*dbclient.Credential
	for _, row := range f.rows {
		if row.Username == username {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (f *fakeCredentialStore) DeleteCredential(_ context.Context, username, name string) error {
	delete(f.rows, username+"/"+name)
	return nil
}

func testKey(t *testing.T, kid string, seed byte) crypto.MasterKey {
	t.Helper()
	material := make([]byte, 32)
	for i := range material {
		material[i] = seed
	}
	return crypto.MasterKey{
		Kty: "oct",
		Kid: kid,
		Alg: "A256GCM",
		K:   base64.RawURLEncoding.EncodeToString(material),
	}
}

func testEnvelope(t *testing.T, activeKid string, keys ...crypto.MasterKey) *crypto.Envelope {
	t.Helper()
	envelope, err := crypto.NewEnvelope(&crypto.KeySet{Keys: keys}, activeKid)
	assert.NilError(t, err)
	return envelope
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := newFakeCredentialStore()
	manager := NewManager(db, testEnvelope(t, "mek-1", testKey(t, "mek-1", 0x11)))

	secret := &Secret{
		Type:     TypeRegistry,
		Registry: &RegistrySecret{Host: "nvcr.io", Username: "alice", Password: "hunter2"},
	}
	assert.NilError(t, manager.Put(ctx, "alice", "nvcr", secret))

	// only ciphertext hits the store
	row := db.rows["alice/nvcr"]
	assert.Assert(t, row != nil)
	assert.Equal(t, row.MekId, "mek-1")
	assert.Assert(t, row.Ciphertext != "")
	assert.Assert(t, row.Ciphertext != "hunter2")

	got, err := manager.Get(ctx, "alice", "nvcr")
	assert.NilError(t, err)
	assert.Equal(t, got.Name, "nvcr")
	assert.Equal(t, got.Registry.Password, "hunter2")

	// cached read survives row deletion until invalidated
	delete(db.rows, "alice/nvcr")
	got, err = manager.Get(ctx, "alice", "nvcr")
	assert.NilError(t, err)
	assert.Equal(t, got.Registry.Username, "alice")
}

func TestUserCredentialsShareOneKEK(t *testing.T) {
	ctx := context.Background()
	db := newFakeCredentialStore()
	manager := NewManager(db, testEnvelope(t, "mek-1", testKey(t, "mek-1", 0x11)))

	first := &Secret{Type: TypeRegistry, Registry: &RegistrySecret{Host: "a.io", Username: "u", Password: "p"}}
	second := &Secret{Type: TypeRegistry, Registry: &RegistrySecret{Host: "b.io", Username: "u", Password: "p"}}
	assert.NilError(t, manager.Put(ctx, "alice", "a", first))
	assert.NilError(t, manager.Put(ctx, "alice", "b", second))

	assert.Equal(t, db.rows["alice/a"].WrappedKek, db.rows["alice/b"].WrappedKek)
}

func TestRotationRewrapsOnWrite(t *testing.T) {
	ctx := context.Background()
	db := newFakeCredentialStore()
	old := testKey(t, "mek-1", 0x11)
	next := testKey(t, "mek-2", 0x22)

	manager := NewManager(db, testEnvelope(t, "mek-1", old, next))
	secret := &Secret{Type: TypeRegistry, Registry: &RegistrySecret{Host: "a.io", Username: "u", Password: "p"}}
	assert.NilError(t, manager.Put(ctx, "alice", "a", secret))

	// rotate the active MEK; the old row stays readable and the next write
	// rewraps the same KEK under the new MEK
	rotated := NewManager(db, testEnvelope(t, "mek-2", old, next))
	got, err := rotated.Get(ctx, "alice", "a")
	assert.NilError(t, err)
	assert.Equal(t, got.Registry.Host, "a.io")

	second := &Secret{Type: TypeRegistry, Registry: &RegistrySecret{Host: "b.io", Username: "u", Password: "p"}}
	assert.NilError(t, rotated.Put(ctx, "alice", "b", second))
	assert.Equal(t, db.rows["alice/b"].MekId, "mek-2")

	got, err = rotated.Get(ctx, "alice", "b")
	assert.NilError(t, err)
	assert.Equal(t, got.Registry.Host, "b.io")
}

func TestFindDataCredentialLongestPrefix(t *testing.T) {
	ctx := context.Background()
	db := newFakeCredentialStore()
	manager := NewManager(db, testEnvelope(t, "mek-1", testKey(t, "mek-1", 0x11)))

	broad := &Secret{Type: TypeS3, S3: &S3Secret{
		AccessKeyId: "AK1", SecretAccessKey: "SK1",
		Buckets: []BucketGrant{{Prefix: "s3://data/", Access: []Access{AccessRead}}},
	}}
	narrow := &Secret{Type: TypeS3, S3: &S3Secret{
		AccessKeyId: "AK2", SecretAccessKey: "SK2",
		Buckets: []BucketGrant{{Prefix: "s3://data/team/", Access: []Access{AccessRead, AccessWrite}}},
	}}
	assert.NilError(t, manager.Put(ctx, "alice", "broad", broad))
	assert.NilError(t, manager.Put(ctx, "alice", "narrow", narrow))

	got, err := manager.FindDataCredential(ctx, "alice", "s3://data/team/run1/out", AccessRead)
	assert.NilError(t, err)
	assert.Equal(t, got.Name, "narrow")

	got, err = manager.FindDataCredential(ctx, "alice", "s3://data/other", AccessRead)
	assert.NilError(t, err)
	assert.Equal(t, got.Name, "broad")

	// no grant at all means nil, nil: the caller may fall back to env auth
	got, err = manager.FindDataCredential(ctx, "alice", "s3://elsewhere/x", AccessRead)
	assert.NilError(t, err)
	assert.Assert(t, got == nil)

	// a matching prefix without the access level is an error, not a miss
	_, err = manager.FindDataCredential(ctx, "alice", "s3://data/x", AccessWrite)
	assert.Assert(t, err != nil)

	// a longer prefix that denies the access does not shadow a shorter
	// grant that allows it
	writeOnly := &Secret{Type: TypeS3, S3: &S3Secret{
		AccessKeyId: "AK3", SecretAccessKey: "SK3",
		Buckets: []BucketGrant{{Prefix: "s3://data/team/private/", Access: []Access{AccessWrite}}},
	}}
	assert.NilError(t, manager.Put(ctx, "alice", "writeonly", writeOnly))
	got, err = manager.FindDataCredential(ctx, "alice", "s3://data/team/private/f", AccessRead)
	assert.NilError(t, err)
	assert.Equal(t, got.Name, "narrow")
}

func TestFindRegistryCredential(t *testing.T) {
	ctx := context.Background()
	db := newFakeCredentialStore()
	manager := NewManager(db, testEnvelope(t, "mek-1", testKey(t, "mek-1", 0x11)))

	secret := &Secret{Type: TypeRegistry, Registry: &RegistrySecret{Host: "nvcr.io", Username: "u", Password: "p"}}
	assert.NilError(t, manager.Put(ctx, "alice", "nvcr", secret))

	got, err := manager.FindRegistryCredential(ctx, "alice", "nvcr.io")
	assert.NilError(t, err)
	assert.Equal(t, got.Username, "u")

	got, err = manager.FindRegistryCredential(ctx, "alice", "ghcr.io")
	assert.NilError(t, err)
	assert.Assert(t, got == nil)
}

func TestValidateSecret(t *testing.T) {
	db := newFakeCredentialStore()
	manager := NewManager(db, testEnvelope(t, "mek-1", testKey(t, "mek-1", 0x11)))
	ctx := context.Background()

	err := manager.Put(ctx, "alice", "bad", &Secret{Type: "ssh"})
	assert.Assert(t, err != nil)
	err = manager.Put(ctx, "alice", "bad", &Secret{Type: TypeRegistry})
	assert.Assert(t, err != nil)
	err = manager.Put(ctx, "alice", "bad", &Secret{Type: TypeS3, S3: &S3Secret{}})
	assert.Assert(t, err != nil)
}

func TestDeleteInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	db := newFakeCredentialStore()
	manager := NewManager(db, testEnvelope(t, "mek-1", testKey(t, "mek-1", 0x11)))

	secret := &Secret{Type: TypeRegistry, Registry: &RegistrySecret{Host: "a.io", Username: "u", Password: "p"}}
	assert.NilError(t, manager.Put(ctx, "alice", "a", secret))
	_, err := manager.Get(ctx, "alice", "a")
	assert.NilError(t, err)

	assert.NilError(t, manager.Delete(ctx, "alice", "a"))
	_, err = manager.Get(ctx, "alice", "a")
	assert.Assert(t, commonerrors.IsNotFound(err))
}
