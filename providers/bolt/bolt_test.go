// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

package bolt

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ferrymq/authchain"
	"github.com/ferrymq/authchain/providers/file"
	"github.com/ferrymq/authchain/providers/store"

	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

func newProvider(t *testing.T) *Provider {
	t.Helper()
	p := New(&Options{
		Path: filepath.Join(t.TempDir(), "bolt.db"),
	})
	p.SetOpts(logger, nil)

	err := p.Init(nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		if p.db != nil {
			_ = p.Cleanup(nil)
		}
	})

	return p
}

func TestUserKey(t *testing.T) {
	require.Equal(t, store.UserKey+"_miso", userKey("miso"))
}

func TestPskKey(t *testing.T) {
	require.Equal(t, store.PSKKey+"_sensor-1", pskKey("sensor-1"))
}

func TestBoltID(t *testing.T) {
	p := New(nil)
	require.Equal(t, "bolt-db", p.ID())
}

func TestBoltProvides(t *testing.T) {
	p := New(nil)
	require.True(t, p.Provides(authchain.CheckCredentials))
	require.True(t, p.Provides(authchain.CheckACL))
	require.True(t, p.Provides(authchain.LookupPSK))
	require.False(t, p.Provides(byte(99)))
}

func TestBoltInitUseDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() {
		require.NoError(t, os.Chdir(wd))
	}()

	p := New(nil)
	p.SetOpts(logger, nil)
	require.NoError(t, p.Init(nil))
	defer func() {
		_ = p.Cleanup(nil)
	}()

	require.Equal(t, defaultDbFile, p.config.Path)
	require.Equal(t, defaultBucket, p.config.Bucket)
}

func TestBoltInitPathOption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.db")
	p := New(nil)
	p.SetOpts(logger, nil)
	require.NoError(t, p.Init(authchain.Options{
		{Key: "path", Value: path},
		{Key: "bucket", Value: "custom"},
	}))
	defer func() {
		_ = p.Cleanup(nil)
	}()

	require.Equal(t, path, p.config.Path)
	require.Equal(t, "custom", p.config.Bucket)
}

func TestBoltInitBadPath(t *testing.T) {
	p := New(&Options{Path: filepath.Join(t.TempDir(), "missing", "sub", "bolt.db")})
	p.SetOpts(logger, nil)
	require.Error(t, p.Init(nil))
}

func TestBoltCheckCredentials(t *testing.T) {
	p := newProvider(t)

	err := p.UpdateUser(store.User{Username: "miso", Password: "melon"})
	require.NoError(t, err)
	err = p.UpdateUser(store.User{Username: "suspended", Password: "any", Disallow: true})
	require.NoError(t, err)

	d, err := p.CheckCredentials(&authchain.Client{}, []byte("miso"), []byte("melon"))
	require.NoError(t, err)
	require.Equal(t, authchain.Grant, d)

	d, err = p.CheckCredentials(&authchain.Client{}, []byte("miso"), []byte("bad-pass"))
	require.NoError(t, err)
	require.Equal(t, authchain.Deny, d)

	d, err = p.CheckCredentials(&authchain.Client{}, []byte("suspended"), []byte("any"))
	require.NoError(t, err)
	require.Equal(t, authchain.Deny, d)

	d, err = p.CheckCredentials(&authchain.Client{}, []byte("nobody"), []byte("nothing"))
	require.NoError(t, err)
	require.Equal(t, authchain.Defer, d)
}

func TestBoltCheckACL(t *testing.T) {
	p := newProvider(t)

	err := p.UpdateUser(store.User{
		Username: "miso",
		Password: "melon",
		ACL: file.Filters{
			"miso/#":  file.ReadWrite,
			"readonly": file.ReadOnly,
		},
	})
	require.NoError(t, err)

	cl := &authchain.Client{Username: []byte("miso")}

	d, err := p.CheckACL(cl, authchain.Write, &authchain.Message{Topic: "miso/info"})
	require.NoError(t, err)
	require.Equal(t, authchain.Grant, d)

	d, err = p.CheckACL(cl, authchain.Write, &authchain.Message{Topic: "readonly"})
	require.NoError(t, err)
	require.Equal(t, authchain.Deny, d)

	d, err = p.CheckACL(&authchain.Client{Username: []byte("nobody")}, authchain.Read, &authchain.Message{Topic: "a/b/c"})
	require.NoError(t, err)
	require.Equal(t, authchain.Defer, d)
}

func TestBoltPSKKey(t *testing.T) {
	p := newProvider(t)

	err := p.UpdatePSK(store.PSK{Identity: "sensor-1", Key: "deadbeef"})
	require.NoError(t, err)
	err = p.UpdatePSK(store.PSK{Identity: "sensor-2", Hint: "edge", Key: "c0ffee"})
	require.NoError(t, err)
	err = p.UpdatePSK(store.PSK{Identity: "sensor-3", Key: "00112233445566778899aabbccddeeff00112233"})
	require.NoError(t, err)

	key, d, err := p.PSKKey("any-hint", "sensor-1", 33)
	require.NoError(t, err)
	require.Equal(t, authchain.Grant, d)
	require.Equal(t, "deadbeef", key)

	_, d, err = p.PSKKey("core", "sensor-2", 33)
	require.NoError(t, err)
	require.Equal(t, authchain.Defer, d)

	key, d, err = p.PSKKey("edge", "sensor-2", 33)
	require.NoError(t, err)
	require.Equal(t, authchain.Grant, d)
	require.Equal(t, "c0ffee", key)

	_, _, err = p.PSKKey("any-hint", "sensor-3", 33)
	require.ErrorIs(t, err, store.ErrKeyTooLarge)

	_, d, err = p.PSKKey("any-hint", "unknown", 33)
	require.NoError(t, err)
	require.Equal(t, authchain.Defer, d)
}

func TestBoltDeleteUser(t *testing.T) {
	p := newProvider(t)

	require.NoError(t, p.UpdateUser(store.User{Username: "miso", Password: "melon"}))
	require.NoError(t, p.DeleteUser("miso"))

	d, err := p.CheckCredentials(&authchain.Client{}, []byte("miso"), []byte("melon"))
	require.NoError(t, err)
	require.Equal(t, authchain.Defer, d)
}

func TestBoltDeletePSK(t *testing.T) {
	p := newProvider(t)

	require.NoError(t, p.UpdatePSK(store.PSK{Identity: "sensor-1", Key: "deadbeef"}))
	require.NoError(t, p.DeletePSK("sensor-1"))

	_, d, err := p.PSKKey("any-hint", "sensor-1", 33)
	require.NoError(t, err)
	require.Equal(t, authchain.Defer, d)
}

func TestBoltKvNoDB(t *testing.T) {
	p := New(nil)
	p.SetOpts(logger, nil)

	require.ErrorIs(t, p.setKv("k", new(store.User)), store.ErrDBFileNotOpen)
	require.ErrorIs(t, p.delKv("k"), store.ErrDBFileNotOpen)
	require.ErrorIs(t, p.getKv("k", new(store.User)), store.ErrDBFileNotOpen)
}
