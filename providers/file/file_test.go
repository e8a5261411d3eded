// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

package file

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ferrymq/authchain"

	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(os.Stdout, nil))

func newCheckProvider(t *testing.T, ln *Ledger) *Provider {
	t.Helper()
	p := New(&Options{Ledger: ln})
	p.SetOpts(logger, nil)
	require.NoError(t, p.Init(nil))
	require.NoError(t, p.SecurityInit(nil, false))

	return p
}

func TestFileID(t *testing.T) {
	p := New(nil)
	require.Equal(t, "file-ledger", p.ID())
}

func TestFileProvides(t *testing.T) {
	p := New(nil)
	require.True(t, p.Provides(authchain.CheckCredentials))
	require.True(t, p.Provides(authchain.CheckACL))
	require.False(t, p.Provides(authchain.LookupPSK))
}

func TestFileInitWithLedgerPointer(t *testing.T) {
	p := New(&Options{Ledger: &checkLedger})
	p.SetOpts(logger, nil)

	require.NoError(t, p.Init(nil))
	require.Same(t, &checkLedger, p.ledger)
}

func TestFileInitWithLedgerData(t *testing.T) {
	for _, data := range [][]byte{ledgerJSON, ledgerYAML} {
		p := New(&Options{Data: data})
		p.SetOpts(logger, nil)

		require.NoError(t, p.Init(nil))
		require.Equal(t, ledgerStruct.Auth[0].Username, p.ledger.Auth[0].Username)
		require.Equal(t, ledgerStruct.ACL[0].Client, p.ledger.ACL[0].Client)
	}
}

func TestFileInitBadData(t *testing.T) {
	p := New(&Options{Data: []byte("\tnot a ledger")})
	p.SetOpts(logger, nil)
	require.Error(t, p.Init(nil))
}

func TestFileSecurityInitReadsLedgerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	data, err := checkLedger.ToYAML()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	p := New(&Options{Path: path})
	p.SetOpts(logger, nil)
	require.NoError(t, p.Init(nil))
	require.NoError(t, p.SecurityInit(nil, false))

	d, err := p.CheckCredentials(&authchain.Client{}, []byte("miso"), []byte("melon"))
	require.NoError(t, err)
	require.Equal(t, authchain.Grant, d)

	// Edits to the file are observed by the next security init.
	updated := &Ledger{Users: Users{"miso": {Password: "watermelon"}}}
	data, err = updated.ToYAML()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	require.NoError(t, p.SecurityCleanup(nil, true))
	require.NoError(t, p.SecurityInit(nil, true))

	d, err = p.CheckCredentials(&authchain.Client{}, []byte("miso"), []byte("melon"))
	require.NoError(t, err)
	require.Equal(t, authchain.Deny, d)

	d, err = p.CheckCredentials(&authchain.Client{}, []byte("miso"), []byte("watermelon"))
	require.NoError(t, err)
	require.Equal(t, authchain.Grant, d)
}

func TestFileSecurityInitLedgerFileOption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	data, err := checkLedger.ToYAML()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	p := New(nil)
	p.SetOpts(logger, nil)
	require.NoError(t, p.Init(nil))
	require.NoError(t, p.SecurityInit(authchain.Options{{Key: "ledger_file", Value: path}}, false))

	d, err := p.CheckCredentials(&authchain.Client{}, []byte("miso"), []byte("melon"))
	require.NoError(t, err)
	require.Equal(t, authchain.Grant, d)
}

func TestFileSecurityInitMissingLedgerFile(t *testing.T) {
	p := New(&Options{Path: filepath.Join(t.TempDir(), "nothing.yaml")})
	p.SetOpts(logger, nil)
	require.NoError(t, p.Init(nil))
	require.Error(t, p.SecurityInit(nil, false))
}

func TestFileCheckCredentials(t *testing.T) {
	p := newCheckProvider(t, &checkLedger)

	d, err := p.CheckCredentials(&authchain.Client{}, []byte("miso"), []byte("melon"))
	require.NoError(t, err)
	require.Equal(t, authchain.Grant, d)

	// With auth rules configured, a client no rule covers is denied.
	d, err = p.CheckCredentials(&authchain.Client{}, []byte("nobody"), []byte("nothing"))
	require.NoError(t, err)
	require.Equal(t, authchain.Deny, d)
}

func TestFileCheckACL(t *testing.T) {
	p := newCheckProvider(t, &checkLedger)

	d, err := p.CheckACL(&authchain.Client{Username: []byte("miso")}, authchain.Write, &authchain.Message{Topic: "miso/info"})
	require.NoError(t, err)
	require.Equal(t, authchain.Grant, d)

	// With acl rules configured, a topic no rule covers is denied.
	d, err = p.CheckACL(&authchain.Client{Username: []byte("someone")}, authchain.Read, &authchain.Message{Topic: "any/topic"})
	require.NoError(t, err)
	require.Equal(t, authchain.Deny, d)
}

func TestFileAbstainsUnconfigured(t *testing.T) {
	p := New(nil)
	p.SetOpts(logger, nil)
	require.NoError(t, p.Init(nil))
	require.NoError(t, p.SecurityInit(nil, false))

	d, err := p.CheckCredentials(&authchain.Client{}, []byte("miso"), []byte("melon"))
	require.NoError(t, err)
	require.Equal(t, authchain.Defer, d)

	d, err = p.CheckACL(&authchain.Client{}, authchain.Read, &authchain.Message{Topic: "a/b/c"})
	require.NoError(t, err)
	require.Equal(t, authchain.Defer, d)
}

func TestFileAbstainsPerCheckKind(t *testing.T) {
	// Auth rules but no acl rules: decisive on credentials, abstains on acl.
	p := newCheckProvider(t, &Ledger{
		Auth: AuthRules{{Remote: "127.0.0.1", Allow: true}},
	})

	d, err := p.CheckCredentials(&authchain.Client{}, []byte("miso"), []byte("melon"))
	require.NoError(t, err)
	require.Equal(t, authchain.Deny, d)

	d, err = p.CheckACL(&authchain.Client{}, authchain.Read, &authchain.Message{Topic: "a/b/c"})
	require.NoError(t, err)
	require.Equal(t, authchain.Defer, d)
}

func TestFileSecurityCleanupSuspendsChecks(t *testing.T) {
	p := newCheckProvider(t, &checkLedger)
	require.NoError(t, p.SecurityCleanup(nil, false))

	d, err := p.CheckCredentials(&authchain.Client{}, []byte("miso"), []byte("melon"))
	require.NoError(t, err)
	require.Equal(t, authchain.Defer, d)

	require.NoError(t, p.Cleanup(nil))
	require.Nil(t, p.ledger)
}
