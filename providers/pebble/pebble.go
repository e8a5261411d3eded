// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

// Package pebble provides a policy provider which keeps user credentials,
// topic access filters, and pre-shared keys in a pebble DB file store.
package pebble

import (
	"bytes"
	"errors"
	"strings"

	pebbledb "github.com/cockroachdb/pebble"

	"github.com/ferrymq/authchain"
	"github.com/ferrymq/authchain/providers/store"
)

const (
	// defaultDbFile is the default file path for the pebble db file.
	defaultDbFile = ".pebble"
)

const (
	NoSync = "NoSync" // NoSync specifies the default write options for writes which do not synchronize to disk.
	Sync   = "Sync"   // Sync specifies the default write options for writes which synchronize to disk.
)

// userKey returns a primary key for a user record.
func userKey(username string) string {
	return store.UserKey + "_" + username
}

// pskKey returns a primary key for a pre-shared key record.
func pskKey(identity string) string {
	return store.PSKKey + "_" + identity
}

// Options contains configuration settings for the pebble DB instance.
type Options struct {
	Options *pebbledb.Options
	Mode    string `yaml:"mode" json:"mode"`
	Path    string `yaml:"path" json:"path"`
}

// Provider is a policy provider using a pebble DB file store as a backend.
type Provider struct {
	authchain.ProviderBase
	config *Options               // options for configuring the pebble DB instance.
	db     *pebbledb.DB           // the pebble DB instance
	mode   *pebbledb.WriteOptions // mode holds the optional per-query parameters for Set and Delete operations
}

// New returns a pebble provider using the provided configuration.
func New(config *Options) *Provider {
	if config == nil {
		config = new(Options)
	}

	return &Provider{
		config: config,
	}
}

// ID returns the id of the provider.
func (p *Provider) ID() string {
	return "pebble-db"
}

// Provides indicates which checks this provider rules on.
func (p *Provider) Provides(b byte) bool {
	return bytes.Contains([]byte{
		authchain.CheckCredentials,
		authchain.CheckACL,
		authchain.LookupPSK,
	}, []byte{b})
}

// Init opens the pebble instance named by the path option (or the config
// path), which lives for the provider lifetime.
func (p *Provider) Init(opts authchain.Options) error {
	path := opts.GetDefault("path", p.config.Path)
	if len(path) == 0 {
		path = defaultDbFile
	}
	p.config.Path = path

	if p.config.Options == nil {
		p.config.Options = &pebbledb.Options{}
	}

	p.mode = pebbledb.NoSync
	if strings.EqualFold(opts.GetDefault("mode", p.config.Mode), Sync) {
		p.mode = pebbledb.Sync
	}

	var err error
	p.db, err = pebbledb.Open(p.config.Path, p.config.Options)
	if err != nil {
		return err
	}

	return nil
}

// Cleanup closes the pebble instance.
func (p *Provider) Cleanup(opts authchain.Options) error {
	err := p.db.Close()
	p.db = nil
	return err
}

// CheckCredentials rules on a stored user's password and abstains for
// usernames without a record.
func (p *Provider) CheckCredentials(cl *authchain.Client, username, password []byte) (authchain.Decision, error) {
	u := new(store.User)
	err := p.getKv(userKey(string(username)), u)
	if errors.Is(err, pebbledb.ErrNotFound) {
		return authchain.Defer, nil
	} else if err != nil {
		return authchain.Defer, err
	}

	if !u.UserOk(password) {
		return authchain.Deny, nil
	}

	return authchain.Grant, nil
}

// CheckACL rules on a stored user's topic access and abstains for usernames
// without a record.
func (p *Provider) CheckACL(cl *authchain.Client, acc authchain.Access, msg *authchain.Message) (authchain.Decision, error) {
	u := new(store.User)
	err := p.getKv(userKey(string(cl.Username)), u)
	if errors.Is(err, pebbledb.ErrNotFound) {
		return authchain.Defer, nil
	} else if err != nil {
		return authchain.Defer, err
	}

	if !u.ACLOk(msg.Topic, acc == authchain.Write) {
		return authchain.Deny, nil
	}

	return authchain.Grant, nil
}

// PSKKey serves the stored pre-shared key for an identity and abstains for
// identities without a record, or keys scoped to a different hint.
func (p *Provider) PSKKey(hint, identity string, maxKeyLen int) (string, authchain.Decision, error) {
	k := new(store.PSK)
	err := p.getKv(pskKey(identity), k)
	if errors.Is(err, pebbledb.ErrNotFound) {
		return "", authchain.Defer, nil
	} else if err != nil {
		return "", authchain.Defer, err
	}

	if k.Hint != "" && k.Hint != hint {
		return "", authchain.Defer, nil
	}

	if len(k.Key) >= maxKeyLen {
		return "", authchain.Defer, store.ErrKeyTooLarge
	}

	return k.Key, authchain.Grant, nil
}

// UpdateUser writes a user record to the store.
func (p *Provider) UpdateUser(u store.User) error {
	u.ID = userKey(u.Username)
	u.T = store.UserKey
	return p.setKv(u.ID, &u)
}

// DeleteUser removes a user record from the store.
func (p *Provider) DeleteUser(username string) error {
	return p.delKv(userKey(username))
}

// UpdatePSK writes a pre-shared key record to the store.
func (p *Provider) UpdatePSK(k store.PSK) error {
	k.ID = pskKey(k.Identity)
	k.T = store.PSKKey
	return p.setKv(k.ID, &k)
}

// DeletePSK removes a pre-shared key record from the store.
func (p *Provider) DeletePSK(identity string) error {
	return p.delKv(pskKey(identity))
}

// setKv stores a key-value pair in the database.
func (p *Provider) setKv(k string, v store.Serializable) error {
	if p.db == nil {
		return store.ErrDBFileNotOpen
	}

	bs, _ := v.MarshalBinary()
	err := p.db.Set([]byte(k), bs, p.mode)
	if err != nil {
		p.Log.Error("failed to update data", "error", err, "key", k)
		return err
	}
	return nil
}

// delKv deletes a key-value pair from the database.
func (p *Provider) delKv(k string) error {
	if p.db == nil {
		return store.ErrDBFileNotOpen
	}

	err := p.db.Delete([]byte(k), p.mode)
	if err != nil {
		p.Log.Error("failed to delete data", "error", err, "key", k)
		return err
	}
	return nil
}

// getKv retrieves the value associated with a key from the database.
func (p *Provider) getKv(k string, v store.Serializable) error {
	if p.db == nil {
		return store.ErrDBFileNotOpen
	}

	value, closer, err := p.db.Get([]byte(k))
	if err != nil {
		return err
	}

	defer func() {
		if closer != nil {
			closer.Close()
		}
	}()
	return v.UnmarshalBinary(value)
}
