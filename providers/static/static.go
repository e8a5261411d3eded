// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

// Package static provides an in-memory policy provider configured up front
// with a fixed set of users and TLS-PSK identities. It abstains from any
// check concerning a user or identity it does not know, so it stacks cleanly
// ahead of or behind other providers.
package static

import (
	"bytes"
	"errors"

	"github.com/ferrymq/authchain"
	"github.com/ferrymq/authchain/providers/file"
)

// ErrKeyTooLarge indicates a configured PSK does not fit the host's key buffer.
var ErrKeyTooLarge = errors.New("psk exceeds the key buffer capacity")

// User defines the credentials and topic access of a single static user.
type User struct {
	Password string       `yaml:"password" json:"password"`                   // the password of the user
	ACL      file.Filters `yaml:"acl,omitempty" json:"acl,omitempty"`         // topic filters the user may access; empty grants all
	Disallow bool         `yaml:"disallow,omitempty" json:"disallow,omitempty"` // deny the user outright
}

// Key defines the pre-shared key of a single TLS-PSK identity.
type Key struct {
	Hint string `yaml:"hint,omitempty" json:"hint,omitempty"` // restrict the key to one listener hint; empty matches any
	Key  string `yaml:"key" json:"key"`                       // the pre-shared key as lowercase hex
}

// Options contains the users and PSK identities served by the provider.
type Options struct {
	Users map[string]User `yaml:"users" json:"users"` // users keyed on username
	Keys  map[string]Key  `yaml:"keys" json:"keys"`   // pre-shared keys keyed on identity
}

// Provider is an in-memory policy provider with a fixed user and key set.
type Provider struct {
	authchain.ProviderBase
	config *Options
}

// New returns a static provider serving the users and keys in config.
func New(config *Options) *Provider {
	if config == nil {
		config = new(Options)
	}

	return &Provider{
		config: config,
	}
}

// ID returns the ID of the provider.
func (p *Provider) ID() string {
	return "static"
}

// Provides indicates which checks this provider rules on.
func (p *Provider) Provides(b byte) bool {
	return bytes.Contains([]byte{
		authchain.CheckCredentials,
		authchain.CheckACL,
		authchain.LookupPSK,
	}, []byte{b})
}

// CheckCredentials rules on a known user's password and abstains for
// usernames outside the configured set.
func (p *Provider) CheckCredentials(cl *authchain.Client, username, password []byte) (authchain.Decision, error) {
	u, ok := p.config.Users[string(username)]
	if !ok {
		return authchain.Defer, nil
	}

	if u.Disallow || u.Password != string(password) {
		return authchain.Deny, nil
	}

	return authchain.Grant, nil
}

// CheckACL rules on a known user's topic access. A user configured without
// filters has access to all topics; a user with filters is held to them.
// Usernames outside the configured set are abstained from.
func (p *Provider) CheckACL(cl *authchain.Client, acc authchain.Access, msg *authchain.Message) (authchain.Decision, error) {
	u, ok := p.config.Users[string(cl.Username)]
	if !ok {
		return authchain.Defer, nil
	}

	if u.Disallow {
		return authchain.Deny, nil
	}

	if len(u.ACL) == 0 {
		return authchain.Grant, nil
	}

	write := acc == authchain.Write
	for filter, access := range u.ACL {
		if !filter.FilterMatches(msg.Topic) {
			continue
		}

		if write && (access == file.WriteOnly || access == file.ReadWrite) {
			return authchain.Grant, nil
		}
		if !write && (access == file.ReadOnly || access == file.ReadWrite) {
			return authchain.Grant, nil
		}
	}

	return authchain.Deny, nil
}

// PSKKey serves the pre-shared key for a known identity and abstains for
// identities outside the configured set, or keys scoped to a different hint.
// A key which does not fit the host's buffer is an error.
func (p *Provider) PSKKey(hint, identity string, maxKeyLen int) (string, authchain.Decision, error) {
	k, ok := p.config.Keys[identity]
	if !ok {
		return "", authchain.Defer, nil
	}

	if k.Hint != "" && k.Hint != hint {
		return "", authchain.Defer, nil
	}

	if len(k.Key) >= maxKeyLen {
		return "", authchain.Defer, ErrKeyTooLarge
	}

	return k.Key, authchain.Grant, nil
}
