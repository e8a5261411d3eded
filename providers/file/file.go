// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

// Package file provides the built-in file-based policy provider. It rules on
// credentials and topic access from an auth ledger held in a JSON or YAML
// file and is conventionally placed first in the chain, ahead of any plugin
// providers. It abstains entirely when no ledger is configured, and abstains
// per check kind when the ledger carries no rules of that kind. It does not
// serve PSK lookups.
package file

import (
	"bytes"

	"github.com/ferrymq/authchain"
)

// optionLedgerFile is the option key naming the ledger file on disk.
const optionLedgerFile = "ledger_file"

// Options contains the configuration/rules data for the file provider.
type Options struct {
	Data   []byte  // raw ledger data in JSON or YAML form
	Ledger *Ledger // a preconfigured ledger
	Path   string  `yaml:"path" json:"path"` // path of a ledger file, superseded by the ledger_file option
}

// Provider is the built-in file-based provider, backed by an auth ledger.
type Provider struct {
	authchain.ProviderBase
	config  *Options
	ledger  *Ledger
	path    string
	hasAuth bool
	hasACL  bool
}

// New returns a file provider using the provided configuration. Passing a nil
// config yields an unconfigured provider which abstains from every check.
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
	return "file-ledger"
}

// Provides indicates which checks this provider rules on.
func (p *Provider) Provides(b byte) bool {
	return bytes.Contains([]byte{
		authchain.CheckCredentials,
		authchain.CheckACL,
	}, []byte{b})
}

// Init prepares the ledger from the configured data or pointer. A ledger file
// named in either the config or the ledger_file option is read on each
// security init instead, so reloads observe edits.
func (p *Provider) Init(opts authchain.Options) error {
	p.ledger = p.config.Ledger
	if p.ledger == nil && len(p.config.Data) > 0 {
		p.ledger = new(Ledger)
		err := p.ledger.Unmarshal(p.config.Data)
		if err != nil {
			return err
		}
	}

	if p.ledger == nil {
		p.ledger = &Ledger{
			Auth: AuthRules{},
			ACL:  ACLRules{},
		}
	}

	return nil
}

// SecurityInit brings the ledger into service, re-reading the ledger file
// (if one is configured) so that a reload observes changed rules.
func (p *Provider) SecurityInit(opts authchain.Options, reload bool) error {
	p.path = opts.GetDefault(optionLedgerFile, p.config.Path)
	if p.path != "" {
		ln, err := LoadLedger(p.path)
		if err != nil {
			return err
		}

		p.ledger.Update(ln)
	}

	p.hasAuth = len(p.ledger.Users) > 0 || len(p.ledger.Auth) > 0
	p.hasACL = len(p.ledger.ACL) > 0
	for _, u := range p.ledger.Users {
		if len(u.ACL) > 0 {
			p.hasACL = true
			break
		}
	}

	p.Log.Info("loaded auth rules",
		"users", len(p.ledger.Users),
		"authentication", len(p.ledger.Auth),
		"acl", len(p.ledger.ACL),
		"reload", reload)

	return nil
}

// SecurityCleanup takes the ledger out of service.
func (p *Provider) SecurityCleanup(opts authchain.Options, reload bool) error {
	p.hasAuth = false
	p.hasACL = false
	return nil
}

// Cleanup releases the ledger.
func (p *Provider) Cleanup(opts authchain.Options) error {
	p.ledger = nil
	return nil
}

// CheckCredentials rules on a connecting client against the ledger. When
// auth rules are configured the provider is decisive: a client no rule
// covers is denied rather than deferred.
func (p *Provider) CheckCredentials(cl *authchain.Client, username, password []byte) (authchain.Decision, error) {
	if !p.hasAuth {
		return authchain.Defer, nil
	}

	if _, d := p.ledger.AuthOk(cl, username, password); d == authchain.Grant {
		return authchain.Grant, nil
	}

	p.Log.Info("client failed authentication check",
		"username", string(username),
		"remote", cl.Remote)

	return authchain.Deny, nil
}

// CheckACL rules on a client's topic access against the ledger. When acl
// rules are configured the provider is decisive: a topic no rule covers is
// denied rather than deferred.
func (p *Provider) CheckACL(cl *authchain.Client, acc authchain.Access, msg *authchain.Message) (authchain.Decision, error) {
	if !p.hasACL {
		return authchain.Defer, nil
	}

	if _, d := p.ledger.ACLOk(cl, acc, msg.Topic); d == authchain.Grant {
		return authchain.Grant, nil
	}

	p.Log.Debug("client failed allowed ACL check",
		"client", cl.ID,
		"username", string(cl.Username),
		"topic", msg.Topic,
		"access", acc.String())

	return authchain.Deny, nil
}
