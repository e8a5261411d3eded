// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

package authchain

import (
	"log/slog"
)

const (
	CheckCredentials byte = iota // the provider rules on username/password checks
	CheckACL                     // the provider rules on topic access checks
	LookupPSK                    // the provider serves TLS-PSK key lookups
)

// Provider is a pluggable policy source consulted by the broker when deciding
// whether a client may connect, publish, or subscribe. Providers carry their
// own state on the receiver; the chain never inspects it.
//
// A provider implements some subset of the check surface and declares it via
// Provides; checks it does not provide are treated as an abstention (Defer).
type Provider interface {
	ID() string
	Version() int
	Provides(b byte) bool
	SetOpts(l *slog.Logger, o *ProviderOptions)
	Init(opts Options) error
	SecurityInit(opts Options, reload bool) error
	SecurityCleanup(opts Options, reload bool) error
	Cleanup(opts Options) error
	CheckCredentials(cl *Client, username, password []byte) (Decision, error)
	CheckACL(cl *Client, acc Access, msg *Message) (Decision, error)
	PSKKey(hint, identity string, maxKeyLen int) (string, Decision, error)
}

// ProviderOptions contains values which are inherited from the host chain
// when a provider is attached.
type ProviderOptions struct {
	// Bracket returns the id of the security bracket currently in effect.
	// Providers may use it to tag internal cache entries which must not
	// outlive a configuration reload.
	Bracket func() string
}

// ProviderBase provides a set of default methods for each provider. It should
// be embedded in all providers. The defaults advertise the current contract
// version, provide no checks, and abstain from any check issued regardless.
type ProviderBase struct {
	Provider
	Log  *slog.Logger
	Opts *ProviderOptions
}

// ID returns the ID of the provider.
func (p *ProviderBase) ID() string {
	return "base"
}

// Version returns the contract version the provider was built against.
func (p *ProviderBase) Version() int {
	return Version
}

// Provides indicates which checks a provider rules on. The default is none -
// this method should be overridden by the embedding provider.
func (p *ProviderBase) Provides(b byte) bool {
	return false
}

// SetOpts is called by the chain to propagate host values and generally
// should not be called manually.
func (p *ProviderBase) SetOpts(l *slog.Logger, opts *ProviderOptions) {
	p.Log = l
	p.Opts = opts
}

// Init is called once, after a successful version probe, to allocate any
// long-lived provider resources, such as database connections.
func (p *ProviderBase) Init(opts Options) error {
	return nil
}

// SecurityInit brings the provider's policy into service. When reload is
// true the host has just completed a SecurityCleanup with reload true and is
// reinstating policy from possibly-changed options; options must be re-read
// on every call.
func (p *ProviderBase) SecurityInit(opts Options, reload bool) error {
	return nil
}

// SecurityCleanup takes the provider's policy out of service. When reload is
// true a matching SecurityInit with reload true will follow; when false, this
// is the final deactivation and Cleanup follows.
func (p *ProviderBase) SecurityCleanup(opts Options, reload bool) error {
	return nil
}

// Cleanup is called once, last, to release all provider resources.
func (p *ProviderBase) Cleanup(opts Options) error {
	return nil
}

// CheckCredentials is called when a client's username/password must be
// checked. The default abstains.
func (p *ProviderBase) CheckCredentials(cl *Client, username, password []byte) (Decision, error) {
	return Defer, nil
}

// CheckACL is called when topic access must be checked for a subscription
// (Read) or publish (Write) attempt. The default abstains.
func (p *ProviderBase) CheckACL(cl *Client, acc Access, msg *Message) (Decision, error) {
	return Defer, nil
}

// PSKKey is called to retrieve the pre-shared key for a TLS-PSK identity, as
// a hex string of fewer than maxKeyLen characters. The default abstains.
func (p *ProviderBase) PSKKey(hint, identity string, maxKeyLen int) (string, Decision, error) {
	return "", Defer, nil
}
