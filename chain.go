// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

package authchain

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

var (
	// ErrIncompatibleVersion indicates a provider was built against a different contract version.
	ErrIncompatibleVersion = errors.New("provider contract version is not compatible")

	// ErrInvalidConfigType indicates a different type of config value was expected to what was received.
	ErrInvalidConfigType = errors.New("invalid config type provided")

	// ErrChainNotActive indicates a check or reload was issued outside an active security bracket.
	ErrChainNotActive = errors.New("provider chain is not active")

	// ErrChainActive indicates an operation which requires a stopped chain was issued on an active one.
	ErrChainActive = errors.New("provider chain is already active")
)

const (
	Unloaded    State = iota // no provider state exists
	Initialized              // Init has succeeded; no security bracket is open
	Active                   // a security bracket is open; checks are legal
	Suspended                // mid-reload; SecurityInit(reload=true) will follow
)

// State describes the lifecycle state of the chain and of each attached provider.
type State byte

// String returns the state as a readable string.
func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Active:
		return "active"
	case Suspended:
		return "suspended"
	default:
		return "unloaded"
	}
}

// source is a single decision source attached to the chain, carrying the
// provider, the options supplied to its lifecycle calls, and its state.
type source struct {
	provider Provider
	opts     Options
	state    State
}

// Chain is an ordered sequence of providers consulted for each decision.
// Sources are evaluated strictly in the order they were added; the first
// source to return a decision other than Defer settles the check. A check on
// which every source abstains is denied, as is any check during which a
// provider reports an internal error.
type Chain struct {
	Log        *slog.Logger // a logger for the chain and its providers
	internal   atomic.Value // a slice of []*source
	bracket    atomic.Value // the id of the current security bracket
	state      uint32       // the current chain State
	wg         sync.WaitGroup
	qty        int64 // the number of providers in use
	sync.Mutex       // a mutex for locking when adding and driving lifecycle
}

// New returns a new provider chain. If l is nil, the slog default is used.
func New(l *slog.Logger) *Chain {
	if l == nil {
		l = slog.Default()
	}

	return &Chain{
		Log: l,
	}
}

// Len returns the number of providers added.
func (c *Chain) Len() int64 {
	return atomic.LoadInt64(&c.qty)
}

// State returns the lifecycle state of the chain.
func (c *Chain) State() State {
	return State(atomic.LoadUint32(&c.state))
}

func (c *Chain) setState(s State) {
	atomic.StoreUint32(&c.state, uint32(s))
}

// Bracket returns the id of the security bracket currently in effect, or an
// empty string if no bracket has been opened yet.
func (c *Chain) Bracket() string {
	if id, ok := c.bracket.Load().(string); ok {
		return id
	}

	return ""
}

// Provides returns true if any one provider rules on any of the requested checks.
func (c *Chain) Provides(b ...byte) bool {
	for _, s := range c.sources() {
		for _, cb := range b {
			if s.provider.Provides(cb) {
				return true
			}
		}
	}

	return false
}

// Add attaches a new provider to the end of the chain. The provider's version
// is probed first; on a mismatch the provider is rejected and no lifecycle
// call is issued. On a match, Init is called once with opts, which are also
// supplied to every subsequent lifecycle call unless replaced by Reload.
// Providers may only be added before the chain is started.
func (c *Chain) Add(p Provider, opts Options) error {
	c.Lock()
	defer c.Unlock()

	if c.State() != Unloaded {
		return fmt.Errorf("failed adding %s provider: %w", p.ID(), ErrChainActive)
	}

	if v := p.Version(); v != Version {
		return fmt.Errorf("failed adding %s provider (version %d, expected %d): %w", p.ID(), v, Version, ErrIncompatibleVersion)
	}

	p.SetOpts(c.Log.With("provider", p.ID()), &ProviderOptions{
		Bracket: c.Bracket,
	})

	err := p.Init(opts)
	if err != nil {
		return fmt.Errorf("failed initialising %s provider: %w", p.ID(), err)
	}

	i, ok := c.internal.Load().([]*source)
	if !ok {
		i = []*source{}
	}

	i = append(i, &source{
		provider: p,
		opts:     opts,
		state:    Initialized,
	})
	c.internal.Store(i)
	atomic.AddInt64(&c.qty, 1)
	c.wg.Add(1)

	return nil
}

// sources returns a slice of all attached sources.
func (c *Chain) sources() []*source {
	i, ok := c.internal.Load().([]*source)
	if !ok {
		return []*source{}
	}

	return i
}

// Providers returns a slice of all the attached providers, in chain order.
func (c *Chain) Providers() []Provider {
	all := c.sources()
	v := make([]Provider, 0, len(all))
	for _, s := range all {
		v = append(v, s.provider)
	}

	return v
}

// Start opens the first security bracket, calling SecurityInit with reload
// false on every provider in order. A provider which fails its security init
// is released and removed from the chain; the chain continues with the
// remaining providers. Checks are legal once Start returns.
func (c *Chain) Start() error {
	c.Lock()
	defer c.Unlock()

	if c.State() != Unloaded {
		return ErrChainActive
	}

	c.bracket.Store(xid.New().String())
	c.securityInit(false)
	c.setState(Active)

	c.Log.Info("security initialised", "providers", c.Len(), "bracket", c.Bracket())

	return nil
}

// Reload closes the current security bracket with reload true and opens a new
// one, supplying each provider the options in updated (keyed on provider ID)
// in place of its previous options where present. The full cleanup/init
// bracket is always driven, even when options are unchanged.
func (c *Chain) Reload(updated map[string]Options) error {
	c.Lock()
	defer c.Unlock()

	if c.State() != Active {
		return ErrChainNotActive
	}

	c.setState(Suspended)
	for _, s := range c.sources() {
		if err := s.provider.SecurityCleanup(s.opts, true); err != nil {
			c.Log.Warn("problem cleaning up security state", "error", err, "provider", s.provider.ID())
		}
		s.state = Suspended

		if opts, ok := updated[s.provider.ID()]; ok {
			s.opts = opts
		}
	}

	c.bracket.Store(xid.New().String())
	c.securityInit(true)
	c.setState(Active)

	c.Log.Info("security reloaded", "providers", c.Len(), "bracket", c.Bracket())

	return nil
}

// securityInit calls SecurityInit on every attached provider and drops any
// provider which refuses, releasing its state. Must be called under lock.
func (c *Chain) securityInit(reload bool) {
	keep := make([]*source, 0, len(c.sources()))
	for _, s := range c.sources() {
		err := s.provider.SecurityInit(s.opts, reload)
		if err != nil {
			c.Log.Error("provider failed security init; removing from chain", "error", err, "provider", s.provider.ID())
			if err := s.provider.Cleanup(s.opts); err != nil {
				c.Log.Debug("problem stopping provider", "error", err, "provider", s.provider.ID())
			}
			s.state = Unloaded
			atomic.AddInt64(&c.qty, -1)
			c.wg.Done()
			continue
		}

		s.state = Active
		keep = append(keep, s)
	}

	c.internal.Store(keep)
}

// Stop indicates all attached providers to gracefully end, closing the
// security bracket with reload false and then releasing each provider's
// state. Cleanup failures are advisory; shutdown proceeds regardless.
func (c *Chain) Stop() {
	c.Lock()
	defer c.Unlock()

	go func() {
		for _, s := range c.sources() {
			c.Log.Info("stopping provider", "provider", s.provider.ID())
			if s.state == Active {
				if err := s.provider.SecurityCleanup(s.opts, false); err != nil {
					c.Log.Debug("problem cleaning up security state", "error", err, "provider", s.provider.ID())
				}
				s.state = Initialized
			}

			if err := s.provider.Cleanup(s.opts); err != nil {
				c.Log.Debug("problem stopping provider", "error", err, "provider", s.provider.ID())
			}
			s.state = Unloaded

			c.wg.Done()
		}
	}()

	c.wg.Wait()
	c.internal.Store([]*source{})
	atomic.StoreInt64(&c.qty, 0)
	c.setState(Unloaded)
}

// Authenticate is called when a client's username/password must be checked,
// and collapses the chain's decision to a binary verdict. Sources are
// consulted in order; the first to grant or deny settles the check. If every
// source abstains, or any source reports an internal error, access is denied.
func (c *Chain) Authenticate(cl *Client, username, password []byte) bool {
	if c.State() != Active {
		c.Log.Error("credentials check refused", "error", ErrChainNotActive)
		return false
	}

	for _, s := range c.sources() {
		if !s.provider.Provides(CheckCredentials) {
			continue
		}

		d, err := s.provider.CheckCredentials(cl, username, password)
		if err != nil {
			c.Log.Error("credentials check failed", "error", err, "provider", s.provider.ID(), "username", string(username))
			return false
		}

		switch d {
		case Grant:
			return true
		case Deny:
			c.Log.Info("client failed authentication check", "provider", s.provider.ID(), "username", string(username), "remote", cl.Remote)
			return false
		}
	}

	c.Log.Info("no provider ruled on credentials check", "username", string(username), "remote", cl.Remote)

	return false
}

// ACLCheck is called when a client attempts to subscribe (Read) or publish
// (Write) to a topic, and collapses the chain's decision to a binary verdict
// under the same algebra as Authenticate. The message descriptor is owned by
// the host and is only valid until ACLCheck returns.
func (c *Chain) ACLCheck(cl *Client, acc Access, msg *Message) bool {
	if c.State() != Active {
		c.Log.Error("acl check refused", "error", ErrChainNotActive)
		return false
	}

	for _, s := range c.sources() {
		if !s.provider.Provides(CheckACL) {
			continue
		}

		d, err := s.provider.CheckACL(cl, acc, msg)
		if err != nil {
			c.Log.Error("acl check failed", "error", err, "provider", s.provider.ID(), "client", cl.ID, "topic", msg.Topic)
			return false
		}

		switch d {
		case Grant:
			return true
		case Deny:
			c.Log.Debug("client failed acl check", "provider", s.provider.ID(), "client", cl.ID, "username", string(cl.Username), "topic", msg.Topic, "access", acc.String())
			return false
		}
	}

	c.Log.Debug("no provider ruled on acl check", "client", cl.ID, "topic", msg.Topic, "access", acc.String())

	return false
}

// PSKKey retrieves the pre-shared key for a TLS-PSK identity from the first
// source which serves the hint/identity pair. The returned key is guaranteed
// to be a hex string of fewer than maxKeyLen characters; a provider which
// returns anything else is treated as having failed, and the connection is
// refused. An unknown identity deferred by every source is likewise refused.
func (c *Chain) PSKKey(hint, identity string, maxKeyLen int) (string, bool) {
	if c.State() != Active {
		c.Log.Error("psk lookup refused", "error", ErrChainNotActive)
		return "", false
	}

	for _, s := range c.sources() {
		if !s.provider.Provides(LookupPSK) {
			continue
		}

		key, d, err := s.provider.PSKKey(hint, identity, maxKeyLen)
		if err != nil {
			c.Log.Error("psk lookup failed", "error", err, "provider", s.provider.ID(), "identity", identity)
			return "", false
		}

		switch d {
		case Grant:
			if !ValidPSK(key, maxKeyLen) {
				c.Log.Error("provider returned invalid psk", "provider", s.provider.ID(), "identity", identity, "max_key_len", maxKeyLen)
				return "", false
			}
			return key, true
		case Deny:
			// Deny is not a distinct psk outcome; it refuses the connection
			// the same as an unknown identity would.
			c.Log.Debug("psk lookup denied", "provider", s.provider.ID(), "identity", identity)
			return "", false
		}
	}

	c.Log.Debug("no provider served psk lookup", "hint", hint, "identity", identity)

	return "", false
}

// ValidPSK returns true if key is a non-empty hexadecimal string without an
// 0x prefix which fits in a key buffer of maxKeyLen characters.
func ValidPSK(key string, maxKeyLen int) bool {
	if len(key) == 0 || len(key) >= maxKeyLen {
		return false
	}

	for i := 0; i < len(key); i++ {
		c := key[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}

	return true
}
