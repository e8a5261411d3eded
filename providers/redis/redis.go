// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

// Package redis provides a policy provider which keeps user credentials,
// topic access filters, and pre-shared keys in a Redis instance, so that a
// fleet of brokers can share one credential store.
package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	redis "github.com/go-redis/redis/v8"

	"github.com/ferrymq/authchain"
	"github.com/ferrymq/authchain/providers/store"
)

// defaultAddr is the default address to the redis service.
const defaultAddr = "localhost:6379"

// defaultHPrefix is a prefix to better identify hsets created by this provider.
const defaultHPrefix = "authchain-"

// Options contains configuration settings for the redis instance.
type Options struct {
	HPrefix string
	Options *redis.Options
}

// Provider is a policy provider using Redis as a backend.
type Provider struct {
	authchain.ProviderBase
	config *Options        // options for connecting to the Redis instance.
	db     *redis.Client   // the Redis instance
	ctx    context.Context // a context for the connection
}

// New returns a redis provider using the provided configuration.
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
	return "redis-db"
}

// Provides indicates which checks this provider rules on.
func (p *Provider) Provides(b byte) bool {
	return bytes.Contains([]byte{
		authchain.CheckCredentials,
		authchain.CheckACL,
		authchain.LookupPSK,
	}, []byte{b})
}

// hKey returns a hash set key with a unique prefix.
func (p *Provider) hKey(s string) string {
	return p.config.HPrefix + s
}

// Init connects to the redis service. The connection lives for the provider
// lifetime. The addr, username, password, db, and h_prefix options supersede
// the config values.
func (p *Provider) Init(opts authchain.Options) error {
	p.ctx = context.Background()

	if p.config.Options == nil {
		p.config.Options = &redis.Options{
			Addr: defaultAddr,
		}
	}

	if v, ok := opts.Get("addr"); ok {
		p.config.Options.Addr = v
	}
	if v, ok := opts.Get("username"); ok {
		p.config.Options.Username = v
	}
	if v, ok := opts.Get("password"); ok {
		p.config.Options.Password = v
	}
	if v, ok := opts.Get("db"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing db option: %w", err)
		}
		p.config.Options.DB = db
	}
	if v, ok := opts.Get("h_prefix"); ok {
		p.config.HPrefix = v
	}
	if p.config.HPrefix == "" {
		p.config.HPrefix = defaultHPrefix
	}

	p.Log.Info("connecting to redis service",
		"address", p.config.Options.Addr,
		"username", p.config.Options.Username,
		"password-len", len(p.config.Options.Password),
		"db", p.config.Options.DB)

	p.db = redis.NewClient(p.config.Options)
	_, err := p.db.Ping(context.Background()).Result()
	if err != nil {
		return fmt.Errorf("failed to ping service: %w", err)
	}

	p.Log.Info("connected to redis service")

	return nil
}

// Cleanup closes the redis connection.
func (p *Provider) Cleanup(opts authchain.Options) error {
	p.Log.Info("disconnecting from redis service")
	err := p.db.Close()
	p.db = nil
	return err
}

// CheckCredentials rules on a stored user's password and abstains for
// usernames without a record.
func (p *Provider) CheckCredentials(cl *authchain.Client, username, password []byte) (authchain.Decision, error) {
	u := new(store.User)
	err := p.getKv(store.UserKey, string(username), u)
	if errors.Is(err, redis.Nil) {
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
	err := p.getKv(store.UserKey, string(cl.Username), u)
	if errors.Is(err, redis.Nil) {
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
	err := p.getKv(store.PSKKey, identity, k)
	if errors.Is(err, redis.Nil) {
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
	u.ID = u.Username
	u.T = store.UserKey
	return p.setKv(store.UserKey, u.Username, &u)
}

// DeleteUser removes a user record from the store.
func (p *Provider) DeleteUser(username string) error {
	return p.delKv(store.UserKey, username)
}

// UpdatePSK writes a pre-shared key record to the store.
func (p *Provider) UpdatePSK(k store.PSK) error {
	k.ID = k.Identity
	k.T = store.PSKKey
	return p.setKv(store.PSKKey, k.Identity, &k)
}

// DeletePSK removes a pre-shared key record from the store.
func (p *Provider) DeletePSK(identity string) error {
	return p.delKv(store.PSKKey, identity)
}

// setKv stores a field of a typed hash set.
func (p *Provider) setKv(t, k string, v store.Serializable) error {
	if p.db == nil {
		return store.ErrDBFileNotOpen
	}

	data, _ := v.MarshalBinary()
	err := p.db.HSet(p.ctx, p.hKey(t), k, data).Err()
	if err != nil {
		p.Log.Error("failed to hset data", "error", err, "key", k)
	}
	return err
}

// delKv deletes a field of a typed hash set.
func (p *Provider) delKv(t, k string) error {
	if p.db == nil {
		return store.ErrDBFileNotOpen
	}

	err := p.db.HDel(p.ctx, p.hKey(t), k).Err()
	if err != nil {
		p.Log.Error("failed to hdel data", "error", err, "key", k)
	}
	return err
}

// getKv retrieves a field of a typed hash set.
func (p *Provider) getKv(t, k string, v store.Serializable) error {
	if p.db == nil {
		return store.ErrDBFileNotOpen
	}

	row, err := p.db.HGet(p.ctx, p.hKey(t), k).Result()
	if err != nil {
		return err
	}

	return v.UnmarshalBinary([]byte(row))
}
