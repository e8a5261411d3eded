// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

// Package badger provides a policy provider which keeps user credentials,
// topic access filters, and pre-shared keys in a BadgerDB file store.
package badger

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"

	"github.com/ferrymq/authchain"
	"github.com/ferrymq/authchain/providers/store"
)

const (
	// defaultDbFile is the default file path for the badger db file.
	defaultDbFile = ".badger"

	// defaultGcInterval is the default interval in seconds between garbage collection runs.
	defaultGcInterval = 5 * 60

	// defaultGcDiscardRatio is the default ratio of log discard for the garbage collector.
	defaultGcDiscardRatio = 0.5
)

// userKey returns a primary key for a user record.
func userKey(username string) string {
	return store.UserKey + "_" + username
}

// pskKey returns a primary key for a pre-shared key record.
func pskKey(identity string) string {
	return store.PSKKey + "_" + identity
}

// Options contains configuration settings for the BadgerDB instance.
type Options struct {
	Options *badgerdb.Options
	Path    string `yaml:"path" json:"path"`
	// GcDiscardRatio specifies the ratio of log discard compared to the maximum possible log discard.
	// It must be in the range (0.0, 1.0), both endpoints excluded, otherwise it is set to the default of 0.5.
	GcDiscardRatio float64 `yaml:"gc_discard_ratio" json:"gc_discard_ratio"`
	GcInterval     int64   `yaml:"gc_interval" json:"gc_interval"`
}

// Provider is a policy provider using a BadgerDB file store as a backend.
type Provider struct {
	authchain.ProviderBase
	config   *Options     // options for configuring the BadgerDB instance.
	gcTicker *time.Ticker // ticker for BadgerDB garbage collection.
	db       *badgerdb.DB // the BadgerDB instance.
}

// New returns a badger provider using the provided configuration.
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
	return "badger-db"
}

// Provides indicates which checks this provider rules on.
func (p *Provider) Provides(b byte) bool {
	return bytes.Contains([]byte{
		authchain.CheckCredentials,
		authchain.CheckACL,
		authchain.LookupPSK,
	}, []byte{b})
}

// gcLoop periodically runs the garbage collection process to reclaim space in
// the value log files. If a run reclaims space, it is repeated immediately.
func (p *Provider) gcLoop() {
	for range p.gcTicker.C {
	again:
		err := p.db.RunValueLogGC(p.config.GcDiscardRatio)
		if err == nil {
			goto again
		}
	}
}

// Init opens the badger instance named by the path option (or the config
// path), which lives for the provider lifetime.
func (p *Provider) Init(opts authchain.Options) error {
	path := opts.GetDefault("path", p.config.Path)
	if len(path) == 0 {
		path = defaultDbFile
	}
	p.config.Path = path

	if v, ok := opts.Get("gc_interval"); ok {
		iv, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parsing gc_interval option: %w", err)
		}
		p.config.GcInterval = iv
	}
	if p.config.GcInterval == 0 {
		p.config.GcInterval = defaultGcInterval
	}

	if p.config.GcDiscardRatio <= 0.0 || p.config.GcDiscardRatio >= 1.0 {
		p.config.GcDiscardRatio = defaultGcDiscardRatio
	}

	if p.config.Options == nil {
		defaultOpts := badgerdb.DefaultOptions(p.config.Path)
		p.config.Options = &defaultOpts
	}
	p.config.Options.Logger = p

	var err error
	p.db, err = badgerdb.Open(*p.config.Options)
	if err != nil {
		return err
	}

	p.gcTicker = time.NewTicker(time.Duration(p.config.GcInterval) * time.Second)
	go p.gcLoop()

	return nil
}

// Cleanup closes the badger instance.
func (p *Provider) Cleanup(opts authchain.Options) error {
	if p.gcTicker != nil {
		p.gcTicker.Stop()
	}

	err := p.db.Close()
	p.db = nil
	return err
}

// CheckCredentials rules on a stored user's password and abstains for
// usernames without a record.
func (p *Provider) CheckCredentials(cl *authchain.Client, username, password []byte) (authchain.Decision, error) {
	u := new(store.User)
	err := p.getKv(userKey(string(username)), u)
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
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
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
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
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
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

// Errorf satisfies the badger interface for an error logger.
func (p *Provider) Errorf(m string, v ...any) {
	p.Log.Error(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...), "v", v)
}

// Warningf satisfies the badger interface for a warning logger.
func (p *Provider) Warningf(m string, v ...any) {
	p.Log.Warn(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...), "v", v)
}

// Infof satisfies the badger interface for an info logger.
func (p *Provider) Infof(m string, v ...any) {
	p.Log.Info(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...), "v", v)
}

// Debugf satisfies the badger interface for a debug logger.
func (p *Provider) Debugf(m string, v ...any) {
	p.Log.Debug(fmt.Sprintf(strings.ToLower(strings.Trim(m, "\n")), v...), "v", v)
}

// setKv stores a key-value pair in the database.
func (p *Provider) setKv(k string, v store.Serializable) error {
	if p.db == nil {
		return store.ErrDBFileNotOpen
	}

	err := p.db.Update(func(txn *badgerdb.Txn) error {
		data, _ := v.MarshalBinary()
		return txn.Set([]byte(k), data)
	})
	if err != nil {
		p.Log.Error("failed to upsert data", "error", err, "key", k)
	}
	return err
}

// delKv deletes a key-value pair from the database.
func (p *Provider) delKv(k string) error {
	if p.db == nil {
		return store.ErrDBFileNotOpen
	}

	err := p.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete([]byte(k))
	})
	if err != nil {
		p.Log.Error("failed to delete data", "error", err, "key", k)
	}
	return err
}

// getKv retrieves the value associated with a key from the database.
func (p *Provider) getKv(k string, v store.Serializable) error {
	if p.db == nil {
		return store.ErrDBFileNotOpen
	}

	return p.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(k))
		if err != nil {
			return err
		}

		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}

		return v.UnmarshalBinary(value)
	})
}
