// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

// Package bolt provides a policy provider which keeps user credentials, topic
// access filters, and pre-shared keys in a boltdb file store.
package bolt

import (
	"bytes"
	"errors"
	"time"

	"go.etcd.io/bbolt"

	"github.com/ferrymq/authchain"
	"github.com/ferrymq/authchain/providers/store"
)

var (
	ErrBucketNotFound = errors.New("bucket not found")
	ErrKeyNotFound    = errors.New("key not found")
)

const (
	// defaultDbFile is the default file path for the boltdb file.
	defaultDbFile = ".bolt"

	// defaultTimeout is the default time to hold a connection to the file.
	defaultTimeout = 250 * time.Millisecond

	defaultBucket = "authchain"
)

// userKey returns a primary key for a user record.
func userKey(username string) string {
	return store.UserKey + "_" + username
}

// pskKey returns a primary key for a pre-shared key record.
func pskKey(identity string) string {
	return store.PSKKey + "_" + identity
}

// Options contains configuration settings for the bolt instance.
type Options struct {
	Options *bbolt.Options
	Bucket  string `yaml:"bucket" json:"bucket"`
	Path    string `yaml:"path" json:"path"`
}

// Provider is a policy provider using a boltdb file store as a backend.
type Provider struct {
	authchain.ProviderBase
	config *Options  // options for configuring the boltdb instance.
	db     *bbolt.DB // the boltdb instance.
}

// New returns a bolt provider using the provided configuration.
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
	return "bolt-db"
}

// Provides indicates which checks this provider rules on.
func (p *Provider) Provides(b byte) bool {
	return bytes.Contains([]byte{
		authchain.CheckCredentials,
		authchain.CheckACL,
		authchain.LookupPSK,
	}, []byte{b})
}

// Init opens the boltdb instance named by the path option (or the config
// path), which lives for the provider lifetime.
func (p *Provider) Init(opts authchain.Options) error {
	if p.config.Options == nil {
		p.config.Options = &bbolt.Options{
			Timeout: defaultTimeout,
		}
	}

	path := opts.GetDefault("path", p.config.Path)
	if len(path) == 0 {
		path = defaultDbFile
	}

	bucket := opts.GetDefault("bucket", p.config.Bucket)
	if len(bucket) == 0 {
		bucket = defaultBucket
	}
	p.config.Path = path
	p.config.Bucket = bucket

	var err error
	p.db, err = bbolt.Open(path, 0600, p.config.Options)
	if err != nil {
		return err
	}

	err = p.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	return err
}

// Cleanup closes the boltdb instance.
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
	if errors.Is(err, ErrKeyNotFound) {
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
	if errors.Is(err, ErrKeyNotFound) {
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
	if errors.Is(err, ErrKeyNotFound) {
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

	err := p.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(p.config.Bucket))
		if bucket == nil {
			return ErrBucketNotFound
		}

		data, _ := v.MarshalBinary()
		return bucket.Put([]byte(k), data)
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

	err := p.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(p.config.Bucket))
		if bucket == nil {
			return ErrBucketNotFound
		}

		return bucket.Delete([]byte(k))
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

	return p.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(p.config.Bucket))
		if bucket == nil {
			return ErrBucketNotFound
		}

		value := bucket.Get([]byte(k))
		if value == nil {
			return ErrKeyNotFound
		}

		return v.UnmarshalBinary(value)
	})
}
