// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

// Package store contains the record types shared by the store-backed policy
// providers (bolt, badger, pebble, redis). How a provider keeps credentials
// is outside the provider contract; these types are a convention shared by
// the providers bundled with this module so their stores are interchangeable.
package store

import (
	"encoding/json"
	"errors"

	"github.com/ferrymq/authchain/providers/file"
)

const (
	UserKey = "USR" // unique key to denote user records in a store
	PSKKey  = "PSK" // unique key to denote pre-shared key records in a store
)

var (
	// ErrDBFileNotOpen indicates that the file database (e.g. bolt/badger) wasn't open for reading.
	ErrDBFileNotOpen = errors.New("db file not open")

	// ErrKeyTooLarge indicates a stored PSK does not fit the host's key buffer.
	ErrKeyTooLarge = errors.New("psk exceeds the key buffer capacity")
)

// Serializable is an interface for objects that can be serialized and deserialized.
type Serializable interface {
	UnmarshalBinary([]byte) error
	MarshalBinary() (data []byte, err error)
}

// User is a storable representation of a user's credentials and topic access.
type User struct {
	ACL      file.Filters `json:"acl,omitempty"`      // topic filters the user may access; empty grants all
	ID       string       `json:"id"`                 // the storage key
	T        string       `json:"t"`                  // the data type (user)
	Username string       `json:"username"`           // the username of the user
	Password string       `json:"password"`           // the password of the user
	Disallow bool         `json:"disallow,omitempty"` // deny the user outright
}

// MarshalBinary encodes the values into a json string.
func (d User) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *User) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

// PSK is a storable representation of a TLS-PSK identity and its key.
type PSK struct {
	ID       string `json:"id"`             // the storage key
	T        string `json:"t"`              // the data type (psk)
	Identity string `json:"identity"`       // the identity presented by the client
	Hint     string `json:"hint,omitempty"` // restrict the key to one listener hint; empty matches any
	Key      string `json:"key"`            // the pre-shared key as lowercase hex
}

// MarshalBinary encodes the values into a json string.
func (d PSK) MarshalBinary() (data []byte, err error) {
	return json.Marshal(d)
}

// UnmarshalBinary decodes a json string into a struct.
func (d *PSK) UnmarshalBinary(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, d)
}

// UserOk rules on a user record against a username/password pair, mirroring
// the static provider semantics: wrong password or disallowed user denies.
func (d *User) UserOk(password []byte) bool {
	return !d.Disallow && d.Password == string(password)
}

// ACLOk rules on a user record's topic access for the given write mode. A
// record without filters has access to all topics.
func (d *User) ACLOk(topic string, write bool) bool {
	if d.Disallow {
		return false
	}

	if len(d.ACL) == 0 {
		return true
	}

	for filter, access := range d.ACL {
		if !filter.FilterMatches(topic) {
			continue
		}

		if write && (access == file.WriteOnly || access == file.ReadWrite) {
			return true
		}
		if !write && (access == file.ReadOnly || access == file.ReadWrite) {
			return true
		}
	}

	return false
}
