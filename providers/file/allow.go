// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

package file

import (
	"bytes"

	"github.com/ferrymq/authchain"
)

// AllowProvider is a policy provider which grants connection access for all
// users and read and write access to all topics. It abstains from PSK lookups.
type AllowProvider struct {
	authchain.ProviderBase
}

// ID returns the ID of the provider.
func (p *AllowProvider) ID() string {
	return "allow-all-auth"
}

// Provides indicates which checks this provider rules on.
func (p *AllowProvider) Provides(b byte) bool {
	return bytes.Contains([]byte{
		authchain.CheckCredentials,
		authchain.CheckACL,
	}, []byte{b})
}

// CheckCredentials grants all credentials checks.
func (p *AllowProvider) CheckCredentials(cl *authchain.Client, username, password []byte) (authchain.Decision, error) {
	return authchain.Grant, nil
}

// CheckACL grants all topic access checks.
func (p *AllowProvider) CheckACL(cl *authchain.Client, acc authchain.Access, msg *authchain.Message) (authchain.Decision, error) {
	return authchain.Grant, nil
}
