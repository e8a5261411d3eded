// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

package authchain

// Version is the provider contract version implemented by this package.
// A provider advertising any other version is rejected at load time and
// receives no further calls.
const Version = 2

const (
	Defer Decision = iota // the provider abstains and the next source rules
	Grant                 // access is granted and the chain short-circuits
	Deny                  // access is denied and the chain short-circuits
)

// Decision is the three-valued result of a provider check. Provider-internal
// failures travel on the error channel of the check instead, and are coerced
// to a denial by the chain.
type Decision byte

// String returns the decision as a readable string.
func (d Decision) String() string {
	switch d {
	case Grant:
		return "grant"
	case Deny:
		return "deny"
	default:
		return "defer"
	}
}

const (
	None  Access = iota // no access
	Read                // subscription access
	Write               // publication access
)

// Access indicates the type of topic access being checked. Subscription
// attempts are checked with Read, publish attempts with Write.
type Access byte

// String returns the access mode as a readable string.
func (a Access) String() string {
	switch a {
	case Read:
		return "read"
	case Write:
		return "write"
	default:
		return "none"
	}
}
