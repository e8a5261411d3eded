// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

package store

import (
	"testing"

	"github.com/ferrymq/authchain/providers/file"

	"github.com/stretchr/testify/require"
)

func TestUserOk(t *testing.T) {
	u := &User{Username: "miso", Password: "melon"}
	require.True(t, u.UserOk([]byte("melon")))
	require.False(t, u.UserOk([]byte("bad-pass")))

	u.Disallow = true
	require.False(t, u.UserOk([]byte("melon")))
}

func TestACLOk(t *testing.T) {
	u := &User{
		Username: "miso",
		ACL: file.Filters{
			"miso/#":  file.ReadWrite,
			"updates":  file.WriteOnly,
			"readonly": file.ReadOnly,
		},
	}

	require.True(t, u.ACLOk("miso/info", true))
	require.True(t, u.ACLOk("miso/info", false))
	require.True(t, u.ACLOk("updates", true))
	require.False(t, u.ACLOk("updates", false))
	require.True(t, u.ACLOk("readonly", false))
	require.False(t, u.ACLOk("readonly", true))
	require.False(t, u.ACLOk("other/topic", false))
}

func TestACLOkFilterless(t *testing.T) {
	u := &User{Username: "miso"}
	require.True(t, u.ACLOk("any/topic", true))

	u.Disallow = true
	require.False(t, u.ACLOk("any/topic", true))
}

func TestUserMarshalBinary(t *testing.T) {
	u := User{
		ID:       "USR_miso",
		T:        UserKey,
		Username: "miso",
		Password: "melon",
	}

	data, err := u.MarshalBinary()
	require.NoError(t, err)

	r := new(User)
	require.NoError(t, r.UnmarshalBinary(data))
	require.Equal(t, u, *r)

	require.NoError(t, r.UnmarshalBinary(nil)) // ignore empty values
}

func TestPSKMarshalBinary(t *testing.T) {
	k := PSK{
		ID:       "PSK_sensor-1",
		T:        PSKKey,
		Identity: "sensor-1",
		Key:      "deadbeef",
	}

	data, err := k.MarshalBinary()
	require.NoError(t, err)

	r := new(PSK)
	require.NoError(t, r.UnmarshalBinary(data))
	require.Equal(t, k, *r)

	require.NoError(t, r.UnmarshalBinary(nil)) // ignore empty values
}
