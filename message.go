// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

package authchain

// Client describes a connected client as visible to providers. It is the
// inspection surface of the broker-side client handle; the broker's session
// state behind it is not part of the contract.
type Client struct {
	ID       string // the client id the client connected with
	Remote   string // the remote address of the client
	Listener string // the id of the listener the client connected on
	Username []byte // the username the client authenticated with
}

// Message describes the subject of a topic access check. It is owned by the
// host and valid only until the check returns; providers which wish to retain
// it must take a Copy.
type Message struct {
	Topic   string // the topic the client is publishing or subscribing to
	Payload []byte // the raw message payload
	Qos     byte   // the quality of service class (0, 1, 2)
	Retain  bool   // true if the message is to be retained
}

// Copy returns a deep copy of the message which remains valid after the
// check it was supplied to returns.
func (m *Message) Copy() *Message {
	payload := make([]byte, len(m.Payload))
	copy(payload, m.Payload)

	return &Message{
		Topic:   m.Topic,
		Payload: payload,
		Qos:     m.Qos,
		Retain:  m.Retain,
	}
}
