// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: 2024 ferrymq
// SPDX-FileContributor: ferrymq

package authchain

// Option is a single key/value configuration directive for a provider.
// All option values are strings; providers parse them as needed.
type Option struct {
	Key   string `yaml:"key" json:"key"`
	Value string `yaml:"value" json:"value"`
}

// Options is an ordered sequence of configuration directives, supplied by the
// host on every lifecycle call. Keys are not required to be unique; the
// meaning of duplicate keys is provider-defined. The sequence is owned by the
// host and must not be retained past the call it was supplied to; options
// observed on one call bear no relation to a prior call.
type Options []Option

// Get returns the value of the first option matching key.
func (o Options) Get(key string) (string, bool) {
	for _, opt := range o {
		if opt.Key == key {
			return opt.Value, true
		}
	}

	return "", false
}

// GetDefault returns the value of the first option matching key, or d if
// no option matches.
func (o Options) GetDefault(key, d string) string {
	if v, ok := o.Get(key); ok {
		return v
	}

	return d
}

// GetAll returns the values of every option matching key, in sequence order.
func (o Options) GetAll(key string) []string {
	var v []string
	for _, opt := range o {
		if opt.Key == key {
			v = append(v, opt.Value)
		}
	}

	return v
}

// Has returns true if at least one option matches key.
func (o Options) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}
