// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package policy

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// KeyProvider maps the key identifiers of a policy to public keys.
type KeyProvider interface {
	ResolveKey(id string) (*btcec.PublicKey, error)
}

// StaticKeyProvider is a KeyProvider backed by a fixed map.
type StaticKeyProvider map[string]*btcec.PublicKey

// ResolveKey returns the key registered for id. Identifiers which are
// themselves compressed public keys in hex resolve to that key.
func (p StaticKeyProvider) ResolveKey(id string) (*btcec.PublicKey, error) {
	if pub, ok := p[id]; ok {
		return pub, nil
	}
	if pub, err := parseHexKey(id); err == nil {
		return pub, nil
	}

	str := fmt.Sprintf("no public key for %q", id)
	return nil, policyError(ErrUnknownKey, str)
}

func parseHexKey(id string) (*btcec.PublicKey, error) {
	if len(id) != 2*btcec.PubKeyBytesLenCompressed {
		return nil, fmt.Errorf("not a compressed key")
	}
	raw, err := hex.DecodeString(id)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(raw)
}

// ResolveKeys resolves every key of the policy. A nil provider only accepts
// identifiers that are hex encoded compressed public keys.
func ResolveKeys(n Node, kp KeyProvider) (map[string]*btcec.PublicKey, error) {
	if kp == nil {
		kp = StaticKeyProvider(nil)
	}

	keys := make(map[string]*btcec.PublicKey)
	for _, id := range Keys(n) {
		pub, err := kp.ResolveKey(id)
		if err != nil {
			if IsErrorCode(err, ErrUnknownKey) {
				return nil, err
			}
			str := fmt.Sprintf("resolving key %q: %v", id, err)
			return nil, policyError(ErrUnknownKey, str)
		}
		keys[id] = pub
	}
	return keys, nil
}
