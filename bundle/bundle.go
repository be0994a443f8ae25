// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package bundle implements the prekey bundle a user publishes to a server
// so others can bootstrap an X3DH handshake with them without either party
// needing to be online at the same time: an identity key, a signed prekey
// and its XEdDSA signature, and zero or more one-time prekeys.
package bundle

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/covenant-e2e/xochimilco/internal/xeddsa"
)

// KeyRef names a public key by the id under which its owner tracks it,
// alongside its hex encoding on the wire.
type KeyRef struct {
	ID    int    `json:"id"`
	PkHex string `json:"pk_hex"`
}

// Key decodes the referenced public key from its hex encoding.
func (k KeyRef) Key() ([]byte, error) {
	return hex.DecodeString(k.PkHex)
}

// wireBundle is the canonical JSON shape of a prekey bundle as published on
// the server. Field order matches the encoding the server and clients agree
// on, so two independently-built bundles for the same keys serialize
// identically.
type wireBundle struct {
	IdentityKey    KeyRef   `json:"identityKey"`
	Prekey         KeyRef   `json:"prekey"`
	Signature      string   `json:"signature"`
	OneTimePrekeys []KeyRef `json:"oneTimePrekeys,omitempty"`
	CreatedAt      int64    `json:"createdAt"`
}

// Bundle is a user's published prekey bundle: their identity key, a signed
// prekey, and the one-time prekeys still available for consumption. A
// fetched bundle normally carries at most one one-time prekey, since the
// server pops them one at a time; a freshly registered bundle may carry
// many.
type Bundle struct {
	IdentityKey    KeyRef
	Prekey         KeyRef
	Signature      []byte
	OneTimePrekeys []KeyRef
	CreatedAt      int64
}

// New builds a bundle for a freshly generated identity and signed prekey.
// signature must be the XEdDSA signature of the prekey under the identity
// key, e.g. as produced by x3dh.CreateNewSpk.
func New(identityKeyID int, identityKey []byte, prekeyID int, prekey, signature []byte, createdAt int64) Bundle {
	return Bundle{
		IdentityKey: KeyRef{ID: identityKeyID, PkHex: hex.EncodeToString(identityKey)},
		Prekey:      KeyRef{ID: prekeyID, PkHex: hex.EncodeToString(prekey)},
		Signature:   signature,
		CreatedAt:   createdAt,
	}
}

// WithOneTimePrekeys returns a copy of b carrying the given one-time
// prekeys, in the FIFO order the server should hand them out.
func (b Bundle) WithOneTimePrekeys(otps ...KeyRef) Bundle {
	b.OneTimePrekeys = otps
	return b
}

// Verify checks the signed prekey's signature against the bundle's identity
// key via XEdDSA. A bundle whose signature does not verify must not be used
// to bootstrap a handshake.
func (b Bundle) Verify() (bool, error) {
	idKey, err := b.IdentityKey.Key()
	if err != nil {
		return false, fmt.Errorf("bundle: decoding identity key: %w", err)
	}

	prekey, err := b.Prekey.Key()
	if err != nil {
		return false, fmt.Errorf("bundle: decoding prekey: %w", err)
	}

	return xeddsa.Verify(idKey, prekey, b.Signature), nil
}

// Marshal encodes the bundle as the canonical JSON shape published by the
// server.
func (b Bundle) Marshal() ([]byte, error) {
	return json.Marshal(wireBundle{
		IdentityKey:    b.IdentityKey,
		Prekey:         b.Prekey,
		Signature:      hex.EncodeToString(b.Signature),
		OneTimePrekeys: b.OneTimePrekeys,
		CreatedAt:      b.CreatedAt,
	})
}

// Unmarshal decodes a bundle from its canonical JSON shape.
func Unmarshal(data []byte) (Bundle, error) {
	var w wireBundle
	if err := json.Unmarshal(data, &w); err != nil {
		return Bundle{}, fmt.Errorf("bundle: %w", err)
	}

	sig, err := hex.DecodeString(w.Signature)
	if err != nil {
		return Bundle{}, fmt.Errorf("bundle: decoding signature: %w", err)
	}

	return Bundle{
		IdentityKey:    w.IdentityKey,
		Prekey:         w.Prekey,
		Signature:      sig,
		OneTimePrekeys: w.OneTimePrekeys,
		CreatedAt:      w.CreatedAt,
	}, nil
}

// PopOneTimePrekey returns a copy of b with its first one-time prekey
// removed, mirroring the FIFO draining fetchPrekeyBundle performs on the
// server. ok is false if none remained.
func (b Bundle) PopOneTimePrekey() (popped KeyRef, rest Bundle, ok bool) {
	if len(b.OneTimePrekeys) == 0 {
		return KeyRef{}, b, false
	}

	popped = b.OneTimePrekeys[0]
	rest = b
	rest.OneTimePrekeys = append([]KeyRef{}, b.OneTimePrekeys[1:]...)
	return popped, rest, true
}
