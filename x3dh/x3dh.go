// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package x3dh implements the Extended Triple Diffie-Hellman key agreement
// handshake: the asynchronous bootstrap that lets two parties derive a
// shared secret and associated data for a fresh Double Ratchet session
// without either party needing to be online at the same time.
//
// Identity and prekeys are native X25519 key pairs throughout; signed
// prekeys are authenticated with XEdDSA rather than by converting an
// Ed25519 identity key, per the XEdDSA signing scheme this module builds
// on.
package x3dh

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/covenant-e2e/xochimilco/doubleratchet"
	"github.com/covenant-e2e/xochimilco/internal/xeddsa"
)

const (
	skInfo = "My super secret app"

	// headerKeyInfo derives the two header keys the header-encrypted Double
	// Ratchet needs on top of SK. Both parties compute them independently
	// from the same SK, the same way they already independently arrive at
	// identical root keys and associated data.
	headerKeyInfo = "app-specific-header-encryption-init"

	// curveIDX25519 is the curve-id prefix used by Encode when building the
	// associated data exchanged as part of the handshake.
	curveIDX25519 = 0x00
)

// skDomainSeparator is F, 32 bytes of 0xFF prepended to the Diffie-Hellman
// outputs before hashing, so that an attacker who somehow obtained an
// XEdDSA signature's intermediate values could never confuse them for an
// X3DH shared secret computation.
var skDomainSeparator = make([]byte, 32)

func init() {
	for i := range skDomainSeparator {
		skDomainSeparator[i] = 0xFF
	}
}

// GenerateIdentityKeyPair creates a fresh long-term X25519 identity key
// pair. The same key pair is used both for X3DH Diffie-Hellman and, via
// XEdDSA, for signing this user's signed prekey.
func GenerateIdentityKeyPair() (priv, pub []byte, err error) {
	return generateX25519()
}

// PublicKey derives the X25519 public key for a private identity, signed
// prekey, one-time prekey, or ephemeral key. Callers that only persist a
// private scalar use this to recover its public half on demand.
func PublicKey(priv []byte) ([]byte, error) {
	return curve25519.X25519(priv, curve25519.Basepoint)
}

// CreateNewSpk generates a fresh signed prekey and signs its public key
// under the owner's identity key using XEdDSA.
func CreateNewSpk(idPriv []byte) (spkPub, spkPriv, spkSig []byte, err error) {
	spkPriv, spkPub, err = generateX25519()
	if err != nil {
		return nil, nil, nil, err
	}

	z := make([]byte, xeddsa.NonceSize)
	if _, err = io.ReadFull(rand.Reader, z); err != nil {
		return nil, nil, nil, err
	}

	spkSig, err = xeddsa.Sign(idPriv, spkPub, z)
	if err != nil {
		return nil, nil, nil, err
	}

	return spkPub, spkPriv, spkSig, nil
}

// CreateNewOpk generates a fresh one-time prekey. Unlike the signed
// prekey, one-time prekeys are not individually signed - their authenticity
// is anchored by the bundle's signed prekey signature, and each is deleted
// upon first use.
func CreateNewOpk() (opkPub, opkPriv []byte, err error) {
	opkPriv, opkPub, err = generateX25519()
	return
}

// CreateInitialMessage runs the initiator's side of the handshake: it
// verifies the responder's signed prekey, generates a fresh ephemeral key,
// and derives the shared secret and associated data for a new Double
// Ratchet session. opkPub may be nil if the responder's bundle had no
// one-time prekey remaining.
func CreateInitialMessage(idPriv, peerIdPub, spkPub, spkSig, opkPub []byte) (sk, ad, ekPub []byte, err error) {
	if !xeddsa.Verify(peerIdPub, spkPub, spkSig) {
		return nil, nil, nil, fmt.Errorf("%w: signed prekey signature invalid", doubleratchet.ErrHandshakeFailure)
	}

	ekPriv, ekPub, err := generateX25519()
	if err != nil {
		return nil, nil, nil, err
	}

	idPub, err := curve25519.X25519(idPriv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, nil, err
	}

	dhs, err := initiatorDHs(idPriv, peerIdPub, ekPriv, spkPub, opkPub)
	if err != nil {
		return nil, nil, nil, err
	}

	sk, err = deriveSK(dhs)
	if err != nil {
		return nil, nil, nil, err
	}

	ad = append(encode(idPub), encode(peerIdPub)...)

	return sk, ad, ekPub, nil
}

// ReceiveInitialMessage runs the responder's side of the handshake,
// mirroring the initiator's Diffie-Hellman computations from its own
// private keys to arrive at the same shared secret and associated data.
// opkPriv must be the private half of whichever one-time prekey the
// initiator's bundle fetch consumed, or nil if none was used; the caller is
// responsible for deleting it from storage on success.
func ReceiveInitialMessage(idPriv, peerIdPub, spkPriv, opkPriv, ekPub []byte) (sk, ad []byte, err error) {
	idPub, err := curve25519.X25519(idPriv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}

	dhs, err := responderDHs(idPriv, peerIdPub, spkPriv, opkPriv, ekPub)
	if err != nil {
		return nil, nil, err
	}

	sk, err = deriveSK(dhs)
	if err != nil {
		return nil, nil, err
	}

	ad = append(encode(peerIdPub), encode(idPub)...)

	return sk, ad, nil
}

// initiatorDHs computes DH1..DH4 from the initiator's point of view:
// DH1 = DH(IK_A, SPK_B), DH2 = DH(EK_A, IK_B), DH3 = DH(EK_A, SPK_B),
// DH4 = DH(EK_A, OPK_B) if a one-time prekey was present.
func initiatorDHs(idPriv, peerIdPub, ekPriv, spkPub, opkPub []byte) ([][]byte, error) {
	dh1, err := curve25519.X25519(idPriv, spkPub)
	if err != nil {
		return nil, err
	}

	dh2, err := curve25519.X25519(ekPriv, peerIdPub)
	if err != nil {
		return nil, err
	}

	dh3, err := curve25519.X25519(ekPriv, spkPub)
	if err != nil {
		return nil, err
	}

	dhs := [][]byte{dh1, dh2, dh3}

	if opkPub != nil {
		dh4, err := curve25519.X25519(ekPriv, opkPub)
		if err != nil {
			return nil, err
		}
		dhs = append(dhs, dh4)
	}

	return dhs, nil
}

// responderDHs computes the same DH1..DH4 values as initiatorDHs, but from
// the responder's point of view: the pairing of each Diffie-Hellman
// computation is swapped so that both sides land on identical outputs.
// DH1 = DH(SPK_B, IK_A), DH2 = DH(IK_B, EK_A), DH3 = DH(SPK_B, EK_A),
// DH4 = DH(OPK_B, EK_A) if a one-time prekey was used.
func responderDHs(idPriv, peerIdPub, spkPriv, opkPriv, ekPub []byte) ([][]byte, error) {
	dh1, err := curve25519.X25519(spkPriv, peerIdPub)
	if err != nil {
		return nil, err
	}

	dh2, err := curve25519.X25519(idPriv, ekPub)
	if err != nil {
		return nil, err
	}

	dh3, err := curve25519.X25519(spkPriv, ekPub)
	if err != nil {
		return nil, err
	}

	dhs := [][]byte{dh1, dh2, dh3}

	if opkPriv != nil {
		dh4, err := curve25519.X25519(opkPriv, ekPub)
		if err != nil {
			return nil, err
		}
		dhs = append(dhs, dh4)
	}

	return dhs, nil
}

// deriveSK computes SK = HKDF-SHA512(F || DH1 || ... || DHk, salt, info),
// truncated to 32 bytes.
func deriveSK(dhs [][]byte) ([]byte, error) {
	ikm := append([]byte{}, skDomainSeparator...)
	for _, dhOut := range dhs {
		ikm = append(ikm, dhOut...)
	}

	r := hkdf.New(sha512.New, ikm, make([]byte, 32), []byte(skInfo))
	sk := make([]byte, 32)
	if _, err := io.ReadFull(r, sk); err != nil {
		return nil, err
	}

	return sk, nil
}

// DeriveHeaderKeys derives the two initial header keys the header-encrypted
// Double Ratchet requires alongside SK: sharedHKa becomes the initiator's
// first sending header key, sharedNHKb the header key the initiator expects
// to see once the responder advances to its own first DH epoch. Both
// parties call this with the same sk produced by CreateInitialMessage or
// ReceiveInitialMessage and arrive at identical values without further
// communication.
func DeriveHeaderKeys(sk []byte) (sharedHKa, sharedNHKb []byte, err error) {
	r := hkdf.New(sha512.New, sk, make([]byte, 32), []byte(headerKeyInfo))
	out := make([]byte, 64)
	if _, err = io.ReadFull(r, out); err != nil {
		return nil, nil, err
	}

	return out[:32], out[32:], nil
}

// encode prefixes a public key with its curve-id byte, for use in the
// handshake's associated data.
func encode(pk []byte) []byte {
	return append([]byte{curveIDX25519}, pk...)
}

// generateX25519 creates a fresh X25519 key pair.
func generateX25519() (priv, pub []byte, err error) {
	priv = make([]byte, curve25519.ScalarSize)
	if _, err = io.ReadFull(rand.Reader, priv); err != nil {
		return nil, nil, err
	}

	pub, err = curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, nil, err
	}

	return priv, pub, nil
}
