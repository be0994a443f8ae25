// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package doubleratchet

import (
	"crypto/subtle"

	"github.com/covenant-e2e/xochimilco/internal/ratchetcrypto"
)

// MaxSkip bounds the number of message keys a single skip within one
// receiving chain may derive ahead of the current receiving position; a
// RatchetDecrypt call that crosses into a new DH epoch skips in the old and
// in the new chain, each bounded separately. It protects a session
// against a sender who claims a message number far beyond what has actually
// been exchanged, which would otherwise force unbounded memory growth in
// MKSKIPPED.
const MaxSkip = 32

// DoubleRatchet implements the per-session Double Ratchet Algorithm state
// machine described by the Signal protocol. A session is created with
// InitInitiator or InitResponder from the shared secret produced by a prior
// key agreement, and afterwards only RatchetEncrypt and
// RatchetDecrypt observe or mutate its state.
type DoubleRatchet struct {
	dhs dhKeys
	dhr []byte

	rk  []byte
	cks []byte
	ckr []byte

	ns, nr, pn int

	skipped *keyBuffer
}

// InitInitiator creates a session for the party that starts the exchange
// already knowing the peer's current ratchet public key - the X3DH
// initiator, bootstrapped with the peer's signed prekey.
func InitInitiator(sk []byte, selfPriv, selfPub, peerPub []byte) (dr *DoubleRatchet, err error) {
	dhOut, err := ratchetcrypto.DH(selfPriv, peerPub)
	if err != nil {
		return nil, err
	}

	rk, cks, err := ratchetcrypto.KDFRootKey(sk, dhOut)
	if err != nil {
		return nil, err
	}

	return &DoubleRatchet{
		dhs:     dhKeys{priv: selfPriv, pub: selfPub},
		dhr:     peerPub,
		rk:      rk,
		cks:     cks,
		skipped: newKeyBuffer(),
	}, nil
}

// InitResponder creates a session for the party that learns the peer's
// ratchet public key only from the first received message - the X3DH
// responder.
func InitResponder(sk []byte, selfPriv, selfPub []byte) (dr *DoubleRatchet, err error) {
	return &DoubleRatchet{
		dhs:     dhKeys{priv: selfPriv, pub: selfPub},
		rk:      sk,
		skipped: newKeyBuffer(),
	}, nil
}

// RatchetEncrypt advances the sending chain by one position and encrypts
// plaintext for the peer, binding ad into the authentication tag together
// with the outgoing header.
//
// It fails with ErrNotInitialized if no message has been sent or received
// yet on the responder side of a session, i.e. before the first DH ratchet
// step has ever occurred.
func (dr *DoubleRatchet) RatchetEncrypt(plaintext, ad []byte) (header Header, ciphertext string, err error) {
	if dr.cks == nil {
		return Header{}, "", ErrNotInitialized
	}

	var mk []byte
	dr.cks, mk, err = ratchetcrypto.ChainKDF(dr.cks)
	if err != nil {
		return Header{}, "", err
	}

	header = Header{DhPub: dr.dhs.pub, PN: dr.pn, N: dr.ns}
	dr.ns++

	headerData, err := header.Marshal()
	if err != nil {
		return Header{}, "", err
	}

	ciphertext, err = ratchetcrypto.Encrypt(mk, plaintext, Concat(ad, headerData))
	if err != nil {
		return Header{}, "", err
	}

	return header, ciphertext, nil
}

// RatchetDecrypt decrypts a message addressed to this session, performing
// a DH ratchet step or advancing the skipped-key cache as needed.
//
// On any failure - an unauthentic ciphertext, a message number further
// ahead than MaxSkip permits, or a malformed header - the session's state
// is left exactly as it was before the call.
func (dr *DoubleRatchet) RatchetDecrypt(header Header, ciphertext string, ad []byte) (plaintext []byte, err error) {
	headerData, err := header.Marshal()
	if err != nil {
		return nil, err
	}

	if mk, findErr := dr.skipped.find(header.DhPub, header.N); findErr == nil {
		plaintext, err = ratchetcrypto.Decrypt(mk, ciphertext, Concat(ad, headerData))
		if err != nil {
			return nil, err
		}

		dr.skipped.delete(header.DhPub, header.N)
		return plaintext, nil
	}

	snapshot := dr.snapshot()

	if len(header.DhPub) != len(dr.dhr) || subtle.ConstantTimeCompare(header.DhPub, dr.dhr) != 1 {
		if err = dr.skipMessageKeys(header.PN); err != nil {
			dr.restore(snapshot)
			return nil, err
		}

		if err = dr.dhRatchetStep(header.DhPub); err != nil {
			dr.restore(snapshot)
			return nil, err
		}
	}

	if err = dr.skipMessageKeys(header.N); err != nil {
		dr.restore(snapshot)
		return nil, err
	}

	var mk []byte
	ckr, mk, err := ratchetcrypto.ChainKDF(dr.ckr)
	if err != nil {
		dr.restore(snapshot)
		return nil, err
	}

	plaintext, err = ratchetcrypto.Decrypt(mk, ciphertext, Concat(ad, headerData))
	if err != nil {
		dr.restore(snapshot)
		return nil, err
	}

	dr.ckr = ckr
	dr.nr++

	return plaintext, nil
}

// skipMessageKeys derives and caches message keys for every position in the
// current receiving chain up to, but not including, until.
//
// The Double Ratchet Algorithm specification names this function
// SkipMessageKeys.
func (dr *DoubleRatchet) skipMessageKeys(until int) error {
	if dr.nr+MaxSkip < until {
		return ErrTooManySkipped
	}

	if dr.ckr == nil {
		return nil
	}

	for dr.nr < until {
		var mk []byte
		var err error

		dr.ckr, mk, err = ratchetcrypto.ChainKDF(dr.ckr)
		if err != nil {
			return err
		}

		dr.skipped.insert(dr.dhr, dr.nr, mk)
		dr.nr++
	}

	return nil
}

// dhRatchetStep rotates this session's sending key pair and root key upon
// observing a new peer ratchet public key.
//
// The Double Ratchet Algorithm specification names this function
// DHRatchet.
func (dr *DoubleRatchet) dhRatchetStep(remoteDhPub []byte) error {
	dr.pn = dr.ns
	dr.ns = 0
	dr.nr = 0
	dr.dhr = remoteDhPub

	recvSecret, sendSecret, err := dr.dhs.step(dr.dhr)
	if err != nil {
		return err
	}

	dr.rk, dr.ckr, err = ratchetcrypto.KDFRootKey(dr.rk, recvSecret)
	if err != nil {
		return err
	}

	dr.rk, dr.cks, err = ratchetcrypto.KDFRootKey(dr.rk, sendSecret)
	if err != nil {
		return err
	}

	return nil
}

// snapshot captures the session's entire mutable state, to be restored by
// restore should an in-progress RatchetDecrypt fail partway through.
func (dr *DoubleRatchet) snapshot() *DoubleRatchet {
	cp := *dr
	cp.skipped = dr.skipped.clone()
	return &cp
}

// restore resets the session to a previously captured snapshot.
func (dr *DoubleRatchet) restore(cp *DoubleRatchet) {
	*dr = *cp
}
