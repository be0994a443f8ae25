// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package he implements the header-encrypted variant of the Double Ratchet
// Algorithm: the message header itself travels encrypted under a header key
// rotated in step with the DH ratchet, so an eavesdropper cannot observe a
// session's ratchet public keys or message numbers. Detecting whether an
// inbound message belongs to the current or the next DH epoch requires a
// trial-decryption probe instead of a plaintext header comparison.
package he

import (
	"github.com/covenant-e2e/xochimilco/doubleratchet"
	"github.com/covenant-e2e/xochimilco/internal/ratchetcrypto"
)

// DoubleRatchetHE implements the header-encrypted Double Ratchet Algorithm
// state machine. It is created with InitInitiator or InitResponder from the
// shared secret and two shared header keys produced by a prior key
// agreement, and afterwards only RatchetEncrypt and RatchetDecrypt observe
// or mutate its state.
type DoubleRatchetHE struct {
	dhs dhPair
	dhr []byte

	rk  []byte
	cks []byte
	ckr []byte

	hks  []byte
	hkr  []byte
	nhks []byte
	nhkr []byte

	ns, nr, pn int

	skipped *keyBuffer
}

// InitInitiator creates a session for the party that starts the exchange
// already knowing the peer's current ratchet public key.
//
// sharedHKa and sharedNHKb are the two header keys both parties derive
// alongside the root secret during the key agreement that precedes ratchet
// initialization: sharedHKa is used as this party's first sending header
// key, sharedNHKb as the header key it expects to see once the peer
// advances to its own first DH epoch.
func InitInitiator(sk, selfPriv, selfPub, peerPub, sharedHKa, sharedNHKb []byte) (dr *DoubleRatchetHE, err error) {
	dhOut, err := ratchetcrypto.DH(selfPriv, peerPub)
	if err != nil {
		return nil, err
	}

	rk, cks, nhks, err := ratchetcrypto.KDFRootKeyHE(sk, dhOut)
	if err != nil {
		return nil, err
	}

	return &DoubleRatchetHE{
		dhs:     dhPair{priv: selfPriv, pub: selfPub},
		dhr:     peerPub,
		rk:      rk,
		cks:     cks,
		hks:     sharedHKa,
		nhks:    nhks,
		nhkr:    sharedNHKb,
		skipped: newKeyBuffer(),
	}, nil
}

// InitResponder creates a session for the party that learns the peer's
// ratchet public key only from the first received message.
//
// sharedHKa and sharedNHKb are the same two values the initiator derived;
// the responder has no sending header key yet, and treats sharedHKa as the
// next receiving header key it will use to detect the initiator's first DH
// epoch via trial decryption.
func InitResponder(sk, selfPriv, selfPub, sharedHKa, sharedNHKb []byte) (dr *DoubleRatchetHE, err error) {
	return &DoubleRatchetHE{
		dhs:     dhPair{priv: selfPriv, pub: selfPub},
		rk:      sk,
		nhks:    sharedNHKb,
		nhkr:    sharedHKa,
		skipped: newKeyBuffer(),
	}, nil
}

// RatchetEncrypt advances the sending chain by one position and encrypts
// plaintext for the peer, returning the encrypted header alongside the
// payload ciphertext. Both travel on the wire; unlike the plain ratchet,
// nothing about the header is visible without the receiving header key.
func (dr *DoubleRatchetHE) RatchetEncrypt(plaintext, ad []byte) (encryptedHeader string, ciphertext string, err error) {
	if dr.cks == nil {
		return "", "", ErrNotInitialized
	}

	var mk []byte
	dr.cks, mk, err = ratchetcrypto.ChainKDF(dr.cks)
	if err != nil {
		return "", "", err
	}

	header := doubleratchet.Header{DhPub: dr.dhs.pub, PN: dr.pn, N: dr.ns}
	dr.ns++

	headerData, err := header.Marshal()
	if err != nil {
		return "", "", err
	}

	encryptedHeader, err = ratchetcrypto.HeaderEncrypt(dr.hks, headerData)
	if err != nil {
		return "", "", err
	}

	ciphertext, err = ratchetcrypto.Encrypt(mk, plaintext, doubleratchet.Concat(ad, []byte(encryptedHeader)))
	if err != nil {
		return "", "", err
	}

	return encryptedHeader, ciphertext, nil
}

// RatchetDecrypt decrypts a message addressed to this session.
//
// Since the header is encrypted, the epoch it belongs to cannot be read
// directly. It is detected by trial decryption: first against every header
// key still holding skipped message keys, then against the current
// receiving header key (same epoch), then against the next receiving header
// key (a new DH epoch, triggering a ratchet step). If none succeed, the
// message is rejected with ErrHeaderDecryptFailure.
//
// On any failure the session's state is left exactly as it was before the
// call.
func (dr *DoubleRatchetHE) RatchetDecrypt(encryptedHeader, ciphertext string, ad []byte) (plaintext []byte, err error) {
	validHeader := func(data []byte) error {
		_, perr := doubleratchet.ParseHeader(data)
		return perr
	}

	for _, hk := range dr.skipped.headerKeys() {
		headerData, herr := ratchetcrypto.HeaderDecrypt(hk, encryptedHeader, validHeader)
		if herr != nil {
			continue
		}

		header, perr := doubleratchet.ParseHeader(headerData)
		if perr != nil {
			continue
		}

		mk, ferr := dr.skipped.find(hk, header.N)
		if ferr != nil {
			continue
		}

		plaintext, err = ratchetcrypto.Decrypt(mk, ciphertext, doubleratchet.Concat(ad, []byte(encryptedHeader)))
		if err != nil {
			return nil, err
		}

		dr.skipped.delete(hk, header.N)
		return plaintext, nil
	}

	snapshot := dr.snapshot()

	if headerData, herr := ratchetcrypto.HeaderDecrypt(dr.hkr, encryptedHeader, nil); herr == nil {
		plaintext, err = dr.decryptSameEpoch(headerData, encryptedHeader, ciphertext, ad)
		if err != nil {
			dr.restore(snapshot)
			return nil, err
		}
		return plaintext, nil
	}

	if headerData, herr := ratchetcrypto.HeaderDecrypt(dr.nhkr, encryptedHeader, validHeader); herr == nil {
		plaintext, err = dr.decryptNewEpoch(headerData, encryptedHeader, ciphertext, ad)
		if err != nil {
			dr.restore(snapshot)
			return nil, err
		}
		return plaintext, nil
	}

	return nil, ErrHeaderDecryptFailure
}

// decryptSameEpoch finishes RatchetDecrypt once the header was recovered
// under the current receiving header key.
func (dr *DoubleRatchetHE) decryptSameEpoch(headerData []byte, encryptedHeader, ciphertext string, ad []byte) ([]byte, error) {
	header, err := doubleratchet.ParseHeader(headerData)
	if err != nil {
		return nil, err
	}

	if err := dr.skipMessageKeys(header.N); err != nil {
		return nil, err
	}

	var mk []byte
	ckr, mk, err := ratchetcrypto.ChainKDF(dr.ckr)
	if err != nil {
		return nil, err
	}

	plaintext, err := ratchetcrypto.Decrypt(mk, ciphertext, doubleratchet.Concat(ad, []byte(encryptedHeader)))
	if err != nil {
		return nil, err
	}

	dr.ckr = ckr
	dr.nr++

	return plaintext, nil
}

// decryptNewEpoch finishes RatchetDecrypt once the header was recovered
// under the next receiving header key, meaning a DH ratchet step is due.
func (dr *DoubleRatchetHE) decryptNewEpoch(headerData []byte, encryptedHeader, ciphertext string, ad []byte) ([]byte, error) {
	header, err := doubleratchet.ParseHeader(headerData)
	if err != nil {
		return nil, err
	}

	if err := dr.skipMessageKeys(header.PN); err != nil {
		return nil, err
	}

	if err := dr.dhRatchetStep(header.DhPub); err != nil {
		return nil, err
	}

	if err := dr.skipMessageKeys(header.N); err != nil {
		return nil, err
	}

	var mk []byte
	ckr, mk, err := ratchetcrypto.ChainKDF(dr.ckr)
	if err != nil {
		return nil, err
	}

	plaintext, err := ratchetcrypto.Decrypt(mk, ciphertext, doubleratchet.Concat(ad, []byte(encryptedHeader)))
	if err != nil {
		return nil, err
	}

	dr.ckr = ckr
	dr.nr++

	return plaintext, nil
}

// skipMessageKeys derives and caches message keys, under the current
// receiving header key, for every position in the current receiving chain
// up to, but not including, until.
func (dr *DoubleRatchetHE) skipMessageKeys(until int) error {
	if dr.nr+doubleratchet.MaxSkip < until {
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

		dr.skipped.insert(dr.hkr, dr.nr, mk)
		dr.nr++
	}

	return nil
}

// dhRatchetStep rotates this session's sending key pair, root key, and
// header keys upon observing a new peer ratchet public key. The previously
// prepared next header keys become the current ones, and KDF_RK_HE derives
// fresh next header keys alongside the usual root/chain key output.
func (dr *DoubleRatchetHE) dhRatchetStep(remoteDhPub []byte) error {
	dr.pn = dr.ns
	dr.ns = 0
	dr.nr = 0
	dr.dhr = remoteDhPub

	recvSecret, sendSecret, err := dr.dhs.step(dr.dhr)
	if err != nil {
		return err
	}

	oldNhkr := dr.nhkr
	dr.rk, dr.ckr, dr.nhkr, err = ratchetcrypto.KDFRootKeyHE(dr.rk, recvSecret)
	if err != nil {
		return err
	}
	dr.hkr = oldNhkr

	oldNhks := dr.nhks
	dr.rk, dr.cks, dr.nhks, err = ratchetcrypto.KDFRootKeyHE(dr.rk, sendSecret)
	if err != nil {
		return err
	}
	dr.hks = oldNhks

	return nil
}

// snapshot captures the session's entire mutable state, to be restored by
// restore should an in-progress RatchetDecrypt fail partway through.
func (dr *DoubleRatchetHE) snapshot() *DoubleRatchetHE {
	cp := *dr
	cp.skipped = dr.skipped.clone()
	return &cp
}

// restore resets the session to a previously captured snapshot.
func (dr *DoubleRatchetHE) restore(cp *DoubleRatchetHE) {
	*dr = *cp
}
