// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package x3dh

import (
	"bytes"
	"testing"

	"github.com/covenant-e2e/xochimilco/doubleratchet"
)

func TestX3dh(t *testing.T) {
	aliceIdPriv, aliceIdPub, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	bobIdPriv, bobIdPub, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	// Bob creates and publishes a signed prekey.
	spkPub, spkPriv, spkSig, err := CreateNewSpk(bobIdPriv)
	if err != nil {
		t.Fatal(err)
	}

	// Alice fetches (bobIdPub, spkPub, spkSig) from a key server and
	// bootstraps the handshake.
	aliceSk, aliceAd, ekPub, err := CreateInitialMessage(aliceIdPriv, bobIdPub, spkPub, spkSig, nil)
	if err != nil {
		t.Fatal(err)
	}

	// Bob receives Alice's first contact and mirrors the computation.
	bobSk, bobAd, err := ReceiveInitialMessage(bobIdPriv, aliceIdPub, spkPriv, nil, ekPub)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(aliceSk, bobSk) {
		t.Errorf("secret keys differ, %x %x", aliceSk, bobSk)
	}
	if !bytes.Equal(aliceAd, bobAd) {
		t.Errorf("associated data differ, %x %x", aliceAd, bobAd)
	}
}

func TestX3dhWithOneTimePrekey(t *testing.T) {
	aliceIdPriv, aliceIdPub, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	bobIdPriv, bobIdPub, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	spkPub, spkPriv, spkSig, err := CreateNewSpk(bobIdPriv)
	if err != nil {
		t.Fatal(err)
	}

	opkPub, opkPriv, err := CreateNewOpk()
	if err != nil {
		t.Fatal(err)
	}

	aliceSk, aliceAd, ekPub, err := CreateInitialMessage(aliceIdPriv, bobIdPub, spkPub, spkSig, opkPub)
	if err != nil {
		t.Fatal(err)
	}

	bobSk, bobAd, err := ReceiveInitialMessage(bobIdPriv, aliceIdPub, spkPriv, opkPriv, ekPub)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(aliceSk, bobSk) {
		t.Errorf("secret keys differ, %x %x", aliceSk, bobSk)
	}
	if !bytes.Equal(aliceAd, bobAd) {
		t.Errorf("associated data differ, %x %x", aliceAd, bobAd)
	}
}

func TestX3dhRejectsBadSignature(t *testing.T) {
	aliceIdPriv, _, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	bobIdPriv, bobIdPub, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	spkPub, _, spkSig, err := CreateNewSpk(bobIdPriv)
	if err != nil {
		t.Fatal(err)
	}

	tamperedSpkPub := append([]byte{}, spkPub...)
	tamperedSpkPub[0] ^= 0xff

	if _, _, _, err := CreateInitialMessage(aliceIdPriv, bobIdPub, tamperedSpkPub, spkSig, nil); err == nil {
		t.Fatal("expected the handshake to abort on an invalid signature")
	}
}

func TestX3dhFeedsDoubleRatchet(t *testing.T) {
	aliceIdPriv, aliceIdPub, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	bobIdPriv, bobIdPub, err := GenerateIdentityKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	spkPub, spkPriv, spkSig, err := CreateNewSpk(bobIdPriv)
	if err != nil {
		t.Fatal(err)
	}

	aliceSk, aliceAd, ekPub, err := CreateInitialMessage(aliceIdPriv, bobIdPub, spkPub, spkSig, nil)
	if err != nil {
		t.Fatal(err)
	}

	bobSk, bobAd, err := ReceiveInitialMessage(bobIdPriv, aliceIdPub, spkPriv, nil, ekPub)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(aliceSk, bobSk) {
		t.Fatal("the resulting shared secret must be usable to initialize a matching ratchet pair on both sides")
	}

	alice, err := doubleratchet.InitInitiator(aliceSk, aliceIdPriv, aliceIdPub, bobIdPub)
	if err != nil {
		t.Fatal(err)
	}
	bob, err := doubleratchet.InitResponder(bobSk, bobIdPriv, bobIdPub)
	if err != nil {
		t.Fatal(err)
	}

	msgIn := []byte("message encrypted with SK and AD")
	header, ciphertext, err := alice.RatchetEncrypt(msgIn, aliceAd)
	if err != nil {
		t.Fatal(err)
	}
	msgOut, err := bob.RatchetDecrypt(header, ciphertext, bobAd)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(msgIn, msgOut) {
		t.Fatalf("plaintext differ, %q %q", msgIn, msgOut)
	}
}

func TestDeriveHeaderKeys(t *testing.T) {
	sk := make([]byte, 32)
	for i := range sk {
		sk[i] = byte(i)
	}

	hka1, nhkb1, err := DeriveHeaderKeys(sk)
	if err != nil {
		t.Fatal(err)
	}

	hka2, nhkb2, err := DeriveHeaderKeys(sk)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(hka1, hka2) || !bytes.Equal(nhkb1, nhkb2) {
		t.Fatal("DeriveHeaderKeys must be deterministic given the same sk")
	}
	if bytes.Equal(hka1, nhkb1) {
		t.Fatal("the two header keys must differ")
	}
	if len(hka1) != 32 || len(nhkb1) != 32 {
		t.Fatalf("expected 32-byte header keys, got %d and %d", len(hka1), len(nhkb1))
	}
}
