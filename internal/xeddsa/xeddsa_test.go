// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package xeddsa

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"golang.org/x/crypto/curve25519"
)

func generateX25519KeyPair(t *testing.T) (priv, pub []byte) {
	t.Helper()

	priv = make([]byte, curve25519.ScalarSize)
	if _, err := io.ReadFull(rand.Reader, priv); err != nil {
		t.Fatal(err)
	}

	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		t.Fatal(err)
	}

	return priv, pub
}

func TestSelfConsistency(t *testing.T) {
	priv, pub := generateX25519KeyPair(t)

	fromPriv, err := CalculatePublicKey(priv)
	if err != nil {
		t.Fatal(err)
	}

	_, fromPub, err := montgomeryToEdwardsPoint(pub)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(fromPriv, fromPub) {
		t.Fatalf("verification key derived from the private key (%x) differs from the one derived from the public key (%x)", fromPriv, fromPub)
	}

	if fromPriv[31]&0x80 != 0 {
		t.Fatal("verification key's sign bit must be zero")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, pub := generateX25519KeyPair(t)
	message := []byte("a message to be signed")

	for i := 0; i < 8; i++ {
		z := make([]byte, NonceSize)
		if _, err := io.ReadFull(rand.Reader, z); err != nil {
			t.Fatal(err)
		}

		sig, err := Sign(priv, message, z)
		if err != nil {
			t.Fatal(err)
		}

		if !Verify(pub, message, sig) {
			t.Fatalf("signature failed to verify on iteration %d", i)
		}
	}
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	priv, pub := generateX25519KeyPair(t)

	z := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, z); err != nil {
		t.Fatal(err)
	}

	sig, err := Sign(priv, []byte("original"), z)
	if err != nil {
		t.Fatal(err)
	}

	if Verify(pub, []byte("tampered"), sig) {
		t.Fatal("signature verified over a different message")
	}
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	priv, _ := generateX25519KeyPair(t)
	_, otherPub := generateX25519KeyPair(t)

	z := make([]byte, NonceSize)
	if _, err := io.ReadFull(rand.Reader, z); err != nil {
		t.Fatal(err)
	}

	message := []byte("a message to be signed")
	sig, err := Sign(priv, message, z)
	if err != nil {
		t.Fatal(err)
	}

	if Verify(otherPub, message, sig) {
		t.Fatal("signature verified under the wrong public key")
	}
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	_, pub := generateX25519KeyPair(t)

	if Verify(pub, []byte("msg"), make([]byte, 63)) {
		t.Fatal("accepted a signature of the wrong length")
	}

	oversizedS := make([]byte, SignatureSize)
	oversizedS[63] = 0xFF
	if Verify(pub, []byte("msg"), oversizedS) {
		t.Fatal("accepted a signature with s >= 2^253")
	}
}
