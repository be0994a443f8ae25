// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bundle

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"golang.org/x/crypto/curve25519"

	"github.com/covenant-e2e/xochimilco/internal/xeddsa"
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

func signedTestBundle(t *testing.T) Bundle {
	t.Helper()

	idPriv, idPub := generateX25519KeyPair(t)
	_, prekeyPub := generateX25519KeyPair(t)

	z := make([]byte, xeddsa.NonceSize)
	if _, err := io.ReadFull(rand.Reader, z); err != nil {
		t.Fatal(err)
	}

	sig, err := xeddsa.Sign(idPriv, prekeyPub, z)
	if err != nil {
		t.Fatal(err)
	}

	b := New(1, idPub, 1, prekeyPub, sig, 1700000000)
	return b.WithOneTimePrekeys(KeyRef{ID: 1, PkHex: "aa"}, KeyRef{ID: 2, PkHex: "bb"})
}

func TestBundleVerify(t *testing.T) {
	b := signedTestBundle(t)

	ok, err := b.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a freshly signed bundle to verify")
	}
}

func TestBundleVerifyRejectsTamperedPrekey(t *testing.T) {
	b := signedTestBundle(t)

	tampered := make([]byte, len(b.Prekey.PkHex))
	copy(tampered, b.Prekey.PkHex)
	if tampered[0] == 'a' {
		tampered[0] = 'b'
	} else {
		tampered[0] = 'a'
	}
	b.Prekey.PkHex = string(tampered)

	ok, err := b.Verify()
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected a tampered prekey to fail verification")
	}
}

func TestBundleMarshalRoundTrip(t *testing.T) {
	b := signedTestBundle(t)

	data, err := b.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}

	if got.IdentityKey != b.IdentityKey {
		t.Fatalf("identity key mismatch: %+v != %+v", got.IdentityKey, b.IdentityKey)
	}
	if got.Prekey != b.Prekey {
		t.Fatalf("prekey mismatch: %+v != %+v", got.Prekey, b.Prekey)
	}
	if !bytes.Equal(got.Signature, b.Signature) {
		t.Fatalf("signature mismatch: %x != %x", got.Signature, b.Signature)
	}
	if got.CreatedAt != b.CreatedAt {
		t.Fatalf("createdAt mismatch: %d != %d", got.CreatedAt, b.CreatedAt)
	}
	if len(got.OneTimePrekeys) != len(b.OneTimePrekeys) {
		t.Fatalf("one-time prekey count mismatch: %d != %d", len(got.OneTimePrekeys), len(b.OneTimePrekeys))
	}
}

func TestBundleMarshalOmitsEmptyOneTimePrekeys(t *testing.T) {
	b := signedTestBundle(t)
	b.OneTimePrekeys = nil

	data, err := b.Marshal()
	if err != nil {
		t.Fatal(err)
	}

	if bytes.Contains(data, []byte("oneTimePrekeys")) {
		t.Fatal("expected an exhausted one-time prekey list to be omitted from the wire form")
	}
}

func TestBundlePopOneTimePrekeyFIFO(t *testing.T) {
	b := signedTestBundle(t)

	first, rest, ok := b.PopOneTimePrekey()
	if !ok {
		t.Fatal("expected a one-time prekey to be available")
	}
	if first.ID != 1 {
		t.Fatalf("expected FIFO order, got id %d first", first.ID)
	}

	second, rest, ok := rest.PopOneTimePrekey()
	if !ok {
		t.Fatal("expected a second one-time prekey to be available")
	}
	if second.ID != 2 {
		t.Fatalf("expected FIFO order, got id %d second", second.ID)
	}

	if _, _, ok := rest.PopOneTimePrekey(); ok {
		t.Fatal("expected the one-time prekey list to be exhausted")
	}
}
