// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package server

import (
	"encoding/hex"
	"testing"

	"github.com/covenant-e2e/xochimilco/bundle"
	"github.com/covenant-e2e/xochimilco/x3dh"
)

func testBundleFor(t *testing.T, otpCount int) bundle.Bundle {
	t.Helper()

	idPriv, idPub, err := x3dh.GenerateIdentityKeyPair()
	if err != nil {
		t.Fatal(err)
	}

	spkPub, _, spkSig, err := x3dh.CreateNewSpk(idPriv)
	if err != nil {
		t.Fatal(err)
	}

	b := bundle.New(0, idPub, 0, spkPub, spkSig, 0)

	otps := make([]bundle.KeyRef, 0, otpCount)
	for i := 0; i < otpCount; i++ {
		opkPub, _, err := x3dh.CreateNewOpk()
		if err != nil {
			t.Fatal(err)
		}
		otps = append(otps, bundle.KeyRef{ID: i, PkHex: hex.EncodeToString(opkPub)})
	}

	return b.WithOneTimePrekeys(otps...)
}

func TestBoardRegisterAndFetch(t *testing.T) {
	board := NewBoard()
	b := testBundleFor(t, 2)

	if err := board.Register("alice", b); err != nil {
		t.Fatal(err)
	}

	fetched, err := board.FetchPrekeyBundle("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(fetched.OneTimePrekeys) != 1 {
		t.Fatalf("expected exactly one one-time prekey in a fetched bundle, got %d", len(fetched.OneTimePrekeys))
	}
	if fetched.OneTimePrekeys[0] != b.OneTimePrekeys[0] {
		t.Fatal("expected the first registered one-time prekey to be handed out first")
	}
}

func TestBoardDrainsOneTimePrekeysFIFO(t *testing.T) {
	board := NewBoard()
	b := testBundleFor(t, 3)

	if err := board.Register("alice", b); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		fetched, err := board.FetchPrekeyBundle("alice")
		if err != nil {
			t.Fatal(err)
		}
		if len(fetched.OneTimePrekeys) != 1 {
			t.Fatalf("fetch %d: expected one one-time prekey, got %d", i, len(fetched.OneTimePrekeys))
		}
		if fetched.OneTimePrekeys[0] != b.OneTimePrekeys[i] {
			t.Fatalf("fetch %d: one-time prekeys were not drained in FIFO order", i)
		}
	}

	// All one-time prekeys are exhausted now; the bundle is still served,
	// just without any one-time prekey attached.
	for i := 0; i < 10; i++ {
		fetched, err := board.FetchPrekeyBundle("alice")
		if err != nil {
			t.Fatal(err)
		}
		if len(fetched.OneTimePrekeys) != 0 {
			t.Fatalf("fetch %d: expected no one-time prekeys left, got %d", i, len(fetched.OneTimePrekeys))
		}
		if fetched.Prekey != b.Prekey {
			t.Fatal("the signed prekey must still be served after one-time prekeys run out")
		}
	}
}

func TestBoardFetchUnknownUser(t *testing.T) {
	board := NewBoard()

	if _, err := board.FetchPrekeyBundle("ghost"); err == nil {
		t.Fatal("expected an error when fetching a bundle for an unregistered user")
	}
}

func TestBoardRejectsInvalidSignature(t *testing.T) {
	board := NewBoard()
	b := testBundleFor(t, 0)
	b.Signature[0] ^= 0xff

	if err := board.Register("alice", b); err == nil {
		t.Fatal("expected registration to fail for a bundle with an invalid signature")
	}

	if _, err := board.FetchPrekeyBundle("alice"); err == nil {
		t.Fatal("a rejected registration must not be retrievable")
	}
}

func TestBoardDeregister(t *testing.T) {
	board := NewBoard()
	b := testBundleFor(t, 1)

	if err := board.Register("alice", b); err != nil {
		t.Fatal(err)
	}
	board.Deregister("alice")

	if _, err := board.FetchPrekeyBundle("alice"); err == nil {
		t.Fatal("expected fetching a deregistered user's bundle to fail")
	}
}
