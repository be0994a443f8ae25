// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package server implements a minimal in-memory prekey bulletin board: user
// identities register a prekey bundle, and others fetch it to bootstrap an
// X3DH handshake. It is plumbing over the cryptographic core, not part of
// it, and is kept thin on purpose.
package server

import (
	"fmt"
	"sync"

	"github.com/covenant-e2e/xochimilco/bundle"
)

// Board is an in-memory prekey bulletin board, safe for concurrent use by
// multiple clients.
type Board struct {
	mu      sync.RWMutex
	bundles map[string]bundle.Bundle
}

// NewBoard creates an empty Board.
func NewBoard() *Board {
	return &Board{bundles: make(map[string]bundle.Bundle)}
}

// Register publishes or replaces userID's prekey bundle. The bundle's
// signed-prekey signature is verified before it is stored; a bundle that
// does not verify is rejected rather than silently accepted.
func (b *Board) Register(userID string, bdl bundle.Bundle) error {
	ok, err := bdl.Verify()
	if err != nil {
		return fmt.Errorf("server: verifying bundle for %q: %w", userID, err)
	}
	if !ok {
		return fmt.Errorf("server: bundle for %q has an invalid signed-prekey signature", userID)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.bundles[userID] = bdl

	return nil
}

// FetchPrekeyBundle returns userID's bundle for a caller bootstrapping an
// X3DH handshake against them. Each call pops at most one one-time prekey
// from the stored bundle in first-in-first-out order and removes it from
// the board, so it is never handed out twice; once a user's one-time
// prekeys are exhausted, the returned bundle carries none.
func (b *Board) FetchPrekeyBundle(userID string) (bundle.Bundle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	stored, ok := b.bundles[userID]
	if !ok {
		return bundle.Bundle{}, fmt.Errorf("server: no bundle registered for %q", userID)
	}

	fetched := stored
	fetched.OneTimePrekeys = nil

	if popped, rest, ok := stored.PopOneTimePrekey(); ok {
		b.bundles[userID] = rest
		fetched = fetched.WithOneTimePrekeys(popped)
	}

	return fetched, nil
}

// Deregister removes userID's bundle from the board, if present.
func (b *Board) Deregister(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bundles, userID)
}
