// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// This file implements MKSKIPPED, the bounded cache of message keys derived
// ahead of time to tolerate lost or out-of-order messages.

package doubleratchet

import (
	"encoding/hex"
	"fmt"
)

// maxSkipChains bounds the number of previous DH ratchet epochs for which
// skipped message keys are retained. This is a compromise between a very
// lossy link and the possibility for an attacker to reserve lots of memory
// on the victim's machine by repeatedly forcing new DH ratchet steps.
const maxSkipChains = 8

// keyBuffer caches skipped message keys, keyed by the sender's DH ratchet
// public key active when each key was derived, and the key's position
// within that chain.
//
// Insertion evicts the oldest chain once more than maxSkipChains distinct DH
// public keys are present. A lookup is non-destructive; callers that decide
// to consume a skipped key must explicitly delete it afterwards, per the
// Double Ratchet Algorithm's one-shot usage invariant.
type keyBuffer struct {
	order  []string
	chains map[string]map[int][]byte
}

// newKeyBuffer creates an empty keyBuffer.
func newKeyBuffer() *keyBuffer {
	return &keyBuffer{chains: make(map[string]map[int][]byte)}
}

// insert caches a message key derived for position n within the chain
// belonging to dhPub.
func (kb *keyBuffer) insert(dhPub []byte, n int, mk []byte) {
	key := hex.EncodeToString(dhPub)

	chain, ok := kb.chains[key]
	if !ok {
		if len(kb.order) >= maxSkipChains {
			oldest := kb.order[0]
			kb.order = kb.order[1:]
			delete(kb.chains, oldest)
		}

		chain = make(map[int][]byte)
		kb.chains[key] = chain
		kb.order = append(kb.order, key)
	}

	chain[n] = mk
}

// find looks up a cached message key without removing it.
func (kb *keyBuffer) find(dhPub []byte, n int) (mk []byte, err error) {
	chain, ok := kb.chains[hex.EncodeToString(dhPub)]
	if !ok {
		return nil, fmt.Errorf("doubleratchet: no skipped keys for this DH public key")
	}

	mk, ok = chain[n]
	if !ok {
		return nil, fmt.Errorf("doubleratchet: no skipped key for message number %d", n)
	}

	return
}

// delete removes a cached message key. It is a no-op if absent.
func (kb *keyBuffer) delete(dhPub []byte, n int) {
	if chain, ok := kb.chains[hex.EncodeToString(dhPub)]; ok {
		delete(chain, n)
	}
}

// clone returns a deep copy, used to snapshot state before a RatchetDecrypt
// attempt that might need to be rolled back.
func (kb *keyBuffer) clone() *keyBuffer {
	cp := &keyBuffer{
		order:  append([]string{}, kb.order...),
		chains: make(map[string]map[int][]byte, len(kb.chains)),
	}

	for k, chain := range kb.chains {
		chainCopy := make(map[int][]byte, len(chain))
		for n, mk := range chain {
			chainCopy[n] = mk
		}
		cp.chains[k] = chainCopy
	}

	return cp
}
