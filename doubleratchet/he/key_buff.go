// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// This file implements MKSKIPPED for the header-encrypted ratchet, where
// skipped message keys are cached by the header key active when each key
// was derived instead of by a DH public key, since the header key rather
// than the DH key is what's available to trial-decrypt against.

package he

import (
	"encoding/hex"
	"fmt"
)

// maxSkipChains bounds the number of distinct header-key epochs for which
// skipped message keys are retained.
const maxSkipChains = 8

// keyBuffer caches skipped message keys, keyed by the receiving header key
// active when each key was derived, and the key's position within that
// chain.
type keyBuffer struct {
	order   []string
	hkBytes map[string][]byte
	chains  map[string]map[int][]byte
}

// newKeyBuffer creates an empty keyBuffer.
func newKeyBuffer() *keyBuffer {
	return &keyBuffer{
		hkBytes: make(map[string][]byte),
		chains:  make(map[string]map[int][]byte),
	}
}

// insert caches a message key derived for position n within the chain
// belonging to header key hk.
func (kb *keyBuffer) insert(hk []byte, n int, mk []byte) {
	key := hex.EncodeToString(hk)

	chain, ok := kb.chains[key]
	if !ok {
		if len(kb.order) >= maxSkipChains {
			oldest := kb.order[0]
			kb.order = kb.order[1:]
			delete(kb.chains, oldest)
			delete(kb.hkBytes, oldest)
		}

		chain = make(map[int][]byte)
		kb.chains[key] = chain
		kb.hkBytes[key] = hk
		kb.order = append(kb.order, key)
	}

	chain[n] = mk
}

// find looks up a cached message key without removing it.
func (kb *keyBuffer) find(hk []byte, n int) (mk []byte, err error) {
	chain, ok := kb.chains[hex.EncodeToString(hk)]
	if !ok {
		return nil, fmt.Errorf("doubleratchet/he: no skipped keys for this header key")
	}

	mk, ok = chain[n]
	if !ok {
		return nil, fmt.Errorf("doubleratchet/he: no skipped key for message number %d", n)
	}

	return
}

// delete removes a cached message key. It is a no-op if absent.
func (kb *keyBuffer) delete(hk []byte, n int) {
	if chain, ok := kb.chains[hex.EncodeToString(hk)]; ok {
		delete(chain, n)
	}
}

// headerKeys returns every distinct header key currently holding skipped
// message keys, for the trial-decryption scan in RatchetDecrypt.
func (kb *keyBuffer) headerKeys() [][]byte {
	out := make([][]byte, 0, len(kb.order))
	for _, key := range kb.order {
		out = append(out, kb.hkBytes[key])
	}
	return out
}

// clone returns a deep copy, used to snapshot state before a RatchetDecrypt
// attempt that might need to be rolled back.
func (kb *keyBuffer) clone() *keyBuffer {
	cp := &keyBuffer{
		order:   append([]string{}, kb.order...),
		hkBytes: make(map[string][]byte, len(kb.hkBytes)),
		chains:  make(map[string]map[int][]byte, len(kb.chains)),
	}

	for k, hk := range kb.hkBytes {
		cp.hkBytes[k] = hk
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
