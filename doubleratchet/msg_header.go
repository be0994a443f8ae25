// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// This file implements the unencrypted Double Ratchet message header,
// including both marshalling and parsing. The wire encoding is a canonical,
// injective key-value form, with the keys always appearing in the order dh,
// pn, n.

package doubleratchet

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Header represents an unencrypted Double Ratchet message header.
//
// A header contains the sender's current DH ratchet public key, the previous
// chain length (PN), and this message's position within the current sending
// chain (N). The Double Ratchet Algorithm specification names this HEADER.
type Header struct {
	DhPub []byte
	PN    int
	N     int
}

// wireHeader is the canonical on-the-wire shape of a Header. Declaring the
// fields in this order guarantees encoding/json emits dh, pn, n in that
// order, as required by the wire format.
type wireHeader struct {
	DH string `json:"dh"`
	PN int    `json:"pn"`
	N  int    `json:"n"`
}

// Marshal encodes this header into its canonical wire form.
func (h Header) Marshal() ([]byte, error) {
	if h.PN < 0 || h.N < 0 {
		return nil, fmt.Errorf("%w: header numbers MUST be non-negative", ErrInvalidKey)
	}

	return json.Marshal(wireHeader{
		DH: hex.EncodeToString(h.DhPub),
		PN: h.PN,
		N:  h.N,
	})
}

// ParseHeader recreates a Header from its canonical wire form.
func ParseHeader(data []byte) (h Header, err error) {
	var w wireHeader
	if err = json.Unmarshal(data, &w); err != nil {
		return
	}

	dhPub, err := hex.DecodeString(w.DH)
	if err != nil {
		return
	}

	h = Header{DhPub: dhPub, PN: w.PN, N: w.N}
	return
}

// Concat deterministically encodes an associated data value together with a
// header's canonical wire form, for use as AEAD associated data.
//
// The associated data is prefixed with its own length so that the resulting
// byte string is unambiguously parseable: no two distinct (ad, header) pairs
// can produce the same encoding.
//
// The Double Ratchet Algorithm specification names this function CONCAT.
func Concat(ad []byte, headerData []byte) []byte {
	out := make([]byte, 8, 8+len(ad)+len(headerData))
	binary.BigEndian.PutUint64(out, uint64(len(ad)))
	out = append(out, ad...)
	out = append(out, headerData...)
	return out
}
