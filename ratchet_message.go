// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package xochimilco

import (
	"fmt"
	"strings"

	"github.com/covenant-e2e/xochimilco/doubleratchet"
)

// ratchetMsgSep separates a ratchet message's header serialization from its
// payload on the wire, per the reference envelope
// "<header-serialization>;<payload>".
const ratchetMsgSep = ";"

// encodeRatchetMessage combines a Double Ratchet header and ciphertext into
// the envelope carried inside a sessAck or sessData message.
func encodeRatchetMessage(header doubleratchet.Header, ciphertext string) ([]byte, error) {
	headerData, err := header.Marshal()
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(headerData)+len(ratchetMsgSep)+len(ciphertext))
	out = append(out, headerData...)
	out = append(out, ratchetMsgSep...)
	out = append(out, ciphertext...)
	return out, nil
}

// decodeRatchetMessage splits a ratchet message envelope back into its
// header and ciphertext.
func decodeRatchetMessage(data []byte) (header doubleratchet.Header, ciphertext string, err error) {
	headerData, ciphertextStr, found := strings.Cut(string(data), ratchetMsgSep)
	if !found {
		err = fmt.Errorf("ratchet message missing header separator")
		return
	}

	header, err = doubleratchet.ParseHeader([]byte(headerData))
	if err != nil {
		return
	}

	ciphertext = ciphertextStr
	return
}

// encodeRatchetMessageHE combines a header-encrypted ratchet's encrypted
// header and ciphertext into the same envelope shape as
// encodeRatchetMessage. Unlike the plain variant, the header half is
// already an opaque hex string, not a value to be marshalled.
func encodeRatchetMessageHE(encryptedHeader, ciphertext string) []byte {
	out := make([]byte, 0, len(encryptedHeader)+len(ratchetMsgSep)+len(ciphertext))
	out = append(out, encryptedHeader...)
	out = append(out, ratchetMsgSep...)
	out = append(out, ciphertext...)
	return out
}

// decodeRatchetMessageHE splits a header-encrypted ratchet message envelope
// back into its encrypted header and ciphertext.
func decodeRatchetMessageHE(data []byte) (encryptedHeader, ciphertext string, err error) {
	encryptedHeader, ciphertext, found := strings.Cut(string(data), ratchetMsgSep)
	if !found {
		err = fmt.Errorf("ratchet message missing header separator")
		return
	}

	return
}
