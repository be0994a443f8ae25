// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package he

import (
	"errors"

	"github.com/covenant-e2e/xochimilco/doubleratchet"
)

// ErrNotInitialized is returned by RatchetEncrypt when no sending chain
// exists yet.
var ErrNotInitialized = doubleratchet.ErrNotInitialized

// ErrTooManySkipped is returned when a message would require skipping more
// than MaxSkip message keys in the current receiving chain.
var ErrTooManySkipped = doubleratchet.ErrTooManySkipped

// ErrAuthFailure is returned when a ciphertext fails AEAD tag verification.
var ErrAuthFailure = doubleratchet.ErrAuthFailure

// ErrInvalidKey is returned when a key argument has the wrong length.
var ErrInvalidKey = doubleratchet.ErrInvalidKey

// ErrHeaderDecryptFailure is returned by RatchetDecrypt when an encrypted
// header cannot be decrypted under the current receiving header key, the
// next receiving header key, or any cached skipped header key. Unlike the
// undecryptable-header signal used internally to probe a single epoch, this
// is the hard failure surfaced once every epoch has been tried.
var ErrHeaderDecryptFailure = errors.New("doubleratchet/he: header decryption failure")
