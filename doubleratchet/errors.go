// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package doubleratchet

import (
	"errors"

	"github.com/covenant-e2e/xochimilco/internal/ratchetcrypto"
)

// ErrNotInitialized is returned by RatchetEncrypt when no sending chain
// exists yet. This happens for the passive/responding party before it has
// received a first message to ratchet against.
var ErrNotInitialized = errors.New("doubleratchet: sending chain not initialized")

// ErrTooManySkipped is returned when a message would require skipping more
// than MaxSkip message keys in the current receiving chain.
var ErrTooManySkipped = errors.New("doubleratchet: too many skipped messages")

// ErrAuthFailure is returned when a ciphertext fails AEAD tag verification.
var ErrAuthFailure = ratchetcrypto.ErrAuthFailure

// ErrInvalidKey is returned when a key argument has the wrong length. This
// indicates a programmer error and is not a recoverable protocol condition.
var ErrInvalidKey = ratchetcrypto.ErrInvalidKey

// ErrHandshakeFailure is wrapped by the x3dh package when a handshake must
// be aborted, e.g. because the signed prekey's signature does not verify.
var ErrHandshakeFailure = errors.New("doubleratchet: handshake failure")

// ErrUndecryptable is returned by HeaderDecrypt when a header cannot be
// decrypted under the supplied header key. This is an expected, non-fatal
// outcome: callers use it to try the other header-key epoch rather than as a
// hard authentication failure.
var ErrUndecryptable = ratchetcrypto.ErrUndecryptable
