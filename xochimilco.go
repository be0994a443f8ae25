// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package xochimilco provides an usable API for end-to-end encrypted
// communication based on the "Signal Protocol".
//
// The "Signal Protocol" refers to the Extended Triple Diffie-Hellman (X3DH) key
// agreement protocol paired with the Double Ratchet algorithm. Both are
// implemented and exposed in this repository's subdirectories. For
// implementation details please refer there.
package xochimilco
