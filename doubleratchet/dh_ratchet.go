// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package doubleratchet

import "github.com/covenant-e2e/xochimilco/internal/ratchetcrypto"

// dhKeys bundles a Diffie-Hellman ratchet key pair.
type dhKeys struct {
	priv []byte
	pub  []byte
}

// generateDHKeys creates a fresh dhKeys.
func generateDHKeys() (k dhKeys, err error) {
	k.priv, k.pub, err = ratchetcrypto.GenerateDH()
	return
}

// step performs one Diffie-Hellman ratchet step against a newly observed
// peer public key.
//
// It first closes out the previous epoch by computing the shared secret
// between the current key pair and the new peer key - this becomes the
// receiving secret. It then generates a fresh key pair for this party and
// computes the shared secret for the new sending epoch.
func (k *dhKeys) step(peerPub []byte) (recvSecret, sendSecret []byte, err error) {
	recvSecret, err = ratchetcrypto.DH(k.priv, peerPub)
	if err != nil {
		return nil, nil, err
	}

	*k, err = generateDHKeys()
	if err != nil {
		return nil, nil, err
	}

	sendSecret, err = ratchetcrypto.DH(k.priv, peerPub)
	if err != nil {
		return nil, nil, err
	}

	return recvSecret, sendSecret, nil
}
