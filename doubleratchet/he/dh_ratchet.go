// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package he

import "github.com/covenant-e2e/xochimilco/internal/ratchetcrypto"

// dhPair bundles a Diffie-Hellman ratchet key pair.
type dhPair struct {
	priv []byte
	pub  []byte
}

// generateDHPair creates a fresh dhPair.
func generateDHPair() (k dhPair, err error) {
	k.priv, k.pub, err = ratchetcrypto.GenerateDH()
	return
}

// step performs one Diffie-Hellman ratchet step against a newly observed
// peer public key, mirroring the plain ratchet's dhKeys.step.
func (k *dhPair) step(peerPub []byte) (recvSecret, sendSecret []byte, err error) {
	recvSecret, err = ratchetcrypto.DH(k.priv, peerPub)
	if err != nil {
		return nil, nil, err
	}

	*k, err = generateDHPair()
	if err != nil {
		return nil, nil, err
	}

	sendSecret, err = ratchetcrypto.DH(k.priv, peerPub)
	if err != nil {
		return nil, nil, err
	}

	return recvSecret, sendSecret, nil
}
