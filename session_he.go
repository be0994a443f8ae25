// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package xochimilco

import (
	"crypto/rand"
	"fmt"

	"github.com/covenant-e2e/xochimilco/doubleratchet/he"
	"github.com/covenant-e2e/xochimilco/x3dh"
)

// SessionHE is the header-encrypted counterpart to Session: the same
// Offer/Acknowledge/Receive/Send/Close lifecycle and X3DH bootstrap, but
// backed by doubleratchet/he so that message headers - and therefore
// ratchet public keys and message numbers - never appear in plaintext on
// the wire.
type SessionHE struct {
	// IdentityKey is this node's private X25519 identity key.
	IdentityKey []byte

	// VerifyPeer is a callback during session initialization to verify the
	// other party's public key.
	VerifyPeer func(peer []byte) (valid bool)

	// private fields //

	spkPub, spkPriv []byte
	opkPub, opkPriv []byte

	associatedData []byte

	doubleRatchet *he.DoubleRatchetHE
}

// Offer to establish an encrypted SessionHE. Identical in shape to
// Session.Offer.
func (sess *SessionHE) Offer() (offerMsg string, err error) {
	idPub, err := x3dh.PublicKey(sess.IdentityKey)
	if err != nil {
		return
	}

	spkPub, spkPriv, spkSig, err := x3dh.CreateNewSpk(sess.IdentityKey)
	if err != nil {
		return
	}

	opkPub, opkPriv, err := x3dh.CreateNewOpk()
	if err != nil {
		return
	}

	sess.spkPub, sess.spkPriv = spkPub, spkPriv
	sess.opkPub, sess.opkPriv = opkPub, opkPriv

	offer := offerMessage{
		idKey:  idPub,
		spKey:  spkPub,
		spSig:  spkSig,
		opkKey: opkPub,
	}
	offerMsg, err = marshalMessage(sessOffer, offer)
	return
}

// Acknowledge to establish an encrypted SessionHE.
func (sess *SessionHE) Acknowledge(offerMsg string) (ackMsg string, err error) {
	msgType, offerIf, err := unmarshalMessage(offerMsg)
	if err != nil {
		return
	} else if msgType != sessOffer {
		err = fmt.Errorf("unexpected message type %d", msgType)
		return
	}
	offer := offerIf.(*offerMessage)

	if !sess.VerifyPeer(offer.idKey) {
		err = fmt.Errorf("verification function refuses public key")
		return
	}

	sessKey, associatedData, ekPub, err := x3dh.CreateInitialMessage(
		sess.IdentityKey, offer.idKey, offer.spKey, offer.spSig, offer.opkKey)
	if err != nil {
		return
	}

	sharedHKa, sharedNHKb, err := x3dh.DeriveHeaderKeys(sessKey)
	if err != nil {
		return
	}

	idPub, err := x3dh.PublicKey(sess.IdentityKey)
	if err != nil {
		return
	}

	sess.doubleRatchet, err = he.InitInitiator(sessKey, sess.IdentityKey, idPub, offer.idKey, sharedHKa, sharedNHKb)
	if err != nil {
		return
	}
	sess.associatedData = associatedData

	initialPayload := make([]byte, 23)
	if _, err = rand.Read(initialPayload); err != nil {
		return
	}
	encryptedHeader, ciphertext, err := sess.doubleRatchet.RatchetEncrypt(initialPayload, sess.associatedData)
	if err != nil {
		return
	}

	ack := ackMessage{
		idKey:      idPub,
		eKey:       ekPub,
		ratchetMsg: encodeRatchetMessageHE(encryptedHeader, ciphertext),
	}
	ackMsg, err = marshalMessage(sessAck, ack)
	return
}

// receiveAck deals with incoming sessAck messages for SessionHE.
func (sess *SessionHE) receiveAck(ack *ackMessage) (isEstablished bool, err error) {
	if sess.doubleRatchet != nil {
		err = fmt.Errorf("received sessAck while being in an active session")
		return
	}

	if !sess.VerifyPeer(ack.idKey) {
		err = fmt.Errorf("verification function refuses public key")
		return
	}

	sessKey, associatedData, err := x3dh.ReceiveInitialMessage(
		sess.IdentityKey, ack.idKey, sess.spkPriv, sess.opkPriv, ack.eKey)
	if err != nil {
		return
	}

	sharedHKa, sharedNHKb, err := x3dh.DeriveHeaderKeys(sessKey)
	if err != nil {
		return
	}

	idPub, err := x3dh.PublicKey(sess.IdentityKey)
	if err != nil {
		return
	}

	sess.doubleRatchet, err = he.InitResponder(sessKey, sess.IdentityKey, idPub, sharedHKa, sharedNHKb)
	if err != nil {
		return
	}
	sess.associatedData = associatedData

	sess.spkPub, sess.spkPriv = nil, nil
	sess.opkPub, sess.opkPriv = nil, nil

	encryptedHeader, ciphertext, err := decodeRatchetMessageHE(ack.ratchetMsg)
	if err != nil {
		return
	}

	if _, err = sess.doubleRatchet.RatchetDecrypt(encryptedHeader, ciphertext, sess.associatedData); err != nil {
		return
	}

	isEstablished = true
	return
}

// receiveData deals with incoming sessData messages for SessionHE.
func (sess *SessionHE) receiveData(data *dataMessage) (plaintext []byte, err error) {
	if sess.doubleRatchet == nil {
		err = fmt.Errorf("received sessData while not being in an active session")
		return
	}

	encryptedHeader, ciphertext, err := decodeRatchetMessageHE(*data)
	if err != nil {
		return
	}

	plaintext, err = sess.doubleRatchet.RatchetDecrypt(encryptedHeader, ciphertext, sess.associatedData)
	return
}

// Receive an incoming message. Identical contract to Session.Receive.
func (sess *SessionHE) Receive(msg string) (isEstablished, isClosed bool, plaintext []byte, err error) {
	msgType, msgIf, err := unmarshalMessage(msg)
	if err != nil {
		return
	}

	switch msgType {
	case sessAck:
		isEstablished, err = sess.receiveAck(msgIf.(*ackMessage))

	case sessData:
		plaintext, err = sess.receiveData(msgIf.(*dataMessage))

	case sessClose:
		isClosed = true

	default:
		err = fmt.Errorf("received an unexpected message type %d", msgType)
	}

	return
}

// Send a message to the other party. Identical contract to Session.Send.
func (sess *SessionHE) Send(plaintext []byte) (dataMsg string, err error) {
	if sess.doubleRatchet == nil {
		err = fmt.Errorf("cannot encrypt data without being in an active session")
		return
	}

	encryptedHeader, ciphertext, err := sess.doubleRatchet.RatchetEncrypt(plaintext, sess.associatedData)
	if err != nil {
		return
	}

	dataMsg, err = marshalMessage(sessData, dataMessage(encodeRatchetMessageHE(encryptedHeader, ciphertext)))
	return
}

// Close this SessionHE and tell the other party to do the same.
func (sess *SessionHE) Close() (closeMsg string, err error) {
	sess.spkPub, sess.spkPriv = nil, nil
	sess.opkPub, sess.opkPriv = nil, nil
	sess.associatedData = nil
	sess.doubleRatchet = nil

	closeMsg, err = marshalMessage(sessClose, closeMessage{0xff})
	return
}
