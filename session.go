// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package xochimilco

import (
	"crypto/rand"
	"fmt"

	"github.com/covenant-e2e/xochimilco/doubleratchet"
	"github.com/covenant-e2e/xochimilco/x3dh"
)

// Session between two parties to exchange encrypted messages.
//
// Each party creates a new Session variable configured with their private
// long time X25519 identity key and a function callback to verify the other
// party's public identity key.
//
// The active party must start by offering to "upgrade" the current channel
// (Offer). Afterwards, the other party must confirm this step (Acknowledge).
// Once the first party finally receives the acknowledgement (Receive), the
// connection is established.
//
// Now both parties can create encrypted messages directed to the other (Send).
// Furthermore, the Session can be closed again (Close). Incoming messages can
// be inspected and the payload extracted, if present (Receive).
type Session struct {
	// IdentityKey is this node's private X25519 identity key.
	//
	// This is used within the X3DH key agreement protocol, via XEdDSA to
	// sign this node's signed prekey, and as this node's initial Double
	// Ratchet key pair. The other party might want to verify this key's
	// public part.
	IdentityKey []byte

	// VerifyPeer is a callback during session initialization to verify the
	// other party's public key.
	//
	// To determine when a key is correct is out of Xochimilco's scope. The key
	// might be either exchanged over another secure channel or a trust on first
	// use (TOFU) principle might be used.
	VerifyPeer func(peer []byte) (valid bool)

	// private fields //

	// spkPub / spkPriv is the X3DH signed prekey for our opening party.
	spkPub, spkPriv []byte

	// opkPub / opkPriv is an optional X3DH one-time prekey offered alongside
	// the signed prekey above. It is destroyed once the other party
	// acknowledges the offer.
	opkPub, opkPriv []byte

	// associatedData is the AD produced by X3DH, bound into every ratchet
	// message's authentication tag for the lifetime of this session.
	associatedData []byte

	// doubleRatchet is the internal Double Ratchet.
	doubleRatchet *doubleratchet.DoubleRatchet
}

// Offer to establish an encrypted Session.
//
// This method MUST be called initially by the active resp. opening party
// (Alice) once. The other party will hopefully Acknowledge this message.
func (sess *Session) Offer() (offerMsg string, err error) {
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

// Acknowledge to establish an encrypted Session.
//
// This method MUST be called by the passive party (Bob) with the active party's
// (Alice's) offer message. The created acknowledge message MUST be send back.
//
// At this point, this passive part is able to send and receive messages.
func (sess *Session) Acknowledge(offerMsg string) (ackMsg string, err error) {
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

	idPub, err := x3dh.PublicKey(sess.IdentityKey)
	if err != nil {
		return
	}

	// Per the handshake's initialization shape, the initiator's ratchet
	// keys are its own identity key pair, with the peer's identity key as
	// the initial DHr.
	sess.doubleRatchet, err = doubleratchet.InitInitiator(sessKey, sess.IdentityKey, idPub, offer.idKey)
	if err != nil {
		return
	}
	sess.associatedData = associatedData

	// This will be padded up to the AES block size.
	initialPayload := make([]byte, 23)
	if _, err = rand.Read(initialPayload); err != nil {
		return
	}
	header, ciphertext, err := sess.doubleRatchet.RatchetEncrypt(initialPayload, sess.associatedData)
	if err != nil {
		return
	}

	ratchetMsg, err := encodeRatchetMessage(header, ciphertext)
	if err != nil {
		return
	}

	ack := ackMessage{
		idKey:      idPub,
		eKey:       ekPub,
		ratchetMsg: ratchetMsg,
	}
	ackMsg, err = marshalMessage(sessAck, ack)
	return
}

// receiveAck deals with incoming sessAck messages.
//
// The active / opening party receives the other party's acknowledgement and
// tries to establish a Session.
func (sess *Session) receiveAck(ack *ackMessage) (isEstablished bool, err error) {
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

	idPub, err := x3dh.PublicKey(sess.IdentityKey)
	if err != nil {
		return
	}

	sess.doubleRatchet, err = doubleratchet.InitResponder(sessKey, sess.IdentityKey, idPub)
	if err != nil {
		return
	}
	sess.associatedData = associatedData

	// The one-time prekey, if any was offered, is destroyed on first use.
	sess.spkPub, sess.spkPriv = nil, nil
	sess.opkPub, sess.opkPriv = nil, nil

	header, ciphertext, err := decodeRatchetMessage(ack.ratchetMsg)
	if err != nil {
		return
	}

	if _, err = sess.doubleRatchet.RatchetDecrypt(header, ciphertext, sess.associatedData); err != nil {
		return
	}

	isEstablished = true
	return
}

// receiveData deals with incoming sessData messages.
func (sess *Session) receiveData(data *dataMessage) (plaintext []byte, err error) {
	if sess.doubleRatchet == nil {
		err = fmt.Errorf("received sessData while not being in an active session")
		return
	}

	header, ciphertext, err := decodeRatchetMessage(*data)
	if err != nil {
		return
	}

	plaintext, err = sess.doubleRatchet.RatchetDecrypt(header, ciphertext, sess.associatedData)
	return
}

// Receive an incoming message.
//
// All messages except the passive party's initial offer message MUST be passed
// to this method. The multiple return fields indicate this message's kind.
//
// If the active party receives its first (acknowledge) message, this Session
// will be established; isEstablished. If the other party has signaled to close
// the Session, isClosed is set. This Session MUST then also be closed down. In
// case of an incoming encrypted message, the plaintext field holds its
// decrypted plaintext value. Of course, there might also be an error.
func (sess *Session) Receive(msg string) (isEstablished, isClosed bool, plaintext []byte, err error) {
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

// Send a message to the other party. The given plaintext byte array will be
// embedded in an encrypted message.
//
// This method is allowed to be called after the initial handshake, Offer resp.
// Acknowledge.
func (sess *Session) Send(plaintext []byte) (dataMsg string, err error) {
	if sess.doubleRatchet == nil {
		err = fmt.Errorf("cannot encrypt data without being in an active session")
		return
	}

	header, ciphertext, err := sess.doubleRatchet.RatchetEncrypt(plaintext, sess.associatedData)
	if err != nil {
		return
	}

	ratchetMsg, err := encodeRatchetMessage(header, ciphertext)
	if err != nil {
		return
	}

	dataMsg, err = marshalMessage(sessData, dataMessage(ratchetMsg))
	return
}

// Close this Session and tell the other party to do the same.
//
// This resets the internal state. Thus, the same Session might be reused.
func (sess *Session) Close() (closeMsg string, err error) {
	sess.spkPub, sess.spkPriv = nil, nil
	sess.opkPub, sess.opkPriv = nil, nil
	sess.associatedData = nil
	sess.doubleRatchet = nil

	closeMsg, err = marshalMessage(sessClose, closeMessage{0xff})
	return
}
