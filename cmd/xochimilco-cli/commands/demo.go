// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package commands

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/covenant-e2e/xochimilco"
	"github.com/covenant-e2e/xochimilco/bundle"
	"github.com/covenant-e2e/xochimilco/x3dh"
)

// session is the subset of Session/SessionHE's lifecycle the demo drives;
// both satisfy it.
type session interface {
	Offer() (string, error)
	Acknowledge(offerMsg string) (ackMsg string, err error)
	Receive(msg string) (isEstablished, isClosed bool, plaintext []byte, err error)
	Send(plaintext []byte) (string, error)
}

// demo: publish bob's prekey bundle, fetch it back through the bulletin
// board, then run a full offer/acknowledge/send/receive round trip.
func demoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "demo",
		Short: "Run a local Alice/Bob handshake and message exchange",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			alicePriv, alicePub, err := x3dh.GenerateIdentityKeyPair()
			if err != nil {
				return err
			}
			bobPriv, bobPub, err := x3dh.GenerateIdentityKeyPair()
			if err != nil {
				return err
			}

			spkPub, _, spkSig, err := x3dh.CreateNewSpk(bobPriv)
			if err != nil {
				return err
			}
			opkPub, _, err := x3dh.CreateNewOpk()
			if err != nil {
				return err
			}

			bobBundle := bundle.New(0, bobPub, 0, spkPub, spkSig, 0).
				WithOneTimePrekeys(bundle.KeyRef{ID: 0, PkHex: hex.EncodeToString(opkPub)})
			if err := board.Register("bob", bobBundle); err != nil {
				return fmt.Errorf("registering bob's bundle: %w", err)
			}

			fetched, err := board.FetchPrekeyBundle("bob")
			if err != nil {
				return fmt.Errorf("fetching bob's bundle: %w", err)
			}
			fmt.Printf("fetched bob's bundle from the board (one-time prekeys attached: %d)\n",
				len(fetched.OneTimePrekeys))

			var alice, bob session
			if headerEncrypted {
				a := &xochimilco.SessionHE{IdentityKey: alicePriv, VerifyPeer: equals(bobPub)}
				b := &xochimilco.SessionHE{IdentityKey: bobPriv, VerifyPeer: equals(alicePub)}
				alice, bob = a, b
				fmt.Println("using the header-encrypted Double Ratchet")
			} else {
				a := &xochimilco.Session{IdentityKey: alicePriv, VerifyPeer: equals(bobPub)}
				b := &xochimilco.Session{IdentityKey: bobPriv, VerifyPeer: equals(alicePub)}
				alice, bob = a, b
				fmt.Println("using the plain Double Ratchet")
			}

			offerMsg, err := alice.Offer()
			if err != nil {
				return fmt.Errorf("offer: %w", err)
			}

			ackMsg, err := bob.Acknowledge(offerMsg)
			if err != nil {
				return fmt.Errorf("acknowledge: %w", err)
			}

			if isEstablished, _, _, err := alice.Receive(ackMsg); err != nil {
				return fmt.Errorf("alice receiving ack: %w", err)
			} else if !isEstablished {
				return fmt.Errorf("alice's session did not establish")
			}

			dataMsg, err := alice.Send([]byte("hello bob"))
			if err != nil {
				return fmt.Errorf("alice send: %w", err)
			}

			_, _, plaintext, err := bob.Receive(dataMsg)
			if err != nil {
				return fmt.Errorf("bob receive: %w", err)
			}
			fmt.Printf("bob received: %q\n", plaintext)

			replyMsg, err := bob.Send([]byte("hej alice!"))
			if err != nil {
				return fmt.Errorf("bob send: %w", err)
			}

			_, _, plaintext, err = alice.Receive(replyMsg)
			if err != nil {
				return fmt.Errorf("alice receive: %w", err)
			}
			fmt.Printf("alice received: %q\n", plaintext)

			return nil
		},
	}
}

func equals(want []byte) func([]byte) bool {
	return func(got []byte) bool { return bytes.Equal(got, want) }
}
