// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package commands

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/covenant-e2e/xochimilco/x3dh"
)

// keygen: generate and print an X25519 identity key pair.
func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate an X25519 identity key pair",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, pub, err := x3dh.GenerateIdentityKeyPair()
			if err != nil {
				return err
			}

			fmt.Printf("private: %s\n", hex.EncodeToString(priv))
			fmt.Printf("public:  %s\n", hex.EncodeToString(pub))
			return nil
		},
	}
}
