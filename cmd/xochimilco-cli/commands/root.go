// SPDX-FileCopyrightText: 2021 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package commands

import (
	"github.com/spf13/cobra"

	"github.com/covenant-e2e/xochimilco/server"
)

var (
	headerEncrypted bool

	board = server.NewBoard()
)

// Execute runs the xochimilco-cli root command.
func Execute() error {
	root := &cobra.Command{
		Use:   "xochimilco-cli",
		Short: "Drive a two-party X3DH handshake and Double Ratchet session",
	}

	root.PersistentFlags().BoolVar(&headerEncrypted, "he", false,
		"use the header-encrypted Double Ratchet instead of the plain one")

	root.AddCommand(keygenCmd(), demoCmd())
	return root.Execute()
}
