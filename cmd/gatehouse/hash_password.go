package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// NewHashPasswordCmd creates the hash-password subcommand. It reads one
// password from stdin and prints its Argon2id hash using the configured cost.
func NewHashPasswordCmd() *cobra.Command {
	var skipPolicy bool

	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return errors.New("hash-password: no password on stdin")
			}
			pw := strings.TrimRight(line, "\r\n")

			pc := cfg.PasswordConfig()
			if !skipPolicy {
				if err := pc.Validate(pw); err != nil {
					return err
				}
			}
			hash, err := pc.Hash(pw)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().BoolVar(&skipPolicy, "skip-policy", false, "hash without applying the password policy")
	return cmd
}
