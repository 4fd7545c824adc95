package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"codemingle.dev/internal/auth"
)

func keygenCmd() *cobra.Command {
	var (
		outDir string
		bits   int
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an RS256 signing key pair",
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, pub, err := writeKeyPair(outDir, bits, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\nwrote %s\n", priv, pub)
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out", "keys", "Output directory")
	cmd.Flags().IntVar(&bits, "bits", auth.DefaultKeyBits, "RSA modulus size")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing key files")
	return cmd
}

func writeKeyPair(dir string, bits int, force bool) (string, string, error) {
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")
	if !force {
		for _, p := range []string{privPath, pubPath} {
			if _, err := os.Stat(p); err == nil {
				return "", "", fmt.Errorf("%s exists; use --force to overwrite", p)
			}
		}
	}
	privPEM, pubPEM, err := auth.GenerateRSAKeyPEM(bits)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return "", "", err
	}
	return privPath, pubPath, nil
}
