package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/opd-ai/peerchat/crypto"
)

func fingerprintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the fingerprint of a fresh identity",
		Long: "Identities live for one run, so this prints the fingerprint of a newly\n" +
			"generated key pair. Use it to check the curve and encoding on a host.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := crypto.GenerateIdentity()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", groupFingerprint(id.FingerprintHex()))
			return nil
		},
	}
}

// groupFingerprint splits a hex fingerprint into blocks of four for reading
// aloud.
func groupFingerprint(hex string) string {
	var b strings.Builder
	for i := 0; i < len(hex); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 4
		if end > len(hex) {
			end = len(hex)
		}
		b.WriteString(hex[i:end])
	}
	return b.String()
}
