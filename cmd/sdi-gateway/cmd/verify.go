package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rezonia/sdi-gateway/internal/signature"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [files...]",
	Short: "Verify signed invoice envelopes",
	Long: `Verify the embedded signature of one or more signed invoice
envelopes (.p7m files).

Examples:
  # Verify one envelope
  sdi-gateway verify IT0123456_2026_001.xml.p7m

  # Verify several
  sdi-gateway verify storage/*.p7m`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	engine := signature.NewEngine(keyFile, certFile, logger)

	failed := 0
	for _, path := range args {
		if engine.Verify(path) {
			fmt.Printf("%s: OK\n", path)
		} else {
			fmt.Printf("%s: INVALID\n", path)
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d envelopes failed verification", failed, len(args))
	}
	return nil
}
