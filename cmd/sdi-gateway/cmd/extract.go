package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rezonia/sdi-gateway/internal/signature"
)

var extractOutput string

var extractCmd = &cobra.Command{
	Use:   "extract <file.p7m>",
	Short: "Extract the document from a signed envelope",
	Long: `Extract the embedded invoice document from a signed envelope (.p7m)
and write it next to the envelope, or to --output.

Examples:
  # Extract alongside the envelope
  sdi-gateway extract IT0123456_2026_001.xml.p7m

  # Extract to a chosen path
  sdi-gateway extract IT0123456_2026_001.xml.p7m -o invoice.xml

  # Print to stdout
  sdi-gateway extract IT0123456_2026_001.xml.p7m -o -`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "", "Output path, or - for stdout")
}

func runExtract(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	engine := signature.NewEngine(keyFile, certFile, logger)

	content, err := engine.ExtractContent(args[0])
	if err != nil {
		return err
	}

	if extractOutput == "-" {
		_, err = os.Stdout.Write(content)
		return err
	}

	out := extractOutput
	if out == "" {
		out = strings.TrimSuffix(args[0], signature.SignedExtension)
	}
	if err := os.WriteFile(out, content, 0o644); err != nil {
		return fmt.Errorf("writing extracted document: %w", err)
	}

	fmt.Printf("Extracted %d bytes to %s\n", len(content), out)
	return nil
}
