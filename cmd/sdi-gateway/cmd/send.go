package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/sdi-gateway/internal/model"
)

var sendTimeout time.Duration

var sendCmd = &cobra.Command{
	Use:   "send <request.json>",
	Short: "Create, sign and transmit one invoice",
	Long: `Run the full pipeline for a single invoice described by a JSON request
file: validate, generate the FatturaPA document, sign it and transmit
the signed envelope to the hub.

The request file carries the invoice number, date, supplier, customer,
line items and tax summary, in the same shape the HTTP API accepts.

Examples:
  # Send one invoice
  sdi-gateway send invoice.json --transmitter-code 0123456

  # Send with a longer overall deadline
  sdi-gateway send invoice.json --timeout 2m`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", time.Minute, "Overall pipeline deadline")
}

func runSend(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading request file: %w", err)
	}

	var req model.InvoiceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parsing request file: %w", err)
	}

	logger := newLogger()
	coordinator, _, cleanup, err := newCoordinator(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	printVerbose("sending invoice %s\n", req.Number)
	inv, err := coordinator.RunPipeline(ctx, &req)
	if err != nil {
		if inv != nil {
			fmt.Fprintf(os.Stderr, "invoice %d left in status %s\n", inv.ID, inv.Status)
		}
		return err
	}

	fmt.Printf("Invoice %s transmitted\n", inv.Number)
	fmt.Printf("  SdI identifier: %s\n", inv.SdiID)
	fmt.Printf("  Document:       %s\n", inv.DocumentPath)
	fmt.Printf("  Signed:         %s\n", inv.SignedPath)
	return nil
}
