package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/sdi-gateway/internal/server"
)

var (
	serverAddr   string
	serverDebug  bool
	readTimeout  time.Duration
	writeTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP API server for the invoice transmission pipeline.

The API provides endpoints for:
  - POST   /api/v1/invoices               - Create a draft invoice
  - POST   /api/v1/invoices/pipeline      - Create, generate, sign and send
  - POST   /api/v1/invoices/:id/document  - Generate the XML document
  - POST   /api/v1/invoices/:id/sign      - Sign the document
  - POST   /api/v1/invoices/:id/send      - Transmit to the hub
  - POST   /api/v1/notifications          - Reconcile an inbound notification
  - GET    /api/v1/invoices               - List invoices
  - GET    /api/v1/invoices/:id           - Fetch one invoice
  - DELETE /api/v1/invoices/:id           - Delete a draft or failed invoice
  - GET    /health                        - Health check (includes hub probe)

Examples:
  # Start server on default port
  sdi-gateway serve --transmitter-code 0123456

  # Start on a custom port with PostgreSQL storage
  sdi-gateway serve --address :9090 --postgres-dsn "postgres://..."

  # Start in debug mode
  sdi-gateway serve --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverAddr, "address", ":8080", "Server listen address")
	serveCmd.Flags().BoolVar(&serverDebug, "debug", false, "Enable debug mode")
	serveCmd.Flags().DurationVar(&readTimeout, "read-timeout", 30*time.Second, "HTTP read timeout")
	serveCmd.Flags().DurationVar(&writeTimeout, "write-timeout", 2*time.Minute, "HTTP write timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	coordinator, client, cleanup, err := newCoordinator(logger)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := server.NewServer(&server.Config{
		Address:      serverAddr,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		Debug:        serverDebug,
	}, coordinator, client, logger)

	// Handle graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		fmt.Println("\nShutting down server...")
		cleanup()
		os.Exit(0)
	}()

	fmt.Printf("Starting server on %s\n", serverAddr)
	return srv.Run()
}
