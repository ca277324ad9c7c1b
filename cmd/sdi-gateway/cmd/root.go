package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rezonia/sdi-gateway/internal/fatturapa"
	"github.com/rezonia/sdi-gateway/internal/invoice"
	"github.com/rezonia/sdi-gateway/internal/logging"
	"github.com/rezonia/sdi-gateway/internal/sdi"
	"github.com/rezonia/sdi-gateway/internal/signature"
	"github.com/rezonia/sdi-gateway/internal/storage"
)

var (
	version = "1.0.0"

	// Global flags
	verbose         bool
	storagePath     string
	transmitterCode string
	keyFile         string
	certFile        string
	submitURL       string
	notificationURL string
	sdiTimeout      time.Duration
	postgresDSN     string
)

var rootCmd = &cobra.Command{
	Use:   "sdi-gateway",
	Short: "Transmit FatturaPA electronic invoices through the SdI exchange hub",
	Long: `SdI Gateway assembles, signs and transmits FatturaPA electronic invoices
to the Italian exchange hub (Sistema di Interscambio) and tracks each
invoice's lifecycle through the hub's notifications.

Examples:
  # Start the HTTP API server
  sdi-gateway serve

  # Create, sign and send one invoice from a JSON request file
  sdi-gateway send invoice.json

  # Verify a signed envelope
  sdi-gateway verify IT0123456_2026_001.xml.p7m

  # Extract the document from a signed envelope
  sdi-gateway extract IT0123456_2026_001.xml.p7m`,
	Version: version,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&storagePath, "storage-path", "./storage", "Directory for documents and notification payloads (env: STORAGE_PATH)")
	rootCmd.PersistentFlags().StringVar(&transmitterCode, "transmitter-code", "", "Transmitter fiscal code used in document names (env: TRANSMITTER_CODE)")
	rootCmd.PersistentFlags().StringVar(&keyFile, "key-file", "", "Signing key, PEM format (env: SIGNER_KEY_FILE)")
	rootCmd.PersistentFlags().StringVar(&certFile, "cert-file", "", "Signing certificate, PEM format (env: SIGNER_CERT_FILE)")
	rootCmd.PersistentFlags().StringVar(&submitURL, "submit-url", "", "Hub submission endpoint (env: SDI_SUBMIT_URL)")
	rootCmd.PersistentFlags().StringVar(&notificationURL, "notification-url", "", "Hub notification retrieval endpoint (env: SDI_NOTIFICATION_URL)")
	rootCmd.PersistentFlags().DurationVar(&sdiTimeout, "sdi-timeout", 30*time.Second, "Timeout for hub calls")
	rootCmd.PersistentFlags().StringVar(&postgresDSN, "postgres-dsn", "", "PostgreSQL connection string; omit for in-memory storage (env: POSTGRES_DSN)")

	// Load from .env and environment variables if not set via flags
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	_ = godotenv.Load()

	if storagePath == "./storage" {
		if v := os.Getenv("STORAGE_PATH"); v != "" {
			storagePath = v
		}
	}
	if transmitterCode == "" {
		transmitterCode = os.Getenv("TRANSMITTER_CODE")
	}
	if keyFile == "" {
		keyFile = os.Getenv("SIGNER_KEY_FILE")
	}
	if certFile == "" {
		certFile = os.Getenv("SIGNER_CERT_FILE")
	}
	if submitURL == "" {
		submitURL = os.Getenv("SDI_SUBMIT_URL")
	}
	if notificationURL == "" {
		notificationURL = os.Getenv("SDI_NOTIFICATION_URL")
	}
	if postgresDSN == "" {
		postgresDSN = os.Getenv("POSTGRES_DSN")
	}
}

func newLogger() *logrus.Logger {
	return logging.New(verbose)
}

// newCoordinator wires the pipeline from the global configuration. The
// returned cleanup closes the database connection when one was opened.
func newCoordinator(logger *logrus.Logger) (*invoice.Coordinator, *sdi.Client, func(), error) {
	if transmitterCode == "" {
		return nil, nil, nil, fmt.Errorf("transmitter code is required (--transmitter-code or TRANSMITTER_CODE)")
	}

	var (
		invoices      storage.InvoiceStore
		notifications storage.NotificationStore
		cleanup       = func() {}
	)
	if postgresDSN != "" {
		db, err := sql.Open("postgres", postgresDSN)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening database: %w", err)
		}
		if err := storage.EnsureSchema(context.Background(), db); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		invoices = storage.NewPostgresInvoiceStore(db)
		notifications = storage.NewPostgresNotificationStore(db)
		cleanup = func() { db.Close() }
		logger.Info("using PostgreSQL storage")
	} else {
		invoices = storage.NewMemoryInvoiceStore()
		notifications = storage.NewMemoryNotificationStore()
		logger.Warn("using in-memory storage, records are lost on exit")
	}

	signer := signature.NewEngine(keyFile, certFile, logger)
	signer.Warmup()

	client := sdi.NewClient(sdi.Config{
		SubmitURL:       submitURL,
		NotificationURL: notificationURL,
		Timeout:         sdiTimeout,
	}, logger)

	coordinator := invoice.NewCoordinator(
		invoices,
		notifications,
		fatturapa.NewBuilder(storagePath, transmitterCode, logger),
		signer,
		client,
		storagePath,
		logger,
	)
	return coordinator, client, cleanup, nil
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
