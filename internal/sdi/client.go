// Package sdi implements the SOAP exchange with the national invoice
// exchange hub (Sistema di Interscambio).
package sdi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/sdi-gateway/internal/model"
)

// unassignedID is the sentinel the hub uses for "no identifier assigned"
const unassignedID = "0"

// Config holds the transmission client configuration
type Config struct {
	// SubmitURL is the invoice submission endpoint
	SubmitURL string
	// NotificationURL is the notification retrieval endpoint
	NotificationURL string
	// Timeout bounds each outbound call
	Timeout time.Duration
}

// Client talks to the SdI hub. It is stateless per call and safe for
// concurrent use; retry policy belongs to the caller.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a transmission client.
//
// TLS certificate validation is deliberately disabled: the hub's test and
// production endpoints present certificates that do not validate against
// standard roots. This is an accepted, documented interoperability risk; do
// not remove it without coordinating an alternative trust setup.
func NewClient(config Config, logger *logrus.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402
			},
		},
		logger: logger,
	}
}

// Transmit reads the signed file, wraps it in a fileSdIBase submission and
// returns the authority-assigned identifier. A fault, a missing identifier
// or the "0" sentinel all yield a TransmissionError.
func (c *Client) Transmit(ctx context.Context, signedPath, fileName string) (string, error) {
	content, err := os.ReadFile(signedPath)
	if err != nil {
		return "", model.NewTransmissionError("transmit", "reading signed file", err)
	}

	op := &operation{
		name: "fileSdIBase",
		fields: []field{
			{"IdentificativoSdI", unassignedID},
			{"NomeFile", fileName},
			{"File", base64.StdEncoding.EncodeToString(content)},
		},
	}

	c.logger.WithFields(logrus.Fields{
		"file": fileName,
		"size": len(content),
	}).Info("transmitting invoice to SdI")

	result, err := c.call(ctx, c.config.SubmitURL, op)
	if err != nil {
		return "", model.NewTransmissionError("transmit", "submission failed", err)
	}

	id := childText(result, "IdentificativoSdI")
	if id == "" || id == unassignedID {
		return "", model.NewTransmissionError("transmit", "no valid identifier in response", nil)
	}

	c.logger.WithFields(logrus.Fields{
		"file":   fileName,
		"sdi_id": id,
	}).Info("invoice accepted by SdI")
	return id, nil
}

// FetchNotification retrieves a notification payload by authority identifier
// and notification file name.
func (c *Client) FetchNotification(ctx context.Context, sdiID, fileName string) ([]byte, error) {
	op := &operation{
		name: "riceviNotifica",
		fields: []field{
			{"IdentificativoSdI", sdiID},
			{"NomeFile", fileName},
		},
	}

	result, err := c.call(ctx, c.config.NotificationURL, op)
	if err != nil {
		return nil, model.NewTransmissionError("fetchNotification", "retrieval failed", err)
	}

	encoded := childText(result, "File")
	if encoded == "" {
		return nil, model.NewTransmissionError("fetchNotification", "no file in response", nil)
	}

	payload, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, model.NewTransmissionError("fetchNotification", "decoding payload", err)
	}
	return payload, nil
}

// HealthCheck probes the submission endpoint. Best effort: any HTTP
// response counts as reachable, any failure returns false.
func (c *Client) HealthCheck(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.config.SubmitURL, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithError(err).Debug("SdI health check failed")
		return false
	}
	resp.Body.Close()
	return true
}

func (c *Client) call(ctx context.Context, url string, op *operation) (*etree.Element, error) {
	payload, err := op.encode()
	if err != nil {
		return nil, fmt.Errorf("encoding request envelope: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling hub: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	// SOAP faults come back with 500; decodeResponse surfaces the fault
	// text, so only bail on statuses with no SOAP body to speak of.
	result, decodeErr := decodeResponse(body)
	if decodeErr != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("HTTP %d: %w", resp.StatusCode, decodeErr)
		}
		return nil, decodeErr
	}
	return result, nil
}
