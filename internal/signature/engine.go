// Package signature produces and inspects CAdES (PKCS#7/CMS) signature
// envelopes over invoice documents.
package signature

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"sync"

	"github.com/hhrutter/pkcs7"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/rezonia/sdi-gateway/internal/model"
)

// SignedExtension is appended to the document path when signing
// (invoice.xml becomes invoice.xml.p7m)
const SignedExtension = ".p7m"

type credentials struct {
	key  crypto.PrivateKey
	cert *x509.Certificate
}

// Engine signs documents with the single process-wide signing identity: one
// private key and certificate pair loaded from PEM files. Key material loads
// lazily on first use; concurrent first calls share a single load.
type Engine struct {
	keyPath  string
	certPath string
	logger   *logrus.Logger

	group singleflight.Group
	mu    sync.RWMutex
	creds *credentials
}

// NewEngine creates a signature engine reading key material from the given
// PEM files. No I/O happens until Warmup or the first signing call.
func NewEngine(keyPath, certPath string, logger *logrus.Logger) *Engine {
	return &Engine{
		keyPath:  keyPath,
		certPath: certPath,
		logger:   logger,
	}
}

// Warmup attempts to load key material ahead of the first signing call.
// Failure is logged and not fatal; the load is retried transparently later.
func (e *Engine) Warmup() {
	if _, err := e.credentials(); err != nil {
		e.logger.WithError(err).Warn("signing credentials unavailable at startup, will retry on first use")
	}
}

func (e *Engine) credentials() (*credentials, error) {
	e.mu.RLock()
	c := e.creds
	e.mu.RUnlock()
	if c != nil {
		return c, nil
	}

	v, err, _ := e.group.Do("load", func() (interface{}, error) {
		e.mu.RLock()
		cached := e.creds
		e.mu.RUnlock()
		if cached != nil {
			return cached, nil
		}

		loaded, err := loadCredentials(e.keyPath, e.certPath)
		if err != nil {
			return nil, err
		}

		e.mu.Lock()
		e.creds = loaded
		e.mu.Unlock()

		e.logger.WithFields(logrus.Fields{
			"subject": loaded.cert.Subject.String(),
		}).Info("signing credentials loaded")
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*credentials), nil
}

// Sign reads the document at path, wraps it in a CMS signed-data envelope
// (SHA-256) carrying the signer certificate, and writes the envelope next to
// the original with the signed-container extension. Returns the signed path.
func (e *Engine) Sign(path string) (string, error) {
	creds, err := e.credentials()
	if err != nil {
		return "", model.NewSignatureError(path, "loading signing credentials", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return "", model.NewSignatureError(path, "reading document", err)
	}

	signed, err := pkcs7.NewSignedData(content)
	if err != nil {
		return "", model.NewSignatureError(path, "initializing signed data", err)
	}
	signed.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)

	if err := signed.AddSigner(creds.cert, creds.key, pkcs7.SignerInfoConfig{}); err != nil {
		return "", model.NewSignatureError(path, "adding signer", err)
	}

	envelope, err := signed.Finish()
	if err != nil {
		return "", model.NewSignatureError(path, "encoding envelope", err)
	}

	signedPath := path + SignedExtension
	if err := os.WriteFile(signedPath, envelope, 0o644); err != nil {
		return "", model.NewSignatureError(path, "writing signed file", err)
	}

	e.logger.WithFields(logrus.Fields{
		"path": signedPath,
	}).Info("document signed")
	return signedPath, nil
}

// Verify parses the envelope at path and reports whether at least one
// embedded signature verifies against its embedded certificate. Any parse or
// verification failure is a normal false outcome, never an error.
func (e *Engine) Verify(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		e.logger.WithError(err).Debug("verify: unreadable file")
		return false
	}

	p7, err := pkcs7.Parse(data)
	if err != nil {
		e.logger.WithError(err).Debug("verify: envelope parse failed")
		return false
	}

	return e.anySignerVerifies(p7)
}

// anySignerVerifies checks each signer in isolation: one good signature makes
// the envelope valid, so a broken co- or countersignature cannot reject an
// otherwise properly signed document.
func (e *Engine) anySignerVerifies(p7 *pkcs7.PKCS7) bool {
	for i := range p7.Signers {
		candidate := *p7
		candidate.Signers = p7.Signers[i : i+1]
		err := candidate.Verify()
		if err == nil {
			return true
		}
		e.logger.WithError(err).Debug("verify: signer check failed")
	}
	return false
}

// ExtractContent returns the payload embedded in the signed envelope at path
func (e *Engine) ExtractContent(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.NewSignatureError(path, "reading signed file", err)
	}

	p7, err := pkcs7.Parse(data)
	if err != nil {
		return nil, model.NewSignatureError(path, "parsing envelope", err)
	}

	if len(p7.Content) == 0 {
		return nil, model.NewSignatureError(path, "envelope carries no recoverable content", nil)
	}
	return p7.Content, nil
}

func loadCredentials(keyPath, certPath string) (*credentials, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	key, err := parsePrivateKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("reading certificate file: %w", err)
	}
	cert, err := parseCertificate(certPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate: %w", err)
	}

	return &credentials{key: key, cert: cert}, nil
}

func parsePrivateKey(pemData []byte) (crypto.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	case "PRIVATE KEY":
		return x509.ParsePKCS8PrivateKey(block.Bytes)
	default:
		return nil, fmt.Errorf("unsupported key type: %s", block.Type)
	}
}

func parseCertificate(pemData []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	return x509.ParseCertificate(block.Bytes)
}
