package signature

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hhrutter/pkcs7"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/sdi-gateway/internal/model"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// newTestIdentity generates an RSA key and self-signed certificate
func newTestIdentity(t *testing.T, commonName string) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:   commonName,
			Organization: []string{commonName},
		},
		NotBefore: time.Now().Add(-time.Hour),
		NotAfter:  time.Now().Add(24 * time.Hour),
		KeyUsage:  x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:      true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

// writeTestCredentials generates an RSA key and self-signed certificate and
// writes both as PEM files under dir.
func writeTestCredentials(t *testing.T, dir string) (keyPath, certPath string) {
	t.Helper()

	key, cert := newTestIdentity(t, "Rossi Srl")
	der := cert.Raw

	keyPath = filepath.Join(dir, "signer.key")
	certPath = filepath.Join(dir, "signer.crt")

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0o600))

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(certPath, certPEM, 0o644))

	return keyPath, certPath
}

func newTestEngine(t *testing.T) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	keyPath, certPath := writeTestCredentials(t, dir)
	return NewEngine(keyPath, certPath, testLogger()), dir
}

func TestEngine_SignVerifyExtract(t *testing.T) {
	engine, dir := newTestEngine(t)

	docPath := filepath.Join(dir, "invoice.xml")
	payload := []byte(`<?xml version="1.0"?><FatturaElettronica/>`)
	require.NoError(t, os.WriteFile(docPath, payload, 0o644))

	signedPath, err := engine.Sign(docPath)
	require.NoError(t, err)
	assert.Equal(t, docPath+".p7m", signedPath)

	assert.True(t, engine.Verify(signedPath))

	content, err := engine.ExtractContent(signedPath)
	require.NoError(t, err)
	assert.Equal(t, payload, content)
}

func TestEngine_Sign_MissingDocument(t *testing.T) {
	engine, dir := newTestEngine(t)

	_, err := engine.Sign(filepath.Join(dir, "does-not-exist.xml"))
	var sigErr *model.SignatureError
	require.ErrorAs(t, err, &sigErr)
}

func TestEngine_Sign_MissingCredentials(t *testing.T) {
	dir := t.TempDir()
	engine := NewEngine(
		filepath.Join(dir, "missing.key"),
		filepath.Join(dir, "missing.crt"),
		testLogger(),
	)

	docPath := filepath.Join(dir, "invoice.xml")
	require.NoError(t, os.WriteFile(docPath, []byte("<x/>"), 0o644))

	_, err := engine.Sign(docPath)
	var sigErr *model.SignatureError
	require.ErrorAs(t, err, &sigErr)
}

func TestEngine_Sign_CredentialsLoadedAfterWarmupFailure(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "signer.key")
	certPath := filepath.Join(dir, "signer.crt")
	engine := NewEngine(keyPath, certPath, testLogger())

	// Startup load fails softly: files are not there yet
	engine.Warmup()

	// Credentials appear later; the first signing call retries the load
	credDir := t.TempDir()
	k, c := writeTestCredentials(t, credDir)
	require.NoError(t, os.Rename(k, keyPath))
	require.NoError(t, os.Rename(c, certPath))

	docPath := filepath.Join(dir, "invoice.xml")
	require.NoError(t, os.WriteFile(docPath, []byte("<x/>"), 0o644))

	signedPath, err := engine.Sign(docPath)
	require.NoError(t, err)
	assert.True(t, engine.Verify(signedPath))
}

func TestEngine_Verify_NeverErrors(t *testing.T) {
	engine, dir := newTestEngine(t)

	// Missing file
	assert.False(t, engine.Verify(filepath.Join(dir, "missing.p7m")))

	// Not an envelope at all
	garbage := filepath.Join(dir, "garbage.p7m")
	require.NoError(t, os.WriteFile(garbage, []byte("not asn1"), 0o644))
	assert.False(t, engine.Verify(garbage))

	// Corrupted envelope
	docPath := filepath.Join(dir, "invoice.xml")
	require.NoError(t, os.WriteFile(docPath, []byte("<x/>"), 0o644))
	signedPath, err := engine.Sign(docPath)
	require.NoError(t, err)

	data, err := os.ReadFile(signedPath)
	require.NoError(t, err)
	data[len(data)-20] ^= 0xFF
	corrupted := filepath.Join(dir, "corrupted.p7m")
	require.NoError(t, os.WriteFile(corrupted, data, 0o644))
	assert.False(t, engine.Verify(corrupted))
}

func TestEngine_Verify_MultiSignerEnvelope(t *testing.T) {
	engine, dir := newTestEngine(t)

	// Envelope carrying two valid signatures from different identities
	signed, err := pkcs7.NewSignedData([]byte("<x/>"))
	require.NoError(t, err)
	signed.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)
	for _, name := range []string{"Rossi Srl", "Bianchi SpA"} {
		key, cert := newTestIdentity(t, name)
		require.NoError(t, signed.AddSigner(cert, key, pkcs7.SignerInfoConfig{}))
	}
	envelope, err := signed.Finish()
	require.NoError(t, err)

	path := filepath.Join(dir, "multi.p7m")
	require.NoError(t, os.WriteFile(path, envelope, 0o644))
	assert.True(t, engine.Verify(path))
}

func TestEngine_Verify_OneGoodSignerSuffices(t *testing.T) {
	engine, dir := newTestEngine(t)

	docPath := filepath.Join(dir, "invoice.xml")
	require.NoError(t, os.WriteFile(docPath, []byte("<x/>"), 0o644))
	signedPath, err := engine.Sign(docPath)
	require.NoError(t, err)

	data, err := os.ReadFile(signedPath)
	require.NoError(t, err)
	p7, err := pkcs7.Parse(data)
	require.NoError(t, err)
	require.Len(t, p7.Signers, 1)

	// A countersignature that does not verify must not reject the envelope
	broken := p7.Signers[0]
	broken.EncryptedDigest = []byte("not a signature")
	p7.Signers = append(p7.Signers, broken)
	assert.True(t, engine.anySignerVerifies(p7))

	// With no verifying signer left the envelope is invalid
	p7.Signers = []pkcs7.SignerInfo{broken}
	assert.False(t, engine.anySignerVerifies(p7))
}

func TestEngine_ExtractContent_Invalid(t *testing.T) {
	engine, dir := newTestEngine(t)

	garbage := filepath.Join(dir, "garbage.p7m")
	require.NoError(t, os.WriteFile(garbage, []byte("not asn1"), 0o644))

	_, err := engine.ExtractContent(garbage)
	var sigErr *model.SignatureError
	require.ErrorAs(t, err, &sigErr)
}

func TestEngine_ConcurrentFirstUse(t *testing.T) {
	engine, dir := newTestEngine(t)

	docPath := filepath.Join(dir, "invoice.xml")
	require.NoError(t, os.WriteFile(docPath, []byte("<x/>"), 0o644))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = engine.Sign(docPath)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}
