package server_test

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/sdi-gateway/internal/fatturapa"
	"github.com/rezonia/sdi-gateway/internal/invoice"
	"github.com/rezonia/sdi-gateway/internal/model"
	"github.com/rezonia/sdi-gateway/internal/sdi"
	"github.com/rezonia/sdi-gateway/internal/server"
	"github.com/rezonia/sdi-gateway/internal/signature"
	"github.com/rezonia/sdi-gateway/internal/storage"
)

func writeTestCredentials(t *testing.T, dir string) (keyPath, certPath string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Rossi Srl"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	keyPath = filepath.Join(dir, "signer.key")
	certPath = filepath.Join(dir, "signer.crt")
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0o600))
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	require.NoError(t, os.WriteFile(certPath, certPEM, 0o644))
	return keyPath, certPath
}

func testHub(t *testing.T) *httptest.Server {
	t.Helper()
	payload := base64.StdEncoding.EncodeToString([]byte("<Notifica>ok</Notifica>"))
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>`+
			`<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/">`+
			`<SOAP-ENV:Body>`+
			`<tra:fileSdIBase xmlns:tra="http://www.fatturapa.gov.it/sdi/ws/trasmissione/v1.0">`+
			`<tra:IdentificativoSdI>12345</tra:IdentificativoSdI>`+
			`<tra:File>`+payload+`</tra:File>`+
			`</tra:fileSdIBase>`+
			`</SOAP-ENV:Body></SOAP-ENV:Envelope>`)
	}))
}

func newTestServer(t *testing.T) *server.Server {
	t.Helper()

	dir := t.TempDir()
	keyPath, certPath := writeTestCredentials(t, dir)
	hub := testHub(t)
	t.Cleanup(hub.Close)

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	client := sdi.NewClient(sdi.Config{
		SubmitURL:       hub.URL,
		NotificationURL: hub.URL,
		Timeout:         5 * time.Second,
	}, logger)

	coordinator := invoice.NewCoordinator(
		storage.NewMemoryInvoiceStore(),
		storage.NewMemoryNotificationStore(),
		fatturapa.NewBuilder(dir, "0123456", logger),
		signature.NewEngine(keyPath, certPath, logger),
		client,
		dir,
		logger,
	)

	return server.NewServer(&server.Config{Address: ":8080"}, coordinator, client, logger)
}

func requestBody(t *testing.T, number string) []byte {
	t.Helper()
	req := model.InvoiceRequest{
		Number: number,
		Date:   time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC),
		Supplier: model.PartyRequest{
			Name:     "Rossi Consulting SRL",
			VATID:    "01234567890",
			Address:  "Via Roma 1",
			ZIP:      "00100",
			City:     "Roma",
			Province: "RM",
			Country:  "IT",
		},
		Customer: model.PartyRequest{
			Name:        "Mario Bianchi",
			TaxCode:     "RSSMRA80A01H501U",
			Address:     "Via Milano 2",
			ZIP:         "20100",
			City:        "Milano",
			Province:    "MI",
			Country:     "IT",
			RoutingCode: "ABC1234",
		},
		Lines: []model.LineRequest{{
			Number:      1,
			Description: "Consulenza informatica",
			Quantity:    decimal.NewFromInt(1),
			Unit:        "ore",
			UnitPrice:   decimal.RequireFromString("100.00"),
			VATRate:     decimal.RequireFromString("22.00"),
		}},
		TaxSummary: &model.TaxSummary{
			VATRate:       decimal.RequireFromString("22.00"),
			TaxableAmount: decimal.RequireFromString("100.00"),
			TaxAmount:     decimal.RequireFromString("22.00"),
		},
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return data
}

func doJSON(t *testing.T, srv *server.Server, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	return w
}

func decodeInvoice(t *testing.T, w *httptest.ResponseRecorder) *model.Invoice {
	t.Helper()
	var response server.InvoiceResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	require.NotNil(t, response.Invoice)
	return response.Invoice
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, "up", response["hub"])
	assert.NotEmpty(t, response["time"])
}

func TestCreateInvoiceEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/invoices", requestBody(t, "2026/001"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	inv := decodeInvoice(t, w)
	assert.Equal(t, "2026/001", inv.Number)
	assert.Equal(t, model.StatusDraft, inv.Status)
}

func TestCreateInvoiceEndpoint_ValidationError(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/invoices", []byte(`{"number":""}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var response server.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Contains(t, response.Error, "number")
}

func TestCreateInvoiceEndpoint_DuplicateNumber(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/invoices", requestBody(t, "2026/001"))
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/invoices", requestBody(t, "2026/001"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPipelineEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/invoices/pipeline", requestBody(t, "2026/001"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	inv := decodeInvoice(t, w)
	assert.Equal(t, model.StatusSent, inv.Status)
	assert.Equal(t, "12345", inv.SdiID)
}

func TestStageEndpoints(t *testing.T) {
	srv := newTestServer(t)
	body := requestBody(t, "2026/001")

	w := doJSON(t, srv, http.MethodPost, "/api/v1/invoices", body)
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeInvoice(t, w).ID
	path := fmt.Sprintf("/api/v1/invoices/%d", id)

	w = doJSON(t, srv, http.MethodPost, path+"/document", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.StatusGenerated, decodeInvoice(t, w).Status)

	w = doJSON(t, srv, http.MethodPost, path+"/sign", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.StatusSigned, decodeInvoice(t, w).Status)

	w = doJSON(t, srv, http.MethodPost, path+"/send", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sent := decodeInvoice(t, w)
	assert.Equal(t, model.StatusSent, sent.Status)
	assert.Equal(t, "12345", sent.SdiID)

	// Sending again is a conflict
	w = doJSON(t, srv, http.MethodPost, path+"/send", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestSignEndpoint_WithoutDocument(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/invoices", requestBody(t, "2026/001"))
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeInvoice(t, w).ID

	w = doJSON(t, srv, http.MethodPost, fmt.Sprintf("/api/v1/invoices/%d/sign", id), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestNotificationEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/invoices/pipeline", requestBody(t, "2026/001"))
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeInvoice(t, w).ID

	notification := `{"sdi_id":"12345","file_name":"IT0123456_2026_001_RC_001.xml",` +
		`"kind":"DELIVERY_RECEIPT","message":"consegnata"}`
	w = doJSON(t, srv, http.MethodPost, "/api/v1/notifications", []byte(notification))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.StatusDelivered, decodeInvoice(t, w).Status)

	// Audit trail is exposed per invoice
	w = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/invoices/%d/notifications", id), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var trail server.NotificationListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &trail))
	require.Equal(t, 1, trail.Count)
	assert.Equal(t, model.KindDeliveryReceipt, trail.Notifications[0].Kind)
}

func TestNotificationEndpoint_BadKind(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/notifications",
		[]byte(`{"sdi_id":"12345","file_name":"n.xml","kind":"BOGUS"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestNotificationEndpoint_UnknownSdiID(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/notifications",
		[]byte(`{"sdi_id":"99999","file_name":"n.xml","kind":"DELIVERY_RECEIPT"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueryEndpoints(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/invoices", requestBody(t, "2026-001"))
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeInvoice(t, w).ID

	w = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/invoices/%d", id), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/invoices/number/2026-001", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/invoices", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list server.InvoiceListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/invoices/status/DRAFT", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/invoices/status/NOPE", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/invoices/search?from=100&to=200", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/invoices/search?from=200&to=300", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 0, list.Count)
}

func TestGetInvoice_NotFound(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/invoices/42", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(t, srv, http.MethodGet, "/api/v1/invoices/abc", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/invoices", requestBody(t, "2026/001"))
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeInvoice(t, w).ID

	w = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/v1/invoices/%d", id), nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doJSON(t, srv, http.MethodGet, fmt.Sprintf("/api/v1/invoices/%d", id), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteEndpoint_Conflict(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/v1/invoices/pipeline", requestBody(t, "2026/001"))
	require.Equal(t, http.StatusCreated, w.Code)
	id := decodeInvoice(t, w).ID

	w = doJSON(t, srv, http.MethodDelete, fmt.Sprintf("/api/v1/invoices/%d", id), nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}
