// Package fatturapa assembles FatturaPA v1.2 invoice documents.
package fatturapa

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/beevik/etree"
	"github.com/sirupsen/logrus"

	"github.com/rezonia/sdi-gateway/internal/decimal"
	"github.com/rezonia/sdi-gateway/internal/model"
)

const (
	// FormatVersion is the FatturaPA transmission format (ordinary invoices
	// between private parties)
	FormatVersion = "FPR12"

	namespaceURI = "http://ivaservizi.agenziaentrate.gov.it/docs/xsd/fatture/v1.2"
	schemaURI    = "http://ivaservizi.agenziaentrate.gov.it/docs/xsd/fatture/v1.2 " +
		"http://www.fatturapa.gov.it/export/fatturazione/sdi/fatturapa/v1.2/Schema_del_file_xml_FatturaPA_versione_1.2.xsd"

	// defaultRoutingCode is the reserved value meaning "deliver via PEC"
	defaultRoutingCode = "0000000"
)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Builder deterministically assembles the canonical XML document for an
// invoice and writes it under the storage root. Inputs are assumed validated
// upstream; the builder only re-checks the nested structures it cannot
// produce a well-formed document without.
type Builder struct {
	storagePath     string
	transmitterCode string
	logger          *logrus.Logger

	// Progressive send counter, unique per invocation within this process.
	// Seeded from the wall clock at construction; the value is NOT unique
	// across restarts. Upgrade to a persisted counter if exactly-once
	// submission numbering is ever required.
	progressive atomic.Uint64
}

// NewBuilder creates a document builder writing under storagePath
func NewBuilder(storagePath, transmitterCode string, logger *logrus.Logger) *Builder {
	b := &Builder{
		storagePath:     storagePath,
		transmitterCode: transmitterCode,
		logger:          logger,
	}
	b.progressive.Store(uint64(time.Now().UnixMilli() % 100000))
	return b
}

// Build assembles the invoice document and writes it to
// <storage>/IT<transmitterCode>_<sanitizedNumber>.xml, overwriting any
// previous file at that path. It returns the written path.
func (b *Builder) Build(req *model.InvoiceRequest, inv *model.Invoice) (string, error) {
	if len(req.Lines) == 0 {
		return "", model.NewBuildError(inv.Number, "at least one line item is required", nil)
	}
	if req.TaxSummary == nil {
		return "", model.NewBuildError(inv.Number, "tax summary is required", nil)
	}

	b.logger.WithFields(logrus.Fields{
		"number": inv.Number,
	}).Info("building invoice document")

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("p:FatturaElettronica")
	root.CreateAttr("xmlns:ds", "http://www.w3.org/2000/09/xmldsig#")
	root.CreateAttr("xmlns:p", namespaceURI)
	root.CreateAttr("xmlns:xsi", "http://www.w3.org/2001/XMLSchema-instance")
	root.CreateAttr("versione", FormatVersion)
	root.CreateAttr("xsi:schemaLocation", schemaURI)

	header := root.CreateElement("FatturaElettronicaHeader")
	b.addTransmissionData(header, req)
	addSupplier(header, &req.Supplier)
	addCustomer(header, &req.Customer)

	body := root.CreateElement("FatturaElettronicaBody")
	addGeneralData(body, req)
	addLinesAndSummary(body, req)
	if req.Payment != nil {
		addPayment(body, req.Payment)
	}

	if err := os.MkdirAll(b.storagePath, 0o755); err != nil {
		return "", model.NewBuildError(inv.Number, "creating storage directory", err)
	}

	path := filepath.Join(b.storagePath, b.FileName(inv.Number))
	doc.Indent(2)
	if err := doc.WriteToFile(path); err != nil {
		return "", model.NewBuildError(inv.Number, "writing document", err)
	}

	b.logger.WithFields(logrus.Fields{
		"number": inv.Number,
		"path":   path,
	}).Info("invoice document written")
	return path, nil
}

// FileName computes the on-disk document name for an invoice number. All
// non-alphanumeric characters in the number are replaced before use.
func (b *Builder) FileName(number string) string {
	return "IT" + b.transmitterCode + "_" + nonAlphanumeric.ReplaceAllString(number, "_") + ".xml"
}

func (b *Builder) nextProgressive() string {
	return fmt.Sprintf("%05d", b.progressive.Add(1)%100000)
}

func (b *Builder) addTransmissionData(header *etree.Element, req *model.InvoiceRequest) {
	dt := header.CreateElement("DatiTrasmissione")

	id := dt.CreateElement("IdTrasmittente")
	addText(id, "IdPaese", "IT")
	addText(id, "IdCodice", b.transmitterCode)

	addText(dt, "ProgressivoInvio", b.nextProgressive())
	addText(dt, "FormatoTrasmissione", FormatVersion)

	code := req.Customer.RoutingCode
	if code == "" {
		code = defaultRoutingCode
	}
	addText(dt, "CodiceDestinatario", code)

	if req.Customer.PEC != "" {
		addText(dt, "PECDestinatario", req.Customer.PEC)
	}
}

func addSupplier(header *etree.Element, p *model.PartyRequest) {
	supplier := header.CreateElement("CedentePrestatore")

	registry := supplier.CreateElement("DatiAnagrafici")
	vat := registry.CreateElement("IdFiscaleIVA")
	addText(vat, "IdPaese", "IT")
	addText(vat, "IdCodice", p.VATID)

	// Tax code only when it differs from the VAT number
	if p.TaxCode != "" && p.TaxCode != p.VATID {
		addText(registry, "CodiceFiscale", p.TaxCode)
	}

	personal := registry.CreateElement("Anagrafica")
	addText(personal, "Denominazione", p.Name)

	addText(registry, "RegimeFiscale", "RF01")

	addAddress(supplier.CreateElement("Sede"), p)

	if p.Phone != "" || p.Email != "" {
		contacts := supplier.CreateElement("Contatti")
		if p.Phone != "" {
			addText(contacts, "Telefono", p.Phone)
		}
		if p.Email != "" {
			addText(contacts, "Email", p.Email)
		}
	}
}

func addCustomer(header *etree.Element, p *model.PartyRequest) {
	customer := header.CreateElement("CessionarioCommittente")

	registry := customer.CreateElement("DatiAnagrafici")
	if p.VATID != "" {
		vat := registry.CreateElement("IdFiscaleIVA")
		addText(vat, "IdPaese", "IT")
		addText(vat, "IdCodice", p.VATID)
	}
	addText(registry, "CodiceFiscale", p.TaxCode)

	personal := registry.CreateElement("Anagrafica")
	addText(personal, "Denominazione", p.Name)

	addAddress(customer.CreateElement("Sede"), p)
}

func addGeneralData(body *etree.Element, req *model.InvoiceRequest) {
	general := body.CreateElement("DatiGenerali")
	docData := general.CreateElement("DatiGeneraliDocumento")

	addText(docData, "TipoDocumento", "TD01")
	addText(docData, "Divisa", "EUR")
	addText(docData, "Data", req.Date.Format("2006-01-02"))
	addText(docData, "Numero", req.Number)
	addText(docData, "ImportoTotaleDocumento", decimal.Format(req.Total()))
}

func addLinesAndSummary(body *etree.Element, req *model.InvoiceRequest) {
	goods := body.CreateElement("DatiBeniServizi")

	for _, line := range req.Lines {
		detail := goods.CreateElement("DettaglioLinee")
		addText(detail, "NumeroLinea", fmt.Sprintf("%d", line.Number))
		addText(detail, "Descrizione", line.Description)
		addText(detail, "Quantita", decimal.Format(line.Quantity))
		addText(detail, "UnitaMisura", line.Unit)
		addText(detail, "PrezzoUnitario", decimal.Format(line.UnitPrice))
		addText(detail, "PrezzoTotale", decimal.Format(decimal.Mul(line.Quantity, line.UnitPrice)))
		addText(detail, "AliquotaIVA", decimal.Format(line.VATRate))
	}

	summary := goods.CreateElement("DatiRiepilogo")
	addText(summary, "AliquotaIVA", decimal.Format(req.TaxSummary.VATRate))
	if req.TaxSummary.Nature != "" {
		addText(summary, "Natura", req.TaxSummary.Nature)
	}
	addText(summary, "ImponibileImporto", decimal.Format(req.TaxSummary.TaxableAmount))
	addText(summary, "Imposta", decimal.Format(req.TaxSummary.TaxAmount))
	addText(summary, "EsigibilitaIVA", "I")
}

func addPayment(body *etree.Element, p *model.PaymentRequest) {
	payment := body.CreateElement("DatiPagamento")
	addText(payment, "CondizioniPagamento", p.Terms)

	detail := payment.CreateElement("DettaglioPagamento")
	addText(detail, "ModalitaPagamento", p.Detail.Method)
	addText(detail, "DataScadenzaPagamento", p.Detail.DueDate.Format("2006-01-02"))
	addText(detail, "ImportoPagamento", decimal.Format(p.Detail.Amount))
	if p.Detail.IBAN != "" {
		addText(detail, "IBAN", p.Detail.IBAN)
	}
	if p.Detail.Bank != "" {
		addText(detail, "IstitutoFinanziario", p.Detail.Bank)
	}
}

func addAddress(sede *etree.Element, p *model.PartyRequest) {
	addText(sede, "Indirizzo", p.Address)
	addText(sede, "CAP", p.ZIP)
	addText(sede, "Comune", p.City)
	addText(sede, "Provincia", p.Province)
	addText(sede, "Nazione", p.Country)
}

func addText(parent *etree.Element, name, value string) {
	parent.CreateElement(name).SetText(value)
}
