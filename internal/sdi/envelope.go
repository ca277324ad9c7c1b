package sdi

import (
	"fmt"

	"github.com/beevik/etree"
)

// NamespaceURI is the SdI transmission service namespace. Element names and
// the order of the children inside an operation are part of the
// compatibility contract with the hub.
const NamespaceURI = "http://www.fatturapa.gov.it/sdi/ws/trasmissione/v1.0"

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	soapPrefix     = "SOAP-ENV"
	servicePrefix  = "tra"
)

// field is one ordered child of an operation element
type field struct {
	name  string
	value string
}

// operation is one SOAP body operation with its ordered fields. Keeping the
// framing as a plain ordered list makes the wire layout independent of any
// particular markup library.
type operation struct {
	name   string
	fields []field
}

// encode serializes the operation into a SOAP 1.1 envelope
func (op *operation) encode() ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	envelope := doc.CreateElement(soapPrefix + ":Envelope")
	envelope.CreateAttr("xmlns:"+soapPrefix, soapEnvelopeNS)
	envelope.CreateAttr("xmlns:"+servicePrefix, NamespaceURI)

	body := envelope.CreateElement(soapPrefix + ":Body")
	opElem := body.CreateElement(servicePrefix + ":" + op.name)
	for _, f := range op.fields {
		opElem.CreateElement(servicePrefix + ":" + f.name).SetText(f.value)
	}

	return doc.WriteToBytes()
}

// decodeResponse parses a SOAP response body and returns the operation
// result element. A SOAP fault in the body is returned as an error carrying
// the fault text.
func decodeResponse(data []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parsing response envelope: %w", err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		return nil, fmt.Errorf("response is not a SOAP envelope")
	}

	body := childByTag(root, "Body")
	if body == nil {
		return nil, fmt.Errorf("response envelope has no body")
	}

	if fault := childByTag(body, "Fault"); fault != nil {
		return nil, fmt.Errorf("SOAP fault: %s", faultText(fault))
	}

	children := body.ChildElements()
	if len(children) == 0 {
		return nil, fmt.Errorf("response body is empty")
	}
	return children[0], nil
}

// childByTag finds a direct child by local name, ignoring namespace prefixes
func childByTag(parent *etree.Element, tag string) *etree.Element {
	for _, child := range parent.ChildElements() {
		if child.Tag == tag {
			return child
		}
	}
	return nil
}

// childText returns the text of a direct child by local name, or ""
func childText(parent *etree.Element, tag string) string {
	if child := childByTag(parent, tag); child != nil {
		return child.Text()
	}
	return ""
}

func faultText(fault *etree.Element) string {
	if s := childText(fault, "faultstring"); s != "" {
		return s
	}
	if s := childText(fault, "Reason"); s != "" {
		return s
	}
	return "unspecified fault"
}
