package enclaveapi

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/cloudx-io/batchauction/enclaveapi/parsing"
)

// AttestationCOSE is a raw COSE_Sign1 attestation as returned by the NSM.
type AttestationCOSE []byte

// AttestationCOSEBase64 is an attestation in standard base64, as carried in JSON responses.
type AttestationCOSEBase64 string

// AttestationCOSEURLBase64 is an attestation in unpadded URL-safe base64.
type AttestationCOSEURLBase64 string

// AttestationCOSEGzip is a gzipped attestation in unpadded URL-safe base64.
type AttestationCOSEGzip string

func (a AttestationCOSE) EncodeBase64() AttestationCOSEBase64 {
	return AttestationCOSEBase64(base64.StdEncoding.EncodeToString(a))
}

func (a AttestationCOSE) EncodeURLSafe() AttestationCOSEURLBase64 {
	return AttestationCOSEURLBase64(base64.RawURLEncoding.EncodeToString(a))
}

// CompressGzip gzips the attestation. The gzip header carries no timestamp so equal
// inputs compress to equal outputs.
func (a AttestationCOSE) CompressGzip() (AttestationCOSEGzip, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.ModTime = time.Time{}
	if _, err := zw.Write(a); err != nil {
		return "", fmt.Errorf("gzip attestation: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("gzip attestation: %w", err)
	}
	return AttestationCOSEGzip(base64.RawURLEncoding.EncodeToString(buf.Bytes())), nil
}

// ParseAttestationDoc extracts the Nitro attestation document from the COSE payload.
// The user data is returned raw; its schema depends on the attestation type.
func (a AttestationCOSE) ParseAttestationDoc() (AttestationDoc, []byte, error) {
	payload, err := parsing.ExtractCOSEPayload(a)
	if err != nil {
		return AttestationDoc{}, nil, err
	}
	var raw parsing.NitroAttestationDocument
	if err := cbor.Unmarshal(payload, &raw); err != nil {
		return AttestationDoc{}, nil, fmt.Errorf("parse attestation document: %w", err)
	}
	doc := AttestationDoc{
		ModuleID:        raw.ModuleID,
		Timestamp:       time.UnixMilli(int64(raw.Timestamp)).UTC(),
		DigestAlgorithm: raw.Digest,
		PCRs:            ExtractPCRs(raw.PCRs),
		Certificate:     base64.StdEncoding.EncodeToString(raw.Certificate),
		CABundle:        parsing.EncodeCertificateBundle(raw.CABundle),
		PublicKey:       base64.StdEncoding.EncodeToString(raw.PublicKey),
		Nonce:           string(raw.Nonce),
	}
	return doc, raw.UserData, nil
}

func (a AttestationCOSEBase64) String() string { return string(a) }

func (a AttestationCOSEBase64) Decode() (AttestationCOSE, error) {
	b, err := base64.StdEncoding.DecodeString(string(a))
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64: %w", err)
	}
	return AttestationCOSE(b), nil
}

// CompressGzip decodes and re-encodes the attestation in gzip form.
func (a AttestationCOSEBase64) CompressGzip() (AttestationCOSEGzip, error) {
	raw, err := a.Decode()
	if err != nil {
		return "", err
	}
	return raw.CompressGzip()
}

func (a AttestationCOSEURLBase64) String() string { return string(a) }

// Decode accepts both padded and unpadded input.
func (a AttestationCOSEURLBase64) Decode() (AttestationCOSE, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(string(a), "="))
	if err != nil {
		return nil, fmt.Errorf("decode base64url: %w", err)
	}
	return AttestationCOSE(b), nil
}

func (a AttestationCOSEGzip) String() string { return string(a) }

func (a AttestationCOSEGzip) Decompress() (AttestationCOSE, error) {
	compressed, err := base64.RawURLEncoding.DecodeString(string(a))
	if err != nil {
		return nil, fmt.Errorf("decode base64url: %w", err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read gzip stream: %w", err)
	}
	return AttestationCOSE(raw), nil
}

// ExtractPCRs formats the raw PCR map of an attestation document.
func ExtractPCRs(rawPCRs map[uint64][]byte) PCRs {
	return PCRs{
		ImageFileHash:   parsing.FormatPCR(rawPCRs[0]),
		KernelHash:      parsing.FormatPCR(rawPCRs[1]),
		ApplicationHash: parsing.FormatPCR(rawPCRs[2]),
		IAMRoleHash:     parsing.FormatPCR(rawPCRs[3]),
		InstanceIDHash:  parsing.FormatPCR(rawPCRs[4]),
		SigningCertHash: parsing.FormatPCR(rawPCRs[8]),
	}
}
