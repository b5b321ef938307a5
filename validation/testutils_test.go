package validation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/veraison/go-cose"

	"github.com/cloudx-io/batchauction/enclaveapi"
)

const (
	testPCR0 = "3b4cef27e672fdbcc808960a88ddfe7329dd2e367b6850c9a8d910315f0b47e4224d6db361b75e010c87691d86ca9c57"
	testPCR1 = "4b4d5b3661b3efc12920900c80e126e4ce783c522de6c02a2a5bf7af3a2b9327b86776f188e4be1c1c404a129dbda493"
	testPCR2 = "2bdd28c1d85bb3872da3617a29a6bfeb50c65750c995f92e7dac6b5f2c4c72e0f9976bdee62a0b25864d10dffb535e11"
)

// testPKI is a root CA and an enclave signing certificate standing in for the Nitro
// hierarchy.
type testPKI struct {
	rootDER   []byte
	leafDER   []byte
	leafKey   *ecdsa.PrivateKey
	notBefore time.Time
	notAfter  time.Time
	cfg       *Config
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	now := time.Now().Truncate(time.Second)

	rootKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate root key: %v", err)
	}
	rootTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-nitro-root"},
		NotBefore:             now.Add(-24 * time.Hour),
		NotAfter:              now.Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTmpl, rootTmpl, &rootKey.PublicKey, rootKey)
	if err != nil {
		t.Fatalf("create root: %v", err)
	}
	rootCert, err := x509.ParseCertificate(rootDER)
	if err != nil {
		t.Fatalf("parse root: %v", err)
	}

	leafKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		t.Fatalf("generate leaf key: %v", err)
	}
	leafTmpl := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "test-enclave"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTmpl, rootCert, &leafKey.PublicKey, rootKey)
	if err != nil {
		t.Fatalf("create leaf: %v", err)
	}

	roots := x509.NewCertPool()
	roots.AddCert(rootCert)
	return &testPKI{
		rootDER:   rootDER,
		leafDER:   leafDER,
		leafKey:   leafKey,
		notBefore: leafTmpl.NotBefore,
		notAfter:  leafTmpl.NotAfter,
		cfg: &Config{
			PCRSets: []PCRSet{{PCR0: testPCR0, PCR1: testPCR1, PCR2: testPCR2, CommitHash: "abc1234"}},
			Roots:   roots,
		},
	}
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("decode hex: %v", err)
	}
	return b
}

// attest builds an untagged COSE_Sign1 Nitro attestation over userData, signed with
// signer (the leaf key when nil) and timestamped at ts.
func (p *testPKI) attest(t *testing.T, userData any, ts time.Time, signer *ecdsa.PrivateKey) enclaveapi.AttestationCOSE {
	t.Helper()
	if signer == nil {
		signer = p.leafKey
	}
	ud, err := json.Marshal(userData)
	if err != nil {
		t.Fatalf("marshal user data: %v", err)
	}
	payload, err := cbor.Marshal(map[string]any{
		"module_id": "i-0123456789abcdef0-enc0123456789abcd",
		"digest":    "SHA384",
		"timestamp": uint64(ts.UnixMilli()),
		"pcrs": map[uint64][]byte{
			0: mustHex(t, testPCR0),
			1: mustHex(t, testPCR1),
			2: mustHex(t, testPCR2),
		},
		"certificate": p.leafDER,
		"cabundle":    [][]byte{p.rootDER},
		"public_key":  []byte{},
		"user_data":   ud,
		"nonce":       []byte("nonce"),
	})
	if err != nil {
		t.Fatalf("marshal document: %v", err)
	}

	coseSigner, err := cose.NewSigner(cose.AlgorithmES384, signer)
	if err != nil {
		t.Fatalf("create signer: %v", err)
	}
	msg := cose.Sign1Message{
		Headers: cose.Headers{
			Protected: cose.ProtectedHeader{cose.HeaderLabelAlgorithm: cose.AlgorithmES384},
		},
		Payload: payload,
	}
	if err := msg.Sign(rand.Reader, nil, coseSigner); err != nil {
		t.Fatalf("sign: %v", err)
	}
	raw, err := (*cose.UntaggedSign1Message)(&msg).MarshalCBOR()
	if err != nil {
		t.Fatalf("marshal COSE: %v", err)
	}
	return enclaveapi.AttestationCOSE(raw)
}
