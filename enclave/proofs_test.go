package main

import (
	"regexp"
	"testing"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/peterldowns/testy/check"

	"github.com/cloudx-io/batchauction/enclaveapi"
)

func checkHexPattern(t *testing.T, test string) {
	t.Helper()
	matched, err := regexp.MatchString(`^[a-f0-9]+$`, test)
	check.Nil(t, err)
	check.True(t, matched)
}

func TestGenerateSecureRandomBytes(t *testing.T) {
	bytes1, err1 := generateSecureRandomBytes(32)
	bytes2, err2 := generateSecureRandomBytes(32)

	check.NoError(t, err1)
	check.NoError(t, err2)
	check.Equal(t, 32, len(bytes1))
	check.Equal(t, 32, len(bytes2))
	check.NotEqual(t, bytes1, bytes2)

	bytes8, err3 := generateSecureRandomBytes(8)
	check.NoError(t, err3)
	check.Equal(t, 8, len(bytes8))
}

func TestGenerateNonce(t *testing.T) {
	nonce1, err1 := generateNonce()
	check.NoError(t, err1)
	nonce2, err2 := generateNonce()
	check.NoError(t, err2)

	// 32 bytes = 64 hex characters
	check.Equal(t, 64, len(nonce1))
	checkHexPattern(t, nonce1)
	check.NotEqual(t, nonce1, nonce2)
}

func TestAttestPassesUserDataAndNonce(t *testing.T) {
	var seen enclave.AttestationOptions
	mock := CreateMockEnclave(t)
	inner := mock.AttestFunc
	mock.AttestFunc = func(options enclave.AttestationOptions) ([]byte, error) {
		seen = options
		return inner(options)
	}

	cose, err := attest(mock, "test", map[string]string{"auction_id": "a1"})
	check.NoError(t, err)
	check.Equal(t, `{"auction_id":"a1"}`, string(seen.UserData))
	check.Equal(t, 64, len(seen.Nonce))

	doc, userData, err := cose.ParseAttestationDoc()
	check.NoError(t, err)
	check.Equal(t, seen.UserData, userData)
	check.Equal(t, string(seen.Nonce), doc.Nonce)
	check.Equal(t, "3b4cef27e672fdbcc808960a88ddfe7329dd2e367b6850c9a8d910315f0b47e4224d6db361b75e010c87691d86ca9c57", doc.PCRs.ImageFileHash)
}

func TestAttestRejectsUnmarshalableUserData(t *testing.T) {
	_, err := attest(CreateMockEnclave(t), "test", map[string]any{"bad": make(chan int)})
	check.Error(t, err)

	var nilAttester EnclaveAttester
	_, err = attest(nilAttester, "test", enclaveapi.KeyAttestationUserData{})
	check.Error(t, err)
}
