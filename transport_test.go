package updater

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockCert struct {
	pem []byte
	err error
}

func (mc *mockCert) readPem() ([]byte, error) {
	if mc.err != nil {
		return nil, mc.err
	}
	return mc.pem, nil
}

func selfSignedCertPEM(t *testing.T) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{Organization: []string{"test"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		IsCA:         true,
		KeyUsage:     x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

func TestCertPool(t *testing.T) {
	pool, err := certPool(&mockCert{pem: selfSignedCertPEM(t)})
	assert.NoError(t, err)
	assert.NotNil(t, pool)
}

func TestCertPoolBadPEM(t *testing.T) {
	_, err := certPool(&mockCert{pem: []byte("not a cert")})
	assert.Error(t, err)
}

func TestGetTransport(t *testing.T) {
	trans, err := getTransport(&mockCert{pem: selfSignedCertPEM(t)})
	require.NoError(t, err)
	assert.NotNil(t, trans)
	assert.NotNil(t, trans.TLSClientConfig.RootCAs)
}
