package updater

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// certReader supplies a PEM-encoded root certificate bundle to trust for
// repository connections.
type certReader interface {
	readPem() ([]byte, error)
}

// getTransport builds an *http.Transport trusting rdr's certificate bundle
// in addition to the system pool, for installation into a
// tuf.HTTPFetcher via SetTransport.
func getTransport(rdr certReader) (*http.Transport, error) {
	pool, err := certPool(rdr)
	if err != nil {
		return nil, errors.Wrap(err, "creating repository connection")
	}
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		Dial: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
			DualStack: true,
		}).Dial,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig:     &tls.Config{RootCAs: pool},
	}, nil
}

func certPool(rdr certReader) (*x509.CertPool, error) {
	pem, err := rdr.readPem()
	if err != nil {
		return nil, errors.Wrap(err, "reading root certificate authority file")
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("failed to append root cert")
	}
	return pool, nil
}
