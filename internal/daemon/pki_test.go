package daemon

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/coffer-backup/coffer-go/pkg/cert"
)

// testPKI generates the CA, server, and client certificate files the
// daemon tests run against.
type testPKI struct {
	dir        string
	caCert     *x509.Certificate
	caKey      *ecdsa.PrivateKey
	caFile     string
	serverCert string
	serverKey  string
	clientCert string
	clientKey  string
	nextSerial int64
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()

	dir := t.TempDir()
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate CA key: %v", err)
	}

	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "coffer-test-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create CA certificate: %v", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("parse CA certificate: %v", err)
	}

	p := &testPKI{
		dir:        dir,
		caCert:     caCert,
		caKey:      caKey,
		caFile:     filepath.Join(dir, "ca.crt"),
		nextSerial: 10,
	}
	if err := cert.WriteCertFile(p.caFile, caCert); err != nil {
		t.Fatalf("write CA file: %v", err)
	}

	p.serverCert, p.serverKey = p.issueServer(t, "server-a")
	p.clientCert, p.clientKey = p.issueClient(t, "backup-client")
	return p
}

// issueServer creates a CA-signed server keypair valid for 127.0.0.1
// and the given DNS name.
func (p *testPKI) issueServer(t *testing.T, name string) (string, string) {
	t.Helper()
	return p.issue(t, name, func(tmpl *x509.Certificate) {
		tmpl.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
		tmpl.DNSNames = []string{name}
		tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	})
}

// issueClient creates a CA-signed client keypair.
func (p *testPKI) issueClient(t *testing.T, name string) (string, string) {
	t.Helper()
	return p.issue(t, name, nil)
}

func (p *testPKI) issue(t *testing.T, name string, mutate func(*x509.Certificate)) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	p.nextSerial++
	template := &x509.Certificate{
		SerialNumber: big.NewInt(p.nextSerial),
		Subject:      pkix.Name{CommonName: name},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	if mutate != nil {
		mutate(template)
	}

	der, err := x509.CreateCertificate(rand.Reader, template, p.caCert, &key.PublicKey, p.caKey)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	certPath := filepath.Join(p.dir, name+".crt")
	keyPath := filepath.Join(p.dir, name+".key")
	if err := cert.WriteCertFile(certPath, leaf); err != nil {
		t.Fatalf("write certificate: %v", err)
	}
	if err := cert.WriteKeyFile(keyPath, key); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certPath, keyPath
}
