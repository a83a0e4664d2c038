package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coffer-backup/coffer-go/pkg/cert"
)

// testPKI holds file paths for a generated CA, server keypair, and client
// keypairs used across transport tests.
type testPKI struct {
	dir        string
	caCert     *x509.Certificate
	caKey      *ecdsa.PrivateKey
	caFile     string
	serverCert string
	serverKey  string
	nextSerial int64
}

// newTestPKI generates a CA and a server certificate valid for 127.0.0.1.
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

	p.serverCert, p.serverKey = p.issue(t, "server", func(tmpl *x509.Certificate) {
		tmpl.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
		tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	})
	return p
}

// issue creates a CA-signed keypair, writes it under the PKI dir, and
// returns the cert and key paths. mutate can adjust the template.
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

// lastSerial returns the serial number assigned by the most recent issue call.
func (p *testPKI) lastSerial() int64 {
	return p.nextSerial
}

// writeCRL writes a CA-signed revocation list for the given serials and
// returns its path.
func (p *testPKI) writeCRL(t *testing.T, serials ...int64) string {
	t.Helper()

	entries := make([]x509.RevocationListEntry, 0, len(serials))
	for _, sn := range serials {
		entries = append(entries, x509.RevocationListEntry{
			SerialNumber:   big.NewInt(sn),
			RevocationTime: time.Now().Add(-time.Minute),
		})
	}
	template := &x509.RevocationList{
		Number:                    big.NewInt(1),
		ThisUpdate:                time.Now().Add(-time.Hour),
		NextUpdate:                time.Now().Add(24 * time.Hour),
		RevokedCertificateEntries: entries,
	}
	der, err := x509.CreateRevocationList(rand.Reader, template, p.caCert, p.caKey)
	if err != nil {
		t.Fatalf("create CRL: %v", err)
	}

	path := filepath.Join(p.dir, "revoked.crl")
	data := pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: der})
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write CRL: %v", err)
	}
	return path
}

// otherCA generates an unrelated CA and returns a keypair issued by it.
func otherCA(t *testing.T, dir string) (string, string) {
	t.Helper()

	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(99),
		Subject:               pkix.Name{CommonName: "unrelated-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create CA: %v", err)
	}
	caCert, err := x509.ParseCertificate(caDER)
	if err != nil {
		t.Fatalf("parse CA: %v", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(100),
		Subject:      pkix.Name{CommonName: "stranger"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, caCert, &key.PublicKey, caKey)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}

	certPath := filepath.Join(dir, "stranger.crt")
	keyPath := filepath.Join(dir, "stranger.key")
	if err := cert.WriteCertFile(certPath, leaf); err != nil {
		t.Fatalf("write certificate: %v", err)
	}
	if err := cert.WriteKeyFile(keyPath, key); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certPath, keyPath
}
