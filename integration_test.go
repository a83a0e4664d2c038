package coffer_test

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha1"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/coffer-backup/coffer-go/internal/config"
	"github.com/coffer-backup/coffer-go/internal/daemon"
	"github.com/coffer-backup/coffer-go/pkg/cert"
	"github.com/coffer-backup/coffer-go/pkg/crypto"
	"github.com/coffer-backup/coffer-go/pkg/protocol"
	"github.com/coffer-backup/coffer-go/pkg/restore"
	"github.com/coffer-backup/coffer-go/pkg/transport"
	"github.com/coffer-backup/coffer-go/pkg/wire"
)

// intPKI is the certificate material shared by the integration tests:
// one CA, a server certificate for 127.0.0.1, a trusted client, a
// revoked client, and the revocation list naming the latter.
type intPKI struct {
	dir         string
	caFile      string
	serverCert  string
	serverKey   string
	clientCert  string
	clientKey   string
	revokedCert string
	revokedKey  string
	crlFile     string

	caCert     *x509.Certificate
	caKey      *ecdsa.PrivateKey
	nextSerial int64
}

func newIntPKI(t *testing.T) *intPKI {
	t.Helper()

	dir := t.TempDir()
	caKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate CA key: %v", err)
	}
	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "coffer-integration-ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
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

	p := &intPKI{
		dir:        dir,
		caFile:     filepath.Join(dir, "ca.crt"),
		caCert:     caCert,
		caKey:      caKey,
		nextSerial: 10,
	}
	if err := cert.WriteCertFile(p.caFile, caCert); err != nil {
		t.Fatalf("write CA: %v", err)
	}

	p.serverCert, p.serverKey = p.issue(t, "server", func(tmpl *x509.Certificate) {
		tmpl.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
		tmpl.DNSNames = []string{"server"}
		tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	})
	p.clientCert, p.clientKey = p.issue(t, "backup-host1", nil)

	p.revokedCert, p.revokedKey = p.issue(t, "revoked-host", nil)
	revokedSerial := p.nextSerial
	p.crlFile = p.writeCRL(t, revokedSerial)

	return p
}

func (p *intPKI) issue(t *testing.T, name string, mutate func(*x509.Certificate)) (string, string) {
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

func (p *intPKI) writeCRL(t *testing.T, serials ...int64) string {
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
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write CRL: %v", err)
	}
	return path
}

// startServer loads the arguments and starts a daemon for the test.
func startServer(t *testing.T, args []string) *daemon.Daemon {
	t.Helper()

	cfg, err := config.Load(args)
	if err != nil {
		t.Fatalf("config.Load() error: %v", err)
	}
	d := daemon.New(cfg, daemon.Options{Args: args, Version: "2.41.0-test"})
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("daemon.Start() error: %v", err)
	}
	t.Cleanup(func() {
		if d.State() == daemon.StateRunning {
			_ = d.Stop()
		}
	})
	return d
}

// connect dials the daemon and completes the protocol greeting. Empty
// certFile connects without a client certificate.
func connect(t *testing.T, d *daemon.Daemon, caFile, certFile, keyFile string) *protocol.Client {
	t.Helper()

	tc, err := transport.NewClient(transport.ClientConfig{
		CAFile:   caFile,
		CertFile: certFile,
		KeyFile:  keyFile,
		Timeout:  3 * time.Second,
	})
	if err != nil {
		t.Fatalf("transport.NewClient() error: %v", err)
	}
	sess, err := tc.Connect(context.Background(), d.Addr())
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	client, err := protocol.NewClient(sess)
	if err != nil {
		sess.Close()
		t.Fatalf("protocol.NewClient() error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func serverArgs(p *intPKI, extra ...string) []string {
	args := []string{
		"-address", "127.0.0.1",
		"-port", "0",
		"-cert", p.serverCert,
		"-key", p.serverKey,
		"-ca", p.caFile,
		"-timeout", "3000",
	}
	return append(args, extra...)
}

// TestE2E_BackupRestoreFlow drives the full path a real restore takes:
// TLS handshake, certificate authentication, a multi-file restore job,
// and verification of the bytes written to disk.
func TestE2E_BackupRestoreFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pki := newIntPKI(t)
	repoDir := t.TempDir()
	destDir := t.TempDir()

	bundle := []byte("0123456789abcdefghij")
	if err := os.MkdirAll(filepath.Join(repoDir, "backup", "20260825-093000F"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	bundlePath := filepath.Join(repoDir, "backup", "20260825-093000F", "data.bundle")
	if err := os.WriteFile(bundlePath, bundle, 0o644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}

	d := startServer(t, serverArgs(pki, "-repo-path", repoDir, "-restore-path", destDir))

	client := connect(t, d, pki.caFile, pki.clientCert, pki.clientKey)

	greeting := client.Greeting()
	if greeting.Service != wire.ServiceName {
		t.Errorf("greeting service = %q, want %q", greeting.Service, wire.ServiceName)
	}
	if greeting.Version != "2.41.0-test" {
		t.Errorf("greeting version = %q, want %q", greeting.Version, "2.41.0-test")
	}
	if !greeting.Authenticated {
		t.Fatal("greeting reports unauthenticated despite a valid certificate")
	}
	if err := client.Ping(); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}

	fullSum := sha1.Sum(bundle)
	sectionLimit := uint64(5)
	section := bundle[4 : 4+sectionLimit]
	sectionSum := sha1.Sum(section)
	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)

	results, err := client.RestoreFile(&restore.Job{
		RepoFile: "backup/20260825-093000F/data.bundle",
		Files: []restore.File{
			{
				Name:         "base/full.dat",
				Checksum:     fullSum[:],
				Size:         uint64(len(bundle)),
				TimeModified: mtime.Unix(),
				Mode:         0o600,
				ManifestFile: "pg_data/base/full.dat",
			},
			{
				Name:         "base/sparse.dat",
				Zero:         true,
				Size:         4096,
				TimeModified: mtime.Unix(),
				Mode:         0o600,
				ManifestFile: "pg_data/base/sparse.dat",
			},
			{
				Name:         "base/section.dat",
				Checksum:     sectionSum[:],
				Size:         sectionLimit,
				TimeModified: mtime.Unix(),
				Mode:         0o644,
				Offset:       4,
				Limit:        &sectionLimit,
				ManifestFile: "pg_data/base/section.dat",
			},
		},
	})
	if err != nil {
		t.Fatalf("RestoreFile() error: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	wantResults := []restore.Result{restore.ResultCopy, restore.ResultZero, restore.ResultCopy}
	for i, want := range wantResults {
		if results[i].Result != want {
			t.Errorf("results[%d] = %v, want %v", i, results[i].Result, want)
		}
	}

	full, err := os.ReadFile(filepath.Join(destDir, "base", "full.dat"))
	if err != nil {
		t.Fatalf("read full.dat: %v", err)
	}
	if string(full) != string(bundle) {
		t.Errorf("full.dat content mismatch")
	}

	info, err := os.Stat(filepath.Join(destDir, "base", "sparse.dat"))
	if err != nil {
		t.Fatalf("stat sparse.dat: %v", err)
	}
	if info.Size() != 4096 {
		t.Errorf("sparse.dat size = %d, want 4096", info.Size())
	}

	sect, err := os.ReadFile(filepath.Join(destDir, "base", "section.dat"))
	if err != nil {
		t.Fatalf("read section.dat: %v", err)
	}
	if string(sect) != string(section) {
		t.Errorf("section.dat = %q, want %q", sect, section)
	}

	if err := client.Quit(); err != nil {
		t.Fatalf("Quit() error: %v", err)
	}

	if err := d.Stop(); err != nil {
		t.Fatalf("Stop() error: %v", err)
	}
}

// TestE2E_EncryptedRestore stages an encrypted repository file and
// restores it with the passphrase carried in the job.
func TestE2E_EncryptedRestore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pki := newIntPKI(t)
	repoDir := t.TempDir()
	destDir := t.TempDir()

	plaintext := []byte("encrypted repository payload\n")
	passphrase := "0p3n-sesame"

	out, err := os.Create(filepath.Join(repoDir, "secret.bundle"))
	if err != nil {
		t.Fatalf("create bundle: %v", err)
	}
	enc, err := crypto.NewEncryptor(out, crypto.Config{
		Cipher:     crypto.AES256CBC,
		Passphrase: []byte(passphrase),
	})
	if err != nil {
		t.Fatalf("NewEncryptor() error: %v", err)
	}
	if _, err := enc.Write(plaintext); err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close encryptor: %v", err)
	}
	if err := out.Close(); err != nil {
		t.Fatalf("close bundle: %v", err)
	}

	d := startServer(t, serverArgs(pki, "-repo-path", repoDir, "-restore-path", destDir))
	client := connect(t, d, pki.caFile, pki.clientCert, pki.clientKey)

	sum := sha1.Sum(plaintext)
	results, err := client.RestoreFile(&restore.Job{
		RepoFile:   "secret.bundle",
		CipherPass: passphrase,
		Files: []restore.File{{
			Name:         "secret.txt",
			Checksum:     sum[:],
			Size:         uint64(len(plaintext)),
			TimeModified: time.Now().Unix(),
			Mode:         0o600,
			ManifestFile: "pg_data/secret.txt",
		}},
	})
	if err != nil {
		t.Fatalf("RestoreFile() error: %v", err)
	}
	if len(results) != 1 || results[0].Result != restore.ResultCopy {
		t.Fatalf("results = %+v, want one copy", results)
	}

	restored, err := os.ReadFile(filepath.Join(destDir, "secret.txt"))
	if err != nil {
		t.Fatalf("read restored file: %v", err)
	}
	if string(restored) != string(plaintext) {
		t.Errorf("restored = %q, want %q", restored, plaintext)
	}
}

// TestE2E_DeltaRestore verifies that a delta job keeps files that
// already match the manifest and copies the rest.
func TestE2E_DeltaRestore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pki := newIntPKI(t)
	repoDir := t.TempDir()
	destDir := t.TempDir()

	content := []byte("delta restore content\n")
	if err := os.WriteFile(filepath.Join(repoDir, "data.bundle"), content, 0o644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}

	// matching.dat already holds the right bytes; stale.dat does not.
	if err := os.WriteFile(filepath.Join(destDir, "matching.dat"), content, 0o600); err != nil {
		t.Fatalf("stage matching file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(destDir, "stale.dat"), []byte("old content"), 0o600); err != nil {
		t.Fatalf("stage stale file: %v", err)
	}

	d := startServer(t, serverArgs(pki, "-repo-path", repoDir, "-restore-path", destDir))
	client := connect(t, d, pki.caFile, pki.clientCert, pki.clientKey)

	sum := sha1.Sum(content)
	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)
	mkFile := func(name string) restore.File {
		return restore.File{
			Name:         name,
			Checksum:     sum[:],
			Size:         uint64(len(content)),
			TimeModified: mtime.Unix(),
			Mode:         0o600,
			ManifestFile: "pg_data/" + name,
		}
	}

	results, err := client.RestoreFile(&restore.Job{
		RepoFile: "data.bundle",
		Delta:    true,
		Files:    []restore.File{mkFile("matching.dat"), mkFile("stale.dat")},
	})
	if err != nil {
		t.Fatalf("RestoreFile() error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Result != restore.ResultPreserve {
		t.Errorf("matching.dat = %v, want %v", results[0].Result, restore.ResultPreserve)
	}
	if results[1].Result != restore.ResultCopy {
		t.Errorf("stale.dat = %v, want %v", results[1].Result, restore.ResultCopy)
	}

	stale, err := os.ReadFile(filepath.Join(destDir, "stale.dat"))
	if err != nil {
		t.Fatalf("read stale.dat: %v", err)
	}
	if string(stale) != string(content) {
		t.Errorf("stale.dat not rewritten: %q", stale)
	}
}

// TestE2E_CertificatePolicy exercises the authentication policy across
// the trust spectrum: a trusted certificate, no certificate, and a
// revoked certificate. Only the first may run privileged operations;
// none are refused a connection.
func TestE2E_CertificatePolicy(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pki := newIntPKI(t)
	repoDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(repoDir, "data.bundle"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}

	d := startServer(t, serverArgs(pki,
		"-crl", pki.crlFile,
		"-repo-path", repoDir,
		"-restore-path", t.TempDir(),
	))

	job := func() *restore.Job {
		sum := sha1.Sum([]byte("x"))
		return &restore.Job{
			RepoFile: "data.bundle",
			Files: []restore.File{{
				Name:         "data.txt",
				Checksum:     sum[:],
				Size:         1,
				TimeModified: time.Now().Unix(),
				Mode:         0o600,
				ManifestFile: "pg_data/data.txt",
			}},
		}
	}

	t.Run("Trusted", func(t *testing.T) {
		client := connect(t, d, pki.caFile, pki.clientCert, pki.clientKey)
		if !client.Authenticated() {
			t.Fatal("trusted certificate not authenticated")
		}
		if _, err := client.RestoreFile(job()); err != nil {
			t.Fatalf("RestoreFile() error: %v", err)
		}
	})

	t.Run("NoCertificate", func(t *testing.T) {
		client := connect(t, d, pki.caFile, "", "")
		if client.Authenticated() {
			t.Fatal("certless session reports authenticated")
		}
		if err := client.Ping(); err != nil {
			t.Fatalf("Ping() error: %v", err)
		}
		if _, err := client.RestoreFile(job()); !errors.Is(err, protocol.ErrDenied) {
			t.Fatalf("RestoreFile() error = %v, want %v", err, protocol.ErrDenied)
		}
	})

	t.Run("RevokedCertificate", func(t *testing.T) {
		client := connect(t, d, pki.caFile, pki.revokedCert, pki.revokedKey)
		if client.Authenticated() {
			t.Fatal("revoked certificate reports authenticated")
		}
		if err := client.Ping(); err != nil {
			t.Fatalf("Ping() error: %v", err)
		}
		if _, err := client.RestoreFile(job()); !errors.Is(err, protocol.ErrDenied) {
			t.Fatalf("RestoreFile() error = %v, want %v", err, protocol.ErrDenied)
		}
	})
}

// TestE2E_TLSVersionFloor verifies that peers below TLS 1.2 cannot
// complete a handshake.
func TestE2E_TLSVersionFloor(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pki := newIntPKI(t)
	d := startServer(t, serverArgs(pki))

	legacy, err := tls.Dial("tcp", d.Addr(), &tls.Config{
		MinVersion:         tls.VersionTLS10,
		MaxVersion:         tls.VersionTLS11,
		InsecureSkipVerify: true,
	})
	if err == nil {
		legacy.Close()
		t.Fatal("TLS 1.1 handshake succeeded against a 1.2 floor")
	}

	// The same dial at 1.2 goes through.
	modern, err := tls.Dial("tcp", d.Addr(), &tls.Config{
		MinVersion:         tls.VersionTLS12,
		MaxVersion:         tls.VersionTLS12,
		InsecureSkipVerify: true,
		NextProtos:         []string{transport.ALPNProtocol},
	})
	if err != nil {
		t.Fatalf("TLS 1.2 handshake failed: %v", err)
	}
	modern.Close()
}

// TestE2E_ReloadWhileServing swaps the server certificate through a
// configuration reload and checks that the established session stays on
// the old certificate while new connections get the new one.
func TestE2E_ReloadWhileServing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pki := newIntPKI(t)
	certB, keyB := pki.issue(t, "server-b", func(tmpl *x509.Certificate) {
		tmpl.IPAddresses = []net.IP{net.ParseIP("127.0.0.1")}
		tmpl.DNSNames = []string{"server-b"}
		tmpl.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	})

	cfgPath := filepath.Join(pki.dir, "cofferd.yaml")
	writeConfig := func(certFile, keyFile string) {
		t.Helper()
		yaml := fmt.Sprintf("address: 127.0.0.1\nport: 0\ncert: %s\nkey: %s\nca: %s\ntimeout: 3000\n",
			certFile, keyFile, pki.caFile)
		if err := os.WriteFile(cfgPath, []byte(yaml), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	writeConfig(pki.serverCert, pki.serverKey)

	d := startServer(t, []string{"-config", cfgPath})
	held := connect(t, d, pki.caFile, pki.clientCert, pki.clientKey)
	if err := held.Ping(); err != nil {
		t.Fatalf("Ping() before reload: %v", err)
	}

	writeConfig(certB, keyB)
	d.TriggerReload()

	// New connections present the new certificate once the swap lands.
	newCert, err := transport.NewClient(transport.ClientConfig{
		CAFile:     pki.caFile,
		ServerName: "server-b",
		Timeout:    time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		sess, err := newCert.Connect(context.Background(), d.Addr())
		if err == nil {
			sess.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("new certificate never became active: %v", err)
		}
		time.Sleep(50 * time.Millisecond)
	}

	// The pre-reload session still works on its original context.
	if err := held.Ping(); err != nil {
		t.Fatalf("Ping() on pre-reload session: %v", err)
	}
	if err := held.Quit(); err != nil {
		t.Fatalf("Quit() error: %v", err)
	}
}
