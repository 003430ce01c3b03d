package bus

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNatsTLSDisabledWithoutSettings(t *testing.T) {
	cfg, err := natsTLSConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != nil {
		t.Fatalf("expected plain connection without tls settings, got %+v", cfg)
	}
}

func TestNatsTLSServerNameOnly(t *testing.T) {
	t.Setenv(envNATSTLSServerName, "nats.ipspatch.internal")
	cfg, err := natsTLSConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil || cfg.ServerName != "nats.ipspatch.internal" {
		t.Fatalf("expected server name override, got %+v", cfg)
	}
	if cfg.MinVersion != tls.VersionTLS12 || cfg.InsecureSkipVerify {
		t.Fatalf("expected verified TLS 1.2+ config, got %+v", cfg)
	}
}

func TestNatsTLSInsecureOptIn(t *testing.T) {
	for _, val := range []string{"true", "1", "on"} {
		t.Setenv(envNATSTLSInsecure, val)
		cfg, err := natsTLSConfigFromEnv()
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", val, err)
		}
		if cfg == nil || !cfg.InsecureSkipVerify {
			t.Fatalf("%s: expected insecure config", val)
		}
	}
	t.Setenv(envNATSTLSInsecure, "off")
	if cfg, _ := natsTLSConfigFromEnv(); cfg != nil {
		t.Fatalf("expected no tls config when insecure is off")
	}
}

func TestNatsTLSMutualAuth(t *testing.T) {
	certPath, keyPath := writeBrokerCert(t, t.TempDir())
	t.Setenv(envNATSTLSCA, certPath)
	t.Setenv(envNATSTLSCert, certPath)
	t.Setenv(envNATSTLSKey, keyPath)
	t.Setenv(envNATSTLSServerName, "nats.ipspatch.internal")

	cfg, err := natsTLSConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RootCAs == nil || len(cfg.Certificates) != 1 {
		t.Fatalf("expected ca pool and client certificate, got %+v", cfg)
	}
	if cfg.ServerName != "nats.ipspatch.internal" {
		t.Fatalf("expected server name kept alongside certificates")
	}
}

func TestNatsTLSRejectsPartialSettings(t *testing.T) {
	dir := t.TempDir()
	certPath, _ := writeBrokerCert(t, dir)
	garbage := filepath.Join(dir, "garbage.pem")
	if err := os.WriteFile(garbage, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cases := map[string]map[string]string{
		"cert without key": {envNATSTLSCert: certPath},
		"key without cert": {envNATSTLSKey: certPath},
		"missing ca file":  {envNATSTLSCA: filepath.Join(dir, "absent.pem")},
		"unparseable ca":   {envNATSTLSCA: garbage},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := natsTLSConfigFromEnv(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

// writeBrokerCert writes a self-signed certificate usable both as the CA and
// as the client key pair.
func writeBrokerCert(t *testing.T, dir string) (string, string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(42),
		Subject:               pkix.Name{CommonName: "nats.ipspatch.internal"},
		DNSNames:              []string{"nats.ipspatch.internal"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create cert: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}

	certPath := filepath.Join(dir, "nats-client.crt")
	keyPath := filepath.Join(dir, "nats-client.key")
	if err := os.WriteFile(certPath, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600); err != nil {
		t.Fatalf("write cert: %v", err)
	}
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	return certPath, keyPath
}
