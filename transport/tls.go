package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// TLSFiles names PEM files for LoadTLS.
type TLSFiles struct {
	CertFile string
	KeyFile  string
	// CAFile, when set, is used both to verify servers and to require
	// client certificates.
	CAFile string
	// InsecureSkipVerify disables server verification on the dialing side.
	InsecureSkipVerify bool
}

// LoadTLS builds a tls.Config from PEM files.
// A config with only InsecureSkipVerify set is valid for dialing.
func LoadTLS(files TLSFiles) (*tls.Config, error) {
	conf := &tls.Config{
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: files.InsecureSkipVerify, //nolint:gosec // opt-in for self-signed dev setups
	}

	if files.CertFile != "" || files.KeyFile != "" {
		if files.CertFile == "" || files.KeyFile == "" {
			return nil, errors.New("transport: cert and key must be set together")
		}
		cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("transport: load key pair: %w", err)
		}
		conf.Certificates = []tls.Certificate{cert}
	}

	if files.CAFile != "" {
		pem, err := os.ReadFile(files.CAFile)
		if err != nil {
			return nil, fmt.Errorf("transport: read CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("transport: no certificates in %s", files.CAFile)
		}
		conf.RootCAs = pool
		conf.ClientCAs = pool
		conf.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return conf, nil
}

// SelfSigned returns a server tls.Config with a fresh ECDSA P-256
// certificate valid for the given hosts (IPs or DNS names) for 24 hours.
// Dialers must set InsecureSkipVerify or trust the returned leaf.
func SelfSigned(hosts ...string) (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("transport: generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("transport: generate serial: %w", err)
	}

	tmpl := x509.Certificate{
		Subject:               pkix.Name{CommonName: "tproto self-signed"},
		SerialNumber:          serial,
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("transport: create certificate: %w", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("transport: parse certificate: %w", err)
	}

	return &tls.Config{
		MinVersion: tls.VersionTLS13,
		Certificates: []tls.Certificate{{
			Certificate: [][]byte{der},
			PrivateKey:  key,
			Leaf:        leaf,
		}},
	}, nil
}

// TrustLeaf returns a dialing tls.Config that trusts the first
// certificate of server.
func TrustLeaf(server *tls.Config) (*tls.Config, error) {
	if server == nil || len(server.Certificates) == 0 || server.Certificates[0].Leaf == nil {
		return nil, errors.New("transport: server config has no parsed leaf certificate")
	}
	pool := x509.NewCertPool()
	pool.AddCert(server.Certificates[0].Leaf)
	return &tls.Config{MinVersion: tls.VersionTLS13, RootCAs: pool}, nil
}
