// Package certgen issues a private CA plus server and client certificates
// for the node's mutually authenticated RPC listener.
package certgen

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

// Options configures additional Subject Alternative Names for the server
// certificate.
type Options struct {
	ExtraIPs []net.IP
	ExtraDNS []string
	// ClientName is the common name of the RPC client certificate; defaults
	// to "rpc-client".
	ClientName string
}

// Files lists the PEM paths written by GenerateAll.
type Files struct {
	CACert, CAKey         string
	ServerCert, ServerKey string
	ClientCert, ClientKey string
}

type issued struct {
	cert *x509.Certificate
	der  []byte
	key  *ecdsa.PrivateKey
}

// GenerateAll creates a CA, a server certificate for nodeID and a client
// certificate, all as PEM files in dir:
//
//	ca.crt, ca.key, <nodeID>.crt, <nodeID>.key, <client>.crt, <client>.key
//
// Keys are written with 0600 permissions. Pass nil opts for localhost-only
// defaults.
func GenerateAll(dir, nodeID string, opts *Options) (*Files, error) {
	if opts == nil {
		opts = &Options{}
	}
	client := opts.ClientName
	if client == "" {
		client = "rpc-client"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}

	ca, err := issue(&x509.Certificate{
		Subject:               pkix.Name{CommonName: "lottochain RPC CA"},
		NotAfter:              time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		IsCA:                  true,
		BasicConstraintsValid: true,
		MaxPathLenZero:        true,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("CA: %w", err)
	}

	server, err := issue(&x509.Certificate{
		Subject:     pkix.Name{CommonName: nodeID},
		NotAfter:    time.Now().Add(2 * 365 * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses: append([]net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback}, opts.ExtraIPs...),
		DNSNames:    append([]string{"localhost", nodeID}, opts.ExtraDNS...),
	}, ca)
	if err != nil {
		return nil, fmt.Errorf("server cert: %w", err)
	}

	clientCert, err := issue(&x509.Certificate{
		Subject:     pkix.Name{CommonName: client},
		NotAfter:    time.Now().Add(2 * 365 * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}, ca)
	if err != nil {
		return nil, fmt.Errorf("client cert: %w", err)
	}

	files := &Files{
		CACert: filepath.Join(dir, "ca.crt"), CAKey: filepath.Join(dir, "ca.key"),
		ServerCert: filepath.Join(dir, nodeID+".crt"), ServerKey: filepath.Join(dir, nodeID+".key"),
		ClientCert: filepath.Join(dir, client+".crt"), ClientKey: filepath.Join(dir, client+".key"),
	}
	for _, w := range []struct {
		certPath, keyPath string
		c                 *issued
	}{
		{files.CACert, files.CAKey, ca},
		{files.ServerCert, files.ServerKey, server},
		{files.ClientCert, files.ClientKey, clientCert},
	} {
		if err := save(w.certPath, w.keyPath, w.c); err != nil {
			return nil, err
		}
	}
	return files, nil
}

// issue signs template with parent, or self-signs when parent is nil.
func issue(template *x509.Certificate, parent *issued) (*issued, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	template.SerialNumber = serial
	template.NotBefore = time.Now().Add(-1 * time.Hour)

	signerCert, signerKey := template, key
	if parent != nil {
		signerCert, signerKey = parent.cert, parent.key
	}
	der, err := x509.CreateCertificate(rand.Reader, template, signerCert, &key.PublicKey, signerKey)
	if err != nil {
		return nil, fmt.Errorf("create cert: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse cert: %w", err)
	}
	return &issued{cert: cert, der: der, key: key}, nil
}

func save(certPath, keyPath string, c *issued) error {
	if err := writePEM(certPath, "CERTIFICATE", c.der, 0644); err != nil {
		return err
	}
	keyDER, err := x509.MarshalECPrivateKey(c.key)
	if err != nil {
		return err
	}
	return writePEM(keyPath, "EC PRIVATE KEY", keyDER, 0600)
}

func writePEM(path, typ string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: typ, Bytes: data})
}
