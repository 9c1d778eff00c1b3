/*
 * MIT License
 *
 * Copyright (c) 2021 Eduardo Ramos
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 */

// Package httls loads a key/certificate pair for the server or client side
// of an HTTP/2 connection. TLS primitives themselves (cipher suite
// selection, certificate parsing, session resumption) are out of scope per
// spec.md §1 — this package only gets a *tls.Config assembled so the
// underlying golang.org/x/net/http2 stack can use it.
package httls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/testillano/http2comm/errcode"
)

// Config describes a PEM key/certificate pair, optionally passphrase-protected.
type Config struct {
	// KeyFile/CertFile are paths to PEM-encoded files. Either may be left
	// empty and KeyPEM/CertPEM used instead for in-memory certificates.
	KeyFile  string `mapstructure:"key_file" json:"key_file" yaml:"key_file"`
	CertFile string `mapstructure:"cert_file" json:"cert_file" yaml:"cert_file"`

	KeyPEM  []byte `json:"-" yaml:"-"`
	CertPEM []byte `json:"-" yaml:"-"`

	// Passphrase supplies the password for an encrypted private key, if any.
	Passphrase func() string `json:"-" yaml:"-"`

	// InsecureSkipVerify is only meaningful on the client side, for test
	// harnesses talking to a self-signed server.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify" json:"insecure_skip_verify" yaml:"insecure_skip_verify"`
}

// IsSet reports whether enough material was provided to build a certificate.
func (c Config) IsSet() bool {
	return c.KeyFile != "" || len(c.KeyPEM) > 0
}

// ServerTLSConfig builds a *tls.Config carrying the loaded certificate, for
// use as http.Server.TLSConfig / http2.ConfigureServer input.
func (c Config) ServerTLSConfig() (*tls.Config, error) {
	cert, err := c.loadCertificate()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"h2"},
	}, nil
}

// ClientTLSConfig builds a *tls.Config for an outbound connection. A
// client certificate is only attached when IsSet() is true; it is valid
// for a client to use TLS without presenting a client certificate.
func (c Config) ClientTLSConfig(serverName string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         serverName,
		InsecureSkipVerify: c.InsecureSkipVerify, //nolint:gosec // explicit opt-in, test/dev use
		NextProtos:         []string{"h2"},
	}

	if c.IsSet() {
		cert, err := c.loadCertificate()
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

func (c Config) loadCertificate() (tls.Certificate, error) {
	keyPEM, certPEM := c.KeyPEM, c.CertPEM

	if len(keyPEM) == 0 && c.KeyFile != "" {
		b, err := os.ReadFile(c.KeyFile)
		if err != nil {
			return tls.Certificate{}, errcode.Wrap(errcode.TLSLoadFailed, err)
		}
		keyPEM = b
	}

	if len(certPEM) == 0 && c.CertFile != "" {
		b, err := os.ReadFile(c.CertFile)
		if err != nil {
			return tls.Certificate{}, errcode.Wrap(errcode.TLSLoadFailed, err)
		}
		certPEM = b
	}

	if c.Passphrase != nil {
		if decrypted, err := decryptPEMBlock(keyPEM, c.Passphrase()); err != nil {
			return tls.Certificate{}, errcode.Wrap(errcode.TLSLoadFailed, err)
		} else if decrypted != nil {
			keyPEM = decrypted
		}
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return tls.Certificate{}, errcode.Wrap(errcode.TLSLoadFailed, err)
	}
	return cert, nil
}

// decryptPEMBlock returns a re-encoded, unencrypted PEM block when the key
// block declares encryption headers, or nil when the key is already
// plaintext (the common case — callers keep the original bytes).
func decryptPEMBlock(keyPEM []byte, passphrase string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, nil
	}
	if !isEncryptedBlock(block) {
		return nil, nil
	}

	//nolint:staticcheck // x509.DecryptPEMBlock is deprecated upstream but
	// remains the only std-lib path for PEM header-based encryption (PKCS#1),
	// which is what the spec's "passphrase callback" describes.
	der, err := x509.DecryptPEMBlock(block, []byte(passphrase)) //nolint:staticcheck
	if err != nil {
		return nil, err
	}

	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}

func isEncryptedBlock(block *pem.Block) bool {
	_, ok := block.Headers["DEK-Info"]
	return ok
}
