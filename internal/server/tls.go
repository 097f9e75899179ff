package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"log/slog"
	"math/big"
	"os"
	"time"
)

const (
	devCertFile = "dev_cert.pem"
	devKeyFile  = "dev_key.pem"

	// 浏览器按 serverCertificateHashes 信任自签名证书时，有效期不得超过 14 天
	devCertValidity = 10 * 24 * time.Hour
	devCertMinLeft  = 24 * time.Hour
)

var errCertExpiring = errors.New("certificate expires soon")

func newTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h3", "webtransport"},
		MinVersion:   tls.VersionTLS13,
	}
}

// CertHash 证书 DER 的 SHA-256（base64），供浏览器 serverCertificateHashes 使用
func CertHash(cert tls.Certificate) string {
	if len(cert.Certificate) == 0 {
		return ""
	}
	sum := sha256.Sum256(cert.Certificate[0])
	return base64.StdEncoding.EncodeToString(sum[:])
}

// generateSelfSignedTLSConfig 开发环境证书：已有且未临近过期则复用，否则重新生成并落盘
func generateSelfSignedTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := loadDevCert(certFile, keyFile)
	if err != nil {
		slog.Info("Generating dev certificate", "reason", err)
		if cert, err = createDevCert(certFile, keyFile); err != nil {
			return nil, err
		}
	}
	slog.Info("Dev certificate ready", "cert", certFile, "sha256", CertHash(cert))
	return newTLSConfig(cert), nil
}

func loadDevCert(certFile, keyFile string) (tls.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return cert, err
	}
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		return cert, err
	}
	if time.Until(leaf.NotAfter) < devCertMinLeft {
		return cert, errCertExpiring
	}
	cert.Leaf = leaf
	return cert, nil
}

func createDevCert(certFile, keyFile string) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(now.UnixNano()),
		Subject:               pkix.Name{Organization: []string{"Chat Relay Dev"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(devCertValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(certFile, certPEM, 0o644); err != nil {
		return tls.Certificate{}, err
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		return tls.Certificate{}, err
	}
	return tls.X509KeyPair(certPEM, keyPEM)
}
