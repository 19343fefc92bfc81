package quic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/trailsync/trailsync/internal/core/observability/log"
	"github.com/trailsync/trailsync/internal/core/protocol"
)

const alpnProtocol = "trailsync-quic"

// Listener accepts QUIC snapshot connections. Each accepted connection
// opens exactly one bidirectional stream carrying envelopes.
type Listener struct {
	listener *quic.Listener
	config   protocol.Config
	codec    protocol.Codec
	logger   log.Log
}

// Listen binds a QUIC listener. A nil tlsConfig falls back to a
// self-signed development certificate.
func Listen(addr string, tlsConfig *tls.Config, config protocol.Config, codec protocol.Codec, logger log.Log) (*Listener, error) {
	if tlsConfig == nil {
		tlsConfig = generateTLSConfig()
	}
	if logger == nil {
		logger = log.Provide()
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, errors.Wrap(protocol.ErrListenFailed, err.Error())
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, errors.Wrap(protocol.ErrListenFailed, err.Error())
	}

	listener, err := quic.Listen(udpConn, tlsConfig, &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 15 * time.Second,
	})
	if err != nil {
		_ = udpConn.Close()
		return nil, errors.Wrap(protocol.ErrListenFailed, err.Error())
	}

	l := &Listener{
		listener: listener,
		config:   config,
		codec:    codec,
		logger:   logger.With(log.String("transport", "quic")),
	}
	l.logger.Info("QUIC listener started", log.String("addr", listener.Addr().String()))
	return l, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Accept blocks for the next connection and its envelope stream.
func (l *Listener) Accept(ctx context.Context) (*Connection, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to accept connection")
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, errors.Wrap(err, "failed to accept stream")
	}
	c := newConnection(conn, stream, l.config, l.codec)
	l.logger.Debug("connection accepted",
		log.String("id", c.ID()),
		log.String("remote", c.RemoteAddr().String()))
	return c, nil
}

// Close stops accepting connections.
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Dial connects to a QUIC endpoint and opens the envelope stream. A nil
// tlsConfig trusts any certificate, matching the development listener.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config, config protocol.Config, codec protocol.Codec) (*Connection, error) {
	if tlsConfig == nil {
		tlsConfig = &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{alpnProtocol},
			MinVersion:         tls.VersionTLS13,
		}
	}
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 15 * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(protocol.ErrDialFailed, err.Error())
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return nil, errors.Wrap(protocol.ErrDialFailed, err.Error())
	}
	return newConnection(conn, stream, config, codec), nil
}

// generateTLSConfig builds a self-signed TLS config for development.
func generateTLSConfig() *tls.Config {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		panic(err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"TrailSync"},
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:    x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:    []string{"localhost"},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		panic(err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		panic(err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		NextProtos:   []string{alpnProtocol},
		MinVersion:   tls.VersionTLS13,
	}
}
