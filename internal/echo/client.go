package echo

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/danmuck/lineecho/internal/protocol/frame"
)

var ErrAddressRequired = errors.New("echo: server address required")

type ClientConfig struct {
	Address        string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// TLS is used when CAFile is set. CertFile/KeyFile add a client certificate.
	CAFile     string
	ServerName string
	CertFile   string
	KeyFile    string
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Address:        DefaultListenAddr,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   5 * time.Second,
	}
}

// Client is a small line-protocol client. Echoes arrive without delimiters,
// so callers read back the number of bytes they expect.
type Client struct {
	cfg  ClientConfig
	conn net.Conn
}

func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	addr := strings.TrimSpace(cfg.Address)
	if addr == "" {
		return nil, ErrAddressRequired
	}
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.CAFile) == "" {
		return &Client{cfg: cfg, conn: conn}, nil
	}

	tlsCfg, err := cfg.clientTLSConfig()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	tlsConn := tls.Client(conn, tlsCfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("echo: tls handshake: %w", err)
	}
	return &Client{cfg: cfg, conn: tlsConn}, nil
}

func (c ClientConfig) clientTLSConfig() (*tls.Config, error) {
	pool, err := loadCertPool(c.CAFile)
	if err != nil {
		return nil, err
	}
	serverName := strings.TrimSpace(c.ServerName)
	if serverName == "" {
		host, _, err := net.SplitHostPort(c.Address)
		if err != nil {
			return nil, err
		}
		serverName = host
	}
	cfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    pool,
		ServerName: serverName,
	}
	if strings.TrimSpace(c.CertFile) != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// Send writes payload followed by the delimiter.
func (c *Client) Send(payload []byte) error {
	return c.WriteRaw(frame.Append(nil, payload))
}

// WriteRaw writes b as-is, for callers that split frames across writes.
func (c *Client) WriteRaw(b []byte) error {
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	_, err := c.conn.Write(b)
	return err
}

// ReadExactly reads n echoed bytes.
func (c *Client) ReadExactly(n int) ([]byte, error) {
	if c.cfg.ReadTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(c.conn, out); err != nil {
		return out, err
	}
	return out, nil
}

// ReadAvailable returns whatever arrives before wait elapses. A timeout with
// no data is not an error.
func (c *Client) ReadAvailable(wait time.Duration) ([]byte, error) {
	var out []byte
	buf := make([]byte, DefaultReadBufferSize)
	deadline := time.Now().Add(wait)
	for {
		_ = c.conn.SetReadDeadline(deadline)
		n, err := c.conn.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return out, nil
			}
			return out, err
		}
	}
}

// CloseWrite half-closes the connection so the server sees end of stream.
func (c *Client) CloseWrite() error {
	type closeWriter interface {
		CloseWrite() error
	}
	if cw, ok := c.conn.(closeWriter); ok {
		return cw.CloseWrite()
	}
	return errors.New("echo: connection does not support half-close")
}

func (c *Client) Close() error {
	return c.conn.Close()
}
