package instrument

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/luksan/rss-im-sweep/internal/logging"
)

// SSHConfig describes the jump host used to reach an analyzer on an
// isolated lab network.
type SSHConfig struct {
	Host     string
	User     string
	Password string
	KeyPath  string
	Port     int
}

// SSHDialer forwards the raw SCPI socket through an SSH jump host. The SSH
// client is established lazily and shared by every Dial.
type SSHDialer struct {
	mu      sync.Mutex
	cfg     SSHConfig
	client  *ssh.Client
	Timeout time.Duration
	Logger  logging.Logger
}

// NewSSHDialer validates cfg.
func NewSSHDialer(cfg SSHConfig) (*SSHDialer, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("ssh host is required for the ssh backend")
	}
	if cfg.User == "" {
		cfg.User = "instrument"
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Password == "" && cfg.KeyPath == "" {
		return nil, fmt.Errorf("no ssh password or key configured")
	}
	return &SSHDialer{cfg: cfg, Timeout: defaultTimeout}, nil
}

func (d *SSHDialer) Dial(ctx context.Context, addr string) (Instrument, error) {
	client, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}
	conn, err := client.Dial("tcp", WithDefaultPort(addr))
	if err != nil {
		return nil, fmt.Errorf("forward to %s: %w", addr, err)
	}
	return NewSocket(conn, d.Timeout, d.Logger), nil
}

// Close tears down the shared SSH client.
func (d *SSHDialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

func (d *SSHDialer) connect(ctx context.Context) (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil {
		return d.client, nil
	}

	auth, err := d.authMethods()
	if err != nil {
		return nil, err
	}
	config := &ssh.ClientConfig{
		User:            d.cfg.User,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         d.Timeout,
	}

	addr := net.JoinHostPort(d.cfg.Host, strconv.Itoa(d.cfg.Port))
	dialer := net.Dialer{Timeout: d.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial ssh: %w", err)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake: %w", err)
	}
	d.client = ssh.NewClient(clientConn, chans, reqs)
	return d.client, nil
}

func (d *SSHDialer) authMethods() ([]ssh.AuthMethod, error) {
	auth := []ssh.AuthMethod{}
	if d.cfg.Password != "" {
		auth = append(auth, ssh.Password(d.cfg.Password))
	}
	if d.cfg.KeyPath != "" {
		key, err := os.ReadFile(d.cfg.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read ssh key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse ssh key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	return auth, nil
}
