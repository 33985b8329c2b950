package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

var (
	ErrSSHConnection     = errors.New("ssh: connection failed")
	ErrSSHAuthentication = errors.New("ssh: authentication failed")
)

type SSHConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	PrivateKey     string
	KnownHostsPath string
	Timeout        time.Duration
	MaxRetries     int
}

type SSHClient struct {
	config SSHConfig
}

func NewSSHClient(cfg SSHConfig) *SSHClient {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	return &SSHClient{config: cfg}
}

// LoadPrivateKey reads a PEM key from disk; an empty path yields an empty key.
func LoadPrivateKey(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read private key: %w", err)
	}
	return string(b), nil
}

func (c *SSHClient) getAuthMethods() ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	if c.config.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(c.config.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("%w: invalid private key", ErrSSHAuthentication)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if c.config.Password != "" {
		authMethods = append(authMethods, ssh.Password(c.config.Password))
	}

	if len(authMethods) == 0 {
		return nil, fmt.Errorf("%w: no credentials provided", ErrSSHAuthentication)
	}

	return authMethods, nil
}

func (c *SSHClient) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.config.KnownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(c.config.KnownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return cb, nil
}

// ConnectWithRetry dials the server, backing off linearly between attempts.
func (c *SSHClient) ConnectWithRetry(ctx context.Context) (*ssh.Client, error) {
	authMethods, err := c.getAuthMethods()
	if err != nil {
		return nil, err
	}
	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	sshConfig := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.config.Timeout,
	}

	addr := net.JoinHostPort(c.config.Host, fmt.Sprint(c.config.Port))
	var connectErr error

	for attempt := 1; attempt <= c.config.MaxRetries; attempt++ {
		dialer := net.Dialer{
			Timeout:   c.config.Timeout,
			KeepAlive: 60 * time.Second,
		}

		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			connectErr = err
		} else {
			// handshake deadline only; cleared once the session is up
			_ = conn.SetDeadline(time.Now().Add(c.config.Timeout))

			sc, chans, reqs, err := ssh.NewClientConn(conn, addr, sshConfig)
			if err != nil {
				conn.Close()
				connectErr = err
			} else {
				_ = conn.SetDeadline(time.Time{})
				return ssh.NewClient(sc, chans, reqs), nil
			}
		}

		if attempt < c.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrSSHConnection, ctx.Err())
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}

	errType := "connection failed"
	if errors.Is(connectErr, context.DeadlineExceeded) || (connectErr != nil && (strings.Contains(connectErr.Error(), "timeout") || strings.Contains(connectErr.Error(), "deadline"))) {
		errType = "connection timed out"
	}

	return nil, fmt.Errorf("%w: %s: %v (after %d attempts)", ErrSSHConnection, errType, connectErr, c.config.MaxRetries)
}
