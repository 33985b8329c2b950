package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sync"

	"github.com/pkg/sftp"
	"github.com/processlens/backend/internal/config"
	"github.com/processlens/backend/internal/core/ports"
	"github.com/processlens/backend/internal/core/services"
	"github.com/processlens/backend/internal/infrastructure/logger"
)

// connectFunc opens an SFTP session; the returned closer tears down the transport.
type connectFunc func(ctx context.Context) (*sftp.Client, io.Closer, error)

// SFTPStore keeps uploads as files in a remote directory.
type SFTPStore struct {
	dir     string
	connect connectFunc
	log     *logger.Logger

	mu     sync.Mutex
	client *sftp.Client
	conn   io.Closer
}

func NewSFTPStore(cfg config.SFTPConfig, log *logger.Logger) (ports.UploadStore, error) {
	key, err := LoadPrivateKey(cfg.PrivateKeyPath)
	if err != nil {
		return nil, err
	}
	sshClient := NewSSHClient(SSHConfig{
		Host:       cfg.Host,
		Port:       cfg.Port,
		User:       cfg.User,
		Password:   cfg.Password,
		PrivateKey: key,
		Timeout:    cfg.Timeout,
	})

	connect := func(ctx context.Context) (*sftp.Client, io.Closer, error) {
		conn, err := sshClient.ConnectWithRetry(ctx)
		if err != nil {
			return nil, nil, err
		}
		client, err := sftp.NewClient(conn)
		if err != nil {
			conn.Close()
			return nil, nil, fmt.Errorf("failed to create sftp client: %w", err)
		}
		return client, conn, nil
	}
	return newSFTPStore(cfg.Directory, connect, log), nil
}

func newSFTPStore(dir string, connect connectFunc, log *logger.Logger) *SFTPStore {
	return &SFTPStore{dir: dir, connect: connect, log: log}
}

func (s *SFTPStore) Name() string { return "sftp" }

// session returns the cached client, connecting on first use.
func (s *SFTPStore) session(ctx context.Context) (*sftp.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}
	client, conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	if err := client.MkdirAll(s.dir); err != nil {
		client.Close()
		if conn != nil {
			conn.Close()
		}
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	s.client, s.conn = client, conn
	s.log.Infow("sftp_store_connected", "dir", s.dir)
	return client, nil
}

// reset drops a broken session so the next call reconnects.
func (s *SFTPStore) reset(client *sftp.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != client {
		return
	}
	s.client.Close()
	if s.conn != nil {
		s.conn.Close()
	}
	s.client, s.conn = nil, nil
}

// do runs op once, and once more on a fresh session if the transport failed.
func (s *SFTPStore) do(ctx context.Context, op func(*sftp.Client) error) error {
	for attempt := 0; attempt < 2; attempt++ {
		client, err := s.session(ctx)
		if err != nil {
			return err
		}
		err = op(client)
		if err == nil || !isTransportError(err) {
			return err
		}
		s.log.Warnw("sftp_store_session_lost", "attempt", attempt+1, "error", err)
		s.reset(client)
	}
	return fmt.Errorf("sftp: session lost")
}

func isTransportError(err error) bool {
	return errors.Is(err, sftp.ErrSSHFxConnectionLost) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (s *SFTPStore) filePath(key string) string {
	return path.Join(s.dir, path.Base(key))
}

func (s *SFTPStore) Put(ctx context.Context, key string, data []byte) error {
	final := s.filePath(key)
	tmp := final + ".part"
	return s.do(ctx, func(c *sftp.Client) error {
		f, err := c.Create(tmp)
		if err != nil {
			return fmt.Errorf("failed to create remote file: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return fmt.Errorf("failed to write remote file: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		if err := c.Rename(tmp, final); err != nil {
			return fmt.Errorf("failed to finalise remote file: %w", err)
		}
		return nil
	})
}

func (s *SFTPStore) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.do(ctx, func(c *sftp.Client) error {
		f, err := c.Open(s.filePath(key))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s", services.ErrUploadNotFound, key)
			}
			return err
		}
		defer f.Close()
		out, err = io.ReadAll(f)
		return err
	})
	return out, err
}

func (s *SFTPStore) Delete(ctx context.Context, key string) error {
	return s.do(ctx, func(c *sftp.Client) error {
		err := c.Remove(s.filePath(key))
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", services.ErrUploadNotFound, key)
		}
		return err
	})
}

func (s *SFTPStore) Ping(ctx context.Context) error {
	return s.do(ctx, func(c *sftp.Client) error {
		_, err := c.Stat(s.dir)
		return err
	})
}

func (s *SFTPStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	if s.conn != nil {
		s.conn.Close()
	}
	s.client, s.conn = nil, nil
	return err
}
