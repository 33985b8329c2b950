package sshkeygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

// GenerateEd25519KeyPair writes an OpenSSH private key and its authorized_keys
// line. An existing private key is kept unless overwrite is set; the returned
// bool reports whether new keys were written.
func GenerateEd25519KeyPair(privateKeyPath, publicKeyPath string, overwrite bool) (bool, error) {
	if _, err := os.Stat(privateKeyPath); err == nil && !overwrite {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(privateKeyPath), 0700); err != nil {
		return false, fmt.Errorf("failed to create key directory: %w", err)
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return false, fmt.Errorf("failed to generate key pair: %w", err)
	}

	privKeyPEM, err := ssh.MarshalPrivateKey(privKey, "processlens-sftp")
	if err != nil {
		return false, fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(privateKeyPath, pem.EncodeToMemory(privKeyPEM), 0600); err != nil {
		return false, fmt.Errorf("failed to write private key: %w", err)
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return false, fmt.Errorf("failed to create public key: %w", err)
	}
	if err := os.WriteFile(publicKeyPath, ssh.MarshalAuthorizedKey(sshPubKey), 0644); err != nil {
		return false, fmt.Errorf("failed to write public key: %w", err)
	}

	return true, nil
}
