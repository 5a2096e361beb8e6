package ssh

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// KeyPair represents an SSH key pair on disk
type KeyPair struct {
	PrivateKeyPath string
	PublicKeyPath  string
	PublicKey      string
}

// PrivateKeyPathFor derives the private key location from a ".pub" path.
func PrivateKeyPathFor(publicKeyPath string) string {
	return strings.TrimSuffix(publicKeyPath, ".pub")
}

// LoadPublicKey reads an OpenSSH authorized_keys formatted public key and
// returns it in canonical form.
func LoadPublicKey(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	pub, comment, _, _, err := ssh.ParseAuthorizedKey(data)
	if err != nil {
		return nil, fmt.Errorf("invalid public key in %s: %w", path, err)
	}
	key := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))
	if comment != "" {
		key += " " + comment
	}
	return []byte(key), nil
}

// Fingerprint returns the SHA256 fingerprint of an authorized_keys line.
func Fingerprint(publicKey []byte) (string, error) {
	pub, _, _, _, err := ssh.ParseAuthorizedKey(publicKey)
	if err != nil {
		return "", fmt.Errorf("invalid public key: %w", err)
	}
	return ssh.FingerprintSHA256(pub), nil
}

// EnsureKeyPair returns the key pair at the given paths, generating whatever
// is missing. An existing private key is never overwritten.
func EnsureKeyPair(privateKeyPath, publicKeyPath string) (*KeyPair, error) {
	if err := os.MkdirAll(filepath.Dir(privateKeyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}

	if _, err := os.Stat(privateKeyPath); err == nil {
		if _, err := os.Stat(publicKeyPath); err == nil {
			publicKeyBytes, err := os.ReadFile(publicKeyPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read existing public key: %w", err)
			}
			return &KeyPair{
				PrivateKeyPath: privateKeyPath,
				PublicKeyPath:  publicKeyPath,
				PublicKey:      string(publicKeyBytes),
			}, nil
		}
		return generatePublicKeyFromPrivate(privateKeyPath, publicKeyPath)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to stat private key: %w", err)
	}

	return generateNewKeyPair(privateKeyPath, publicKeyPath)
}

func generateNewKeyPair(privateKeyPath, publicKeyPath string) (*KeyPair, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate private key: %w", err)
	}

	privateKeyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})
	if err := os.WriteFile(privateKeyPath, privateKeyPEM, 0600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}

	return writePublicKey(&privateKey.PublicKey, privateKeyPath, publicKeyPath)
}

func generatePublicKeyFromPrivate(privateKeyPath, publicKeyPath string) (*KeyPair, error) {
	privateKeyBytes, err := os.ReadFile(privateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	raw, err := ssh.ParseRawPrivateKey(privateKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}

	return writeAuthorizedKey(signer.PublicKey(), privateKeyPath, publicKeyPath)
}

func writePublicKey(key *rsa.PublicKey, privateKeyPath, publicKeyPath string) (*KeyPair, error) {
	publicKey, err := ssh.NewPublicKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to generate public key: %w", err)
	}
	return writeAuthorizedKey(publicKey, privateKeyPath, publicKeyPath)
}

func writeAuthorizedKey(publicKey ssh.PublicKey, privateKeyPath, publicKeyPath string) (*KeyPair, error) {
	publicKeyString := string(ssh.MarshalAuthorizedKey(publicKey))
	if err := os.WriteFile(publicKeyPath, []byte(publicKeyString), 0644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}

	return &KeyPair{
		PrivateKeyPath: privateKeyPath,
		PublicKeyPath:  publicKeyPath,
		PublicKey:      publicKeyString,
	}, nil
}
