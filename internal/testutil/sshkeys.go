// Package testutil holds helpers shared by package tests.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"golang.org/x/crypto/ssh"
)

type KeyPair struct {
	PrivateKeyPEM []byte
	Signer        ssh.Signer
	PublicKey     ssh.PublicKey
}

var (
	keyOnce  sync.Once
	keyPairs [2]*KeyPair
	keyErr   error
)

// RSAKeyPairs returns two distinct 2048-bit RSA key pairs, generated once per
// test binary.
func RSAKeyPairs(t testing.TB) (*KeyPair, *KeyPair) {
	t.Helper()
	keyOnce.Do(func() {
		for i := range keyPairs {
			keyPairs[i], keyErr = newRSAKeyPair()
			if keyErr != nil {
				return
			}
		}
	})
	if keyErr != nil {
		t.Fatalf("generate rsa key: %v", keyErr)
	}
	return keyPairs[0], keyPairs[1]
}

func newRSAKeyPair() (*KeyPair, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, err
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})
	return &KeyPair{PrivateKeyPEM: pemBytes, Signer: signer, PublicKey: signer.PublicKey()}, nil
}

// WriteTempFile writes content under t.TempDir() and returns the path.
func WriteTempFile(t testing.TB, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
