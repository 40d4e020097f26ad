// Package secrets resolves the privileged bootstrap identity used to reach
// freshly created hosts.
package secrets

import (
	"context"
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("identity not found")

// Identity is a login name and a decrypted private key. It is handed to the
// SSH dialer and must not be logged or kept after the connect call.
type Identity struct {
	Username      string
	PrivateKeyPEM []byte
}

// String omits the key.
func (i Identity) String() string {
	return fmt.Sprintf("Identity{Username: %q, PrivateKeyPEM: [redacted]}", i.Username)
}

func (i Identity) GoString() string { return i.String() }

// Resolver looks up an identity by symbolic key, e.g. "ssh-admin".
type Resolver interface {
	Resolve(ctx context.Context, key string) (Identity, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, key string) (Identity, error)

func (f ResolverFunc) Resolve(ctx context.Context, key string) (Identity, error) {
	return f(ctx, key)
}

// record is the stored form shared by the file and Mongo backends.
type record struct {
	Username       string `yaml:"username" bson:"username"`
	PrivateKey     string `yaml:"private_key" bson:"private_key"`
	PrivateKeyFile string `yaml:"private_key_file" bson:"private_key_file,omitempty"`
}

func (r record) identity(key string) (Identity, error) {
	if r.Username == "" || (r.PrivateKey == "" && r.PrivateKeyFile == "") {
		return Identity{}, fmt.Errorf("identity %q is incomplete", key)
	}
	return Identity{Username: r.Username, PrivateKeyPEM: []byte(r.PrivateKey)}, nil
}
