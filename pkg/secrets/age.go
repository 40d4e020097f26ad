package secrets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"

	"filippo.io/age"
	"filippo.io/age/armor"
)

// AgeResolver decrypts keys that the wrapped resolver returns in age armor.
// Plain PEM keys pass through unchanged.
type AgeResolver struct {
	next       Resolver
	identities []age.Identity
}

func NewAgeResolver(next Resolver, identities ...age.Identity) *AgeResolver {
	return &AgeResolver{next: next, identities: identities}
}

// LoadAgeIdentities parses an age identity file, one AGE-SECRET-KEY per line.
func LoadAgeIdentities(path string) ([]age.Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open age identities: %w", err)
	}
	defer f.Close()

	ids, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parse age identities %s: %w", path, err)
	}
	return ids, nil
}

func (r *AgeResolver) Resolve(ctx context.Context, key string) (Identity, error) {
	id, err := r.next.Resolve(ctx, key)
	if err != nil {
		return Identity{}, err
	}
	trimmed := bytes.TrimSpace(id.PrivateKeyPEM)
	if !bytes.HasPrefix(trimmed, []byte(armor.Header)) {
		return id, nil
	}

	plain, err := age.Decrypt(armor.NewReader(bytes.NewReader(trimmed)), r.identities...)
	if err != nil {
		return Identity{}, fmt.Errorf("decrypt key for %s: %w", key, err)
	}
	pem, err := io.ReadAll(plain)
	if err != nil {
		return Identity{}, fmt.Errorf("decrypt key for %s: %w", key, err)
	}
	id.PrivateKeyPEM = pem
	return id, nil
}
