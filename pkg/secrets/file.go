package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andrej220/provisioner/pkg/config/configstore"
	"github.com/andrej220/provisioner/pkg/config/filestore"
)

type fileDocument struct {
	Identities map[string]record `yaml:"identities"`
}

// FileResolver reads identities from a YAML document:
//
//	identities:
//	  ssh-admin:
//	    username: admin
//	    private_key_file: keys/admin.pem
//
// The file is read on every call so rotated keys are picked up.
type FileResolver struct {
	store *filestore.FileStore
}

func NewFileResolver(path string) *FileResolver {
	return &FileResolver{store: filestore.New(path)}
}

func (r *FileResolver) Resolve(ctx context.Context, key string) (Identity, error) {
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	var doc fileDocument
	if err := r.store.Load(&doc); err != nil {
		if errors.Is(err, configstore.ErrNotFound) {
			return Identity{}, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return Identity{}, fmt.Errorf("resolve %s: %w", key, err)
	}
	rec, ok := doc.Identities[key]
	if !ok {
		return Identity{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	if rec.PrivateKey == "" && rec.PrivateKeyFile != "" {
		path := rec.PrivateKeyFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(r.store.Path), path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return Identity{}, fmt.Errorf("resolve %s: read key file: %w", key, err)
		}
		rec.PrivateKey = string(data)
	}
	return rec.identity(key)
}
