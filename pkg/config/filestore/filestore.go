package filestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/andrej220/provisioner/internal/lg"
	"github.com/andrej220/provisioner/pkg/config/configstore"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

var (
	_ configstore.ConfigStore = (*FileStore)(nil)
	_ configstore.Watcher     = (*FileStore)(nil)
)

// FileStore keeps a YAML document on local disk.
type FileStore struct {
	Path   string
	Logger lg.Logger
}

func New(path string) *FileStore {
	return &FileStore{Path: path, Logger: lg.Discard}
}

func WriteSecureFile(path string, data []byte) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer file.Close()

	_, err = file.Write(data)
	return err
}

func (f *FileStore) Load(out any) error {
	if out == nil {
		return fmt.Errorf("load: output parameter must not be nil")
	}

	data, err := os.ReadFile(f.Path)
	if os.IsNotExist(err) {
		return fmt.Errorf("load %s: %w", f.Path, configstore.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load: read %s: %w", f.Path, err)
	}
	if len(data) == 0 {
		return fmt.Errorf("load: %s is empty", f.Path)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("load: parse YAML in %s: %w", f.Path, err)
	}
	return nil
}

// Save writes through a temp file and renames it over Path.
func (f *FileStore) Save(in any) error {
	if in == nil {
		return fmt.Errorf("save: input parameter must not be nil")
	}

	data, err := yaml.Marshal(in)
	if err != nil {
		return fmt.Errorf("save: marshal YAML: %w", err)
	}

	tmpPath := f.Path + ".tmp"
	if err := WriteSecureFile(tmpPath, data); err != nil {
		return fmt.Errorf("save: write temp file %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, f.Path); err != nil {
		return fmt.Errorf("save: replace %s with %s: %w", f.Path, tmpPath, err)
	}
	return nil
}

// Watch calls onChange whenever Path is written or replaced. The parent
// directory is watched because editors and Save replace the file by rename.
func (f *FileStore) Watch(ctx context.Context, onChange func()) error {
	if onChange == nil {
		return fmt.Errorf("onChange callback cannot be nil")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(f.Path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", f.Path, err)
	}

	target := filepath.Clean(f.Path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				f.logger().Warn("config watcher error", lg.String("path", f.Path), lg.Err(err))
			}
		}
	}()
	return nil
}

func (f *FileStore) logger() lg.Logger {
	if f.Logger == nil {
		return lg.Discard
	}
	return f.Logger
}
