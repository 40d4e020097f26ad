// Package persistence writes command results to disk.
package persistence

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type Options struct {
	Overwrite bool
	Prefix    string
	Indent    string
}

var DefaultOptions = Options{Overwrite: true, Indent: "    "}

type Serializer interface {
	Marshal(data any) ([]byte, error)
}

type Writer interface {
	Write(filename string, data []byte) error
}

type JSONSerializer struct {
	Prefix, Indent string
}

func (s JSONSerializer) Marshal(data any) ([]byte, error) {
	return json.MarshalIndent(data, s.Prefix, s.Indent)
}

// FileWriter creates files readable by the owner only; results can carry
// credentials.
type FileWriter struct {
	Overwrite bool
}

func (w FileWriter) Write(filename string, data []byte) error {
	if filename == "" {
		return os.ErrInvalid
	}
	if _, err := os.Stat(filename); !os.IsNotExist(err) && !w.Overwrite {
		return os.ErrExist
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o600)
}

// StreamWriter ignores the filename and writes to W, e.g. os.Stdout.
type StreamWriter struct {
	W io.Writer
}

func (w StreamWriter) Write(_ string, data []byte) error {
	if _, err := w.W.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}

// WriteJSONToFile serializes data and hands it to writer under filename.
func WriteJSONToFile(data any, filename string, serializer Serializer, writer Writer) error {
	raw, err := serializer.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to serialize data: %w", err)
	}
	if err := writer.Write(filename, raw); err != nil {
		return fmt.Errorf("failed to write data: %w", err)
	}
	return nil
}

// WriteJSON writes data as indented JSON to filename, or to out when filename
// is empty or "-".
func WriteJSON(data any, filename string, out io.Writer, opts ...Options) error {
	opt := DefaultOptions
	if len(opts) > 0 {
		opt = opts[0]
	}
	serializer := JSONSerializer{Prefix: opt.Prefix, Indent: opt.Indent}
	if filename == "" || filename == "-" {
		return WriteJSONToFile(data, filename, serializer, StreamWriter{W: out})
	}
	return WriteJSONToFile(data, filename, serializer, FileWriter{Overwrite: opt.Overwrite})
}
