package persistence_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/andrej220/provisioner/internal/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSON = "{\n    \"succeeded\": true\n}"

type MockSerializer struct {
	Bytes []byte
	Err   error
}

func (s MockSerializer) Marshal(data any) ([]byte, error) {
	return s.Bytes, s.Err
}

type MockWriter struct {
	Data map[string][]byte
	Err  error
}

func (w *MockWriter) Write(filename string, data []byte) error {
	if w.Data == nil {
		w.Data = make(map[string][]byte)
	}
	w.Data[filename] = data
	return w.Err
}

func TestWriteJSONToFile(t *testing.T) {
	tests := []struct {
		name        string
		serializer  persistence.Serializer
		writer      *MockWriter
		expectedErr bool
	}{
		{
			name:       "valid input",
			serializer: MockSerializer{Bytes: []byte(sampleJSON)},
			writer:     &MockWriter{},
		},
		{
			name:        "serializer error",
			serializer:  MockSerializer{Err: errors.New("serialization failed")},
			writer:      &MockWriter{},
			expectedErr: true,
		},
		{
			name:        "writer error",
			serializer:  MockSerializer{Bytes: []byte(sampleJSON)},
			writer:      &MockWriter{Err: errors.New("disk full")},
			expectedErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := persistence.WriteJSONToFile(map[string]bool{"succeeded": true}, "result.json", tt.serializer, tt.writer)
			if tt.expectedErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, sampleJSON, string(tt.writer.Data["result.json"]))
		})
	}
}

func TestWriteJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "result.json")
	require.NoError(t, persistence.WriteJSON(map[string]bool{"succeeded": true}, path, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sampleJSON, string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	err = persistence.WriteJSON(map[string]bool{}, path, nil, persistence.Options{Overwrite: false})
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestWriteJSONStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, persistence.WriteJSON(map[string]bool{"succeeded": true}, "-", &buf))
	assert.Equal(t, sampleJSON+"\n", buf.String())
}

func TestFileWriterRejectsEmptyName(t *testing.T) {
	assert.ErrorIs(t, persistence.FileWriter{}.Write("", nil), os.ErrInvalid)
}
