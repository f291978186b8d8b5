package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

// File keeps one YAML document per key inside dir. Documents go through their
// JSON form first so field names follow the json tags of the saved type.
// exactDecoder keeps JSON numbers as json.Number so large integers survive
// the trip into YAML.
var exactDecoder = sonic.Config{
	EscapeHTML:       true,
	SortMapKeys:      true,
	CompactMarshaler: true,
	CopyString:       true,
	ValidateString:   true,
	UseNumber:        true,
}.Froze()

type File struct {
	dir string
}

func NewFile(dir string) *File {
	return &File{dir: dir}
}

func (f *File) path(key string) string {
	return filepath.Join(f.dir, key+".yaml")
}

func (f *File) Load(_ context.Context, key string, v any) error {
	data, err := os.ReadFile(f.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return storageErr("read", key, err)
	}
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return storageErr("decode", key, err)
	}
	raw, err := sonic.ConfigStd.Marshal(doc)
	if err != nil {
		return storageErr("decode", key, err)
	}
	if err := sonic.ConfigStd.Unmarshal(raw, v); err != nil {
		return storageErr("decode", key, err)
	}
	return nil
}

func (f *File) Save(_ context.Context, key string, v any) error {
	raw, err := sonic.ConfigStd.Marshal(v)
	if err != nil {
		return storageErr("encode", key, err)
	}
	var doc any
	if err := exactDecoder.Unmarshal(raw, &doc); err != nil {
		return storageErr("encode", key, err)
	}
	data, err := yaml.Marshal(yamlNumbers(doc))
	if err != nil {
		return storageErr("encode", key, err)
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return storageErr("mkdir", key, err)
	}

	// readers only ever see a complete document
	tmp, err := os.CreateTemp(f.dir, key+".*.tmp")
	if err != nil {
		return storageErr("write", key, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return storageErr("write", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return storageErr("write", key, err)
	}
	if err := os.Rename(tmp.Name(), f.path(key)); err != nil {
		os.Remove(tmp.Name())
		return storageErr("rename", key, err)
	}
	return nil
}

// yamlNumbers replaces json.Number leaves with int64, uint64 or float64 so
// yaml emits them as plain scalars.
func yamlNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = yamlNumbers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = yamlNumbers(e)
		}
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		if n, err := strconv.ParseUint(t.String(), 10, 64); err == nil {
			return n
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	}
	return v
}
