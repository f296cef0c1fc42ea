package runs

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
)

// LazyField materializes one metrics file on demand. The file is
// newline-delimited JSON, one object per logged step; materialization reads
// the whole file and accumulates each field's values, in file order, into a
// sequence keyed by "<log name>.<field>".
//
// A missing or unreadable file materializes as an empty field set: absent
// data is an expected steady state for crashed or in-flight runs. Malformed
// lines are skipped. A LazyField assumes single-threaded access.
type LazyField struct {
	path    string
	prefix  string
	data    map[string][]interface{}
	loaded  bool
	touched map[string]struct{}
}

// NewLazyField returns a field backed by the metrics file at path, with keys
// qualified by prefix (the log name).
func NewLazyField(path, prefix string) *LazyField {
	return &LazyField{
		path:    path,
		prefix:  prefix,
		touched: make(map[string]struct{}),
	}
}

// Get returns the accumulated sequence for key, materializing the backing
// file first when the field has never been loaded or when key is outside the
// touched set (it may have been dropped by FreeUnused). A key the file does
// not hold resolves to nil.
func (f *LazyField) Get(key string) interface{} {
	if _, ok := f.touched[key]; !f.loaded || !ok {
		f.load()
	}
	f.touched[key] = struct{}{}
	seq, ok := f.data[key]
	if !ok {
		return nil
	}
	return seq
}

// FreeUnused drops every cached key that was never touched, bounding memory
// when only a few fields of a long history are needed. A later Get of a
// dropped key triggers a full reload.
func (f *LazyField) FreeUnused() {
	if !f.loaded {
		return
	}
	for key := range f.data {
		if _, ok := f.touched[key]; !ok {
			delete(f.data, key)
		}
	}
}

func (f *LazyField) load() {
	f.data = make(map[string][]interface{})
	f.loaded = true

	file, err := os.Open(f.path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var point map[string]interface{}
		if err := json.Unmarshal(line, &point); err != nil {
			continue
		}
		for k, v := range point {
			full := f.prefix + "." + k
			f.data[full] = append(f.data[full], v)
		}
	}
}
