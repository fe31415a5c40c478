// Package labels holds the class dictionary: the bijection between class
// names and the indices the classifier predicts.
package labels

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"slices"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalid marks a dictionary that is not a name/index bijection or cannot
// be parsed.
var ErrInvalid = errors.New("invalid class dictionary")

// Dictionary is an immutable name/index bijection. Names are kept as
// given; only lookups go through their NFC form.
type Dictionary struct {
	byName  map[string]int
	byKey   map[string]int // NFC name to index
	byIndex map[int]string
	indices []int // ascending
}

// Load reads a dictionary from a JSON file mapping name to index.
func Load(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from configuration
	if err != nil {
		return nil, fmt.Errorf("read class dictionary: %w", err)
	}
	d, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return d, nil
}

// Parse decodes a JSON object of name to non-negative integer index. Keys
// are compared after NFC normalization, and repeated keys are rejected
// rather than silently overwritten.
func Parse(data []byte) (*Dictionary, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrInvalid)
	}

	m := make(map[string]int)
	seen := make(map[string]struct{})
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		name, _ := tok.(string)

		tok, err = dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		num, ok := tok.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%w: index of %q is not a number", ErrInvalid, name)
		}
		idx, err := num.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: index of %q is not an integer: %s", ErrInvalid, name, num)
		}
		if idx > math.MaxInt32 {
			return nil, fmt.Errorf("%w: index of %q out of range: %d", ErrInvalid, name, idx)
		}

		key := norm.NFC.String(name)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate class name %q", ErrInvalid, name)
		}
		seen[key] = struct{}{}
		m[name] = int(idx)
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after object", ErrInvalid)
	}
	return New(m)
}

// New builds a dictionary from a name to index map.
func New(m map[string]int) (*Dictionary, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("%w: no classes", ErrInvalid)
	}
	d := &Dictionary{
		byName:  make(map[string]int, len(m)),
		byKey:   make(map[string]int, len(m)),
		byIndex: make(map[int]string, len(m)),
	}
	for name, idx := range m {
		if idx < 0 {
			return nil, fmt.Errorf("%w: negative index %d for %q", ErrInvalid, idx, name)
		}
		key := norm.NFC.String(name)
		if _, dup := d.byKey[key]; dup {
			return nil, fmt.Errorf("%w: duplicate class name %q", ErrInvalid, name)
		}
		if other, dup := d.byIndex[idx]; dup {
			return nil, fmt.Errorf("%w: index %d used by both %q and %q", ErrInvalid, idx, other, name)
		}
		d.byName[name] = idx
		d.byKey[key] = idx
		d.byIndex[idx] = name
	}
	d.indices = slices.Sorted(maps.Keys(d.byIndex))
	return d, nil
}

// Len returns the number of classes.
func (d *Dictionary) Len() int { return len(d.indices) }

// Name returns the class name for index.
func (d *Dictionary) Name(index int) (string, bool) {
	name, ok := d.byIndex[index]
	return name, ok
}

// Index returns the index for name.
func (d *Dictionary) Index(name string) (int, bool) {
	idx, ok := d.byKey[norm.NFC.String(name)]
	return idx, ok
}

// Indices returns all indices in ascending order. This is the order of the
// classifier's probability outputs.
func (d *Dictionary) Indices() []int { return slices.Clone(d.indices) }

// Names returns the class names in index order.
func (d *Dictionary) Names() []string {
	out := make([]string, len(d.indices))
	for i, idx := range d.indices {
		out[i] = d.byIndex[idx]
	}
	return out
}

// Position returns where index sits in Indices, which is also its column in
// a probability vector.
func (d *Dictionary) Position(index int) (int, bool) {
	return slices.BinarySearch(d.indices, index)
}

// Map returns a copy of the name to index mapping.
func (d *Dictionary) Map() map[string]int { return maps.Clone(d.byName) }

// Inverse returns a copy of the index to name mapping.
func (d *Dictionary) Inverse() map[int]string { return maps.Clone(d.byIndex) }
