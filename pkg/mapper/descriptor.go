package mapper

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
	"gopkg.in/yaml.v3"

	"github.com/projbuild/projbuild/pkg/types"
)

// DefaultCacheSize is the number of parsed descriptors kept between mappings
const DefaultCacheSize = 512

type descriptorKey struct {
	path    string
	size    int64
	modTime int64
}

// DescriptorLoader reads and parses project descriptors. Parsed results are
// kept in an LRU keyed by path, size and modification time, so an unchanged
// file is parsed once across repeated mappings.
type DescriptorLoader struct {
	cache  *lru.Cache[descriptorKey, *types.Descriptor]
	hits   int
	misses int
}

// NewDescriptorLoader creates a loader caching up to size descriptors
func NewDescriptorLoader(size int) (*DescriptorLoader, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[descriptorKey, *types.Descriptor](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create descriptor cache: %w", err)
	}
	return &DescriptorLoader{cache: cache}, nil
}

// Load returns the parsed descriptor at path
func (l *DescriptorLoader) Load(path string) (*types.Descriptor, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, newError("load", path, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err))
	}
	key := descriptorKey{path: path, size: info.Size(), modTime: info.ModTime().UnixNano()}
	if desc, ok := l.cache.Get(key); ok {
		l.hits++
		return desc, nil
	}
	l.misses++

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, newError("load", path, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err))
	}

	desc, err := ParseDescriptor(data)
	if err != nil {
		return nil, newError("parse", path, err)
	}

	l.cache.Add(key, desc)
	return desc, nil
}

// Stats returns cache hits and misses since creation
func (l *DescriptorLoader) Stats() (hits, misses int) {
	return l.hits, l.misses
}

// Len returns the number of cached descriptors
func (l *DescriptorLoader) Len() int {
	return l.cache.Len()
}

// Purge drops every cached descriptor
func (l *DescriptorLoader) Purge() {
	l.cache.Purge()
}

// descriptorDocument is the on-disk shape of a descriptor. References is a
// pointer so a missing key is told apart from an empty list.
type descriptorDocument struct {
	Name           string             `json:"Name" yaml:"Name"`
	References     *[]types.Reference `json:"References" yaml:"References"`
	BuildCommand   string             `json:"Build Command" yaml:"Build Command"`
	ConvertCommand string             `json:"Convert Command" yaml:"Convert Command"`
}

// ParseDescriptor decodes descriptor content. A document starting with '{' is
// JSON, anything else YAML with the same keys. Unknown keys and a missing
// References key are errors.
func ParseDescriptor(data []byte) (*types.Descriptor, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty descriptor", ErrMalformedDescriptor)
	}

	var doc descriptorDocument
	var err error
	if trimmed[0] == '{' {
		err = decodeJSONDescriptor(trimmed, &doc)
	} else {
		err = decodeYAMLDescriptor(trimmed, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}

	if doc.References == nil {
		return nil, fmt.Errorf("%w: missing References", ErrMalformedDescriptor)
	}
	for i, ref := range *doc.References {
		if ref.RelativePath == "" {
			return nil, fmt.Errorf("%w: reference %d has no path", ErrMalformedDescriptor, i)
		}
	}

	return &types.Descriptor{
		Name:           doc.Name,
		References:     *doc.References,
		BuildCommand:   doc.BuildCommand,
		ConvertCommand: doc.ConvertCommand,
	}, nil
}

func decodeJSONDescriptor(data []byte, doc *descriptorDocument) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(doc); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after descriptor")
	}
	return nil
}

func decodeYAMLDescriptor(data []byte, doc *descriptorDocument) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(doc); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty descriptor")
		}
		return err
	}
	return nil
}
