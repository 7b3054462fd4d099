// Package devicetree is a small IORegistry-like property store.
//
// Nodes are addressed by their path from the root ("/", "/PCI0@0/IGPU@2") and carry raw
// property bytes. A store can be imported from a flattened device tree and persisted as a plist.
package devicetree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/apex/log"
	"github.com/blacktop/go-plist"
)

const (
	// RootPath is the device-tree root, where hwgva-id is published
	RootPath = "/"
	// PlatformIDKey holds the IGPU framebuffer platform-id
	PlatformIDKey = "AAPL,ig-platform-id"
	// maximum property name length in a flattened tree (NUL terminated)
	maxNameLen = 32
)

var (
	ErrReadOnly        = errors.New("device tree is read-only")
	ErrInvalidProperty = errors.New("invalid property")
)

// Properties are the raw property values of one node
type Properties map[string][]byte

// Reader reads properties
type Reader interface {
	GetProperty(node, key string) ([]byte, bool)
}

// Writer publishes properties
type Writer interface {
	SetProperty(node, key string, value []byte) error
}

// Store is a thread-safe property store
type Store struct {
	mu       sync.RWMutex
	nodes    map[string]Properties
	file     string
	readOnly bool
}

// NewStore returns an empty in-memory store
func NewStore() *Store {
	return &Store{nodes: map[string]Properties{RootPath: {}}}
}

// Open loads a plist backed store; a missing file yields an empty store that is created on first write
func Open(file string) (*Store, error) {
	s := NewStore()
	s.file = file

	data, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.WithField("path", file).Debug("Creating new property store")
			return s, nil
		}
		return nil, fmt.Errorf("failed to read property store: %v", err)
	}
	if err := plist.NewDecoder(bytes.NewReader(data)).Decode(&s.nodes); err != nil {
		return nil, fmt.Errorf("failed to decode property store %s: %v", file, err)
	}
	if s.nodes == nil {
		s.nodes = map[string]Properties{}
	}
	if _, ok := s.nodes[RootPath]; !ok {
		s.nodes[RootPath] = Properties{}
	}
	return s, nil
}

// SetReadOnly makes every following SetProperty fail
func (s *Store) SetReadOnly(ro bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readOnly = ro
}

func clean(node string) string {
	return path.Clean("/" + node)
}

// GetProperty returns a copy of the property value
func (s *Store) GetProperty(node, key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.nodes[clean(node)][key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// SetProperty stores value, creating the node if needed, and persists a file backed store
func (s *Store) SetProperty(node, key string, value []byte) error {
	if key == "" || len(key) >= maxNameLen {
		return fmt.Errorf("%w: key %q", ErrInvalidProperty, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.readOnly {
		return fmt.Errorf("failed to set %s on %s: %w", key, node, ErrReadOnly)
	}
	p := clean(node)
	if s.nodes[p] == nil {
		s.nodes[p] = Properties{}
	}
	s.nodes[p][key] = append([]byte(nil), value...)

	if s.file != "" {
		return s.save()
	}
	return nil
}

// Find returns the first node (in path order) carrying key
func (s *Store) Find(key string) (string, []byte, bool) {
	for _, n := range s.Nodes() {
		if v, ok := s.GetProperty(n, key); ok {
			return n, v, true
		}
	}
	return "", nil, false
}

// Nodes lists node paths in sorted order
func (s *Store) Nodes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns := make([]string, 0, len(s.nodes))
	for n := range s.nodes {
		ns = append(ns, n)
	}
	sort.Strings(ns)
	return ns
}

// Keys lists the property names of node in sorted order
func (s *Store) Keys(node string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ks []string
	for k := range s.nodes[clean(node)] {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

// Import copies every property of o into s, replacing values that already exist.
// A file backed store is written once afterwards.
func (s *Store) Import(o *Store) error {
	var n int
	for _, node := range o.Nodes() {
		for _, key := range o.Keys(node) {
			v, _ := o.GetProperty(node, key)
			s.mu.Lock()
			if s.readOnly {
				s.mu.Unlock()
				return fmt.Errorf("failed to import %s: %w", node, ErrReadOnly)
			}
			if s.nodes[node] == nil {
				s.nodes[node] = Properties{}
			}
			s.nodes[node][key] = v
			s.mu.Unlock()
			n++
		}
	}
	log.WithField("properties", n).Debug("Imported device tree")
	return s.Save()
}

// Save writes the store to its backing file
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == "" {
		return nil
	}
	return s.save()
}

func (s *Store) save() error {
	data, err := plist.MarshalIndent(s.nodes, plist.XMLFormat, "\t")
	if err != nil {
		return fmt.Errorf("failed to marshal property store: %v", err)
	}
	if err := os.WriteFile(s.file, data, 0o644); err != nil {
		return fmt.Errorf("failed to write property store: %v", err)
	}
	return nil
}

// node is the flattened device tree node header
type node struct {
	NumProperties uint32 // Number of props[] elements (0 => end)
	NumChildren   uint32 // Number of children[] elements
}

// nodeProperty is the flattened device tree property header
type nodeProperty struct {
	Name   [maxNameLen]byte // NUL terminated property name
	Length uint32           // Length (bytes) of following prop value
}

// Parse imports a flattened device tree. Node paths are built from the "name" properties;
// the root node is always "/".
func Parse(r io.Reader) (*Store, error) {
	s := NewStore()
	if err := s.parseNode(r, ""); err != nil {
		return nil, fmt.Errorf("failed to parse device tree: %v", err)
	}
	return s, nil
}

func (s *Store) parseNode(r io.Reader, parent string) error {
	var n node
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return err
	}

	props := Properties{}
	var name string
	for i := 0; i < int(n.NumProperties); i++ {
		key, val, err := parseProperty(r)
		if err != nil {
			return err
		}
		if strings.EqualFold(key, "name") {
			name = string(bytes.TrimRight(val, "\x00"))
			continue
		}
		props[key] = val
	}

	p := RootPath
	if parent != "" {
		if name == "" {
			return fmt.Errorf("%w: unnamed node under %s", ErrInvalidProperty, parent)
		}
		p = path.Join(parent, name)
	}
	s.nodes[p] = props

	for i := 0; i < int(n.NumChildren); i++ {
		if err := s.parseNode(r, p); err != nil {
			return err
		}
	}
	return nil
}

func parseProperty(r io.Reader) (string, []byte, error) {
	var np nodeProperty
	if err := binary.Read(r, binary.LittleEndian, &np); err != nil {
		return "", nil, err
	}
	// the top bit marks placeholder properties
	length := np.Length & math.MaxInt32
	padded := length
	if padded%4 != 0 {
		padded += 4 - padded%4
	}
	dat := make([]byte, padded)
	if _, err := io.ReadFull(r, dat); err != nil {
		return "", nil, err
	}
	return string(bytes.TrimRight(np.Name[:], "\x00")), dat[:length], nil
}
