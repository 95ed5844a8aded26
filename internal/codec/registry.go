// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package codec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

// ErrNotFound is returned when no registered codec matches a name.
var ErrNotFound = errors.New("codec not found")

// ErrAmbiguous is returned when a partial name matches several codecs.
var ErrAmbiguous = errors.New("codec name is ambiguous")

// Info is the static description of a registered codec.
type Info struct {
	Name     string
	Mime     string
	Encoder  bool
	Hardware bool
	// Modes the implementation supports.
	Sync  bool
	Async bool
}

// Factory creates a fresh, unconfigured codec instance.
type Factory func() (Codec, error)

type entry struct {
	info    Info
	factory Factory
}

// Registry maps codec names to factories.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	fold    cases.Caser
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry), fold: cases.Fold()}
}

// Default is the process-wide registry the bundled codecs register into.
var Default = NewRegistry()

// Register adds a codec. Names must be unique.
func (r *Registry) Register(info Info, factory Factory) error {
	if info.Name == "" {
		return fmt.Errorf("register codec: empty name")
	}
	if factory == nil {
		return fmt.Errorf("register codec %s: nil factory", info.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[info.Name]; exists {
		return fmt.Errorf("register codec %s: already registered", info.Name)
	}
	r.entries[info.Name] = entry{info: info, factory: factory}
	return nil
}

// MustRegister is Register for init-time registration.
func (r *Registry) MustRegister(info Info, factory Factory) {
	if err := r.Register(info, factory); err != nil {
		panic(err)
	}
}

// Lookup resolves name among codecs of the requested direction. An exact
// name wins; otherwise the name must match exactly one codec name or mime
// type as a case-insensitive substring.
func (r *Registry) Lookup(name string, encoder bool) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.entries[name]; ok && e.info.Encoder == encoder {
		return e.info, nil
	}

	needle := r.fold.String(name)
	var matches []Info
	for _, e := range r.entries {
		if e.info.Encoder != encoder {
			continue
		}
		if strings.Contains(r.fold.String(e.info.Name), needle) ||
			strings.Contains(r.fold.String(e.info.Mime), needle) {
			matches = append(matches, e.info)
		}
	}
	switch len(matches) {
	case 0:
		return Info{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		sort.Strings(names)
		return Info{}, fmt.Errorf("%w: %q matches %s", ErrAmbiguous, name, strings.Join(names, ", "))
	}
}

// Create instantiates the codec registered under the exact name.
func (r *Registry) Create(name string) (Codec, error) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	c, err := e.factory()
	if err != nil {
		return nil, fmt.Errorf("create codec %s: %w", name, err)
	}
	return c, nil
}

// List returns all registered codecs sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
