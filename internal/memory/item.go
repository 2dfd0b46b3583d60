package memory

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Common errors for memory item operations.
var (
	ErrEmptyContent = errors.New("item content cannot be empty")
	ErrEmptyScope   = errors.New("item scope cannot be empty")
	ErrItemNotFound = errors.New("item not found")

	// ErrInvalidInput indicates malformed caller input (empty content,
	// over-length content, unknown category). Rejections carry a specific
	// reason string alongside this sentinel.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDependencyUnavailable indicates an external collaborator (embedder,
	// store, cache, classifier) is unreachable. Callers degrade rather than
	// fail the request.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
)

// MaxContentLength bounds item content to prevent oversized payloads.
const MaxContentLength = 32 * 1024

// Source identifies who produced a memory item's content.
type Source string

const (
	// SourceUser marks content authored by the end user.
	SourceUser Source = "user"

	// SourceAssistant marks content produced by the assistant.
	SourceAssistant Source = "assistant"

	// SourceSystem marks content injected by the surrounding system.
	SourceSystem Source = "system"
)

// Metadata is an ordered key-value bag attached to an item. Keys are unique;
// insertion order is preserved for deterministic serialization.
type Metadata struct {
	keys   []string
	values map[string]string
}

// NewMetadata creates an empty metadata bag.
func NewMetadata() *Metadata {
	return &Metadata{values: make(map[string]string)}
}

// Set stores a key-value pair, preserving first-insertion order for keys.
func (m *Metadata) Set(key, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, exists := m.values[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value for key and whether it was present.
func (m *Metadata) Get(key string) (string, bool) {
	if m == nil || m.values == nil {
		return "", false
	}
	v, ok := m.values[key]
	return v, ok
}

// Keys returns keys in insertion order.
func (m *Metadata) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len returns the number of entries.
func (m *Metadata) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Map returns a flat copy of the bag. Mutating the copy does not affect the
// original.
func (m *Metadata) Map() map[string]string {
	out := make(map[string]string, m.Len())
	if m == nil {
		return out
	}
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// MetadataFromMap builds a bag from a plain map. Insertion order follows map
// iteration and is not deterministic; use Set directly when order matters.
func MetadataFromMap(in map[string]string) *Metadata {
	m := NewMetadata()
	for k, v := range in {
		m.Set(k, v)
	}
	return m
}

// Item is a single persisted memory. Content is immutable after creation.
type Item struct {
	// ID is the stable unique identifier (UUID).
	ID string `json:"id"`

	// Content is the memory text. Never mutated in place.
	Content string `json:"content"`

	// Category is the resolved category for this item.
	Category Category `json:"category"`

	// Metadata is an ordered key-value bag (timestamps, source hints, etc).
	Metadata *Metadata `json:"metadata,omitempty"`

	// Scope is the owning conversation or user identifier.
	Scope string `json:"scope"`

	// Source identifies who produced the content.
	Source Source `json:"source"`

	// CreatedAt is the creation timestamp.
	CreatedAt time.Time `json:"created_at"`
}

// NewItem creates a validated Item with a generated ID and current timestamp.
func NewItem(content string, category Category, scope string, source Source) (*Item, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	if len(content) > MaxContentLength {
		return nil, fmt.Errorf("%w: content exceeds %d bytes", ErrInvalidInput, MaxContentLength)
	}
	if scope == "" {
		return nil, ErrEmptyScope
	}
	if category == "" {
		category = CategoryGeneral
	}
	if source == "" {
		source = SourceUser
	}

	return &Item{
		ID:        uuid.New().String(),
		Content:   content,
		Category:  category,
		Metadata:  NewMetadata(),
		Scope:     scope,
		Source:    source,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Age returns the item's age relative to now.
func (i *Item) Age(now time.Time) time.Duration {
	return now.Sub(i.CreatedAt)
}
