// Package metatext cleans and parses the simulator's non-standard YAML
// session metadata blob into a structured SessionTree.
package metatext

import (
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/apexdata/pitwall/internal/pitwallerr"
)

// knownTopLevelKeys are the YAML keys SessionTree understands directly.
// Anything else is recorded as an unknown field when discovery mode is
// enabled.
var knownTopLevelKeys = map[string]bool{
	"WeekendInfo":        true,
	"SessionInfo":        true,
	"RadioInfo":          true,
	"DriverInfo":         true,
	"SplitTimeInfo":      true,
	"CameraInfo":         true,
	"QualifyResultsInfo": true,
}

// cacheEntry is the parser's single-slot memoization of the last parsed
// tree, keyed by metadata version.
type cacheEntry struct {
	tree    *SessionTree
	version int
}

// Parser parses cleaned metadata text into a SessionTree, with a
// per-instance cache keyed by metadata version. The cache is not global:
// each Parser instance owns its own state.
type Parser struct {
	discovery bool

	mu    sync.Mutex
	cache *cacheEntry
}

// Option configures a Parser.
type Option func(*Parser)

// WithDiscovery enables the side-channel capture of unknown top-level
// keys, retrievable via SessionTree.Unknown.
func WithDiscovery() Option {
	return func(p *Parser) { p.discovery = true }
}

// NewParser returns a Parser with an empty cache.
func NewParser(opts ...Option) *Parser {
	p := &Parser{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ParseFromMemory returns the cached tree when version matches the last
// parse; otherwise it extracts the NUL-terminated text at [offset,
// offset+length) of mem, preprocesses it, parses it, caches the result
// under version, and returns it.
func (p *Parser) ParseFromMemory(mem []byte, offset, length, version int) (*SessionTree, error) {
	p.mu.Lock()
	if p.cache != nil && p.cache.version == version {
		tree := p.cache.tree
		p.mu.Unlock()
		return tree, nil
	}
	p.mu.Unlock()

	raw, err := extractFromMemory(mem, offset, length)
	if err != nil {
		return nil, err
	}

	tree, err := p.Parse(raw)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache = &cacheEntry{tree: tree, version: version}
	p.mu.Unlock()

	return tree, nil
}

// Parse preprocesses and deserializes raw metadata text into a
// SessionTree, without touching the cache. It validates that the required
// top-level fields (track name, track display name, a non-empty session
// list) are present.
func (p *Parser) Parse(raw string) (*SessionTree, error) {
	cleaned := Preprocess(raw)

	var tree SessionTree
	if err := yaml.Unmarshal([]byte(cleaned), &tree); err != nil {
		e := pitwallerr.New(pitwallerr.Parse, "session metadata deserialization failed", err)
		e.Context = "metadata parse"
		e.Details = err.Error()
		return nil, e
	}

	if err := validateSessionTree(&tree); err != nil {
		return nil, err
	}

	if p.discovery {
		tree.Unknown = collectUnknown(cleaned)
	}

	return &tree, nil
}

func validateSessionTree(tree *SessionTree) error {
	if tree.WeekendInfo.TrackName == "" {
		e := pitwallerr.New(pitwallerr.Parse, "missing WeekendInfo.TrackName", nil)
		e.Context = "metadata validation"
		return e
	}
	if tree.WeekendInfo.TrackDisplayName == "" {
		e := pitwallerr.New(pitwallerr.Parse, "missing WeekendInfo.TrackDisplayName", nil)
		e.Context = "metadata validation"
		return e
	}
	if len(tree.SessionInfo.Sessions) == 0 {
		e := pitwallerr.New(pitwallerr.Parse, "SessionInfo.Sessions is empty", nil)
		e.Context = "metadata validation"
		return e
	}
	return nil
}

// collectUnknown re-parses cleaned as a generic map and returns every
// top-level key not in knownTopLevelKeys, for discovery-mode callers that
// want to enumerate fields this package doesn't yet model.
func collectUnknown(cleaned string) map[string]any {
	var generic map[string]any
	if err := yaml.Unmarshal([]byte(cleaned), &generic); err != nil {
		return nil
	}
	unknown := make(map[string]any)
	for k, v := range generic {
		if !knownTopLevelKeys[k] {
			unknown[k] = v
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	return unknown
}

func extractFromMemory(mem []byte, offset, length int) (string, error) {
	if offset < 0 {
		e := pitwallerr.New(pitwallerr.Parse, "negative metadata offset", nil)
		e.Context = "metadata extraction"
		return "", e
	}
	if length <= 0 {
		return "", nil
	}
	if offset+length > len(mem) {
		e := pitwallerr.New(pitwallerr.MemoryAccess, "metadata range exceeds buffer length", nil)
		e.Offset = int64(offset)
		return "", e
	}

	raw := mem[offset : offset+length]
	if i := indexNUL(raw); i >= 0 {
		raw = raw[:i]
	}
	return string(raw), nil
}

func indexNUL(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}
