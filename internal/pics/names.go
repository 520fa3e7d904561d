package pics

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/acm19/pixcanon/internal/logger"
)

// IsCanonicalIdentifier reports whether s is a well formed identifier under cfg.
func IsCanonicalIdentifier(cfg Config, s string) bool {
	if len(s) != cfg.NameLength {
		return false
	}
	alphabet := cfg.NameAlphabet
	if cfg.NamePolicy == PolicyContent {
		alphabet = "0123456789abcdef"
	}
	for _, r := range s {
		if !strings.ContainsRune(alphabet, r) {
			return false
		}
	}
	return true
}

// NameRegistry is the set of identifiers in use within one processing unit:
// the canonical files already on disk plus every identifier reserved by a
// pending task. It is safe for concurrent use.
type NameRegistry struct {
	mu    sync.Mutex
	names map[string]struct{}
}

// NewNameRegistry creates an empty registry.
func NewNameRegistry() *NameRegistry {
	return &NameRegistry{names: make(map[string]struct{})}
}

// Seed records identifiers that already exist on disk.
func (r *NameRegistry) Seed(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range names {
		r.names[n] = struct{}{}
	}
}

// Reserve adds name and reports whether it was free.
func (r *NameRegistry) Reserve(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.names[name]; taken {
		return false
	}
	r.names[name] = struct{}{}
	return true
}

// Release frees a previously reserved name.
func (r *NameRegistry) Release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.names, name)
}

// Contains reports whether name is taken.
func (r *NameRegistry) Contains(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.names[name]
	return ok
}

// Len returns the number of taken names.
func (r *NameRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.names)
}

// NameAllocator hands out canonical identifiers for one processing unit.
//
// Random identifiers are chosen up front with Reserve. Content identifiers
// depend on the encoded bytes, so Reserve returns an empty identifier and the
// real one is bound later by Resolve.
type NameAllocator interface {
	Policy() NamePolicy
	// Reserve picks an identifier before any work is done.
	Reserve() (string, error)
	// Resolve binds the final identifier for data. duplicate is true when
	// identical content already exists in the unit.
	Resolve(reserved string, data []byte) (id string, duplicate bool, err error)
	// Release returns an identifier to the pool after a failed or cancelled task.
	Release(id string)
}

// NewNameAllocator creates the allocator selected by cfg.NamePolicy.
func NewNameAllocator(cfg Config, registry *NameRegistry, dir string) NameAllocator {
	if cfg.NamePolicy == PolicyContent {
		return NewContentAllocator(cfg, registry, dir)
	}
	return NewRandomAllocator(cfg, registry, dir)
}

// randomAllocator draws identifiers uniformly from the configured alphabet.
type randomAllocator struct {
	cfg      Config
	registry *NameRegistry
	dir      string
	intn     func(n int) int
}

// NewRandomAllocator creates an allocator for PolicyRandom.
func NewRandomAllocator(cfg Config, registry *NameRegistry, dir string) NameAllocator {
	return &randomAllocator{
		cfg:      cfg,
		registry: registry,
		dir:      dir,
		intn:     rand.IntN,
	}
}

func (a *randomAllocator) Policy() NamePolicy {
	return PolicyRandom
}

func (a *randomAllocator) draw() string {
	var sb strings.Builder
	sb.Grow(a.cfg.NameLength)
	for range a.cfg.NameLength {
		sb.WriteByte(a.cfg.NameAlphabet[a.intn(len(a.cfg.NameAlphabet))])
	}
	return sb.String()
}

// Reserve draws until an identifier is free both in the registry and on disk.
func (a *randomAllocator) Reserve() (string, error) {
	for attempt := 1; attempt <= a.cfg.NameRetryLimit; attempt++ {
		id := a.draw()
		if !a.registry.Reserve(id) {
			continue
		}
		if fileExists(filepath.Join(a.dir, id+TargetExt)) {
			// Keep it reserved: the name is taken on disk for the rest of the run.
			continue
		}
		return id, nil
	}
	return "", fmt.Errorf("%w: no free identifier after %d attempts in %s", ErrNameExhausted, a.cfg.NameRetryLimit, a.dir)
}

func (a *randomAllocator) Resolve(reserved string, _ []byte) (string, bool, error) {
	if reserved == "" {
		return "", false, errors.New("random identifier was not reserved")
	}
	return reserved, false, nil
}

func (a *randomAllocator) Release(id string) {
	if id == "" {
		return
	}
	a.registry.Release(id)
}

// contentAllocator names files by a prefix of the SHA-256 of their bytes.
type contentAllocator struct {
	cfg      Config
	registry *NameRegistry
	dir      string
}

// NewContentAllocator creates an allocator for PolicyContent.
func NewContentAllocator(cfg Config, registry *NameRegistry, dir string) NameAllocator {
	return &contentAllocator{cfg: cfg, registry: registry, dir: dir}
}

func (a *contentAllocator) Policy() NamePolicy {
	return PolicyContent
}

func (a *contentAllocator) Reserve() (string, error) {
	return "", nil
}

// ContentIdentifier returns the content identifier of data for length n.
func ContentIdentifier(data []byte, n int) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:n]
}

// Resolve reports duplicate when another file of the unit already carries the
// identifier of data. Identical bytes always map to the identical identifier.
func (a *contentAllocator) Resolve(_ string, data []byte) (string, bool, error) {
	id := ContentIdentifier(data, a.cfg.NameLength)
	if !a.registry.Reserve(id) {
		logger.Debug("Content identifier already present", "id", id, "dir", a.dir)
		return id, true, nil
	}
	if fileExists(filepath.Join(a.dir, id+TargetExt)) {
		return id, true, nil
	}
	return id, false, nil
}

func (a *contentAllocator) Release(id string) {
	if id == "" {
		return
	}
	a.registry.Release(id)
}

func fileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return err == nil
}

// sameFile reports whether a and b name the same file on disk. Distinct
// strings can do so on case-insensitive filesystems.
func sameFile(a, b string) bool {
	if a == b {
		return true
	}
	ai, err := os.Stat(a)
	if err != nil {
		return false
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}
