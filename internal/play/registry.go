package play

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

const urlScheme = "blob:"

// Media is a finished recording as handed to the playback layer.
type Media struct {
	Data     []byte
	MIME     string
	Filename string
}

// Registry holds transient object URLs. Every URL created must be revoked
// once it is superseded, or the bytes it pins stay in memory.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Media
	revoked int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Media)}
}

// Create registers m and returns its URL.
func (r *Registry) Create(m Media) string {
	url := urlScheme + uuid.NewString()
	r.mu.Lock()
	r.entries[url] = m
	r.mu.Unlock()
	return url
}

// Resolve returns the media behind url. Both "blob:<id>" and a bare id
// are accepted.
func (r *Registry) Resolve(url string) (Media, bool) {
	if !strings.HasPrefix(url, urlScheme) {
		url = urlScheme + url
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.entries[url]
	return m, ok
}

// Revoke invalidates url. It reports true the first time only.
func (r *Registry) Revoke(url string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[url]; !ok {
		return false
	}
	delete(r.entries, url)
	r.revoked++
	return true
}

// Len returns the number of live URLs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Revoked returns how many URLs have been revoked.
func (r *Registry) Revoked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revoked
}
