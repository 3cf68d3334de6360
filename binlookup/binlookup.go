package binlookup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emreis/sanalpos/entity"
	"github.com/emreis/sanalpos/infra/apperr"
)

// Resolver resolves a BIN into issuer information
type Resolver interface {
	Resolve(ctx context.Context, bin string) (*entity.BINInfo, error)
}

// ResolverFunc adapts a function to the Resolver interface
type ResolverFunc func(ctx context.Context, bin string) (*entity.BINInfo, error)

func (f ResolverFunc) Resolve(ctx context.Context, bin string) (*entity.BINInfo, error) {
	return f(ctx, bin)
}

const lookupTimeout = 5 * time.Second

// HTTPResolver queries the upstream BIN service
type HTTPResolver struct {
	baseURL string
	client  *http.Client
}

// NewHTTPResolver creates a resolver against the given BIN service URL
func NewHTTPResolver(baseURL string) *HTTPResolver {
	return &HTTPResolver{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: lookupTimeout},
	}
}

func (r *HTTPResolver) Resolve(ctx context.Context, bin string) (*entity.BINInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", r.baseURL, bin), nil)
	if err != nil {
		return nil, fmt.Errorf("create bin request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, err, "bin lookup failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetwork, err, "bin lookup read failed")
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, apperr.Newf(apperr.KindNotFound, "bin %s not found", bin)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Newf(apperr.KindNetwork, "bin lookup returned %d", resp.StatusCode)
	}

	var info entity.BINInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("parse bin response: %w", err)
	}
	return &info, nil
}

// Cache memoizes BIN resolutions. Values are immutable once inserted, so a
// read lock suffices for hits.
type Cache struct {
	resolver Resolver
	mu       sync.RWMutex
	entries  map[string]*entity.BINInfo
}

// NewCache wraps resolver with an in-memory memo
func NewCache(resolver Resolver) *Cache {
	return &Cache{
		resolver: resolver,
		entries:  make(map[string]*entity.BINInfo),
	}
}

func (c *Cache) Resolve(ctx context.Context, bin string) (*entity.BINInfo, error) {
	bin = normalizeBIN(bin)
	if len(bin) < 6 {
		return nil, apperr.New(apperr.KindValidation, "bin must carry at least six digits")
	}

	c.mu.RLock()
	cached, ok := c.entries[bin]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	info, err := c.resolver.Resolve(ctx, bin)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[bin] = info
	c.mu.Unlock()
	return info, nil
}

func normalizeBIN(bin string) string {
	var b strings.Builder
	for _, r := range bin {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
