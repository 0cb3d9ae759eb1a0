package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/healthstack/healthwatch/internal/cache"
	"github.com/healthstack/healthwatch/internal/rules"
)

// HTTPDocumentStore serves rule definitions from the central rule document
// service, with a cache-aside layer in front so analyzer creation does not hit
// the service on every unknown tenant.
type HTTPDocumentStore struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client

	cache    cache.Provider
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewHTTPDocumentStore constructs the store. provider may be a NoopProvider
// when caching is disabled.
func NewHTTPDocumentStore(baseURL, apiKey string, timeout time.Duration, provider cache.Provider, cacheTTL time.Duration, logger *slog.Logger) (*HTTPDocumentStore, error) {
	if baseURL == "" {
		return nil, errors.New("rule store base URL is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPDocumentStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		cache:      provider,
		cacheTTL:   cacheTTL,
		logger:     logger,
	}, nil
}

// Definitions fetches every rule definition. Not cached; only the snapshot
// tooling calls it.
func (s *HTTPDocumentStore) Definitions(ctx context.Context) ([]rules.Definition, error) {
	var response struct {
		Rules []rules.Definition `json:"rules"`
	}
	if err := s.doJSON(ctx, http.MethodGet, s.resolvePath("/api/v1/rules"), nil, &response); err != nil {
		return nil, fmt.Errorf("fetch rule definitions: %w", err)
	}
	return response.Rules, nil
}

// DefinitionsForTenant fetches the tenant's definitions, serving from cache
// when a fresh copy is available.
func (s *HTTPDocumentStore) DefinitionsForTenant(ctx context.Context, tenant string) ([]rules.Definition, error) {
	key := cacheKey(tenant)
	if cached, err := s.cache.Get(ctx, key); err == nil {
		var defs []rules.Definition
		if err := json.Unmarshal(cached, &defs); err == nil {
			return defs, nil
		}
		s.logger.Warn("discarding corrupt cached rules", "tenant", tenant)
		_ = s.cache.Del(ctx, key)
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		s.logger.Warn("rule cache read failed", "tenant", tenant, "error", err)
	}

	endpoint := s.resolvePath("/api/v1/rules") + "?tenant=" + url.QueryEscape(tenant)
	var response struct {
		Rules []rules.Definition `json:"rules"`
	}
	if err := s.doJSON(ctx, http.MethodGet, endpoint, nil, &response); err != nil {
		return nil, fmt.Errorf("fetch rules for tenant %s: %w", tenant, err)
	}

	if payload, err := json.Marshal(response.Rules); err == nil {
		if err := s.cache.Set(ctx, key, payload, s.cacheTTL); err != nil {
			s.logger.Warn("rule cache write failed", "tenant", tenant, "error", err)
		}
	}
	return response.Rules, nil
}

// SaveDefinition creates or updates a definition and invalidates the tenant's
// cached copy.
func (s *HTTPDocumentStore) SaveDefinition(ctx context.Context, def rules.Definition) (rules.Definition, error) {
	if err := def.Validate(); err != nil {
		return rules.Definition{}, err
	}
	var saved rules.Definition
	if err := s.doJSON(ctx, http.MethodPost, s.resolvePath("/api/v1/rules"), def, &saved); err != nil {
		return rules.Definition{}, fmt.Errorf("save rule %s: %w", def.Name, err)
	}
	s.invalidate(ctx, def.Tenant)
	return saved, nil
}

// DeleteDefinition removes a definition and invalidates the tenant's cached
// copy.
func (s *HTTPDocumentStore) DeleteDefinition(ctx context.Context, tenant, id string) error {
	endpoint := s.resolvePath("/api/v1/rules/" + url.PathEscape(id))
	if err := s.doJSON(ctx, http.MethodDelete, endpoint, nil, nil); err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	s.invalidate(ctx, tenant)
	return nil
}

func (s *HTTPDocumentStore) invalidate(ctx context.Context, tenant string) {
	if err := s.cache.Del(ctx, cacheKey(tenant)); err != nil {
		s.logger.Warn("rule cache invalidation failed", "tenant", tenant, "error", err)
	}
}

func cacheKey(tenant string) string {
	return "healthwatch:rules:" + tenant
}

func (s *HTTPDocumentStore) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return s.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (s *HTTPDocumentStore) doJSON(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("X-API-Key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("rule store returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
