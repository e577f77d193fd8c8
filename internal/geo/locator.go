// Package geo resolves a client IP to a coarse location for audit records
// and security notifications. Lookups are best-effort: any failure yields
// Unknown and never fails the caller.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout   = 2 * time.Second
	defaultCacheSize = 4096
	defaultCacheTTL  = 6 * time.Hour

	// Free lookup tiers allow about 45 requests a minute.
	defaultLookupBurst = 10
)

var defaultLookupRate = rate.Every(time.Minute / 45)

// Location is a coarse, best-effort position.
type Location struct {
	Country string `json:"country"`
	City    string `json:"city"`
}

var (
	Unknown = Location{Country: "Unknown", City: "Unknown"}
	Local   = Location{Country: "Local", City: "Local"}
)

func (l Location) String() string {
	if l.City == "" || l.City == l.Country {
		return l.Country
	}
	return l.City + ", " + l.Country
}

// Locator resolves an IP address.
type Locator interface {
	Locate(ctx context.Context, ip string) Location
}

// NopLocator reports every address as Unknown (Local for private ranges).
type NopLocator struct{}

func (NopLocator) Locate(_ context.Context, ip string) Location {
	if isPrivate(ip) {
		return Local
	}
	return Unknown
}

// HTTPLocator queries a JSON lookup service of the form
// GET {BaseURL}/{ip} -> {"status":"success","country":"..","city":".."}.
type HTTPLocator struct {
	baseURL string
	client  *http.Client
	cache   *expirable.LRU[string, Location]
	budget  *rate.Limiter
	logger  *slog.Logger
}

// NewHTTPLocator creates an [HTTPLocator]. A zero timeout uses 2s.
func NewHTTPLocator(baseURL string, timeout time.Duration, logger *slog.Logger) *HTTPLocator {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &HTTPLocator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		cache:   expirable.NewLRU[string, Location](defaultCacheSize, nil, defaultCacheTTL),
		budget:  rate.NewLimiter(defaultLookupRate, defaultLookupBurst),
		logger:  logger,
	}
}

// WithLookupRate replaces the outbound request budget. Lookups over budget
// resolve to Unknown without contacting the service.
func (l *HTTPLocator) WithLookupRate(r rate.Limit, burst int) *HTTPLocator {
	l.budget = rate.NewLimiter(r, burst)
	return l
}

type lookupResponse struct {
	Status  string `json:"status"`
	Country string `json:"country"`
	City    string `json:"city"`
}

// Locate answers from the cache, then the lookup service. Failures are not
// cached.
func (l *HTTPLocator) Locate(ctx context.Context, ip string) Location {
	if ip == "" {
		return Unknown
	}
	if isPrivate(ip) {
		return Local
	}
	if loc, ok := l.cache.Get(ip); ok {
		return loc
	}
	if !l.budget.Allow() {
		l.logger.Debug("geolocation lookup skipped: over budget", "ip", ip)
		return Unknown
	}

	loc, err := l.lookup(ctx, ip)
	if err != nil {
		l.logger.Debug("geolocation lookup failed", "error", err)
		return Unknown
	}
	l.cache.Add(ip, loc)
	return loc
}

func (l *HTTPLocator) lookup(ctx context.Context, ip string) (Location, error) {
	ctx, cancel := context.WithTimeout(ctx, l.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/"+ip, nil)
	if err != nil {
		return Unknown, err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return Unknown, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Unknown, fmt.Errorf("geo: lookup status=%d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Unknown, err
	}
	if body.Status != "" && body.Status != "success" {
		return Unknown, fmt.Errorf("geo: lookup status %q", body.Status)
	}

	loc := Location{Country: body.Country, City: body.City}
	if loc.Country == "" {
		loc.Country = Unknown.Country
	}
	if loc.City == "" {
		loc.City = Unknown.City
	}
	return loc, nil
}

func isPrivate(ip string) bool {
	addr := net.ParseIP(ip)
	if addr == nil {
		return false
	}
	return addr.IsLoopback() || addr.IsPrivate() || addr.IsLinkLocalUnicast()
}
