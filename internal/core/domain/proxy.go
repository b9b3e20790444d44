package domain

import (
	"fmt"
	"net/url"
	"time"
)

const (
	ProxyProtocolHTTP   = "http"
	ProxyProtocolHTTPS  = "https"
	ProxyProtocolSOCKS5 = "socks5"
)

// ProxyAuth carries optional upstream proxy credentials
type ProxyAuth struct {
	Username string
	Password string
}

// Proxy is one upstream proxy tracked by the pool. Health, usage and
// cool-down state are owned by the pool; the struct itself is plain data.
type Proxy struct {
	ID           string
	Host         string
	Port         int
	Protocol     string
	Auth         *ProxyAuth
	Healthy      bool
	LastCheckAt  time.Time
	ResponseTime time.Duration
	LastError    string
	UsageCount   int64
	LastUsedAt   time.Time
	CoolingUntil time.Time
}

// ProxyStatus is the pool's view of a proxy at a point in time
type ProxyStatus string

const (
	ProxyHealthy   ProxyStatus = "healthy"
	ProxyCooling   ProxyStatus = "cooling"
	ProxyUnhealthy ProxyStatus = "unhealthy"
	ProxyUnknown   ProxyStatus = "unknown"
)

// NewProxy builds a proxy with its canonical ID (host:port or
// host:port:user when authenticated).
func NewProxy(host string, port int, protocol string, auth *ProxyAuth) *Proxy {
	id := fmt.Sprintf("%s:%d", host, port)
	if auth != nil && auth.Username != "" {
		id = fmt.Sprintf("%s:%d:%s", host, port, auth.Username)
	}
	if protocol == "" {
		protocol = ProxyProtocolHTTP
	}
	return &Proxy{
		ID:       id,
		Host:     host,
		Port:     port,
		Protocol: protocol,
		Auth:     auth,
	}
}

// Address returns host:port
func (p *Proxy) Address() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// URL returns the proxy endpoint as a URL, including credentials if set
func (p *Proxy) URL() *url.URL {
	u := &url.URL{
		Scheme: p.Protocol,
		Host:   p.Address(),
	}
	if p.Auth != nil && p.Auth.Username != "" {
		u.User = url.UserPassword(p.Auth.Username, p.Auth.Password)
	}
	return u
}

// Cooling reports whether the proxy is resting after exceeding its use budget
func (p *Proxy) Cooling(now time.Time) bool {
	return now.Before(p.CoolingUntil)
}

// Status derives the point-in-time pool status
func (p *Proxy) Status(now time.Time) ProxyStatus {
	switch {
	case p.Cooling(now):
		return ProxyCooling
	case p.LastCheckAt.IsZero():
		return ProxyUnknown
	case p.Healthy:
		return ProxyHealthy
	default:
		return ProxyUnhealthy
	}
}

// Clone returns a copy safe to expose through status endpoints
func (p *Proxy) Clone() *Proxy {
	clone := *p
	if p.Auth != nil {
		a := *p.Auth
		clone.Auth = &a
	}
	return &clone
}
