package proxy

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thushan/perch/internal/core/domain"
)

// proxyFile is the on-disk JSON shape for the proxy list
type proxyFile struct {
	Proxies     []proxyFileEntry `json:"proxies"`
	LastUpdated time.Time        `json:"lastUpdated"`
}

type proxyFileEntry struct {
	Host     string         `json:"host"`
	Port     int            `json:"port"`
	Protocol string         `json:"protocol"`
	Auth     *proxyFileAuth `json:"auth,omitempty"`

	// Runtime state carried across restarts
	Healthy    bool  `json:"healthy,omitempty"`
	UsageCount int64 `json:"usageCount,omitempty"`
}

type proxyFileAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoadFile reads a proxy file and registers its proxies with the pool.
// Entries already present (same ID) are skipped.
func (p *Pool) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading proxy file %s: %w", path, err)
	}

	var file proxyFile
	if err := json.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parsing proxy file %s: %w", path, err)
	}

	added := 0
	for _, fe := range file.Proxies {
		var auth *domain.ProxyAuth
		if fe.Auth != nil {
			auth = &domain.ProxyAuth{Username: fe.Auth.Username, Password: fe.Auth.Password}
		}
		proxy := domain.NewProxy(fe.Host, fe.Port, fe.Protocol, auth)
		proxy.Healthy = fe.Healthy
		proxy.UsageCount = fe.UsageCount
		if err := p.AddProxy(proxy); err == nil {
			added++
		}
	}

	p.logger.InfoWithCount("Loaded proxies from file", added, "file", path)
	return added, nil
}

// SaveFile persists the current proxy set, including health and usage
// state, so a restart resumes where the pool left off
func (p *Pool) SaveFile(path string) error {
	proxies := p.snapshotProxies()

	file := proxyFile{
		Proxies:     make([]proxyFileEntry, 0, len(proxies)),
		LastUpdated: p.clock.Now(),
	}
	for _, proxy := range proxies {
		fe := proxyFileEntry{
			Host:       proxy.Host,
			Port:       proxy.Port,
			Protocol:   proxy.Protocol,
			Healthy:    proxy.Healthy,
			UsageCount: proxy.UsageCount,
		}
		if proxy.Auth != nil {
			fe.Auth = &proxyFileAuth{Username: proxy.Auth.Username, Password: proxy.Auth.Password}
		}
		file.Proxies = append(file.Proxies, fe)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// WatchFile reloads the proxy file when it changes on disk so operators
// can rotate proxy lists without a restart. Returns a stop function.
func (p *Pool) WatchFile(path string) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					if _, err := p.LoadFile(path); err != nil {
						p.logger.Warn("Proxy file reload failed", "file", path, "error", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.logger.Warn("Proxy file watcher error", "file", path, "error", err)
			}
		}
	}()

	stop := func() {
		close(done)
		_ = watcher.Close()
	}
	return stop, nil
}
