package tlssession

import (
	"crypto/tls"
	"errors"
	"log/slog"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/golang/groupcache/singleflight"
)

// CertLoader produces the certificate to present for a server name.
type CertLoader func(serverName string) (*tls.Certificate, error)

// CertCache keeps recently used certificates by server name. Concurrent
// misses for the same name share a single load.
type CertCache struct {
	cache   *lru.Cache
	group   *singleflight.Group
	cacheMu sync.Mutex
	load    CertLoader
}

// NewCertCache returns a cache holding up to size certificates.
func NewCertCache(size int, load CertLoader) *CertCache {
	return &CertCache{
		cache: lru.New(size),
		group: new(singleflight.Group),
		load:  load,
	}
}

// Get returns the certificate for serverName, loading it on a miss.
func (cc *CertCache) Get(serverName string) (*tls.Certificate, error) {
	cc.cacheMu.Lock()
	if val, ok := cc.cache.Get(serverName); ok {
		cc.cacheMu.Unlock()
		slog.Debug("CertCache Get cache hit", "serverName", serverName)
		tlsCert, ok := val.(*tls.Certificate)
		if !ok {
			return nil, errors.New("cached value is not a tls.Certificate")
		}
		return tlsCert, nil
	}
	cc.cacheMu.Unlock()

	val, err := cc.group.Do(serverName, func() (any, error) {
		certificate, err := cc.load(serverName)
		if err == nil {
			cc.cacheMu.Lock()
			cc.cache.Add(serverName, certificate)
			cc.cacheMu.Unlock()
		}
		return certificate, err
	})
	if err != nil {
		return nil, err
	}

	tlsCert, ok := val.(*tls.Certificate)
	if !ok {
		return nil, errors.New("loaded value is not a tls.Certificate")
	}
	return tlsCert, nil
}

// Len returns the number of cached certificates.
func (cc *CertCache) Len() int {
	cc.cacheMu.Lock()
	defer cc.cacheMu.Unlock()
	return cc.cache.Len()
}
