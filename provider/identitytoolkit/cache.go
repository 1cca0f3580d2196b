package identitytoolkit

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// tokenCache keeps ID tokens per user until shortly before they expire.
type tokenCache struct {
	c *gocache.Cache
}

func newTokenCache() *tokenCache {
	return &tokenCache{c: gocache.New(gocache.NoExpiration, time.Minute)}
}

func (t *tokenCache) Get(uid string) (string, bool) {
	v, ok := t.c.Get(uid)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func (t *tokenCache) Set(uid, token string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	t.c.Set(uid, token, ttl)
}

func (t *tokenCache) Delete(uid string) { t.c.Delete(uid) }
func (t *tokenCache) Flush()            { t.c.Flush() }
