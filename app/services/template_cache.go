package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedTemplateProvider keeps approved templates in redis so that repeated
// broadcasts of the same template skip the Graph API lookup.
// A nil redis client turns it into a pass-through.
type CachedTemplateProvider struct {
	next   TemplateProvider
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

// NewCachedTemplateProvider wraps next with a redis read-through cache
func NewCachedTemplateProvider(next TemplateProvider, rc *redis.Client, prefix string, ttl time.Duration) *CachedTemplateProvider {
	return &CachedTemplateProvider{next: next, rc: rc, prefix: prefix, ttl: ttl}
}

func (p *CachedTemplateProvider) key(name, language string) string {
	return p.prefix + "wa:template:" + language + ":" + name
}

// GetTemplate returns the cached template or fetches and caches it.
// Cache failures are logged and never fail the lookup; misses are not cached.
func (p *CachedTemplateProvider) GetTemplate(ctx context.Context, name, language string) (*MessageTemplate, error) {
	if p.rc == nil || p.ttl <= 0 {
		return p.next.GetTemplate(ctx, name, language)
	}

	key := p.key(name, language)
	raw, err := p.rc.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var t MessageTemplate
		if jerr := json.Unmarshal(raw, &t); jerr == nil {
			return &t, nil
		}
		log.Printf("template cache: corrupt entry %s, refetching", key)
	case !errors.Is(err, redis.Nil):
		log.Printf("template cache: get %s: %v", key, err)
	}

	t, err := p.next.GetTemplate(ctx, name, language)
	if err != nil {
		return nil, err
	}

	if b, jerr := json.Marshal(t); jerr == nil {
		if serr := p.rc.Set(ctx, key, b, p.ttl).Err(); serr != nil {
			log.Printf("template cache: set %s: %v", key, serr)
		}
	}
	return t, nil
}
