package waf

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/solfeed/txflow/config"
	"github.com/solfeed/txflow/kv"
)

// Lists tracks banned and grey-listed client addresses. Entries live in KV
// sets shared across replicas when configured, with process-local maps as
// the fallback. Both expire on the configured TTLs; local entries expire
// individually while each KV update refreshes its whole set.
type Lists struct {
	cfg config.WAF
	kv  kv.Store

	mu   sync.Mutex
	ban  map[string]time.Time
	grey map[string]time.Time
}

// NewLists returns Lists over |store|, which may be nil for process-local
// tracking only.
func NewLists(cfg config.WAF, store kv.Store) *Lists {
	if !cfg.UseKVLists {
		store = nil
	}
	return &Lists{
		cfg:  cfg,
		kv:   store,
		ban:  make(map[string]time.Time),
		grey: make(map[string]time.Time),
	}
}

// Banned reports whether |ip| is on the ban list.
func (l *Lists) Banned(ctx context.Context, ip string) bool {
	return l.member(ctx, l.cfg.BanSetKey, l.ban, ip)
}

// Greyed reports whether |ip| is on the grey list.
func (l *Lists) Greyed(ctx context.Context, ip string) bool {
	return l.member(ctx, l.cfg.GreySetKey, l.grey, ip)
}

// Ban adds |ip| to the ban list for the configured TTL.
func (l *Lists) Ban(ctx context.Context, ip string) {
	if ip == "" {
		return
	}
	log.WithFields(log.Fields{"ip": ip, "ttl": l.cfg.BanTTL()}).Warn("banning client address")
	l.add(ctx, l.cfg.BanSetKey, l.ban, ip, l.cfg.BanTTL())
}

// Grey adds |ip| to the grey list for the configured TTL.
func (l *Lists) Grey(ctx context.Context, ip string) {
	if ip == "" {
		return
	}
	l.add(ctx, l.cfg.GreySetKey, l.grey, ip, l.cfg.GreyTTL())
}

// Sizes returns the cardinality of the ban and grey lists.
func (l *Lists) Sizes(ctx context.Context) (banned, greyed int64) {
	if l.kv != nil {
		var bn, errB = l.kv.SCard(ctx, l.cfg.BanSetKey)
		var gy, errG = l.kv.SCard(ctx, l.cfg.GreySetKey)
		if errB == nil && errG == nil {
			return bn, gy
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked()
	return int64(len(l.ban)), int64(len(l.grey))
}

// KVBacked reports whether the lists are shared through the KV store.
func (l *Lists) KVBacked() bool { return l.kv != nil }

func (l *Lists) member(ctx context.Context, key string, local map[string]time.Time, ip string) bool {
	if l.kv != nil {
		var ok, err = l.kv.SIsMember(ctx, key, ip)
		if err == nil {
			return ok
		}
		log.WithFields(log.Fields{"key": key, "err": err}).
			Warn("list lookup failed, falling back to process-local list")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	var expiry, ok = local[ip]
	if !ok {
		return false
	}
	if time.Now().After(expiry) {
		delete(local, ip)
		return false
	}
	return true
}

func (l *Lists) add(ctx context.Context, key string, local map[string]time.Time, ip string, ttl time.Duration) {
	if l.kv != nil {
		var err = l.kv.SAdd(ctx, key, ip)
		if err == nil {
			if _, err = l.kv.Expire(ctx, key, ttl); err != nil {
				log.WithFields(log.Fields{"key": key, "err": err}).Warn("failed to refresh list expiry")
			}
			return
		}
		log.WithFields(log.Fields{"key": key, "err": err}).
			Warn("list update failed, falling back to process-local list")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	local[ip] = time.Now().Add(ttl)
}

func (l *Lists) pruneLocked() {
	var now = time.Now()
	for ip, expiry := range l.ban {
		if now.After(expiry) {
			delete(l.ban, ip)
		}
	}
	for ip, expiry := range l.grey {
		if now.After(expiry) {
			delete(l.grey, ip)
		}
	}
}
