package waf

import "context"

// DebugConfig is the sanitized configuration view of the debug endpoint.
type DebugConfig struct {
	Enabled              bool           `json:"enabled"`
	Mode                 string         `json:"mode"`
	BypassPaths          []string       `json:"bypass_paths"`
	MaxQueryLength       int            `json:"max_query_length"`
	AllowedMethods       []string       `json:"allowed_methods"`
	UseKVLists           bool           `json:"use_kv_lists"`
	BanSetKey            string         `json:"ban_set_key"`
	GreySetKey           string         `json:"grey_set_key"`
	BanTTLSecs           int            `json:"ban_ttl_secs"`
	GreyTTLSecs          int            `json:"grey_ttl_secs"`
	BlockThreshold       int            `json:"block_threshold"`
	GreyThreshold        int            `json:"grey_threshold"`
	MaxEventsPerIPPerMin int            `json:"max_events_per_ip_per_min"`
	PatternCounts        map[string]int `json:"pattern_counts"`
}

// DebugStats reports verdict counters and list sizes.
type DebugStats struct {
	TotalRequests   uint64 `json:"total_requests"`
	BlockedRequests uint64 `json:"blocked_requests"`
	GreyRequests    uint64 `json:"grey_requests"`
	PassedRequests  uint64 `json:"passed_requests"`
	BanListSize     int64  `json:"ban_list_size"`
	GreyListSize    int64  `json:"grey_list_size"`
}

// DebugInfo is the payload of the diagnostic endpoint.
type DebugInfo struct {
	Config DebugConfig `json:"config"`
	Stats  DebugStats  `json:"stats"`
}

// Debug assembles the diagnostic view served by the admin route.
func (s *Scorer) Debug(ctx context.Context) DebugInfo {
	var banned, greyed = s.lists.Sizes(ctx)
	return DebugInfo{
		Config: DebugConfig{
			Enabled:              s.cfg.Enabled,
			Mode:                 s.cfg.Mode,
			BypassPaths:          s.cfg.BypassPaths,
			MaxQueryLength:       s.cfg.MaxQueryLength,
			AllowedMethods:       s.cfg.AllowedMethods,
			UseKVLists:           s.lists.KVBacked(),
			BanSetKey:            s.cfg.BanSetKey,
			GreySetKey:           s.cfg.GreySetKey,
			BanTTLSecs:           s.cfg.BanTTLSecs,
			GreyTTLSecs:          s.cfg.GreyTTLSecs,
			BlockThreshold:       s.cfg.BlockThreshold,
			GreyThreshold:        s.cfg.GreyThreshold,
			MaxEventsPerIPPerMin: s.cfg.MaxEventsPerIPPerMin,
			PatternCounts: map[string]int{
				"blocked_paths":  len(s.blockedPaths),
				"sqli":           len(s.sqli),
				"xss":            len(s.xss),
				"rce":            len(s.rce),
				"path_traversal": len(s.traversal),
				"blocked_ua":     len(s.blockedUA),
			},
		},
		Stats: DebugStats{
			TotalRequests:   s.total.Load(),
			BlockedRequests: s.blocked.Load(),
			GreyRequests:    s.greyed.Load(),
			PassedRequests:  s.passed.Load(),
			BanListSize:     banned,
			GreyListSize:    greyed,
		},
	}
}
