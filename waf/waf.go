// Package waf scores requests at the perimeter. Each request accumulates
// anomaly weight from its method, query, user agent, and a set of attack
// signatures; the score selects a pass, grey-list, or block verdict. Block
// verdicts are enforced only in block mode, while shadow mode records what
// would have happened.
package waf

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/minio/highwayhash"
	log "github.com/sirupsen/logrus"

	"github.com/solfeed/txflow/config"
)

// Modes of enforcement.
const (
	ModeShadow = "shadow"
	ModeBlock  = "block"
)

// Weights fixed by the scoring scheme rather than configuration.
const (
	bannedScore     = 999
	greyBias        = 2
	badMethodWeight = 3
)

const eventWindowLength = time.Minute

// uaHashKey seeds the highwayhash fingerprint of user agents. The digest
// only groups identical agents in event logs.
var uaHashKey = []byte("txflow/waf/ua-fingerprint/seed/1")

// Action is the verdict for a scored request.
type Action string

const (
	ActionPass  Action = "pass"
	ActionGrey  Action = "grey"
	ActionBlock Action = "block"
)

// Match records one scoring rule that fired.
type Match struct {
	Category string `json:"category"`
	Pattern  string `json:"pattern"`
	Weight   int    `json:"weight"`
}

// Result is the verdict for one request.
type Result struct {
	Score    int
	Matches  []Match
	Action   Action
	ClientIP string
}

func (r *Result) add(category, pattern string, weight int) {
	r.Score += weight
	r.Matches = append(r.Matches, Match{Category: category, Pattern: pattern, Weight: weight})
}

// Scorer evaluates requests against the configured rule set.
type Scorer struct {
	cfg   config.WAF
	lists *Lists

	blockedPaths []*regexp.Regexp
	sqli         []*regexp.Regexp
	xss          []*regexp.Regexp
	rce          []*regexp.Regexp
	traversal    []*regexp.Regexp

	allowedMethods map[string]struct{}
	blockedUA      []string

	mu     sync.Mutex
	events map[string]*eventWindow

	total   atomic.Uint64
	blocked atomic.Uint64
	greyed  atomic.Uint64
	passed  atomic.Uint64
}

type eventWindow struct {
	count int
	start time.Time
}

// NewScorer compiles the configured patterns. |lists| tracks banned and
// grey-listed addresses.
func NewScorer(cfg config.WAF, lists *Lists) (*Scorer, error) {
	var s = &Scorer{
		cfg:            cfg,
		lists:          lists,
		allowedMethods: make(map[string]struct{}),
		events:         make(map[string]*eventWindow),
	}
	for _, m := range cfg.AllowedMethods {
		s.allowedMethods[strings.ToUpper(m)] = struct{}{}
	}
	for _, ua := range cfg.BlockedUASubstrings {
		s.blockedUA = append(s.blockedUA, strings.ToLower(ua))
	}

	var err error
	if s.blockedPaths, err = compile("blocked-path", cfg.BlockedPathPatterns); err != nil {
		return nil, err
	}
	if s.sqli, err = compile("sqli", cfg.SQLiPatterns); err != nil {
		return nil, err
	}
	if s.xss, err = compile("xss", cfg.XSSPatterns); err != nil {
		return nil, err
	}
	if s.rce, err = compile("rce", cfg.RCEPatterns); err != nil {
		return nil, err
	}
	if s.traversal, err = compile("traversal", cfg.TraversalPatterns); err != nil {
		return nil, err
	}
	return s, nil
}

func compile(kind string, patterns []string) ([]*regexp.Regexp, error) {
	var out = make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		var re, err = regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchAny(res []*regexp.Regexp, text string) bool {
	for _, re := range res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Analyze scores one request. A banned address short-circuits to a block
// verdict; everything else accumulates weights and is judged against the
// thresholds.
func (s *Scorer) Analyze(ctx context.Context, r *http.Request, clientIP string) Result {
	var result = Result{ClientIP: clientIP}

	if clientIP != "" && s.lists.Banned(ctx, clientIP) {
		result.Score = bannedScore
		result.Matches = []Match{{Category: "banned", Pattern: "banned_ip", Weight: bannedScore}}
		result.Action = ActionBlock
		return result
	}
	if clientIP != "" && s.lists.Greyed(ctx, clientIP) {
		result.Score += greyBias
	}

	if _, ok := s.allowedMethods[r.Method]; !ok {
		result.add("bad_method", r.Method, badMethodWeight)
	}

	var query = r.URL.RawQuery
	if len(query) > s.cfg.MaxQueryLength {
		result.add("oversize", "query_too_long", s.cfg.WeightOversize)
	}

	var ua = strings.ToLower(r.UserAgent())
	for _, blocked := range s.blockedUA {
		if strings.Contains(ua, blocked) {
			result.add("bad_ua", blocked, s.cfg.WeightBadUA)
		}
	}

	var path = r.URL.Path
	if matchAny(s.blockedPaths, path) {
		result.add("bad_path", "blocked_path", s.cfg.WeightBadPath)
	}

	var text = path + " " + query
	if matchAny(s.sqli, text) {
		result.add("sqli", "sqli_detected", s.cfg.WeightSQLi)
	}
	if matchAny(s.xss, text) {
		result.add("xss", "xss_detected", s.cfg.WeightXSS)
	}
	if matchAny(s.rce, text) {
		result.add("rce", "rce_detected", s.cfg.WeightRCE)
	}
	if matchAny(s.traversal, text) {
		result.add("traversal", "path_traversal_detected", s.cfg.WeightTraversal)
	}

	switch {
	case result.Score >= s.cfg.BlockThreshold:
		result.Action = ActionBlock
	case result.Score >= s.cfg.GreyThreshold:
		result.Action = ActionGrey
	default:
		result.Action = ActionPass
	}
	return result
}

// Middleware scores each request before it reaches the router. |clientIP|
// resolves the caller address, typically from the request context where the
// resolver middleware stashed it.
func (s *Scorer) Middleware(clientIP func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !s.cfg.Enabled || s.bypassed(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			var ctx = r.Context()
			var result = s.Analyze(ctx, r, clientIP(r))
			s.logEvent(&result, r)
			s.recordVerdict(result.Action)

			switch {
			case result.Action == ActionBlock && s.cfg.Mode == ModeBlock:
				s.lists.Ban(ctx, result.ClientIP)
				writeForbidden(w)
				return
			case result.Action == ActionBlock:
				log.WithFields(log.Fields{
					"ip":    result.ClientIP,
					"score": result.Score,
				}).Warn("request would be blocked in block mode")
				s.lists.Grey(ctx, result.ClientIP)
			case result.Action == ActionGrey:
				s.lists.Grey(ctx, result.ClientIP)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Scorer) bypassed(path string) bool {
	for _, bypass := range s.cfg.BypassPaths {
		if strings.HasPrefix(path, bypass) {
			return true
		}
	}
	return false
}

func writeForbidden(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusForbidden)
	_ = json.NewEncoder(w).Encode(struct {
		Error   string `json:"error"`
		Details string `json:"details"`
	}{Error: "forbidden", Details: "waf_block"})
}

func (s *Scorer) recordVerdict(action Action) {
	s.total.Add(1)
	switch action {
	case ActionBlock:
		s.blocked.Add(1)
	case ActionGrey:
		s.greyed.Add(1)
	default:
		s.passed.Add(1)
	}
	requestsCounter.WithLabelValues(string(action), s.cfg.Mode).Inc()
}

// logEvent emits one structured event per scored request, capped per
// address per minute.
func (s *Scorer) logEvent(result *Result, r *http.Request) {
	if !s.allowEvent(result.ClientIP) {
		return
	}
	var ip = result.ClientIP
	if ip == "" {
		ip = "unknown"
	}
	log.WithFields(log.Fields{
		"ip":      ip,
		"method":  r.Method,
		"path":    r.URL.Path,
		"ua_hash": uaHash(r.UserAgent()),
		"score":   result.Score,
		"matches": result.Matches,
		"mode":    s.cfg.Mode,
		"action":  result.Action,
	}).Info("WAF event")
}

func (s *Scorer) allowEvent(ip string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	var now = time.Now()
	var w, ok = s.events[ip]
	if !ok || now.Sub(w.start) >= eventWindowLength {
		s.events[ip] = &eventWindow{count: 1, start: now}
		return true
	}
	if w.count >= s.cfg.MaxEventsPerIPPerMin {
		return false
	}
	w.count++
	return true
}

func uaHash(ua string) string {
	return fmt.Sprintf("%016x", highwayhash.Sum64([]byte(ua), uaHashKey))
}
