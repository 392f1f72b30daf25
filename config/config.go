// Package config declares the recognized option groups of the txflow service.
// Groups are parsed by go-flags from (in order of increasing precedence)
// defaults, an INI file, environment variables, and command-line flags.
// Environment names follow the APP__GROUP__FIELD convention.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/jessevdk/go-flags"
)

// Server configures the HTTP listener.
type Server struct {
	Host                  string `long:"host" env:"APP__SERVER__HOST" default:"0.0.0.0" description:"Address to bind the HTTP listener to"`
	Port                  int    `long:"port" env:"APP__SERVER__PORT" default:"8080" description:"Port to bind the HTTP listener to"`
	RequestBodyLimitBytes int64  `long:"request-body-limit-bytes" env:"APP__SERVER__REQUEST_BODY_LIMIT_BYTES" default:"1048576" description:"Maximum accepted request body size"`
	Workers               int    `long:"workers" env:"APP__SERVER__WORKERS" default:"0" description:"Maximum concurrent connections (0 means unlimited)"`
	GracefulShutdownSecs  int    `long:"graceful-shutdown-secs" env:"APP__SERVER__GRACEFUL_SHUTDOWN_SECS" default:"10" description:"Seconds to wait for in-flight requests on shutdown"`
	TLSEnabled            bool   `long:"tls-enabled" env:"APP__SERVER__TLS_ENABLED" description:"Recognized but unsupported; terminate TLS upstream"`
}

// Addr returns the host:port to listen on.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// GracefulShutdown returns the shutdown grace period.
func (s *Server) GracefulShutdown() time.Duration {
	return time.Duration(s.GracefulShutdownSecs) * time.Second
}

func (s *Server) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be in range [1, 65535] (got %d)", s.Port)
	}
	if s.RequestBodyLimitBytes <= 0 {
		return fmt.Errorf("request-body-limit-bytes must be positive (got %d)", s.RequestBodyLimitBytes)
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers cannot be negative (got %d)", s.Workers)
	}
	if s.TLSEnabled {
		return fmt.Errorf("tls-enabled is not supported; terminate TLS at the ingress in front of txflow")
	}
	return nil
}

// Log configures level and format of process logging.
type Log struct {
	Level  string `long:"level" env:"APP__LOG__LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" description:"Logging level"`
	Format string `long:"format" env:"APP__LOG__FORMAT" default:"json" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
}

// HTTP configures cross-cutting request plumbing.
type HTTP struct {
	RequestIDHeader string `long:"request-id-header" env:"APP__HTTP__REQUEST_ID_HEADER" default:"x-request-id" description:"Header carrying the request id, echoed on every response"`
}

// Auth configures the wallet-auth gate and nonce issuance.
type Auth struct {
	Enabled            bool     `long:"enabled" env:"APP__AUTH__ENABLED" description:"Enable wallet signature verification on protected paths"`
	WalletHeader       string   `long:"wallet-header" env:"APP__AUTH__WALLET_HEADER" default:"X-Wallet-Address" description:"Header carrying the wallet address"`
	SignatureHeader    string   `long:"signature-header" env:"APP__AUTH__SIGNATURE_HEADER" default:"X-Wallet-Signature" description:"Header carrying the request signature"`
	NonceHeader        string   `long:"nonce-header" env:"APP__AUTH__NONCE_HEADER" default:"X-Nonce" description:"Header carrying the issued nonce"`
	NonceTTLSecs       int      `long:"nonce-ttl-secs" env:"APP__AUTH__NONCE_TTL_SECS" default:"120" description:"Lifetime of an issued nonce"`
	NoncePrefix        string   `long:"nonce-prefix" env:"APP__AUTH__NONCE_PREFIX" default:"auth:nonce" description:"KV key prefix for nonce bindings"`
	BypassPaths        []string `long:"bypass-path" env:"APP__AUTH__BYPASS_PATHS" env-delim:"," default:"/healthz" default:"/readyz" default:"/version" default:"/api/auth/nonce" description:"Exact paths exempt from the gate"`
	ProtectPrefixes    []string `long:"protect-prefix" env:"APP__AUTH__PROTECT_PREFIXES" env-delim:"," default:"/api" description:"Path prefixes the gate protects"`
	AcceptSignatureB58 bool     `long:"accept-signature-b58" env:"APP__AUTH__ACCEPT_SIGNATURE_B58" default:"true" description:"Accept base58-encoded signatures"`
	AcceptSignatureB64 bool     `long:"accept-signature-b64" env:"APP__AUTH__ACCEPT_SIGNATURE_B64" description:"Accept base64-encoded signatures"`
	CanonMethod        string   `long:"canon-method" env:"APP__AUTH__CANON_METHOD" default:"upper" choice:"upper" choice:"lower" choice:"as-is" description:"Method canonicalization for the signing string"`
	CanonPath          string   `long:"canon-path" env:"APP__AUTH__CANON_PATH" default:"as-is" choice:"lower" choice:"as-is" description:"Path canonicalization for the signing string"`
}

// NonceTTL returns the nonce lifetime.
func (a *Auth) NonceTTL() time.Duration {
	return time.Duration(a.NonceTTLSecs) * time.Second
}

func (a *Auth) Validate() error {
	if a.NonceTTLSecs <= 0 {
		return fmt.Errorf("nonce-ttl-secs must be positive (got %d)", a.NonceTTLSecs)
	}
	if a.Enabled && !a.AcceptSignatureB58 && !a.AcceptSignatureB64 {
		return fmt.Errorf("at least one signature encoding must be accepted when auth is enabled")
	}
	return nil
}

// RateLimit configures the fixed-window request gate.
type RateLimit struct {
	Enabled              bool     `long:"enabled" env:"APP__RATE_LIMIT__ENABLED" default:"true" description:"Enable per-IP and per-wallet rate limiting"`
	IPMaxRequests        int      `long:"ip-max-requests" env:"APP__RATE_LIMIT__IP_MAX_REQUESTS" default:"100" description:"Requests allowed per IP per window"`
	IPWindowSecs         int      `long:"ip-window-secs" env:"APP__RATE_LIMIT__IP_WINDOW_SECS" default:"60" description:"IP window length"`
	UserMaxRequests      int      `long:"user-max-requests" env:"APP__RATE_LIMIT__USER_MAX_REQUESTS" default:"200" description:"Requests allowed per wallet per window"`
	UserWindowSecs       int      `long:"user-window-secs" env:"APP__RATE_LIMIT__USER_WINDOW_SECS" default:"60" description:"Wallet window length"`
	WhitelistPaths       []string `long:"whitelist-path" env:"APP__RATE_LIMIT__WHITELIST_PATHS" env-delim:"," default:"/healthz" default:"/readyz" description:"Exact paths exempt from rate limiting"`
	RespectXForwardedFor bool     `long:"respect-x-forwarded-for" env:"APP__RATE_LIMIT__RESPECT_X_FORWARDED_FOR" default:"true" description:"Trust the first valid X-Forwarded-For entry as the client IP"`
}

// IPWindow returns the per-IP window length.
func (r *RateLimit) IPWindow() time.Duration {
	return time.Duration(r.IPWindowSecs) * time.Second
}

// UserWindow returns the per-wallet window length.
func (r *RateLimit) UserWindow() time.Duration {
	return time.Duration(r.UserWindowSecs) * time.Second
}

func (r *RateLimit) Validate() error {
	if r.IPMaxRequests <= 0 || r.UserMaxRequests <= 0 {
		return fmt.Errorf("rate limit maximums must be positive")
	}
	if r.IPWindowSecs <= 0 || r.UserWindowSecs <= 0 {
		return fmt.Errorf("rate limit windows must be positive")
	}
	return nil
}

// Postgres configures the durable transaction store.
type Postgres struct {
	DSN              string `long:"dsn" env:"APP__POSTGRES__DSN" default:"" description:"Postgres connection string; empty disables the store"`
	MaxConnections   int    `long:"max-connections" env:"APP__POSTGRES__MAX_CONNECTIONS" default:"10" description:"Connection pool size"`
	ConnectTimeoutMS int    `long:"connect-timeout-ms" env:"APP__POSTGRES__CONNECT_TIMEOUT_MS" default:"3000" description:"Connection establishment timeout"`
}

// Enabled reports whether a store was configured.
func (p *Postgres) Enabled() bool { return p.DSN != "" }

// ConnectTimeout returns the dial timeout.
func (p *Postgres) ConnectTimeout() time.Duration {
	return time.Duration(p.ConnectTimeoutMS) * time.Millisecond
}

func (p *Postgres) Validate() error {
	if p.MaxConnections <= 0 {
		return fmt.Errorf("max-connections must be positive (got %d)", p.MaxConnections)
	}
	return nil
}

// Redis configures the shared key/value store.
type Redis struct {
	URL              string `long:"url" env:"APP__REDIS__URL" default:"" description:"Redis URL; empty disables the KV store"`
	ConnectTimeoutMS int    `long:"connect-timeout-ms" env:"APP__REDIS__CONNECT_TIMEOUT_MS" default:"1000" description:"Connection establishment timeout"`
	CommandTimeoutMS int    `long:"command-timeout-ms" env:"APP__REDIS__COMMAND_TIMEOUT_MS" default:"1000" description:"Per-command timeout"`
}

// Enabled reports whether a KV store was configured.
func (r *Redis) Enabled() bool { return r.URL != "" }

// ConnectTimeout returns the dial timeout.
func (r *Redis) ConnectTimeout() time.Duration {
	return time.Duration(r.ConnectTimeoutMS) * time.Millisecond
}

// CommandTimeout returns the per-command timeout.
func (r *Redis) CommandTimeout() time.Duration {
	return time.Duration(r.CommandTimeoutMS) * time.Millisecond
}

// Kafka configures the broker consumer and DLQ producer.
type Kafka struct {
	Enabled           bool     `long:"enabled" env:"APP__KAFKA__ENABLED" default:"true" description:"Enable the ingestion consumer"`
	Brokers           []string `long:"broker" env:"APP__KAFKA__BROKERS" env-delim:"," default:"127.0.0.1:9092" description:"Bootstrap broker addresses"`
	GroupID           string   `long:"group-id" env:"APP__KAFKA__GROUP_ID" default:"txflow-consumer" description:"Consumer group id"`
	InputTopic        string   `long:"input-topic" env:"APP__KAFKA__INPUT_TOPIC" default:"tx.raw" description:"Topic delivering raw transactions"`
	DLQTopic          string   `long:"dlq-topic" env:"APP__KAFKA__DLQ_TOPIC" default:"tx.dlq" description:"Dead-letter topic"`
	MaxPollRecords    int      `long:"max-poll-records" env:"APP__KAFKA__MAX_POLL_RECORDS" default:"100" description:"Consumer channel buffer depth"`
	PollIntervalMS    int      `long:"poll-interval-ms" env:"APP__KAFKA__POLL_INTERVAL_MS" default:"200" description:"Batch flush tick"`
	SessionTimeoutMS  int      `long:"session-timeout-ms" env:"APP__KAFKA__SESSION_TIMEOUT_MS" default:"10000" description:"Consumer group session timeout"`
	MessageMaxBytes   int      `long:"message-max-bytes" env:"APP__KAFKA__MESSAGE_MAX_BYTES" default:"1048576" description:"Maximum message size fetched and produced"`
	RetryBackoffMS    int      `long:"retry-backoff-ms" env:"APP__KAFKA__RETRY_BACKOFF_MS" default:"200" description:"Base backoff between commit retries"`
	MaxRetries        int      `long:"max-retries" env:"APP__KAFKA__MAX_RETRIES" default:"5" description:"Store commit attempts before dead-lettering a batch"`
	MetadataTimeoutMS int      `long:"metadata-timeout-ms" env:"APP__KAFKA__METADATA_TIMEOUT_MS" default:"1500" description:"Broker metadata fetch timeout"`
}

// PollInterval returns the flush tick period.
func (k *Kafka) PollInterval() time.Duration {
	return time.Duration(k.PollIntervalMS) * time.Millisecond
}

// SessionTimeout returns the group session timeout.
func (k *Kafka) SessionTimeout() time.Duration {
	return time.Duration(k.SessionTimeoutMS) * time.Millisecond
}

// RetryBackoff returns the base retry backoff.
func (k *Kafka) RetryBackoff() time.Duration {
	return time.Duration(k.RetryBackoffMS) * time.Millisecond
}

// MetadataTimeout returns the metadata fetch timeout.
func (k *Kafka) MetadataTimeout() time.Duration {
	return time.Duration(k.MetadataTimeoutMS) * time.Millisecond
}

func (k *Kafka) Validate() error {
	if !k.Enabled {
		return nil
	}
	if len(k.Brokers) == 0 {
		return fmt.Errorf("at least one broker is required")
	}
	if k.GroupID == "" {
		return fmt.Errorf("group-id is required")
	}
	if k.InputTopic == "" || k.DLQTopic == "" {
		return fmt.Errorf("input-topic and dlq-topic are required")
	}
	if k.MaxPollRecords <= 0 || k.MessageMaxBytes <= 0 {
		return fmt.Errorf("max-poll-records and message-max-bytes must be positive")
	}
	if k.MaxRetries < 1 {
		return fmt.Errorf("max-retries must be at least 1 (got %d)", k.MaxRetries)
	}
	return nil
}

// Ingest configures the normalization and batching stage.
type Ingest struct {
	DBInsertBatchSize      int  `long:"db-insert-batch-size" env:"APP__INGEST__DB_INSERT_BATCH_SIZE" default:"100" description:"Records accumulated before a bulk upsert"`
	EmitWSEvents           bool `long:"emit-ws-events" env:"APP__INGEST__EMIT_WS_EVENTS" default:"true" description:"Fan committed records out to live sessions"`
	IdempotencyBySignature bool `long:"idempotency-by-signature" env:"APP__INGEST__IDEMPOTENCY_BY_SIGNATURE" default:"true" description:"Deduplicate on signature via upsert-or-ignore"`
}

func (i *Ingest) Validate() error {
	if i.DBInsertBatchSize <= 0 {
		return fmt.Errorf("db-insert-batch-size must be positive (got %d)", i.DBInsertBatchSize)
	}
	return nil
}

// Cache configures the query-response cache.
type Cache struct {
	Enabled    bool   `long:"enabled" env:"APP__CACHE__ENABLED" default:"true" description:"Enable the response cache"`
	Backend    string `long:"backend" env:"APP__CACHE__BACKEND" default:"memory" choice:"memory" choice:"redis" description:"Cache backend"`
	TTLSecs    int    `long:"ttl-secs" env:"APP__CACHE__TTL_SECS" default:"10" description:"Cached response lifetime"`
	MaxEntries int    `long:"max-entries" env:"APP__CACHE__MAX_ENTRIES" default:"1000" description:"In-process cache capacity"`
	ETagSalt   string `long:"etag-salt" env:"APP__CACHE__ETAG_SALT" default:"" description:"Salt folded into ETag fingerprints"`
}

// TTL returns the cached response lifetime.
func (c *Cache) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

func (c *Cache) Validate() error {
	if c.TTLSecs <= 0 {
		return fmt.Errorf("ttl-secs must be positive (got %d)", c.TTLSecs)
	}
	if c.MaxEntries <= 0 {
		return fmt.Errorf("max-entries must be positive (got %d)", c.MaxEntries)
	}
	return nil
}

// WS configures the live subscription channel.
type WS struct {
	Enabled                 bool   `long:"enabled" env:"APP__WS__ENABLED" default:"true" description:"Enable the live subscription channel"`
	Path                    string `long:"path" env:"APP__WS__PATH" default:"/ws/tx" description:"Route of the channel endpoint"`
	PingIntervalSecs        int    `long:"ping-interval-secs" env:"APP__WS__PING_INTERVAL_SECS" default:"20" description:"Server heartbeat period"`
	IdleTimeoutSecs         int    `long:"idle-timeout-secs" env:"APP__WS__IDLE_TIMEOUT_SECS" default:"60" description:"Close sessions idle for this long"`
	MaxSubscriptionsPerConn int    `long:"max-subscriptions-per-conn" env:"APP__WS__MAX_SUBSCRIPTIONS_PER_CONN" default:"10" description:"Subscription cap per session"`
	MaxClientMsgPerMin      int    `long:"max-client-msg-per-min" env:"APP__WS__MAX_CLIENT_MSG_PER_MIN" default:"30" description:"Inbound frame budget per minute"`
	MaxEventsPerSec         int    `long:"max-events-per-sec" env:"APP__WS__MAX_EVENTS_PER_SEC" default:"100" description:"Outbound event budget per second"`
	ResumeReplayLimit       int    `long:"resume-replay-limit" env:"APP__WS__RESUME_REPLAY_LIMIT" default:"500" description:"Maximum records replayed for resume_from_slot"`
}

// PingInterval returns the heartbeat period.
func (w *WS) PingInterval() time.Duration {
	return time.Duration(w.PingIntervalSecs) * time.Second
}

// IdleTimeout returns the idle close threshold.
func (w *WS) IdleTimeout() time.Duration {
	return time.Duration(w.IdleTimeoutSecs) * time.Second
}

func (w *WS) Validate() error {
	if w.Path == "" || w.Path[0] != '/' {
		return fmt.Errorf("path must begin with '/' (got %q)", w.Path)
	}
	if w.PingIntervalSecs <= 0 || w.IdleTimeoutSecs <= 0 {
		return fmt.Errorf("ping-interval-secs and idle-timeout-secs must be positive")
	}
	if w.MaxSubscriptionsPerConn <= 0 {
		return fmt.Errorf("max-subscriptions-per-conn must be positive (got %d)", w.MaxSubscriptionsPerConn)
	}
	if w.MaxClientMsgPerMin <= 0 || w.MaxEventsPerSec <= 0 {
		return fmt.Errorf("session rate limits must be positive")
	}
	if w.ResumeReplayLimit < 0 {
		return fmt.Errorf("resume-replay-limit cannot be negative (got %d)", w.ResumeReplayLimit)
	}
	return nil
}

// Security configures response security headers.
type Security struct {
	HSTSEnabled        bool   `long:"hsts-enabled" env:"APP__SECURITY__HSTS_ENABLED" description:"Emit Strict-Transport-Security"`
	HSTSMaxAgeSecs     int    `long:"hsts-max-age-secs" env:"APP__SECURITY__HSTS_MAX_AGE_SECS" default:"31536000" description:"HSTS max-age"`
	FrameOptions       string `long:"frame-options" env:"APP__SECURITY__FRAME_OPTIONS" default:"DENY" description:"X-Frame-Options value"`
	ContentTypeOptions string `long:"content-type-options" env:"APP__SECURITY__CONTENT_TYPE_OPTIONS" default:"nosniff" description:"X-Content-Type-Options value"`
	ReferrerPolicy     string `long:"referrer-policy" env:"APP__SECURITY__REFERRER_POLICY" default:"no-referrer" description:"Referrer-Policy value"`
	PermissionsPolicy  string `long:"permissions-policy" env:"APP__SECURITY__PERMISSIONS_POLICY" default:"geolocation=(), camera=(), microphone=()" description:"Permissions-Policy value"`
	CSPEnabled         bool   `long:"csp-enabled" env:"APP__SECURITY__CSP_ENABLED" description:"Emit Content-Security-Policy"`
	CSP                string `long:"csp" env:"APP__SECURITY__CSP" default:"" description:"Content-Security-Policy value"`
}

// CORS configures cross-origin request handling.
type CORS struct {
	AllowedOrigins []string `long:"allowed-origin" env:"APP__CORS__ALLOWED_ORIGINS" env-delim:"," default:"*" description:"Origins allowed to call the API"`
}

// WAF configures the perimeter request scorer.
type WAF struct {
	Enabled              bool     `long:"enabled" env:"APP__WAF__ENABLED" default:"true" description:"Enable request scoring"`
	Mode                 string   `long:"mode" env:"APP__WAF__MODE" default:"shadow" choice:"shadow" choice:"block" description:"shadow logs would-block verdicts; block enforces them"`
	BypassPaths          []string `long:"bypass-path" env:"APP__WAF__BYPASS_PATHS" env-delim:"," default:"/healthz" default:"/readyz" default:"/metrics" description:"Paths exempt from scoring"`
	AllowedMethods       []string `long:"allowed-method" env:"APP__WAF__ALLOWED_METHODS" env-delim:"," default:"GET" default:"POST" default:"PUT" default:"PATCH" default:"DELETE" default:"OPTIONS" description:"Methods that do not add anomaly score"`
	MaxQueryLength       int      `long:"max-query-length" env:"APP__WAF__MAX_QUERY_LENGTH" default:"4096" description:"Query strings longer than this add the oversize weight"`
	BlockedUASubstrings  []string `long:"blocked-ua" env:"APP__WAF__BLOCKED_UA_SUBSTRINGS" env-delim:"," default:"sqlmap" default:"acunetix" default:"nmap" default:"dirbuster" description:"User-Agent substrings that add the bad_ua weight"`
	BlockedPathPatterns  []string `long:"blocked-path-pattern" env:"APP__WAF__BLOCKED_PATH_PATTERNS" env-delim:"," default:"(?i)\\.(?:env|git|svn)(?:$|/)" default:"(?i)\\bwp-admin\\b" default:"(?i)\\bphpmyadmin\\b" description:"Path regexes that add the bad_path weight"`
	SQLiPatterns         []string `long:"sqli-pattern" env:"APP__WAF__SQLI_PATTERNS" env-delim:"," default:"(?i)\\bUNION\\b\\s+\\bSELECT\\b" default:"(?i)\\bOR\\b\\s+1=1\\b" default:"(?i)\\bSLEEP\\s*\\(" description:"SQL injection regexes"`
	XSSPatterns          []string `long:"xss-pattern" env:"APP__WAF__XSS_PATTERNS" env-delim:"," default:"(?i)<\\s*script\\b" default:"(?i)onerror\\s*=" default:"(?i)javascript:" description:"Cross-site scripting regexes"`
	RCEPatterns          []string `long:"rce-pattern" env:"APP__WAF__RCE_PATTERNS" env-delim:"," default:"(?i)\\b(?:/bin/sh|/bin/bash)\\b" default:"(?i)\\|\\s*(?:cat|ls|curl|wget)\\b" description:"Command execution regexes"`
	TraversalPatterns    []string `long:"traversal-pattern" env:"APP__WAF__TRAVERSAL_PATTERNS" env-delim:"," default:"\\.\\./" default:"%2e%2e/" description:"Path traversal regexes"`
	WeightSQLi           int      `long:"weight-sqli" env:"APP__WAF__WEIGHT_SQLI" default:"8" description:"Score added per SQLi match"`
	WeightXSS            int      `long:"weight-xss" env:"APP__WAF__WEIGHT_XSS" default:"6" description:"Score added per XSS match"`
	WeightRCE            int      `long:"weight-rce" env:"APP__WAF__WEIGHT_RCE" default:"8" description:"Score added per RCE match"`
	WeightTraversal      int      `long:"weight-traversal" env:"APP__WAF__WEIGHT_TRAVERSAL" default:"6" description:"Score added per traversal match"`
	WeightBadUA          int      `long:"weight-bad-ua" env:"APP__WAF__WEIGHT_BAD_UA" default:"4" description:"Score added per blocked UA substring"`
	WeightBadPath        int      `long:"weight-bad-path" env:"APP__WAF__WEIGHT_BAD_PATH" default:"4" description:"Score added per blocked path match"`
	WeightOversize       int      `long:"weight-oversize" env:"APP__WAF__WEIGHT_OVERSIZE" default:"5" description:"Score added for oversize queries"`
	BlockThreshold       int      `long:"block-threshold" env:"APP__WAF__BLOCK_THRESHOLD" default:"10" description:"Score at which a request blocks"`
	GreyThreshold        int      `long:"grey-threshold" env:"APP__WAF__GREY_THRESHOLD" default:"6" description:"Score at which an IP is grey-listed"`
	BanSetKey            string   `long:"ban-set-key" env:"APP__WAF__BAN_SET_KEY" default:"waf:ban:ips" description:"KV set holding banned IPs"`
	GreySetKey           string   `long:"grey-set-key" env:"APP__WAF__GREY_SET_KEY" default:"waf:grey:ips" description:"KV set holding grey-listed IPs"`
	BanTTLSecs           int      `long:"ban-ttl-secs" env:"APP__WAF__BAN_TTL_SECS" default:"3600" description:"Ban list expiry"`
	GreyTTLSecs          int      `long:"grey-ttl-secs" env:"APP__WAF__GREY_TTL_SECS" default:"300" description:"Grey list expiry"`
	MaxEventsPerIPPerMin int      `long:"max-events-per-ip-per-min" env:"APP__WAF__MAX_EVENTS_PER_IP_PER_MIN" default:"60" description:"Event log budget per IP"`
	UseKVLists           bool     `long:"use-kv-lists" env:"APP__WAF__USE_KV_LISTS" default:"true" description:"Keep ban/grey lists in the KV store instead of process memory"`
	DebugRoutePath       string   `long:"debug-route-path" env:"APP__WAF__DEBUG_ROUTE_PATH" default:"/_waf/debug" description:"Route of the diagnostic endpoint"`
}

// BanTTL returns the ban list expiry.
func (w *WAF) BanTTL() time.Duration { return time.Duration(w.BanTTLSecs) * time.Second }

// GreyTTL returns the grey list expiry.
func (w *WAF) GreyTTL() time.Duration { return time.Duration(w.GreyTTLSecs) * time.Second }

func (w *WAF) Validate() error {
	if w.GreyThreshold > w.BlockThreshold {
		return fmt.Errorf("grey-threshold (%d) cannot exceed block-threshold (%d)", w.GreyThreshold, w.BlockThreshold)
	}
	if w.MaxQueryLength <= 0 {
		return fmt.Errorf("max-query-length must be positive (got %d)", w.MaxQueryLength)
	}
	return nil
}

// Admin guards diagnostic endpoints.
type Admin struct {
	Token  string `long:"token" env:"APP__ADMIN__TOKEN" default:"" description:"Token required by diagnostic endpoints; empty leaves them open"`
	Header string `long:"header" env:"APP__ADMIN__HEADER" default:"X-Admin-Token" description:"Header carrying the admin token"`
}

// All bundles every option group of the service.
type All struct {
	Server    Server    `group:"server" namespace:"server"`
	Log       Log       `group:"log" namespace:"log"`
	HTTP      HTTP      `group:"http" namespace:"http"`
	Auth      Auth      `group:"auth" namespace:"auth"`
	RateLimit RateLimit `group:"rate-limit" namespace:"rate-limit"`
	Postgres  Postgres  `group:"postgres" namespace:"postgres"`
	Redis     Redis     `group:"redis" namespace:"redis"`
	Kafka     Kafka     `group:"kafka" namespace:"kafka"`
	Ingest    Ingest    `group:"ingest" namespace:"ingest"`
	Cache     Cache     `group:"cache" namespace:"cache"`
	WS        WS        `group:"ws" namespace:"ws"`
	Security  Security  `group:"security" namespace:"security"`
	CORS      CORS      `group:"cors" namespace:"cors"`
	WAF       WAF       `group:"waf" namespace:"waf"`
	Admin     Admin     `group:"admin" namespace:"admin"`
}

// Defaults returns every option group at its declared default, as when
// parsed with no flags, environment, or INI file set.
func Defaults() (*All, error) {
	var all = new(All)
	if _, err := flags.NewParser(all, flags.None).ParseArgs(nil); err != nil {
		return nil, fmt.Errorf("parsing default configuration: %w", err)
	}
	return all, nil
}

// Validate checks every group and returns the first violation.
func (a *All) Validate() error {
	for _, v := range []struct {
		group string
		err   error
	}{
		{"server", a.Server.Validate()},
		{"auth", a.Auth.Validate()},
		{"rate-limit", a.RateLimit.Validate()},
		{"postgres", a.Postgres.Validate()},
		{"kafka", a.Kafka.Validate()},
		{"ingest", a.Ingest.Validate()},
		{"cache", a.Cache.Validate()},
		{"ws", a.WS.Validate()},
		{"waf", a.WAF.Validate()},
	} {
		if v.err != nil {
			return fmt.Errorf("%s: %w", v.group, v.err)
		}
	}
	return nil
}
