package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
	"go.gazette.dev/core/task"

	"github.com/solfeed/txflow/cache"
	"github.com/solfeed/txflow/config"
	"github.com/solfeed/txflow/ingest"
	"github.com/solfeed/txflow/kv"
	"github.com/solfeed/txflow/server"
	"github.com/solfeed/txflow/store"
	"github.com/solfeed/txflow/waf"
	"github.com/solfeed/txflow/ws"
)

const iniFilename = "txflow.ini"

// Config is the top-level configuration object of the txflow service.
var Config = new(struct {
	config.All
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
})

type cmdServe struct{}

func (cmdServe) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(Config.Diagnostics)()
	mbp.InitLog(mbp.LogConfig{Level: Config.Log.Level, Format: Config.Log.Format})

	log.WithFields(log.Fields{
		"config":    Config,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("txflow configuration")

	mbp.Must(Config.Validate(), "configuration is invalid")

	var tasks = task.NewGroup(context.Background())
	var signalCh = make(chan os.Signal, 1)

	// Key/value store, backing nonces, firewall lists, and the shared cache.
	var kvStore kv.Store
	if Config.Redis.Enabled() {
		var redis, err = kv.NewRedis(
			Config.Redis.URL, Config.Redis.ConnectTimeout(), Config.Redis.CommandTimeout())
		mbp.Must(err, "building redis client")
		defer redis.Close()
		kvStore = redis
	} else {
		log.Warn("redis is not configured; nonce issuance and wallet authentication are unavailable")
	}

	// Durable transaction index.
	var txStore store.Store
	if Config.Postgres.Enabled() {
		var pg, err = store.NewPostgres(context.Background(),
			Config.Postgres.DSN, int32(Config.Postgres.MaxConnections), Config.Postgres.ConnectTimeout())
		mbp.Must(err, "connecting to postgres")
		mbp.Must(pg.EnsureSchema(context.Background()), "ensuring postgres schema")
		defer pg.Close()
		txStore = pg
	} else {
		log.Warn("postgres is not configured; query endpoints will report the store unavailable")
	}

	var stats = ingest.NewStats()
	var bridge = ingest.NewBridge(stats)

	// Ingestion pipeline: consumer group, dead-letter producer, and the
	// broker health probe behind the readiness endpoint.
	var broker server.Pinger
	if Config.Kafka.Enabled && txStore != nil {
		var dlq, err = ingest.NewDLQ(Config.Kafka.Brokers, Config.Kafka.DLQTopic,
			Config.Kafka.MaxRetries, Config.Kafka.MessageMaxBytes)
		mbp.Must(err, "building dead-letter producer")
		defer dlq.Close()

		consumer, err := ingest.NewConsumer(Config.Kafka, Config.Ingest, txStore, dlq, bridge, stats)
		mbp.Must(err, "joining kafka consumer group")

		checker, err := ingest.NewHealthChecker(Config.Kafka)
		mbp.Must(err, "dialing kafka for health checks")
		defer checker.Close()
		broker = checker

		tasks.Queue("kafka.consume", func() error {
			return consumer.Run(tasks.Context())
		})
	} else if Config.Kafka.Enabled {
		log.Warn("kafka ingestion is enabled but postgres is not configured; skipping ingestion")
	}

	// Perimeter firewall.
	var scorer, err = waf.NewScorer(Config.WAF, waf.NewLists(Config.WAF, kvStore))
	mbp.Must(err, "compiling firewall patterns")

	// Live subscription channel.
	var broadcaster = ws.NewBroadcaster()
	var replayer ws.Replayer
	if txStore != nil {
		replayer = txStore
	}
	var wsHandler = ws.NewHandler(Config.WS, broadcaster, replayer)

	tasks.Queue("ws.broadcast", func() error {
		return broadcaster.Run(tasks.Context(), bridge.C())
	})

	var srv = server.New(Config.All, server.Deps{
		Store:  txStore,
		KV:     kvStore,
		Cache:  cache.New(Config.Cache.Enabled, Config.Cache.Backend, Config.Cache.MaxEntries, Config.Cache.TTL(), kvStore),
		Stats:  stats,
		Scorer: scorer,
		WS:     wsHandler,
		Broker: broker,
	}, "txflow", mbp.Version)

	tasks.Queue("http.serve", func() error {
		return srv.Run(tasks.Context())
	})

	// Install signal handler and run until signaled or a task fails.
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal")
			tasks.Cancel()
			return nil
		case <-tasks.Context().Done():
			return nil
		}
	})
	tasks.GoRun()

	// Block until all tasks complete. Assert none returned an error.
	mbp.Must(tasks.Wait(), "txflow task failed")
	log.Info("goodbye")

	return nil
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve the txflow service", `
Serve the txflow transaction index: the ingestion pipeline, the query API,
and the live subscription channel, until signaled to exit (via SIGTERM or
SIGINT).
`, &cmdServe{})

	mbp.AddPrintConfigCmd(parser, iniFilename)
	mbp.MustParseConfig(parser, iniFilename)
}
