// Command apinger is a long-running ICMP reachability monitor: it pings a
// set of configured targets, tracks rolling delay/loss statistics, raises
// hysteretic alarms, and dispatches pipe/command notifications on state
// changes.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/fichtner/apinger/internal/apitime"
	"github.com/fichtner/apinger/internal/cgigen"
	"github.com/fichtner/apinger/internal/config"
	"github.com/fichtner/apinger/internal/engine"
	"github.com/fichtner/apinger/internal/notify"
	"github.com/fichtner/apinger/internal/pidfile"
	"github.com/fichtner/apinger/internal/status"
	"github.com/fichtner/apinger/internal/target"
	"github.com/fichtner/apinger/internal/tsdb"
)

const (
	defaultStatusInterval    = 1 * time.Second
	defaultTSDBFlushInterval = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	configFlag := flag.StringP("config", "c", "/etc/apinger.conf", "path to configuration file")
	testFlag := flag.BoolP("test", "t", false, "parse configuration and exit")
	foregroundFlag := flag.BoolP("foreground", "f", false, "stay in the foreground instead of daemonizing")
	debugFlag := flag.BoolP("debug", "d", false, "enable debug logging")
	cgiDirFlag := flag.StringP("generate-cgi", "g", "", "generate the status CGI script in this directory and exit")
	cgiLocationFlag := flag.StringP("location", "l", "", "location reported by the generated CGI script (used with -g)")
	flag.Parse()

	log := newLogger(*debugFlag)

	cfg, err := config.Load(*configFlag)
	if err != nil {
		log.Error("load configuration", "path", *configFlag, "error", err)
		return err
	}

	if *testFlag {
		log.Info("configuration OK", "path", *configFlag, "targets", len(cfg.Targets), "alarms", len(cfg.Alarms))
		return nil
	}

	if *cgiDirFlag != "" {
		return generateCGI(log, *cgiDirFlag, cfg.StatusFile, *cgiLocationFlag)
	}

	if !*foregroundFlag {
		log.Debug("daemonization not implemented; staying in foreground")
	}

	if err := pidfile.Write(cfg.PIDFile); err != nil {
		log.Error("write pid file", "error", err)
		return err
	}
	defer func() {
		if err := pidfile.Clear(cfg.PIDFile); err != nil {
			log.Warn("clear pid file", "error", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.MetricsListen != "" {
		go serveMetrics(log, cfg.MetricsListen)
	}

	tsdbWriter := newTSDBWriter(cfg)
	defer tsdbWriter.Flush()

	clock := apitime.NewClock(clockwork.NewRealClock())
	registry := target.NewRegistry(log)
	registry.Reconcile(cfg.Snapshot(), clock.Now())
	if registry.Len() == 0 {
		log.Error("no usable targets in configuration")
		return fmt.Errorf("apinger: no usable targets")
	}

	dispatcher := notify.NewDispatcher(log, cfg.TimestampFormat)
	mgr := notify.NewManager(dispatcher)

	statusWriter := status.New(cfg.StatusFile)

	eng := engine.New(engine.Config{
		Log:               log,
		Clock:             clock,
		ConfigFile:        cfg,
		Registry:          registry,
		Notify:            mgr,
		Status:            statusWriter,
		TSDB:              tsdbWriter,
		ID:                uint16(os.Getpid() & 0xffff),
		StatusInterval:    defaultStatusInterval,
		TSDBFlushInterval: defaultTSDBFlushInterval,
	})

	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1, syscall.SIGPIPE)
	go func() {
		for sig := range sigCh {
			eng.NotifySignal(sig)
		}
	}()
	defer signal.Stop(sigCh)

	log.Info("apinger starting", "config", *configFlag, "targets", registry.Len())
	if err := eng.Run(ctx); err != nil {
		log.Error("engine stopped", "error", err)
		return err
	}
	log.Info("apinger stopped")
	return nil
}

func generateCGI(log *slog.Logger, dir, statusFile, location string) error {
	path, err := cgigen.Generate(dir, cgigen.Params{StatusFile: statusFile, Location: location})
	if err != nil {
		log.Error("generate cgi script", "error", err)
		return err
	}
	log.Info("generated cgi script", "path", path)
	return nil
}

func serveMetrics(log *slog.Logger, addr string) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Error("start metrics listener", "address", addr, "error", err)
		return
	}
	log.Info("metrics server listening", "address", listener.Addr().String())
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.Serve(listener, mux); err != nil {
		log.Error("metrics server stopped", "error", err)
	}
}

func newTSDBWriter(cfg *config.Config) tsdb.Writer {
	if cfg.InfluxURL == "" || cfg.InfluxToken == "" || cfg.InfluxOrg == "" || cfg.InfluxBucket == "" {
		return tsdb.NewNoop()
	}
	client := influxdb2.NewClient(cfg.InfluxURL, cfg.InfluxToken)
	api := client.WriteAPI(cfg.InfluxOrg, cfg.InfluxBucket)
	return tsdb.NewInfluxWriter(api)
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if s, ok := a.Value.Any().(string); ok && s == "" {
				return slog.Attr{}
			}
			return a
		},
	}))
}
