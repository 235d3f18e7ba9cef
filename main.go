package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/multiproxy/internal/client"
	"github.com/die-net/multiproxy/internal/connect"
	"github.com/die-net/multiproxy/internal/dialer"
	"github.com/die-net/multiproxy/internal/frontend"
	"github.com/die-net/multiproxy/internal/proxy"
	"github.com/die-net/multiproxy/internal/tproxy"
	"github.com/die-net/multiproxy/internal/upstream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listen      = pflag.String("listen", "", "Transparent proxy listen address for redirected connections (e.g. 0.0.0.0:10080). Empty disables.")
		transparent = pflag.Bool("transparent", false, "Set IP_TRANSPARENT (BINDANY on BSD) on the --listen socket for TPROXY rules")
		socksListen = pflag.String("socks5-listen", "", "SOCKS5 proxy listen address (e.g. 127.0.0.1:1080). Empty disables.")

		listFile = pflag.String("list", "", "TOML file of upstream servers ([[server]] tag, url, score_base)")
		servers  = pflag.StringArray("server", nil, "Upstream server URL[#tag], repeatable: direct:// | http://[user:pass@]host:port | https://[user:pass@]host:port | socks5://[user:pass@]host:port")

		nParallel = pflag.Int("n-parallel", 1, "Maximum connection attempts raced in parallel for TLS connections")
		sniff     = pflag.Bool("sniff", true, "Read the TLS client hello and connect upstream by its server name")

		probeTarget      = pflag.String("probe-target", "1.1.1.1:443", "host:port dialed through each server to measure it")
		probeInterval    = pflag.Duration("probe-interval", time.Minute, "Interval between server probes; 0 probes once at startup")
		probeTimeout     = pflag.Duration("probe-timeout", 5*time.Second, "Timeout for one server probe")
		probeConcurrency = pflag.Int("probe-concurrency", 8, "Maximum server probes in flight")

		debugListen        = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof, /metrics and /servers (e.g. 127.0.0.1:6060). Empty disables.")
		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for outbound DNS lookup and TCP connect")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for protocol negotiation to set up connection")
		connectTimeout     = pflag.Duration("connect-timeout", 10*time.Second, "Timeout for one connection attempt through a server")
		responseTimeout    = pflag.Duration("response-timeout", 5*time.Second, "Timeout for a server's first response to replayed client data")
		tcpKeepAlive       = pflag.String("tcp-keepalive", formatTCPKeepAlive(client.DefaultKeepAlive), "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		logLevel           = pflag.String("log-level", "info", "Log level: debug|info|warn|error")
	)

	if !tproxy.IsSupported {
		_ = pflag.CommandLine.MarkHidden("transparent")
	}

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	log, err := newLogger(*logLevel)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	defer log.Sync() //nolint:errcheck // Nothing to do if stderr is gone.

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	if *listen == "" && *socksListen == "" {
		return errors.New("no listeners enabled (set at least one of --listen, --socks5-listen)")
	}

	confs, err := serverConfigs(*listFile, *servers)
	if err != nil {
		return err
	}

	dialCfg := dialer.Config{
		DialTimeout:        *dialTimeout,
		NegotiationTimeout: *negotiationTimeout,
		KeepAlive:          ka,
	}
	list, err := upstream.BuildList(dialCfg, confs)
	if err != nil {
		return fmt.Errorf("invalid upstream servers: %w", err)
	}

	mon := &upstream.Monitor{
		List:        list,
		Target:      *probeTarget,
		Interval:    *probeInterval,
		Timeout:     *probeTimeout,
		Concurrency: *probeConcurrency,
		Log:         log.Named("monitor"),
	}

	cfg := frontend.Config{
		Env: &client.Env{
			List: list,
			Connector: &connect.Connector{
				ConnectTimeout:  *connectTimeout,
				ResponseTimeout: *responseTimeout,
				OnFailure:       mon.Trigger,
				Log:             log.Named("connect"),
			},
			Pool:      proxy.NewBufferPool(proxy.DefaultBufferSize),
			KeepAlive: ka,
			Log:       log.Named("client"),
		},
		NParallel:        *nParallel,
		Sniff:            *sniff,
		HandshakeTimeout: *negotiationTimeout,
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g.Go(func() error {
		return mon.Run(ctx)
	})

	if *debugListen != "" {
		debugSrv := &http.Server{Handler: debugHandler(list)} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: ka}
		if !ka.Enable {
			lc.KeepAlive = -1
		}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Info("debug listening on " + *debugListen)
	}

	if *listen != "" {
		var ln net.Listener
		if *transparent {
			ln, err = tproxy.ListenTransparentTCP(ctx, *listen, ka)
		} else {
			ln, err = proxy.ListenTCP(ctx, "tcp", *listen, ka)
		}
		if err != nil {
			return fmt.Errorf("tproxy listen: %w", err)
		}
		tsrv := frontend.NewTransparentServer(cfg)
		context.AfterFunc(ctx, func() {
			_ = ln.Close()
		})

		g.Go(func() error {
			if err := tsrv.Serve(ctx, ln); err != nil {
				return fmt.Errorf("tproxy serve: %w", err)
			}
			return nil
		})
		log.Info("tproxy listening on " + *listen)
	}

	if *socksListen != "" {
		ln, err := proxy.ListenTCP(ctx, "tcp", *socksListen, ka)
		if err != nil {
			return fmt.Errorf("socks5 listen: %w", err)
		}
		s5 := frontend.NewSOCKS5Server(cfg)
		context.AfterFunc(ctx, func() {
			_ = ln.Close()
		})

		g.Go(func() error {
			if err := s5.Serve(ctx, ln); err != nil {
				return fmt.Errorf("socks5 serve: %w", err)
			}
			return nil
		})
		log.Info("socks5 proxy listening on " + *socksListen)
	}

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	log.Info("shutting down")
	return err
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	return cfg.Build()
}

// serverConfigs merges the list file with --server flags. With neither, a
// single server comes from ALL_PROXY or defaults to direct.
func serverConfigs(listFile string, servers []string) ([]upstream.ServerConfig, error) {
	var confs []upstream.ServerConfig
	if listFile != "" {
		fromFile, err := upstream.LoadListFile(listFile)
		if err != nil {
			return nil, fmt.Errorf("invalid --list: %w", err)
		}
		confs = append(confs, fromFile...)
	}
	for _, s := range servers {
		confs = append(confs, upstream.ParseServerFlag(s))
	}
	if len(confs) == 0 {
		confs = append(confs, upstream.ParseServerFlag(defaultUpstream()))
	}
	return confs, nil
}

func debugHandler(list *upstream.ServerList) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/debug/", http.DefaultServeMux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/servers", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(list.Status())
	})
	return mux
}

func formatTCPKeepAlive(ka net.KeepAliveConfig) string {
	return fmt.Sprintf("%d:%d:%d", int(ka.Idle/time.Second), int(ka.Interval/time.Second), ka.Count)
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return client.KeepAliveOff, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

func defaultUpstream() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}

	if p := os.Getenv("all_proxy"); p != "" {
		return p
	}

	return "direct://"
}
