package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/fenwicklabs/chatline/api"
	"github.com/fenwicklabs/chatline/connserver"
	"github.com/fenwicklabs/chatline/handshake"
	"github.com/fenwicklabs/chatline/internal/cmdutil"
	"github.com/fenwicklabs/chatline/internal/version"
	"github.com/fenwicklabs/chatline/observability"
	"github.com/fenwicklabs/chatline/observability/prom"
	"github.com/fenwicklabs/chatline/realtime/ws"
	"github.com/fenwicklabs/chatline/registry"
	"github.com/fenwicklabs/chatline/router"
	"github.com/fenwicklabs/chatline/store"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string { return strings.Join(*s, ",") }

func (s *stringSliceFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type switchHandler struct {
	mu      sync.RWMutex
	handler http.Handler
}

func newSwitchHandler() *switchHandler {
	return &switchHandler{handler: http.NotFoundHandler()}
}

func (h *switchHandler) Set(next http.Handler) {
	if next == nil {
		next = http.NotFoundHandler()
	}
	h.mu.Lock()
	h.handler = next
	h.mu.Unlock()
}

func (h *switchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()
	handler.ServeHTTP(w, r)
}

type metricsController struct {
	mu       sync.Mutex
	enabled  bool
	handler  *switchHandler
	observer *observability.Atomic
}

func newMetricsController(handler *switchHandler, observer *observability.Atomic) *metricsController {
	return &metricsController{handler: handler, observer: observer}
}

func (c *metricsController) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled {
		return
	}
	reg := prom.NewRegistry()
	promObs := prom.New(reg)
	c.handler.Set(prom.Handler(reg))
	c.observer.Set(promObs)
	c.enabled = true
}

func (c *metricsController) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.handler.Set(nil)
	c.observer.Set(observability.Noop)
	c.enabled = false
}

type ready struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	Date       string `json:"date"`
	Listen     string `json:"listen"`
	WSListen   string `json:"ws_listen,omitempty"`
	WSPath     string `json:"ws_path,omitempty"`
	MetricsURL string `json:"metrics_url,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	logger := log.New(stderr, "", log.LstdFlags)

	listen := cmdutil.EnvString("CHATLINE_LISTEN", "127.0.0.1:0")
	wsListen := cmdutil.EnvString("CHATLINE_WS_LISTEN", "")
	wsPath := cmdutil.EnvString("CHATLINE_WS_PATH", "/ws")
	metricsListen := cmdutil.EnvString("CHATLINE_METRICS_LISTEN", "")

	allowedOrigins := stringSliceFlag(cmdutil.SplitCSVEnv("CHATLINE_ALLOW_ORIGIN"))
	allowNoOrigin, err := cmdutil.EnvBool("CHATLINE_ALLOW_NO_ORIGIN", false)
	if err != nil {
		fmt.Fprintf(stderr, "invalid CHATLINE_ALLOW_NO_ORIGIN: %v\n", err)
		return 2
	}

	fs := flag.NewFlagSet("chatline-server", flag.ContinueOnError)
	fs.SetOutput(stderr)

	showVersion := false
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&listen, "listen", listen, "raw-socket listen address (env: CHATLINE_LISTEN)")
	fs.StringVar(&wsListen, "ws-listen", wsListen, "websocket listen address (empty disables the WS ingress) (env: CHATLINE_WS_LISTEN)")
	fs.StringVar(&wsPath, "ws-path", wsPath, "websocket upgrade path (env: CHATLINE_WS_PATH)")
	fs.Var(&allowedOrigins, "allow-origin", "allowed websocket Origin value (repeatable; required when --ws-listen is set) (env: CHATLINE_ALLOW_ORIGIN)")
	fs.BoolVar(&allowNoOrigin, "allow-no-origin", allowNoOrigin, "allow websocket upgrades without an Origin header (env: CHATLINE_ALLOW_NO_ORIGIN)")
	fs.StringVar(&metricsListen, "metrics-listen", metricsListen, "listen address for the Prometheus /metrics endpoint (empty disables) (env: CHATLINE_METRICS_LISTEN)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		fmt.Fprintln(stdout, version.String(buildVersion, buildCommit, buildDate))
		return 0
	}
	if wsListen != "" && len(allowedOrigins) == 0 && !allowNoOrigin {
		fs.Usage()
		fmt.Fprintln(stderr, "missing --allow-origin (or set --allow-no-origin)")
		return 2
	}

	observer := observability.NewAtomic()

	accounts := store.NewMemoryAccountStore()
	keys := store.NewMemoryKeyStore()
	reg := registry.New(accounts, observer)
	rt := router.New(reg, observer)
	reg.SetHooks(rt.Hooks())
	hs := handshake.New(keys, observer)
	dispatch := api.New(reg, rt, hs, observer)

	onConnError := func(err error) { logger.Printf("connection error: %v", err) }
	cs := connserver.New(dispatch, observer, onConnError)

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	go func() {
		if err := cs.Serve(ln); err != nil {
			logger.Printf("raw-socket server stopped: %v", err)
		}
	}()

	var wsSrv *http.Server
	var wsLn net.Listener
	if wsListen != "" {
		mux := http.NewServeMux()
		mux.Handle(wsPath, ws.Handler(ws.HandlerOptions{
			Dispatch:       dispatch,
			Observer:       observer,
			AllowedOrigins: allowedOrigins,
			AllowNoOrigin:  allowNoOrigin,
		}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		wsLn, err = net.Listen("tcp", wsListen)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		wsSrv = newHTTPServer(mux)
		go func() {
			if err := wsSrv.Serve(wsLn); err != nil && err != http.ErrServerClosed {
				logger.Fatal(err)
			}
		}()
	}

	var metrics *metricsController
	var metricsSrv *http.Server
	var metricsLn net.Listener
	if metricsListen != "" {
		metricsMux := http.NewServeMux()
		metricsHandler := newSwitchHandler()
		metricsMux.Handle("/metrics", metricsHandler)
		metrics = newMetricsController(metricsHandler, observer)
		metrics.Enable()

		metricsLn, err = net.Listen("tcp", metricsListen)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		metricsSrv = newHTTPServer(metricsMux)
		go func() {
			if err := metricsSrv.Serve(metricsLn); err != nil && err != http.ErrServerClosed {
				logger.Fatal(err)
			}
		}()
	}

	out := ready{
		Version: buildVersion,
		Commit:  buildCommit,
		Date:    buildDate,
		Listen:  ln.Addr().String(),
	}
	if wsLn != nil {
		out.WSListen = wsLn.Addr().String()
		out.WSPath = wsPath
	}
	if metricsLn != nil {
		out.MetricsURL = "http://" + metricsLn.Addr().String() + "/metrics"
	}
	_ = cmdutil.WriteJSON(stdout, out, false)

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, notifySignals()...)

	for {
		s := <-sig
		if handleSignal(s, logger, dispatch.Shutdown, metrics) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = ln.Close()
		if wsSrv != nil {
			_ = wsSrv.Shutdown(ctx)
		}
		if metricsSrv != nil {
			_ = metricsSrv.Shutdown(ctx)
		}
		cancel()
		return 0
	}
}
