package wsdrop

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/wsdrop/wsdrop/handler"
	"github.com/wsdrop/wsdrop/transfer"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// Version of wsdrop, set at build time with -ldflags "-X github.com/wsdrop/wsdrop.Version=..."
var Version = "dev"

type Opts struct {
	WorkspaceDir      string
	WebDir            string
	Retention         time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	MaxFrameSize      int64
	// Register prometheus metrics. Serving them is up to the caller, see RunMetricsServer.
	AddPrometheusMetrics bool
	Debug                bool
}

type server struct {
	chain []func(next http.Handler) http.Handler
	final http.Handler
}

func (s *server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h := s.final
	for i := range s.chain {
		h = s.chain[len(s.chain)-1-i](h)
	}
	h.ServeHTTP(w, req)
}

func allowCORS(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Range")
		if req.Method == "OPTIONS" {
			w.WriteHeader(200)
			return
		}
		next.ServeHTTP(w, req)
	}
}

// Setup builds the upload handler and the full HTTP handler tree around it. Call
// h.Teardown() to close live sessions when done.
func Setup(opts Opts) (*handler.Handler, http.Handler) {
	if opts.Debug {
		zerolog.SetGlobalLevel(zerolog.TraceLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	h, err := handler.NewHandler(handler.Config{
		WorkspaceDir: opts.WorkspaceDir,
		Retention:    opts.Retention,
		MaxFrameSize: opts.MaxFrameSize,
		Transfer: transfer.Config{
			HeartbeatInterval: opts.HeartbeatInterval,
			HeartbeatTimeout:  opts.HeartbeatTimeout,
		},
		EnablePrometheus: opts.AddPrometheusMetrics,
	})
	if err != nil {
		logger.Fatal().Err(err).Str("workspace", opts.WorkspaceDir).Msg("failed to set up upload handler")
	}

	// HTTP path routing
	r := mux.NewRouter()
	r.Handle("/connect", h).Methods("GET")
	r.Handle("/d/{id}", allowCORS(http.HandlerFunc(h.Download))).Methods("GET", "HEAD", "OPTIONS")
	r.PathPrefix("/static/").Handler(
		http.StripPrefix("/static/", http.FileServer(http.Dir(opts.WebDir))),
	)
	index := filepath.Join(opts.WebDir, "index.html")
	r.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.ServeFile(w, req, index)
	})).Methods("GET", "HEAD")

	sentryHandler := sentryhttp.New(sentryhttp.Options{
		Repanic: true,
	})

	srv := &server{
		chain: []func(next http.Handler) http.Handler{
			hlog.NewHandler(logger),
			func(next http.Handler) http.Handler {
				return otelhttp.NewHandler(next, "wsdrop")
			},
			hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
				hlog.FromRequest(r).Info().
					Str("method", r.Method).
					Int("status", status).
					Int("size", size).
					Dur("duration", duration).
					Str("path", r.URL.Path).
					Msg("")
			}),
			hlog.RemoteAddrHandler("ip"),
			sentryHandler.Handle,
		},
		final: r,
	}
	return h, srv
}

// RunServer serves h on bindAddr in the background. Failing to bind is fatal.
func RunServer(h http.Handler, bindAddr string) *http.Server {
	srv := &http.Server{
		Addr:              bindAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("version", Version).Msgf("listening on %s", bindAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to listen and serve")
		}
	}()
	return srv
}

// RunMetricsServer exposes /metrics on its own address, away from the public listener.
func RunMetricsServer(bindAddr string) {
	go func() {
		logger.Info().Msgf("serving prometheus metrics on %s/metrics", bindAddr)
		if err := http.ListenAndServe(bindAddr, promhttp.Handler()); err != nil {
			logger.Fatal().Err(err).Msg("failed to serve prometheus metrics")
		}
	}()
}
