package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/wsdrop/wsdrop"
	"github.com/wsdrop/wsdrop/internal"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

const (
	EnvBindAddr  = "WSDROP_BINDADDR"
	EnvWorkspace = "WSDROP_WORKSPACE"
	EnvWeb       = "WSDROP_WEB"
	EnvRetention = "WSDROP_RETENTION"
	EnvHeartbeat = "WSDROP_HEARTBEAT"
	EnvTimeout   = "WSDROP_TIMEOUT"
	EnvMaxFrame  = "WSDROP_MAX_FRAME"
	EnvDebug     = "WSDROP_DEBUG"

	// Optional observability
	EnvPrometheus = "WSDROP_PROM"
	EnvSentryDsn  = "WSDROP_SENTRY_DSN"
	EnvOTLP       = "WSDROP_OTLP_URL"
	EnvOTLPUser   = "WSDROP_OTLP_USERNAME"
	EnvOTLPPass   = "WSDROP_OTLP_PASSWORD"
)

var helpMsg = fmt.Sprintf(`
Environment var
%s   Default: 127.0.0.1:80. The interface and port to listen on.
%s  Default: ./workspace. Directory holding one sub-directory per upload session.
%s        Default: ./web. Directory holding index.html and the static assets.
%s  Default: 0. How long a workspace is kept after its last upload, e.g. 24h. 0 keeps forever.
%s  Default: 5s. How often clients are pinged.
%s    Default: 30s. How long a client may stay silent before it is dropped.
%s  Default: 16777216. Largest websocket message accepted, in bytes.
%s      Default: unset. Set to 1 for trace logging and fail-fast assertions.
%s       Default: unset. The bind addr for Prometheus metrics, which will be accessible at /metrics at this address.
%s Default: unset. The Sentry DSN to report panics and storage failures to.
%s   Default: unset. The OTLP HTTP URL to send spans to e.g https://localhost:4318 - if unset does not send OTLP traces.
%s Default: unset. The OTLP username for Basic auth. If unset, does not send an Authorization header.
%s Default: unset. The OTLP password for Basic auth. If unset, does not send an Authorization header.
Every variable can also be given as a flag, e.g. --bindaddr, which takes precedence.
`, EnvBindAddr, EnvWorkspace, EnvWeb, EnvRetention, EnvHeartbeat, EnvTimeout, EnvMaxFrame, EnvDebug,
	EnvPrometheus, EnvSentryDsn, EnvOTLP, EnvOTLPUser, EnvOTLPPass)

func defaultEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	flags := pflag.NewFlagSet("wsdrop", pflag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "wsdrop %s\n\nFlags:\n%s%s", wsdrop.Version, flags.FlagUsages(), helpMsg)
	}
	args := map[string]*string{
		EnvBindAddr:   flags.String("bindaddr", defaultEnv(EnvBindAddr, "127.0.0.1:80"), "bind address"),
		EnvWorkspace:  flags.String("workspace", defaultEnv(EnvWorkspace, "./workspace"), "workspace root"),
		EnvWeb:        flags.String("web", defaultEnv(EnvWeb, "./web"), "static web directory"),
		EnvRetention:  flags.String("retention", defaultEnv(EnvRetention, "0"), "workspace retention"),
		EnvHeartbeat:  flags.String("heartbeat", defaultEnv(EnvHeartbeat, "5s"), "heartbeat interval"),
		EnvTimeout:    flags.String("timeout", defaultEnv(EnvTimeout, "30s"), "heartbeat timeout"),
		EnvMaxFrame:   flags.String("max-frame", defaultEnv(EnvMaxFrame, "16777216"), "max websocket message size"),
		EnvDebug:      flags.String("debug", os.Getenv(EnvDebug), "1 for debug mode"),
		EnvPrometheus: flags.String("prom", os.Getenv(EnvPrometheus), "prometheus bind address"),
		EnvSentryDsn:  flags.String("sentry-dsn", os.Getenv(EnvSentryDsn), "sentry DSN"),
		EnvOTLP:       flags.String("otlp-url", os.Getenv(EnvOTLP), "OTLP HTTP URL"),
		EnvOTLPUser:   flags.String("otlp-username", os.Getenv(EnvOTLPUser), "OTLP basic auth username"),
		EnvOTLPPass:   flags.String("otlp-password", os.Getenv(EnvOTLPPass), "OTLP basic auth password"),
	}
	showVersion := flags.Bool("version", false, "print the version and exit")
	flags.Parse(os.Args[1:])
	if *showVersion {
		fmt.Println(wsdrop.Version)
		return
	}

	retention := mustDuration(EnvRetention, *args[EnvRetention])
	heartbeat := mustDuration(EnvHeartbeat, *args[EnvHeartbeat])
	timeout := mustDuration(EnvTimeout, *args[EnvTimeout])
	maxFrame, err := strconv.ParseInt(*args[EnvMaxFrame], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", EnvMaxFrame, err)
		flags.Usage()
		os.Exit(1)
	}
	if *args[EnvOTLPUser] != "" && *args[EnvOTLPPass] == "" || *args[EnvOTLPUser] == "" && *args[EnvOTLPPass] != "" {
		fmt.Fprintf(os.Stderr, "%s and %s must both be set or both unset\n", EnvOTLPUser, EnvOTLPPass)
		os.Exit(1)
	}
	// make sure internal.Assert sees the flag as well as the env var
	if *args[EnvDebug] == "1" {
		os.Setenv(EnvDebug, "1")
	}

	if *args[EnvOTLP] != "" {
		if err := internal.ConfigureOTLP(*args[EnvOTLP], *args[EnvOTLPUser], *args[EnvOTLPPass], wsdrop.Version); err != nil {
			logger.Fatal().Err(err).Msg("failed to configure OTLP")
		}
	}
	if *args[EnvSentryDsn] != "" {
		logger.Info().Msg("initialising sentry")
		err := sentry.Init(sentry.ClientOptions{
			Dsn:     *args[EnvSentryDsn],
			Release: wsdrop.Version,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialise sentry")
		}
		defer sentry.Flush(2 * time.Second)
	}

	h, srvHandler := wsdrop.Setup(wsdrop.Opts{
		WorkspaceDir:         *args[EnvWorkspace],
		WebDir:               *args[EnvWeb],
		Retention:            retention,
		HeartbeatInterval:    heartbeat,
		HeartbeatTimeout:     timeout,
		MaxFrameSize:         maxFrame,
		AddPrometheusMetrics: *args[EnvPrometheus] != "",
		Debug:                *args[EnvDebug] == "1",
	})
	if *args[EnvPrometheus] != "" {
		wsdrop.RunMetricsServer(*args[EnvPrometheus])
	}
	srv := wsdrop.RunServer(srvHandler, *args[EnvBindAddr])

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown did not complete")
	}
	// hijacked websockets are not tracked by the http.Server
	h.Teardown()
}

func mustDuration(name, val string) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(val))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", name, err)
		os.Exit(1)
	}
	return d
}
