package handler

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/wsdrop/wsdrop/internal"
	"github.com/wsdrop/wsdrop/transfer"
	"github.com/wsdrop/wsdrop/workspace"
	"go.opentelemetry.io/otel/attribute"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Output(zerolog.ConsoleWriter{
	Out:        os.Stderr,
	TimeFormat: "15:04:05",
})

// DefaultMaxFrameSize bounds one inbound websocket message. Browsers send 64 KiB chunks.
const DefaultMaxFrameSize = 16 << 20

type Config struct {
	WorkspaceDir     string
	Retention        time.Duration // 0 keeps workspaces forever
	MaxFrameSize     int64
	Transfer         transfer.Config
	EnablePrometheus bool
}

// Handler owns the upload sessions and serves downloads from the same workspaces.
type Handler struct {
	Manager   *transfer.Manager
	Store     *workspace.Store
	Directory *workspace.Directory

	upgrader     websocket.Upgrader
	maxFrameSize int64

	// cancelled on Teardown, closing every live session
	ctx      context.Context
	cancel   context.CancelFunc
	sessions sync.WaitGroup

	downloads *prometheus.CounterVec
}

func NewHandler(cfg Config) (*Handler, error) {
	if err := os.MkdirAll(cfg.WorkspaceDir, 0o755); err != nil {
		return nil, err
	}
	store := workspace.NewStore(cfg.WorkspaceDir)
	dir := workspace.NewDirectory(store, cfg.Retention)
	dir.Start()
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handler{
		Manager: &transfer.Manager{
			Store:     store,
			Directory: dir,
			Hub:       transfer.NewHub(),
			Config:    cfg.Transfer,
		},
		Store:     store,
		Directory: dir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 4 * 1024,
			// the uploader page may be served from a different origin than the socket
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		maxFrameSize: cfg.MaxFrameSize,
		ctx:          ctx,
		cancel:       cancel,
	}
	if h.maxFrameSize <= 0 {
		h.maxFrameSize = DefaultMaxFrameSize
	}
	if cfg.EnablePrometheus {
		h.addPrometheusMetrics()
	}
	logger.Info().Str("workspace", cfg.WorkspaceDir).Dur("retention", cfg.Retention).Int64("max_frame", h.maxFrameSize).Msg("upload handler ready")
	return h, nil
}

func (h *Handler) addPrometheusMetrics() {
	h.Manager.Metrics = transfer.NewMetrics(prometheus.DefaultRegisterer)
	h.downloads = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wsdrop",
		Subsystem: "download",
		Name:      "requests",
		Help:      "Number of download requests, by result",
	}, []string{"result"})
	prometheus.MustRegister(h.downloads)
}

// Teardown closes every live session, waits for them to finish and stops workspace expiry.
func (h *Handler) Teardown() {
	h.cancel()
	h.sessions.Wait()
	h.Directory.Stop()
	if h.Manager.Metrics != nil {
		h.Manager.Metrics.Unregister()
		prometheus.Unregister(h.downloads)
	}
}

// ServeHTTP upgrades the request to a websocket and runs an upload session on it in the
// background. It returns as soon as the upgrade is done.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if !websocket.IsWebSocketUpgrade(req) {
		writeError(w, &internal.HandlerError{
			StatusCode: http.StatusBadRequest,
			Err:        errors.New("expected a websocket upgrade"),
		})
		return
	}
	ws, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		hlog.FromRequest(req).Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn := transfer.NewWebsocketConn(ws, h.maxFrameSize)
	remote := req.RemoteAddr
	h.sessions.Add(1)
	go func() {
		defer h.sessions.Done()
		h.Manager.Serve(h.ctx, conn, remote)
	}()
}

// Download serves the first file uploaded under the identifier in the path. Every failure is
// the same 403 so that probing reveals nothing about which identifiers exist.
func (h *Handler) Download(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	ctx, span := internal.StartSpan(req.Context(), "Download")
	defer span.End()
	log := hlog.FromRequest(req).With().Str("id", id).Logger()

	path, err := h.Store.Lookup(id)
	if err != nil {
		h.countDownload("denied")
		log.Debug().Err(err).Bool("known", h.Directory.Known(id)).Msg("download denied")
		writeError(w, internal.DeniedError())
		return
	}
	f, err := os.Open(path)
	if err != nil {
		h.countDownload("denied")
		log.Warn().Err(err).Msg("failed to open workspace file")
		writeError(w, internal.DeniedError())
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		h.countDownload("denied")
		writeError(w, internal.DeniedError())
		return
	}
	span.SetAttributes(attribute.String("file", info.Name()), attribute.Int64("size", info.Size()))
	internal.Logf(ctx, "download", "serving %s", info.Name())
	h.countDownload("ok")
	log.Info().Str("file", info.Name()).Int64("size", info.Size()).Msg("download")
	w.Header().Set("Content-Disposition", contentDisposition(filepath.Base(path)))
	http.ServeContent(w, req, info.Name(), info.ModTime(), f)
}

func (h *Handler) countDownload(result string) {
	if h.downloads == nil {
		return
	}
	h.downloads.WithLabelValues(result).Inc()
}

func writeError(w http.ResponseWriter, herr *internal.HandlerError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(herr.StatusCode)
	w.Write(herr.JSON())
}

// contentDisposition lets browsers display text and media inline and download everything else.
func contentDisposition(name string) string {
	disposition := "attachment"
	ctype := mime.TypeByExtension(filepath.Ext(name))
	for _, prefix := range []string{"text/", "image/", "video/"} {
		if strings.HasPrefix(ctype, prefix) {
			disposition = "inline"
			break
		}
	}
	return mime.FormatMediaType(disposition, map[string]string{"filename": name})
}
