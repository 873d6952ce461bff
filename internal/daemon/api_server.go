package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"packetwatch/internal/api"
	"packetwatch/internal/config"
	"packetwatch/internal/filter"
	"packetwatch/internal/lifecycle"
	"packetwatch/internal/logging"
	"packetwatch/internal/logs"
	"packetwatch/internal/metrics"
	"packetwatch/internal/packet"
)

type apiServer struct {
	bind      string
	logger    *slog.Logger
	daemon    *Daemon
	packetSvc *api.PacketService
	aging     time.Duration
	logPath   string

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, errors.New("api server requires config and daemon")
	}
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("api bind address is required")
	}

	filters := filter.NewEngine(cfg.AgingThreshold(), cfg.StallThreshold())
	srv := &apiServer{
		bind:      bind,
		logger:    logging.NewComponentLogger(logger, "api"),
		daemon:    d,
		packetSvc: api.NewPacketService(d.store, filters, cfg.AgingThreshold(), cfg.StallThreshold()),
		aging:     cfg.AgingThreshold(),
		logPath:   logging.LogFilePath(cfg),
	}

	token := strings.TrimSpace(cfg.Paths.APIToken)
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/metrics", authMiddleware(token, srv.handleMetrics))
	mux.HandleFunc("/api/packets", authMiddleware(token, srv.handlePackets))
	mux.HandleFunc("/api/packets/", authMiddleware(token, srv.handlePacket))
	mux.HandleFunc("/api/logs", authMiddleware(token, srv.handleLogs))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

func (s *apiServer) addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, err := s.packetSvc.Status(r.Context(), s.daemon.Running())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

func (s *apiServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	summary, err := s.packetSvc.Metrics(r.Context())
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

// handleLogs serves offset-based reads of the daemon log file. Follow mode
// blocks briefly waiting for new lines; wait is capped well under the server
// write timeout so followers poll instead of stalling the connection.
func (s *apiServer) handleLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	values := r.URL.Query()
	opts := logs.Options{Offset: -1, Lines: 200}

	if raw := strings.TrimSpace(values.Get("offset")); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid offset")
			return
		}
		opts.Offset = offset
	}
	if raw := strings.TrimSpace(values.Get("lines")); raw != "" {
		lines, err := strconv.Atoi(raw)
		if err != nil || lines < 0 {
			s.writeError(w, http.StatusBadRequest, "invalid lines")
			return
		}
		opts.Lines = lines
	}
	if values.Get("follow") == "1" {
		opts.Follow = true
		opts.Wait = time.Second
		if raw := strings.TrimSpace(values.Get("wait_ms")); raw != "" {
			waitMillis, err := strconv.Atoi(raw)
			if err != nil || waitMillis < 0 {
				s.writeError(w, http.StatusBadRequest, "invalid wait_ms")
				return
			}
			opts.Wait = time.Duration(waitMillis) * time.Millisecond
		}
		if opts.Wait > 10*time.Second {
			opts.Wait = 10 * time.Second
		}
	}

	result, err := logs.Tail(r.Context(), s.logPath, opts)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.LogTail{Lines: result.Lines, Offset: result.NextOffset})
}

func (s *apiServer) handlePackets(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listPackets(w, r)
	case http.MethodPost:
		s.ingestPacket(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) listPackets(w http.ResponseWriter, r *http.Request) {
	query, err := parseListQuery(r)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	list, err := s.packetSvc.List(r.Context(), query)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *apiServer) ingestPacket(w http.ResponseWriter, r *http.Request) {
	var req api.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	channel, ok := packet.ParseChannel(req.Channel)
	if !ok {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown channel %q", req.Channel))
		return
	}

	payload := packet.Payload{
		ContainsPHI: req.Payload.ContainsPHI,
		Patient:     req.Payload.Patient,
		Provider:    req.Payload.Provider,
		Service:     req.Payload.Service,
		Fields:      req.Payload.Fields,
	}
	if payload.Fields == nil {
		payload.Fields = req.Fields
	}

	p, err := s.daemon.store.NewPacket(r.Context(), strings.TrimSpace(req.ID), channel, payload)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.FromPacket(p, time.Now(), s.aging))
}

// handlePacket routes /api/packets/{id} and its action sub-paths.
func (s *apiServer) handlePacket(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/packets/")
	if rest == "" {
		s.writeError(w, http.StatusNotFound, "packet not found")
		return
	}
	id, action, _ := strings.Cut(rest, "/")

	switch action {
	case "":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.viewPacket(w, r, id)
	case "retry":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.retryPacket(w, r, id)
	case "override":
		if r.Method != http.MethodPost {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.overridePacket(w, r, id)
	case "download":
		if r.Method != http.MethodGet {
			s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.downloadPacket(w, r, id)
	default:
		s.writeError(w, http.StatusNotFound, "unknown packet action")
	}
}

func (s *apiServer) viewPacket(w http.ResponseWriter, r *http.Request, id string) {
	vm, err := s.daemon.facade.View(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromViewModel(vm, time.Now(), s.aging))
}

func (s *apiServer) retryPacket(w http.ResponseWriter, r *http.Request, id string) {
	p, err := s.daemon.facade.Retry(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromPacket(p, time.Now(), s.aging))
}

func (s *apiServer) overridePacket(w http.ResponseWriter, r *http.Request, id string) {
	var req api.OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	p, err := s.daemon.facade.Override(r.Context(), id, req.Confirmed, req.Reason)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromPacket(p, time.Now(), s.aging))
}

func (s *apiServer) downloadPacket(w http.ResponseWriter, r *http.Request, id string) {
	phiAuthorized := r.URL.Query().Get("phi") == "1"
	snapshot, err := s.daemon.facade.Download(r.Context(), id, phiAuthorized)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.json", id))
	s.writeJSON(w, http.StatusOK, snapshot)
}

// parseListQuery maps URL query parameters onto a filter query.
func parseListQuery(r *http.Request) (filter.Query, error) {
	values := r.URL.Query()
	q := filter.Query{Search: strings.TrimSpace(values.Get("search"))}

	for _, raw := range values["status"] {
		status, ok := filter.ParseStatusFilter(raw)
		if !ok {
			return filter.Query{}, lifecycle.Wrap(lifecycle.ErrValidation, "", "list",
				fmt.Sprintf("unknown status filter %q", raw), nil)
		}
		q.Statuses = append(q.Statuses, status)
	}
	for _, raw := range values["channel"] {
		channel, ok := packet.ParseChannel(raw)
		if !ok {
			return filter.Query{}, lifecycle.Wrap(lifecycle.ErrValidation, "", "list",
				fmt.Sprintf("unknown channel %q", raw), nil)
		}
		q.Channels = append(q.Channels, channel)
	}

	if raw := strings.TrimSpace(values.Get("date")); raw != "" {
		switch filter.DatePreset(raw) {
		case filter.DateToday, filter.Date24h, filter.Date7d, filter.DateCustom:
			q.Date.Preset = filter.DatePreset(raw)
		default:
			return filter.Query{}, lifecycle.Wrap(lifecycle.ErrValidation, "", "list",
				fmt.Sprintf("unknown date preset %q", raw), nil)
		}
	}
	if raw := strings.TrimSpace(values.Get("from")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter.Query{}, lifecycle.Wrap(lifecycle.ErrValidation, "", "list", "invalid from timestamp", err)
		}
		q.Date.From = ts
		if q.Date.Preset == filter.DateAny {
			q.Date.Preset = filter.DateCustom
		}
	}
	if raw := strings.TrimSpace(values.Get("to")); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter.Query{}, lifecycle.Wrap(lifecycle.ErrValidation, "", "list", "invalid to timestamp", err)
		}
		q.Date.To = ts
		if q.Date.Preset == filter.DateAny {
			q.Date.Preset = filter.DateCustom
		}
	}

	if raw := strings.TrimSpace(values.Get("metric")); raw != "" {
		metric, ok := metrics.ParseMetric(raw)
		if !ok {
			return filter.Query{}, lifecycle.Wrap(lifecycle.ErrValidation, "", "list",
				fmt.Sprintf("unknown metric %q", raw), nil)
		}
		q.Metric = metric
	}
	return q, nil
}

// statusForError maps lifecycle sentinels onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, lifecycle.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, lifecycle.ErrInvalidTransition), errors.Is(err, lifecycle.ErrTerminalStage):
		return http.StatusConflict
	case errors.Is(err, lifecycle.ErrConfirmationRequired):
		return http.StatusPreconditionRequired
	case errors.Is(err, lifecycle.ErrPHIAuthorization):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func (s *apiServer) writeFailure(w http.ResponseWriter, err error) {
	s.writeError(w, statusForError(err), err.Error())
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}
