package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/AdguardTeam/TrackerShield/internal/attribution"
	"github.com/AdguardTeam/TrackerShield/internal/rulesmgr"
	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/service"
	"github.com/NYTimes/gziphandler"
)

// HTTP API paths.
const (
	PathCheck             = "/control/check"
	PathMetrics           = "/metrics"
	PathRules             = "/control/rules"
	PathUnprotected       = "/control/unprotected"
	PathUnprotectedAdd    = "/control/unprotected/add"
	PathUnprotectedRemove = "/control/unprotected/remove"
)

// readTimeout is the read and write timeout of the HTTP server.
const readTimeout = 10 * time.Second

// maxReqBodySize is the maximum size of request bodies.
const maxReqBodySize = 4 * 1024

// rulesSource is the source of the published rules.
type rulesSource interface {
	CurrentRules() (r *rulesmgr.Rules)
	Acquire() (r *rulesmgr.Rules)
	Release(ctx context.Context, r *rulesmgr.Rules)
}

// type check
var _ rulesSource = (*rulesmgr.Manager)(nil)

// unprotectedDomains is the user-unprotected domain set controlled through the
// HTTP API.
type unprotectedDomains interface {
	Add(ctx context.Context, domain string) (added bool, err error)
	Remove(ctx context.Context, domain string) (removed bool, err error)
	Domains() (domains []string)
}

// scheduler schedules compilations after the changes of the inputs.
type scheduler interface {
	ScheduleCompilation(ctx context.Context) (tok *rulesmgr.Token)
}

// webConfig is the configuration structure for a *webService.
type webConfig struct {
	logger      *slog.Logger
	metrics     http.Handler
	attributor  *attribution.Attributor
	rules       rulesSource
	unprotected unprotectedDomains
	scheduler   scheduler
	addr        netip.AddrPort
}

// webService serves the metrics and the control API.
type webService struct {
	logger *slog.Logger
	srv    *http.Server
	addr   netip.AddrPort
}

// newWebService returns a new web service.  c must not be nil.
func newWebService(c *webConfig) (svc *webService) {
	svc = &webService{
		logger: c.logger,
		addr:   c.addr,
	}

	svc.srv = &http.Server{
		Handler:      newHandler(c),
		ReadTimeout:  readTimeout,
		WriteTimeout: readTimeout,
		ErrorLog:     slog.NewLogLogger(c.logger.Handler(), slog.LevelDebug),
	}

	return svc
}

// newHandler returns the handler of the web service with every route
// compressed.
func newHandler(c *webConfig) (h http.Handler) {
	ctrl := &controlHandler{
		logger:      c.logger,
		attributor:  c.attributor,
		rules:       c.rules,
		unprotected: c.unprotected,
		scheduler:   c.scheduler,
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+PathMetrics, c.metrics)
	mux.HandleFunc("GET "+PathCheck, ctrl.handleCheck)
	mux.HandleFunc("GET "+PathRules, ctrl.handleRules)
	mux.HandleFunc("GET "+PathUnprotected, ctrl.handleUnprotected)
	mux.HandleFunc("POST "+PathUnprotectedAdd, ctrl.handleUnprotectedAdd)
	mux.HandleFunc("POST "+PathUnprotectedRemove, ctrl.handleUnprotectedRemove)

	return gziphandler.GzipHandler(mux)
}

// type check
var _ service.Interface = (*webService)(nil)

// Start implements the [service.Interface] interface for *webService.
func (svc *webService) Start(ctx context.Context) (err error) {
	l, err := net.Listen("tcp", svc.addr.String())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", svc.addr, err)
	}

	svc.logger.InfoContext(ctx, "listening", "addr", l.Addr())

	go svc.serve(ctx, l)

	return nil
}

// serve serves HTTP requests on l.  It is intended to be used as a goroutine.
func (svc *webService) serve(ctx context.Context, l net.Listener) {
	defer slogutil.RecoverAndLog(ctx, svc.logger)

	err := svc.srv.Serve(l)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		svc.logger.ErrorContext(ctx, "serving", slogutil.KeyError, err)
	}
}

// Shutdown implements the [service.Interface] interface for *webService.
func (svc *webService) Shutdown(ctx context.Context) (err error) {
	err = svc.srv.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	return nil
}

// controlHandler handles the control API.
type controlHandler struct {
	logger      *slog.Logger
	attributor  *attribution.Attributor
	rules       rulesSource
	unprotected unprotectedDomains
	scheduler   scheduler
}

// listJSON is the information about a published rule list.
type listJSON struct {
	CompiledAt        time.Time `json:"compiled_at"`
	Name              string    `json:"name"`
	Identifier        string    `json:"identifier"`
	VersionID         string    `json:"version_id"`
	TrackerDataEtag   string    `json:"tracker_data_etag"`
	TrackerDataOrigin string    `json:"tracker_data_origin"`
}

// rulesJSON is the response of [PathRules].
type rulesJSON struct {
	Lists      []*listJSON `json:"lists"`
	Generation uint64      `json:"generation"`
}

// handleRules is the handler for the GET [PathRules] HTTP API.
func (h *controlHandler) handleRules(w http.ResponseWriter, r *http.Request) {
	rules := h.rules.CurrentRules()

	resp := &rulesJSON{
		Lists:      []*listJSON{},
		Generation: rules.Generation,
	}

	for _, name := range rules.Names() {
		l := rules.List(name)
		resp.Lists = append(resp.Lists, &listJSON{
			CompiledAt:        l.CompiledAt,
			Name:              l.Name,
			Identifier:        l.Identifier,
			VersionID:         l.VersionID.String(),
			TrackerDataEtag:   l.TrackerData.Etag(),
			TrackerDataOrigin: string(l.TrackerData.Origin()),
		})
	}

	h.writeJSON(w, r, http.StatusOK, resp)
}

// unprotectedJSON is the response of [PathUnprotected].
type unprotectedJSON struct {
	Domains []string `json:"domains"`
}

// handleUnprotected is the handler for the GET [PathUnprotected] HTTP API.
func (h *controlHandler) handleUnprotected(w http.ResponseWriter, r *http.Request) {
	domains := h.unprotected.Domains()
	if domains == nil {
		domains = []string{}
	}

	h.writeJSON(w, r, http.StatusOK, &unprotectedJSON{
		Domains: domains,
	})
}

// domainReqJSON is the request to [PathUnprotectedAdd] and
// [PathUnprotectedRemove].
type domainReqJSON struct {
	Domain string `json:"domain"`
}

// domainRespJSON is the response of [PathUnprotectedAdd] and
// [PathUnprotectedRemove].
type domainRespJSON struct {
	// Generation is the generation of the scheduled compilation, if the set
	// of domains has changed.
	Generation uint64 `json:"generation,omitempty"`

	// Changed is true if the set of domains has changed.
	Changed bool `json:"changed"`
}

// handleUnprotectedAdd is the handler for the POST [PathUnprotectedAdd] HTTP
// API.
func (h *controlHandler) handleUnprotectedAdd(w http.ResponseWriter, r *http.Request) {
	h.handleDomainChange(w, r, h.unprotected.Add)
}

// handleUnprotectedRemove is the handler for the POST [PathUnprotectedRemove]
// HTTP API.
func (h *controlHandler) handleUnprotectedRemove(w http.ResponseWriter, r *http.Request) {
	h.handleDomainChange(w, r, h.unprotected.Remove)
}

// handleDomainChange decodes the domain from the request, applies change to
// it, and schedules a compilation if the set of domains has changed.
func (h *controlHandler) handleDomainChange(
	w http.ResponseWriter,
	r *http.Request,
	change func(ctx context.Context, domain string) (changed bool, err error),
) {
	ctx := r.Context()

	req := &domainReqJSON{}
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReqBodySize)).Decode(req)
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, fmt.Errorf("decoding request: %w", err))

		return
	}

	changed, err := change(ctx, req.Domain)
	if err != nil {
		h.writeError(w, r, http.StatusUnprocessableEntity, err)

		return
	}

	resp := &domainRespJSON{
		Changed: changed,
	}

	if changed {
		resp.Generation = h.scheduler.ScheduleCompilation(ctx).Generation()
	}

	h.writeJSON(w, r, http.StatusOK, resp)
}

// errorJSON is the error response of the control API.
type errorJSON struct {
	Message string `json:"message"`
}

// writeError writes err as a JSON error response with the given code.
func (h *controlHandler) writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	h.logger.DebugContext(r.Context(), "bad request", "path", r.URL.Path, slogutil.KeyError, err)

	h.writeJSON(w, r, code, &errorJSON{
		Message: err.Error(),
	})
}

// writeJSON writes headers with the code, encodes resp into w, and logs any
// errors it encounters.
func (h *controlHandler) writeJSON(w http.ResponseWriter, r *http.Request, code int, resp any) {
	w.Header().Set(httphdr.ContentType, "application/json")
	w.WriteHeader(code)

	err := json.NewEncoder(w).Encode(resp)
	if err != nil {
		h.logger.ErrorContext(
			r.Context(),
			"writing json response",
			"method", r.Method,
			"path", r.URL.Path,
			slogutil.KeyError, err,
		)
	}
}
