// Package contentapi exposes a configured engine over local HTTP: point
// lookups, reference resolution, the active language and a server-sent
// event stream of binding updates.
package contentapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/binding"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/language"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

// Engine is the part of the client the API serves from.
type Engine interface {
	binding.Lookup
	Resolve(ref string) any
	Observe(ref string, fn binding.Listener) (unsubscribe func())
	SetLanguage(ctx context.Context, code string) (bool, error)
}

// Metrics tracks open watch streams.
type Metrics interface {
	WatchStreamOpened() (closed func())
}

type Options struct {
	Engine  Engine
	Logger  log.Logger
	Metrics Metrics

	// ExposeToken allows meta:auth_token to be resolved and watched.
	ExposeToken bool
	// Heartbeat is the interval of keep-alive comments on watch streams
	// (default 15s).
	Heartbeat time.Duration
}

type API struct {
	engine      Engine
	logger      log.Logger
	metrics     Metrics
	exposeToken bool
	heartbeat   time.Duration
}

func New(opts Options) (*API, error) {
	if opts.Engine == nil {
		return nil, xerrors.New("contentapi: engine is required")
	}
	hb := opts.Heartbeat
	if hb <= 0 {
		hb = 15 * time.Second
	}
	return &API{
		engine:      opts.Engine,
		logger:      log.OrNop(opts.Logger),
		metrics:     opts.Metrics,
		exposeToken: opts.ExposeToken,
		heartbeat:   hb,
	}, nil
}

// RegisterRoutes mounts the JSON endpoints under /api/content.
func (a *API) RegisterRoutes(r chi.Router) {
	const p = "/api/content"
	r.With(httpmw.Scope("resolve")).Get(p+"/resolve", a.handleResolve)
	r.With(httpmw.Scope("translation")).Get(p+"/translations/{tab}/{key}", a.handleTranslation)
	r.With(httpmw.Scope("color")).Get(p+"/colors/{key}", a.handleColor)
	r.With(httpmw.Scope("image")).Get(p+"/images/{key}", a.handleImage)
	r.With(httpmw.Scope("store")).Get(p+"/stores/{id}", a.handleStore)
	r.With(httpmw.Scope("language")).Get(p+"/language", a.handleGetLanguage)
	r.With(httpmw.Scope("language")).Put(p+"/language", a.handleSetLanguage)
}

// RegisterStreamRoutes mounts GET /api/content/watch.
func (a *API) RegisterStreamRoutes(r chi.Router) {
	r.With(httpmw.Scope("watch")).Get("/api/content/watch", a.handleWatch)
}

type valueResponse struct {
	Ref   string `json:"ref,omitempty"`
	Value any    `json:"value"`
}

type languageResponse struct {
	Language  string   `json:"language"`
	Languages []string `json:"languages"`
	Changed   *bool    `json:"changed,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	ref, ok := a.reference(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{Ref: ref, Value: a.engine.Resolve(ref)})
}

func (a *API) handleTranslation(w http.ResponseWriter, r *http.Request) {
	v := a.engine.Translation(chi.URLParam(r, "key"), chi.URLParam(r, "tab"))
	writeJSON(w, http.StatusOK, valueResponse{Value: v})
}

func (a *API) handleColor(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, valueResponse{Value: a.engine.Color(chi.URLParam(r, "key"))})
}

func (a *API) handleImage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, valueResponse{Value: a.engine.Image(chi.URLParam(r, "key"))})
}

func (a *API) handleStore(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, valueResponse{Value: a.engine.DataStore(chi.URLParam(r, "id"))})
}

func (a *API) handleGetLanguage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.languageState(nil))
}

func (a *API) handleSetLanguage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContext(ctx)

	var body struct {
		Language string `json:"language"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		var mbe *http.MaxBytesError
		if xerrors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "body must be {\"language\": \"<code>\"}")
		return
	}

	changed, err := a.engine.SetLanguage(ctx, body.Language)
	if err != nil {
		var unknown *language.UnknownLanguageError
		if xerrors.As(err, &unknown) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		L.Error(ctx, err, "contentapi: set language failed", "language", body.Language)
		writeError(w, http.StatusInternalServerError, "set language failed")
		return
	}
	writeJSON(w, http.StatusOK, a.languageState(&changed))
}

func (a *API) languageState(changed *bool) languageResponse {
	langs := a.engine.Languages()
	if langs == nil {
		langs = []string{}
	}
	return languageResponse{Language: a.engine.Language(), Languages: langs, Changed: changed}
}

// reference reads and validates ?ref=, answering 400 or 403 itself.
func (a *API) reference(w http.ResponseWriter, r *http.Request) (string, bool) {
	ref := r.URL.Query().Get("ref")
	parsed, ok := binding.Parse(ref)
	if !ok {
		writeError(w, http.StatusBadRequest, "ref must look like <tab>:<key>, color:<key>, image:<key>, store:<id> or meta:<name>")
		return "", false
	}
	if parsed.Kind == binding.KindMeta && parsed.Key == binding.MetaAuthToken && !a.exposeToken {
		writeError(w, http.StatusForbidden, "meta:auth_token is not exposed")
		return "", false
	}
	return ref, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}
