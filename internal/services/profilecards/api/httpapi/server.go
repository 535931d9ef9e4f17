// Package httpapi exposes the apply-profile-cards command and job monitor
// over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/louisbranch/profilecards/internal/platform/errors"
	"github.com/louisbranch/profilecards/internal/platform/i18n/catalog"
	"github.com/louisbranch/profilecards/internal/platform/requestctx"
	"github.com/louisbranch/profilecards/internal/services/profilecards/domain"
	"github.com/louisbranch/profilecards/internal/services/profilecards/interaction"
	"github.com/louisbranch/profilecards/internal/services/profilecards/job"
	"github.com/louisbranch/profilecards/internal/services/profilecards/storage"
	"golang.org/x/text/language"
)

// PrincipalHeader names the acting principal. It is set by the trusted host.
const PrincipalHeader = "X-Profilecards-User"

// LangParam selects a locale ahead of Accept-Language.
const LangParam = "lang"

// IdentityResolver turns a principal name into an identity with roles.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, name string) (domain.Identity, error)
}

// JobMonitor exposes running jobs.
type JobMonitor interface {
	Get(jobID string) (*job.Handle, bool)
	Cancel(jobID string) bool
}

// JobLedger reads persisted job records.
type JobLedger interface {
	GetJob(ctx context.Context, id string) (storage.JobRecord, error)
	ListJobs(ctx context.Context, limit int) ([]storage.JobRecord, error)
}

// Pinger reports whether backing storage is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// IndexRebuilder rebuilds a database's search index from the item store.
type IndexRebuilder interface {
	Reindex(ctx context.Context, database string) (int, error)
}

// Options wires a Server.
type Options struct {
	Command       interaction.Command
	Identities    IdentityResolver
	Jobs          JobMonitor
	Ledger        JobLedger
	Readiness     Pinger
	Indexes       IndexRebuilder
	Metrics       http.Handler
	DefaultLocale string
}

// Server serves the HTTP surface.
type Server struct {
	command       interaction.Command
	identities    IdentityResolver
	jobs          JobMonitor
	ledger        JobLedger
	readiness     Pinger
	indexes       IndexRebuilder
	metrics       http.Handler
	defaultLocale string
	matcher       language.Matcher
	tags          []language.Tag
}

// NewServer builds a Server.
func NewServer(opts Options) *Server {
	locales := catalog.Default().Locales()
	tags := make([]language.Tag, 0, len(locales)+1)
	defaultLocale := strings.TrimSpace(opts.DefaultLocale)
	if defaultLocale == "" {
		defaultLocale = "en-US"
	}
	tags = append(tags, language.Make(defaultLocale))
	for _, locale := range locales {
		tags = append(tags, language.Make(locale))
	}
	return &Server{
		command:       opts.Command,
		identities:    opts.Identities,
		jobs:          opts.Jobs,
		ledger:        opts.Ledger,
		readiness:     opts.Readiness,
		indexes:       opts.Indexes,
		metrics:       opts.Metrics,
		defaultLocale: defaultLocale,
		matcher:       language.NewMatcher(tags),
		tags:          tags,
	}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /items/{database}/{id}/profile-cards/apply", s.handleApply)
	mux.HandleFunc("POST /continuations/{handle}", s.handleResume)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("POST /jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("POST /admin/indexes/{database}/reindex", s.handleReindex)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("GET /readyz", s.handleReady)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

type applyResponse struct {
	Handle    string    `json:"handle"`
	DialogURL string    `json:"dialogUrl"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type resumeResponse struct {
	Outcome string `json:"outcome"`
	JobID   string `json:"jobId,omitempty"`
}

type jobResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Icon        string   `json:"icon,omitempty"`
	Principal   string   `json:"principal"`
	State       string   `json:"state"`
	Alert       string   `json:"alert,omitempty"`
	ErrorCode   string   `json:"errorCode,omitempty"`
	Messages    []string `json:"messages"`
	Live        bool     `json:"live"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	ctx, identity, locale, ok := s.requestContext(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeError(w, locale, apperrors.WrapWithMetadata(apperrors.CodeInvalidParameters, "malformed form", map[string]string{"field": "form"}, err))
		return
	}
	inv := interaction.Invocation{
		Identity:   identity,
		Database:   r.PathValue("database"),
		ItemID:     r.PathValue("id"),
		Locale:     strings.TrimSpace(r.Form.Get("language")),
		PageEditor: formBool(r.Form.Get("pageEditor")),
		SearchURL:  r.Form.Get("url"),
	}
	if raw := strings.TrimSpace(r.Form.Get("version")); raw != "" {
		version, err := strconv.Atoi(raw)
		if err != nil || version < 1 {
			s.writeError(w, locale, apperrors.WithMetadata(apperrors.CodeInvalidParameters, "invalid version", map[string]string{"field": domain.ParamVersion}))
			return
		}
		inv.Version = version
	}
	suspension, err := s.command.Execute(ctx, inv)
	if err != nil {
		s.writeError(w, locale, err)
		return
	}
	writeJSON(w, http.StatusAccepted, applyResponse{
		Handle:    suspension.Handle,
		DialogURL: suspension.DialogURL,
		ExpiresAt: suspension.ExpiresAt,
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	ctx, identity, locale, ok := s.requestContext(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeError(w, locale, apperrors.WrapWithMetadata(apperrors.CodeInvalidParameters, "malformed form", map[string]string{"field": "form"}, err))
		return
	}
	signal := interaction.Signal{Modified: formBool(r.Form.Get("modified"))}
	outcome, err := s.command.Resume(ctx, identity, r.PathValue("handle"), signal)
	if err != nil {
		s.writeError(w, locale, err)
		return
	}
	status := http.StatusOK
	if outcome.Kind == interaction.OutcomeDispatched {
		status = http.StatusAccepted
	}
	writeJSON(w, status, resumeResponse{Outcome: string(outcome.Kind), JobID: outcome.JobID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	ctx, identity, locale, ok := s.requestContext(w, r)
	if !ok {
		return
	}
	jobID := strings.TrimSpace(r.PathValue("id"))
	if handle, found := s.jobs.Get(jobID); found {
		progress := handle.Progress()
		if !canSee(identity, progress.Spec.Principal) {
			s.writeError(w, locale, jobNotFound(jobID))
			return
		}
		writeJSON(w, http.StatusOK, progressResponse(progress))
		return
	}
	record, err := s.ledger.GetJob(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && !canSee(identity, record.Principal)) {
		s.writeError(w, locale, jobNotFound(jobID))
		return
	}
	if err != nil {
		s.writeError(w, locale, err)
		return
	}
	writeJSON(w, http.StatusOK, recordResponse(record))
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	ctx, identity, locale, ok := s.requestContext(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.writeError(w, locale, apperrors.WithMetadata(apperrors.CodeInvalidParameters, "invalid limit", map[string]string{"field": "limit"}))
			return
		}
		limit = parsed
	}
	records, err := s.ledger.ListJobs(ctx, limit)
	if err != nil {
		s.writeError(w, locale, err)
		return
	}
	out := make([]jobResponse, 0, len(records))
	for _, record := range records {
		if !canSee(identity, record.Principal) {
			continue
		}
		if handle, found := s.jobs.Get(record.ID); found {
			out = append(out, progressResponse(handle.Progress()))
			continue
		}
		out = append(out, recordResponse(record))
	}
	writeJSON(w, http.StatusOK, map[string][]jobResponse{"jobs": out})
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	_, identity, locale, ok := s.requestContext(w, r)
	if !ok {
		return
	}
	jobID := strings.TrimSpace(r.PathValue("id"))
	handle, found := s.jobs.Get(jobID)
	if !found || !canSee(identity, handle.Progress().Spec.Principal) {
		s.writeError(w, locale, jobNotFound(jobID))
		return
	}
	s.jobs.Cancel(jobID)
	writeJSON(w, http.StatusAccepted, progressResponse(handle.Progress()))
}

func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	ctx, identity, locale, ok := s.requestContext(w, r)
	if !ok {
		return
	}
	if !identity.Administrator {
		s.writeError(w, locale, apperrors.New(apperrors.CodePermissionDenied, "reindex requires an administrator"))
		return
	}
	if s.indexes == nil {
		s.writeError(w, locale, apperrors.New(apperrors.CodeIndexUnavailable, "index maintenance is not configured"))
		return
	}
	database := strings.TrimSpace(r.PathValue("database"))
	written, err := s.indexes.Reindex(ctx, database)
	if err != nil {
		s.writeError(w, locale, err)
		return
	}
	log.Printf("reindexed %s: %d entries by %s", database, written, identity.Name)
	writeJSON(w, http.StatusOK, map[string]any{"database": database, "entries": written})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.readiness != nil {
		if err := s.readiness.Ping(r.Context()); err != nil {
			log.Printf("profilecards readiness: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// requestContext resolves the principal and locale and writes an error
// response when the request carries no principal.
func (s *Server) requestContext(w http.ResponseWriter, r *http.Request) (context.Context, domain.Identity, string, bool) {
	locale := s.resolveLocale(r)
	ctx := requestctx.WithLocale(r.Context(), locale)
	name := strings.TrimSpace(r.Header.Get(PrincipalHeader))
	if name == "" {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "UNAUTHENTICATED", Message: "missing " + PrincipalHeader})
		return nil, domain.Identity{}, "", false
	}
	identity, err := s.identities.ResolveIdentity(ctx, name)
	if err != nil {
		s.writeError(w, locale, err)
		return nil, domain.Identity{}, "", false
	}
	return requestctx.WithPrincipal(ctx, identity.Name), identity, locale, true
}

func (s *Server) resolveLocale(r *http.Request) string {
	if value := strings.TrimSpace(r.URL.Query().Get(LangParam)); value != "" {
		if tag, err := language.Parse(value); err == nil {
			return s.match([]language.Tag{tag})
		}
	}
	if accept := strings.TrimSpace(r.Header.Get("Accept-Language")); accept != "" {
		if tags, _, err := language.ParseAcceptLanguage(accept); err == nil && len(tags) > 0 {
			return s.match(tags)
		}
	}
	return s.defaultLocale
}

func (s *Server) match(tags []language.Tag) string {
	_, index, confidence := s.matcher.Match(tags...)
	if confidence == language.No {
		return s.defaultLocale
	}
	return s.tags[index].String()
}

func (s *Server) writeError(w http.ResponseWriter, locale string, err error) {
	code := apperrors.CodeOf(err)
	if code == apperrors.CodeUnknown {
		log.Printf("profilecards http: %v", err)
	}
	writeJSON(w, code.HTTPStatus(), errorResponse{Error: string(code), Message: apperrors.UserMessage(err, locale)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func progressResponse(progress job.Progress) jobResponse {
	messages := progress.Messages
	if messages == nil {
		messages = []string{}
	}
	return jobResponse{
		ID:          progress.ID,
		Name:        progress.Spec.Name,
		Description: progress.Spec.Description,
		Icon:        progress.Spec.Icon,
		Principal:   progress.Spec.Principal,
		State:       progress.State.String(),
		Alert:       progress.Alert,
		ErrorCode:   progress.ErrorCode,
		Messages:    messages,
		Live:        true,
	}
}

func recordResponse(record storage.JobRecord) jobResponse {
	messages := make([]string, 0, len(record.Messages))
	for _, message := range record.Messages {
		messages = append(messages, message.Text)
	}
	return jobResponse{
		ID:          record.ID,
		Name:        record.Name,
		Description: record.Description,
		Icon:        record.Icon,
		Principal:   record.Principal,
		State:       record.State,
		Alert:       record.Alert,
		ErrorCode:   record.ErrorCode,
		Messages:    messages,
	}
}

func canSee(identity domain.Identity, owner string) bool {
	return identity.Administrator || identity.Name == owner
}

func jobNotFound(jobID string) error {
	return apperrors.WithMetadata(apperrors.CodeNotFound, "job "+jobID+" not found", map[string]string{"job_id": jobID})
}

func formBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}
