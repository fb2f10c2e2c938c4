// Package handler exposes the workflow service over HTTP.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/propside/be-pm-projects/internal/apperr"
	"github.com/propside/be-pm-projects/internal/auth"
	"github.com/propside/be-pm-projects/internal/logger"
	"github.com/propside/be-pm-projects/internal/middleware"
	"github.com/propside/be-pm-projects/internal/repository"
	"github.com/propside/be-pm-projects/internal/service"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	projects *service.ProjectService
	groups   *service.GroupService
	users    *service.UserService
	log      *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(projects *service.ProjectService, groups *service.GroupService, users *service.UserService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{projects: projects, groups: groups, users: users, log: log}
}

// Router builds the service router. Everything under /api/v1 except login
// requires a bearer token.
func (h *HTTPHandler) Router(am *auth.Manager) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(&h.log.Logger))
	r.Use(middleware.Metrics)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(am.Middleware)

			r.Route("/projects", func(r chi.Router) {
				r.Get("/", h.ListProjects)
				r.Post("/", h.CreateProject)
				r.Route("/{projectID}", func(r chi.Router) {
					r.Get("/", h.GetProject)
					r.Delete("/", h.DeleteProject)
					r.Post("/submit", h.SubmitForApproval)
					r.Post("/decision", h.SubmitDecision)
					r.Put("/funding", h.ReplaceFundingSchedule)
					r.Post("/funding/{fundingID}/payment", h.UpdatePaymentStatus)
					r.Put("/budget", h.UpdateBudget)
					r.Post("/hold", h.HoldProject)
					r.Post("/resume", h.ResumeProject)
					r.Get("/history", h.GetApprovalHistory)
					r.Get("/progress", h.GetProgress)
				})
			})

			r.Get("/approvals/pending", h.GetPendingApprovals)

			r.Route("/approval-groups", func(r chi.Router) {
				r.Get("/", h.ListGroups)
				r.Post("/", h.CreateGroup)
				r.Get("/{groupID}", h.GetGroup)
				r.Put("/{groupID}", h.UpdateGroup)
			})

			r.Get("/users", h.ListUsers)
		})
	})

	return r
}

// ── Auth ──────────────────────────────────────────────────────────────────────

// Login verifies credentials and issues a bearer token.
func (h *HTTPHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}

	token, user, err := h.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		// invalid credentials always map to 401, not the usual 403
		writeError(w, http.StatusUnauthorized, string(apperr.CodeUnauthorized), apperr.MessageOf(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

// ── Projects ──────────────────────────────────────────────────────────────────

// CreateProject handles project creation.
func (h *HTTPHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req service.CreateProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}
	req.CreatedBy = auth.UserID(r.Context())

	project, err := h.projects.CreateProject(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

// GetProject returns one project with funding schedule and attachments.
func (h *HTTPHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.projects.GetProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// ListProjects returns projects filtered by property, status and date range.
func (h *HTTPHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	f := repository.ListFilter{
		PropertyID: optionalQuery(r, "property_id"),
		Status:     optionalQuery(r, "status"),
		FromDate:   optionalQuery(r, "from_date"),
		ToDate:     optionalQuery(r, "to_date"),
	}
	f.Limit, f.Offset = pagination(r)

	projects, total, err := h.projects.ListProjects(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"projects": projects,
		"total":    total,
	})
}

// DeleteProject removes an unsubmitted project.
func (h *HTTPHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := h.projects.DeleteProject(r.Context(), chi.URLParam(r, "projectID")); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitForApproval moves a project into the approval queue.
func (h *HTTPHandler) SubmitForApproval(w http.ResponseWriter, r *http.Request) {
	project, err := h.projects.SubmitForApproval(r.Context(),
		chi.URLParam(r, "projectID"), auth.UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// SubmitDecision applies an approval action by the authenticated user.
func (h *HTTPHandler) SubmitDecision(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action   string `json:"action"`
		Comments string `json:"comments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}

	project, entry, err := h.projects.SubmitDecision(r.Context(),
		chi.URLParam(r, "projectID"), auth.UserID(r.Context()), req.Action, req.Comments)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"project": project,
		"history": entry,
	})
}

// ReplaceFundingSchedule swaps a draft project's funding schedule.
func (h *HTTPHandler) ReplaceFundingSchedule(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FundingDetails []*service.FundingDetailRequest `json:"funding_details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}

	project, err := h.projects.ReplaceFundingSchedule(r.Context(),
		chi.URLParam(r, "projectID"), req.FundingDetails)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// UpdatePaymentStatus marks one funding entry paid or unpaid. The
// authenticated user is recorded as paid_by.
func (h *HTTPHandler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}

	project, err := h.projects.UpdatePaymentStatus(r.Context(),
		chi.URLParam(r, "projectID"), chi.URLParam(r, "fundingID"),
		req.Status, auth.UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// UpdateBudget changes an unsubmitted project's budget.
func (h *HTTPHandler) UpdateBudget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Budget decimal.Decimal `json:"budget"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}

	project, err := h.projects.UpdateBudget(r.Context(), chi.URLParam(r, "projectID"), req.Budget)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// HoldProject pauses an active project.
func (h *HTTPHandler) HoldProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.projects.HoldProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// ResumeProject returns an on-hold project to its prior status.
func (h *HTTPHandler) ResumeProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.projects.ResumeProject(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

// GetApprovalHistory returns the audit trail for a project.
func (h *HTTPHandler) GetApprovalHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.projects.GetApprovalHistory(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// GetProgress returns task completion for a project.
func (h *HTTPHandler) GetProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := h.projects.GetProgress(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// GetPendingApprovals lists projects the authenticated user may act on.
func (h *HTTPHandler) GetPendingApprovals(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.GetPendingApprovals(r.Context(), auth.UserID(r.Context()))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
}

// ── Approval groups ───────────────────────────────────────────────────────────

// CreateGroup creates an approval group.
func (h *HTTPHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var req service.GroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}

	group, err := h.groups.CreateGroup(r.Context(), &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

// UpdateGroup updates a group's name, level and membership.
func (h *HTTPHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	var req service.GroupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION", "invalid request body")
		return
	}

	group, err := h.groups.UpdateGroup(r.Context(), chi.URLParam(r, "groupID"), &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// GetGroup returns one approval group.
func (h *HTTPHandler) GetGroup(w http.ResponseWriter, r *http.Request) {
	group, err := h.groups.GetGroup(r.Context(), chi.URLParam(r, "groupID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// ListGroups returns all approval groups.
func (h *HTTPHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.groups.ListGroups(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

// ListUsers returns the active user directory.
func (h *HTTPHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func (h *HTTPHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperr.CodeOf(err)
	status := statusForCode(code)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, string(code), apperr.MessageOf(err))
}

func statusForCode(code apperr.Code) int {
	switch code {
	case apperr.CodeValidation:
		return http.StatusBadRequest
	case apperr.CodeUnauthorized:
		return http.StatusForbidden
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeInvalidState:
		return http.StatusConflict
	case apperr.CodePersistence:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: message}})
}

func optionalQuery(r *http.Request, key string) *string {
	if v := r.URL.Query().Get(key); v != "" {
		return &v
	}
	return nil
}

func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if n, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && n >= 1 && n <= 100 {
		limit = n
	}
	page := 1
	if n, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && n >= 1 {
		page = n
	}
	return limit, (page - 1) * limit
}
