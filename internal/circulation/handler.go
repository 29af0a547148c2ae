// internal/circulation/handler.go
package circulation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"syscall"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service Service
	log     *slog.Logger
}

func NewHandler(service Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{service: service, log: log}
}

// Routes mounts the circulation REST surface. The action segment is
// constrained to the triggers declared in the transition graph, so an
// unknown action 404s instead of reaching the engine. The given
// middleware wraps only the mutating action routes, leaving reads
// untouched.
func (h *Handler) Routes(actionMiddleware ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Post("/circulation/loans", h.HandleCreate)
	r.Get("/circulation/loans/{pid}", h.HandleGet)
	r.Get("/circulation/items/{type}/{value}/loan", h.HandleLoanForItem)
	r.Group(func(g chi.Router) {
		for _, mw := range actionMiddleware {
			g.Use(mw)
		}
		g.Post("/circulation/loans/{pid}/replace-item", h.HandleReplaceItem)
		for _, action := range h.service.Triggers() {
			g.Post("/circulation/loans/{pid}/"+action, h.actionHandler(action))
		}
	})
	return r
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var draft Loan
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		h.writeError(w, r, newError(CodePropertyRequired, "invalid request body: %v", err))
		return
	}
	loan, err := h.service.CreateLoan(r.Context(), &draft)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, loan)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	loan, err := h.service.GetLoan(r.Context(), chi.URLParam(r, "pid"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, loan)
}

func (h *Handler) actionHandler(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params Params
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
				h.writeError(w, r, newError(CodePropertyRequired, "invalid request body: %v", err))
				return
			}
		}
		params.Trigger = action

		loan, err := h.service.Trigger(r.Context(), chi.URLParam(r, "pid"), params)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusAccepted, loan)
	}
}

func (h *Handler) HandleReplaceItem(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ItemPID *PID `json:"item_pid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, newError(CodePropertyRequired, "invalid request body: %v", err))
		return
	}
	if req.ItemPID == nil || req.ItemPID.IsZero() {
		h.writeError(w, r, newError(CodePropertyRequired, "property 'item_pid' is required"))
		return
	}

	loan, err := h.service.ReplaceItem(r.Context(), chi.URLParam(r, "pid"), *req.ItemPID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, loan)
}

func (h *Handler) HandleLoanForItem(w http.ResponseWriter, r *http.Request) {
	itemPID := PID{
		Type:  chi.URLParam(r, "type"),
		Value: chi.URLParam(r, "value"),
	}
	loan, err := h.service.LoanForItem(r.Context(), itemPID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if loan == nil {
		h.writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	h.writeJSON(w, http.StatusOK, loan)
}

// errorResponse is the structured error body surfaced to REST callers.
type errorResponse struct {
	Status  int      `json:"status"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Module  string   `json:"error_module"`
	Skipped []string `json:"skipped_transitions,omitempty"`
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ce *Error
	if !errors.As(err, &ce) {
		h.log.ErrorContext(r.Context(), "unhandled circulation error", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{
			Status:  http.StatusInternalServerError,
			Code:    "internal_error",
			Message: "internal server error",
			Module:  "Circulation",
		})
		return
	}
	status := ce.HTTPStatus()
	h.log.InfoContext(r.Context(), "circulation request rejected",
		"path", r.URL.Path, "code", ce.Code, "message", ce.Description)
	h.writeJSON(w, status, errorResponse{
		Status:  status,
		Code:    ce.Code,
		Message: ce.Description,
		Module:  "Circulation",
		Skipped: ce.Skipped,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && !isBrokenPipe(err) {
		h.log.Error("write response failed", "error", err)
	}
}

// isBrokenPipe reports whether the client hung up mid-response.
func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET)
}
