package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"lamudi_ingest/internal/app"
	"lamudi_ingest/internal/domain"
)

const (
	userHeader   = "X-User-ID"
	maxBodyBytes = 1 << 20
)

// PropertyQueries is the read side the API serves; *app.QueryService implements it.
type PropertyQueries interface {
	SearchProperties(ctx context.Context, f domain.PropertyFilter) (domain.PropertiesPage, error)
	GetProperty(ctx context.Context, id int64) (domain.PropertyView, error)
	ListCities(ctx context.Context) ([]domain.City, error)
	ListFavorites(ctx context.Context, userID string) ([]domain.PropertySummary, error)
	AddFavorite(ctx context.Context, userID string, propertyID int64) error
	RemoveFavorite(ctx context.Context, userID string, propertyID int64) error
}

// DescriptionWriter regenerates the AI copy of one property.
type DescriptionWriter interface {
	GenerateFor(ctx context.Context, propertyID int64) ([]string, error)
}

type Handlers struct {
	Q     PropertyQueries
	D     DescriptionWriter
	Pub   domain.Publisher
	Ready func(ctx context.Context) error // optional dependency check for /healthz
}

type envelope struct {
	Data       any                `json:"data"`
	Pagination *domain.Pagination `json:"pagination,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", h.health)
	s.mux.Post("/", h.submitMessage)

	s.mux.Route("/api/properties", func(r chi.Router) {
		r.Get("/", h.listProperties)
		r.Get("/cities", h.listCities)
		r.Get("/{id}", h.getProperty)
		r.Patch("/{id}/generate-ai-description", h.generateDescription)
	})
	s.mux.Route("/api/favorites", func(r chi.Router) {
		r.Get("/", h.listFavorites)
		r.Post("/", h.addFavorite)
		r.Delete("/{propertyId}", h.removeFavorite)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeErr maps domain errors onto HTTP statuses.
func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrCollaborator):
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("collaborator failure")
		writeError(w, http.StatusBadGateway, "ai description generation failed")
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	return id, err == nil && id > 0
}

func (h *Handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.Ready != nil {
		if err := h.Ready(r.Context()); err != nil {
			log.Warn().Err(err).Msg("health check failed")
			writeError(w, http.StatusServiceUnavailable, "unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, envelope{Data: "ok"})
}

func (h *Handlers) listProperties(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := h.Q.SearchProperties(r.Context(), f)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: page.Items, Pagination: &page.Pagination})
}

func (h *Handlers) listCities(w http.ResponseWriter, r *http.Request) {
	cs, err := h.Q.ListCities(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if cs == nil {
		cs = []domain.City{}
	}
	writeJSON(w, http.StatusOK, envelope{Data: cs})
}

func (h *Handlers) getProperty(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	p, err := h.Q.GetProperty(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: p})
}

func (h *Handlers) generateDescription(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}
	if h.D == nil {
		writeError(w, http.StatusServiceUnavailable, "ai description generation is not configured")
		return
	}
	sections, err := h.D.GenerateFor(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: sections})
}

func (h *Handlers) listFavorites(w http.ResponseWriter, r *http.Request) {
	favs, err := h.Q.ListFavorites(r.Context(), r.Header.Get(userHeader))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Data: favs})
}

func (h *Handlers) addFavorite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PropertyID int64 `json:"propertyId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.Q.AddFavorite(r.Context(), r.Header.Get(userHeader), body.PropertyID); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Data: map[string]int64{"propertyId": body.PropertyID}})
}

func (h *Handlers) removeFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "propertyId")
	if !ok {
		writeError(w, http.StatusBadRequest, "propertyId must be a positive integer")
		return
	}
	if err := h.Q.RemoveFavorite(r.Context(), r.Header.Get(userHeader), id); err != nil {
		writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submission struct {
	Type   domain.MessageType `json:"type"`
	Source string             `json:"source"`
	Data   json.RawMessage    `json:"data"`
}

// submitMessage enqueues a message for the worker and answers 202 with its id.
func (h *Handlers) submitMessage(w http.ResponseWriter, r *http.Request) {
	var sub submission
	if err := decodeBody(r, &sub); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !sub.Type.Known() {
		writeError(w, http.StatusBadRequest, "unknown message type "+strconv.Quote(string(sub.Type)))
		return
	}
	if sub.Source == "" {
		sub.Source = domain.SourceApp
	}
	msg := app.NewMessage(sub.Type, sub.Source, sub.Data)
	entryID, err := h.Pub.Publish(r.Context(), msg)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	log.Info().Str("msg_id", msg.ID).Str("msg_type", string(msg.Type)).Str("entry_id", entryID).Msg("message enqueued")
	writeJSON(w, http.StatusAccepted, envelope{Data: map[string]string{"id": msg.ID, "entryId": entryID}})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return errors.New("invalid JSON body: " + strings.TrimSpace(err.Error()))
	}
	return nil
}
