// Copyright 2024-2026 Aiku AI

package relay

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
)

// maxAPIBodySize is the maximum allowed request body for the admin API (1 MB).
const maxAPIBodySize = 1 << 20

const pairingQRSize = 256

type sendRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
}

type bulkRequest struct {
	Numbers []string `json:"numbers"`
	Message string   `json:"message"`
	// DelayMS overrides the configured pacing when set.
	DelayMS *int `json:"delay_ms,omitempty"`
}

type validateResponse struct {
	Valid      bool   `json:"valid"`
	Normalized string `json:"normalized"`
	Address    string `json:"address,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// API serves the admin HTTP endpoints for an Engine.
type API struct {
	engine *Engine
	token  string
	log    zerolog.Logger
}

// NewAPI returns the admin API. A non-empty token is required as a bearer
// token on every request.
func NewAPI(engine *Engine, token string, log zerolog.Logger) *API {
	return &API{
		engine: engine,
		token:  token,
		log:    log.With().Str("component", "api").Logger(),
	}
}

// Handler returns the routed handler.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", a.HandleStatus)
	mux.HandleFunc("GET /api/pairing", a.HandlePairing)
	mux.HandleFunc("POST /api/pairing/regenerate", a.HandleRegeneratePairing)
	mux.HandleFunc("POST /api/messages", a.HandleSend)
	mux.HandleFunc("POST /api/messages/bulk", a.HandleBulkSend)
	mux.HandleFunc("GET /api/phone/validate", a.HandleValidate)
	return a.authenticate(mux)
}

// NewServer wraps the API in an http.Server listening on addr.
func (a *API) NewServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func (a *API) authenticate(next http.Handler) http.Handler {
	if a.token == "" {
		return next
	}
	want := []byte("Bearer " + a.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			a.log.Warn().Str("remote_addr", r.RemoteAddr).Str("path", r.URL.Path).Msg("Rejected unauthenticated request")
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleStatus is an HTTP handler for GET /api/status.
func (a *API) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.engine.Info())
}

// HandlePairing is an HTTP handler for GET /api/pairing. With
// ?format=png the live token is rendered as a QR code image.
func (a *API) HandlePairing(w http.ResponseWriter, r *http.Request) {
	token, ok := a.engine.PairingToken()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no pairing token available"})
		return
	}
	if r.URL.Query().Get("format") != "png" {
		writeJSON(w, http.StatusOK, map[string]string{"token": token})
		return
	}
	png, err := qrcode.Encode(token, qrcode.Medium, pairingQRSize)
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to render pairing QR code")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to render QR code"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

// HandleRegeneratePairing is an HTTP handler for POST /api/pairing/regenerate.
func (a *API) HandleRegeneratePairing(w http.ResponseWriter, r *http.Request) {
	a.log.Info().Str("remote_addr", r.RemoteAddr).Msg("Pairing regeneration requested")
	if err := a.engine.RegeneratePairing(r.Context()); err != nil {
		a.log.Error().Err(err).Msg("Pairing regeneration failed")
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, a.engine.Info())
}

// HandleSend is an HTTP handler for POST /api/messages.
func (a *API) HandleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !a.decode(w, r, &req) {
		return
	}
	receipt, err := a.engine.SendMessage(r.Context(), req.To, req.Message)
	if err != nil {
		writeJSON(w, statusForError(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// HandleBulkSend is an HTTP handler for POST /api/messages/bulk. Pacing
// makes the request long-running, so the write deadline is lifted.
func (a *API) HandleBulkSend(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !a.decode(w, r, &req) {
		return
	}
	pacing := time.Duration(-1)
	if req.DelayMS != nil {
		if *req.DelayMS < 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "delay_ms must not be negative"})
			return
		}
		pacing = time.Duration(*req.DelayMS) * time.Millisecond
	}
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	report, err := a.engine.SendBulk(r.Context(), req.Numbers, req.Message, pacing)
	if err != nil {
		writeJSON(w, statusForError(err), errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandleValidate is an HTTP handler for GET /api/phone/validate.
func (a *API) HandleValidate(w http.ResponseWriter, r *http.Request) {
	number := r.URL.Query().Get("number")
	if number == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "number is required"})
		return
	}
	resp := validateResponse{
		Valid:      a.engine.IsValid(number),
		Normalized: a.engine.Normalize(number),
	}
	if resp.Valid {
		resp.Address = a.engine.ToNetworkForm(number)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAPIBodySize)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
		return false
	}
	if err := json.Unmarshal(body, into); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON"})
		return false
	}
	return true
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrNotConnected):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrInvalidRecipient),
		errors.Is(err, ErrMessageTooLong),
		errors.Is(err, ErrEmptyMessage),
		errors.Is(err, ErrNoRecipients):
		return http.StatusBadRequest
	case errors.Is(err, ErrSendFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

