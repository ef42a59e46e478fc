// Package httpserver exposes the Inkwire HTTP surface: newsletter publishing,
// subscription signup and confirmation, login, and operator diagnostics.
package httpserver

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/inkwire/inkwire/errs"
	"github.com/inkwire/inkwire/internal/auth"
	"github.com/inkwire/inkwire/internal/dispatch"
	"github.com/inkwire/inkwire/internal/observability"
	"github.com/inkwire/inkwire/internal/subscriptions"
)

const (
	defaultMaxBodyBytes int64 = 1 << 20 // 1 MiB

	healthCheckPath      = "/health_check"
	subscriptionsPath    = "/subscriptions"
	confirmPath          = "/subscriptions/confirm"
	loginPath            = "/login"
	newslettersPath      = "/admin/newsletters"
	failedDeliveriesPath = "/admin/deliveries/failed"

	sessionCookieName = "session_token"
)

type handlerFunc func(http.ResponseWriter, *http.Request)

// Deps aggregates the collaborators behind the HTTP surface.
type Deps struct {
	Auth          *auth.Service
	Publisher     *dispatch.Orchestrator
	Subscriptions *subscriptions.Service
	DeadLetter    *observability.DeliveryDeadLetter
	// MaxBodyBytes caps accepted request bodies. Zero applies the
	// built-in 1 MiB limit.
	MaxBodyBytes int64
}

type httpServer struct {
	auth          *auth.Service
	publisher     *dispatch.Orchestrator
	subscriptions *subscriptions.Service
	deadLetter    *observability.DeliveryDeadLetter
	maxBodyBytes  int64
}

// NewHandler builds the routed HTTP handler for the service.
func NewHandler(deps Deps) http.Handler {
	server := &httpServer{
		auth:          deps.Auth,
		publisher:     deps.Publisher,
		subscriptions: deps.Subscriptions,
		deadLetter:    deps.DeadLetter,
		maxBodyBytes:  deps.MaxBodyBytes,
	}
	if server.maxBodyBytes <= 0 {
		server.maxBodyBytes = defaultMaxBodyBytes
	}

	mux := http.NewServeMux()
	mux.Handle(healthCheckPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.healthCheck,
	}))
	mux.Handle(subscriptionsPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.subscribe,
	}))
	mux.Handle(confirmPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.confirmSubscription,
	}))
	mux.Handle(loginPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.login,
	}))
	mux.Handle(newslettersPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodPost: server.publishNewsletter,
	}))
	mux.Handle(failedDeliveriesPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listFailedDeliveries,
	}))
	return mux
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

type subscribePayload struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (s *httpServer) subscribe(w http.ResponseWriter, r *http.Request) {
	s.limitRequestBody(w, r)
	var payload subscribePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	id, err := s.subscriptions.Subscribe(r.Context(), subscriptions.Request{
		Email: payload.Email,
		Name:  payload.Name,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id.String()})
}

func (s *httpServer) confirmSubscription(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("subscription_token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "subscription_token required")
		return
	}
	if _, err := s.subscriptions.Confirm(r.Context(), token); err != nil {
		if errors.Is(err, subscriptions.ErrUnknownToken) {
			writeError(w, http.StatusUnauthorized, "unknown subscription token")
			return
		}
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type loginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *httpServer) login(w http.ResponseWriter, r *http.Request) {
	s.limitRequestBody(w, r)
	var payload loginPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	token, err := s.auth.Login(r.Context(), auth.Credentials{
		Username: payload.Username,
		Password: payload.Password,
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		writeDomainError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type publishPayload struct {
	Title          string `json:"title"`
	HTMLContent    string `json:"htmlContent"`
	TextContent    string `json:"textContent"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (s *httpServer) publishNewsletter(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.Resolve(r.Context(), sessionToken(r))
	if err != nil {
		if errors.Is(err, auth.ErrUnknownSession) {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		writeDomainError(w, err)
		return
	}

	s.limitRequestBody(w, r)
	var payload publishPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	if strings.TrimSpace(payload.Title) == "" {
		writeError(w, http.StatusBadRequest, "title required")
		return
	}
	if payload.HTMLContent == "" && payload.TextContent == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}

	result, err := s.publisher.Publish(r.Context(), dispatch.PublishRequest{
		UserID:   userID,
		RawKey:   payload.IdempotencyKey,
		Title:    payload.Title,
		HTMLBody: payload.HTMLContent,
		TextBody: payload.TextContent,
	})
	if err != nil {
		if errors.Is(err, dispatch.ErrReservationHeld) {
			writeError(w, http.StatusConflict,
				"a publish with this idempotency key is already in progress")
			return
		}
		writeDomainError(w, err)
		return
	}

	// The stored response bytes are replayed exactly, headers included.
	for _, header := range result.Response.Headers {
		w.Header().Add(header.Name, header.Value)
	}
	w.WriteHeader(result.Response.StatusCode)
	if len(result.Response.Body) > 0 {
		_, _ = w.Write(result.Response.Body)
	}
}

func (s *httpServer) listFailedDeliveries(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Resolve(r.Context(), sessionToken(r)); err != nil {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	entries := []observability.FailedDelivery{}
	if s.deadLetter != nil {
		entries = s.deadLetter.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{"failedDeliveries": entries})
}

// sessionToken extracts the session token from the cookie or, failing that,
// a bearer Authorization header.
func sessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return ""
}

func (s *httpServer) limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
}

func writeDecodeError(w http.ResponseWriter, err error) {
	if isRequestTooLarge(err) {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	writeError(w, http.StatusBadRequest, err.Error())
}

func isRequestTooLarge(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

func writeDomainError(w http.ResponseWriter, err error) {
	status := errs.HTTPStatus(err, http.StatusInternalServerError)
	message := "internal error"
	if status < http.StatusInternalServerError {
		message = err.Error()
	} else {
		observability.Log().Error("request failed",
			observability.Field{Key: "error", Value: err.Error()})
	}
	writeError(w, status, message)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}
