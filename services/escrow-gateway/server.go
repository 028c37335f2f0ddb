package main

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"zkescrow/gateway/middleware"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	maxRequestBody       = 1 << 20 // 1 MiB
	nodeCallTimeout      = 15 * time.Second
)

// Server is the HTTP front-end for escrow interactions.
type Server struct {
	authenticator *Authenticator
	node          NodeClient
	store         *SQLiteStore
	queue         *WebhookQueue
	logger        *slog.Logger
	nowFn         func() time.Time
	router        chi.Router
	obs           *middleware.Observability
}

// ServerOptions carries the optional collaborators wired by main.
type ServerOptions struct {
	AdminJWTSecret string
	Logger         *slog.Logger
	Observability  *middleware.Observability
	RateLimiter    *middleware.RateLimiter
}

func NewServer(auth *Authenticator, node NodeClient, store *SQLiteStore, queue *WebhookQueue, opts ServerOptions) *Server {
	if auth == nil {
		panic("authenticator required")
	}
	if node == nil {
		panic("node client required")
	}
	if store == nil {
		panic("sqlite store required")
	}
	if queue == nil {
		queue = NewWebhookQueue()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		authenticator: auth,
		node:          node,
		store:         store,
		queue:         queue,
		logger:        logger,
		nowFn:         time.Now,
		obs:           opts.Observability,
	}
	s.router = s.buildRouter(opts)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRouter(opts ServerOptions) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.CORS(middleware.CORSConfig{}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if s.obs != nil {
		r.Handle("/metrics", s.obs.MetricsHandler())
	}

	partner := func(group string, fn http.HandlerFunc) http.Handler {
		var h http.Handler = fn
		if s.obs != nil {
			h = s.obs.Middleware(group)(h)
		}
		if opts.RateLimiter != nil {
			h = opts.RateLimiter.Middleware(group)(h)
		}
		return h
	}

	r.Method(http.MethodPost, "/v1/escrows", partner("escrows", s.handleEscrowCreate))
	r.Method(http.MethodGet, "/v1/escrows/{id}", partner("escrows", s.handleEscrowGet))
	r.Method(http.MethodPost, "/v1/escrows/{id}/release", partner("escrows", s.handleEscrowRelease))
	r.Method(http.MethodPost, "/v1/escrows/{id}/refund", partner("escrows", s.handleEscrowRefund))
	r.Method(http.MethodPost, "/v1/proofs", partner("proofs", s.handleProofGenerate))
	r.Method(http.MethodPost, "/v1/proofs/verify", partner("proofs", s.handleProofVerify))
	r.Method(http.MethodGet, "/v1/actions/{escrowID}", partner("actions", s.handleActionResult))
	r.Method(http.MethodGet, "/v1/events", partner("events", s.handleEvents))

	admin := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    strings.TrimSpace(opts.AdminJWTSecret) != "",
		HMACSecret: opts.AdminJWTSecret,
	}, nil)
	r.Route("/v1/webhooks", func(wr chi.Router) {
		wr.Use(admin.Middleware("webhooks:manage"))
		wr.Post("/", s.handleWebhookCreate)
		wr.Get("/", s.handleWebhookList)
		wr.Delete("/{id}", s.handleWebhookDelete)
	})

	return r
}

// authenticate reads the body and validates the partner HMAC headers. On
// failure it writes the response itself and returns a nil partner.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*Partner, []byte, bool) {
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return nil, nil, false
	}
	partner, err := s.authenticator.Authenticate(r, body)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, err)
		s.audit(r.Context(), nil, r, body, http.StatusUnauthorized, errorBody(err))
		return nil, nil, false
	}
	return partner, body, true
}

// idempotent replays a cached response when the key was seen before with the
// same request hash. It reports whether the handler should continue.
func (s *Server) idempotent(w http.ResponseWriter, r *http.Request, partner *Partner, body []byte) (key, requestHash string, proceed bool) {
	key = strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		err := errors.New("missing Idempotency-Key header")
		s.writeError(w, http.StatusBadRequest, err)
		s.audit(r.Context(), partner, r, body, http.StatusBadRequest, errorBody(err))
		return "", "", false
	}
	requestHash = hashRequest(r.Method, canonicalRequestPath(r), body)
	cached, err := s.store.LookupIdempotency(r.Context(), partner.APIKey, key, requestHash)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrIdempotencyMismatch) {
			status = http.StatusConflict
		}
		s.writeError(w, status, err)
		s.audit(r.Context(), partner, r, body, status, errorBody(err))
		return "", "", false
	}
	if cached != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cached.Status)
		_, _ = w.Write(cached.Body)
		s.audit(r.Context(), partner, r, body, cached.Status, cached.Body)
		return "", "", false
	}
	return key, requestHash, true
}

// GatewayEscrowCreateRequest is the REST payload for creating an escrow. The
// amount is a human decimal string converted to base units before hitting the
// node.
type GatewayEscrowCreateRequest struct {
	Amount      string            `json:"amount"`
	Beneficiary string            `json:"beneficiary"`
	Conditions  []json.RawMessage `json:"conditions"`
	Timeout     int64             `json:"timeout,omitempty"`
	Action      json.RawMessage   `json:"action,omitempty"`
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request) {
	partner, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	key, requestHash, ok := s.idempotent(w, r, partner, body)
	if !ok {
		return
	}

	var req GatewayEscrowCreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, r, partner, body, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	if strings.TrimSpace(req.Beneficiary) == "" {
		s.respondError(w, r, partner, body, http.StatusBadRequest, errors.New("beneficiary is required"))
		return
	}
	if len(req.Conditions) == 0 {
		s.respondError(w, r, partner, body, http.StatusBadRequest, errors.New("at least one condition is required"))
		return
	}
	amount, err := parseDecimalAmount(req.Amount)
	if err != nil {
		s.respondError(w, r, partner, body, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), nodeCallTimeout)
	defer cancel()
	created, err := s.node.EscrowCreate(ctx, EscrowCreateParams{
		Amount:      amount,
		Beneficiary: strings.TrimSpace(req.Beneficiary),
		Conditions:  req.Conditions,
		Timeout:     req.Timeout,
		Action:      req.Action,
	})
	if err != nil {
		s.respondNodeError(w, r, partner, body, err)
		return
	}

	s.respondCached(w, r, partner, body, key, requestHash, http.StatusCreated, created)
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, r *http.Request) {
	partner, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		s.respondError(w, r, partner, body, http.StatusBadRequest, errors.New("escrow id required"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), nodeCallTimeout)
	defer cancel()
	esc, err := s.node.EscrowGet(ctx, id)
	if err != nil {
		s.respondNodeError(w, r, partner, body, err)
		return
	}
	s.respondJSON(w, http.StatusOK, esc)
}

// GatewayReleaseRequest carries the proof material for a release.
type GatewayReleaseRequest struct {
	Proof        string   `json:"proof"`
	PublicInputs []string `json:"publicInputs,omitempty"`
	CircuitID    string   `json:"circuitId,omitempty"`
}

func (s *Server) handleEscrowRelease(w http.ResponseWriter, r *http.Request) {
	partner, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	key, requestHash, ok := s.idempotent(w, r, partner, body)
	if !ok {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		s.respondError(w, r, partner, body, http.StatusBadRequest, errors.New("escrow id required"))
		return
	}
	var req GatewayReleaseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, r, partner, body, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	if strings.TrimSpace(req.Proof) == "" {
		s.respondError(w, r, partner, body, http.StatusBadRequest, errors.New("proof is required"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), nodeCallTimeout)
	defer cancel()
	receipt, err := s.node.EscrowRelease(ctx, EscrowReleaseParams{
		ID:           id,
		Proof:        req.Proof,
		PublicInputs: req.PublicInputs,
		CircuitID:    req.CircuitID,
	})
	if err != nil {
		s.respondNodeError(w, r, partner, body, err)
		return
	}
	s.respondCached(w, r, partner, body, key, requestHash, http.StatusOK, receipt)
}

func (s *Server) handleEscrowRefund(w http.ResponseWriter, r *http.Request) {
	partner, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	key, requestHash, ok := s.idempotent(w, r, partner, body)
	if !ok {
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		s.respondError(w, r, partner, body, http.StatusBadRequest, errors.New("escrow id required"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), nodeCallTimeout)
	defer cancel()
	receipt, err := s.node.EscrowRefund(ctx, id)
	if err != nil {
		s.respondNodeError(w, r, partner, body, err)
		return
	}
	s.respondCached(w, r, partner, body, key, requestHash, http.StatusOK, receipt)
}

func (s *Server) handleProofGenerate(w http.ResponseWriter, r *http.Request) {
	partner, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req ProofGenerateParams
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, r, partner, body, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	if strings.TrimSpace(req.EscrowID) == "" {
		s.respondError(w, r, partner, body, http.StatusBadRequest, errors.New("escrowId is required"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), nodeCallTimeout)
	defer cancel()
	att, err := s.node.ProofGenerate(ctx, req)
	if err != nil {
		s.respondNodeError(w, r, partner, body, err)
		return
	}
	s.respondJSON(w, http.StatusOK, att)
}

func (s *Server) handleProofVerify(w http.ResponseWriter, r *http.Request) {
	partner, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var req ProofVerifyParams
	if err := json.Unmarshal(body, &req); err != nil {
		s.respondError(w, r, partner, body, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	if strings.TrimSpace(req.Proof) == "" || strings.TrimSpace(req.CircuitID) == "" {
		s.respondError(w, r, partner, body, http.StatusBadRequest, errors.New("proof and circuitId are required"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), nodeCallTimeout)
	defer cancel()
	result, err := s.node.ProofVerify(ctx, req)
	if err != nil {
		s.respondNodeError(w, r, partner, body, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleActionResult(w http.ResponseWriter, r *http.Request) {
	partner, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	escrowID := strings.TrimSpace(chi.URLParam(r, "escrowID"))
	if escrowID == "" {
		s.respondError(w, r, partner, body, http.StatusBadRequest, errors.New("escrow id required"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), nodeCallTimeout)
	defer cancel()
	result, err := s.node.ActionResult(ctx, escrowID)
	if err != nil {
		s.respondNodeError(w, r, partner, body, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	partner, body, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	var after int64
	if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			s.respondError(w, r, partner, body, http.StatusBadRequest, errors.New("cursor must be a non-negative integer"))
			return
		}
		after = parsed
	}
	limit := 100
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.respondError(w, r, partner, body, http.StatusBadRequest, errors.New("limit must be a positive integer"))
			return
		}
		limit = parsed
	}
	events, err := s.store.ListEventsSince(r.Context(), after, limit)
	if err != nil {
		s.respondError(w, r, partner, body, http.StatusInternalServerError, err)
		return
	}
	next := after
	type eventJSON struct {
		Sequence  int64             `json:"sequence"`
		Type      string            `json:"type"`
		EscrowID  string            `json:"escrowId,omitempty"`
		Payload   map[string]string `json:"payload,omitempty"`
		CreatedAt time.Time         `json:"createdAt"`
	}
	out := make([]eventJSON, 0, len(events))
	for _, evt := range events {
		out = append(out, eventJSON{
			Sequence:  evt.Sequence,
			Type:      evt.Type,
			EscrowID:  evt.EscrowID,
			Payload:   evt.Payload,
			CreatedAt: evt.CreatedAt,
		})
		if evt.Sequence > next {
			next = evt.Sequence
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"events": out, "nextCursor": next})
}

// WebhookCreateRequest registers a delivery endpoint for a partner.
type WebhookCreateRequest struct {
	APIKey    string `json:"apiKey"`
	EventType string `json:"eventType"`
	URL       string `json:"url"`
	Secret    string `json:"secret"`
	RateLimit int    `json:"rateLimit,omitempty"`
}

func (s *Server) handleWebhookCreate(w http.ResponseWriter, r *http.Request) {
	body, err := s.readRequestBody(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	var req WebhookCreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	if strings.TrimSpace(req.APIKey) == "" || strings.TrimSpace(req.EventType) == "" ||
		strings.TrimSpace(req.URL) == "" || strings.TrimSpace(req.Secret) == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("apiKey, eventType, url and secret are required"))
		return
	}
	sub := WebhookSubscription{
		APIKey:    strings.TrimSpace(req.APIKey),
		EventType: strings.TrimSpace(req.EventType),
		URL:       strings.TrimSpace(req.URL),
		Secret:    strings.TrimSpace(req.Secret),
		RateLimit: req.RateLimit,
		Active:    true,
		CreatedAt: s.nowFn().UTC(),
	}
	id, err := s.store.InsertWebhook(r.Context(), sub)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"id": id})
}

func (s *Server) handleWebhookList(w http.ResponseWriter, r *http.Request) {
	apiKey := strings.TrimSpace(r.URL.Query().Get("apiKey"))
	if apiKey == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("apiKey query parameter required"))
		return
	}
	subs, err := s.store.ListWebhooks(r.Context(), apiKey)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	type subJSON struct {
		ID        int64  `json:"id"`
		EventType string `json:"eventType"`
		URL       string `json:"url"`
		RateLimit int    `json:"rateLimit"`
		Active    bool   `json:"active"`
	}
	out := make([]subJSON, 0, len(subs))
	for _, sub := range subs {
		out = append(out, subJSON{ID: sub.ID, EventType: sub.EventType, URL: sub.URL, RateLimit: sub.RateLimit, Active: sub.Active})
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	apiKey := strings.TrimSpace(r.URL.Query().Get("apiKey"))
	if apiKey == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("apiKey query parameter required"))
		return
	}
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, "id")), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("webhook id must be a positive integer"))
		return
	}
	if err := s.store.DeactivateWebhook(r.Context(), apiKey, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.writeError(w, http.StatusNotFound, fmt.Errorf("webhook %d not found", id))
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// respondCached stores the response under the idempotency key before writing.
func (s *Server) respondCached(w http.ResponseWriter, r *http.Request, partner *Partner, requestBody []byte, key, requestHash string, status int, payload interface{}) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		s.respondError(w, r, partner, requestBody, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.SaveIdempotency(r.Context(), partner.APIKey, key, requestHash, status, encoded); err != nil {
		s.respondError(w, r, partner, requestBody, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encoded)
	s.audit(r.Context(), partner, r, requestBody, status, encoded)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

// respondNodeError maps JSON-RPC error codes to HTTP statuses.
func (s *Server) respondNodeError(w http.ResponseWriter, r *http.Request, partner *Partner, body []byte, err error) {
	status := http.StatusBadGateway
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		switch nodeErr.Code {
		case -32021: // invalid params
			status = http.StatusBadRequest
		case -32022: // not found
			status = http.StatusNotFound
		case -32023, -32024: // wrong state / conflict
			status = http.StatusConflict
		case -32025: // timeout not elapsed
			status = http.StatusConflict
		case -32026, -32027: // unsupported env / dispatch failed
			status = http.StatusBadGateway
		default:
			status = http.StatusBadGateway
		}
	}
	s.respondError(w, r, partner, body, status, err)
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, partner *Partner, body []byte, status int, err error) {
	s.writeError(w, status, err)
	s.audit(r.Context(), partner, r, body, status, errorBody(err))
}

func (s *Server) readRequestBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxRequestBody+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if len(data) > maxRequestBody {
		return nil, fmt.Errorf("request body exceeds %d bytes", maxRequestBody)
	}
	return data, nil
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	if status <= 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(errorBody(err))
}

func errorBody(err error) []byte {
	payload, marshalErr := json.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return []byte(`{"error":"internal error"}`)
	}
	return payload
}

func (s *Server) audit(ctx context.Context, partner *Partner, r *http.Request, requestBody []byte, status int, responseBody []byte) {
	apiKey := ""
	if partner != nil {
		apiKey = partner.APIKey
	}
	entry := AuditEntry{
		APIKey:         apiKey,
		Method:         r.Method,
		Path:           canonicalRequestPath(r),
		RequestBody:    append([]byte(nil), requestBody...),
		ResponseBody:   append([]byte(nil), responseBody...),
		ResponseStatus: status,
		Timestamp:      s.nowFn().UTC(),
	}
	if err := s.store.InsertAuditLog(ctx, entry); err != nil {
		s.logger.Warn("Failed to insert audit row", slog.Any("error", err))
	}
}

func hashRequest(method, path string, body []byte) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{strings.ToUpper(method), path, string(body)}, "\n")))
	return fmt.Sprintf("%x", sum[:])
}
