// Package httphandler is the local JSON gateway in front of the trend backend.
// It owns the login entry point: a session that cannot be renewed turns into
// a 401 carrying a redirect to it.
package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/trendlens/internal/adapter/driven/trendapi"
	"github.com/ericfisherdev/trendlens/internal/application"
	"github.com/ericfisherdev/trendlens/internal/domain/model"
	"github.com/ericfisherdev/trendlens/internal/domain/port/driven"
)

// DefaultLoginPath is where callers are sent when the session has expired.
const DefaultLoginPath = "/login"

// maxUploadSize caps a body analysis upload, photo included.
const maxUploadSize = 16 << 20

// Handler is the HTTP driving adapter that serves the gateway API.
type Handler struct {
	auth      *application.AuthService
	trends    driven.TrendAPI
	loginPath string
	logger    *slog.Logger
}

// NewHandler creates a Handler with all required dependencies.
func NewHandler(auth *application.AuthService, trends driven.TrendAPI, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		auth:      auth,
		trends:    trends,
		loginPath: DefaultLoginPath,
		logger:    logger,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with request ID, logging, recovery and session expiry middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", h.Health)
	mux.HandleFunc("GET /api/v1/session", h.Session)
	mux.HandleFunc("POST /api/v1/login", h.Login)
	mux.HandleFunc("POST /api/v1/logout", h.Logout)
	mux.HandleFunc("POST /api/v1/signup", h.Signup)
	mux.HandleFunc("GET /api/v1/trends/guest", h.GuestRanking)
	mux.HandleFunc("GET /api/v1/trends/insight", h.SearchInsight)
	mux.HandleFunc("GET /api/v1/trends/my", h.MyRanking)
	mux.HandleFunc("POST /api/v1/interests/{seqKeyword}/toggle", h.ToggleInterest)
	mux.HandleFunc("GET /api/v1/interests/{seqKeyword}", h.IsLiked)
	mux.HandleFunc("GET /api/v1/mypage", h.MyPage)
	mux.HandleFunc("POST /api/v1/mypage/profile-picture", h.PresignProfilePicture)
	mux.HandleFunc("GET /api/v1/subscription", h.Subscription)
	mux.HandleFunc("POST /api/v1/analyze/body", h.AnalyzeBody)
	mux.HandleFunc("POST /api/v1/payments/confirm", h.ConfirmPayment)

	// Recovery innermost so panics are caught before logging.
	wrapped := expiryMiddleware(mux)
	wrapped = recoveryMiddleware(logger, wrapped)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Time:     time.Now().UTC().Format(time.RFC3339),
		LoggedIn: h.auth.Current().LoggedIn(),
	})
}

// Session returns the identity of the current session.
func (h *Handler) Session(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, NewSessionResponse(h.auth.Current()))
}

// Login authenticates against the backend and starts a session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	session, err := h.auth.Login(r.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, application.ErrMissingCredentials):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case trendapi.IsUnauthorized(err):
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	case err != nil:
		h.logger.Error("login failed", "error", err)
		writeError(w, http.StatusBadGateway, "login failed")
		return
	}

	writeJSON(w, http.StatusOK, NewSessionResponse(session))
}

// Logout ends the session. The local session is cleared even when the
// backend cannot be reached.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.auth.Logout(r.Context()); err != nil {
		h.logger.Warn("backend logout failed", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Signup registers a new account without logging in.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req model.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.auth.Signup(r.Context(), req); err != nil {
		if errors.Is(err, application.ErrMissingCredentials) {
			writeError(w, http.StatusBadRequest, "email and password are required")
			return
		}
		h.writeUpstreamError(w, r, "signup", err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// GuestRanking returns the public keyword ranking.
func (h *Handler) GuestRanking(w http.ResponseWriter, r *http.Request) {
	items, err := h.trends.GuestRanking(r.Context())
	if err != nil {
		h.writeUpstreamError(w, r, "guest ranking", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// SearchInsight returns styling insights for the keyword query parameter.
func (h *Handler) SearchInsight(w http.ResponseWriter, r *http.Request) {
	keyword := strings.TrimSpace(r.URL.Query().Get("keyword"))
	if keyword == "" {
		writeError(w, http.StatusBadRequest, "keyword is required")
		return
	}

	results, err := h.trends.SearchInsight(r.Context(), keyword)
	if err != nil {
		h.writeUpstreamError(w, r, "search insight", err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// MyRanking returns the ranking of the account's liked keywords.
func (h *Handler) MyRanking(w http.ResponseWriter, r *http.Request) {
	account, ok := h.requireAccount(w)
	if !ok {
		return
	}

	items, err := h.trends.MyRanking(r.Context(), account)
	if err != nil {
		h.writeUpstreamError(w, r, "my ranking", err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// ToggleInterest likes or unlikes a keyword and returns the new state.
func (h *Handler) ToggleInterest(w http.ResponseWriter, r *http.Request) {
	seqKeyword, ok := parseSeqKeyword(w, r)
	if !ok {
		return
	}
	account, ok := h.requireAccount(w)
	if !ok {
		return
	}

	if err := h.trends.ToggleInterest(r.Context(), account, seqKeyword); err != nil {
		h.writeUpstreamError(w, r, "toggle interest", err)
		return
	}

	liked, err := h.trends.IsLiked(r.Context(), account, seqKeyword)
	if err != nil {
		h.writeUpstreamError(w, r, "check interest", err)
		return
	}
	writeJSON(w, http.StatusOK, LikedResponse{SeqKeyword: seqKeyword, Liked: liked})
}

// IsLiked reports whether the account likes a keyword.
func (h *Handler) IsLiked(w http.ResponseWriter, r *http.Request) {
	seqKeyword, ok := parseSeqKeyword(w, r)
	if !ok {
		return
	}
	account, ok := h.requireAccount(w)
	if !ok {
		return
	}

	liked, err := h.trends.IsLiked(r.Context(), account, seqKeyword)
	if err != nil {
		h.writeUpstreamError(w, r, "check interest", err)
		return
	}
	writeJSON(w, http.StatusOK, LikedResponse{SeqKeyword: seqKeyword, Liked: liked})
}

// MyPage returns the account profile with its picture URL resolved.
func (h *Handler) MyPage(w http.ResponseWriter, r *http.Request) {
	if !h.auth.Current().LoggedIn() {
		writeLoginRedirect(w, h.loginPath)
		return
	}

	page, err := h.trends.MyPage(r.Context())
	if err != nil {
		h.writeUpstreamError(w, r, "mypage", err)
		return
	}

	resp := MyPageResponse{MyPage: *page}
	if page.ProfilePic != "" {
		imageURL, err := h.trends.ProfileImageURL(r.Context(), page.ProfilePic)
		if err != nil {
			// The profile is still useful without its picture.
			h.logger.Warn("profile image lookup failed", "request_id", RequestID(r.Context()), "error", err)
		} else {
			resp.ProfileImageURL = imageURL
		}
	}
	if sessionExpired(r.Context()) {
		writeLoginRedirect(w, h.loginPath)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// PresignProfilePicture returns an upload slot for a new profile picture.
func (h *Handler) PresignProfilePicture(w http.ResponseWriter, r *http.Request) {
	var req PresignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Ext = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(req.Ext)), ".")
	if req.Ext == "" || !strings.HasPrefix(req.ContentType, "image/") {
		writeError(w, http.StatusBadRequest, "ext and an image contentType are required")
		return
	}
	if !h.auth.Current().LoggedIn() {
		writeLoginRedirect(w, h.loginPath)
		return
	}

	upload, err := h.trends.PresignProfilePicture(r.Context(), req.Ext, req.ContentType)
	if err != nil {
		h.writeUpstreamError(w, r, "presign profile picture", err)
		return
	}
	writeJSON(w, http.StatusOK, upload)
}

// Subscription returns the account's subscription status.
func (h *Handler) Subscription(w http.ResponseWriter, r *http.Request) {
	account, ok := h.requireAccount(w)
	if !ok {
		return
	}

	status, err := h.trends.SubscriptionStatus(r.Context(), account)
	if err != nil {
		h.writeUpstreamError(w, r, "subscription status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// AnalyzeBody forwards a multipart body photo upload for the session's
// account. The form mirrors the backend's: imageFile, heightCm, weightKg and
// an optional gender.
func (h *Handler) AnalyzeBody(w http.ResponseWriter, r *http.Request) {
	account, ok := h.requireAccount(w)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req, msg := parseBodyAnalysisForm(r)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	req.SeqAccount = account

	result, err := h.trends.AnalyzeBody(r.Context(), req)
	if err != nil {
		h.writeUpstreamError(w, r, "body analysis", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// parseBodyAnalysisForm reads a parsed multipart form. It returns a client
// error message when the form is unusable.
func parseBodyAnalysisForm(r *http.Request) (model.BodyAnalysisRequest, string) {
	var req model.BodyAnalysisRequest

	file, header, err := r.FormFile("imageFile")
	if err != nil {
		return req, "imageFile is required"
	}
	defer file.Close()
	req.Image, err = io.ReadAll(file)
	if err != nil || len(req.Image) == 0 {
		return req, "imageFile is empty"
	}
	req.Filename = header.Filename
	req.ContentType = header.Header.Get("Content-Type")
	if req.ContentType == "" || req.ContentType == "application/octet-stream" {
		req.ContentType = http.DetectContentType(req.Image)
	}
	if !strings.HasPrefix(req.ContentType, "image/") {
		return req, "imageFile must be an image"
	}

	req.HeightCm, err = strconv.ParseFloat(strings.TrimSpace(r.FormValue("heightCm")), 64)
	if err != nil || req.HeightCm <= 0 {
		return req, "heightCm must be a positive number"
	}
	req.WeightKg, err = strconv.ParseFloat(strings.TrimSpace(r.FormValue("weightKg")), 64)
	if err != nil || req.WeightKg <= 0 {
		return req, "weightKg must be a positive number"
	}

	switch g := strings.ToUpper(strings.TrimSpace(r.FormValue("gender"))); g {
	case "":
		req.Gender = model.GenderUnknown
	case model.GenderMale, model.GenderFemale, model.GenderUnknown:
		req.Gender = g
	default:
		return req, "gender must be M, F or U"
	}
	return req, ""
}

// ConfirmPayment approves a checkout returned from the payment provider.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req model.PaymentConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.PaymentKey = strings.TrimSpace(req.PaymentKey)
	req.OrderID = strings.TrimSpace(req.OrderID)
	if req.PaymentKey == "" || req.OrderID == "" || req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "paymentKey, orderId and a positive amount are required")
		return
	}
	if !h.auth.Current().LoggedIn() {
		writeLoginRedirect(w, h.loginPath)
		return
	}

	confirmation, err := h.trends.ConfirmPayment(r.Context(), req)
	if err != nil {
		h.writeUpstreamError(w, r, "payment confirm", err)
		return
	}
	writeJSON(w, http.StatusOK, confirmation)
}

// requireAccount returns the session's account id, answering with a login
// redirect when there is none.
func (h *Handler) requireAccount(w http.ResponseWriter) (int64, bool) {
	session := h.auth.Current()
	if !session.LoggedIn() || session.Claims == nil || !session.Claims.HasAccount() {
		writeLoginRedirect(w, h.loginPath)
		return 0, false
	}
	return session.Claims.AccountID, true
}

// writeUpstreamError maps a backend failure onto the gateway response. A 401
// that survived the transport's recovery means the session is gone.
func (h *Handler) writeUpstreamError(w http.ResponseWriter, r *http.Request, op string, err error) {
	ctx := r.Context()
	switch {
	case sessionExpired(ctx) || trendapi.IsUnauthorized(err):
		writeLoginRedirect(w, h.loginPath)
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Warn(op+" timed out", "request_id", RequestID(ctx), "error", err)
		writeError(w, http.StatusGatewayTimeout, "upstream timed out")
	case trendapi.StatusCode(err) != 0:
		var apiErr *trendapi.APIError
		errors.As(err, &apiErr)
		h.logger.Warn(op+" rejected", "request_id", RequestID(ctx), "status", apiErr.StatusCode, "error", err)
		message := apiErr.Message
		if message == "" {
			message = http.StatusText(apiErr.StatusCode)
		}
		writeError(w, apiErr.StatusCode, message)
	default:
		h.logger.Error(op+" failed", "request_id", RequestID(ctx), "error", err)
		writeError(w, http.StatusBadGateway, "upstream unavailable")
	}
}

func parseSeqKeyword(w http.ResponseWriter, r *http.Request) (int64, bool) {
	seq, err := strconv.ParseInt(r.PathValue("seqKeyword"), 10, 64)
	if err != nil || seq <= 0 {
		writeError(w, http.StatusBadRequest, "invalid keyword id")
		return 0, false
	}
	return seq, true
}
