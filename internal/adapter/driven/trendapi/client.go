// Package trendapi implements the AuthAPI and TrendAPI ports against the
// fashion-trend backend over the authenticated session transport.
package trendapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"

	"github.com/ericfisherdev/trendlens/internal/adapter/driven/authhttp"
	"github.com/ericfisherdev/trendlens/internal/domain/model"
	"github.com/ericfisherdev/trendlens/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.AuthAPI  = (*Client)(nil)
	_ driven.TrendAPI = (*Client)(nil)
)

// maxBodySize caps how much of a response body is read.
const maxBodySize = 10 << 20

// Paths configures the authentication endpoint paths. Zero values fall back
// to /login, /logout and /signup.
type Paths struct {
	Login  string
	Logout string
	Signup string
}

// Client talks to the backend. httpClient is expected to be the authenticated
// client built by authhttp; requests that must not carry a bearer token are
// marked with authhttp.SkipAuth.
type Client struct {
	http    *http.Client
	baseURL *url.URL
	paths   Paths
	logger  *slog.Logger
}

// NewClient creates a Client for the backend at baseURL.
func NewClient(httpClient *http.Client, baseURL string, paths Paths, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL %q must be absolute", baseURL)
	}
	if paths.Login == "" {
		paths.Login = "/login"
	}
	if paths.Logout == "" {
		paths.Logout = "/logout"
	}
	if paths.Signup == "" {
		paths.Signup = "/signup"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{http: httpClient, baseURL: u, paths: paths, logger: logger}, nil
}

// Login posts the credential pair as a form. The token is read from the
// Authorization response header, falling back to an accessToken body field.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := c.newRequest(authhttp.SkipAuth(ctx), http.MethodPost, c.paths.Login, nil, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, body, err := c.do(req)
	if err != nil {
		return "", err
	}

	if token, ok := authhttp.BearerToken(resp.Header); ok {
		return token, nil
	}

	var payload struct {
		AccessToken string `json:"accessToken"`
	}
	if len(body) > 0 && json.Unmarshal(body, &payload) == nil && payload.AccessToken != "" {
		return strings.TrimPrefix(payload.AccessToken, "Bearer "), nil
	}
	return "", ErrNoToken
}

// Logout ends the server-side session and its refresh cookie.
func (c *Client) Logout(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodPost, c.paths.Logout, nil, nil)
	if err != nil {
		return err
	}
	_, _, err = c.do(req)
	return err
}

// Signup registers a new account.
func (c *Client) Signup(ctx context.Context, signup model.SignupRequest) error {
	return c.sendJSON(authhttp.SkipAuth(ctx), http.MethodPost, c.paths.Signup, nil, signup, nil)
}

// GuestRanking returns the public top keywords.
func (c *Client) GuestRanking(ctx context.Context) ([]model.TrendItem, error) {
	var items []model.TrendItem
	if err := c.getJSON(ctx, "/rank/guest", nil, &items); err != nil {
		return nil, err
	}
	return orEmpty(items), nil
}

// SearchInsight returns styling insights for keyword.
func (c *Client) SearchInsight(ctx context.Context, keyword string) ([]model.InsightResult, error) {
	var results []model.InsightResult
	if err := c.getJSON(ctx, "/insight", url.Values{"keyword": {keyword}}, &results); err != nil {
		return nil, err
	}
	if results == nil {
		results = []model.InsightResult{}
	}
	return results, nil
}

// MyRanking returns the ranking of the account's liked keywords.
func (c *Client) MyRanking(ctx context.Context, seqAccount int64) ([]model.TrendItem, error) {
	var items []model.TrendItem
	if err := c.getJSON(ctx, "/api/trends/rank/my", accountQuery(seqAccount), &items); err != nil {
		return nil, err
	}
	return orEmpty(items), nil
}

// ToggleInterest likes or unlikes a keyword.
func (c *Client) ToggleInterest(ctx context.Context, seqAccount, seqKeyword int64) error {
	q := accountQuery(seqAccount)
	q.Set("seqKeyword", strconv.FormatInt(seqKeyword, 10))

	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/interests/toggle", q, nil)
	if err != nil {
		return err
	}
	_, _, err = c.do(req)
	return err
}

// IsLiked reports whether seqKeyword is among the account's liked keywords.
func (c *Client) IsLiked(ctx context.Context, seqAccount, seqKeyword int64) (bool, error) {
	var items []model.TrendItem
	if err := c.getJSON(ctx, "/api/v1/interests/my", accountQuery(seqAccount), &items); err != nil {
		return false, err
	}
	for _, item := range items {
		if item.SeqKeyword == seqKeyword {
			return true, nil
		}
	}
	return false, nil
}

// MyPage returns the logged-in account's profile.
func (c *Client) MyPage(ctx context.Context) (*model.MyPage, error) {
	var page model.MyPage
	if err := c.getJSON(ctx, "/api/v1/mypage", nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// ProfileImageURL resolves a stored profile picture key to a viewable URL.
// The backend answers with either a bare string or a JSON string.
func (c *Client) ProfileImageURL(ctx context.Context, key string) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/user/profile-image", url.Values{"key": {key}}, nil)
	if err != nil {
		return "", err
	}
	_, body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var quoted string
	if json.Unmarshal(body, &quoted) == nil {
		return quoted, nil
	}
	return strings.TrimSpace(string(body)), nil
}

// PresignProfilePicture requests an upload slot for a new profile picture.
func (c *Client) PresignProfilePicture(ctx context.Context, ext, contentType string) (*model.PresignedUpload, error) {
	payload := map[string]string{"ext": ext, "contentType": contentType}
	var upload model.PresignedUpload
	if err := c.sendJSON(ctx, http.MethodPost, "/api/v1/presigned/profilepic", nil, payload, &upload); err != nil {
		return nil, err
	}
	return &upload, nil
}

// SubscriptionStatus returns the account's subscription plan.
func (c *Client) SubscriptionStatus(ctx context.Context, seqAccount int64) (*model.SubscriptionStatus, error) {
	var status model.SubscriptionStatus
	if err := c.getJSON(ctx, "/api/v1/subscriptions/status", accountQuery(seqAccount), &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// AnalyzeBody uploads a full-body photo with its measurements as a
// multipart form and returns the estimated body shape.
func (c *Client) AnalyzeBody(ctx context.Context, in model.BodyAnalysisRequest) (*model.BodyAnalysis, error) {
	const path = "/api/v1/analyze/body"

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := writeBodyAnalysisForm(mw, in); err != nil {
		return nil, fmt.Errorf("encoding %s form: %w", path, err)
	}

	// A bytes.Buffer body gives the request a GetBody, so a reissue can replay it.
	req, err := c.newRequest(ctx, http.MethodPost, path, nil, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	_, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var result model.BodyAnalysis
	if err := decode(path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func writeBodyAnalysisForm(mw *multipart.Writer, in model.BodyAnalysisRequest) error {
	filename := in.Filename
	if filename == "" {
		filename = "body.jpg"
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="imageFile"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := part.Write(in.Image); err != nil {
		return err
	}

	gender := in.Gender
	if gender == "" {
		gender = model.GenderUnknown
	}
	fields := [][2]string{
		{"heightCm", strconv.FormatFloat(in.HeightCm, 'f', -1, 64)},
		{"weightKg", strconv.FormatFloat(in.WeightKg, 'f', -1, 64)},
		{"gender", gender},
		{"seqAccount", strconv.FormatInt(in.SeqAccount, 10)},
	}
	for _, f := range fields {
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return err
		}
	}
	return mw.Close()
}

// ConfirmPayment approves a checkout after the payment provider's success
// redirect.
func (c *Client) ConfirmPayment(ctx context.Context, in model.PaymentConfirmRequest) (*model.PaymentConfirmation, error) {
	var confirmation model.PaymentConfirmation
	if err := c.sendJSON(ctx, http.MethodPost, "/trend/api/v1/payments/confirm", nil, in, &confirmation); err != nil {
		return nil, err
	}
	return &confirmation, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	_, body, err := c.do(req)
	if err != nil {
		return err
	}
	return decode(path, body, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("encoding %s body: %w", path, err)
	}

	req, err := c.newRequest(ctx, method, path, query, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	_, body, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(path, body, out)
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, path, err)
	}
	return req, nil
}

// do sends req and reads the body. Non-2xx statuses become *APIError.
func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, nil, fmt.Errorf("reading %s response: %w", req.URL.Path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(resp.StatusCode, body)
		c.logger.Debug("backend error", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode)
		return resp, nil, apiErr
	}
	return resp, body, nil
}

func decode(path string, body []byte, out any) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func accountQuery(seqAccount int64) url.Values {
	return url.Values{"seqAccount": {strconv.FormatInt(seqAccount, 10)}}
}

func orEmpty(items []model.TrendItem) []model.TrendItem {
	if items == nil {
		return []model.TrendItem{}
	}
	return items
}
