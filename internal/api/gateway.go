package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"razgovor/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// Credentials gives read access to the current credential pair.
type Credentials interface {
	Get() (models.CredentialPair, bool)
}

// Refresher produces a pair newer than the one carrying staleAccess.
type Refresher interface {
	Refresh(ctx context.Context, staleAccess string) (models.CredentialPair, error)
}

// Call describes one logical REST call.
type Call struct {
	Method     string
	Path       string
	PathParams map[string]string
	Body       any
	// Result receives the decoded body of a successful response.
	Result *models.Envelope
	// Authenticated calls carry the access token and may be retried once
	// after a refresh.
	Authenticated bool
}

// Gateway issues REST calls against the backend. An authenticated call
// that fails with 401 is retried exactly once with a refreshed pair.
type Gateway struct {
	client    *resty.Client
	creds     Credentials
	refresher Refresher
	timeout   time.Duration
	log       *slog.Logger

	// OnRefreshFailed is called when a refresh triggered by a 401 fails.
	// The call itself still returns the original 401 error.
	OnRefreshFailed func(err error)
}

func NewGateway(baseURL string, creds Credentials, timeout time.Duration, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{log: log})

	return &Gateway{
		client:  client,
		creds:   creds,
		timeout: timeout,
		log:     log,
	}
}

func (g *Gateway) SetRefresher(r Refresher) {
	g.refresher = r
}

// Do issues the call. For authenticated calls a 401 triggers one refresh
// and one retry with the refreshed access token; every other failure is
// returned unchanged as *models.APIError.
func (g *Gateway) Do(ctx context.Context, call Call) error {
	var token string
	if call.Authenticated {
		if pair, ok := g.creds.Get(); ok {
			token = pair.AccessToken
		}
	}

	err := g.issue(ctx, call, token, 0)
	if err == nil || !call.Authenticated || g.refresher == nil || !errors.Is(err, models.ErrAuthExpired) {
		return err
	}

	pair, refreshErr := g.refresher.Refresh(ctx, token)
	if refreshErr != nil {
		g.log.Warn("refresh after 401 failed", "path", call.Path, "error", refreshErr)
		if g.OnRefreshFailed != nil && errors.Is(refreshErr, models.ErrAuthInvalid) {
			g.OnRefreshFailed(refreshErr)
		}
		return err
	}

	return g.issue(ctx, call, pair.AccessToken, 1)
}

func (g *Gateway) issue(ctx context.Context, call Call, token string, attempt int) error {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	requestID := uuid.NewString()
	var result, failure models.Envelope
	req := g.client.R().
		SetContext(ctx).
		SetHeader("X-Request-ID", requestID).
		SetResult(&result).
		SetError(&failure)
	if token != "" {
		req.SetAuthToken(token)
	}
	if len(call.PathParams) > 0 {
		req.SetPathParams(call.PathParams)
	}
	if call.Body != nil {
		req.SetBody(call.Body)
	}

	resp, err := req.Execute(call.Method, call.Path)
	g.log.Debug("api call",
		"method", call.Method,
		"path", call.Path,
		"attempt", attempt,
		"request_id", requestID,
		"status", statusOf(resp),
	)
	if err != nil {
		if status := statusOf(resp); status != 0 {
			return &models.APIError{Kind: models.ErrServer, Status: status, Err: fmt.Errorf("failed to decode response: %w", err)}
		}
		return &models.APIError{Kind: models.ErrNetwork, Err: err}
	}

	status := resp.StatusCode()
	if resp.IsSuccess() {
		if call.Result != nil {
			*call.Result = result
		}
		return nil
	}

	message := failure.Message
	if message == "" {
		message = strings.TrimSpace(string(resp.Body()))
	}
	apiErr := &models.APIError{Status: status, Message: message}
	switch {
	case status == http.StatusUnauthorized && call.Authenticated:
		apiErr.Kind = models.ErrAuthExpired
	case status == http.StatusUnauthorized:
		apiErr.Kind = models.ErrAuthInvalid
	case status >= 500:
		apiErr.Kind = models.ErrServer
	default:
		apiErr.Kind = models.ErrValidation
	}
	return apiErr
}

func statusOf(resp *resty.Response) int {
	if resp == nil || resp.RawResponse == nil {
		return 0
	}
	return resp.StatusCode()
}

// restyLogger routes resty's own diagnostics to slog.
type restyLogger struct {
	log *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) {
	l.log.Error(fmt.Sprintf(format, v...), "component", "resty")
}

func (l restyLogger) Warnf(format string, v ...any) {
	l.log.Warn(fmt.Sprintf(format, v...), "component", "resty")
}

func (l restyLogger) Debugf(format string, v ...any) {
	l.log.Debug(fmt.Sprintf(format, v...), "component", "resty")
}
