package email

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/devbattle/internal/config"
	"github.com/devbattle/internal/domain"
	"github.com/valyala/fasthttp"
)

// ResendSender delivers result emails through the Resend HTTP API
type ResendSender struct {
	apiKey      string
	fromEmail   string
	baseURL     string
	frontendURL string
	timeout     time.Duration
	client      *fasthttp.Client
	logger      *slog.Logger
}

type emailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// NewResendSender creates a Resend-backed sender
func NewResendSender(cfg *config.EmailConfig, logger *slog.Logger) *ResendSender {
	return &ResendSender{
		apiKey:      cfg.APIKey,
		fromEmail:   cfg.From,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		frontendURL: strings.TrimRight(cfg.FrontendURL, "/"),
		timeout:     cfg.Timeout,
		client: &fasthttp.Client{
			MaxConnsPerHost:     16,
			MaxIdleConnDuration: 1 * time.Minute,
		},
		logger: logger,
	}
}

// SendEmail posts one HTML email
func (s *ResendSender) SendEmail(ctx context.Context, to, subject, html string) error {
	body, err := json.Marshal(emailRequest{
		From:    s.fromEmail,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
	})
	if err != nil {
		return fmt.Errorf("marshaling email request: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(s.baseURL + "/emails")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.SetBody(body)

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}

	if status := resp.StatusCode(); status != fasthttp.StatusOK && status != fasthttp.StatusCreated {
		s.logger.Error("email API error", "status", status, "body", string(resp.Body()))
		return fmt.Errorf("email API returned status %d", status)
	}

	s.logger.Debug("email sent", "to", to, "subject", subject)
	return nil
}

// SendBattleResult renders and sends one participant's result email
func (s *ResendSender) SendBattleResult(ctx context.Context, to string, n domain.BattleNotification) error {
	subject, html, err := RenderBattleResult(n, s.frontendURL)
	if err != nil {
		return err
	}
	return s.SendEmail(ctx, to, subject, html)
}
