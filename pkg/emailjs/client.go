package emailjs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"offlinekit/pkg/constants"

	"github.com/sirupsen/logrus"
)

// Client delivers contact form submissions through the EmailJS REST API
type Client interface {
	Send(ctx context.Context, fields map[string]string) error
}

// Config holds the EmailJS account identifiers
type Config struct {
	BaseURL     string
	ServiceID   string
	TemplateID  string
	PublicKey   string
	AccessToken string
}

type EmailJSClient struct {
	config Config
	client *http.Client
	logger *logrus.Logger
}

func NewClient(config Config, httpClient *http.Client) *EmailJSClient {
	return NewClientWithLogger(config, httpClient, nil)
}

func NewClientWithLogger(config Config, httpClient *http.Client, logger *logrus.Logger) *EmailJSClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.DefaultEmailJSTimeoutSec * time.Second}
	}

	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	if config.BaseURL == "" {
		config.BaseURL = constants.DefaultEmailJSBaseURL
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")

	return &EmailJSClient{
		config: config,
		client: httpClient,
		logger: logger,
	}
}

// Send posts the form fields as template parameters. Any transport failure or
// non-2xx status is returned as an error; the caller decides whether to queue.
func (c *EmailJSClient) Send(ctx context.Context, fields map[string]string) error {
	payload := SendRequest{
		ServiceID:      c.config.ServiceID,
		TemplateID:     c.config.TemplateID,
		UserID:         c.config.PublicKey,
		AccessToken:    c.config.AccessToken,
		TemplateParams: fields,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.config.BaseURL + constants.EmailJSSendPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.WithFields(logrus.Fields{
		"endpoint":    endpoint,
		"template_id": c.config.TemplateID,
		"fields":      len(fields),
	}).Debug("Sending EmailJS request")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, constants.MaxErrorBodyBytes))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, constants.MaxErrorBodyBytes))
	return nil
}
