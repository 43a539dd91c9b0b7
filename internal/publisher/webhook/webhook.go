// Package webhook delivers finished runs to an HTTP endpoint, first as a JSON
// preview and then as a multipart CSV upload.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"go.uber.org/zap"
)

const (
	// PreviewSize is the number of records carried by the JSON preview.
	PreviewSize = 10

	defaultJSONTimeout   = 30 * time.Second
	defaultUploadTimeout = 60 * time.Second
	maxErrorBody         = 512
)

// ErrStatus is returned when the endpoint answers with anything but 200.
var ErrStatus = errors.New("webhook: unexpected status")

// Preview is the JSON body announcing a finished run.
type Preview struct {
	Filename      string              `json:"filename"`
	TotalListings int                 `json:"total_listings"`
	Timezone      string              `json:"timezone"`
	Timestamp     string              `json:"timestamp"`
	Data          []map[string]string `json:"data"`
}

// Config configures a Client.
type Config struct {
	URL           string
	JSONTimeout   time.Duration
	UploadTimeout time.Duration
}

// Client posts run results to a single webhook URL.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New builds a Client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook: url is required")
	}
	if cfg.JSONTimeout <= 0 {
		cfg.JSONTimeout = defaultJSONTimeout
	}
	if cfg.UploadTimeout <= 0 {
		cfg.UploadTimeout = defaultUploadTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger.Named("webhook")}, nil
}

// Publish posts payload as JSON. The topic is sent in the X-Harvester-Event
// header so one endpoint can tell run events apart.
func (c *Client) Publish(ctx context.Context, topic string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.JSONTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if topic != "" {
		req.Header.Set("X-Harvester-Event", topic)
	}
	if err := c.do(req); err != nil {
		return "", err
	}
	return c.cfg.URL, nil
}

// SendPreview posts the JSON preview for a finished run.
func (c *Client) SendPreview(ctx context.Context, p Preview) error {
	if p.Data == nil {
		p.Data = []map[string]string{}
	}
	if _, err := c.Publish(ctx, "", p); err != nil {
		return err
	}
	c.logger.Info("preview sent", zap.String("filename", p.Filename), zap.Int("total_listings", p.TotalListings))
	return nil
}

// UploadCSV posts data as the "file" part of a multipart form together with
// the timezone label and timestamp fields.
func (c *Client) UploadCSV(ctx context.Context, filename string, data []byte, timezone string, ts time.Time) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", "text/csv")
	part, err := mw.CreatePart(hdr)
	if err != nil {
		return fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write file part: %w", err)
	}
	if err := mw.WriteField("timezone", timezone); err != nil {
		return fmt.Errorf("write timezone: %w", err)
	}
	if err := mw.WriteField("timestamp", Timestamp(ts)); err != nil {
		return fmt.Errorf("write timestamp: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close multipart: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.UploadTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if err := c.do(req); err != nil {
		return err
	}
	c.logger.Info("csv uploaded", zap.String("filename", filename), zap.Int("bytes", len(data)))
	return nil
}

func (c *Client) do(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w %d: %s", ErrStatus, resp.StatusCode, bytes.TrimSpace(snippet))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Timestamp renders t the way every webhook field expects it.
func Timestamp(t time.Time) string {
	return t.Format("2006-01-02T15:04:05.000000")
}
