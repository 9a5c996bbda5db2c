package slackgw

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quailyquaily/livia/internal/inbound"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const reconnectDelay = 2 * time.Second

// Socket keeps a Socket Mode connection alive and hands every envelope to
// the caller after acknowledging it.
type Socket struct {
	http     *http.Client
	baseURL  string
	appToken string
	logger   *slog.Logger
}

type SocketOptions struct {
	AppToken   string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewSocket(opts SocketOptions) *Socket {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Socket{
		http:     httpClient,
		baseURL:  strings.TrimRight(apiURL(opts.BaseURL), "/"),
		appToken: strings.TrimSpace(opts.AppToken),
		logger:   logger,
	}
}

type openConnectionResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	URL   string `json:"url,omitempty"`
}

func (s *Socket) openURL(ctx context.Context) (string, error) {
	if s.appToken == "" {
		return "", fmt.Errorf("slack app token is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/apps.connections.open", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+s.appToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.http.Do(req)
	if err != nil {
		return "", err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return "", readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("slack apps.connections.open http %d", resp.StatusCode)
	}
	var out openConnectionResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if !out.OK {
		code := strings.TrimSpace(out.Error)
		if code == "" {
			code = "unknown_error"
		}
		return "", fmt.Errorf("slack apps.connections.open failed: %s", code)
	}
	url := strings.TrimSpace(out.URL)
	if url == "" {
		return "", fmt.Errorf("slack apps.connections.open returned empty url")
	}
	return url, nil
}

func (s *Socket) connect(ctx context.Context) (*websocket.Conn, error) {
	url, err := s.openURL(ctx)
	if err != nil {
		return nil, err
	}
	dialer := *websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Run connects, consumes and reconnects until ctx ends.
func (s *Socket) Run(ctx context.Context, onEnvelope func(inbound.Envelope) error) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := s.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("slack_socket_connect_error", "error", err.Error())
			if err := sleepWithContext(ctx, reconnectDelay); err != nil {
				return nil
			}
			continue
		}
		s.logger.Info("slack_socket_connected")

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		readErr := Consume(ctx, conn, onEnvelope)
		stop()
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}
		if readErr != nil && !errors.Is(readErr, context.Canceled) {
			s.logger.Warn("slack_socket_read_error", "error", readErr.Error())
		}
	}
}

// Consume reads frames until the connection fails or Slack asks for a
// reconnect. Each envelope is acked before onEnvelope sees it.
func Consume(ctx context.Context, conn *websocket.Conn, onEnvelope func(inbound.Envelope) error) error {
	if conn == nil {
		return fmt.Errorf("slack websocket connection is nil")
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		envelope, err := inbound.DecodeEnvelope(raw)
		if err != nil {
			continue
		}
		if strings.TrimSpace(envelope.EnvelopeID) != "" {
			if err := conn.WriteJSON(map[string]string{"envelope_id": envelope.EnvelopeID}); err != nil {
				return err
			}
		}
		if envelope.Type == "disconnect" {
			return nil
		}
		if onEnvelope == nil {
			continue
		}
		if err := onEnvelope(envelope); err != nil {
			return err
		}
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
