package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
)

// SSEDialer opens streamed searches as server-sent events over HTTP GET
type SSEDialer struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewSSEDialer creates an SSE dialer for the given stream endpoint
func NewSSEDialer(streamURL, token string, logger *slog.Logger) (*SSEDialer, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &SSEDialer{
		url:   streamURL,
		token: token,
		httpClient: &http.Client{
			Timeout: 0, // No timeout for SSE streams
		},
		logger: logger,
	}, nil
}

// Dial sends the stream request and returns once the server answered 200
func (d *SSEDialer) Dial(ctx context.Context, req Request) (Conn, error) {
	target, err := buildURL(d.url, req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header = buildHeader(d.token, req)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("HTTP error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	d.logger.Debug("opened SSE stream", "url", d.url, "request_id", req.RequestID, "follow_up", req.Continuation != "")
	return &sseConn{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

type sseConn struct {
	body   io.ReadCloser
	reader *bufio.Reader

	closeOnce sync.Once
	closeErr  error
}

// Next returns the data of the next event. Multi-line data fields are joined with "\n".
func (c *sseConn) Next() ([]byte, error) {
	var data []string
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && len(data) > 0 {
				return []byte(strings.Join(data, "\n")), nil
			}
			return nil, err
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(data) > 0 {
				return []byte(strings.Join(data, "\n")), nil
			}
			continue
		}

		// comments, event names, ids and retry hints carry no payload
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		value := strings.TrimPrefix(line, "data:")
		value = strings.TrimPrefix(value, " ")
		data = append(data, value)
	}
}

func (c *sseConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.body.Close()
	})
	return c.closeErr
}
