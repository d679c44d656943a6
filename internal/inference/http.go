package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fortitwin/interviewd/internal/session"
)

const defaultTimeout = 60 * time.Second

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Messages []wireMessage `json:"messages"`
}

// HTTPClient forwards transcripts to an external text-generation endpoint.
// The endpoint answers either with a single JSON object or with an
// SSE/NDJSON stream whose fragments are assembled into one reply.
type HTTPClient struct {
	url     string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPClient{
		url:     strings.TrimSpace(url),
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) GenerateReply(ctx context.Context, transcript []session.Turn) (string, error) {
	req := wireRequest{Messages: make([]wireMessage, 0, len(transcript))}
	for _, turn := range transcript {
		req.Messages = append(req.Messages, wireMessage{Role: turn.Role, Content: turn.Content})
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("inference http status %d: %s", res.StatusCode, string(body))
	}

	ct := strings.ToLower(res.Header.Get("Content-Type"))
	if strings.Contains(ct, "text/event-stream") || strings.Contains(ct, "application/x-ndjson") {
		text, err := consumeStreaming(res.Body)
		if err != nil {
			if isTimeout(ctx, err) {
				return "", fmt.Errorf("%w: %v", ErrTimeout, err)
			}
			return "", err
		}
		return nonEmptyReply(text)
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return "", fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return "", fmt.Errorf("read response: %w", err)
	}

	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		// Plain-text endpoints are acceptable; treat the body as the reply.
		return nonEmptyReply(strings.TrimSpace(string(body)))
	}
	return nonEmptyReply(extractText(obj))
}

// nonEmptyReply rejects responses that decoded to nothing, such as a
// well-formed JSON body in a shape extractText does not recognize. An
// empty assistant turn must never reach the transcript.
func nonEmptyReply(text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", errors.New("inference response contained no reply text")
	}
	return text, nil
}

// consumeStreaming assembles SSE or NDJSON fragments into the final
// reply. Only the assembled text becomes a transcript turn.
func consumeStreaming(body io.Reader) (string, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var out strings.Builder
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "data: [DONE]" {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}

		delta := line
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err == nil {
			delta = extractText(obj)
		}
		out.WriteString(delta)
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("stream read: %w", err)
	}
	return out.String(), nil
}

func extractText(obj map[string]any) string {
	for _, k := range []string{"content", "text", "delta", "output", "message", "reply"} {
		switch v := obj[k].(type) {
		case string:
			return v
		case map[string]any:
			if s := extractText(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
