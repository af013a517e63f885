package rpc

import (
	"context"
	"io"
	"net/http"
	"strings"
)

// badRequestSentinel is the exact body the server sends on a 400 response
// to signal that only the WebSocket upgrade handshake is missing — the
// real stream connection should now be attempted.
const badRequestSentinel = "Bad Request\n"

// Preflight issues a single GET against the http(s)-translated form of
// streamURL with the given headers, and classifies the response per
// spec: a 200, or a 400 whose body is exactly badRequestSentinel, are
// both success. Any other registered preflight status with a different
// body fails with the corresponding typed PreflightError; anything else
// fails with PreflightGeneric.
func Preflight(ctx context.Context, streamURL string, headers http.Header) error {
	httpURL := translateToHTTP(streamURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpURL, nil)
	if err != nil {
		return &PreflightError{Kind: PreflightGeneric, Message: err.Error()}
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return &PreflightError{Kind: PreflightGeneric, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &PreflightError{Kind: PreflightGeneric, Status: resp.StatusCode, Message: err.Error()}
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusBadRequest && string(body) == badRequestSentinel:
		return nil
	default:
		return &PreflightError{
			Kind:    preflightKindForStatus(resp.StatusCode),
			Status:  resp.StatusCode,
			Message: string(body),
		}
	}
}

// translateToHTTP rewrites a ws/wss stream URL into the http/https URL the
// preflight probe should hit, leaving any other scheme untouched.
func translateToHTTP(streamURL string) string {
	switch {
	case strings.HasPrefix(streamURL, "wss://"):
		return "https://" + strings.TrimPrefix(streamURL, "wss://")
	case strings.HasPrefix(streamURL, "ws://"):
		return "http://" + strings.TrimPrefix(streamURL, "ws://")
	default:
		return streamURL
	}
}
