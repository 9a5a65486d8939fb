package server

import (
	"net/http/httptest"
	"net/url"
	"testing"
)

// TestResolveAppOptions verifies namespace resolution from handshake
// metadata: the options JSON object, the raw appName fallback, and the
// unscoped degraded mode.
func TestResolveAppOptions(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		expected string
		title    string
	}{
		{
			name:     "options object",
			query:    "options=" + url.QueryEscape(`{"appName":"chatapp","appTitle":"Chat App"}`),
			expected: "chatapp",
			title:    "Chat App",
		},
		{
			name:     "appName fallback",
			query:    "appName=chatapp",
			expected: "chatapp",
		},
		{
			name:     "unparsable options with appName fallback",
			query:    "options=" + url.QueryEscape(`{broken`) + "&appName=chatapp",
			expected: "chatapp",
		},
		{
			name:     "no identifier",
			query:    "",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws?"+tt.query, nil)
			opts := resolveAppOptions(req)
			if opts.AppName != tt.expected {
				t.Errorf("Expected appName %q, got %q", tt.expected, opts.AppName)
			}
			if tt.title != "" && opts.AppTitle != tt.title {
				t.Errorf("Expected appTitle %q, got %q", tt.title, opts.AppTitle)
			}
		})
	}
}

// TestWebSocketHandlerRejectsNonGet verifies the method gate on the upgrade
// endpoint.
func TestWebSocketHandlerRejectsNonGet(t *testing.T) {
	req := httptest.NewRequest("POST", "/ws", nil)
	rr := httptest.NewRecorder()

	WebSocketHandler(rr, req)

	if rr.Code != 405 {
		t.Errorf("Expected 405 for POST, got %d", rr.Code)
	}
}
