package xai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearch_ChatCompletionsPayloadAndAuth(t *testing.T) {
	var gotBody map[string]any
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("x-request-id", "req-42")
		w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/v1/chat/completions", "secret", WithRateLimit(100, 100))
	result, err := client.Search(context.Background(), SearchRequest{
		Prompt: "find the tagline",
		SearchParameters: &SearchParameters{
			Sources: []Source{
				{Type: "web", ExcludedWebsites: []string{"amazon.com"}},
				{Type: "news", ExcludedWebsites: []string{"amazon.com"}},
				{Type: "x"},
			},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "hello", result.Text)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "req-42", result.Diagnostics.UpstreamRequestID)

	// Search mode is always forced on.
	params := gotBody["search_parameters"].(map[string]any)
	assert.Equal(t, "on", params["mode"])
	sources := params["sources"].([]any)
	assert.Len(t, sources, 3)
	assert.Equal(t, 0.2, gotBody["temperature"])
	assert.Equal(t, false, gotBody["stream"])
}

func TestSearch_ResponsesEndpointUsesTools(t *testing.T) {
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.Write([]byte(`{"output_text":"tool answer"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/v1/responses", "secret", WithRateLimit(100, 100))
	result, err := client.Search(context.Background(), SearchRequest{
		Prompt:   "find reviews",
		UseTools: true,
		SearchParameters: &SearchParameters{
			ExcludedDomains: []string{"a.com", "b.com", "c.com", "d.com", "e.com", "f.com", "g.com"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "tool answer", result.Text)

	tools := gotBody["tools"].([]any)
	require.Len(t, tools, 1)
	tool := tools[0].(map[string]any)
	assert.Equal(t, "web_search", tool["type"])
	// The backend caps excluded_domains at 5.
	filters := tool["filters"].(map[string]any)
	assert.Len(t, filters["excluded_domains"], 5)
	// Chat-completions fields never leak into /responses payloads.
	assert.NotContains(t, gotBody, "search_parameters")
	assert.NotContains(t, gotBody, "messages")
}

func TestSearch_UpstreamHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", WithRateLimit(100, 100))
	_, err := client.Search(context.Background(), SearchRequest{Prompt: "x"})

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "upstream_http_502", ue.Code)
	assert.Equal(t, 502, ue.StatusCode)
	assert.True(t, ue.Retryable())
}

func TestSearch_RateLimitedCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", WithRateLimit(100, 100))
	_, err := client.Search(context.Background(), SearchRequest{Prompt: "x"})

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, CodeUpstreamRateLimited, ue.Code)
	assert.True(t, ue.Retryable())
}

func TestSearch_TimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", WithRateLimit(100, 100))
	_, err := client.Search(context.Background(), SearchRequest{
		Prompt:  "x",
		Timeout: 1100 * time.Millisecond,
	})

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, CodeUpstreamTimeout, ue.Code)
	assert.True(t, ue.Retryable())
}

func TestSearch_UnreachableClassified(t *testing.T) {
	// Closed port: dial fails immediately.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	client := NewClient(endpoint, "secret", WithRateLimit(100, 100))
	_, err := client.Search(context.Background(), SearchRequest{Prompt: "x"})

	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, CodeUpstreamUnreachable, ue.Code)
}

func TestSearch_AzureHostUsesFunctionsKey(t *testing.T) {
	assert.True(t, isAzureWebsitesURL("https://myapp.azurewebsites.net/api/xai"))
	assert.False(t, isAzureWebsitesURL("https://api.x.ai/v1/chat/completions"))
	assert.False(t, isAzureWebsitesURL("not a url"))
}

func TestSearch_MissingConfig(t *testing.T) {
	client := NewClient("", "")
	_, err := client.Search(context.Background(), SearchRequest{Prompt: "x"})
	require.Error(t, err)

	var ue *UpstreamError
	assert.False(t, errors.As(err, &ue), "config errors are not upstream errors")
}
