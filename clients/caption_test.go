package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPostCue(t *testing.T) {
	var got CaptionPayload
	var gotPath string
	var gotUser, gotPass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewCaptionClient(mustParseURL(t, server.URL), "caster", "hunter2", "mystream")
	err := client.PostCue(context.Background(), "hello world", "en", 2)
	require.NoError(t, err)

	require.Equal(t, "/livevtt/captions", gotPath)
	require.Equal(t, "caster", gotUser)
	require.Equal(t, "hunter2", gotPass)
	require.Equal(t, CaptionPayload{Text: "hello world", Lang: "en", TrackID: 2, StreamName: "mystream"}, got)
}

func TestPostCueNoAuthHeaderWithoutCredentials(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, ok := r.BasicAuth()
		require.False(t, ok)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewCaptionClient(mustParseURL(t, server.URL), "", "", "mystream")
	require.NoError(t, client.PostCue(context.Background(), "text", "en", 1))
}

func TestPostCueClientErrorReported(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad caption", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewCaptionClient(mustParseURL(t, server.URL), "", "", "mystream")
	err := client.PostCue(context.Background(), "text", "en", 1)
	require.Error(t, err)
	require.Contains(t, err.Error(), "400")
}
