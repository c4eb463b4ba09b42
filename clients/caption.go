package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/yidakra/livevtt-sub000/log"
)

const captionPostTimeout = 10 * time.Second

// CaptionPayload is the JSON body accepted by the streaming server's
// captioning endpoint
type CaptionPayload struct {
	Text       string `json:"text"`
	Lang       string `json:"lang"`
	TrackID    int    `json:"trackid"`
	StreamName string `json:"streamname"`
}

// CaptionClient posts cues to the external captioning endpoint out-of-band.
// Dispatch is best-effort: a failed POST is logged per cue and never affects
// the pipeline.
type CaptionClient struct {
	httpClient *retryablehttp.Client
	endpoint   string
	username   string
	password   string
	streamName string
}

func NewCaptionClient(baseURL *url.URL, username, password, streamName string) *CaptionClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 1
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 1 * time.Second
	client.HTTPClient = &http.Client{
		Timeout: captionPostTimeout,
	}
	client.Logger = log.NewRetryableHTTPLogger()

	return &CaptionClient{
		httpClient: client,
		endpoint:   baseURL.JoinPath("livevtt", "captions").String(),
		username:   username,
		password:   password,
		streamName: streamName,
	}
}

// PostCue sends one cue to the captioning endpoint. Non-2xx responses are
// returned as errors for the caller to log.
func (c *CaptionClient) PostCue(ctx context.Context, text, lang string, trackID int) error {
	body, err := json.Marshal(CaptionPayload{
		Text:       text,
		Lang:       lang,
		TrackID:    trackID,
		StreamName: c.streamName,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal caption payload: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build caption request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post caption to %q: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("caption endpoint returned %d", resp.StatusCode)
	}
	return nil
}
