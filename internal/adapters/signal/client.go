// Package signal submits viewer offers to the producer's HTTP signaling
// endpoint.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Viewer/internal/core"
)

const (
	DefaultPath    = "/viewonly"
	maxAnswerBytes = 1 << 20
)

type offerPayload struct {
	SDP            string `json:"sdp"`
	Type           string `json:"type"`
	VideoTransform string `json:"video_transform"`
	Channel        string `json:"channel,omitempty"`
}

type answerPayload struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// Client is a core.Signaler over one POST per offer.
type Client struct {
	url    string
	client *http.Client
}

func NewClient(baseURL, path string, client *http.Client) *Client {
	if path == "" {
		path = DefaultPath
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{url: strings.TrimRight(baseURL, "/") + path, client: client}
}

func (c *Client) URL() string { return c.url }

// SubmitOffer posts offer and decodes the answer. A non-2xx status is a
// signaling error; a body that is not a usable answer wraps
// core.ErrMalformedAnswer.
func (c *Client) SubmitOffer(ctx context.Context, offer core.Offer) (webrtc.SessionDescription, error) {
	body, err := json.Marshal(offerPayload{
		SDP:            offer.SDP,
		Type:           offer.Type,
		VideoTransform: offer.VideoTransform,
		Channel:        offer.Channel,
	})
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("marshal offer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Debug().Str("module", "signal").Str("url", c.url).Int("sdp_bytes", len(offer.SDP)).Msg("submitting offer")
	resp, err := c.client.Do(req)
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("post offer: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerBytes))
	if err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("read answer: %w", err)
	}
	if resp.StatusCode/100 != 2 {
		return webrtc.SessionDescription{}, fmt.Errorf("signaling status %d: %s", resp.StatusCode, snippet(raw))
	}

	var a answerPayload
	if err := json.Unmarshal(raw, &a); err != nil {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: %v", core.ErrMalformedAnswer, err)
	}
	if a.SDP == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: empty sdp", core.ErrMalformedAnswer)
	}
	if t := webrtc.NewSDPType(a.Type); t != webrtc.SDPTypeAnswer {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: type %q", core.ErrMalformedAnswer, a.Type)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: a.SDP}, nil
}

func snippet(b []byte) string {
	const n = 128
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
