// Package photos polls the producer's photo listing and reports new
// captures.
package photos

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Viewer/internal/core"
	"github.com/dkeye/Viewer/internal/domain"
)

const maxListingBytes = 1 << 20

type listing struct {
	Original  []string `json:"original"`
	Processed []string `json:"processed"`
}

// Poller tracks the newest photo of each kind. The first url seen for a
// kind is a baseline and is not reported.
type Poller struct {
	url      string
	client   *http.Client
	interval time.Duration
	observer core.PhotoObserver

	mu     sync.Mutex
	latest map[domain.PhotoKind]string
}

func NewPoller(baseURL, path string, interval time.Duration, client *http.Client, observer core.PhotoObserver) *Poller {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Poller{
		url:      strings.TrimRight(baseURL, "/") + path,
		client:   client,
		interval: interval,
		observer: observer,
		latest:   make(map[domain.PhotoKind]string),
	}
}

// Run polls until ctx is done. A zero interval disables polling.
func (p *Poller) Run(ctx context.Context) {
	if p.interval <= 0 {
		log.Info().Str("module", "photos").Msg("photo polling disabled")
		return
	}
	log.Info().Str("module", "photos").Str("url", p.url).Dur("interval", p.interval).Msg("photo polling started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "photos").Msg("photo polling stopped")
			return
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
				log.Debug().Err(err).Str("module", "photos").Msg("poll failed")
			}
		}
	}
}

// Poll fetches the listing once and reports changed urls.
func (p *Poller) Poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("get photo listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("get photo listing: status %d", resp.StatusCode)
	}
	var l listing
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxListingBytes)).Decode(&l); err != nil {
		return fmt.Errorf("decode photo listing: %w", err)
	}

	p.observe(domain.PhotoOriginal, l.Original)
	p.observe(domain.PhotoProcessed, l.Processed)
	return nil
}

func (p *Poller) observe(kind domain.PhotoKind, urls []string) {
	if len(urls) == 0 || urls[0] == "" {
		return
	}
	url := urls[0]

	p.mu.Lock()
	prev, seen := p.latest[kind]
	if seen && prev == url {
		p.mu.Unlock()
		return
	}
	p.latest[kind] = url
	p.mu.Unlock()

	if !seen {
		log.Debug().Str("module", "photos").Str("kind", string(kind)).Str("url", url).Msg("photo baseline")
		return
	}
	log.Info().Str("module", "photos").Str("kind", string(kind)).Str("url", url).Msg("new photo")
	if p.observer != nil {
		p.observer.OnPhoto(kind, url)
	}
}

// Latest returns the newest url per kind, baselines included.
func (p *Poller) Latest() map[domain.PhotoKind]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[domain.PhotoKind]string, len(p.latest))
	for k, v := range p.latest {
		out[k] = v
	}
	return out
}
