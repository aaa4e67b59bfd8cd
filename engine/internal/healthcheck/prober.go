// Package healthcheck probes the frontend of monitored installations.
package healthcheck

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/pilot-net/hamon/engine/internal/metrics"
	"github.com/pilot-net/hamon/pkg/types"
)

const (
	// MaxTimeout caps the per-probe timeout.
	MaxTimeout = 10 * time.Second

	// DefaultContentMarker identifies a Home Assistant frontend.
	DefaultContentMarker = "Home Assistant"

	maxBodyBytes = 1 << 20
)

// Config holds prober settings.
type Config struct {
	Timeout       time.Duration
	ContentMarker string
	UserAgent     string
}

// DefaultConfig returns the default prober settings.
func DefaultConfig() Config {
	return Config{
		Timeout:       MaxTimeout,
		ContentMarker: DefaultContentMarker,
		UserAgent:     "hamon-healthcheck",
	}
}

// Prober issues frontend health checks.
type Prober struct {
	client *http.Client
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// NewProber creates a prober. The timeout is clamped to MaxTimeout.
func NewProber(config Config, logger *slog.Logger) *Prober {
	if config.Timeout <= 0 || config.Timeout > MaxTimeout {
		config.Timeout = MaxTimeout
	}
	if config.ContentMarker == "" {
		config.ContentMarker = DefaultContentMarker
	}
	return &Prober{
		client: &http.Client{Timeout: config.Timeout},
		config: config,
		logger: logger.With("component", "prober"),
		now:    time.Now,
	}
}

// Probe fetches the installation's instance URL. It never fails: transport
// errors and error statuses yield an unhealthy ping.
func (p *Prober) Probe(ctx context.Context, inst *types.Installation) *types.InstallationPing {
	start := p.now()
	ping := &types.InstallationPing{
		InstallationID: inst.ID,
		StartTimestamp: start,
	}
	defer func() {
		metrics.ObserveHealthCheck(ping.IsHealthy, time.Duration(ping.ResponseTimeMilliseconds)*time.Millisecond)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inst.InstanceURL, nil)
	if err != nil {
		p.logger.Warn("invalid instance url", "installation_id", inst.ID, "url", inst.InstanceURL, "error", err)
		return ping
	}
	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		ping.ResponseTimeMilliseconds = p.now().Sub(start).Milliseconds()
		p.logger.Debug("probe failed", "installation_id", inst.ID, "error", err)
		return ping
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	ping.ResponseTimeMilliseconds = p.now().Sub(start).Milliseconds()
	ping.IsHealthy = resp.StatusCode < http.StatusBadRequest
	if err != nil {
		p.logger.Debug("reading probe body failed", "installation_id", inst.ID, "error", err)
		return ping
	}
	ping.HasHomeAssistantContent = bytes.Contains(body, []byte(p.config.ContentMarker))
	return ping
}
