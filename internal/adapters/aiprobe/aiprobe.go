package aiprobe

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bkowalski/fleetcore/internal/core/domain"
	"github.com/bkowalski/fleetcore/internal/core/ports"
)

// Prober decides whether an inference backend can take work. Local providers
// get an HTTP health check against their endpoint; for cloud providers the
// presence of the configured credential is the whole check — we do not spend
// a billable request on liveness.
type Prober struct {
	client *http.Client
}

var _ ports.AIProber = (*Prober)(nil)

func NewProber() *Prober {
	return &Prober{client: &http.Client{Timeout: 10 * time.Second}}
}

func (p *Prober) Probe(ctx context.Context, res *domain.AIResource) (domain.AIResourceStatus, time.Duration, error) {
	switch res.Type {
	case domain.AIResourceCloud:
		if res.CredentialEnv == "" || os.Getenv(res.CredentialEnv) == "" {
			return domain.AIResourceOffline, 0, fmt.Errorf("credential %s not set", res.CredentialEnv)
		}
		return domain.AIResourceAvailable, 0, nil
	case domain.AIResourceLocal:
		return p.probeLocal(ctx, res)
	default:
		return domain.AIResourceOffline, 0, fmt.Errorf("unknown resource type %q", res.Type)
	}
}

func (p *Prober) probeLocal(ctx context.Context, res *domain.AIResource) (domain.AIResourceStatus, time.Duration, error) {
	endpoint := strings.TrimRight(res.Endpoint, "/")
	if endpoint == "" {
		return domain.AIResourceOffline, 0, fmt.Errorf("provider %s has no endpoint", res.Provider)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/api/tags", nil)
	if err != nil {
		return domain.AIResourceOffline, 0, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return domain.AIResourceOffline, 0, fmt.Errorf("%s not reachable: %w", res.Provider, err)
	}
	defer resp.Body.Close()
	elapsed := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		return domain.AIResourceOffline, elapsed, fmt.Errorf("%s returned %d", res.Provider, resp.StatusCode)
	}
	return domain.AIResourceAvailable, elapsed, nil
}
