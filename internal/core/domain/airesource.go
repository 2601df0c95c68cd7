package domain

// AIResourceType distinguishes locally hosted inference from cloud APIs.
type AIResourceType string

const (
	AIResourceLocal AIResourceType = "local"
	AIResourceCloud AIResourceType = "cloud"
)

type AIResourceStatus string

const (
	AIResourceAvailable AIResourceStatus = "available"
	AIResourceBusy      AIResourceStatus = "busy"
	AIResourceOffline   AIResourceStatus = "offline"
)

// AIResource is a capability-tagged inference backend the selector can place
// work on. Priority ranks resources within a capability; CostPerRequest is
// informational.
type AIResource struct {
	Provider       string           `yaml:"provider" json:"provider"`
	Type           AIResourceType   `yaml:"type" json:"type"`
	Status         AIResourceStatus `yaml:"status" json:"status"`
	Capabilities   []string         `yaml:"capabilities" json:"capabilities"`
	Priority       int              `yaml:"priority" json:"priority"`
	LatencyMs      int64            `yaml:"-" json:"latency_ms"`
	CostPerRequest float64          `yaml:"cost_per_request" json:"cost_per_request"`

	// Endpoint is the health-check target for local providers; CredentialEnv
	// names the environment variable whose presence marks a cloud provider
	// as configured.
	Endpoint      string `yaml:"endpoint" json:"endpoint,omitempty"`
	CredentialEnv string `yaml:"credential_env" json:"-"`
}

// HasCapability reports whether the resource advertises the capability.
func (r *AIResource) HasCapability(capability string) bool {
	for _, c := range r.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
