package domain

import (
	"net"
	"strconv"
	"time"
)

// NodeID identifies a registered cluster node
type NodeID string

type NodeType string

const (
	NodeTypeLinux   NodeType = "linux"
	NodeTypeWindows NodeType = "windows"
)

type NodeStatus string

const (
	NodeStatusOnline   NodeStatus = "online"
	NodeStatusOffline  NodeStatus = "offline"
	NodeStatusDegraded NodeStatus = "degraded"
	NodeStatusSleeping NodeStatus = "sleeping"
	NodeStatusUnknown  NodeStatus = "unknown"
)

// NodeDescriptor is the raw, read-only record the external directory hands
// out for a machine. Everything the transports need to reach the host lives
// here: SSH user for Linux nodes, agent port and token for Windows nodes,
// MAC address and relay for wake-on-LAN.
type NodeDescriptor struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Type        string `yaml:"type" json:"type"`
	Host        string `yaml:"host" json:"host"`
	Port        int    `yaml:"port" json:"port"`
	AgentPort   int    `yaml:"agent_port" json:"agent_port,omitempty"`
	SupportsWol bool   `yaml:"supports_wol" json:"supports_wol"`
	MacAddress  string `yaml:"mac_address" json:"mac_address,omitempty"`
	WolRelay    string `yaml:"wol_relay" json:"wol_relay,omitempty"`
	DeployPath  string `yaml:"deploy_path" json:"deploy_path,omitempty"`
	AgentToken  string `yaml:"agent_token" json:"-"`
	User        string `yaml:"user" json:"user,omitempty"`
}

// ClusterNode is a registered machine. It is built once at registration;
// afterwards only Status, LatencyMs and LastSeen mutate, and only the node
// registry writes them. Status is derived exclusively from timed reachability
// probes — never assumed. Sleeping is only legal when SupportsWol.
type ClusterNode struct {
	ID           NodeID         `json:"id"`
	Name         string         `json:"name"`
	Type         NodeType       `json:"type"`
	Status       NodeStatus     `json:"status"`
	Host         string         `json:"host"`
	Port         int            `json:"port"`
	Capabilities []string       `json:"capabilities"`
	LastSeen     *time.Time     `json:"last_seen,omitempty"`
	LatencyMs    int64          `json:"latency_ms"`
	SupportsWol  bool           `json:"supports_wol"`
	Config       NodeDescriptor `json:"-"`
}

// Addr returns the probe target for the node's primary service port.
func (n *ClusterNode) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// NodeAction names an operation that can be executed against a node. The
// executor maps (action, node type) pairs to concrete transport operations as
// a closed set: a pair outside the mapping is an error, not a passthrough.
type NodeAction string

const (
	ActionExecuteCommand NodeAction = "execute_command"
	ActionDockerAction   NodeAction = "docker_action"
	ActionDeployService  NodeAction = "deploy_service"
	ActionRestartService NodeAction = "restart_service"
	ActionGitPull        NodeAction = "git_pull"
	ActionCheckStatus    NodeAction = "check_status"
	ActionVMControl      NodeAction = "vm_control"
	ActionAIGenerate     NodeAction = "ai_generate"
	ActionWake           NodeAction = "wake"
)
