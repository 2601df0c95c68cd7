package domain

// CapabilitySpec declares one capability a node type provides and how
// strongly a node of that type should be preferred for it.
type CapabilitySpec struct {
	Name     string `json:"name"`
	Priority int    `json:"priority"`
}

// CapabilityCatalog is the static per-node-type capability list. It is a
// separate source of truth from the capability routing table: the catalog
// says what a node can do, the table says where a capability is sent.
type CapabilityCatalog map[NodeType][]CapabilitySpec

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() CapabilityCatalog {
	return CapabilityCatalog{
		NodeTypeLinux: {
			{Name: "docker", Priority: 10},
			{Name: "deploy", Priority: 10},
			{Name: "git", Priority: 8},
			{Name: "vm_control", Priority: 6},
			{Name: "shell", Priority: 5},
		},
		NodeTypeWindows: {
			{Name: "ai_generate", Priority: 10},
			{Name: "shell", Priority: 4},
			{Name: "git", Priority: 4},
		},
	}
}

// CapabilitiesFor returns the ordered capability names for a node type.
func (c CapabilityCatalog) CapabilitiesFor(t NodeType) []string {
	specs := c[t]
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name)
	}
	return names
}

// PriorityFor returns the declared priority of a capability for a node type,
// or zero when the type does not declare it.
func (c CapabilityCatalog) PriorityFor(t NodeType, capability string) int {
	for _, s := range c[t] {
		if s.Name == capability {
			return s.Priority
		}
	}
	return 0
}
