package model

// Group is a named, flat set of service ids used for bulk operations
type Group struct {
	ID        string   `json:"id" yaml:"id" toml:"id"`
	Name      string   `json:"name" yaml:"name" toml:"name"`
	Services  []string `json:"services" yaml:"services" toml:"services"`
	AutoStart bool     `json:"autoStart" yaml:"autoStart" toml:"autoStart"`
}

// Has reports whether the group references the given service id.
func (g Group) Has(serviceID string) bool {
	for _, id := range g.Services {
		if id == serviceID {
			return true
		}
	}
	return false
}

// GroupView is a group with the status of each member
type GroupView struct {
	Group
	Members []ServiceView `json:"members"`
	Running int           `json:"running"`
}
