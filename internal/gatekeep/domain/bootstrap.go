package domain

import "github.com/aussiebroadwan/gatekeep/pkg/condx"

// SeedData is the initial configuration loaded into an empty store.
type SeedData struct {
	Roles       []SeedRole       `yaml:"roles"`
	Members     []SeedMember     `yaml:"members"`
	Assignments []SeedAssignment `yaml:"assignments"`
	Policies    []SeedPolicy     `yaml:"policies"`
}

// SeedRole names its parents by role name rather than id since ids are
// minted while seeding.
type SeedRole struct {
	Name        string       `yaml:"name"`
	WorkspaceID string       `yaml:"workspace"`
	Description string       `yaml:"description"`
	Permissions []Permission `yaml:"permissions"`
	Inherits    []string     `yaml:"inherits"`
}

type SeedMember struct {
	WorkspaceID string         `yaml:"workspace"`
	UserID      string         `yaml:"user"`
	Attributes  map[string]any `yaml:"attributes"`
}

type SeedAssignment struct {
	UserID      string      `yaml:"user"`
	Role        string      `yaml:"role"`
	WorkspaceID string      `yaml:"workspace"`
	Conditions  *condx.Node `yaml:"conditions"`
}

type SeedPolicy struct {
	Name        string   `yaml:"name"`
	WorkspaceID string   `yaml:"workspace"`
	Description string   `yaml:"description"`
	Timezone    string   `yaml:"timezone"`
	Resources   []string `yaml:"resources"`
	Actions     []string `yaml:"actions"`
	Rules       []Rule   `yaml:"rules"`
}
