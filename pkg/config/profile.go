package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/archivekeep/funcadmin/pkg/contracts"
)

// Profile describes the tenants served by a deployment and the referential
// data owned by other services that contracts point to.
type Profile struct {
	Tenants []TenantProfile `yaml:"tenants" json:"tenants"`
}

// TenantProfile lists, for one tenant, the collections whose identifiers are
// supplied by callers (slave mode) and the known external identifiers.
type TenantProfile struct {
	ID                int      `yaml:"id" json:"id"`
	Slave             []string `yaml:"slave,omitempty" json:"slave,omitempty"`
	Agencies          []string `yaml:"agencies,omitempty" json:"agencies,omitempty"`
	Units             []string `yaml:"units,omitempty" json:"units,omitempty"`
	ArchiveProfiles   []string `yaml:"archive_profiles,omitempty" json:"archive_profiles,omitempty"`
	StorageStrategies []string `yaml:"storage_strategies,omitempty" json:"storage_strategies,omitempty"`
}

// LoadProfile parses a tenant profile YAML file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", path, err)
	}
	return ParseProfile(data)
}

func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	seen := map[int]bool{}
	for _, t := range p.Tenants {
		if seen[t.ID] {
			return nil, fmt.Errorf("parse profile: tenant %d listed twice", t.ID)
		}
		seen[t.ID] = true
		for _, name := range t.Slave {
			if _, err := contracts.ParseCollection(name); err != nil {
				return nil, fmt.Errorf("parse profile: tenant %d: %w", t.ID, err)
			}
		}
	}
	return &p, nil
}

// SlaveCollections maps each tenant to its slave-mode collections.
func (p *Profile) SlaveCollections() map[int][]contracts.Collection {
	out := map[int][]contracts.Collection{}
	for _, t := range p.Tenants {
		for _, name := range t.Slave {
			coll, _ := contracts.ParseCollection(name)
			out[t.ID] = append(out[t.ID], coll)
		}
	}
	return out
}

func (p *Profile) Agencies() map[int][]string {
	return p.collect(func(t TenantProfile) []string { return t.Agencies })
}

func (p *Profile) Units() map[int][]string {
	return p.collect(func(t TenantProfile) []string { return t.Units })
}

func (p *Profile) ArchiveProfiles() map[int][]string {
	return p.collect(func(t TenantProfile) []string { return t.ArchiveProfiles })
}

func (p *Profile) StorageStrategies() map[int][]string {
	return p.collect(func(t TenantProfile) []string { return t.StorageStrategies })
}

func (p *Profile) collect(field func(TenantProfile) []string) map[int][]string {
	out := make(map[int][]string, len(p.Tenants))
	for _, t := range p.Tenants {
		out[t.ID] = append(out[t.ID], field(t)...)
	}
	return out
}
