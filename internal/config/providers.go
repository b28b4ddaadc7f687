package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"payments-gateway/internal/domain"
)

type providersFile struct {
	Providers []*domain.Provider `yaml:"providers"`
}

// LoadProviders reads provider definitions from a YAML file. ${VAR} references
// are expanded from the environment so credentials can stay out of the file.
func LoadProviders(path string) ([]*domain.Provider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}

	var file providersFile
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(raw))), &file); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}

	seen := make(map[string]bool)
	for i, p := range file.Providers {
		p.Code = strings.ToUpper(strings.TrimSpace(p.Code))
		if p.Code == "" {
			return nil, fmt.Errorf("provider %d: code is required", i)
		}
		if p.BaseURL == "" {
			return nil, fmt.Errorf("provider %s: base_url is required", p.Code)
		}
		if p.Active && seen[p.Code] {
			return nil, fmt.Errorf("provider %s: more than one active definition", p.Code)
		}
		if p.Active {
			seen[p.Code] = true
		}
		if p.ReferencePrefix == "" {
			p.ReferencePrefix = p.Code
		}
		if p.Currency == "" {
			p.Currency = "ZMW"
		}
	}
	return file.Providers, nil
}
