package runbooks

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Link is one named runbook or dashboard URL.
type Link struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Service holds the operational links registered for one service label.
type Service struct {
	Runbooks   []Link `yaml:"runbooks"`
	Dashboards []Link `yaml:"dashboards"`
}

// Registry maps service labels to their runbooks and dashboards, loaded
// from a YAML file maintained by the on-call team.
type Registry struct {
	services map[string]Service
}

type registryFile struct {
	Services map[string]Service `yaml:"services"`
}

// Load reads the service registry. An empty path or a missing file yields
// an empty registry; notifications simply carry no links.
func Load(path string) (*Registry, error) {
	registry := &Registry{services: make(map[string]Service)}
	if path == "" {
		return registry, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return registry, nil
		}
		return nil, fmt.Errorf("read service registry: %w", err)
	}

	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse service registry: %w", err)
	}
	if file.Services != nil {
		registry.services = file.Services
	}
	return registry, nil
}

// Lookup returns the links registered for a service label.
func (r *Registry) Lookup(service string) (Service, bool) {
	if r == nil || service == "" {
		return Service{}, false
	}
	svc, ok := r.services[service]
	return svc, ok
}
