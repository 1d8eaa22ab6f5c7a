package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads a daemon manifest from the provided path.
func Load(path string) (*Document, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}

	f, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	var doc Document
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", absPath, err)
	}

	manifestDir := filepath.Dir(absPath)
	for _, svc := range doc.Services {
		if svc == nil {
			continue
		}
		if svc.Workdir != "" {
			expanded := os.ExpandEnv(svc.Workdir)
			if !filepath.IsAbs(expanded) {
				expanded = filepath.Clean(filepath.Join(manifestDir, expanded))
			}
			svc.Workdir = expanded
		}
		if len(svc.Env) > 0 {
			env := make(map[string]string, len(svc.Env))
			for k, v := range svc.Env {
				env[k] = os.ExpandEnv(v)
			}
			svc.Env = env
		}
	}

	doc.ApplyDefaults()
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", absPath, err)
	}
	return &doc, nil
}
