// Package manifest provides YAML manifest parsing for scout resources.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klubi/scout/pkg/apis/v1alpha1"
	"gopkg.in/yaml.v3"
)

// ParseFile reads a YAML file at the given path and parses it into
// ScanProfiles. Multi-document YAML (separated by ---) is supported.
func ParseFile(path string) ([]*v1alpha1.ScanProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest file %s: %w", path, err)
	}
	return ParseBytes(data)
}

// ParseBytes parses raw YAML bytes into ScanProfiles.
func ParseBytes(data []byte) ([]*v1alpha1.ScanProfile, error) {
	var profiles []*v1alpha1.ScanProfile

	decoder := yaml.NewDecoder(bytes.NewReader(data))

	for {
		var node yaml.Node
		if err := decoder.Decode(&node); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decoding yaml document: %w", err)
		}
		if node.Kind == 0 {
			continue
		}

		// First pass: TypeMeta decides whether the document is ours.
		var meta v1alpha1.TypeMeta
		if err := node.Decode(&meta); err != nil {
			return nil, fmt.Errorf("decoding type meta: %w", err)
		}
		if meta.Kind == "" && meta.APIVersion == "" {
			continue
		}
		if meta.Kind != v1alpha1.KindScanProfile {
			return nil, fmt.Errorf("unknown resource kind: %q", meta.Kind)
		}

		var p v1alpha1.ScanProfile
		if err := node.Decode(&p); err != nil {
			return nil, fmt.Errorf("decoding ScanProfile: %w", err)
		}
		if p.APIVersion == "" {
			p.APIVersion = v1alpha1.APIVersion
		}
		if err := validateProfile(&p); err != nil {
			return nil, err
		}
		profiles = append(profiles, &p)
	}

	return profiles, nil
}

// LoadProfile parses path and returns the profile called name, or the only
// profile in the file when name is empty.
func LoadProfile(path, name string) (*v1alpha1.ScanProfile, error) {
	profiles, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("no ScanProfile found in %s", path)
	}
	if name == "" {
		if len(profiles) > 1 {
			return nil, fmt.Errorf("%s holds %d profiles; choose one by name", path, len(profiles))
		}
		return profiles[0], nil
	}
	for _, p := range profiles {
		if p.Metadata.Name == name {
			return p, nil
		}
	}
	return nil, fmt.Errorf("profile %q not found in %s", name, path)
}

// validateProfile checks that required fields are set and numbers are sane.
func validateProfile(p *v1alpha1.ScanProfile) error {
	if p.Metadata.Name == "" {
		return fmt.Errorf("validation failed: ScanProfile name must not be empty")
	}
	if p.Spec.MaxIterations < 0 {
		return fmt.Errorf("validation failed: ScanProfile %s: maxIterations must not be negative", p.Metadata.Name)
	}
	if p.Spec.OutputLimit < 0 {
		return fmt.Errorf("validation failed: ScanProfile %s: outputLimit must not be negative", p.Metadata.Name)
	}
	for tool, secs := range p.Spec.ToolTimeouts {
		if secs <= 0 {
			return fmt.Errorf("validation failed: ScanProfile %s: timeout for %s must be > 0", p.Metadata.Name, tool)
		}
	}
	return nil
}
