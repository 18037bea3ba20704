package extraction

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// VendorConfig is one entry of the vendor registry file
type VendorConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Priority int    `yaml:"priority"`
	// Filenames are exact, case-insensitive invoice file names
	Filenames []string `yaml:"filenames"`
	// Patterns are case-insensitive substrings of invoice file names
	Patterns []string `yaml:"patterns"`
}

// VendorRegistry maps invoice file names to vendors
type VendorRegistry struct {
	Vendors []VendorConfig `yaml:"vendors"`
}

// LoadVendorRegistry reads a YAML registry file
func LoadVendorRegistry(path string) (*VendorRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading vendor registry: %w", err)
	}
	return ParseVendorRegistry(data)
}

// ParseVendorRegistry parses and checks a YAML registry
func ParseVendorRegistry(data []byte) (*VendorRegistry, error) {
	var reg VendorRegistry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parsing vendor registry: %w", err)
	}

	seen := make(map[string]bool, len(reg.Vendors))
	for i, v := range reg.Vendors {
		if strings.TrimSpace(v.ID) == "" {
			return nil, fmt.Errorf("vendor registry entry %d has no id", i)
		}
		if seen[v.ID] {
			return nil, fmt.Errorf("vendor registry has duplicate id %s", v.ID)
		}
		seen[v.ID] = true
	}

	return &reg, nil
}

// VendorResolver works out which vendor sent an invoice from its file name
type VendorResolver struct {
	registry *VendorRegistry
}

// NewVendorResolver creates a resolver; reg may be nil
func NewVendorResolver(reg *VendorRegistry) *VendorResolver {
	if reg == nil {
		reg = &VendorRegistry{}
	}
	return &VendorResolver{registry: reg}
}

// Resolve tries, in order: an exact file name match, a substring pattern,
// then the first underscore separated token of the file stem when it is
// alphanumeric ("VEND001_march.pdf" is VEND001).
func (r *VendorResolver) Resolve(filename string) (VendorConfig, bool) {
	base := filepath.Base(filepath.ToSlash(filename))
	lower := strings.ToLower(base)

	for _, v := range r.registry.Vendors {
		for _, f := range v.Filenames {
			if strings.ToLower(f) == lower {
				return v, true
			}
		}
	}

	for _, v := range r.registry.Vendors {
		for _, p := range v.Patterns {
			if p != "" && strings.Contains(lower, strings.ToLower(p)) {
				return v, true
			}
		}
	}

	stem := strings.TrimSuffix(base, filepath.Ext(base))
	token, _, _ := strings.Cut(stem, "_")
	if token == "" || !isAlphanumeric(token) {
		return VendorConfig{}, false
	}

	for _, v := range r.registry.Vendors {
		if strings.EqualFold(v.ID, token) {
			return v, true
		}
	}
	return VendorConfig{ID: token, Name: token}, true
}

func isAlphanumeric(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
