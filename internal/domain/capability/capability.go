// Package capability defines capability definitions, the dot-namespaced id
// taxonomy and wildcard matching used to route tasks to agents.
package capability

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// WildcardSuffix marks a query pattern as "anything under this prefix".
// Capability ids themselves never contain '*'.
const WildcardSuffix = ".*"

// ParamType is the expected JSON shape of a task parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamObject  ParamType = "object"
	ParamArray   ParamType = "array"
)

// Param describes one entry in a capability's parameter schema.
type Param struct {
	Type        ParamType `json:"type" yaml:"type"`
	Required    bool      `json:"required,omitempty" yaml:"required"`
	Description string    `json:"description,omitempty" yaml:"description"`
}

// Capability is an immutable, named unit of work a device class can perform.
type Capability struct {
	ID          string           `json:"id" yaml:"id"` // <domain>.<family>.<variant>
	Name        string           `json:"name" yaml:"name"`
	Category    string           `json:"category" yaml:"category"`
	Action      string           `json:"action" yaml:"action"`
	Parameters  map[string]Param `json:"parameters,omitempty" yaml:"parameters"`
	Constraints map[string]any   `json:"constraints,omitempty" yaml:"constraints"`
	Description string           `json:"description,omitempty" yaml:"description"`
}

// Validate checks the capability id is well formed.
func (c Capability) Validate() error {
	if c.ID == "" {
		return errors.New("capability id is required")
	}
	if strings.Contains(c.ID, "*") {
		return fmt.Errorf("capability id %q must not contain '*'", c.ID)
	}
	if strings.HasPrefix(c.ID, ".") || strings.HasSuffix(c.ID, ".") || strings.Contains(c.ID, "..") {
		return fmt.Errorf("capability id %q has an empty segment", c.ID)
	}
	return nil
}

// RequiredParameters returns the sorted names of required parameters.
func (c Capability) RequiredParameters() []string {
	var out []string
	for name, p := range c.Parameters {
		if p.Required {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// MissingParameters returns the sorted required parameter names absent from
// params. A present key with a nil value counts as missing.
func (c Capability) MissingParameters(params map[string]any) []string {
	var missing []string
	for _, name := range c.RequiredParameters() {
		if v, ok := params[name]; !ok || v == nil {
			missing = append(missing, name)
		}
	}
	return missing
}

// IsPattern reports whether p is a wildcard query.
func IsPattern(p string) bool {
	return strings.HasSuffix(p, WildcardSuffix)
}

// Matches reports whether the capability id satisfies pattern. A pattern
// ending in ".*" matches every id under that dot-delimited prefix; any other
// pattern requires exact equality.
func Matches(pattern, id string) bool {
	if IsPattern(pattern) {
		prefix := strings.TrimSuffix(pattern, "*") // keep the trailing dot
		return strings.HasPrefix(id, prefix)
	}
	return pattern == id
}

// MatchesAny reports whether any id in ids satisfies pattern.
func MatchesAny(pattern string, ids []string) bool {
	for _, id := range ids {
		if Matches(pattern, id) {
			return true
		}
	}
	return false
}

// Family returns the middle segment of a <domain>.<family>.<variant> id
// ("robotdog.patrol.rough" -> "patrol"). Ids with fewer segments return the
// last segment.
func Family(id string) string {
	parts := strings.Split(id, ".")
	if len(parts) >= 2 {
		return parts[1]
	}
	return parts[len(parts)-1]
}

// Domain returns the first segment of a capability id.
func Domain(id string) string {
	d, _, _ := strings.Cut(id, ".")
	return d
}
