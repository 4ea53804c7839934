package analysis

// ModuleType describes a registered analysis module: what it accepts, how it
// is versioned, and how its results are cached. Name is the registry key.
type ModuleType struct {
	Name                string   `json:"name"`
	Description         string   `json:"description,omitempty"`
	ObservableTypes     []string `json:"observable_types,omitempty"`
	Directives          []string `json:"directives,omitempty"`
	Dependencies        []string `json:"dependencies,omitempty"`
	Tags                []string `json:"tags,omitempty"`
	Modes               []string `json:"modes,omitempty"`
	Version             string   `json:"version"`
	Timeout             int      `json:"timeout"`
	CacheTTL            *int     `json:"cache_ttl,omitempty"`
	AdditionalCacheKeys []string `json:"additional_cache_keys,omitempty"`
	ExtendedVersion     []string `json:"extended_version,omitempty"`
	Manual              bool     `json:"manual,omitempty"`
}

const (
	// DefaultVersion is assigned when a registration omits the version.
	DefaultVersion = "1.0.0"
	// DefaultTimeout is the analysis timeout in seconds when unset.
	DefaultTimeout = 30
)

// NewModuleType returns a ModuleType with the registry defaults applied.
func NewModuleType(name string) *ModuleType {
	return &ModuleType{
		Name:    name,
		Version: DefaultVersion,
		Timeout: DefaultTimeout,
	}
}

// Cachable reports whether results of this module type are cached at all.
func (t *ModuleType) Cachable() bool {
	return t != nil && t.CacheTTL != nil
}

// VersionMatches reports whether the worker-supplied version is exactly the
// registered version.
func (t *ModuleType) VersionMatches(version string) bool {
	return t.Version == version
}

// ExtendedVersionMatches reports whether every worker-supplied extended
// version element is present in the registered list. Workers may carry a
// subset; anything extra means the worker is out of date.
func (t *ModuleType) ExtendedVersionMatches(extended []string) bool {
	for _, v := range extended {
		if !contains(t.ExtendedVersion, v) {
			return false
		}
	}
	return true
}

// Accepts reports whether this module type should analyze the observable in
// the context of its root. The registered callback reports whether a
// dependency module type is still registered.
func (t *ModuleType) Accepts(o *Observable, root *RootAnalysis, registered func(name string) bool) bool {
	// an explicit request wins over every other condition
	if o.AnalysisRequested(t.Name) {
		return true
	}

	// manual module types only run when explicitly requested
	if t.Manual {
		return false
	}

	if contains(o.ExcludedAnalysis, t.Name) {
		return false
	}

	if len(t.Modes) > 0 && !contains(t.Modes, root.AnalysisMode) {
		return false
	}

	if len(t.ObservableTypes) > 0 && !contains(t.ObservableTypes, o.Type) {
		return false
	}

	for _, directive := range t.Directives {
		if !o.HasDirective(directive) {
			return false
		}
	}

	for _, tag := range t.Tags {
		if !o.HasTag(tag) {
			return false
		}
	}

	// dependencies must be registered and already completed for the observable
	for _, dep := range t.Dependencies {
		if !registered(dep) {
			return false
		}
		if o.GetAnalysis(dep) == nil {
			return false
		}
	}

	if len(o.LimitedAnalysis) > 0 {
		return contains(o.LimitedAnalysis, t.Name)
	}

	return true
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func appendUnique(values []string, target string) []string {
	if contains(values, target) {
		return values
	}
	return append(values, target)
}
