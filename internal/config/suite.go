package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// WebsiteSelectors locate host page elements.
type WebsiteSelectors struct {
	OpenInputButton string `yaml:"open_input_button"`
	Input           string `yaml:"input"`
}

// AutocompleteSelectors locate rendered widget elements. Term, facet and
// result selectors target wrappers whose descendants contain an <a>.
type AutocompleteSelectors struct {
	Term    string `yaml:"term"`
	Facet   string `yaml:"facet"`
	Result  string `yaml:"result"`
	SeeMore string `yaml:"see_more"`
}

// Selectors is the selector map. A blank entry disables every scenario that
// depends on it.
type Selectors struct {
	Website      WebsiteSelectors      `yaml:"website"`
	Autocomplete AutocompleteSelectors `yaml:"autocomplete"`
}

// Intercept names a network exchange the suite can wait on. URLPattern is a
// substring of the request URL, or a glob such as
// "**/api/search/autocomplete.json*".
type Intercept struct {
	Alias      string `yaml:"alias"`
	URLPattern string `yaml:"url_pattern"`
}

// PolyfillSource maps a capability group to the script that polyfills it.
type PolyfillSource struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// BootstrapConfig describes how the bundle is injected into the page.
// An empty EntryURL means the page already ships the bundle.
type BootstrapConfig struct {
	PreloadURL string           `yaml:"preload_url"`
	SharedURL  string           `yaml:"shared_url"`
	EntryURL   string           `yaml:"entry_url"`
	Polyfills  []PolyfillSource `yaml:"polyfills"`
	Global     string           `yaml:"global"`
	BuildField string           `yaml:"build_field"`
	BuildTag   string           `yaml:"build_tag"`
}

// Suite is the YAML configuration for one autocomplete deployment.
type Suite struct {
	URL           string          `yaml:"url"`
	DisableGA     string          `yaml:"disable_ga"`
	StartingQuery string          `yaml:"starting_query"`
	Controller    string          `yaml:"controller"`
	WaitAlias     string          `yaml:"wait_alias"`
	Selectors     Selectors       `yaml:"selectors"`
	Intercepts    []Intercept     `yaml:"intercepts"`
	Bootstrap     BootstrapConfig `yaml:"bootstrap"`
}

// LoadSuite reads and validates a suite YAML file.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("suite config: %w", err)
	}
	return ParseSuite(data)
}

// ParseSuite decodes suite YAML, applies defaults and validates intercepts.
// Required-field checks are left to Problems so a run can report them as a
// scenario failure.
func ParseSuite(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("suite config: %w", err)
	}
	s.applyDefaults()
	for i, ic := range s.Intercepts {
		if strings.TrimSpace(ic.Alias) == "" {
			return nil, fmt.Errorf("suite config: intercepts[%d] missing alias", i)
		}
		if strings.TrimSpace(ic.URLPattern) == "" {
			return nil, fmt.Errorf("suite config: intercepts[%d] (%s) missing url_pattern", i, ic.Alias)
		}
		if strings.ContainsAny(ic.URLPattern, "*[{") && !doublestar.ValidatePattern(ic.URLPattern) {
			return nil, fmt.Errorf("suite config: intercepts[%d] (%s) has invalid glob %q", i, ic.Alias, ic.URLPattern)
		}
	}
	if _, ok := s.Intercept(s.WaitAlias); !ok {
		return nil, fmt.Errorf("suite config: wait_alias %q has no matching intercept", s.WaitAlias)
	}
	for i, p := range s.Bootstrap.Polyfills {
		if strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("suite config: bootstrap.polyfills[%d] missing name", i)
		}
	}
	return &s, nil
}

func (s *Suite) applyDefaults() {
	if s.Controller == "" {
		s.Controller = "autocomplete"
	}
	if s.WaitAlias == "" {
		s.WaitAlias = "autocomplete"
	}
	if len(s.Intercepts) == 0 {
		s.Intercepts = []Intercept{{Alias: "autocomplete", URLPattern: "/api/search/autocomplete.json"}}
	}
	if s.Bootstrap.Global == "" {
		s.Bootstrap.Global = "searchspring"
	}
	if s.Bootstrap.BuildField == "" {
		s.Bootstrap.BuildField = "build"
	}
	if s.Bootstrap.BuildTag == "" {
		s.Bootstrap.BuildTag = "universal"
	}
}

// Intercept returns the intercept registered under alias.
func (s *Suite) Intercept(alias string) (Intercept, bool) {
	for _, ic := range s.Intercepts {
		if ic.Alias == alias {
			return ic, true
		}
	}
	return Intercept{}, false
}

// PolyfillURL returns the configured polyfill script for a capability group.
func (s *Suite) PolyfillURL(name string) string {
	for _, p := range s.Bootstrap.Polyfills {
		if p.Name == name {
			return p.URL
		}
	}
	return ""
}

// Problems lists required fields that are blank.
func (s *Suite) Problems() []string {
	var out []string
	if strings.TrimSpace(s.URL) == "" {
		out = append(out, "url is required")
	}
	if strings.TrimSpace(s.StartingQuery) == "" {
		out = append(out, "starting_query is required")
	}
	if strings.TrimSpace(s.Selectors.Website.Input) == "" {
		out = append(out, "selectors.website.input is required")
	}
	return out
}
