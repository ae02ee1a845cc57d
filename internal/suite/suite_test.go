package suite

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/snapcheck/internal/cdpcontrol"
	"github.com/dgnsrekt/snapcheck/internal/config"
	"github.com/dgnsrekt/snapcheck/internal/scenario"
	"github.com/dgnsrekt/snapcheck/internal/widget"
)

const testSuiteYAML = `
url: https://shop.test/index.html
disable_ga: UA-1
starting_query: t
selectors:
  website:
    input: "#search-input"
  autocomplete:
    term: ".ss__terms__option"
    facet: ".ss__facet__options"
    result: ".ss__result"
    see_more: ".ss__see-more"
`

// fakePage is an in-memory page with a scripted widget. Interactions queue
// the store update the widget would apply once its request completes; the
// fake waiter applies it.
type fakePage struct {
	mu           sync.Mutex
	controllerJS string
	ns           widget.Namespace
	marker       widget.Marker
	store        widget.Store
	input        string
	pending      func(*fakePage)
	calls        []string
	flags        map[string]any
	counts       map[string]int
	links        map[string][]cdpcontrol.Link
	firstLinks   map[string][]cdpcontrol.Link

	onType       func(*fakePage)
	onValue      func(*fakePage) string
	onFocus      func(*fakePage)
	onRightClick func(*fakePage, cdpcontrol.Element)
}

func newFakePage(cfg *config.Suite) *fakePage {
	ns := widget.Namespace{Global: cfg.Bootstrap.Global, Field: cfg.Bootstrap.BuildField, Tag: cfg.Bootstrap.BuildTag}
	return &fakePage{
		controllerJS: widget.ControllerJS(ns.Global, cfg.Controller),
		ns:           ns,
		flags:        map[string]any{},
		counts:       map[string]int{},
		links:        map[string][]cdpcontrol.Link{},
		firstLinks:   map[string][]cdpcontrol.Link{},
	}
}

func (f *fakePage) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakePage) Navigate(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("navigate %s", url)
	f.marker = widget.Marker{Exists: true, Tag: "universal"}
	return nil
}

func (f *fakePage) Eval(ctx context.Context, js string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var v any
	switch js {
	case f.controllerJS:
		v = f.store
	case f.ns.ReadJS():
		v = f.marker
	default:
		return fmt.Errorf("unexpected eval: %.40s", js)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (f *fakePage) LoadScript(ctx context.Context, url string) error {
	return fmt.Errorf("unexpected script load %s", url)
}

func (f *fakePage) SetWindowFlag(ctx context.Context, name string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[name] = value
	return nil
}

func (f *fakePage) Click(ctx context.Context, e cdpcontrol.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("click %s", e)
	return nil
}

func (f *fakePage) RightClick(ctx context.Context, e cdpcontrol.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("rightclick %s", e)
	if f.onRightClick != nil {
		f.onRightClick(f, e)
	}
	return nil
}

func (f *fakePage) Focus(ctx context.Context, e cdpcontrol.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onFocus != nil {
		f.onFocus(f)
	}
	return nil
}

func (f *fakePage) Type(ctx context.Context, e cdpcontrol.Element, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("type %s %q", e, text)
	f.input += text
	if f.onType != nil {
		f.onType(f)
	}
	return nil
}

func (f *fakePage) Clear(ctx context.Context, e cdpcontrol.Element) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("clear %s", e)
	f.input = ""
	return nil
}

func (f *fakePage) Value(ctx context.Context, e cdpcontrol.Element) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.onValue != nil {
		return f.onValue(f), nil
	}
	return f.input, nil
}

func (f *fakePage) Count(ctx context.Context, selector string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("count %s", selector)
	return f.counts[selector], nil
}

func (f *fakePage) Links(ctx context.Context, selector string) ([]cdpcontrol.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("links %s", selector)
	return f.links[selector], nil
}

func (f *fakePage) FirstLinks(ctx context.Context, selector string) ([]cdpcontrol.Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("firstlinks %s", selector)
	return f.firstLinks[selector], nil
}

func (f *fakePage) Wait(ctx context.Context, alias string, timeout time.Duration) (cdpcontrol.Exchange, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pending == nil {
		return cdpcontrol.Exchange{}, cdpcontrol.NewError(cdpcontrol.CodeWaitTimeout, "no request for @"+alias, nil)
	}
	f.pending(f)
	f.pending = nil
	return cdpcontrol.Exchange{Alias: alias, Status: 200}, nil
}

func (f *fakePage) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reset")
	f.pending = nil
}

// typedResponse is what the widget renders for "t".
func typedResponse(f *fakePage) {
	in := f.input
	f.store.Input = &in
	f.store.Query = in
	f.store.Terms = []widget.Term{{Value: "t-shirt"}, {Value: "tee"}, {Value: "tote"}}
	f.store.Results = []widget.Result{{Type: "product", URL: "/p/1"}, {Type: "banner"}, {Type: "product", URL: "/p/3"}}
	f.store.FacetCount = 2
	f.store.TotalResults = 42
	f.store.URLManager = widget.URLManager{Href: "/search?q=" + in}
}

func parse(t *testing.T, yaml string) *config.Suite {
	t.Helper()
	cfg, err := config.ParseSuite([]byte(yaml))
	require.NoError(t, err)
	return cfg
}

// scriptedPage wires a fake widget that reacts like a healthy deployment.
func scriptedPage(cfg *config.Suite) *fakePage {
	f := newFakePage(cfg)
	f.onType = func(f *fakePage) { f.pending = typedResponse }
	f.counts[".ss__terms__option"] = 3
	f.links[".ss__see-more a"] = []cdpcontrol.Link{{Href: "https://shop.test/search?q=t", HrefAttr: "https://shop.test/search?q=t", Text: "See 42 results for t-shirt"}}
	f.links[".ss__facet__options a"] = []cdpcontrol.Link{{Href: "https://shop.test/search?q=t&filter.color=red", HrefAttr: "/search?q=t&filter.color=red"}}
	f.firstLinks[".ss__result"] = []cdpcontrol.Link{{HrefAttr: "/p/1"}, {HrefAttr: "/promo"}, {HrefAttr: "/p/3"}}
	f.onRightClick = func(f *fakePage, e cdpcontrol.Element) {
		switch e.Selector {
		case ".ss__terms__option":
			f.pending = func(f *fakePage) {
				last := len(f.store.Terms) - 1
				f.store.Terms[last].Active = true
				f.store.Query = f.store.Terms[last].Value
			}
		case ".ss__facet__options a":
			f.pending = func(f *fakePage) {
				f.store.URLManager = widget.URLManager{Href: "https://shop.test/search?q=t&filter.color=red", HasFilter: true}
			}
		}
	}
	return f
}

func runSuite(t *testing.T, cfg *config.Suite, f *fakePage) map[string]scenario.Result {
	t.Helper()
	s := New(cfg, f, f, Options{CommandTimeout: 30 * time.Millisecond, RequestTimeout: 30 * time.Millisecond})
	results := (&scenario.Runner{}).Run(context.Background(), s.Groups())
	byName := make(map[string]scenario.Result, len(results))
	for _, r := range results {
		byName[r.Name] = r
	}
	require.Len(t, byName, len(results), "scenario names are unique")
	return byName
}

func TestSuiteHappyPath(t *testing.T) {
	cfg := parse(t, testSuiteYAML)
	f := scriptedPage(cfg)

	results := runSuite(t, cfg, f)
	require.Len(t, results, 11)
	for name, r := range results {
		if name == "has trending results when focused" {
			assert.Equal(t, scenario.Skipped, r.Status, name)
			continue
		}
		assert.Equal(t, scenario.Passed, r.Status, "%s: %s", name, r.Message)
	}
	assert.Equal(t, true, f.flags["ga-disable-UA-1"])
	assert.Contains(t, f.calls, `rightclick .ss__terms__option[-1] a`)
	assert.Equal(t, "", f.input, "input cleared by the last scenario")
	require.GreaterOrEqual(t, len(f.calls), 2)
	assert.Equal(t, []string{"navigate https://shop.test/index.html", "reset"}, f.calls[:2])
}

func TestBlankSeeMoreSkipsWithoutDOMQuery(t *testing.T) {
	cfg := parse(t, strings.Replace(testSuiteYAML, `see_more: ".ss__see-more"`, `see_more: ""`, 1))
	f := scriptedPage(cfg)

	results := runSuite(t, cfg, f)
	for _, name := range []string{"has correct count and term in see more link", "has see more link with correct URL"} {
		r := results[name]
		assert.Equal(t, scenario.Skipped, r.Status, name)
		assert.Equal(t, "precondition", r.Phase)
	}
	for _, c := range f.calls {
		assert.NotEqual(t, "links  a", c)
		assert.NotContains(t, c, "see-more")
	}
}

func TestSingleLetterQueryNeedsTerms(t *testing.T) {
	cfg := parse(t, testSuiteYAML)
	f := scriptedPage(cfg)
	f.onType = func(f *fakePage) {
		f.pending = func(f *fakePage) {
			in := f.input
			f.store.Input = &in
		}
	}

	results := runSuite(t, cfg, f)
	r := results["can make single letter query"]
	assert.Equal(t, scenario.Failed, r.Status)
	assert.Equal(t, "beforeEach", r.Phase)
	assert.Contains(t, r.Message, "store.terms.length")
	assert.Equal(t, scenario.Passed, results["has a controller with an empty store"].Status)
}

func TestSingleLetterQueryTimesOutWithoutRequest(t *testing.T) {
	cfg := parse(t, testSuiteYAML)
	f := scriptedPage(cfg)
	f.onType = nil

	results := runSuite(t, cfg, f)
	r := results["can make single letter query"]
	assert.Equal(t, scenario.Failed, r.Status)
	assert.Contains(t, r.Message, "wait @autocomplete")
}

func TestResultHrefMustMatchCanonicalURL(t *testing.T) {
	cfg := parse(t, testSuiteYAML)
	f := scriptedPage(cfg)
	f.firstLinks[".ss__result"] = []cdpcontrol.Link{{HrefAttr: "/p/1"}, {HrefAttr: "/promo"}, {HrefAttr: "/p/3?variant=2"}}

	r := runSuite(t, cfg, f)["has results"]
	assert.Equal(t, scenario.Failed, r.Status)
	assert.Contains(t, r.Message, `expected result 2 href "/p/3"`)
}

func TestHoverTermSkipsWithSingleTerm(t *testing.T) {
	cfg := parse(t, testSuiteYAML)
	f := scriptedPage(cfg)
	f.onType = func(f *fakePage) {
		f.pending = func(f *fakePage) {
			typedResponse(f)
			f.store.Terms = f.store.Terms[:1]
		}
	}

	r := runSuite(t, cfg, f)["can hover over term"]
	assert.Equal(t, scenario.Skipped, r.Status)
	assert.NotContains(t, f.calls, `rightclick .ss__terms__option[-1] a`)
}

func TestHoverTermMustActivateLastTerm(t *testing.T) {
	cfg := parse(t, testSuiteYAML)
	f := scriptedPage(cfg)
	f.onRightClick = func(f *fakePage, e cdpcontrol.Element) {
		f.pending = func(*fakePage) {}
	}

	r := runSuite(t, cfg, f)["can hover over term"]
	assert.Equal(t, scenario.Failed, r.Status)
	assert.Contains(t, r.Message, "last term active")
}

func TestTrendingRunsWhenEnabled(t *testing.T) {
	cfg := parse(t, testSuiteYAML)
	f := scriptedPage(cfg)
	f.store.Trending = widget.Trending{ShowResults: true, Limit: 5}
	f.onFocus = func(f *fakePage) {
		if f.input == "t" {
			f.pending = func(f *fakePage) { f.store.TrendingCount = 4 }
		}
	}

	r := runSuite(t, cfg, f)["has trending results when focused"]
	assert.Equal(t, scenario.Passed, r.Status, r.Message)
}

func TestMissingConfigFailsSetup(t *testing.T) {
	cfg := parse(t, "selectors: {}\n")
	f := newFakePage(cfg)

	results := runSuite(t, cfg, f)
	r := results["has valid config"]
	assert.Equal(t, scenario.Failed, r.Status)
	assert.Contains(t, r.Message, "url is required")
	assert.Equal(t, scenario.Skipped, results["can make single letter query"].Status)
}

func TestAutocompleteEdges(t *testing.T) {
	facetResponse := func(um widget.URLManager) func(*fakePage) {
		return func(f *fakePage) {
			f.onRightClick = func(f *fakePage, e cdpcontrol.Element) {
				f.pending = func(f *fakePage) { f.store.URLManager = um }
			}
		}
	}

	tests := []struct {
		name     string
		scenario string
		setup    func(f *fakePage)
		status   scenario.Status
		phase    string
		message  string
	}{
		{
			name:     "facet skipped without store facets",
			scenario: "can hover over facet",
			setup: func(f *fakePage) {
				f.onType = func(f *fakePage) {
					f.pending = func(f *fakePage) {
						typedResponse(f)
						f.store.FacetCount = 0
					}
				}
			},
			status:  scenario.Skipped,
			phase:   "action",
			message: "query has no facets",
		},
		{
			name:     "facet skipped without facet anchors",
			scenario: "can hover over facet",
			setup:    func(f *fakePage) { delete(f.links, ".ss__facet__options a") },
			status:   scenario.Skipped,
			phase:    "action",
			message:  "no facets in DOM",
		},
		{
			name:     "facet hover must set a filter",
			scenario: "can hover over facet",
			setup:    facetResponse(widget.URLManager{Href: "https://shop.test/search?q=t&filter.color=red"}),
			status:   scenario.Failed,
			phase:    "assertion",
			message:  "urlManager.state.filter",
		},
		{
			name:     "facet hover must move urlManager to the option",
			scenario: "can hover over facet",
			setup:    facetResponse(widget.URLManager{Href: "https://shop.test/search?q=t", HasFilter: true}),
			status:   scenario.Failed,
			phase:    "assertion",
			message:  `to contain "https://shop.test/search?q=t&filter.color=red"`,
		},
		{
			name:     "see more text without total",
			scenario: "has correct count and term in see more link",
			setup: func(f *fakePage) {
				f.links[".ss__see-more a"] = []cdpcontrol.Link{{HrefAttr: "https://shop.test/search?q=t", Text: "See all results for t-shirt"}}
			},
			status:  scenario.Failed,
			phase:   "assertion",
			message: `containing "42" and "t-shirt"`,
		},
		{
			name:     "see more text without first term",
			scenario: "has correct count and term in see more link",
			setup: func(f *fakePage) {
				f.links[".ss__see-more a"] = []cdpcontrol.Link{{HrefAttr: "https://shop.test/search?q=t", Text: "See 42 results"}}
			},
			status:  scenario.Failed,
			phase:   "assertion",
			message: `containing "42" and "t-shirt"`,
		},
		{
			name:     "input that keeps its value",
			scenario: "can clear input",
			setup:    func(f *fakePage) { f.onValue = func(*fakePage) string { return "t" } },
			status:   scenario.Failed,
			phase:    "assertion",
			message:  "input value",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := parse(t, testSuiteYAML)
			f := scriptedPage(cfg)
			tt.setup(f)

			results := runSuite(t, cfg, f)
			r := results[tt.scenario]
			assert.Equal(t, tt.status, r.Status, r.Message)
			assert.Equal(t, tt.phase, r.Phase)
			assert.Contains(t, r.Message, tt.message)
			assert.Equal(t, scenario.Passed, results["can make single letter query"].Status)
		})
	}
}
