package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dgnsrekt/snapcheck/internal/config"
	"github.com/dgnsrekt/snapcheck/internal/widget"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// jsPage runs probes and scripts in a goja runtime. Scripts are looked up by
// URL; an unknown URL fails to load like a 404.
type jsPage struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	scripts map[string]string
	loaded  []string
}

func newJSPage(t *testing.T, setup string, scripts map[string]string) *jsPage {
	t.Helper()
	vm := goja.New()
	_, err := vm.RunString(`var window = this;` + setup)
	require.NoError(t, err)
	return &jsPage{vm: vm, scripts: scripts}
}

func (p *jsPage) LoadScript(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	src, ok := p.scripts[url]
	if !ok {
		return fmt.Errorf("script failed to load: %s", url)
	}
	if _, err := p.vm.RunString(src); err != nil {
		return err
	}
	p.loaded = append(p.loaded, url)
	return nil
}

func (p *jsPage) Eval(ctx context.Context, js string, out any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vm.RunString(js)
	if err != nil {
		return err
	}
	var env struct {
		OK           bool            `json:"ok"`
		Data         json.RawMessage `json:"data"`
		ErrorMessage string          `json:"error_message"`
	}
	if err := json.Unmarshal([]byte(v.String()), &env); err != nil {
		return err
	}
	if !env.OK {
		return errors.New(env.ErrorMessage)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func (p *jsPage) global(t *testing.T, expr string) string {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	v, err := p.vm.RunString(expr)
	require.NoError(t, err)
	return v.String()
}

func testConfig() Config {
	caps := DefaultCapabilities()
	caps[0].PolyfillURL = "/polyfills/fetch.js"
	caps[1].PolyfillURL = "/polyfills/core.js"
	return Config{
		Capabilities: caps,
		SharedURL:    "/polyfills/shared.js",
		EntryURL:     "/bundle.js",
		Namespace:    widget.DefaultNamespace,
	}
}

var allScripts = map[string]string{
	"/polyfills/fetch.js":  `window.fetch = function() {};`,
	"/polyfills/core.js":   `window.coreLoaded = true;`,
	"/polyfills/shared.js": `window.sharedLoaded = true;`,
	"/bundle.js":           `window.entryRan = (window.searchspring && window.searchspring.build) || "no-marker";`,
}

func taskNames(tasks []Task) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Name)
	}
	return out
}

func TestPlanSchedulesMissingGroupsPlusShared(t *testing.T) {
	tests := []struct {
		name        string
		setup       string
		wantMissing []string
		wantTasks   []string
	}{
		{
			name:      "all present",
			setup:     `window.fetch = function() {};`,
			wantTasks: []string{SharedTaskName},
		},
		{
			name:        "fetch missing",
			setup:       ``,
			wantMissing: []string{"fetch"},
			wantTasks:   []string{"fetch", SharedTaskName},
		},
		{
			name:        "one core check false",
			setup:       `window.fetch = function() {}; delete Array.prototype.flatMap;`,
			wantMissing: []string{"core"},
			wantTasks:   []string{"core", SharedTaskName},
		},
		{
			name:        "everything missing",
			setup:       `delete Array.prototype.includes;`,
			wantMissing: []string{"fetch", "core"},
			wantTasks:   []string{"fetch", "core", SharedTaskName},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			page := newJSPage(t, tc.setup, allScripts)
			missing, tasks, err := Plan(context.Background(), AsPage(page), testConfig())
			require.NoError(t, err)
			assert.Equal(t, tc.wantMissing, missing)
			assert.Equal(t, tc.wantTasks, taskNames(tasks))
			assert.True(t, tasks[len(tasks)-1].Shared)
		})
	}
}

func TestRunLoadsEntryAfterMarker(t *testing.T) {
	page := newJSPage(t, ``, allScripts)

	report, err := Run(context.Background(), AsPage(page), testConfig())
	require.NoError(t, err)
	assert.True(t, report.EntryLoaded)
	assert.True(t, widget.DefaultNamespace.Ready(report.Marker))
	assert.Equal(t, "universal", page.global(t, `window.entryRan`), "entry point sees the marker")
	assert.Equal(t, "/bundle.js", page.loaded[len(page.loaded)-1])
	assert.ElementsMatch(t, []string{"/polyfills/fetch.js", "/polyfills/shared.js", "/bundle.js"}, page.loaded)
}

func TestRunNeverLoadsEntryWhenAnyLoadRejects(t *testing.T) {
	for _, broken := range []string{"/polyfills/fetch.js", "/polyfills/core.js", "/polyfills/shared.js"} {
		t.Run(broken, func(t *testing.T) {
			scripts := make(map[string]string, len(allScripts))
			for k, v := range allScripts {
				if k != broken {
					scripts[k] = v
				}
			}
			page := newJSPage(t, `delete Array.prototype.includes;`, scripts)

			report, err := Run(context.Background(), AsPage(page), testConfig())
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrCapabilityUnavailable)
			assert.False(t, report.EntryLoaded)
			assert.NotContains(t, page.loaded, "/bundle.js")
			assert.Equal(t, "undefined", page.global(t, `typeof window.searchspring`), "marker is not set")
		})
	}
}

func TestRunMissingPolyfillSource(t *testing.T) {
	cfg := testConfig()
	cfg.Capabilities[0].PolyfillURL = ""
	page := newJSPage(t, ``, allScripts)

	_, err := Run(context.Background(), AsPage(page), cfg)
	require.ErrorIs(t, err, ErrCapabilityUnavailable)
	assert.Contains(t, err.Error(), "no polyfill configured")
}

func TestRunPreloadFailureIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.PreloadURL = "/polyfills/promise.js"
	page := newJSPage(t, `window.fetch = function() {};`, allScripts)

	_, err := Run(context.Background(), AsPage(page), cfg)
	require.ErrorIs(t, err, ErrCapabilityUnavailable)
	assert.Empty(t, page.loaded)
}

func TestMarkerIsIdempotent(t *testing.T) {
	scripts := map[string]string{"/bundle.js": `window.entryCount = (window.entryCount || 0) + 1;`}
	cfg := testConfig()
	cfg.SharedURL = ""
	page := newJSPage(t, `window.fetch = function() {}; window.searchspring = {other: 1};`, scripts)

	for i := 0; i < 2; i++ {
		report, err := Run(context.Background(), AsPage(page), cfg)
		require.NoError(t, err)
		assert.Equal(t, "universal", report.Marker.Tag)
	}
	assert.Equal(t, "universal", page.global(t, `window.searchspring.build`))
	assert.Equal(t, "1", page.global(t, `String(window.searchspring.other)`))
}

func TestFromSuite(t *testing.T) {
	s, err := config.ParseSuite([]byte(`
bootstrap:
  entry_url: /bundle.js
  shared_url: /shared.js
  polyfills:
    - name: core
      url: /core.js
`))
	require.NoError(t, err)

	cfg := FromSuite(s)
	assert.Equal(t, "/bundle.js", cfg.EntryURL)
	assert.Equal(t, "/shared.js", cfg.SharedURL)
	assert.Equal(t, "", cfg.Capabilities[0].PolyfillURL)
	assert.Equal(t, "/core.js", cfg.Capabilities[1].PolyfillURL)
	assert.Equal(t, widget.DefaultNamespace, cfg.Namespace)
}
