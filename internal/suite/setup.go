package suite

import (
	"context"
	"strings"
	"time"

	"github.com/dgnsrekt/snapcheck/internal/bootstrap"
	"github.com/dgnsrekt/snapcheck/internal/scenario"
)

// Group names.
const (
	GroupSetup        = "Setup"
	GroupAutocomplete = "Autocomplete"
)

func (s *Suite) setupGroup() scenario.Group {
	return scenario.Group{
		Name: GroupSetup,
		Scenarios: []scenario.Scenario{
			{
				Name: "has valid config",
				Assertion: func(ctx context.Context) error {
					if problems := s.cfg.Problems(); len(problems) > 0 {
						return scenario.Failf("%s", strings.Join(problems, "; "))
					}
					return nil
				},
			},
			{
				Name:      "adds snap bundle to autocomplete page",
				Action:    s.addBundle,
				Assertion: s.bundleReady,
			},
			{
				Name: "has a controller with an empty store",
				Assertion: func(ctx context.Context) error {
					st, err := s.store(ctx)
					if err != nil {
						return err
					}
					return scenario.All(
						scenario.Equal("store.results.length", len(st.Results), 0),
						scenario.Equal("store.terms.length", len(st.Terms), 0),
						scenario.Check(st.Input == nil, "expected store.state.input to be undefined, got %q", st.InputValue()),
					)
				},
			},
		},
	}
}

// addBundle loads the page and, when an entry point is configured, injects
// the bundle through the compatibility bootstrap.
func (s *Suite) addBundle(ctx context.Context) error {
	if err := s.page.Navigate(ctx, s.cfg.URL); err != nil {
		return err
	}
	s.net.Reset()
	if s.cfg.Bootstrap.EntryURL != "" {
		if _, err := bootstrap.Run(ctx, bootstrap.AsPage(s.page), bootstrap.FromSuite(s.cfg)); err != nil {
			return err
		}
	}
	if s.cfg.DisableGA != "" {
		if err := s.page.SetWindowFlag(ctx, "ga-disable-"+s.cfg.DisableGA, true); err != nil {
			return err
		}
	}
	return nil
}

// bundleReady waits for the namespace global to appear. After a bootstrap
// the global must also carry the build tag.
func (s *Suite) bundleReady(ctx context.Context) error {
	bootstrapped := s.cfg.Bootstrap.EntryURL != ""
	deadline := time.Now().Add(s.opts.RequestTimeout)
	for {
		m, err := bootstrap.Read(ctx, bootstrap.AsPage(s.page), s.ns)
		if err != nil {
			return err
		}
		if m.Exists && (!bootstrapped || s.ns.Ready(m)) {
			return nil
		}
		if time.Now().After(deadline) {
			if bootstrapped {
				return scenario.Failf("expected %s, got exists=%t tag=%q", s.ns, m.Exists, m.Tag)
			}
			return scenario.Failf("expected window.%s to exist", s.ns.Global)
		}
		if err := sleep(ctx, 100*time.Millisecond); err != nil {
			return err
		}
	}
}
