package suite

import (
	"context"
	"strconv"
	"strings"

	"github.com/dgnsrekt/snapcheck/internal/cdpcontrol"
	"github.com/dgnsrekt/snapcheck/internal/scenario"
)

func (s *Suite) autocompleteGroup() scenario.Group {
	sel := s.cfg.Selectors.Autocomplete
	return scenario.Group{
		Name:       GroupAutocomplete,
		Before:     []scenario.Step{s.clickOpenButton},
		BeforeEach: []scenario.Step{s.singleLetterQuery},
		Scenarios: []scenario.Scenario{
			{
				Name: "can make single letter query",
				Assertion: func(ctx context.Context) error {
					v, err := s.page.Value(ctx, s.input())
					if err != nil {
						return err
					}
					return scenario.Equal("input value", v, s.cfg.StartingQuery)
				},
			},
			s.trendingScenario(),
			{
				Name:         "has correct count and term in see more link",
				Precondition: requireSelector("autocomplete.see_more", sel.SeeMore),
				Assertion:    func(ctx context.Context) error { return s.eventually(ctx, s.seeMoreCountAndTerm) },
			},
			s.hoverTermScenario(),
			s.hoverFacetScenario(),
			s.resultsScenario(),
			{
				Name:         "has see more link with correct URL",
				Precondition: requireSelector("autocomplete.see_more", sel.SeeMore),
				Assertion:    func(ctx context.Context) error { return s.eventually(ctx, s.seeMoreURL) },
			},
			s.clearScenario(),
		},
	}
}

func requireSelector(name, selector string) scenario.Step {
	return func(context.Context) error {
		if strings.TrimSpace(selector) == "" {
			return scenario.Skip("selectors.%s not configured", name)
		}
		return nil
	}
}

// singleLetterQuery types the starting query and checks the store picked it
// up. It runs ahead of every autocomplete scenario.
func (s *Suite) singleLetterQuery(ctx context.Context) error {
	if s.cfg.StartingQuery == "" || s.cfg.Selectors.Website.Input == "" {
		return scenario.Skip("starting_query and selectors.website.input are required")
	}
	if err := s.retype(ctx); err != nil {
		return err
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	return s.eventually(ctx, func(ctx context.Context) error {
		st, err := s.store(ctx)
		if err != nil {
			return err
		}
		return scenario.All(
			scenario.Equal("store.state.input", st.InputValue(), s.cfg.StartingQuery),
			scenario.Greater("store.terms.length", len(st.Terms), 0),
		)
	})
}

func (s *Suite) trendingScenario() scenario.Scenario {
	return scenario.Scenario{
		Name: "has trending results when focused",
		Precondition: func(ctx context.Context) error {
			st, err := s.store(ctx)
			if err != nil {
				return err
			}
			if !st.Trending.Enabled() {
				return scenario.Skip("trending disabled (showResults=%t, limit=%d)", st.Trending.ShowResults, st.Trending.Limit)
			}
			return nil
		},
		Action: func(ctx context.Context) error {
			if err := s.clickOpenButton(ctx); err != nil {
				return err
			}
			if err := s.page.Focus(ctx, s.input()); err != nil {
				return err
			}
			return s.wait(ctx)
		},
		Assertion: func(ctx context.Context) error {
			err := s.eventually(ctx, func(ctx context.Context) error {
				st, err := s.store(ctx)
				if err != nil {
					return err
				}
				return scenario.All(
					scenario.Greater("store.trending.length", st.TrendingCount, 0),
					scenario.Greater("store.results.length", len(st.Results), 0),
				)
			})
			if err != nil {
				return err
			}
			// Close the search input again.
			return s.clickOpenButton(ctx)
		},
	}
}

func (s *Suite) seeMoreCountAndTerm(ctx context.Context) error {
	st, err := s.store(ctx)
	if err != nil {
		return err
	}
	if len(st.Terms) == 0 {
		return scenario.Failf("expected store.terms to be non-empty")
	}
	term := st.Terms[0].Value
	links, err := s.page.Links(ctx, s.cfg.Selectors.Autocomplete.SeeMore+" a")
	if err != nil {
		return err
	}
	total := strconv.Itoa(st.TotalResults)
	for _, l := range links {
		if hrefSuffix(st.URLManager.Href)(l) && strings.Contains(l.Text, total) && strings.Contains(l.Text, term) {
			return nil
		}
	}
	return scenario.Failf("expected a see more link ending in %q containing %q and %q", st.URLManager.Href, total, term)
}

func (s *Suite) seeMoreURL(ctx context.Context) error {
	st, err := s.store(ctx)
	if err != nil {
		return err
	}
	links, err := s.page.Links(ctx, s.cfg.Selectors.Autocomplete.SeeMore+" a")
	if err != nil {
		return err
	}
	return scenario.Check(anyLink(links, hrefSuffix(st.URLManager.Href)),
		"expected a see more link with href ending in %q", st.URLManager.Href)
}

func (s *Suite) hoverTermScenario() scenario.Scenario {
	term := s.cfg.Selectors.Autocomplete.Term
	return scenario.Scenario{
		Name:         "can hover over term",
		Precondition: requireSelector("autocomplete.term", term),
		Action: func(ctx context.Context) error {
			st, err := s.store(ctx)
			if err != nil {
				return err
			}
			if len(st.Terms) <= 1 {
				return scenario.Skip("store has %d term(s)", len(st.Terms))
			}
			n, err := s.page.Count(ctx, term)
			if err != nil {
				return err
			}
			if n == 0 {
				return scenario.Skip("no terms in DOM")
			}
			if err := s.page.RightClick(ctx, cdpcontrol.Last(term).Within("a")); err != nil {
				return err
			}
			return s.wait(ctx)
		},
		Assertion: func(ctx context.Context) error {
			return s.eventually(ctx, func(ctx context.Context) error {
				st, err := s.store(ctx)
				if err != nil {
					return err
				}
				last, ok := st.LastTerm()
				if !ok {
					return scenario.Failf("expected store.terms to be non-empty")
				}
				return scenario.All(
					scenario.Equal("last term active", last.Active, true),
					scenario.Equal("last term value", last.Value, st.Query),
				)
			})
		},
	}
}

func (s *Suite) hoverFacetScenario() scenario.Scenario {
	facet := s.cfg.Selectors.Autocomplete.Facet
	var optionURL string
	return scenario.Scenario{
		Name:         "can hover over facet",
		Precondition: requireSelector("autocomplete.facet", facet),
		Action: func(ctx context.Context) error {
			optionURL = ""
			if err := s.retype(ctx); err != nil {
				return err
			}
			if err := s.wait(ctx); err != nil {
				return err
			}
			st, err := s.store(ctx)
			if err != nil {
				return err
			}
			if st.FacetCount == 0 {
				return scenario.Skip("query has no facets")
			}
			links, err := s.page.Links(ctx, facet+" a")
			if err != nil {
				return err
			}
			if len(links) == 0 {
				return scenario.Skip("no facets in DOM")
			}
			optionURL = links[0].Href
			if err := s.page.RightClick(ctx, cdpcontrol.First(facet+" a")); err != nil {
				return err
			}
			return s.wait(ctx)
		},
		Assertion: func(ctx context.Context) error {
			return s.eventually(ctx, func(ctx context.Context) error {
				st, err := s.store(ctx)
				if err != nil {
					return err
				}
				return scenario.All(
					scenario.Check(st.URLManager.HasFilter, "expected urlManager.state.filter to exist"),
					scenario.Check(strings.Contains(st.URLManager.Href, optionURL),
						"expected urlManager.href %q to contain %q", st.URLManager.Href, optionURL),
				)
			})
		},
	}
}

func (s *Suite) resultsScenario() scenario.Scenario {
	result := s.cfg.Selectors.Autocomplete.Result
	return scenario.Scenario{
		Name:         "has results",
		Precondition: requireSelector("autocomplete.result", result),
		Action: func(ctx context.Context) error {
			st, err := s.store(ctx)
			if err != nil {
				return err
			}
			if len(st.Results) == 0 {
				return scenario.Skip("query has no results")
			}
			return nil
		},
		Assertion: func(ctx context.Context) error {
			return s.eventually(ctx, func(ctx context.Context) error {
				st, err := s.store(ctx)
				if err != nil {
					return err
				}
				links, err := s.page.FirstLinks(ctx, result)
				if err != nil {
					return err
				}
				if len(links) == 0 {
					return scenario.Failf("expected result anchors under %q", result)
				}
				for i, l := range links {
					if i >= len(st.Results) || st.Results[i].Type != "product" {
						continue
					}
					if l.HrefAttr != st.Results[i].URL {
						return scenario.Failf("expected result %d href %q, got %q", i, st.Results[i].URL, l.HrefAttr)
					}
				}
				return nil
			})
		},
	}
}

func (s *Suite) clearScenario() scenario.Scenario {
	return scenario.Scenario{
		Name: "can clear input",
		Precondition: func(context.Context) error {
			if s.cfg.Selectors.Website.Input == "" && s.cfg.StartingQuery == "" {
				return scenario.Skip("selectors.website.input and starting_query not configured")
			}
			return nil
		},
		Action: func(ctx context.Context) error {
			v, err := s.page.Value(ctx, s.input())
			if err != nil {
				return err
			}
			if err := scenario.Equal("input value", v, s.cfg.StartingQuery); err != nil {
				return err
			}
			return s.page.Clear(ctx, s.input())
		},
		Assertion: func(ctx context.Context) error {
			return s.eventually(ctx, func(ctx context.Context) error {
				v, err := s.page.Value(ctx, s.input())
				if err != nil {
					return err
				}
				return scenario.Equal("input value", v, "")
			})
		},
	}
}
