package widget

// Result is one record of store.results.
type Result struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Term is one record of store.terms.
type Term struct {
	Value  string `json:"value"`
	Active bool   `json:"active"`
}

// Trending mirrors store.config.settings.trending.
type Trending struct {
	ShowResults bool `json:"show_results"`
	Limit       int  `json:"limit"`
}

// Enabled reports whether trending results are shown on focus.
func (t Trending) Enabled() bool {
	return t.ShowResults && t.Limit > 0
}

// URLManager mirrors store.services.urlManager.
type URLManager struct {
	Href      string `json:"href"`
	HasFilter bool   `json:"has_filter"`
}

// Store is a read-only projection of an autocomplete controller store.
// Input is nil when store.state.input is undefined.
type Store struct {
	Results       []Result   `json:"results"`
	Terms         []Term     `json:"terms"`
	FacetCount    int        `json:"facet_count"`
	TrendingCount int        `json:"trending_count"`
	TotalResults  int        `json:"total_results"`
	Query         string     `json:"query"`
	Input         *string    `json:"input"`
	Trending      Trending   `json:"trending"`
	URLManager    URLManager `json:"url_manager"`
}

// InputValue returns the store input, or "" when undefined.
func (s Store) InputValue() string {
	if s.Input == nil {
		return ""
	}
	return *s.Input
}

// LastTerm returns the final term and false when there are none.
func (s Store) LastTerm() (Term, bool) {
	if len(s.Terms) == 0 {
		return Term{}, false
	}
	return s.Terms[len(s.Terms)-1], true
}
