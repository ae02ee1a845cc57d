// Package suite is the end-to-end autocomplete scenario list.
//
// The scenarios drive a deployed widget through one shared page: they type
// into the search input, wait for the named autocomplete exchange and check
// the controller store against the rendered DOM. A blank selector skips every
// scenario that depends on it, so one suite serves partial deployments.
package suite

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgnsrekt/snapcheck/internal/cdpcontrol"
	"github.com/dgnsrekt/snapcheck/internal/config"
	"github.com/dgnsrekt/snapcheck/internal/scenario"
	"github.com/dgnsrekt/snapcheck/internal/widget"
)

// Page is the browser surface the scenarios drive.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Eval(ctx context.Context, js string, out any) error
	LoadScript(ctx context.Context, url string) error
	SetWindowFlag(ctx context.Context, name string, value any) error
	Click(ctx context.Context, e cdpcontrol.Element) error
	RightClick(ctx context.Context, e cdpcontrol.Element) error
	Focus(ctx context.Context, e cdpcontrol.Element) error
	Type(ctx context.Context, e cdpcontrol.Element, text string) error
	Clear(ctx context.Context, e cdpcontrol.Element) error
	Value(ctx context.Context, e cdpcontrol.Element) (string, error)
	Count(ctx context.Context, selector string) (int, error)
	Links(ctx context.Context, selector string) ([]cdpcontrol.Link, error)
	FirstLinks(ctx context.Context, selector string) ([]cdpcontrol.Link, error)
}

// Waiter hands out completed network exchanges by alias. Reset drops what
// was recorded before a navigation.
type Waiter interface {
	Wait(ctx context.Context, alias string, timeout time.Duration) (cdpcontrol.Exchange, error)
	Reset()
}

// Options tunes retry budgets.
type Options struct {
	// CommandTimeout bounds store polling and assertion retries.
	CommandTimeout time.Duration
	// RequestTimeout bounds each network wait and the bundle wait.
	RequestTimeout time.Duration
}

// Suite builds the ordered scenario groups for one suite config.
type Suite struct {
	cfg  *config.Suite
	page Page
	net  Waiter
	ns   widget.Namespace
	opts Options
}

// New returns a suite driving page. Zero timeouts fall back to 4s and 10s.
func New(cfg *config.Suite, page Page, net Waiter, opts Options) *Suite {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = 4 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &Suite{
		cfg:  cfg,
		page: page,
		net:  net,
		ns: widget.Namespace{
			Global: cfg.Bootstrap.Global,
			Field:  cfg.Bootstrap.BuildField,
			Tag:    cfg.Bootstrap.BuildTag,
		},
		opts: opts,
	}
}

// Groups returns the Setup group followed by the Autocomplete group.
func (s *Suite) Groups() []scenario.Group {
	return []scenario.Group{s.setupGroup(), s.autocompleteGroup()}
}

func (s *Suite) input() cdpcontrol.Element {
	return cdpcontrol.First(s.cfg.Selectors.Website.Input)
}

// store polls the controller until it is registered.
func (s *Suite) store(ctx context.Context) (widget.Store, error) {
	deadline := time.Now().Add(s.opts.CommandTimeout)
	js := widget.ControllerJS(s.ns.Global, s.cfg.Controller)
	for {
		var st widget.Store
		err := s.page.Eval(ctx, js, &st)
		if err == nil {
			return st, nil
		}
		if !cdpcontrol.IsCode(err, widget.CodeControllerNotFound) || time.Now().After(deadline) {
			return widget.Store{}, fmt.Errorf("read %s controller: %w", s.cfg.Controller, err)
		}
		if err := sleep(ctx, 100*time.Millisecond); err != nil {
			return widget.Store{}, err
		}
	}
}

// wait blocks on the next completed exchange of the configured alias.
func (s *Suite) wait(ctx context.Context) error {
	ex, err := s.net.Wait(ctx, s.cfg.WaitAlias, s.opts.RequestTimeout)
	if err != nil {
		return fmt.Errorf("wait @%s: %w", s.cfg.WaitAlias, err)
	}
	slog.Debug("suite network wait", "alias", ex.Alias, "url", ex.URL, "status", ex.Status)
	return nil
}

// eventually retries fn while it fails an assertion, until the command
// timeout elapses. Other errors return immediately.
func (s *Suite) eventually(ctx context.Context, fn func(ctx context.Context) error) error {
	deadline := time.Now().Add(s.opts.CommandTimeout)
	for {
		err := fn(ctx)
		if err == nil || !scenario.IsAssertion(err) || time.Now().After(deadline) {
			return err
		}
		if err := sleep(ctx, 100*time.Millisecond); err != nil {
			return err
		}
	}
}

// retype clears the input and types the starting query.
func (s *Suite) retype(ctx context.Context) error {
	if err := s.page.Clear(ctx, s.input()); err != nil {
		return err
	}
	if err := s.page.Focus(ctx, s.input()); err != nil {
		return err
	}
	return s.page.Type(ctx, s.input(), s.cfg.StartingQuery)
}

func (s *Suite) clickOpenButton(ctx context.Context) error {
	if s.cfg.Selectors.Website.OpenInputButton == "" {
		return nil
	}
	return s.page.Click(ctx, cdpcontrol.First(s.cfg.Selectors.Website.OpenInputButton))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func anyLink(links []cdpcontrol.Link, fn func(cdpcontrol.Link) bool) bool {
	for _, l := range links {
		if fn(l) {
			return true
		}
	}
	return false
}

func hrefSuffix(href string) func(cdpcontrol.Link) bool {
	return func(l cdpcontrol.Link) bool {
		return strings.HasSuffix(l.HrefAttr, href)
	}
}
