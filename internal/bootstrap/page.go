package bootstrap

import (
	"context"
)

// ScriptPage evaluates JS and loads scripts; the cdpcontrol client and the
// suite page both satisfy it.
type ScriptPage interface {
	LoadScript(ctx context.Context, url string) error
	Eval(ctx context.Context, js string, out any) error
}

// AsPage adds capability probing to p.
func AsPage(p ScriptPage) Page {
	return probingPage{p}
}

type probingPage struct {
	ScriptPage
}

func (p probingPage) Probe(ctx context.Context, expr string) (bool, error) {
	var out struct {
		Value bool `json:"value"`
	}
	if err := p.Eval(ctx, ProbeJS(expr), &out); err != nil {
		return false, err
	}
	return out.Value, nil
}
