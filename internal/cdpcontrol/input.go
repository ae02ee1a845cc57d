package cdpcontrol

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// locate polls until the element exists or the command timeout elapses,
// then returns its box after scrolling it into view.
func (c *Client) locate(ctx context.Context, e Element) (Box, error) {
	if strings.TrimSpace(e.Selector) == "" {
		return Box{}, newError(CodeValidation, "selector is required", nil)
	}
	deadline := time.Now().Add(c.commandTimeout)
	for {
		var box Box
		err := c.evalLocked(ctx, jsLocate(e), &box)
		if err == nil {
			return box, nil
		}
		if !IsCode(err, CodeElementNotFound) || time.Now().After(deadline) {
			return Box{}, err
		}
		if err := sleepCtx(ctx, pollInterval); err != nil {
			return Box{}, err
		}
	}
}

// Click performs a left click on the element. Elements without a box get a
// synthesized event sequence instead of trusted input.
func (c *Client) Click(ctx context.Context, e Element) error {
	return c.click(ctx, e, "left")
}

// RightClick performs a right click on the element. The pointer move that
// precedes it fires the hover and focus handlers widgets react to.
func (c *Client) RightClick(ctx context.Context, e Element) error {
	return c.click(ctx, e, "right")
}

func (c *Client) click(ctx context.Context, e Element, button string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	box, err := c.locate(ctx, e)
	if err != nil {
		return err
	}
	if !box.Visible() {
		slog.Debug("cdpcontrol synthetic click", "element", e.String(), "button", button)
		return c.evalLocked(ctx, jsSyntheticClick(e, button), nil)
	}

	cdp, sessionID, err := c.session(ctx)
	if err != nil {
		return err
	}
	if err := cdp.dispatchMouseClick(ctx, sessionID, box.X, box.Y, button); err != nil {
		return newError(CodeEvalFailure, "failed to dispatch trusted mouse click", err)
	}
	slog.Debug("cdpcontrol click", "element", e.String(), "button", button, "x", box.X, "y", box.Y)
	return nil
}

// Focus moves keyboard focus to the element.
func (c *Client) Focus(ctx context.Context, e Element) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if _, err := c.locate(ctx, e); err != nil {
		return err
	}
	return c.evalLocked(ctx, jsFocus(e, false), nil)
}

// Type focuses the element and enters text one trusted keystroke at a time.
func (c *Client) Type(ctx context.Context, e Element, text string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if _, err := c.locate(ctx, e); err != nil {
		return err
	}
	if err := c.evalLocked(ctx, jsFocus(e, false), nil); err != nil {
		return err
	}
	cdp, sessionID, err := c.session(ctx)
	if err != nil {
		return err
	}
	for _, r := range text {
		if err := cdp.dispatchCharInput(ctx, sessionID, string(r)); err != nil {
			return newError(CodeEvalFailure, "failed to dispatch trusted character input", err)
		}
	}
	slog.Debug("cdpcontrol type", "element", e.String(), "length", len(text))
	return nil
}

// Clear empties an input: select all, then a trusted Backspace. When the
// keystroke leaves text behind (hidden or read-only inputs) the value is
// reset through the native setter.
func (c *Client) Clear(ctx context.Context, e Element) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if _, err := c.locate(ctx, e); err != nil {
		return err
	}
	if err := c.evalLocked(ctx, jsFocus(e, true), nil); err != nil {
		return err
	}
	cdp, sessionID, err := c.session(ctx)
	if err != nil {
		return err
	}
	if err := cdp.dispatchKeyEvent(ctx, sessionID, "Backspace", "Backspace", 8, 0); err != nil {
		return newError(CodeEvalFailure, "failed to dispatch trusted key event", err)
	}

	var out struct {
		Value string `json:"value"`
	}
	if err := c.evalLocked(ctx, jsValue(e), &out); err != nil {
		return err
	}
	if out.Value == "" {
		return nil
	}
	slog.Debug("cdpcontrol clear fallback", "element", e.String())
	return c.evalLocked(ctx, jsSetValue(e, ""), nil)
}

// Value returns the element's current value property.
func (c *Client) Value(ctx context.Context, e Element) (string, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if _, err := c.locate(ctx, e); err != nil {
		return "", err
	}
	var out struct {
		Value string `json:"value"`
	}
	if err := c.evalLocked(ctx, jsValue(e), &out); err != nil {
		return "", err
	}
	return out.Value, nil
}

// Count returns how many elements match selector right now.
func (c *Client) Count(ctx context.Context, selector string) (int, error) {
	if strings.TrimSpace(selector) == "" {
		return 0, newError(CodeValidation, "selector is required", nil)
	}
	var out struct {
		Count int `json:"count"`
	}
	if err := c.Eval(ctx, jsCount(selector), &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// Links returns the anchors matched by selector.
func (c *Client) Links(ctx context.Context, selector string) ([]Link, error) {
	return c.links(ctx, selector, false)
}

// FirstLinks returns, for each element matched by selector, its first anchor.
func (c *Client) FirstLinks(ctx context.Context, selector string) ([]Link, error) {
	return c.links(ctx, selector, true)
}

func (c *Client) links(ctx context.Context, selector string, firstPerMatch bool) ([]Link, error) {
	if strings.TrimSpace(selector) == "" {
		return nil, newError(CodeValidation, "selector is required", nil)
	}
	var out struct {
		Links []Link `json:"links"`
	}
	if err := c.Eval(ctx, jsLinks(selector, firstPerMatch), &out); err != nil {
		return nil, err
	}
	if out.Links == nil {
		return []Link{}, nil
	}
	return out.Links, nil
}
