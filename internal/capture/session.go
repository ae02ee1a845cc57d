package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Session is a second, passive CDP attachment to the page under test that
// feeds its network events to a Recorder.
type Session struct {
	allocCancel context.CancelFunc
	tabCtx      context.Context
	rec         *Recorder
}

// Attach connects to the browser at cdpURL, attaches to targetID and starts
// recording. Close detaches.
func Attach(ctx context.Context, cdpURL, targetID string, rec *Recorder) (*Session, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), cdpURL)
	tabCtx, _ := chromedp.NewContext(allocCtx, chromedp.WithTargetID(target.ID(targetID)))

	s := &Session{allocCancel: allocCancel, tabCtx: tabCtx, rec: rec}
	chromedp.ListenTarget(tabCtx, s.handleEvent)

	// The first Run binds the target to tabCtx; it must not carry a timeout.
	if err := chromedp.Run(tabCtx); err != nil {
		allocCancel()
		return nil, fmt.Errorf("capture attach %s: %w", targetID, err)
	}

	enableCtx, cancel := context.WithTimeout(tabCtx, 15*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(enableCtx, network.Enable()); err != nil {
		allocCancel()
		return nil, fmt.Errorf("capture attach %s: %w", targetID, err)
	}
	slog.Info("capture attached", "target_id", targetID)
	return s, nil
}

func (s *Session) handleEvent(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		s.rec.OnRequestWillBeSent(e)
	case *network.EventResponseReceived:
		s.rec.OnResponseReceived(e)
	case *network.EventLoadingFinished:
		s.rec.OnLoadingFinished(e, s.bodyFunc(e.RequestID))
	case *network.EventLoadingFailed:
		s.rec.OnLoadingFailed(e)
	}
}

func (s *Session) bodyFunc(id network.RequestID) BodyFunc {
	return func() ([]byte, error) {
		ctx, cancel := context.WithTimeout(s.tabCtx, 10*time.Second)
		defer cancel()

		var body []byte
		err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			body, err = network.GetResponseBody(id).Do(ctx)
			return err
		}))
		return body, err
	}
}

// Close drains the recorder and drops the browser connection.
func (s *Session) Close() {
	s.rec.Close()
	s.allocCancel()
	slog.Info("capture detached")
}
