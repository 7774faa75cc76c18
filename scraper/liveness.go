package scraper

import (
	"context"
	"errors"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// actionTimeout is the per-action deadline.
const actionTimeout = 5 * time.Second

// challengeFrameHints identify embedded challenge widgets by iframe src.
var challengeFrameHints = []string{"challenges.cloudflare.com", "turnstile", "challenge-platform"}

// challengeFrameTargets are tried inside a challenge iframe, in order.
var challengeFrameTargets = []string{`input[type="checkbox"]`, "label", "body"}

// nudge moves the pointer and clicks any challenge frame. Each step has its
// own timeout; the first error is returned after every step has run.
func nudge(ctx context.Context, page *rod.Page) error {
	return errors.Join(
		withTimeout(ctx, page, movePointer),
		withTimeout(ctx, page, clickChallengeFrame),
	)
}

func withTimeout(ctx context.Context, page *rod.Page, fn func(p *rod.Page) error) error {
	actionCtx, cancel := context.WithTimeout(ctx, actionTimeout)
	defer cancel()
	return fn(page.Context(actionCtx))
}

// movePointer sweeps the mouse to a few random points inside the viewport.
func movePointer(p *rod.Page) error {
	res, err := p.Eval(`() => [window.innerWidth, window.innerHeight]`)
	if err != nil {
		return err
	}
	dims := res.Value.Arr()
	w, h := 1280.0, 720.0
	if len(dims) == 2 {
		w, h = dims[0].Num(), dims[1].Num()
	}
	for i := 0; i < 3; i++ {
		to := proto.Point{X: w * (0.2 + 0.6*rand.Float64()), Y: h * (0.2 + 0.6*rand.Float64())}
		if err := p.Mouse.MoveLinear(to, 5+rand.IntN(10)); err != nil {
			return err
		}
	}
	return nil
}

// clickChallengeFrame clicks the first clickable target inside an embedded
// challenge iframe, if one exists.
func clickChallengeFrame(p *rod.Page) error {
	iframes, err := p.Elements("iframe")
	if err != nil {
		return err
	}
	// Release all iframes when done to prevent leaking remote objects.
	defer func() {
		for _, iframe := range iframes {
			_ = iframe.Release()
		}
	}()

	for _, iframe := range iframes {
		src, err := iframe.Attribute("src")
		if err != nil || src == nil || !isChallengeFrame(*src) {
			continue
		}
		frame, err := iframe.Frame()
		if err != nil {
			continue
		}
		for _, sel := range challengeFrameTargets {
			el, err := frame.Timeout(time.Second).Element(sel)
			if err != nil {
				continue
			}
			clickErr := el.Click(proto.InputMouseButtonLeft, 1)
			_ = el.Release()
			if clickErr == nil {
				return nil
			}
		}
	}
	return nil
}

func isChallengeFrame(src string) bool {
	src = strings.ToLower(src)
	for _, h := range challengeFrameHints {
		if strings.Contains(src, h) {
			return true
		}
	}
	return false
}
