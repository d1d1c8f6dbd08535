// -----------------------------------------------------------------------
// Chromedp Computer Driver
// Headless-browser backend for the computer-use tool loop
// -----------------------------------------------------------------------

package computer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/magnet/internal/common"
	"github.com/ternarybob/magnet/internal/interfaces"
)

// Driver implements interfaces.ComputerDriver over a dedicated Chrome
// instance. One Driver per computer-use step; never shared.
type Driver struct {
	config *common.ComputerConfig
	logger arbor.ILogger

	allocCancel context.CancelFunc
	tabCancel   context.CancelFunc
	tabCtx      context.Context

	width  int
	height int
}

// NewDriver creates an uninitialized driver.
func NewDriver(config *common.ComputerConfig, logger arbor.ILogger) *Driver {
	return &Driver{config: config, logger: logger}
}

// Provider implements interfaces.ComputerDriverProvider.
type Provider struct {
	config *common.ComputerConfig
	logger arbor.ILogger
}

// NewProvider creates a driver provider.
func NewProvider(config *common.ComputerConfig, logger arbor.ILogger) *Provider {
	return &Provider{config: config, logger: logger}
}

// Acquire returns a fresh driver for one step.
func (p *Provider) Acquire(ctx context.Context) (interfaces.ComputerDriver, error) {
	return NewDriver(p.config, p.logger), nil
}

// Initialize starts Chrome with the given viewport.
func (d *Driver) Initialize(ctx context.Context, width, height int) error {
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 768
	}
	d.width = width
	d.height = height

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.WindowSize(width, height),
		chromedp.Flag("headless", d.config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
	)
	if d.config.VNCDisplay != "" {
		opts = append(opts, chromedp.Env("DISPLAY="+d.config.VNCDisplay))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	// Force browser startup so failures surface here, not on first action.
	if err := chromedp.Run(tabCtx, chromedp.Navigate("about:blank")); err != nil {
		tabCancel()
		allocCancel()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	d.allocCancel = allocCancel
	d.tabCancel = tabCancel
	d.tabCtx = tabCtx

	d.logger.Debug().
		Int("width", width).
		Int("height", height).
		Bool("headless", d.config.Headless).
		Msg("Browser driver initialized")

	return nil
}

// ExecuteAction dispatches one normalized action.
func (d *Driver) ExecuteAction(ctx context.Context, action interfaces.ComputerAction) error {
	if d.tabCtx == nil {
		return fmt.Errorf("driver not initialized")
	}

	switch action.Type {
	case "click":
		return d.run(ctx, chromedp.MouseClickXY(float64(action.X), float64(action.Y), clickButton(action.Button)))
	case "double_click":
		return d.run(ctx, chromedp.MouseClickXY(float64(action.X), float64(action.Y), chromedp.ClickCount(2)))
	case "move":
		return d.run(ctx, chromedp.MouseEvent(input.MouseMoved, float64(action.X), float64(action.Y)))
	case "type":
		return d.run(ctx, input.InsertText(action.Text))
	case "keypress":
		return d.pressKeys(ctx, action.Keys)
	case "scroll":
		script := fmt.Sprintf("window.scrollBy(%d, %d)", action.ScrollX, action.ScrollY)
		return d.run(ctx, chromedp.Evaluate(script, nil))
	case "wait":
		ms := action.DurationMS
		if ms <= 0 {
			ms = 1000
		}
		return d.run(ctx, chromedp.Sleep(time.Duration(ms)*time.Millisecond))
	case "navigate":
		if action.URL == "" {
			return fmt.Errorf("navigate action requires a url")
		}
		return d.run(ctx, chromedp.Navigate(action.URL))
	case "drag":
		return d.drag(ctx, action.Path)
	case "screenshot":
		// Screenshots are captured after every action anyway.
		return nil
	default:
		return fmt.Errorf("unsupported computer action: %s", action.Type)
	}
}

// Screenshot captures the current viewport as PNG.
func (d *Driver) Screenshot(ctx context.Context) ([]byte, error) {
	if d.tabCtx == nil {
		return nil, fmt.Errorf("driver not initialized")
	}
	var buf []byte
	err := d.runAction(ctx, chromedp.ActionFunc(func(c context.Context) error {
		data, err := page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(c)
		if err != nil {
			return err
		}
		buf = data
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

// GetURL returns the current page URL.
func (d *Driver) GetURL(ctx context.Context) (string, error) {
	if d.tabCtx == nil {
		return "", fmt.Errorf("driver not initialized")
	}
	var url string
	if err := d.run(ctx, chromedp.Location(&url)); err != nil {
		return "", err
	}
	return url, nil
}

// Cleanup shuts the browser down. Best-effort.
func (d *Driver) Cleanup(ctx context.Context) error {
	if d.tabCancel != nil {
		d.tabCancel()
		d.tabCancel = nil
	}
	if d.allocCancel != nil {
		d.allocCancel()
		d.allocCancel = nil
	}
	d.tabCtx = nil
	return nil
}

func (d *Driver) run(ctx context.Context, actions ...chromedp.Action) error {
	return d.runAction(ctx, actions...)
}

func (d *Driver) runAction(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := d.tabCtx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(d.tabCtx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

func (d *Driver) pressKeys(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := d.run(ctx, chromedp.KeyEvent(normalizeKey(key))); err != nil {
			return fmt.Errorf("keypress %q failed: %w", key, err)
		}
	}
	return nil
}

func (d *Driver) drag(ctx context.Context, path []interfaces.Point) error {
	if len(path) < 2 {
		return fmt.Errorf("drag action requires at least two points")
	}
	start, end := path[0], path[len(path)-1]
	actions := []chromedp.Action{
		chromedp.MouseEvent(input.MousePressed, float64(start.X), float64(start.Y), chromedp.ButtonLeft),
	}
	for _, p := range path[1:] {
		actions = append(actions, chromedp.MouseEvent(input.MouseMoved, float64(p.X), float64(p.Y)))
	}
	actions = append(actions, chromedp.MouseEvent(input.MouseReleased, float64(end.X), float64(end.Y), chromedp.ButtonLeft))
	return d.run(ctx, actions...)
}

func clickButton(button string) chromedp.MouseOption {
	switch strings.ToLower(button) {
	case "right":
		return chromedp.ButtonRight
	case "middle":
		return chromedp.ButtonMiddle
	default:
		return chromedp.ButtonLeft
	}
}

// normalizeKey maps provider key names onto chromedp key events.
func normalizeKey(key string) string {
	switch strings.ToUpper(key) {
	case "ENTER", "RETURN":
		return "\r"
	case "TAB":
		return "\t"
	case "SPACE":
		return " "
	case "BACKSPACE":
		return "\b"
	case "ESC", "ESCAPE":
		return "\u001b"
	default:
		return key
	}
}
