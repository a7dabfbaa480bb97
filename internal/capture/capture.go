// Package capture takes screenshots and text from pages rendered by
// playwright, producing artifacts ready for comparison.
package capture

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"snapdiff/internal/artifact"
)

// DefaultMaskColor matches the color painted over masked regions in diffs.
const DefaultMaskColor = "#FF00FF"

// Options controls a screenshot.
type Options struct {
	FullPage      bool
	Style         string   // CSS injected while capturing, e.g. to hide dynamic elements
	MaskSelectors []string // Elements painted over with MaskColor
	MaskColor     string
	Timeout       time.Duration
}

// LoadStyle reads a stylesheet used to stabilize captures.
func LoadStyle(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read style: %w", err)
	}
	return string(data), nil
}

// screenshotOptions builds stable screenshot settings: animations disabled,
// caret hidden, CSS pixels.
func screenshotOptions(opts Options, masks []playwright.Locator) playwright.PageScreenshotOptions {
	o := playwright.PageScreenshotOptions{
		Type:       playwright.ScreenshotTypePng,
		Animations: playwright.ScreenshotAnimationsDisabled,
		Caret:      playwright.ScreenshotCaretHide,
		Scale:      playwright.ScreenshotScaleCss,
		FullPage:   playwright.Bool(opts.FullPage),
	}
	if strings.TrimSpace(opts.Style) != "" {
		o.Style = playwright.String(opts.Style)
	}
	if len(masks) > 0 {
		o.Mask = masks
		color := opts.MaskColor
		if color == "" {
			color = DefaultMaskColor
		}
		o.MaskColor = playwright.String(color)
	}
	if opts.Timeout > 0 {
		o.Timeout = playwright.Float(float64(opts.Timeout.Milliseconds()))
	}
	return o
}

// Screenshot captures the page as a PNG image artifact.
func Screenshot(page playwright.Page, opts Options) (artifact.Artifact, error) {
	masks := make([]playwright.Locator, 0, len(opts.MaskSelectors))
	for _, sel := range opts.MaskSelectors {
		masks = append(masks, page.Locator(sel))
	}

	data, err := page.Screenshot(screenshotOptions(opts, masks))
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("screenshot: %w", err)
	}
	return artifact.FromImageBytes(data)
}

// Text captures the text content of the first element matching selector,
// or the page HTML when selector is empty.
func Text(page playwright.Page, selector string) (artifact.Artifact, error) {
	if selector == "" {
		html, err := page.Content()
		if err != nil {
			return artifact.Artifact{}, fmt.Errorf("page content: %w", err)
		}
		return artifact.FromText(html), nil
	}
	text, err := page.Locator(selector).First().TextContent()
	if err != nil {
		return artifact.Artifact{}, fmt.Errorf("text of %q: %w", selector, err)
	}
	return artifact.FromText(text), nil
}
