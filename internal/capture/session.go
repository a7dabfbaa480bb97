package capture

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/playwright-community/playwright-go"
)

// Browsers that can render pages.
var Browsers = []string{"chromium", "firefox", "webkit"}

// SessionConfig describes the browser to start.
type SessionConfig struct {
	Browser  string // chromium (default), firefox or webkit
	Headless bool
	Width    int
	Height   int
	Timeout  time.Duration
}

// Session owns a running playwright driver, browser and page.
type Session struct {
	Playwright *playwright.Playwright
	Browser    playwright.Browser
	Context    playwright.BrowserContext
	Page       playwright.Page
	Renderer   string
}

// browserType selects the playwright browser for name.
func browserType(pw *playwright.Playwright, name string) (playwright.BrowserType, error) {
	switch name {
	case "", "chromium":
		return pw.Chromium, nil
	case "firefox":
		return pw.Firefox, nil
	case "webkit":
		return pw.WebKit, nil
	default:
		return nil, fmt.Errorf("unknown browser %q (want one of %v)", name, Browsers)
	}
}

// Launch starts playwright and opens a page. Browsers are installed first
// unless PLAYWRIGHT_PREINSTALLED=1.
func Launch(cfg SessionConfig) (*Session, error) {
	if cfg.Width == 0 {
		cfg.Width = 1280
	}
	if cfg.Height == 0 {
		cfg.Height = 720
	}

	if os.Getenv("PLAYWRIGHT_PREINSTALLED") != "1" {
		if err := playwright.Install(); err != nil {
			return nil, fmt.Errorf("could not install playwright browsers: %w", err)
		}
	}
	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("could not start playwright: %w", err)
	}
	s := &Session{Playwright: pw}

	bt, err := browserType(pw, cfg.Browser)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Browser, err = bt.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("could not launch browser: %w", err)
	}
	s.Renderer = bt.Name()

	s.Context, err = s.Browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: cfg.Width, Height: cfg.Height},
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("could not create context: %w", err)
	}

	s.Page, err = s.Context.NewPage()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("could not create page: %w", err)
	}
	if cfg.Timeout > 0 {
		s.Page.SetDefaultTimeout(float64(cfg.Timeout.Milliseconds()))
	}
	return s, nil
}

// Goto navigates and waits for the network to go idle.
func (s *Session) Goto(url string) error {
	if _, err := s.Page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateNetworkidle,
	}); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

// Close releases the page, browser and driver.
func (s *Session) Close() error {
	var errs []error
	if s.Page != nil {
		errs = append(errs, s.Page.Close())
	}
	if s.Context != nil {
		errs = append(errs, s.Context.Close())
	}
	if s.Browser != nil {
		errs = append(errs, s.Browser.Close())
	}
	if s.Playwright != nil {
		errs = append(errs, s.Playwright.Stop())
	}
	return errors.Join(errs...)
}
