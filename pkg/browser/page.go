package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/playwright-community/playwright-go"
)

// pwPage implements Page on a Playwright page and its browser context.
type pwPage struct {
	page    playwright.Page
	context playwright.BrowserContext
}

func (p *pwPage) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	gotoOpts := playwright.PageGotoOptions{}
	if opts.WaitUntil != "" {
		waitUntil := playwright.WaitUntilState(opts.WaitUntil)
		gotoOpts.WaitUntil = &waitUntil
	}
	if opts.Timeout > 0 {
		gotoOpts.Timeout = ms(opts.Timeout)
	}

	if _, err := p.page.Goto(url, gotoOpts); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

func (p *pwPage) Find(ctx context.Context, selector string, state ElementState, timeout time.Duration) (Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if state == "" {
		state = StateVisible
	}

	locator := p.page.Locator(selector).First()
	waitState := playwright.WaitForSelectorState(state)
	err := locator.WaitFor(playwright.LocatorWaitForOptions{
		State:   &waitState,
		Timeout: ms(timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("wait for %q failed: %w", selector, err)
	}
	return &pwElement{locator: locator}, nil
}

func (p *pwPage) PressKey(key string) error {
	if err := p.page.Keyboard().Press(key); err != nil {
		return fmt.Errorf("key press %s failed: %w", key, err)
	}
	return nil
}

func (p *pwPage) Cookies() ([]Cookie, error) {
	raw, err := p.context.Cookies()
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookie := Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HttpOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != nil {
			cookie.SameSite = string(*c.SameSite)
		}
		cookies = append(cookies, cookie)
	}
	return cookies, nil
}

func (p *pwPage) AddCookie(cookie Cookie) error {
	opt := playwright.OptionalCookie{
		Name:     cookie.Name,
		Value:    cookie.Value,
		Domain:   playwright.String(cookie.Domain),
		Path:     playwright.String(cookie.Path),
		HttpOnly: playwright.Bool(cookie.HTTPOnly),
		Secure:   playwright.Bool(cookie.Secure),
	}
	if cookie.Path == "" {
		opt.Path = playwright.String("/")
	}
	if cookie.Expires > 0 {
		opt.Expires = playwright.Float(cookie.Expires)
	}
	if cookie.SameSite != "" {
		sameSite := playwright.SameSiteAttribute(cookie.SameSite)
		opt.SameSite = &sameSite
	}

	if err := p.context.AddCookies([]playwright.OptionalCookie{opt}); err != nil {
		return fmt.Errorf("failed to add cookie %s: %w", cookie.Name, err)
	}
	return nil
}

const readStorageScript = `(area) => {
  const store = window[area];
  const out = {};
  for (let i = 0; i < store.length; i++) {
    const key = store.key(i);
    out[key] = store.getItem(key);
  }
  return out;
}`

const writeStorageScript = `([area, key, value]) => { window[area].setItem(key, value); }`

func (p *pwPage) Storage(area StorageArea) (map[string]string, error) {
	raw, err := p.page.Evaluate(readStorageScript, string(area))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", area, err)
	}

	entries := make(map[string]string)
	values, ok := raw.(map[string]interface{})
	if !ok {
		return entries, nil
	}
	for key, value := range values {
		if s, ok := value.(string); ok {
			entries[key] = s
		}
	}
	return entries, nil
}

func (p *pwPage) SetStorageItem(area StorageArea, key, value string) error {
	if _, err := p.page.Evaluate(writeStorageScript, []string{string(area), key, value}); err != nil {
		return fmt.Errorf("failed to write %s[%s]: %w", area, key, err)
	}
	return nil
}

func (p *pwPage) UserAgent() (string, error) {
	raw, err := p.page.Evaluate(`() => navigator.userAgent`)
	if err != nil {
		return "", fmt.Errorf("failed to read user agent: %w", err)
	}
	ua, _ := raw.(string)
	return ua, nil
}

// pwElement implements Element on a Playwright locator.
type pwElement struct {
	locator playwright.Locator
}

func (e *pwElement) Click(timeout time.Duration) error {
	opts := playwright.LocatorClickOptions{}
	if timeout > 0 {
		opts.Timeout = ms(timeout)
	}
	if err := e.locator.Click(opts); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (e *pwElement) Clear() error {
	if err := e.locator.Clear(); err != nil {
		return fmt.Errorf("clear failed: %w", err)
	}
	return nil
}

func (e *pwElement) Fill(text string) error {
	if err := e.locator.Fill(text); err != nil {
		return fmt.Errorf("fill failed: %w", err)
	}
	return nil
}

func (e *pwElement) Type(text string) error {
	if err := e.locator.PressSequentially(text); err != nil {
		return fmt.Errorf("typing failed: %w", err)
	}
	return nil
}

func (e *pwElement) SetFiles(paths ...string) error {
	if err := e.locator.SetInputFiles(paths); err != nil {
		return fmt.Errorf("setting input files failed: %w", err)
	}
	return nil
}
