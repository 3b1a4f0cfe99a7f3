// Package browsertest provides an in-memory browser.Page for tests.
//
// The fake models a DOM as a set of selectors, each bound to an Element that
// is attached and optionally visible. Tests script the site's behaviour with
// click and file hooks (a click on the login button changes the URL, a click
// on the compose trigger makes the editor appear) and then assert on the
// recorded action log.
package browsertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/entrhq/postforge/pkg/browser"
)

// ActionKind classifies a recorded page interaction.
type ActionKind string

// Recorded action kinds.
const (
	ActionNavigate   ActionKind = "navigate"
	ActionClick      ActionKind = "click"
	ActionClear      ActionKind = "clear"
	ActionFill       ActionKind = "fill"
	ActionType       ActionKind = "type"
	ActionFiles      ActionKind = "files"
	ActionPress      ActionKind = "press"
	ActionAddCookie  ActionKind = "add_cookie"
	ActionSetStorage ActionKind = "set_storage"
)

// Action is one recorded interaction. Consecutive Type actions on the same
// selector are merged so that per-keystroke typing records a single action.
type Action struct {
	Kind     ActionKind
	Selector string
	Value    string
}

func (a Action) String() string {
	if a.Value == "" {
		return fmt.Sprintf("%s %s", a.Kind, a.Selector)
	}
	return fmt.Sprintf("%s %s %q", a.Kind, a.Selector, a.Value)
}

// Page is a scriptable in-memory browser.Page.
type Page struct {
	mu          sync.Mutex
	url         string
	elements    map[string]*Element
	cookies     []browser.Cookie
	storage     map[browser.StorageArea]map[string]string
	userAgent   string
	actions     []Action
	finds       []string
	redirects   map[string]string
	navigateErr map[string]error
	cookieErr   func(browser.Cookie) error
	storageErr  error
}

// NewPage creates an empty page at about:blank.
func NewPage() *Page {
	return &Page{
		url:         "about:blank",
		elements:    make(map[string]*Element),
		storage:     make(map[browser.StorageArea]map[string]string),
		userAgent:   "Mozilla/5.0 (browsertest)",
		redirects:   make(map[string]string),
		navigateErr: make(map[string]error),
	}
}

// ElementOption configures an element added with Add.
type ElementOption func(*Element)

// Hidden adds the element attached but not visible.
func Hidden() ElementOption {
	return func(e *Element) { e.visible = false }
}

// ClickError makes every click on the element fail with err.
func ClickError(err error) ElementOption {
	return func(e *Element) { e.clickErr = err }
}

// TypeError makes typing and filling the element fail with err.
func TypeError(err error) ElementOption {
	return func(e *Element) { e.typeErr = err }
}

// Add places an element matching selector on the page, replacing any
// existing one.
func (p *Page) Add(selector string, opts ...ElementOption) *Element {
	el := &Element{page: p, selector: selector, visible: true}
	for _, opt := range opts {
		opt(el)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.elements[selector] = el
	return el
}

// Remove detaches the element matching selector.
func (p *Page) Remove(selector string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, selector)
}

// Element returns the element bound to selector, or nil.
func (p *Page) Element(selector string) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.elements[selector]
}

// SetURL changes the current URL without recording a navigation.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

// Redirect makes navigation to from land on to.
func (p *Page) Redirect(from, to string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.redirects[from] = to
}

// FailNavigation makes navigation to url fail with err.
func (p *Page) FailNavigation(url string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigateErr[url] = err
}

// RejectCookies installs a predicate; cookies for which it returns an error
// are refused by AddCookie.
func (p *Page) RejectCookies(fn func(browser.Cookie) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookieErr = fn
}

// FailStorageWrites makes every SetStorageItem fail with err.
func (p *Page) FailStorageWrites(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.storageErr = err
}

// SetCookies replaces the cookie jar.
func (p *Page) SetCookies(cookies []browser.Cookie) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cookies = append([]browser.Cookie(nil), cookies...)
}

// SetStorage replaces a storage area.
func (p *Page) SetStorage(area browser.StorageArea, entries map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	copied := make(map[string]string, len(entries))
	for k, v := range entries {
		copied[k] = v
	}
	p.storage[area] = copied
}

// SetUserAgent changes the reported user agent.
func (p *Page) SetUserAgent(ua string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userAgent = ua
}

// Actions returns the recorded interactions in order.
func (p *Page) Actions() []Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Action(nil), p.actions...)
}

// ActionsOf returns the recorded interactions of one kind.
func (p *Page) ActionsOf(kind ActionKind) []Action {
	var out []Action
	for _, a := range p.Actions() {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

// Finds returns every selector passed to Find, in order.
func (p *Page) Finds() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.finds...)
}

// CookieJar returns the current cookies.
func (p *Page) CookieJar() []browser.Cookie {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Cookie(nil), p.cookies...)
}

// StorageEntries returns a copy of a storage area.
func (p *Page) StorageEntries(area browser.StorageArea) map[string]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]string, len(p.storage[area]))
	for k, v := range p.storage[area] {
		out[k] = v
	}
	return out
}

func (p *Page) record(a Action) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if a.Kind == ActionType && len(p.actions) > 0 {
		last := &p.actions[len(p.actions)-1]
		if last.Kind == ActionType && last.Selector == a.Selector {
			last.Value += a.Value
			return
		}
	}
	p.actions = append(p.actions, a)
}

// Navigate implements browser.Page.
func (p *Page) Navigate(ctx context.Context, url string, _ browser.NavigateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.record(Action{Kind: ActionNavigate, Value: url})

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.navigateErr[url]; err != nil {
		return err
	}
	if to, ok := p.redirects[url]; ok {
		p.url = to
	} else {
		p.url = url
	}
	return nil
}

// URL implements browser.Page.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Find implements browser.Page. Missing or invisible elements fail at once;
// the fake never waits.
func (p *Page) Find(ctx context.Context, selector string, state browser.ElementState, _ time.Duration) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.finds = append(p.finds, selector)

	el, ok := p.elements[selector]
	if !ok {
		return nil, fmt.Errorf("timeout waiting for %q", selector)
	}
	if state != browser.StateAttached && !el.visible {
		return nil, fmt.Errorf("timeout waiting for %q to be visible", selector)
	}
	return el, nil
}

// PressKey implements browser.Page.
func (p *Page) PressKey(key string) error {
	p.record(Action{Kind: ActionPress, Value: key})
	return nil
}

// Cookies implements browser.Page.
func (p *Page) Cookies() ([]browser.Cookie, error) {
	return p.CookieJar(), nil
}

// AddCookie implements browser.Page.
func (p *Page) AddCookie(cookie browser.Cookie) error {
	p.mu.Lock()
	reject := p.cookieErr
	p.mu.Unlock()

	if reject != nil {
		if err := reject(cookie); err != nil {
			return err
		}
	}
	p.record(Action{Kind: ActionAddCookie, Selector: cookie.Domain, Value: cookie.Name})

	p.mu.Lock()
	defer p.mu.Unlock()
	for i, c := range p.cookies {
		if c.Name == cookie.Name && c.Domain == cookie.Domain && c.Path == cookie.Path {
			p.cookies[i] = cookie
			return nil
		}
	}
	p.cookies = append(p.cookies, cookie)
	return nil
}

// Storage implements browser.Page.
func (p *Page) Storage(area browser.StorageArea) (map[string]string, error) {
	return p.StorageEntries(area), nil
}

// SetStorageItem implements browser.Page.
func (p *Page) SetStorageItem(area browser.StorageArea, key, value string) error {
	p.mu.Lock()
	err := p.storageErr
	p.mu.Unlock()
	if err != nil {
		return err
	}

	p.record(Action{Kind: ActionSetStorage, Selector: string(area), Value: key})

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.storage[area] == nil {
		p.storage[area] = make(map[string]string)
	}
	p.storage[area][key] = value
	return nil
}

// UserAgent implements browser.Page.
func (p *Page) UserAgent() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userAgent, nil
}

// Element is a fake DOM element.
type Element struct {
	page     *Page
	selector string
	visible  bool

	mu       sync.Mutex
	value    string
	files    []string
	clicks   int
	clickErr error
	typeErr  error
	onClick  func()
	onFiles  func(paths []string)
}

// OnClick registers a hook run after each successful click.
func (e *Element) OnClick(fn func()) *Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onClick = fn
	return e
}

// OnFiles registers a hook run after files are set.
func (e *Element) OnFiles(fn func(paths []string)) *Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFiles = fn
	return e
}

// Show makes a hidden element visible.
func (e *Element) Show() {
	e.page.mu.Lock()
	defer e.page.mu.Unlock()
	e.visible = true
}

// Value returns the text content entered into the element.
func (e *Element) Value() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value
}

// Files returns the paths set on a file input.
func (e *Element) Files() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.files...)
}

// Clicks returns how many times the element was clicked.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

// Click implements browser.Element.
func (e *Element) Click(_ time.Duration) error {
	e.mu.Lock()
	if e.clickErr != nil {
		err := e.clickErr
		e.mu.Unlock()
		return err
	}
	e.clicks++
	hook := e.onClick
	e.mu.Unlock()

	e.page.record(Action{Kind: ActionClick, Selector: e.selector})
	if hook != nil {
		hook()
	}
	return nil
}

// Clear implements browser.Element.
func (e *Element) Clear() error {
	e.mu.Lock()
	e.value = ""
	e.mu.Unlock()
	e.page.record(Action{Kind: ActionClear, Selector: e.selector})
	return nil
}

// Fill implements browser.Element.
func (e *Element) Fill(text string) error {
	e.mu.Lock()
	if e.typeErr != nil {
		err := e.typeErr
		e.mu.Unlock()
		return err
	}
	e.value = text
	e.mu.Unlock()
	e.page.record(Action{Kind: ActionFill, Selector: e.selector, Value: text})
	return nil
}

// Type implements browser.Element.
func (e *Element) Type(text string) error {
	e.mu.Lock()
	if e.typeErr != nil {
		err := e.typeErr
		e.mu.Unlock()
		return err
	}
	e.value += text
	e.mu.Unlock()
	e.page.record(Action{Kind: ActionType, Selector: e.selector, Value: text})
	return nil
}

// SetFiles implements browser.Element.
func (e *Element) SetFiles(paths ...string) error {
	e.mu.Lock()
	e.files = append([]string(nil), paths...)
	hook := e.onFiles
	e.mu.Unlock()

	e.page.record(Action{Kind: ActionFiles, Selector: e.selector, Value: fmt.Sprint(paths)})
	if hook != nil {
		hook(paths)
	}
	return nil
}

// Launcher is a fake browser.Launcher handing out a single page.
type Launcher struct {
	mu       sync.Mutex
	page     *Page
	err      error
	launches int
	closes   int
	opts     []browser.LaunchOptions
}

// NewLauncher creates a launcher that serves page.
func NewLauncher(page *Page) *Launcher {
	return &Launcher{page: page}
}

// FailWith makes every launch fail with err.
func (l *Launcher) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

// Launch implements browser.Launcher.
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	l.opts = append(l.opts, opts)
	if l.err != nil {
		return nil, l.err
	}
	return &handle{launcher: l}, nil
}

// Launches returns how many times Launch was called.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launches
}

// Closes returns how many handles were closed.
func (l *Launcher) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closes
}

// LastOptions returns the options of the most recent launch.
func (l *Launcher) LastOptions() browser.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.opts) == 0 {
		return browser.LaunchOptions{}
	}
	return l.opts[len(l.opts)-1]
}

type handle struct {
	launcher *Launcher
	once     sync.Once
}

func (h *handle) Page() browser.Page {
	return h.launcher.page
}

func (h *handle) Close() error {
	h.once.Do(func() {
		h.launcher.mu.Lock()
		h.launcher.closes++
		h.launcher.mu.Unlock()
	})
	return nil
}
