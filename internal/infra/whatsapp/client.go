package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// DefaultURL is the WhatsApp Web entry page
const DefaultURL = "https://web.whatsapp.com"

var (
	// ErrNotStarted is returned when an operation runs before Start
	ErrNotStarted = errors.New("whatsapp client not started")
	// ErrContactNotFound is returned when the search shows no chat with the given title
	ErrContactNotFound = errors.New("contact not found")
)

// Config configures the browser session
type Config struct {
	URL        string
	ProfileDir string // persistent Chrome profile; keeps the login across restarts
	BrowserBin string // empty to let rod find or download a browser
	Headless   bool
	OpTimeout  time.Duration
	LoginWait  time.Duration // how long Start waits for the chat list
}

// ChatItem is a row of the chat list
type ChatItem struct {
	Name    string `json:"name"`
	Preview string `json:"preview"`
	Sender  string `json:"sender"`
	Unread  int    `json:"unread"`
	Bold    bool   `json:"bold"`
}

// Bubble is a message bubble of the open conversation
type Bubble struct {
	ID       string `json:"id"`
	Sender   string `json:"sender"`
	Text     string `json:"text"`
	Time     string `json:"time"`
	Outgoing bool   `json:"outgoing"`
	Kind     string `json:"kind"`
}

// Status is the browser session state
type Status struct {
	BrowserRunning bool
	LoggedIn       bool
	PhoneConnected bool
}

// Client drives WhatsApp Web in a Chrome instance. It is not safe for
// concurrent use; the page has a single cursor.
type Client struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	page     *rod.Page
	release  func() error // closes the browser and kills Chrome
	openChat string

	launch    func(ctx context.Context) (*rod.Browser, *rod.Page, func() error, error)
	waitReady func(ctx context.Context, page *rod.Page) error
}

// NewClient creates a client; Start launches the browser
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 15 * time.Second
	}
	if cfg.LoginWait <= 0 {
		cfg.LoginWait = 2 * time.Minute
	}
	c := &Client{cfg: cfg, logger: logger}
	c.launch = c.launchChrome
	c.waitReady = c.waitForChatList
	return c
}

// Start launches Chrome with the persistent profile, opens WhatsApp Web and
// waits for the chat list. ctx bounds the lifetime of the browser connection.
// If the chat list never shows up Chrome is stopped again.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	browser, page, release, err := c.launch(ctx)
	if err != nil {
		return err
	}
	c.browser = browser
	c.page = page
	c.release = release

	c.logger.Info("Waiting for WhatsApp Web login", zap.Duration("timeout", c.cfg.LoginWait))
	if err := c.waitReady(ctx, page); err != nil {
		if cerr := c.closeLocked(); cerr != nil {
			c.logger.Warn("Failed to stop chrome", zap.Error(cerr))
		}
		return fmt.Errorf("wait for chat list (scan the QR code with your phone): %w", err)
	}
	c.logger.Info("WhatsApp Web ready")
	return nil
}

func (c *Client) launchChrome(ctx context.Context) (*rod.Browser, *rod.Page, func() error, error) {
	l := launcher.New().Headless(c.cfg.Headless).Leakless(false)
	if c.cfg.BrowserBin != "" {
		l = l.Bin(c.cfg.BrowserBin)
	}
	if c.cfg.ProfileDir != "" {
		l = l.UserDataDir(c.cfg.ProfileDir)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("launch chrome: %w", err)
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, nil, nil, fmt.Errorf("connect to chrome: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: c.cfg.URL})
	if err != nil {
		_ = browser.Close()
		l.Kill()
		return nil, nil, nil, fmt.Errorf("open whatsapp web: %w", err)
	}

	release := func() error {
		err := browser.Close()
		l.Kill()
		return err
	}
	return browser, page, release, nil
}

func (c *Client) waitForChatList(ctx context.Context, page *rod.Page) error {
	wait := page.Context(ctx).Timeout(c.cfg.LoginWait)
	defer wait.CancelTimeout()
	_, err := wait.Element(selChatList)
	return err
}

func (c *Client) pageFor(ctx context.Context) (*rod.Page, error) {
	if c.page == nil {
		return nil, ErrNotStarted
	}
	return c.page.Context(ctx).Timeout(c.cfg.OpTimeout), nil
}

// UnreadChats returns up to limit chat rows showing an unread indicator
func (c *Client) UnreadChats(ctx context.Context, limit int) ([]ChatItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	page, err := c.pageFor(ctx)
	if err != nil {
		return nil, err
	}
	defer page.CancelTimeout()
	var items []ChatItem
	if err := evalJSON(page, scanChatsJS, &items, limit); err != nil {
		return nil, fmt.Errorf("scan chat list: %w", err)
	}
	return items, nil
}

// ReadMessages opens a chat and returns its last limit bubbles, oldest first
func (c *Client) ReadMessages(ctx context.Context, chat string, limit int) ([]Bubble, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	page, err := c.pageFor(ctx)
	if err != nil {
		return nil, err
	}
	defer page.CancelTimeout()
	if err := c.open(page, chat); err != nil {
		return nil, err
	}
	if err := page.WaitStable(300 * time.Millisecond); err != nil {
		c.logger.Debug("Conversation did not settle", zap.String("chat", chat), zap.Error(err))
	}

	var bubbles []Bubble
	if err := evalJSON(page, readMessagesJS, &bubbles, limit); err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}
	return bubbles, nil
}

// SendText opens a chat and types the message. Newlines are entered with
// Shift+Enter so the message is sent once.
func (c *Client) SendText(ctx context.Context, chat, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	page, err := c.pageFor(ctx)
	if err != nil {
		return err
	}
	defer page.CancelTimeout()
	if err := c.open(page, chat); err != nil {
		return err
	}

	box, err := page.Element(selMessageBox)
	if err != nil {
		return fmt.Errorf("find message box: %w", err)
	}
	if err := box.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("focus message box: %w", err)
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if line != "" {
			if err := box.Input(line); err != nil {
				return fmt.Errorf("type message: %w", err)
			}
		}
		if i < len(lines)-1 {
			if err := shiftEnter(page); err != nil {
				return fmt.Errorf("type newline: %w", err)
			}
		}
	}
	if err := page.Keyboard.Type(input.Enter); err != nil {
		return fmt.Errorf("press enter: %w", err)
	}
	return nil
}

func shiftEnter(page *rod.Page) error {
	if err := page.Keyboard.Press(input.ShiftLeft); err != nil {
		return err
	}
	defer page.Keyboard.Release(input.ShiftLeft)
	return page.Keyboard.Type(input.Enter)
}

// open focuses a chat through the search box unless it is already open
func (c *Client) open(page *rod.Page, chat string) error {
	if c.openChat == chat {
		if ok, _, _ := page.Has(`[data-testid="conversation-panel-messages"]`); ok {
			return nil
		}
	}
	c.openChat = ""

	search, err := page.Element(selSearchBox)
	if err != nil {
		return fmt.Errorf("find search box: %w", err)
	}
	if err := search.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("focus search box: %w", err)
	}
	_ = search.SelectAllText()
	if err := search.Input(chat); err != nil {
		return fmt.Errorf("type contact: %w", err)
	}

	contact, err := page.ElementX(fmt.Sprintf(`//span[@title=%s]`, xpathLiteral(chat)))
	if err != nil {
		return fmt.Errorf("%w: %s", ErrContactNotFound, chat)
	}
	if err := contact.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("open chat: %w", err)
	}
	c.openChat = chat
	return nil
}

// Reload reloads WhatsApp Web and waits for the chat list
func (c *Client) Reload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.openChat = ""
	if c.page == nil {
		return ErrNotStarted
	}
	page := c.page.Context(ctx).Timeout(c.cfg.LoginWait)
	defer page.CancelTimeout()
	if err := page.Reload(); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	if _, err := page.Element(selChatList); err != nil {
		return fmt.Errorf("wait for chat list: %w", err)
	}
	return nil
}

// Status inspects the browser session
func (c *Client) Status(ctx context.Context) Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	var st Status
	if c.browser == nil || c.page == nil {
		return st
	}
	if _, err := c.browser.Context(ctx).Version(); err != nil {
		return st
	}
	st.BrowserRunning = true

	page := c.page.Context(ctx).Timeout(c.cfg.OpTimeout)
	defer page.CancelTimeout()
	if ok, _, err := page.Has(selChatList); err == nil {
		st.LoggedIn = ok
	}
	st.PhoneConnected = true
	if res, err := page.Eval(phoneOfflineJS); err == nil && res.Value.Bool() {
		st.PhoneConnected = false
	}
	return st
}

// Close closes the browser and stops the Chrome process. The profile
// directory is kept.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	var err error
	if c.release != nil {
		err = c.release()
		c.release = nil
	}
	c.browser = nil
	c.page = nil
	c.openChat = ""
	return err
}

// evalJSON runs a script returning JSON.stringify output and decodes it
func evalJSON(page *rod.Page, js string, out any, args ...any) error {
	res, err := page.Eval(js, args...)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(res.Value.Str()), out)
}

// xpathLiteral quotes s for use in an XPath expression
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, len(parts)*2)
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		quoted = append(quoted, `"`+p+`"`)
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}
