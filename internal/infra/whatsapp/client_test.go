package whatsapp

import (
	"context"
	"errors"
	"testing"

	"github.com/go-rod/rod"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestXPathLiteral(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Chen", `"Chen"`},
		{`Say "hi"`, `'Say "hi"'`},
		{`Bob's "crew"`, `concat("Bob's ", '"', "crew", '"', "")`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, xpathLiteral(tt.in), tt.in)
	}
}

func TestClientNotStarted(t *testing.T) {
	c := NewClient(Config{}, zap.NewNop())
	ctx := context.Background()

	_, err := c.UnreadChats(ctx, 5)
	assert.ErrorIs(t, err, ErrNotStarted)

	_, err = c.ReadMessages(ctx, "Chen", 5)
	assert.ErrorIs(t, err, ErrNotStarted)

	assert.ErrorIs(t, c.SendText(ctx, "Chen", "hi"), ErrNotStarted)
	assert.ErrorIs(t, c.Reload(ctx), ErrNotStarted)
	assert.Equal(t, Status{}, c.Status(ctx))
	assert.NoError(t, c.Close())
}

func TestNewClientDefaults(t *testing.T) {
	c := NewClient(Config{}, zap.NewNop())
	assert.Equal(t, DefaultURL, c.cfg.URL)
	assert.Positive(t, c.cfg.OpTimeout)
	assert.Positive(t, c.cfg.LoginWait)
}

func TestStart_LoginTimeoutStopsChrome(t *testing.T) {
	c := NewClient(Config{}, zap.NewNop())
	released := 0
	c.launch = func(ctx context.Context) (*rod.Browser, *rod.Page, func() error, error) {
		return nil, &rod.Page{}, func() error { released++; return nil }, nil
	}
	c.waitReady = func(ctx context.Context, page *rod.Page) error {
		return context.DeadlineExceeded
	}

	err := c.Start(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, released)
	assert.Nil(t, c.page)
	assert.Nil(t, c.release)

	// nothing left to release
	assert.NoError(t, c.Close())
	assert.Equal(t, 1, released)
}

func TestStart_LaunchFailure(t *testing.T) {
	c := NewClient(Config{}, zap.NewNop())
	launchErr := errors.New("launch chrome: no browser")
	c.launch = func(ctx context.Context) (*rod.Browser, *rod.Page, func() error, error) {
		return nil, nil, nil, launchErr
	}

	assert.ErrorIs(t, c.Start(context.Background()), launchErr)
	assert.ErrorIs(t, c.Reload(context.Background()), ErrNotStarted)
}
