package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

const hideWebDriver = `Object.defineProperty(navigator, 'webdriver', { get: () => undefined });`

// ChromeLauncher starts one Chrome process per Launch call.
type ChromeLauncher struct {
	// ExecPath overrides Chrome discovery.
	ExecPath string
	Logger   *zap.Logger
}

// NewChromeLauncher returns a launcher using the locally installed Chrome.
func NewChromeLauncher(execPath string, logger *zap.Logger) *ChromeLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChromeLauncher{ExecPath: execPath, Logger: logger}
}

// Launch starts Chrome with its own profile and opens a single tab.
func (l *ChromeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = 1920, 1080
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.WindowSize(opts.Width, opts.Height),
		chromedp.UserAgent(opts.UserAgent),
	)
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", "new"))
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.ProxyServer != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.ProxyServer))
	}
	if l.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(l.Logger.Sugar().Debugf))

	b := &chromeBrowser{tab: tabCtx, cancelTab: tabCancel, cancelAlloc: allocCancel}
	// The first Run starts the browser process.
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(hideWebDriver).Do(ctx)
		return err
	}))
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return b, nil
}

type chromeBrowser struct {
	tab         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// run executes actions on the tab, bounded additionally by ctx.
func (b *chromeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.tab)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}

func (b *chromeBrowser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, _, errorText, _, err := page.Navigate(url).Do(ctx)
			if err != nil {
				return fmt.Errorf("navigate: %w", err)
			}
			if errorText != "" {
				return fmt.Errorf("navigate: %s", errorText)
			}
			return nil
		}),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

func (b *chromeBrowser) Title(ctx context.Context) (string, error) {
	var title string
	if err := b.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

func (b *chromeBrowser) MoveMouse(ctx context.Context, x, y float64) error {
	if err := b.run(ctx, chromedp.MouseEvent(input.MouseMoved, x, y)); err != nil {
		return fmt.Errorf("move mouse: %w", err)
	}
	return nil
}

func (b *chromeBrowser) HTML(ctx context.Context) (string, error) {
	var html string
	if err := b.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Close cancels the tab and then the allocator, which kills Chrome and waits
// for the process to exit.
func (b *chromeBrowser) Close() error {
	b.cancelTab()
	b.cancelAlloc()
	return nil
}
