package odds

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// UserAgent for page requests
const UserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Renderer loads pages in a headless browser for mirrors that build their
// listings with JavaScript.
type Renderer struct {
	timeout time.Duration
	settle  time.Duration

	// one browser tab at a time
	mu       sync.Mutex
	allocCtx context.Context
	cancel   context.CancelFunc
}

// NewRenderer creates a headless renderer. No browser is started until the
// first Render call.
func NewRenderer(timeout time.Duration) *Renderer {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(UserAgent),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Renderer{
		timeout:  timeout,
		settle:   time.Second,
		allocCtx: allocCtx,
		cancel:   cancel,
	}
}

// Close releases the browser.
func (r *Renderer) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Render returns the outer HTML of url after scripts had a moment to run.
func (r *Renderer) Render(ctx context.Context, url string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	browserCtx, cancel := chromedp.NewContext(r.allocCtx)
	defer cancel()

	// chromedp contexts do not inherit the caller's deadline
	browserCtx, cancel = context.WithTimeout(browserCtx, r.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitVisible(`body`, chromedp.ByQuery),
		chromedp.Sleep(r.settle),
		chromedp.OuterHTML(`html`, &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("chromedp error: %w", err)
	}
	if html == "" {
		return "", errors.New("empty HTML content returned")
	}
	return html, nil
}
