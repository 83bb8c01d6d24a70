package export

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ChromePDF prints pages with a headless Chromium found on PATH.
type ChromePDF struct {
	Binaries []string
	Timeout  time.Duration
	// Margin is applied to every side, in inches, on US Letter paper.
	Margin float64
}

func defaultChromePDF() *ChromePDF {
	return &ChromePDF{
		Binaries: []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"},
		Timeout:  30 * time.Second,
		Margin:   0.75,
	}
}

func (c *ChromePDF) binary() (string, error) {
	for _, name := range c.Binaries {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: no chromium binary on PATH", ErrPDFDependencyMissing)
}

// Convert loads html into a blank tab and prints it.
func (c *ChromePDF) Convert(ctx context.Context, html string) ([]byte, error) {
	bin, err := c.binary()
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(bin),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()

	var out []byte
	err = chromedp.Run(tabCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(tree.Frame.ID, html).Do(ctx)
		}),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var printErr error
			out, _, printErr = page.PrintToPDF().
				WithPrintBackground(true).
				WithPreferCSSPageSize(true).
				WithPaperWidth(8.5).
				WithPaperHeight(11).
				WithMarginTop(c.Margin).
				WithMarginBottom(c.Margin).
				WithMarginLeft(c.Margin).
				WithMarginRight(c.Margin).
				Do(ctx)
			return printErr
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return out, nil
}
