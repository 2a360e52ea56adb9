package notify

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"time"

	"offlinekit/internal/privacy"
	"offlinekit/internal/retry"

	"github.com/sirupsen/logrus"
)

// commandRunner starts an external program and waits for it to exit
type commandRunner func(ctx context.Context, name string, args ...string) error

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// BrowserOpener launches windows in the desktop's default browser
type BrowserOpener struct {
	backoff *retry.Backoff
	logger  *logrus.Logger
	goos    string
	run     commandRunner
}

// NewBrowserOpener creates an opener retrying launches with backoff
func NewBrowserOpener(backoff *retry.Backoff, logger *logrus.Logger) *BrowserOpener {
	if backoff == nil {
		backoff = retry.NewBackoff(retry.BackoffConfig{
			InitialDelay: 200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			Multiplier:   2,
			MaxAttempts:  3,
		})
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BrowserOpener{backoff: backoff, logger: logger, goos: runtime.GOOS, run: runCommand}
}

// Open launches target. Only http and https URLs are accepted.
func (o *BrowserOpener) Open(ctx context.Context, target string) error {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("refusing to open non-http URL %q", target)
	}

	name, args := o.command(u.String())
	attempt := 0
	err = o.backoff.Retry(ctx, func() error {
		attempt++
		if err := o.run(ctx, name, args...); err != nil {
			o.logger.WithError(err).WithFields(logrus.Fields{
				"url":     privacy.MaskURLQuery(target),
				"attempt": attempt,
			}).Warn("Retrying window launch")
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	return nil
}

func (o *BrowserOpener) command(target string) (string, []string) {
	switch o.goos {
	case "darwin":
		return "open", []string{target}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", target}
	default:
		return "xdg-open", []string{target}
	}
}
