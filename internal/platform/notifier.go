package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Notifier delivers a short message to the operator. Delivery is best
// effort and callers do not act on the error beyond logging it.
type Notifier interface {
	Notify(title, message string) error
}

var ErrNotifyUnsupported = errors.New("platform: no desktop notifier on this system")

// NotifyTimeout bounds a single desktop notification command.
const NotifyTimeout = 5 * time.Second

// commandNotifier runs an external notification tool.
type commandNotifier struct {
	name string
	args func(title, message string) []string
}

func (c commandNotifier) Notify(title, message string) error {
	ctx, cancel := context.WithTimeout(context.Background(), NotifyTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, c.name, c.args(title, message)...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("platform: %s: %w: %s", c.name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ConsoleNotifier prints notifications, for interactive use.
type ConsoleNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleNotifier(w io.Writer) *ConsoleNotifier { return &ConsoleNotifier{w: w} }

func (c *ConsoleNotifier) Notify(title, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "%s: %s\n", title, message)
	return err
}

// ThrottledNotifier drops notifications beyond a token bucket so a mass
// change cannot flood the desktop.
type ThrottledNotifier struct {
	next    Notifier
	limiter *rate.Limiter
	logger  *log.Logger
}

var ErrThrottled = errors.New("platform: notification dropped by rate limit")

// NewThrottledNotifier allows r notifications per second with bursts of b.
func NewThrottledNotifier(next Notifier, r float64, b int, logger *log.Logger) *ThrottledNotifier {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &ThrottledNotifier{next: next, limiter: rate.NewLimiter(rate.Limit(r), b), logger: logger}
}

func (t *ThrottledNotifier) Notify(title, message string) error {
	if !t.limiter.Allow() {
		t.logger.Printf("notification dropped: %s", message)
		return ErrThrottled
	}
	return t.next.Notify(title, message)
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(title, message string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(title, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
