package wsauth

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often a Controller checks its shutdown flag.
const DefaultPollInterval = time.Second

// Controller runs one Session for the lifetime of a process and closes it
// gracefully on a termination signal.
//
// A signal only sets the controller's shutdown flag. The controller polls
// that flag and, once it is set, stops the session and waits for the close
// handshake to finish.
type Controller struct {
	Session *Session

	// Signals that request shutdown. Defaults to SIGINT and SIGTERM.
	Signals []os.Signal

	PollInterval time.Duration

	Logger *zap.Logger

	shutdown atomic.Bool
}

// NewController creates a controller for s with the default signals and
// poll interval.
func NewController(s *Session) *Controller {
	return &Controller{
		Session:      s,
		Signals:      []os.Signal{os.Interrupt, syscall.SIGTERM},
		PollInterval: DefaultPollInterval,
		Logger:       s.Logger,
	}
}

// Shutdown sets the shutdown flag. It is what a termination signal does,
// and nothing more.
func (c *Controller) Shutdown() {
	c.shutdown.Store(true)
}

// ShuttingDown reports whether the shutdown flag is set.
func (c *Controller) ShuttingDown() bool {
	return c.shutdown.Load()
}

// Run starts the session and blocks until it ends, either on its own or
// after a shutdown request. It returns the session's error.
func (c *Controller) Run(ctx context.Context, handle MessageHandler) error {
	if c.Session == nil {
		return errors.New("controller has no session")
	}

	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	quit := make(chan struct{})
	defer close(quit)

	if len(c.Signals) > 0 {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, c.Signals...)
		defer signal.Stop(sigCh)

		go func() {
			for {
				select {
				case <-sigCh:
					c.Shutdown()
				case <-quit:
					return
				}
			}
		}()
	}

	errCh := c.Session.Start(ctx, handle)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case err := <-errCh:
			return err
		case <-ticker.C:
			if !c.shutdown.Load() {
				continue
			}

			logger.Info("termination requested, closing session",
				zap.Stringer("phase", c.Session.Phase()))
			c.Session.Stop()
			return <-errCh
		}
	}
}
