package app

import (
	"context"
	"fmt"
	"time"

	"github.com/moveinn/minn/internal/bus"
	"github.com/moveinn/minn/internal/config"
	"github.com/moveinn/minn/internal/conversation"
	"github.com/moveinn/minn/internal/directory"
	"github.com/moveinn/minn/internal/lock"
	"github.com/moveinn/minn/internal/logging"
	"github.com/moveinn/minn/internal/rest"
	"github.com/moveinn/minn/internal/session"
	"github.com/moveinn/minn/internal/status"
	"github.com/moveinn/minn/internal/tui"
	"github.com/moveinn/minn/internal/ws"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the client, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("minn",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideSession,
			provideREST,
			provideChannel,
			provideDirectory,
			provideReconciler,
			provideApp,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig() *config.Config {
	return config.LoadOrDefault(session.ConfigPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideSession(p Params, logger *zap.Logger) (*session.Session, error) {
	sess, err := session.NewSession(p.SessionName)
	if err != nil {
		return nil, fmt.Errorf("load session %q: %w", p.SessionName, err)
	}
	if sess.Expired(time.Now()) {
		return nil, fmt.Errorf("session %q token is expired, log in again", p.SessionName)
	}
	logger.Info("session loaded", zap.String("user", sess.UserID))
	return sess, nil
}

func provideREST(cfg *config.Config, sess *session.Session, logger *zap.Logger) *rest.Client {
	return rest.New(cfg.APIBaseURL, sess, logger)
}

func provideChannel(cfg *config.Config, sess *session.Session, b *bus.Bus, m *status.Machine, logger *zap.Logger) *ws.Channel {
	return ws.NewChannel(cfg.ChannelURL, sess, b, m, logger)
}

func provideDirectory(c *rest.Client, b *bus.Bus, logger *zap.Logger) *directory.Directory {
	return directory.New(c, b, logger)
}

func provideReconciler(sess *session.Session, ch *ws.Channel, c *rest.Client, b *bus.Bus, logger *zap.Logger) *conversation.Reconciler {
	return conversation.New(sess.UserID, ch, c, b, logger)
}

func provideApp(p Params, d *directory.Directory, r *conversation.Reconciler, ch *ws.Channel, m *status.Machine, b *bus.Bus, logger *zap.Logger) *tui.App {
	return tui.NewApp(d, r, ch, m, b, logger, p.SessionName)
}

func registerLifecycle(lc fx.Lifecycle, sd fx.Shutdowner, app *tui.App, ch *ws.Channel, d *directory.Directory, r *conversation.Reconciler, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Directory and reconciler subscribe before the channel dials, so
			// the first frames off the socket are not lost.
			d.Start(context.Background())
			r.Start(context.Background())
			ch.Start(context.Background())

			go func() {
				if err := d.Load(context.Background()); err != nil {
					logger.Error("initial contact load failed", zap.Error(err))
				}
			}()

			go func() {
				if err := app.Run(); err != nil {
					logger.Error("tui error", zap.Error(err))
				}
				_ = sd.Shutdown()
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			app.Stop()
			ch.Stop()
			r.Stop()
			d.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
