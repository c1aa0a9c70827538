package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/roboricindustries/rescue-events/internal/config"
	"github.com/roboricindustries/rescue-events/internal/obs"
	"github.com/roboricindustries/rescue-events/pkg/credential"
	"github.com/roboricindustries/rescue-events/pkg/gateway"
	"github.com/roboricindustries/rescue-events/pkg/notify"
	"github.com/roboricindustries/rescue-events/pkg/pubsub"
	"github.com/roboricindustries/rescue-events/pkg/schemas/common"
	"github.com/roboricindustries/rescue-events/pkg/schemas/notifications"
	"github.com/roboricindustries/rescue-events/pkg/session"
)

const usage = `usage: rescue-notify <command> [flags]

commands:
  listen   log in, open the notification channel and log everything it delivers
  emit     publish a notification frame to a user's destination
  logout   forget the stored session token
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "listen":
		err = runListen(ctx, os.Args[2:])
	case "emit":
		err = runEmit(ctx, os.Args[2:])
	case "logout":
		err = runLogout(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "rescue-notify:", err)
		os.Exit(1)
	}
}

func load(name string, args []string, extra func(*pflag.FlagSet)) (*config.Config, *slog.Logger, *pflag.FlagSet, error) {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	config.Flags(flags)
	if extra != nil {
		extra(flags)
	}
	if err := flags.Parse(args); err != nil {
		return nil, nil, nil, err
	}
	path, _ := flags.GetString("config")
	cfg, err := config.Load(path, flags)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := obs.NewLogger(obs.LogConfig{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, App: "rescue-notify"})
	return cfg, logger, flags, nil
}

func newTransport(cfg *config.Config, logger *slog.Logger) pubsub.Transport {
	switch cfg.Channel.Kind {
	case config.ChannelAMQP:
		return pubsub.NewAMQPTransport(pubsub.ConnectionOptions{
			URL:       cfg.Channel.AMQPURL,
			Exchange:  cfg.Channel.Exchange,
			Heartbeat: cfg.Channel.Heartbeat,
			Logger:    logger,
		})
	case config.ChannelStomp:
		return pubsub.NewStompTransport(pubsub.StompOptions{
			Endpoints: cfg.Channel.StompEndpoints,
			Heartbeat: cfg.Channel.Heartbeat,
			Logger:    logger,
		})
	}
	return pubsub.NewLoopback(logger)
}

func runListen(ctx context.Context, args []string) error {
	cfg, logger, _, err := load("listen", args, nil)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tokens, err := credential.Open(cfg.Auth.KeyringService)
	if err != nil {
		logger.Warn("keyring unavailable, token will not be kept", slog.Any("error", err))
	}

	gw := gateway.New(gateway.Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Logger:  logger,
	})

	ch, err := notify.NewClient(notify.Config{
		Transport:            newTransport(cfg, logger),
		Logger:               logger,
		Metrics:              notify.NewMetrics(prometheus.DefaultRegisterer),
		ReconnectDelay:       cfg.Channel.ReconnectDelay,
		MaxReconnectAttempts: cfg.Channel.MaxReconnectAttempts,
		OnStatus: func(st notify.Status) {
			logger.Info("channel status",
				slog.String("state", string(st.State)),
				slog.Int("attempts", st.Attempts),
				slog.Bool("exhausted", st.Exhausted),
			)
		},
	})
	if err != nil {
		return err
	}

	exp := &expiry{tokens: tokens, cancel: cancel, logger: logger}
	sessCfg := session.Config{
		API:       gw,
		Channel:   ch,
		Logger:    logger,
		OnExpired: exp.handle,
		OnNotification: func(n notifications.Notification) {
			logger.Info("notification",
				slog.String("id", n.ID),
				slog.String("type", string(n.Type)),
				slog.String("category", n.Category().String()),
				slog.String("title", n.Title),
				slog.String("request", n.RequestRef()),
			)
		},
	}

	sess, err := openSession(ctx, cfg, gw, sessCfg, tokens, logger)
	if err != nil {
		return err
	}
	defer sess.Close()
	exp.arm()

	if cfg.Metrics.Addr != "" {
		ms := obs.BootstrapMetricsServer(cfg.Metrics.Addr, func(context.Context) error {
			if st := sess.ChannelStatus(); st.State != notify.StateConnected {
				return fmt.Errorf("channel %s", st.State)
			}
			return nil
		}, logger)
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
			defer done()
			_ = ms.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("listening",
		slog.String("user", sess.User().ID),
		slog.String("destination", notify.Destination(sess.Identity())),
	)

	tick := time.NewTicker(30 * time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			logger.Info("summary",
				slog.String("badge", sess.Notifications.Badge()),
				slog.Int("active_requests", len(sess.Requests.Active())),
				slog.Int("leads", sess.Leads.Len()),
			)
		}
	}
}

// expiry reacts to a rejected token. Until arm is called a rejection only
// drops the stored token, so openSession can still fall back to a login on
// the same ctx.
type expiry struct {
	tokens *credential.TokenStore
	cancel context.CancelFunc
	logger *slog.Logger
	live   atomic.Bool
}

func (e *expiry) arm() { e.live.Store(true) }

func (e *expiry) handle(err error) {
	e.logger.Warn("session expired", slog.Any("error", err), slog.Bool("listening", e.live.Load()))
	if e.tokens != nil {
		_ = e.tokens.Forget()
	}
	if e.live.Load() {
		e.cancel()
	}
}

// openSession resumes with the stored token when it is still usable and
// logs in with the configured credentials otherwise.
func openSession(ctx context.Context, cfg *config.Config, gw *gateway.Client, sc session.Config, tokens *credential.TokenStore, logger *slog.Logger) (*session.Session, error) {
	if tokens != nil {
		if tok, err := tokens.Token(); err == nil {
			if exp, err := gateway.TokenExpiry(tok); err == nil && time.Now().After(exp) {
				logger.Info("stored token expired", slog.Time("expired_at", exp))
			} else {
				gw.SetToken(tok)
				sess, err := session.Resume(ctx, sc)
				if err == nil {
					return sess, nil
				}
				if !errors.Is(err, gateway.ErrUnauthorized) {
					return nil, err
				}
				logger.Info("stored token rejected, logging in again")
			}
		}
	}

	if cfg.Auth.Email == "" || cfg.Auth.Password == "" {
		return nil, errors.New("no usable token; set auth.email and auth.password")
	}
	sess, err := session.Login(ctx, sc, gateway.LoginRequest{Email: cfg.Auth.Email, Password: cfg.Auth.Password})
	if err != nil {
		return nil, err
	}
	if tokens != nil {
		if err := tokens.SetToken(gw.Token()); err != nil {
			logger.Warn("could not store token", slog.Any("error", err))
		}
	}
	return sess, nil
}

func runEmit(ctx context.Context, args []string) error {
	cfg, logger, flags, err := load("emit", args, func(fs *pflag.FlagSet) {
		fs.String("to", "", "recipient user id")
		fs.String("role", "CUSTOMER", "recipient role: CUSTOMER or MECHANIC")
		fs.String("type", string(notifications.TypeRequestStatusUpdated), "notification type")
		fs.String("title", "", "title")
		fs.String("message", "", "message")
		fs.String("data", "{}", "JSON payload")
	})
	if err != nil {
		return err
	}
	to, _ := flags.GetString("to")
	roleFlag, _ := flags.GetString("role")
	typ, _ := flags.GetString("type")
	title, _ := flags.GetString("title")
	message, _ := flags.GetString("message")
	data, _ := flags.GetString("data")

	var role common.RecipientRole
	if err := role.UnmarshalText([]byte(roleFlag)); err != nil {
		return err
	}
	id := pubsub.Identity{UserID: to, Role: role}
	if err := id.Validate(); err != nil {
		return err
	}
	if !json.Valid([]byte(data)) {
		return fmt.Errorf("--data is not valid JSON")
	}

	var pub pubsub.Publisher
	if cfg.Channel.AMQPURL == "" {
		pub = pubsub.NewFallback(logger)
	} else {
		pub, err = pubsub.NewPublisher(ctx, pubsub.ConnectionOptions{
			URL:       cfg.Channel.AMQPURL,
			Exchange:  cfg.Channel.Exchange,
			Heartbeat: cfg.Channel.Heartbeat,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
	}
	defer pub.Close()

	msgID := uuid.NewString()
	body := map[string]any{
		"id":            msgID,
		"recipientId":   to,
		"recipientType": string(role),
		"type":          typ,
		"title":         title,
		"message":       message,
		"data":          json.RawMessage(data),
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
	}
	return pub.Publish(ctx, notify.Destination(id), pubsub.Message{ID: msgID, Type: typ, Body: body})
}

func runLogout(args []string) error {
	cfg, logger, _, err := load("logout", args, nil)
	if err != nil {
		return err
	}
	tokens, err := credential.Open(cfg.Auth.KeyringService)
	if err != nil {
		return err
	}
	if err := tokens.Forget(); err != nil {
		return err
	}
	logger.Info("token forgotten")
	return nil
}
