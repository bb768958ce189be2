// Package app wires config, logging, storage, transport and the watcher
// together and owns startup/shutdown ordering.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/Mkratenstein/FlodownBot/internal/bot"
	"github.com/Mkratenstein/FlodownBot/internal/config"
	"github.com/Mkratenstein/FlodownBot/internal/notify"
	"github.com/Mkratenstein/FlodownBot/internal/retry"
	"github.com/Mkratenstein/FlodownBot/internal/runtime/supervisor"
	"github.com/Mkratenstein/FlodownBot/internal/storage"
	kit "github.com/Mkratenstein/FlodownBot/internal/transport"
	telegram "github.com/Mkratenstein/FlodownBot/internal/transport/telegram"
	"github.com/Mkratenstein/FlodownBot/internal/watch"
	"github.com/Mkratenstein/FlodownBot/internal/watch/bluesky"
	"github.com/Mkratenstein/FlodownBot/internal/watch/instagram"
	logx "github.com/Mkratenstein/FlodownBot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service

	store   *storage.Store
	adapter *telegram.Adapter
	disp    *notify.Dispatcher
	cursors *watch.Cursors
	watcher *watch.Watcher
	router  *bot.Router

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the chat sink disabled so Apply() doesn't fire
	// before the log target is set.
	baseLogCfg := logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    false,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
	logs, log := logx.New(baseLogCfg, adapter)
	log = log.With(logx.String("comp", "app"))

	if t, ok := parseLogTarget(cfg); ok {
		logs.SetChatTarget(t)
	}
	finalLogCfg := baseLogCfg
	finalLogCfg.Chat.Enabled = cfg.Logging.Telegram.Enabled
	logs.Apply(finalLogCfg)

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	settings, err := mapWatchSettings(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	channelID, _ := cfg.Telegram.Channel.Int64()
	disp := notify.NewDispatcher(notify.Config{
		Target:   kit.ChatTarget{ChatID: channelID},
		Location: settings.Location,
	}, adapter, log.With(logx.String("comp", "notify")))

	fetchers, err := buildFetchers(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	cursors := watch.NewCursors(store, log.With(logx.String("comp", "cursors")))
	watcher := watch.New(watch.Config{
		Settings:       settings,
		WarnAfterFails: cfg.Watch.WarnAfterFailures,
	}, fetchers, cursors, store, disp, adapter.Ready(), log.With(logx.String("comp", "watch")))

	router := bot.NewRouter(adapter, watcher, store, disp,
		func() []int64 {
			if c := cfgm.Get(); c != nil {
				return c.Telegram.OwnerUserIDs
			}
			return nil
		},
		log.With(logx.String("comp", "commands")))

	return &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		store:   store,
		adapter: adapter,
		disp:    disp,
		cursors: cursors,
		watcher: watcher,
		router:  router,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Done is closed when the app context is cancelled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// Transactional reload: a broken edit never replaces the running config.
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		_, err := mapWatchSettings(cfg)
		return err
	})

	a.router.SetRuntimeStats(a.sup.Counters)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	// Restore cursors so a restart doesn't re-announce the last posts.
	srcCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	a.cursors.Load(srcCtx, a.watcher.Sources()...)
	cancel()

	a.sup.Go("watch.run", func(c context.Context) error {
		return a.watcher.Run(c)
	})
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.router.Run(c, a.updates)
	})

	a.sup.Go0("commands.menu_sync", func(c context.Context) {
		mctx, cancel := context.WithTimeout(c, 15*time.Second)
		defer cancel()
		a.router.SyncMenu(mctx)
	})

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// systemd readiness + watchdog (no-op outside systemd).
	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}
	if interval, err := daemon.SdWatchdogEnabled(false); err == nil && interval > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			t := time.NewTicker(interval / 2)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
				}
			}
		})
	}

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}

	if t, ok := parseLogTarget(cfg); ok {
		a.logs.SetChatTarget(t)
	} else {
		a.logs.SetChatTarget(kit.ChatTarget{})
	}
	a.logs.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	})

	// Schedule, active hours and timezone apply at the next wake. The
	// validator already accepted these, so a parse failure here is a bug.
	settings, err := mapWatchSettings(cfg)
	if err != nil {
		a.log.Warn("invalid watch settings; keeping previous", logx.Err(err))
	} else {
		a.watcher.Apply(settings)
	}

	// Token, channel, sources and storage wiring are fixed at startup.
	a.log.Info("config reloaded; source and storage changes need a restart")
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Cancel the run context first; a tick in flight finishes, a pending
	// sleep does not.
	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	step("watcher", 5*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func parseLogTarget(cfg *config.Config) (kit.ChatTarget, bool) {
	if strings.TrimSpace(cfg.Telegram.GroupLog.String()) == "" {
		return kit.ChatTarget{}, false
	}
	chatID, err := cfg.Telegram.GroupLog.Int64()
	if err != nil {
		return kit.ChatTarget{}, false
	}
	return kit.ChatTarget{ChatID: chatID, ThreadID: cfg.Logging.Telegram.ThreadID}, true
}

func mapWatchSettings(cfg *config.Config) (watch.Settings, error) {
	sched, err := watch.ParseSchedule(cfg.Watch.Schedule)
	if err != nil {
		return watch.Settings{}, fmt.Errorf("watch.schedule: %w", err)
	}
	win, err := watch.ParseWindow(cfg.Watch.ActiveHours)
	if err != nil {
		return watch.Settings{}, fmt.Errorf("watch.active_hours: %w", err)
	}
	loc := time.Local
	if tz := strings.TrimSpace(cfg.Watch.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return watch.Settings{}, fmt.Errorf("watch.timezone: %w", err)
		}
	}
	return watch.Settings{Schedule: sched, Window: win, Location: loc}, nil
}

func buildFetchers(cfg *config.Config, log logx.Logger) ([]*watch.Fetcher, error) {
	reqTimeout, err := config.ParseDurationOrDefault("watch.request_timeout", cfg.Watch.RequestTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	retryBase, err := config.ParseDurationOrDefault("watch.retry_base", cfg.Watch.RetryBase, 2*time.Second)
	if err != nil {
		return nil, err
	}
	cooldownMax, err := config.ParseDurationOrDefault("watch.cooldown_max", cfg.Watch.CooldownMax, 30*time.Minute)
	if err != nil {
		return nil, err
	}
	policy := retry.Policy{
		MaxAttempts: cfg.Watch.RetryMax,
		BaseDelay:   retryBase,
	}

	var fetchers []*watch.Fetcher

	if bs := cfg.Watch.Bluesky; bs.Enabled {
		bcfg := bluesky.Config{
			Host:       bs.Host,
			Handle:     bs.Handle,
			Identifier: bs.Identifier,
			Password:   bs.Password,
			Timeout:    reqTimeout,
			Retry:      policy,
		}
		blog := log.With(logx.String("comp", "bluesky"))
		var strategies []watch.Strategy
		if strings.TrimSpace(bs.Identifier) != "" {
			client := bluesky.NewClient(bcfg, blog)
			strategies = append(strategies, bluesky.NewSessionFeed(client))
		}
		strategies = append(strategies, bluesky.NewPublicFeed(bcfg, blog))
		fetchers = append(fetchers, watch.NewFetcher(watch.FetcherConfig{
			Source:      watch.SourceBluesky,
			Strategies:  strategies,
			Retry:       policy,
			CooldownMax: cooldownMax,
		}, log))
	}

	if ig := cfg.Watch.Instagram; ig.Enabled {
		icfg := instagram.Config{
			Username: ig.Username,
			RSSURL:   ig.RSSURL,
			Timeout:  reqTimeout,
		}
		ilog := log.With(logx.String("comp", "instagram"))
		strategies := []watch.Strategy{instagram.NewWebProfile(icfg, ilog)}
		if strings.TrimSpace(ig.RSSURL) != "" {
			strategies = append(strategies, instagram.NewRSSFeed(icfg, ilog))
		}
		fetchers = append(fetchers, watch.NewFetcher(watch.FetcherConfig{
			Source:      watch.SourceInstagram,
			Strategies:  strategies,
			Retry:       policy,
			CooldownMax: cooldownMax,
		}, log))
	}

	if len(fetchers) == 0 {
		return nil, fmt.Errorf("no sources enabled")
	}
	return fetchers, nil
}
