package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"rpoverlay/internal/chat"
	"rpoverlay/internal/clickthrough"
	"rpoverlay/internal/config"
	"rpoverlay/internal/contextdiff"
	"rpoverlay/internal/logging"
	"rpoverlay/internal/notes"
	"rpoverlay/internal/osutils"
	"rpoverlay/internal/overlay"
	"rpoverlay/internal/profiles"
	"rpoverlay/internal/prompts"
	"rpoverlay/internal/tray"
)

const (
	appTitle      = "RPOverlay"
	watchInterval = 500 * time.Millisecond
)

// messageNotifier shows session notices in a message box. The box blocks
// until dismissed, so it never runs on the loop.
type messageNotifier struct {
	logger *zap.Logger
}

func (n messageNotifier) Notify(message string) {
	n.logger.Info("Notice", zap.String("message", message))
	go func() {
		if err := osutils.ShowMessage(appTitle, message); err != nil {
			n.logger.Warn("Message box failed", zap.Error(err))
		}
	}()
}

func run(flags *rootFlags) error {
	dataDir := flags.dataDir
	if dataDir == "" {
		dir, err := config.DefaultDataDir()
		if err != nil {
			return errors.Wrap(err, "resolve data dir failed")
		}
		dataDir = dir
	}

	level := flags.logLevel
	if level == "" && flags.debug {
		level = "debug"
	}
	logger, err := logging.New(logging.Options{Dir: dataDir, Level: level, Console: true})
	if err != nil {
		return errors.Wrap(err, "create logger failed")
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting RPOverlay",
		zap.String("version", version),
		zap.String("data_dir", dataDir),
		zap.Bool("debug", flags.debug),
	)
	if !osutils.IsAdmin() {
		logger.Warn("Not running as administrator; input may not reach an elevated game")
	}

	profileSvc, err := profiles.New(dataDir, logger)
	if err != nil {
		return err
	}
	profileID := profileSvc.Active()
	if flags.profile != "" {
		if err := profileSvc.SetActive(flags.profile); err != nil {
			return errors.Wrapf(err, "activate profile %q failed", flags.profile)
		}
		profileID = flags.profile
	}
	if err := profileSvc.Touch(profileID); err != nil {
		logger.Warn("Failed to touch profile", zap.String("profile", profileID), zap.Error(err))
	}
	logger.Info("Using profile", zap.String("profile", profileID))

	settings := config.NewSettingsStore(dataDir, logger)
	st := settings.Load()

	cfg := config.NewManager(profileSvc.PresetsPath(profileID), logger)
	if err := cfg.Load(); err != nil {
		logger.Warn("Using default presets", zap.Error(err))
	}

	promptMgr, err := prompts.NewManager(profileSvc.PromptsDir(profileID), logger)
	if err != nil {
		return err
	}
	if err := promptMgr.EnsureDefault(); err != nil {
		logger.Warn("Failed to create default prompt", zap.Error(err))
	}
	if st.SystemPrompt != "" {
		migrated, err := promptMgr.MigrateSystemPrompt(st.SystemPrompt)
		switch {
		case err != nil:
			logger.Warn("Failed to migrate system prompt", zap.Error(err))
		case migrated:
			if err := settings.Update(func(s *config.Settings) { s.SystemPrompt = "" }); err != nil {
				logger.Warn("Failed to clear migrated system prompt", zap.Error(err))
			}
		}
	}

	store, err := notes.NewFileStore(profileSvc.NotesDir(profileID), logger)
	if err != nil {
		return err
	}
	if n, err := store.MigrateLegacy(); err != nil {
		logger.Warn("Legacy note migration failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("Migrated legacy notes", zap.Int("count", n))
	}
	notebook := notes.NewNotebook(store, logger)
	notebook.OpenAll(st.OpenTabs)
	if len(notebook.IDs()) == 0 {
		notebook.Add("")
	}

	conv := chat.NewConversation(chat.NewOpenAIService(logger), contextdiff.New(logger), notebook.Snapshots, logger)
	conv.Configure(st.OpenAIAPIKey, promptMgr.Resolve(st.ActivePromptName), st.EnableTabContext)

	backend, err := osutils.NewBackend()
	if err != nil {
		return errors.Wrap(err, "init platform backend failed")
	}
	clip, err := osutils.NewClipboard()
	if err != nil {
		logger.Warn("Clipboard unavailable; copy and debug delivery disabled", zap.Error(err))
		clip = nil
	}

	loop := overlay.NewLoop(logger)
	loop.Start()

	var current atomic.Pointer[overlay.Session]
	surface, err := osutils.OpenWindow(osutils.WindowOptions{
		Title:   appTitle,
		Bounds:  config.DefaultGeometry.Rect(),
		Opacity: config.ClampOpacity(st.Opacity),
		ExStyle: overlay.StartupStyles,
	}, func(ev osutils.WindowEvent) {
		if s := current.Load(); s != nil {
			s.HandleEvent(ev)
		}
	})
	if err != nil {
		loop.Stop()
		return errors.Wrap(err, "create overlay window failed")
	}

	session, err := overlay.New(overlay.Options{
		Loop:         loop,
		Backend:      backend,
		Surface:      surface,
		Clipboard:    clip,
		Config:       cfg,
		Settings:     settings,
		Notebook:     notebook,
		Conversation: conv,
		Notifier:     messageNotifier{logger: logger},
		Debug:        flags.debug,
		Timing:       overlay.DefaultTiming,
		Logger:       logger,
	})
	if err != nil {
		surface.Destroy()
		loop.Stop()
		return err
	}
	current.Store(session)

	icon := tray.New(appTitle, appTitle)
	icon.AddMenuItem("Visa/Dölj", func() {
		loop.Post(func() { session.SetVisible(session.State() == overlay.Hidden) })
	})
	clickItem := icon.AddCheckbox("Klickgenomsläpp", false, func() {
		loop.Post(func() { session.SetClickThrough(!session.ClickThrough()) })
	})
	icon.AddSeparator()
	sendMenu := icon.AddLabelMenu("Skicka snabbtext", func(label string) {
		loop.Post(func() { session.SendPreset(label) })
	})
	copyMenu := icon.AddLabelMenu("Kopiera snabbtext", func(label string) {
		loop.Post(func() { session.CopyPreset(label) })
	})
	icon.AddMenuItem("Fråga AI om urklipp", func() {
		loop.Post(func() { session.AskClipboard() })
	})
	icon.AddSeparator()
	icon.AddMenuItem("Avsluta", func() {
		loop.Post(session.Close)
	})

	session.OnStateChange(func(s overlay.State) {
		through := session.ClickThrough()
		icon.SetItemChecked(clickItem, through)
		c := clickthrough.IndicatorInteractive
		if through {
			c = clickthrough.IndicatorClickThrough
		}
		icon.SetIndicator(c.R, c.G, c.B)
	})
	session.OnPresetsChange(func(labels []string) {
		icon.SetLabels(sendMenu, labels)
		icon.SetLabels(copyMenu, labels)
	})
	session.OnClose(func() {
		icon.Stop()
		loop.Stop()
	})

	if !loop.Call(session.Start) {
		return errors.New("event loop stopped before start")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		if err := cfg.Watch(ctx, watchInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Preset watcher stopped", zap.Error(err))
		}
	}()
	go func() {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down")
			loop.Post(session.Close)
		case <-loop.Done():
		}
	}()

	icon.Run()

	loop.Call(session.Close)
	<-loop.Done()
	logger.Info("RPOverlay stopped")
	return nil
}
