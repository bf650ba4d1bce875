package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Hara602/inputSentry/internal/config"
	"github.com/Hara602/inputSentry/internal/engine"
	"github.com/Hara602/inputSentry/internal/inputdev"
	"github.com/Hara602/inputSentry/internal/model"
	"github.com/Hara602/inputSentry/internal/notify"
	"github.com/Hara602/inputSentry/internal/registry"
	"github.com/Hara602/inputSentry/internal/store"
	"github.com/Hara602/inputSentry/internal/sysutil"
	"github.com/Hara602/inputSentry/internal/watcher"
)

var version = "dev"

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:           "inputsentry",
		Short:         "Lock keyboards, mice and touchpads with a hotkey",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runAgent,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: search inputsentry.yaml)")
	config.BindFlags(root)

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the locking agent (default)",
		RunE:  runAgent,
	})
	root.AddCommand(&cobra.Command{
		Use:   "devices",
		Short: "List detected input devices and their classification",
		RunE:  listDevices,
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "inputsentry", version)
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Loader, config.Config, error) {
	loader, err := config.Load(cmd.Root(), cfgFile)
	if err != nil {
		return nil, config.Config{}, err
	}
	cfg := loader.Current()
	sysutil.InitLogger(cfg.Log)
	return loader, cfg, nil
}

func runAgent(cmd *cobra.Command, _ []string) error {
	loader, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	defer sysutil.Log.Sync()

	// 独占 evdev 节点需要 root 或 input 组
	if !sysutil.IsRoot() {
		sysutil.Log.Warn("Not running as root, devices may be unreadable or ungrabbable")
	}
	sysutil.Log.Info("🛡️ Input Sentry Agent Starting...", zap.String("version", version), zap.String("config", loader.File()))

	var st *store.Store
	if cfg.Database != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
			sysutil.Log.Warn("Cannot create database directory", zap.Error(err))
		}
		st, err = store.Open(cfg.Database)
		if err != nil {
			sysutil.Log.Warn("Whitelist and statistics disabled", zap.Error(err))
			st = nil
		} else {
			defer st.Close()
		}
	}

	// 连接由引擎的通知协程负责关闭
	var sender notify.Sender
	if cfg.ShowNotifications {
		if sender, err = notify.NewDBus(); err != nil {
			sysutil.Log.Warn("Desktop notifications unavailable", zap.Error(err))
			sender = nil
		}
	}

	devWatcher := watcher.New()
	hotplug, err := devWatcher.Start()
	if err != nil {
		sysutil.Log.Warn("Hotplug watcher unavailable, devices are only scanned on start", zap.Error(err))
		hotplug = nil
	} else {
		defer devWatcher.Stop()
	}

	e := engine.New(engine.Options{
		Config:   cfg,
		Store:    st,
		Notifier: sender,
		Hotplug:  hotplug,
	})
	if err := e.Start(context.Background()); err != nil {
		return err
	}
	defer e.Stop()

	loader.Watch(e.ApplyConfig)

	// 捕获操作系统信号，优雅关闭
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			sysutil.Log.Info("Rescanning input devices")
			e.Refresh()
			continue
		}
		sysutil.Log.Info("Shutting down...", zap.String("signal", sig.String()))
		return nil
	}
	return nil
}

func listDevices(cmd *cobra.Command, _ []string) error {
	if _, _, err := loadConfig(cmd); err != nil {
		return err
	}
	devs := registry.New(inputdev.New()).Refresh()
	if len(devs) == 0 {
		return fmt.Errorf("no readable input devices: %w", model.ErrPermissionDenied)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tTYPE\tVENDOR:PRODUCT\tNAME")
	for _, d := range devs {
		fmt.Fprintf(w, "%s\t%s\t%s:%s\t%s\n", d.Path, d.Type, d.Vendor, d.Product, d.Name)
	}
	return w.Flush()
}
