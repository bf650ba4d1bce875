package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Hara602/inputSentry/internal/model"
	"github.com/Hara602/inputSentry/internal/pattern"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "inputsentry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	chdir(t, t.TempDir())

	l, err := Load(nil, "")
	require.NoError(t, err)
	cfg := l.Current()
	assert.Equal(t, "Ctrl+Alt+L", cfg.Hotkey)
	assert.Equal(t, pattern.DefaultTokens, cfg.EmergencyPattern)
	assert.False(t, cfg.TouchscreenBypass)
	assert.True(t, cfg.ShowNotifications)
	assert.False(t, cfg.AutoLockOnStart)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 10, cfg.Log.MaxSizeMB)
	assert.Len(t, cfg.Profiles, 3)
	assert.Empty(t, l.File())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
hotkey: Ctrl+Shift+K
emergency_pattern: [Left, Right, Enter]
touchscreen_bypass: true
auto_lock_on_start: true
database: /tmp/x.db
profiles:
  - name: reading
    types: [keyboard, touchpad]
log:
  level: debug
  max_backups: 2
`)
	l, err := Load(nil, path)
	require.NoError(t, err)
	cfg := l.Current()
	assert.Equal(t, path, l.File())
	assert.Equal(t, "Ctrl+Shift+K", cfg.Combo().String())
	assert.Equal(t, "Left → Right → Enter", cfg.Pattern().String())
	assert.True(t, cfg.TouchscreenBypass)
	assert.True(t, cfg.AutoLockOnStart)
	assert.Equal(t, "/tmp/x.db", cfg.Database)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2, cfg.Log.MaxBackups)

	p, err := cfg.Profile("Reading")
	require.NoError(t, err)
	assert.Equal(t, []model.DeviceType{model.Keyboard, model.Touchpad}, p.Types)
	_, err = cfg.Profile("kids")
	assert.Error(t, err)
}

func TestMissingExplicitFileFails(t *testing.T) {
	_, err := Load(nil, filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestEnvAndFlags(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	chdir(t, t.TempDir())
	t.Setenv("INPUTSENTRY_HOTKEY", "Super+B")
	t.Setenv("INPUTSENTRY_LOG_LEVEL", "warn")

	cmd := &cobra.Command{Use: "test"}
	BindFlags(cmd)
	require.NoError(t, cmd.PersistentFlags().Set("auto-lock", "true"))
	require.NoError(t, cmd.PersistentFlags().Set("database", "/run/is.db"))

	l, err := Load(cmd, "")
	require.NoError(t, err)
	cfg := l.Current()
	assert.Equal(t, "Super+B", cfg.Hotkey)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.AutoLockOnStart)
	assert.Equal(t, "/run/is.db", cfg.Database)
	assert.False(t, cfg.TouchscreenBypass)
}

func TestFallbacks(t *testing.T) {
	cfg := Config{Hotkey: "L", EmergencyPattern: []string{"Up", "Bogus"}}
	assert.Equal(t, "Ctrl+Alt+L", cfg.Combo().String())
	assert.Equal(t, pattern.Default(), cfg.Pattern())

	cfg.PatternPreset = "wasd"
	assert.Equal(t, "W → W → S → S → Enter", cfg.Pattern().String())
	cfg.PatternPreset = "nope"
	assert.Equal(t, pattern.Default(), cfg.Pattern())
}

func TestParseTypes(t *testing.T) {
	types, err := ParseTypes([]string{"Keyboard", " mouse "})
	require.NoError(t, err)
	assert.Equal(t, []model.DeviceType{model.Keyboard, model.Mouse}, types)
	_, err = ParseTypes([]string{"joystick"})
	assert.Error(t, err)
}

func TestWatchReload(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "hotkey: Ctrl+Alt+L\n")
	l, err := Load(nil, path)
	require.NoError(t, err)

	changed := make(chan Config, 4)
	l.Watch(func(c Config) { changed <- c })

	// 给 watcher 一点时间注册
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "hotkey: Ctrl+Alt+U\n")

	select {
	case c := <-changed:
		assert.Equal(t, "Ctrl+Alt+U", c.Hotkey)
		assert.Equal(t, "Ctrl+Alt+U", l.Current().Hotkey)
	case <-time.After(5 * time.Second):
		t.Fatal("config change not observed")
	}
}
