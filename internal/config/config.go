// Package config 读取 inputsentry.yaml / 环境变量 / 命令行参数
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/Hara602/inputSentry/internal/hotkey"
	"github.com/Hara602/inputSentry/internal/model"
	"github.com/Hara602/inputSentry/internal/pattern"
	"github.com/Hara602/inputSentry/internal/sysutil"
)

const (
	FileName  = "inputsentry"
	EnvPrefix = "INPUTSENTRY"
)

type Profile struct {
	Name  string   `mapstructure:"name"`
	Types []string `mapstructure:"types"`
}

type Config struct {
	Hotkey            string            `mapstructure:"hotkey"`
	EmergencyPattern  []string          `mapstructure:"emergency_pattern"`
	PatternPreset     string            `mapstructure:"pattern_preset"`
	TouchscreenBypass bool              `mapstructure:"touchscreen_bypass"`
	AutoLockOnStart   bool              `mapstructure:"auto_lock_on_start"`
	ShowNotifications bool              `mapstructure:"show_notifications"`
	Database          string            `mapstructure:"database"`
	Profiles          []Profile         `mapstructure:"profiles"`
	Log               sysutil.LogConfig `mapstructure:"log"`
}

// Defaults 未配置时使用的值
func Defaults() map[string]any {
	return map[string]any{
		"hotkey":             hotkey.DefaultCombo,
		"emergency_pattern":  pattern.DefaultTokens,
		"pattern_preset":     "",
		"touchscreen_bypass": false,
		"auto_lock_on_start": false,
		"show_notifications": true,
		"database":           "/var/lib/inputsentry/inputsentry.db",
		"profiles": []map[string]any{
			{"name": "keyboard", "types": []string{"keyboard"}},
			{"name": "pointer", "types": []string{"mouse", "touchpad"}},
			{"name": "kids", "types": []string{"keyboard", "mouse", "touchpad"}},
		},
		"log.level":       "info",
		"log.file":        "",
		"log.max_size_mb": 10,
		"log.max_backups": 5,
	}
}

// 命令行参数名 -> 配置键
var flagKeys = map[string]string{
	"hotkey":             "hotkey",
	"database":           "database",
	"auto-lock":          "auto_lock_on_start",
	"touchscreen-bypass": "touchscreen_bypass",
	"notifications":      "show_notifications",
	"log-level":          "log.level",
	"log-file":           "log.file",
}

// BindFlags 注册命令行参数, 由 Load 绑定到配置键
func BindFlags(cmd *cobra.Command) {
	d := Defaults()
	f := cmd.PersistentFlags()
	f.String("hotkey", d["hotkey"].(string), "lock/unlock key combination")
	f.String("database", d["database"].(string), "sqlite database path")
	f.Bool("auto-lock", false, "lock all devices on start")
	f.Bool("touchscreen-bypass", false, "refuse touchscreens even when a lock request names them")
	f.Bool("notifications", true, "show desktop notifications")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.String("log-file", "", "rotated JSON log file")
}

type Loader struct {
	v *viper.Viper

	mu  sync.RWMutex
	cur Config
}

// Load cfgFile 为空时在用户配置目录, /etc/inputsentry 和当前目录中查找
func Load(cmd *cobra.Command, cfgFile string) (*Loader, error) {
	v := viper.New()
	for k, val := range Defaults() {
		v.SetDefault(k, val)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, FileName))
		}
		v.AddConfigPath("/etc/" + FileName)
		v.AddConfigPath(".")
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cmd != nil {
		for name, key := range flagKeys {
			if fl := cmd.PersistentFlags().Lookup(name); fl != nil {
				if err := v.BindPFlag(key, fl); err != nil {
					return nil, err
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfgFile != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		sysutil.Log.Debug("No config file found, using defaults")
	}

	l := &Loader{v: v}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.cur = cfg
	return l, nil
}

func (l *Loader) decode() (Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// File 实际使用的配置文件, 没有则为空
func (l *Loader) File() string { return l.v.ConfigFileUsed() }

func (l *Loader) Current() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cur
}

// Watch 配置文件变化时重新解析并回调
func (l *Loader) Watch(onChange func(Config)) {
	if l.File() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			sysutil.Log.Warn("Ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		l.mu.Lock()
		l.cur = cfg
		l.mu.Unlock()
		sysutil.Log.Info("🔄 Config reloaded", zap.String("file", e.Name))
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// Combo 无效热键回退到默认值
func (c Config) Combo() hotkey.Combo {
	return hotkey.ComboOrDefault(c.Hotkey)
}

// Pattern pattern_preset 优先, 其次 emergency_pattern, 都无效时用默认序列
func (c Config) Pattern() pattern.Sequence {
	if c.PatternPreset != "" {
		if tokens, ok := pattern.Preset(c.PatternPreset); ok {
			seq, _ := pattern.Parse(tokens)
			return seq
		}
		sysutil.Log.Warn("Unknown pattern preset", zap.String("preset", c.PatternPreset))
	}
	seq, err := pattern.Parse(c.EmergencyPattern)
	if err != nil {
		sysutil.Log.Warn("Invalid emergency pattern, falling back to default", zap.Strings("pattern", c.EmergencyPattern), zap.Error(err))
		return pattern.Default()
	}
	return seq
}

// Profile 按名称查找锁定方案
func (c Config) Profile(name string) (model.LockProfile, error) {
	for _, p := range c.Profiles {
		if !strings.EqualFold(p.Name, name) {
			continue
		}
		types, err := ParseTypes(p.Types)
		if err != nil {
			return model.LockProfile{}, fmt.Errorf("profile %q: %w", p.Name, err)
		}
		return model.LockProfile{Name: p.Name, Types: types}, nil
	}
	return model.LockProfile{}, fmt.Errorf("unknown profile %q", name)
}

// ParseTypes 外部传入的类型名列表
func ParseTypes(names []string) ([]model.DeviceType, error) {
	out := make([]model.DeviceType, 0, len(names))
	for _, n := range names {
		t, err := model.ParseDeviceType(n)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}
