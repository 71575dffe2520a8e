package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/ceyewan/fedgate/clog"
	"github.com/ceyewan/fedgate/xerrors"
)

type loader struct {
	v      *viper.Viper
	cfg    *Config
	logger clog.Logger

	mu        sync.RWMutex
	loaded    bool
	watches   map[string][]chan Event
	oldValues map[string]any
}

func newLoader(cfg *Config, o *options) *loader {
	return &loader{
		v:         viper.New(),
		cfg:       cfg,
		logger:    o.logger,
		watches:   make(map[string][]chan Event),
		oldValues: make(map[string]any),
	}
}

func (l *loader) Load(ctx context.Context) error {
	l.v.SetConfigName(l.cfg.Name)
	l.v.SetConfigType(l.cfg.FileType)
	for _, path := range l.cfg.Paths {
		l.v.AddConfigPath(path)
	}

	l.v.SetEnvPrefix(l.cfg.EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	l.loadDotEnv()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !xerrors.As(err, &notFound) {
			return xerrors.Wrapf(err, "failed to read config file %s", l.cfg.Name)
		}
		l.logger.WarnContext(ctx, "no configuration file found", clog.String("name", l.cfg.Name))
	}
	configFile := l.v.ConfigFileUsed()

	if err := l.loadEnvironmentConfig(ctx); err != nil {
		return err
	}
	if err := l.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	l.loaded = true
	l.mu.Unlock()
	l.captureCurrentValues()

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if err := l.loadEnvironmentConfig(context.Background()); err != nil {
			l.logger.Error("reload environment config failed", clog.Error(err))
		}
		l.notifyWatches(e)
	})
	if configFile != "" {
		l.v.WatchConfig()
	}
	return nil
}

// loadDotEnv .env 不存在时静默跳过
func (l *loader) loadDotEnv() {
	candidates := []string{".env"}
	for _, path := range l.cfg.Paths {
		candidates = append(candidates, filepath.Join(path, ".env"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			l.logger.Warn("failed to load .env file", clog.String("path", path), clog.Error(err))
		}
	}
}

// loadEnvironmentConfig 合并 <name>.<env>.<type>，env 来自 <PREFIX>_ENV
func (l *loader) loadEnvironmentConfig(ctx context.Context) error {
	env := os.Getenv(l.cfg.EnvPrefix + "_ENV")
	if env == "" {
		return nil
	}

	envConfigName := fmt.Sprintf("%s.%s", l.cfg.Name, env)
	l.v.SetConfigName(envConfigName)
	defer l.v.SetConfigName(l.cfg.Name)

	if err := l.v.MergeInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !xerrors.As(err, &notFound) {
			return xerrors.Wrapf(err, "failed to merge environment config %s", envConfigName)
		}
		l.logger.DebugContext(ctx, "no environment configuration file", clog.String("env", env))
		return nil
	}
	l.logger.InfoContext(ctx, "loaded environment configuration", clog.String("env", env))
	return nil
}

func (l *loader) captureCurrentValues() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.watches {
		l.oldValues[key] = l.v.Get(key)
	}
}

func (l *loader) Get(key string) any {
	return l.v.Get(key)
}

func (l *loader) Unmarshal(v any) error {
	return l.v.Unmarshal(v)
}

func (l *loader) UnmarshalKey(key string, v any) error {
	return l.v.UnmarshalKey(key, v)
}

func (l *loader) Watch(ctx context.Context, key string) (<-chan Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.loaded {
		return nil, ErrNotLoaded
	}

	ch := make(chan Event, 10)
	l.watches[key] = append(l.watches[key], ch)
	l.oldValues[key] = l.v.Get(key)

	go func() {
		<-ctx.Done()
		l.removeWatch(key, ch)
	}()
	return ch, nil
}

func (l *loader) removeWatch(key string, target chan Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	channels := l.watches[key]
	for i, ch := range channels {
		if ch == target {
			l.watches[key] = append(channels[:i], channels[i+1:]...)
			close(ch)
			break
		}
	}
	if len(l.watches[key]) == 0 {
		delete(l.watches, key)
		delete(l.oldValues, key)
	}
}

// Validate 检查 Required 中的 Key 是否都已设置
func (l *loader) Validate() error {
	var missing []string
	for _, key := range l.cfg.Required {
		if !l.v.IsSet(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return xerrors.Wrapf(ErrValidationFailed, "missing keys %s", strings.Join(missing, ", "))
	}
	return nil
}

func (l *loader) notifyWatches(e fsnotify.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, channels := range l.watches {
		newValue := l.v.Get(key)
		oldValue := l.oldValues[key]
		if reflect.DeepEqual(oldValue, newValue) {
			continue
		}
		l.oldValues[key] = newValue

		event := Event{
			Key:       key,
			Value:     newValue,
			OldValue:  oldValue,
			Source:    "file",
			Timestamp: time.Now(),
		}
		for _, ch := range channels {
			select {
			case ch <- event:
			default:
				l.logger.Warn("watch channel is full", clog.String("key", key), clog.String("file", e.Name))
			}
		}
	}
}
