package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"shopfiscal/pkg/logger"
)

// Tunables are engine knobs that may change without a restart.
type Tunables struct {
	Ledger     LedgerTunables     `mapstructure:"ledger"`
	Audit      AuditTunables      `mapstructure:"audit"`
	API        APITunables        `mapstructure:"api"`
	Calculator CalculatorTunables `mapstructure:"calculator"`
}

type LedgerTunables struct {
	LockTimeout time.Duration `mapstructure:"lock_timeout"`
}

type AuditTunables struct {
	CompressThresholdBytes int `mapstructure:"compress_threshold_bytes"`
}

type APITunables struct {
	DefaultPageSize int `mapstructure:"default_page_size"`
	MaxPageSize     int `mapstructure:"max_page_size"`
}

type CalculatorTunables struct {
	MaxFormulaLength int `mapstructure:"max_formula_length"`
}

// DefaultTunables returns the values used when fiscal.yml is absent.
func DefaultTunables() Tunables {
	return Tunables{
		Ledger:     LedgerTunables{LockTimeout: 5 * time.Second},
		Audit:      AuditTunables{CompressThresholdBytes: 10 * 1024},
		API:        APITunables{DefaultPageSize: 50, MaxPageSize: 500},
		Calculator: CalculatorTunables{MaxFormulaLength: 256},
	}
}

// Validate rejects nonsensical values.
func (t Tunables) Validate() error {
	if t.Ledger.LockTimeout <= 0 {
		return errors.New("ledger.lock_timeout must be positive")
	}
	if t.Audit.CompressThresholdBytes <= 0 {
		return errors.New("audit.compress_threshold_bytes must be positive")
	}
	if t.API.DefaultPageSize <= 0 || t.API.MaxPageSize < t.API.DefaultPageSize {
		return fmt.Errorf("api page sizes invalid: default=%d max=%d", t.API.DefaultPageSize, t.API.MaxPageSize)
	}
	if t.Calculator.MaxFormulaLength <= 0 {
		return errors.New("calculator.max_formula_length must be positive")
	}
	return nil
}

// TunablesHolder exposes the current tunables and swaps them on file change.
type TunablesHolder struct {
	current atomic.Value // holds Tunables
}

// NewStaticTunables wraps fixed tunables (tests, CLI).
func NewStaticTunables(t Tunables) *TunablesHolder {
	h := &TunablesHolder{}
	h.current.Store(t)
	return h
}

// Get returns the current tunables.
func (h *TunablesHolder) Get() Tunables {
	return h.current.Load().(Tunables)
}

// LoadTunables reads fiscal.yml from path (or the default search paths) and watches it.
func LoadTunables(ctx context.Context, path string) (*TunablesHolder, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("fiscal")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/shopfiscal")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FISCAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultTunables()
	v.SetDefault("ledger.lock_timeout", defaults.Ledger.LockTimeout)
	v.SetDefault("audit.compress_threshold_bytes", defaults.Audit.CompressThresholdBytes)
	v.SetDefault("api.default_page_size", defaults.API.DefaultPageSize)
	v.SetDefault("api.max_page_size", defaults.API.MaxPageSize)
	v.SetDefault("calculator.max_formula_length", defaults.Calculator.MaxFormulaLength)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read fiscal config: %w", err)
		}
		watch = false
	}

	var t Tunables
	if err := v.Unmarshal(&t); err != nil {
		return nil, fmt.Errorf("decode fiscal config: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}

	holder := NewStaticTunables(t)
	if !watch {
		return holder, nil
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Tunables
		if err := v.Unmarshal(&updated); err != nil {
			logger.Warn(ctx, "fiscal config reload failed", "file", e.Name, "error", err)
			return
		}
		if err := updated.Validate(); err != nil {
			logger.Warn(ctx, "invalid fiscal config ignored", "file", e.Name, "error", err)
			return
		}
		holder.current.Store(updated)
		logger.Info(ctx, "fiscal config reloaded", "file", e.Name)
	})
	v.WatchConfig()

	return holder, nil
}

// PageSizes returns the default and maximum page size for list endpoints.
func (h *TunablesHolder) PageSizes() (def, maxSize int) {
	t := h.Get()
	return t.API.DefaultPageSize, t.API.MaxPageSize
}

// MaxFormulaLength bounds rule formula source length.
func (h *TunablesHolder) MaxFormulaLength() int {
	return h.Get().Calculator.MaxFormulaLength
}

// LockTimeout bounds waits on period and ledger locks.
func (h *TunablesHolder) LockTimeout() time.Duration {
	return h.Get().Ledger.LockTimeout
}

// CompressThreshold is the audit payload size above which values are zstd-compressed.
func (h *TunablesHolder) CompressThreshold() int {
	return h.Get().Audit.CompressThresholdBytes
}
