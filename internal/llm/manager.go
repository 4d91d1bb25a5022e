package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/kyleking/ragsql/internal/config"
	"github.com/kyleking/ragsql/internal/errors"
	"github.com/kyleking/ragsql/internal/logging"
)

// ManagerConfig configures retries around a provider
type ManagerConfig struct {
	RetryAttempts int           `json:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay"`
	MaxDelay      time.Duration `json:"max_delay"`
	Timeout       time.Duration `json:"timeout"`
	RateLimit     float64       `json:"rate_limit"`
}

// DefaultManagerConfig returns the stock retry policy: two extra attempts,
// starting at one second and doubling up to eight
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		RetryAttempts: 2,
		RetryDelay:    time.Second,
		MaxDelay:      8 * time.Second,
		Timeout:       60 * time.Second,
	}
}

// Manager wraps a provider with a per-attempt timeout, rate limiting and
// bounded retries of retryable failures
type Manager struct {
	provider Provider
	config   ManagerConfig
	limiter  *rate.Limiter
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewManager creates a manager around provider
func NewManager(provider Provider, cfg ManagerConfig) *Manager {
	if cfg.RetryAttempts < 0 {
		cfg.RetryAttempts = 0
	}

	m := &Manager{
		provider: provider,
		config:   cfg,
		sleep:    sleepContext,
	}

	if cfg.RateLimit > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return m
}

// NewManagerFromConfig builds the configured provider and wraps it
func NewManagerFromConfig(cfg config.LLMConfig) (*Manager, error) {
	var (
		provider Provider
		err      error
	)

	if cfg.Provider == ProviderOffline {
		provider = NewFallbackProvider()
	} else {
		provider, err = NewClient(cfg)
		if err != nil {
			return nil, err
		}
	}

	mc := DefaultManagerConfig()
	mc.RetryAttempts = cfg.RetryAttempts
	mc.RetryDelay = config.Duration(cfg.RetryDelay, mc.RetryDelay)
	mc.Timeout = config.Duration(cfg.Timeout, mc.Timeout)

	return NewManager(provider, mc), nil
}

func (m *Manager) Name() string {
	return m.provider.Name()
}

// Generate calls the provider, retrying network and server failures
func (m *Manager) Generate(ctx context.Context, prompt, modelID string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= m.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := m.backoff(attempt)
			logging.Debugf("retrying %s in %s (attempt %d/%d): %v",
				m.provider.Name(), delay, attempt+1, m.config.RetryAttempts+1, lastErr)

			if err := m.sleep(ctx, delay); err != nil {
				return "", err
			}
		}

		text, err := m.attempt(ctx, prompt, modelID)
		if err == nil {
			return text, nil
		}

		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil || !errors.IsRetryable(err) {
			break
		}
	}

	return "", fmt.Errorf("provider %s failed: %w", m.provider.Name(), lastErr)
}

func (m *Manager) attempt(ctx context.Context, prompt, modelID string) (string, error) {
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	if m.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.Timeout)
		defer cancel()
	}

	return m.provider.Generate(ctx, prompt, modelID)
}

func (m *Manager) backoff(attempt int) time.Duration {
	delay := m.config.RetryDelay << (attempt - 1)
	if m.config.MaxDelay > 0 && (delay <= 0 || delay > m.config.MaxDelay) {
		delay = m.config.MaxDelay
	}

	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
