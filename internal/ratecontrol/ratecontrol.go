package ratecontrol

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	RateLimits struct {
		DefaultRPM    int `yaml:"default_rpm"`
		RoleOverrides map[string]struct {
			RPM int `yaml:"rpm"`
		} `yaml:"role_overrides"`
	} `yaml:"rate_limits"`
}

// Controller applies per-role requests-per-minute limits in front of the
// model backend. RPM of 0 means unlimited for that role.
type Controller struct {
	logger *zap.Logger

	mu       sync.Mutex
	cfg      fileConfig
	limiters map[string]*rate.Limiter
}

// NewController builds a controller with no limits; use Load or SetRPM to
// configure.
func NewController(logger *zap.Logger) *Controller {
	return &Controller{
		logger:   logger,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Load reads rate limits from a YAML file. A missing file leaves the
// controller unlimited, matching the backend's own enforcement as the
// last line of defense.
func (c *Controller) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Info("No rate limit config, running unlimited", zap.String("path", path))
			return nil
		}
		return fmt.Errorf("read rate limit config %s: %w", path, err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("unmarshal rate limit config %s: %w", path, err)
	}

	c.mu.Lock()
	c.cfg = cfg
	c.limiters = make(map[string]*rate.Limiter)
	c.mu.Unlock()

	c.logger.Info("Rate limit configuration loaded",
		zap.String("path", path),
		zap.Int("default_rpm", cfg.RateLimits.DefaultRPM),
		zap.Int("role_overrides", len(cfg.RateLimits.RoleOverrides)),
	)
	return nil
}

// SetRPM sets the limit for one role programmatically.
func (c *Controller) SetRPM(role string, rpm int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.RateLimits.RoleOverrides == nil {
		c.cfg.RateLimits.RoleOverrides = make(map[string]struct {
			RPM int `yaml:"rpm"`
		})
	}
	c.cfg.RateLimits.RoleOverrides[role] = struct {
		RPM int `yaml:"rpm"`
	}{RPM: rpm}
	delete(c.limiters, role)
}

// RPM reports the effective limit for a role.
func (c *Controller) RPM(role string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rpmLocked(role)
}

func (c *Controller) rpmLocked(role string) int {
	if o, ok := c.cfg.RateLimits.RoleOverrides[role]; ok && o.RPM > 0 {
		return o.RPM
	}
	return c.cfg.RateLimits.DefaultRPM
}

// Wait blocks until the role's limiter admits one request or the context is
// canceled. Unlimited roles return immediately.
func (c *Controller) Wait(ctx context.Context, role string) error {
	c.mu.Lock()
	rpm := c.rpmLocked(role)
	if rpm <= 0 {
		c.mu.Unlock()
		return nil
	}
	lim, ok := c.limiters[role]
	if !ok {
		// Burst of rpm lets a cold start use a full minute's allowance.
		lim = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), rpm)
		c.limiters[role] = lim
	}
	c.mu.Unlock()

	return lim.Wait(ctx)
}
