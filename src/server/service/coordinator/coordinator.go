// SPDX-License-Identifier: MIT
// Coordinator owns every piece of process-wide mutable state the request
// pipeline and the control protocol share: the alias/blacklist tables,
// the halt flag, the cookie secret, and the AUTH throttle. It is the only
// thing either listener holds a reference to.
package coordinator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/apimgr/onionbridge/src/config"
	"github.com/apimgr/onionbridge/src/server/service/lists"
	"github.com/apimgr/onionbridge/src/server/service/lock"
	"github.com/apimgr/onionbridge/src/server/service/logging"
	"github.com/apimgr/onionbridge/src/server/service/metrics"
	"github.com/apimgr/onionbridge/src/server/service/scheduler"
	"github.com/apimgr/onionbridge/src/server/service/tor"
	"github.com/apimgr/onionbridge/src/server/service/vault"
)

const (
	haltLockKey = "halt"
	authLockKey = "auth"
	// authLockTTL only needs to outlive the 500ms gate; it also bounds how
	// long a crashed holder can wedge the lock for the rest of the cluster.
	authLockTTL = 5 * time.Second
	haltLockTTL = 24 * time.Hour
)

// Coordinator is safe for concurrent use by any number of connection
// handlers.
type Coordinator struct {
	cfg     *config.Config
	cfgPath string
	logger  *logging.AppLogger

	Lists *lists.Store

	lockStore lock.Store
	cookie    string

	sched  *scheduler.Scheduler
	torMgr *tor.Manager
}

// New constructs a Coordinator around cfg. cfgPath is the file cfg was
// loaded from, used to persist a rehashed password.
func New(cfg *config.Config, cfgPath string, logger *logging.AppLogger) *Coordinator {
	return &Coordinator{
		cfg:     cfg,
		cfgPath: cfgPath,
		logger:  logger,
		Lists:   lists.New(),
		sched:   scheduler.New(),
	}
}

// Config returns the immutable configuration snapshot.
func (c *Coordinator) Config() *config.Config {
	return c.cfg
}

// Prepare validates the configuration, rehashes a plaintext control
// password if one is present, mints a fresh cookie secret, loads the
// lists, and wires up clustering/scheduling. It does not open any
// listeners; callers start the HTTP and control listeners separately once
// Prepare succeeds.
func (c *Coordinator) Prepare(ctx context.Context) error {
	if err := c.cfg.Validate(); err != nil {
		return fmt.Errorf("coordinator: invalid config: %w", err)
	}

	if c.cfg.Control.Enabled && c.cfg.Control.Password != "" && !vault.IsHashed(c.cfg.Control.Password) {
		hashed, err := vault.Hash(c.cfg.Control.Password)
		if err != nil {
			return fmt.Errorf("coordinator: hash control password: %w", err)
		}
		c.cfg.Control.Password = hashed
		if c.cfgPath != "" {
			if err := config.Save(c.cfg, c.cfgPath); err != nil {
				return fmt.Errorf("coordinator: persist hashed password: %w", err)
			}
			c.logger.Info("rehashed plaintext control password", nil)
		}
	}

	if c.cfg.Control.Enabled && c.cfg.Control.Cookie != "" {
		secret, err := vault.NewCookie()
		if err != nil {
			return fmt.Errorf("coordinator: generate cookie: %w", err)
		}
		if err := os.WriteFile(c.cfg.Control.Cookie, []byte(secret+"\n"), 0600); err != nil {
			return fmt.Errorf("coordinator: write cookie file: %w", err)
		}
		c.cookie = secret
	}

	c.Lists.SetPaths(c.cfg.DNS.Alias, c.cfg.DNS.Blacklist)
	if err := c.Lists.LoadAliases(c.cfg.DNS.Alias); err != nil {
		c.logger.Warn("initial alias load failed", map[string]interface{}{"error": err.Error()})
	}
	if err := c.Lists.LoadBlacklist(c.cfg.DNS.Blacklist); err != nil {
		c.logger.Warn("initial blacklist load failed", map[string]interface{}{"error": err.Error()})
	}

	if c.cfg.Cluster.Enabled {
		store := lock.NewRedisStore(c.cfg.Cluster.Addr, c.cfg.Cluster.Password, c.cfg.Cluster.DB)
		if err := store.Ping(ctx); err != nil {
			return fmt.Errorf("coordinator: redis unreachable: %w", err)
		}
		c.lockStore = store
	} else {
		c.lockStore = lock.NewMemoryStore()
	}

	if c.cfg.Tor.Managed {
		mgr, err := tor.Start(ctx, c.cfg.Tor.DataDir, c.cfg.Tor.Port)
		if err != nil {
			return fmt.Errorf("coordinator: start managed tor: %w", err)
		}
		c.torMgr = mgr
	}

	if c.cfg.Reload.Enabled {
		if err := c.sched.RegisterTask("list-reload", "reload alias/blacklist tables", c.cfg.Reload.Interval, c.reloadTask); err != nil {
			return fmt.Errorf("coordinator: register reload task: %w", err)
		}
		c.sched.Start(ctx)
	}

	return nil
}

func (c *Coordinator) reloadTask(ctx context.Context) error {
	if err := c.Lists.ReloadAliases(); err != nil {
		c.logger.Warn("scheduled alias reload failed", map[string]interface{}{"error": err.Error()})
	}
	if err := c.Lists.ReloadBlacklist(); err != nil {
		c.logger.Warn("scheduled blacklist reload failed", map[string]interface{}{"error": err.Error()})
	}
	return nil
}

// Shutdown releases the resources Prepare acquired. Listeners are closed
// by their own owners.
func (c *Coordinator) Shutdown() {
	if c.sched.IsRunning() {
		c.sched.Stop()
	}
	if c.torMgr != nil {
		c.torMgr.Close()
	}
	if closer, ok := c.lockStore.(interface{ Close() error }); ok {
		closer.Close()
	}
}

// Halted reports whether the request pipeline should stall between
// header parse and host resolution.
func (c *Coordinator) Halted() bool {
	locked, err := c.lockStore.IsLocked(context.Background(), haltLockKey)
	if err != nil {
		c.logger.Warn("halt state check failed", map[string]interface{}{"error": err.Error()})
		return false
	}
	return locked
}

// SetHalt sets or clears the halt flag, returning whether this call
// actually changed state (idempotent calls return false).
func (c *Coordinator) SetHalt(halt bool) (bool, error) {
	ctx := context.Background()
	if halt {
		acquired, err := c.lockStore.AcquireLock(ctx, haltLockKey, haltLockTTL)
		if err != nil {
			return false, err
		}
		metrics.HaltState.Set(1)
		return acquired, nil
	}
	was := c.Halted()
	if err := c.lockStore.ReleaseLock(ctx, haltLockKey); err != nil {
		return false, err
	}
	metrics.HaltState.Set(0)
	return was, nil
}

// AuthAttempt serializes with every other concurrent AUTH attempt
// (cluster-wide when Redis-backed), sleeps the mandatory 500ms gate, and
// only then evaluates candidate against the configured password and
// cookie secret.
func (c *Coordinator) AuthAttempt(candidate string) bool {
	ctx := context.Background()
	for {
		acquired, err := c.lockStore.AcquireLock(ctx, authLockKey, authLockTTL)
		if err != nil {
			c.logger.Warn("auth lock failed", map[string]interface{}{"error": err.Error()})
			return false
		}
		if acquired {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	time.Sleep(500 * time.Millisecond)
	c.lockStore.ReleaseLock(ctx, authLockKey)

	ok := false
	if c.cfg.Control.Password != "" && vault.Verify(candidate, c.cfg.Control.Password) {
		ok = true
	}
	if !ok && c.cookie != "" && candidate == c.cookie {
		ok = true
	}

	if ok {
		metrics.ControlAuthTotal.WithLabelValues("success").Inc()
	} else {
		metrics.ControlAuthTotal.WithLabelValues("failure").Inc()
	}
	return ok
}

// TorSocksAddr returns the SOCKS address of the managed Tor process
// started by Prepare, if [TOR] Managed was set. The second return value
// is false when no managed Tor process is running, in which case
// SocksDialer targets whatever external SOCKS endpoint [TOR] IP/Port
// names instead.
func (c *Coordinator) TorSocksAddr() (string, bool) {
	if c.torMgr == nil {
		return "", false
	}
	return c.torMgr.SocksAddr(), true
}

// BlacklistFileConfigured and AliasFileConfigured back the control
// protocol's INFO command.
func (c *Coordinator) BlacklistFileConfigured() bool { return c.cfg.DNS.Blacklist != "" }
func (c *Coordinator) AliasFileConfigured() bool      { return c.cfg.DNS.Alias != "" }

// Logger exposes the shared application logger.
func (c *Coordinator) Logger() *logging.AppLogger { return c.logger }
