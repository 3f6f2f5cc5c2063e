// SPDX-License-Identifier: MIT
// Manager optionally launches a private Tor process via bine so
// onionbridge can run without a pre-existing system Tor instance. It is
// never required: when [TOR] Managed is unset, SocksDialer simply dials
// whatever SOCKS4a endpoint the operator already has running.
package tor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cretz/bine/tor"
)

// Manager owns a bine-controlled Tor process bound to a fixed SOCKS port,
// so the rest of onionbridge can treat it exactly like an externally run
// Tor: dial SocksAddr() with the regular SocksDialer.
type Manager struct {
	t        *tor.Tor
	socksAddr string
}

// Start launches Tor with its data directory at dataDir, configured to
// listen for SOCKS4a/SOCKS5 connections on socksPort. It blocks until Tor
// reports bootstrap complete or the context expires.
func Start(ctx context.Context, dataDir string, socksPort int) (*Manager, error) {
	if dataDir == "" {
		dataDir = filepath.Join(os.TempDir(), "onionbridge-tor")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("tor: create data dir: %w", err)
	}

	t, err := tor.Start(ctx, &tor.StartConf{
		DataDir:         dataDir,
		NoAutoSocksPort: true,
		ExtraArgs: []string{
			"SocksPort", fmt.Sprintf("127.0.0.1:%d", socksPort),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tor: start: %w", err)
	}

	startCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()
	if err := t.EnableNetwork(startCtx, true); err != nil {
		t.Close()
		return nil, fmt.Errorf("tor: bootstrap: %w", err)
	}

	return &Manager{
		t:         t,
		socksAddr: fmt.Sprintf("127.0.0.1:%d", socksPort),
	}, nil
}

// SocksAddr returns the host:port the managed Tor process listens for
// SOCKS connections on.
func (m *Manager) SocksAddr() string {
	return m.socksAddr
}

// Close terminates the managed Tor process.
func (m *Manager) Close() error {
	if m == nil || m.t == nil {
		return nil
	}
	return m.t.Close()
}
