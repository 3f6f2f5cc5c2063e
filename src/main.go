// SPDX-License-Identifier: MIT
// onionbridge - Tor onion-service reverse proxy

package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/apimgr/onionbridge/src/common/version"
	"github.com/apimgr/onionbridge/src/config"
	"github.com/apimgr/onionbridge/src/server/daemon"
	"github.com/apimgr/onionbridge/src/server/service/control"
	"github.com/apimgr/onionbridge/src/server/service/coordinator"
	"github.com/apimgr/onionbridge/src/server/service/logging"
	"github.com/apimgr/onionbridge/src/server/service/pipeline"
	"github.com/apimgr/onionbridge/src/server/service/statusapi"
	"github.com/apimgr/onionbridge/src/server/service/system"
	"github.com/apimgr/onionbridge/src/server/signal"
)

// Build info - set via -ldflags at build time
var (
	Version   = "dev"
	CommitID  = "unknown"
	BuildDate = "unknown"
)

func init() {
	if Version != "dev" {
		version.Version = Version
	}
	version.CommitID = CommitID
	version.BuildTime = BuildDate
}

func main() {
	args := os.Args[1:]

	var (
		configPath  string
		pidPath     string
		addrOverride string
		portOverride int
		debug       bool
		daemonize   bool
		serviceCmd  string
	)

	for i := 0; i < len(args); i++ {
		a := args[i]
		switch a {
		case "--help", "-h":
			printHelp()
			return
		case "--version", "-v":
			printVersion()
			return
		case "--status":
			os.Exit(checkStatus(configPath))
		case "--config":
			i++
			if i < len(args) {
				configPath = args[i]
			}
		case "--pid":
			i++
			if i < len(args) {
				pidPath = args[i]
			}
		case "--address":
			i++
			if i < len(args) {
				addrOverride = args[i]
			}
		case "--port":
			i++
			if i < len(args) {
				fmt.Sscanf(args[i], "%d", &portOverride)
			}
		case "--debug":
			debug = true
		case "--daemon", "-d":
			daemonize = true
		case "--service":
			i++
			if i < len(args) {
				serviceCmd = args[i]
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown option: %s\n", a)
			fmt.Fprintln(os.Stderr, "Run 'onionbridge --help' for usage.")
			os.Exit(1)
		}
	}

	if configPath == "" {
		configPath = defaultConfigPath()
	}

	if serviceCmd != "" {
		handleServiceCommand(serviceCmd, configPath)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "onionbridge: loading config: %v\n", err)
		os.Exit(1)
	}

	if addrOverride != "" {
		cfg.HTTP.IP = addrOverride
	}
	if portOverride != 0 {
		cfg.HTTP.Port = portOverride
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "onionbridge: invalid config: %v\n", err)
		os.Exit(1)
	}

	if pidPath == "" {
		pidPath = defaultPIDPath()
	}

	if daemonize {
		if err := daemon.Daemonize(); err != nil {
			fmt.Fprintf(os.Stderr, "onionbridge: daemonize: %v\n", err)
			os.Exit(1)
		}
	}

	if err := signal.WritePIDFile(pidPath, filepath.Base(os.Args[0])); err != nil {
		fmt.Fprintf(os.Stderr, "onionbridge: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.NewAppLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "onionbridge: starting logger: %v\n", err)
		os.Exit(1)
	}

	run(cfg, configPath, pidPath, logger)
}

func run(cfg *config.Config, configPath, pidPath string, logger *logging.AppLogger) {
	coord := coordinator.New(cfg, configPath, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Coordinator.Prepare is the sole owner of the managed-Tor lifecycle
	// (start, SocksAddr, Close) when [TOR] Managed is set; starting a
	// second instance here would contend for the same data directory and
	// SOCKS port.
	if err := coord.Prepare(ctx); err != nil {
		logger.Error("failed to prepare coordinator", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
	if addr, ok := coord.TorSocksAddr(); ok {
		logger.Info("managed Tor process bootstrapped", map[string]interface{}{"socks_addr": addr})
	}

	var listeners []net.Listener

	httpAddr := net.JoinHostPort(cfg.HTTP.IP, fmt.Sprintf("%d", cfg.HTTP.Port))
	httpLn, err := net.Listen("tcp", httpAddr)
	if err != nil {
		logger.Error("failed to listen", map[string]interface{}{"addr": httpAddr, "error": err.Error()})
		os.Exit(1)
	}
	listeners = append(listeners, httpLn)
	pl := pipeline.New(coord, logger)
	go func() {
		logger.Info("HTTP ingress listening", map[string]interface{}{"addr": httpAddr})
		if err := pl.Serve(httpLn); err != nil {
			logger.Warn("pipeline listener stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	if cfg.Control.Enabled {
		controlAddr := net.JoinHostPort(cfg.Control.IP, fmt.Sprintf("%d", cfg.Control.Port))
		controlLn, err := net.Listen("tcp", controlAddr)
		if err != nil {
			logger.Error("failed to listen", map[string]interface{}{"addr": controlAddr, "error": err.Error()})
			os.Exit(1)
		}
		listeners = append(listeners, controlLn)
		ctl := control.New(coord, logger)
		go func() {
			logger.Info("control port listening", map[string]interface{}{"addr": controlAddr})
			if err := ctl.Serve(controlLn); err != nil {
				logger.Warn("control listener stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	if cfg.Status.Enabled {
		statusAddr := net.JoinHostPort(cfg.Status.IP, fmt.Sprintf("%d", cfg.Status.Port))
		statusLn, err := net.Listen("tcp", statusAddr)
		if err != nil {
			logger.Error("failed to listen", map[string]interface{}{"addr": statusAddr, "error": err.Error()})
			os.Exit(1)
		}
		listeners = append(listeners, statusLn)
		statusSrv := &http.Server{Handler: statusapi.NewRouter(coord)}
		go func() {
			logger.Info("status API listening", map[string]interface{}{"addr": statusAddr})
			if err := statusSrv.Serve(statusLn); err != nil && err != http.ErrServerClosed {
				logger.Warn("status listener stopped", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	shutdown := func(shutdownCtx context.Context) {
		logger.Info("shutting down", nil)
		for _, ln := range listeners {
			ln.Close()
		}
		coord.Shutdown()
		cancel()
	}

	signal.SetLogReopenFunc(logger.Reopen)
	signal.SetupSignalHandler(shutdown, pidPath)

	select {}
}

func defaultConfigPath() string {
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, "server.ini")
	}
	if os.Getuid() == 0 {
		return "/etc/onionbridge/server.ini"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "server.ini"
	}
	return filepath.Join(home, ".config", "onionbridge", "server.ini")
}

func defaultPIDPath() string {
	if os.Getuid() == 0 {
		return "/var/run/onionbridge.pid"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "onionbridge.pid"
	}
	return filepath.Join(home, ".local", "run", "onionbridge.pid")
}

func printHelp() {
	fmt.Printf(`onionbridge %s - Tor onion-service reverse proxy

Usage: onionbridge [options]

Options:
  --help              Show this help message
  --version           Show version information
  --status            Check server status
  --config <file>     Set configuration file path
  --pid <file>        Set PID file path
  --address <addr>    Override [HTTP] IP from server.ini
  --port <port>       Override [HTTP] Port from server.ini
  --debug             Force debug-level logging
  --daemon            Run in background (daemonize)
  --service <cmd>     Manage the system service (start|stop|restart|reload|
                      install|uninstall|disable|status)

Environment Variables:
  CONFIG_DIR          Directory containing server.ini

Default behavior:
  Running without arguments loads (or creates) server.ini and starts
  the HTTP ingress, and the control port and status API if enabled.

Documentation: https://github.com/apimgr/onionbridge
`, version.GetShort())
}

func printVersion() {
	fmt.Println(version.GetFull())
	fmt.Printf("Go: %s\n", runtime.Version())
}

func checkStatus(configPath string) int {
	if configPath == "" {
		configPath = defaultConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Println("Status: not initialized")
		return 1
	}

	addr := net.JoinHostPort(cfg.HTTP.IP, fmt.Sprintf("%d", cfg.HTTP.Port))
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		fmt.Println("Status: stopped")
		fmt.Printf("  HTTP: %s (not listening)\n", addr)
		return 1
	}
	conn.Close()

	fmt.Println("Status: running")
	fmt.Printf("  HTTP: %s\n", addr)
	if cfg.Status.Enabled {
		statusAddr := net.JoinHostPort(cfg.Status.IP, fmt.Sprintf("%d", cfg.Status.Port))
		healthURL := fmt.Sprintf("http://%s/healthz", statusAddr)
		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(healthURL)
		if err != nil {
			fmt.Println("  health check: unreachable")
			return 1
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			fmt.Printf("  health check: unhealthy (%d)\n", resp.StatusCode)
			return 1
		}
		fmt.Println("  health check: ok")
	}
	return 0
}

func handleServiceCommand(cmd, configPath string) {
	binary, err := os.Executable()
	if err != nil {
		binary = os.Args[0]
	}
	sm := system.NewServiceManager("onionbridge", binary, filepath.Dir(configPath), filepath.Dir(configPath))

	switch cmd {
	case "start":
		exitOnErr(sm.Start(), "start")
	case "stop":
		exitOnErr(sm.Stop(), "stop")
	case "restart":
		exitOnErr(sm.Restart(), "restart")
	case "reload":
		exitOnErr(sm.Reload(), "reload")
	case "install":
		exitOnErr(sm.Install(), "install")
	case "uninstall":
		exitOnErr(sm.Uninstall(), "uninstall")
	case "disable":
		exitOnErr(sm.Disable(), "disable")
	case "status":
		state, err := sm.GetServiceStatus()
		if err != nil {
			fmt.Fprintf(os.Stderr, "onionbridge: service status: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(state)
	default:
		fmt.Fprintf(os.Stderr, "unknown --service command: %s\n", cmd)
		fmt.Fprintln(os.Stderr, "valid commands: start, stop, restart, reload, install, uninstall, disable, status")
		os.Exit(1)
	}
}

func exitOnErr(err error, verb string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "onionbridge: %s: %v\n", verb, err)
		os.Exit(1)
	}
	fmt.Printf("onionbridge: %s ok\n", verb)
}
