package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/tboy1337/multisocks/pkg/config"
	"github.com/tboy1337/multisocks/pkg/logging"
	"github.com/tboy1337/multisocks/pkg/supervisor"
	"github.com/tboy1337/multisocks/pkg/version"
)

func printHeader() {
	fmt.Println()
	fmt.Println(`███╗   ███╗██╗   ██╗██╗  ████████╗██╗███████╗ ██████╗  ██████╗██╗  ██╗███████╗`)
	fmt.Println(`████╗ ████║██║   ██║██║  ╚══██╔══╝██║██╔════╝██╔═══██╗██╔════╝██║ ██╔╝██╔════╝`)
	fmt.Println(`██╔████╔██║██║   ██║██║     ██║   ██║███████╗██║   ██║██║     █████╔╝ ███████╗`)
	fmt.Println(`██║╚██╔╝██║██║   ██║██║     ██║   ██║╚════██║██║   ██║██║     ██╔═██╗ ╚════██║`)
	fmt.Println(`██║ ╚═╝ ██║╚██████╔╝███████╗██║   ██║███████║╚██████╔╝╚██████╗██║  ██╗███████║`)
	fmt.Println(`╚═╝     ╚═╝ ╚═════╝ ╚══════╝╚═╝   ╚═╝╚══════╝ ╚═════╝  ╚═════╝╚═╝  ╚═╝╚══════╝`)
	fmt.Println()
}

// Exit codes.
const (
	exitOK          = 0
	exitConfigError = 1
	exitBindFailure = 2
	exitNoProxies   = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		host               string
		port               int
		proxies            string
		proxyFile          string
		autoOptimize       bool
		logLevel           string
		configPath         string
		noConsole          bool
		maxConns           int
		optimizerTargetURL string
	)

	flag.StringVar(&host, "host", "", "listen host (default 127.0.0.1)")
	flag.IntVar(&port, "port", 0, "listen port (default 1080)")
	flag.StringVar(&proxies, "proxies", "", "comma-separated list of upstream proxy specs")
	flag.StringVar(&proxyFile, "proxy-file", "", "path to a file listing upstream proxy specs, one per line")
	flag.BoolVar(&autoOptimize, "auto-optimize", false, "periodically retune the active proxy count against measured bandwidth")
	flag.StringVar(&logLevel, "log-level", "", "log level: error, warn, info, debug, trace")
	flag.StringVar(&configPath, "config", "", "path to a YAML config file")
	flag.BoolVar(&noConsole, "no-console", false, "disable the interactive admin console")
	flag.IntVar(&maxConns, "max-conns", 0, "maximum concurrent downstream connections (0 = unlimited)")
	flag.StringVar(&optimizerTargetURL, "optimizer-target-url", "", "URL used by --auto-optimize to measure bandwidth")
	flag.Parse()

	if proxies != "" && proxyFile != "" {
		fmt.Fprintln(os.Stderr, "error: --proxies and --proxy-file are mutually exclusive")
		return exitConfigError
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitConfigError
	}

	applyFlags(cfg, host, port, proxies, proxyFile, logLevel, maxConns, optimizerTargetURL, autoOptimize, noConsole)

	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitConfigError
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitConfigError
	}

	logging.SetLevelFromString(cfg.LogLevel)
	logging.SetInteractive(term.IsTerminal(int(os.Stderr.Fd())))

	printHeader()
	log.Printf("multisocks %s (commit %s, date %s)", version.Version, version.Commit, version.Date)

	sup, err := supervisor.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		switch {
		case strings.Contains(err.Error(), "no proxies configured"):
			return exitNoProxies
		case strings.Contains(err.Error(), "invalid proxy configuration"):
			return exitConfigError
		default:
			return exitBindFailure
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitBindFailure
	}

	return exitOK
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.LoadFile(configPath)
}

func applyFlags(cfg *config.Config, host string, port int, proxies, proxyFile, logLevel string, maxConns int, optimizerTargetURL string, autoOptimize, noConsole bool) {
	if host != "" {
		cfg.Host = host
	}
	if port != 0 {
		cfg.Port = port
	}
	if proxies != "" {
		cfg.Proxies = splitAndTrim(proxies)
		cfg.ProxyFile = ""
	}
	if proxyFile != "" {
		cfg.ProxyFile = proxyFile
		cfg.Proxies = nil
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if maxConns != 0 {
		cfg.MaxConns = maxConns
	}
	if optimizerTargetURL != "" {
		cfg.OptimizerTargetURL = optimizerTargetURL
	}
	if autoOptimize {
		cfg.AutoOptimize = true
	}
	if noConsole {
		cfg.NoConsole = true
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
