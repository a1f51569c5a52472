package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/SoftwareDefinedBuildings/bw2c/internal/config"
	"github.com/SoftwareDefinedBuildings/bw2c/internal/logging"
)

const usage = `usage: bw2ctl [flags] <command> [args]

commands:
  publish <uri> <ponum> <text>   publish one payload object
  subscribe <uri>                print messages until interrupted
  query <uri>                    print persisted messages
  list <uri>                     print child URIs
  version                        print the agent version
  init-config <path>             write a default config file

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "bw2ctl: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	addr       string
	heap       int
	statusAddr string
	force      bool
}

func parseFlags(args []string, stderr io.Writer) (options, []string, error) {
	var opts options
	fs := flag.NewFlagSet("bw2ctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	fs.StringVar(&opts.configPath, "config", "", "TOML config file")
	fs.StringVar(&opts.addr, "addr", "", "agent address host:port (overrides config)")
	fs.IntVar(&opts.heap, "heap", -1, "frame heap bytes; 0 allocates per frame (overrides config)")
	fs.StringVar(&opts.statusAddr, "status-addr", "", "serve /healthz, /status and /metrics on this address")
	fs.BoolVar(&opts.force, "force", false, "overwrite an existing file with init-config")
	if err := fs.Parse(args); err != nil {
		return options{}, nil, err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return options{}, nil, flag.ErrHelp
	}
	return opts, fs.Args(), nil
}

// resolveConfig layers flags over the config file over defaults.
func resolveConfig(opts options) (config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.Load(opts.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if opts.addr != "" {
		cfg.Client.Address = opts.addr
	}
	if opts.heap >= 0 {
		cfg.Client.FrameHeapSize = opts.heap
	}
	if opts.statusAddr != "" {
		cfg.StatusAddress = opts.statusAddr
	}
	return cfg, config.Validate(cfg)
}

func configureLogging(level string) {
	lc := logging.DefaultConfig(logging.ProfileRuntime)
	if lvl, ok := logging.ParseLevel(level); ok {
		lc.Level = lvl
	}
	logging.ApplyEnvOverrides(&lc)
	logging.Apply(lc)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	opts, rest, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if rest[0] == "init-config" {
		if len(rest) != 2 {
			return fmt.Errorf("init-config takes one path")
		}
		if err := config.WriteTemplate(rest[1], opts.force); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s\n", rest[1])
		return nil
	}

	cfg, err := resolveConfig(opts)
	if err != nil {
		return err
	}
	configureLogging(cfg.LogLevel)

	cmd, err := lookupCommand(rest)
	if err != nil {
		return err
	}
	return cmd.exec(ctx, cfg, stdout)
}
