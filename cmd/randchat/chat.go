package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NicolasHaas/randchat/pkg/client"
	"github.com/NicolasHaas/randchat/pkg/logging"
	"github.com/NicolasHaas/randchat/pkg/model"
)

type chatOptions struct {
	configPath  string
	serversFile string
	endpoint    string
	server      string
	username    string
	interest    string
	metricsAddr string
	logLevel    string
	logFormat   string
}

func chatCmd() *cobra.Command {
	opts := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "randchat",
		Short: "Chat with a random stranger from the terminal",
		Long: `randchat connects to a random-chat server, registers a username and an
interest, and pairs you with a stranger. Plain lines are sent to your partner;
lines starting with / are commands (type /help once connected).`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, opts)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&opts.configPath, "config", "", "Settings file (default: settings.yaml next to the binary)")
	pf.StringVar(&opts.serversFile, "servers-file", "", "Saved servers file (default: servers.yaml next to the binary)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: "+logging.LevelNames())
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")

	f := cmd.Flags()
	f.StringVar(&opts.endpoint, "endpoint", "", "Websocket endpoint, overrides the settings file")
	f.StringVar(&opts.server, "server", "", "Name or endpoint of a saved server")
	f.StringVarP(&opts.username, "username", "u", "", "Register with this username right after connecting")
	f.StringVarP(&opts.interest, "interest", "i", "", "Interest to register with: "+interestHelp())
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics and /healthz on this address")

	return cmd
}

func runChat(cmd *cobra.Command, opts *chatOptions) error {
	if err := logging.Setup(logging.FromEnv(logging.Options{
		Level:  opts.logLevel,
		Format: opts.logFormat,
		Output: cmd.ErrOrStderr(),
	})); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	log := logging.For("cli")

	settings, err := client.LoadSettings(opts.configPath)
	if err != nil {
		return err
	}
	if opts.server != "" {
		endpoint, err := savedEndpoint(opts.serversFile, opts.server)
		if err != nil {
			return err
		}
		settings.Endpoint = endpoint
	}
	if opts.endpoint != "" {
		settings.Endpoint = opts.endpoint
	}
	if opts.metricsAddr != "" {
		settings.MetricsAddr = opts.metricsAddr
	}

	interest := settings.DefaultInterest
	if opts.interest != "" {
		if interest, err = model.ParseInterest(opts.interest); err != nil {
			return err
		}
	}

	configPath := opts.configPath
	if configPath == "" {
		configPath = client.DefaultSettingsPath()
	}
	st, err := settings.OpenStore(filepath.Dir(configPath))
	if err != nil {
		return err
	}
	defer st.Close()

	metrics := client.NewMetrics()
	cfg, err := settings.EngineConfig(st, metrics)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if settings.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, settings.MetricsAddr); err != nil {
				log.Warn("metrics endpoint stopped", "addr", settings.MetricsAddr, "err", err)
			}
		}()
		log.Info("serving metrics", "addr", settings.MetricsAddr)
	}

	out := newPrinter(cmd.OutOrStdout())
	eng := client.NewEngine(cfg)
	defer func() {
		if err := eng.Close(); err != nil {
			log.Debug("close engine", "err", err)
		}
	}()
	eng.OnChange = out.render
	eng.OnError = out.error
	eng.OnRegistered = out.registered

	out.printf("Connecting to %s...\n", cfg.Endpoint)
	if err := eng.Connect(ctx); err != nil {
		return err
	}

	sh := newShell(eng, out, interest)
	name := opts.username
	if name == "" {
		if p := eng.SavedProfile(); p != nil {
			name = p.Username
			if opts.interest == "" {
				sh.interest = p.Interest
			}
		}
	}
	if name != "" {
		sh.register(name, sh.interest)
	} else {
		out.printf("Pick a username with /register NAME [INTEREST]. Type /help for commands.\n")
	}

	return sh.run(ctx, readLines(cmd.InOrStdin()))
}

// savedEndpoint resolves a saved server and records its use.
func savedEndpoint(path, key string) (string, error) {
	list := client.NewServerList(path)
	if err := list.Load(); err != nil {
		return "", fmt.Errorf("load servers: %w", err)
	}
	s := list.Find(key)
	if s == nil {
		return "", fmt.Errorf("no saved server named %q (see: randchat servers)", key)
	}
	list.Touch(s.Endpoint, time.Now().Unix())
	if err := list.Save(); err != nil {
		slog.Warn("save servers", "err", err)
	}
	return s.Endpoint, nil
}

func readLines(r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return lines
}
