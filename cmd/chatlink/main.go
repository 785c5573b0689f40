// ChatLink - headless pub/sub chat relay client.
//
// ChatLink joins one chat channel on a message broker, relays lines typed on
// stdin to it and prints what the channel receives. Connection loss is
// retried a bounded number of times; /reset starts a fresh budget.
//
// Subcommands: "token" mints an API bearer token, "version" prints build
// information.
//
// Optional components, each enabled in configs/config.yaml:
//   - SQLite lifecycle journal
//   - InfluxDB link telemetry
//   - HTTP/WebSocket API
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/chatlink/internal/api"
	"github.com/nerrad567/chatlink/internal/auth"
	"github.com/nerrad567/chatlink/internal/broker"
	"github.com/nerrad567/chatlink/internal/broker/memory"
	"github.com/nerrad567/chatlink/internal/chatlink"
	"github.com/nerrad567/chatlink/internal/infrastructure/config"
	"github.com/nerrad567/chatlink/internal/infrastructure/database"
	"github.com/nerrad567/chatlink/internal/infrastructure/influxdb"
	"github.com/nerrad567/chatlink/internal/infrastructure/logging"
	"github.com/nerrad567/chatlink/internal/infrastructure/mqtt"
	"github.com/nerrad567/chatlink/internal/infrastructure/mqtt5"
	"github.com/nerrad567/chatlink/internal/infrastructure/redis"
	"github.com/nerrad567/chatlink/internal/journal"
	"github.com/nerrad567/chatlink/internal/monitor"
	"github.com/nerrad567/chatlink/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// defaultConfigPath is used when CHATLINK_CONFIG is unset and the file exists.
	defaultConfigPath = "configs/config.yaml"

	// disposeTimeout bounds the wait for the link to tear down on exit.
	disposeTimeout = 10 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	os.Exit(execute(ctx, newRootCmd()))
}

func execute(ctx context.Context, cmd *cobra.Command) int {
	if err := cmd.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "chatlink",
		Short: "ChatLink - headless pub/sub chat relay client",
		Long: "ChatLink joins one chat channel on a message broker, sends the lines typed\n" +
			"on stdin and prints the messages the channel receives.",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), getConfigPath(configPath), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"config file (default $CHATLINK_CONFIG or "+defaultConfigPath+")")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newTokenCmd(&configPath))
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatlink %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func newTokenCmd(configPath *string) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <subject>",
		Short: "Print an API bearer token signed with security.jwt.secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return printToken(getConfigPath(*configPath), args[0], ttl, cmd.OutOrStdout())
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime")
	return cmd
}

// run wires the components, connects and relays chat between in/out until
// ctx is cancelled, in is exhausted or /quit is typed.
func run(ctx context.Context, configPath string, in io.Reader, out io.Writer) error {
	log := logging.Default()
	log.Info("starting ChatLink",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"transport", cfg.Broker.Transport,
		"client_id", cfg.Broker.ClientID,
	)

	// Lifecycle journal (optional)
	var repo journal.Repository
	if cfg.Database.Enabled {
		db, dbErr := database.Open(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if dbErr != nil {
			return fmt.Errorf("opening database: %w", dbErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		repo = journal.NewSQLiteRepository(db.DB)
		log.Info("journal ready", "path", cfg.Database.Path)
	} else {
		log.Info("journal disabled")
	}

	// Telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	transport, err := newTransport(cfg, log.With("component", "transport"))
	if err != nil {
		return err
	}

	link, err := chatlink.New(transport, linkOptions(cfg))
	if err != nil {
		return fmt.Errorf("creating link: %w", err)
	}
	link.SetLogger(log.With("component", "link"))

	// The link outlives ctx so that shutdown can dispose it explicitly.
	if err := link.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("starting link: %w", err)
	}

	mon := monitor.New(link)
	mon.SetLogger(log.With("component", "monitor"))
	if repo != nil {
		mon.SetJournal(repo)
	}
	if influxClient != nil {
		mon.SetTelemetry(influxClient)
	}
	monDone := make(chan struct{})
	go func() {
		defer close(monDone)
		//nolint:errcheck // Run only fails with the background context's error
		mon.Run(context.Background())
	}()

	defer func() {
		disposeLink(link, log)
		<-monDone
	}()

	// HTTP API (optional)
	if cfg.API.Enabled {
		srv, apiErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.With("component", "api"),
			Link:     link,
			Journal:  repo,
			Version:  version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	if err := link.Connect(); err != nil {
		log.Warn("initial connect rejected", "error", err)
	}

	chat(ctx, link, in, out)

	log.Info("ChatLink stopped")
	return nil
}

// getConfigPath returns flagPath, else CHATLINK_CONFIG, else the default
// file when present. "" selects the built-in defaults.
func getConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if path := os.Getenv("CHATLINK_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// printToken mints a token for subject with the configured secret.
func printToken(configPath, subject string, ttl time.Duration, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Security.JWT.Secret == "" {
		return errors.New("security.jwt.secret is not set")
	}

	token, err := auth.GenerateToken(subject, cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, token)
	return nil
}

// newTransport builds the broker transport selected by broker.transport.
func newTransport(cfg *config.Config, log *logging.Logger) (broker.Transport, error) {
	switch cfg.Broker.Transport {
	case config.TransportMQTT:
		t := mqtt.New(mqtt.Config{
			Channel:        cfg.Chat.Channel,
			Presence:       cfg.Broker.Presence,
			ConnectTimeout: cfg.Timeouts.Connect,
		})
		t.SetLogger(log)
		return t, nil
	case config.TransportMQTT5:
		t := mqtt5.New(mqtt5.Config{})
		t.SetLogger(log)
		return t, nil
	case config.TransportRedis:
		t := redis.New(redis.Config{DB: cfg.Broker.RedisDB})
		t.SetLogger(log)
		return t, nil
	case config.TransportMemory:
		return memory.New(memory.NewHub()), nil
	default:
		return nil, fmt.Errorf("unknown broker transport %q", cfg.Broker.Transport)
	}
}

// memoryHost and memoryPort stand in for the broker address of the in-process
// transport, which needs none.
const (
	memoryHost = "localhost"
	memoryPort = 1883
)

// linkOptions maps configuration onto link options.
func linkOptions(cfg *config.Config) chatlink.Options {
	opts := chatlink.Options{
		ClientID:  cfg.Broker.ClientID,
		Host:      cfg.Broker.Host,
		Port:      cfg.Broker.Port,
		TLS:       cfg.Broker.TLS,
		Username:  cfg.Broker.Auth.Username,
		Password:  cfg.Broker.Auth.Password,
		KeepAlive: cfg.Broker.KeepAlive,
		Channel:   cfg.Chat.Channel,
		QoS:       byte(cfg.Chat.QoS),
		Reconnect: chatlink.ReconnectPolicy{
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			Delay:       cfg.Reconnect.Delay,
		},
		SettleDelay:       cfg.Reconnect.SettleDelay,
		ConnectTimeout:    cfg.Timeouts.Connect,
		DisconnectTimeout: cfg.Timeouts.Disconnect,
		PublishTimeout:    cfg.Timeouts.Publish,
		SubscribeTimeout:  cfg.Timeouts.Subscribe,
	}
	if cfg.Broker.Transport == config.TransportMemory {
		if opts.Host == "" {
			opts.Host = memoryHost
		}
		if opts.Port == 0 {
			opts.Port = memoryPort
		}
	}
	return opts
}

// disposeLink disposes the link and waits for its teardown.
func disposeLink(link *chatlink.Link, log *logging.Logger) {
	if err := link.Dispose(); err != nil && !errors.Is(err, chatlink.ErrDisposed) {
		log.Error("error disposing link", "error", err)
	}
	select {
	case <-link.Done():
	case <-time.After(disposeTimeout):
		log.Warn("link teardown timed out")
	}
}

// chatLink is the part of the link the console drives.
type chatLink interface {
	Connect() error
	Disconnect() error
	ResetConnection() error
	Publish(text string) error
	Snapshot() chatlink.Snapshot
	Watch() (<-chan chatlink.Snapshot, func())
}

// chat runs the console until ctx is done, in ends, the link is disposed or
// the user quits. Received messages and status changes are printed to out.
func chat(ctx context.Context, link chatLink, in io.Reader, out io.Writer) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	snapshots, stop := link.Watch()
	defer stop()

	fmt.Fprintln(out, "Type a message and press enter. Commands: /connect /disconnect /reset /status /quit")

	lastIndex := -1
	lastStatus := ""
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if snap.Status != lastStatus {
				fmt.Fprintf(out, "* %s\n", snap.Status)
				lastStatus = snap.Status
			}
			for _, m := range snap.MessagesAfter(lastIndex) {
				fmt.Fprintf(out, "[%s] %s\n", m.ReceivedAt.Format(time.TimeOnly), m.Text)
				lastIndex = m.Index
			}
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := handleLine(link, line, out); quit {
				return
			}
		}
	}
}

// handleLine runs one console line and reports whether the user quit.
func handleLine(link chatLink, line string, out io.Writer) bool {
	var err error
	switch strings.TrimSpace(line) {
	case "/quit":
		return true
	case "/connect":
		err = link.Connect()
	case "/disconnect":
		err = link.Disconnect()
	case "/reset":
		err = link.ResetConnection()
	case "/status":
		s := link.Snapshot()
		fmt.Fprintf(out, "* state=%s connected=%t attempts=%d messages=%d status=%q\n",
			s.State, s.Connected, s.ReconnectAttempts, len(s.Messages), s.Status)
	default:
		err = link.Publish(line)
	}
	if err != nil {
		fmt.Fprintf(out, "! %v\n", err)
	}
	return false
}
