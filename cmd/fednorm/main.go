// Command fednorm drives one participant's (or the coordinator's) side
// of a federated cross-sample normalization run. Grounded on
// cmd/cryptorun/main.go's cobra root + subcommand wiring and
// cmd/cprotocol/root.go's zerolog bootstrap.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/fednorm/fednorm/internal/audit"
	"github.com/fednorm/fednorm/internal/config"
	"github.com/fednorm/fednorm/internal/data"
	"github.com/fednorm/fednorm/internal/errs"
	"github.com/fednorm/fednorm/internal/metrics"
	"github.com/fednorm/fednorm/internal/protocol"
	"github.com/fednorm/fednorm/internal/statusserver"
	"github.com/fednorm/fednorm/internal/transport"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	var (
		configPath string
		verbose    bool
		statusAddr string
	)

	root := &cobra.Command{
		Use:   "fednorm",
		Short: "Federated cross-sample count-matrix normalization",
		Long: `fednorm runs one site's participant (or the run's coordinator) through
the quantile- or upper-quartile-normalization protocol, exchanging only
aggregate statistics with the other sites.`,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "fednorm.yaml", "path to the run configuration file")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")
	root.PersistentFlags().StringVar(&statusAddr, "status-addr", "", "if set, serve /healthz, /status and /metrics on this address")

	root.AddCommand(runCmd(&configPath, &statusAddr, &verbose))
	root.AddCommand(healthCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCodeFor(err))
	}
}

func runCmd(configPath, statusAddr *string, verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run one participant's (or the coordinator's) side of a normalization run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if *verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			return runFromConfig(ctx, *configPath, *statusAddr)
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "print a short status summary for the current terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			printHealthTable()
			return nil
		},
	}
}

func runFromConfig(ctx context.Context, configPath, statusAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	runID := uuid.New()
	participantID := cfg.ParticipantID
	if participantID == "" {
		participantID = runID.String()
	}

	log.Info().
		Str("run_id", runID.String()).
		Str("participant_id", participantID).
		Str("mode", string(cfg.Mode)).
		Str("role", string(cfg.Role)).
		Msg("starting normalization run")

	reg := metrics.NewRegistry()
	reg.RunsStarted.Inc()

	ledger, err := audit.Open(audit.DefaultConfig())
	if err != nil {
		return errs.ConfigError(err)
	}
	defer ledger.Close()

	tr, err := buildTransport(ctx, cfg, participantID)
	if err != nil {
		return errs.ConfigError(err)
	}
	defer tr.Close()

	var sep rune = ','
	if cfg.Separator != "" {
		sep = []rune(cfg.Separator)[0]
	}
	driver := &protocol.Driver{
		RunID:         runID,
		ParticipantID: participantID,
		Role:          protocol.Role(cfg.Role),
		Mode:          protocolMode(cfg.Mode),
		Transport:     tr,
		Input: data.CSVMatrixSource{
			Path:            cfg.InputFilename,
			Separator:       sep,
			Indexed:         cfg.SampleGenesInInput,
			SampleNamesPath: cfg.SampleNamesFile,
			GeneNamesPath:   cfg.GeneNamesFile,
		},
		Sink:             data.CSVResultSink{ResultPath: cfg.OutputFilename, NormFactorsPath: cfg.NormFactorsFilename(), Separator: sep},
		ParticipantCount: cfg.ParticipantCount,
		ParticipantIDs:   cfg.ParticipantIDs,
	}

	if statusAddr != "" {
		srv, err := statusserver.New(statusServerConfig(statusAddr), driver, reg, runID, participantID)
		if err != nil {
			return errs.ConfigError(err)
		}
		go func() {
			if err := srv.Start(); err != nil {
				log.Error().Err(err).Msg("status server stopped")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	runErr := driver.Run(ctx)

	ledgerCtx, ledgerCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ledgerCancel()
	_ = ledger.RecordTransition(ledgerCtx, runID.String(), participantID, protocol.Role(cfg.Role), protocolMode(cfg.Mode), driver.State())
	if runErr != nil {
		reg.RecordRunFailed(string(errs.KindOf(runErr)))
		_ = ledger.RecordFailure(ledgerCtx, runID.String(), participantID, string(errs.KindOf(runErr)), runErr.Error())
		return runErr
	}

	log.Info().Str("run_id", runID.String()).Msg("normalization run finished")
	return nil
}

// protocolMode translates a config.Mode, written in spec.md section 6's
// literal normalization strings ("quantile", "upper quartile"), to the
// underscored protocol.Mode the driver and wire codec use internally.
// validate() has already rejected any other value by the time this runs.
func protocolMode(m config.Mode) protocol.Mode {
	if m == config.ModeUpperQuartile {
		return protocol.ModeUpperQuartile
	}
	return protocol.ModeQuantile
}

func buildTransport(ctx context.Context, cfg *config.Config, participantID string) (protocol.Transport, error) {
	switch cfg.Transport.Kind {
	case "redis":
		return transport.NewRedisTransport(ctx, cfg.Transport.RedisAddr, cfg.Transport.RedisPassword, cfg.Transport.RedisDB, cfg.Transport.RedisChannel, cfg.Role == config.RoleCoordinator)
	case "websocket":
		if cfg.Role == config.RoleCoordinator {
			return transport.NewCoordinatorWebSocketTransport(ctx, cfg.Transport.ListenAddr, cfg.ParticipantCount)
		}
		return transport.NewParticipantWebSocketTransport(ctx, cfg.Transport.DialAddr, participantID)
	case "inmemory":
		return nil, fmt.Errorf("transport.kind=inmemory requires an in-process hub; use the driver tests' InboxHub instead of the CLI")
	default:
		return nil, fmt.Errorf("unrecognized transport.kind %q", cfg.Transport.Kind)
	}
}

func statusServerConfig(addr string) statusserver.Config {
	cfg := statusserver.DefaultConfig()
	host, port := splitHostPort(addr)
	if host != "" {
		cfg.Host = host
	}
	if port > 0 {
		cfg.Port = port
	}
	return cfg
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0
	}
	return host, port
}

func printHealthTable() {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Println("fednorm: ok")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COMPONENT\tSTATUS")
	fmt.Fprintln(w, "cli\tok")
	fmt.Fprintln(w, "config\tnot loaded (run `fednorm run` to load one)")
	w.Flush()
}

func exitCodeFor(err error) int {
	return errs.ExitCode(err)
}
