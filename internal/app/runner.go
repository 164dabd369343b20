package app

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sqrtlabs/dca-webapp/internal/api"
	"github.com/sqrtlabs/dca-webapp/internal/chain"
	"github.com/sqrtlabs/dca-webapp/internal/chain/signer"
	"github.com/sqrtlabs/dca-webapp/internal/config"
	"github.com/sqrtlabs/dca-webapp/internal/engine"
	apperr "github.com/sqrtlabs/dca-webapp/internal/errors"
	"github.com/sqrtlabs/dca-webapp/internal/httpx"
	"github.com/sqrtlabs/dca-webapp/internal/quote"
	"github.com/sqrtlabs/dca-webapp/internal/store"
	"github.com/sqrtlabs/dca-webapp/internal/swap"
	"github.com/sqrtlabs/dca-webapp/internal/version"
)

// Runner wires configuration, storage, the chain client and the engine
// behind the CLI commands.
type Runner struct {
	stdout io.Writer
	stderr io.Writer
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{stdout: stdout, stderr: stderr}
}

type runtimeState struct {
	runner   *Runner
	flags    config.GlobalFlags
	settings config.Settings
	log      *zap.Logger
	store    *store.Store
	engine   *engine.Engine
	chain    *chain.Client
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r}
	root := state.newRootCommand()
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	err := root.Execute()
	state.close()
	if err == nil {
		return 0
	}
	fmt.Fprintf(r.stderr, "error: %v\n", err)
	if typed, ok := apperr.As(err); ok && typed.Kind == apperr.KindBadRequest {
		return 2
	}
	return 1
}

func (s *runtimeState) close() {
	if s.store != nil {
		_ = s.store.Close()
	}
	if s.chain != nil {
		s.chain.Close()
	}
	if s.log != nil {
		_ = s.log.Sync()
	}
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.Name,
		Short: "DCA plan execution service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" || cmd.Name() == "version" {
				return nil
			}
			// Missing .env is fine; real deployments use the environment.
			_ = godotenv.Load()

			settings, err := config.Load(s.flags)
			if err != nil {
				return apperr.Wrap(apperr.KindBadRequest, "load configuration", err)
			}
			s.settings = settings

			log, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			s.log = log
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&s.flags.ConfigPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&s.flags.RPCURL, "rpc-url", "", "Chain JSON-RPC endpoint")
	cmd.PersistentFlags().StringVar(&s.flags.ListenAddr, "listen", "", "HTTP listen address")
	cmd.PersistentFlags().StringVar(&s.flags.DatabasePath, "db", "", "Path to sqlite database")
	cmd.PersistentFlags().StringVar(&s.flags.Timeout, "timeout", "", "Quote request timeout")
	cmd.PersistentFlags().StringVar(&s.flags.ConfirmTimeout, "confirm-timeout", "", "Receipt confirmation timeout")
	cmd.PersistentFlags().IntVar(&s.flags.Retries, "retries", -1, "Retries per quote request")

	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(s.newExecuteCommand())
	cmd.AddCommand(s.newPlanCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

// bootstrapStore opens the database only; enough for read commands.
func (s *runtimeState) bootstrapStore() error {
	if s.store != nil {
		return nil
	}
	st, err := store.Open(s.settings.DatabasePath, s.settings.DatabaseLockPath)
	if err != nil {
		return err
	}
	s.store = st
	return nil
}

// bootstrapEngine builds the full execution pipeline: signer, chain client,
// quote client, executor, engine.
func (s *runtimeState) bootstrapEngine(ctx context.Context) error {
	if s.engine != nil {
		return nil
	}
	if err := s.settings.Validate(); err != nil {
		return err
	}
	if err := s.bootstrapStore(); err != nil {
		return err
	}

	txSigner, err := signer.NewLocalSignerFromEnv()
	if err != nil {
		return err
	}
	chainClient, err := chain.Dial(ctx, s.settings.RPCURL, s.settings.ChainID, txSigner, chain.Options{
		PollInterval:       s.settings.ConfirmPoll,
		ConfirmTimeout:     s.settings.ConfirmTimeout,
		GasMultiplier:      s.settings.GasMultiplier,
		MaxFeeGwei:         s.settings.MaxFeeGwei,
		MaxPriorityFeeGwei: s.settings.MaxPriorityGwei,
	})
	if err != nil {
		return err
	}
	s.chain = chainClient

	httpClient := httpx.New(s.settings.HTTPTimeout, s.settings.QuoteRetries)
	quotes := quote.New(httpClient, s.settings.ZeroExBaseURL, s.settings.ZeroExAPIKey, s.settings.ChainID)

	executor, err := swap.NewExecutor(chainClient, common.HexToAddress(s.settings.ExecutorAddress))
	if err != nil {
		return err
	}

	s.engine = engine.New(s.store, chainClient, quotes, executor,
		common.HexToAddress(s.settings.StablecoinAddress), s.log)
	return nil
}

func (s *runtimeState) newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := s.bootstrapEngine(ctx); err != nil {
				return err
			}

			srv := api.NewServer(s.engine, s.store, s.log)
			httpSrv := &http.Server{
				Addr:              s.settings.ListenAddr,
				Handler:           srv.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				s.log.Info("listening", zap.String("addr", s.settings.ListenAddr))
				errCh <- httpSrv.ListenAndServe()
			}()

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			select {
			case err := <-errCh:
				return err
			case sig := <-stop:
				s.log.Info("shutting down", zap.String("signal", sig.String()))
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpSrv.Shutdown(shutdownCtx)
			}
		},
	}
}

func (s *runtimeState) newExecuteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "execute <planhash>",
		Short: "Run one plan execution",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := s.bootstrapEngine(ctx); err != nil {
				return err
			}
			res, err := s.engine.ExecutePlan(ctx, args[0])
			if err != nil {
				if res.TxHash != (common.Hash{}) {
					fmt.Fprintf(s.runner.stderr, "tx hash: %s\n", res.TxHash.Hex())
				}
				return err
			}
			fmt.Fprintf(s.runner.stdout, "executed %s\n  tx: %s\n  amount out: %s\n  fee: %s\n",
				args[0], res.TxHash.Hex(), res.AmountOut, res.FeeAmount)
			if res.NeedsReconciliation {
				fmt.Fprintln(s.runner.stdout, "  warning: swap event not found, record flagged for reconciliation")
			}
			return nil
		},
	}
}

func (s *runtimeState) newPlanCommand() *cobra.Command {
	root := &cobra.Command{Use: "plan", Short: "Inspect stored plans"}

	list := &cobra.Command{
		Use:   "list <address>",
		Short: "List a wallet's plans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.bootstrapStore(); err != nil {
				return err
			}
			plans, err := s.store.PlansByUser(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(plans) == 0 {
				fmt.Fprintln(s.runner.stdout, "no plans")
				return nil
			}
			for _, p := range plans {
				status := "paused"
				if p.Active {
					status = "active"
				}
				fmt.Fprintf(s.runner.stdout, "%s  %s -> %s  amount=%s every %ds  [%s]\n",
					p.PlanHash, p.TokenOutAddress, p.Recipient, p.AmountIn, p.FrequencySeconds, status)
			}
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <planhash>",
		Short: "Show one plan and its executions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := s.bootstrapStore(); err != nil {
				return err
			}
			ctx := cmd.Context()
			p, err := s.store.PlanByHash(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(s.runner.stdout, "plan %s\n  user: %s\n  token out: %s\n  recipient: %s\n  amount in: %s\n  frequency: %ds\n  last executed: %d\n  active: %t\n",
				p.PlanHash, p.UserWallet, p.TokenOutAddress, p.Recipient, p.AmountIn, p.FrequencySeconds, p.LastExecutedAt, p.Active)
			execs, err := s.store.ExecutionsByPlan(ctx, args[0])
			if err != nil {
				return err
			}
			for _, e := range execs {
				fmt.Fprintf(s.runner.stdout, "  execution %s at %d: in=%s out=%s fee=%s\n",
					e.TxHash, e.ExecutedAt, e.AmountIn, e.AmountOut, e.FeeAmount)
			}
			return nil
		},
	}

	root.AddCommand(list)
	root.AddCommand(show)
	return root
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.Version)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}
