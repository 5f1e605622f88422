package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"nuha.dev/trackee/internal/control"
	"nuha.dev/trackee/internal/credential"
	"nuha.dev/trackee/internal/position"
	"nuha.dev/trackee/internal/reporter"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reporting agent and its local control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()
			return a.run(ctx)
		},
	}
	cmd.Flags().String("control-addr", "", "control API listen address")
	_ = v.BindPFlag("control.listen_addr", cmd.Flags().Lookup("control-addr"))
	return cmd
}

func (a *app) run(ctx context.Context) error {
	l := mainLogger()
	a.startBackground()
	started, err := a.agent.Boot(ctx)
	if err != nil {
		return err
	}
	l.Info().Bool("tracking", started).Msg("agent booted")

	api := control.NewApi(a.agent, a.board, &control.ApiConfig{ListenAddr: a.cfg.Control.ListenAddr})
	err = api.Run(ctx)
	a.agent.Stop()
	// let an out-of-band ReportNow cycle land in the journal too
	a.rep.Quiesce(func() {})
	l.Info().Msg("agent stopped")
	return err
}

func loginCmd() *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Exchange email and password for tokens and store them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("TRACKEE_PASSWORD")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			cred, err := newClient(cfg).Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err = credential.Save(ctx, store, cred); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Login Successful")
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password (or TRACKEE_PASSWORD)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			if err = credential.Clear(ctx, store); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
			return nil
		},
	}
}

func reportOnceCmd() *cobra.Command {
	var fix_wait time.Duration
	cmd := &cobra.Command{
		Use:   "report-once",
		Short: "Run a single reporting cycle and print its result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := build(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()
			a.startBackground()
			if err = waitForFix(ctx, a.source, fix_wait); err != nil {
				return err
			}
			res := a.rep.RunCycle(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s place=%q sends=%d refreshes=%d\n", res.ID, res.Outcome, res.Place, res.Sends, res.Refreshes)
			if res.Outcome != reporter.Delivered {
				if res.Err != nil {
					return res.Err
				}
				return fmt.Errorf("cycle ended %s", res.Outcome)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&fix_wait, "fix-wait", 10*time.Second, "how long to wait for a first position fix")
	return cmd
}

// waitForFix polls the source until it has a fix or d elapses. A source that
// stays unavailable is not an error: the cycle reports it.
func waitForFix(ctx context.Context, src position.Source, d time.Duration) error {
	deadline := time.Now().Add(d)
	for {
		_, err := src.Current(ctx)
		if err == nil || !errors.Is(err, position.ErrUnavailable) {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
}
