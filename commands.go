package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"readiness/internal/api"
	"readiness/internal/auth"
	"readiness/internal/brief"
	"readiness/internal/device"
	"readiness/internal/export"
	"readiness/internal/render"
	"readiness/internal/service"
	"readiness/internal/store"
)

var (
	scoreForce      bool
	scoreBrief      bool
	scoreComponents bool
	loginCode       string
	trendDays       int
	historyDays     int
	illnessForce    bool
	exportFrom      string
	exportTo        string
	exportOut       string
	serveAddr       string
)

func init() {
	scoreCmd.Flags().BoolVar(&scoreForce, "force", false, "recompute even if today's record exists")
	scoreCmd.Flags().BoolVar(&scoreBrief, "brief", false, "also generate the daily brief")
	scoreCmd.Flags().BoolVar(&scoreComponents, "components", false, "list every sub-score")

	loginCmd.Flags().StringVar(&loginCode, "code", "", "authorization code from the redirect URL")

	trendCmd.Flags().IntVar(&trendDays, "days", 42, "days to plot")
	historyCmd.Flags().IntVar(&historyDays, "days", 14, "days to list")
	illnessCmd.Flags().BoolVar(&illnessForce, "force", false, "re-analyze even if a recent result exists")

	today := time.Now().Format(store.DateLayout)
	exportCmd.Flags().StringVar(&exportFrom, "from", time.Now().AddDate(0, 0, -89).Format(store.DateLayout), "first day (YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportTo, "to", today, "last day (YYYY-MM-DD)")
	exportCmd.Flags().StringVar(&exportOut, "out", "daily.parquet", "output file")

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")

	importCmd.AddCommand(importFitCmd, importHealthCmd)
}

// withApp runs fn with a wired app that is closed afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Calculate and show today's scores",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			rec, err := a.daily.Calculate(ctx, scoreForce)
			if err != nil {
				return fmt.Errorf("calculating today: %w", err)
			}

			if scoreBrief {
				if _, err := a.daily.Brief(ctx); err != nil {
					if !errors.Is(err, brief.ErrDisabled) {
						return fmt.Errorf("generating brief: %w", err)
					}
					fmt.Fprintln(os.Stderr, "brief.endpoint is not configured")
				} else if rec, err = a.daily.Today(ctx); err != nil {
					return err
				}
			}

			fmt.Println(render.DailyCard(rec))
			if scoreComponents {
				fmt.Println(render.Components(rec))
			}
			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch new activities from every configured provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			progress := make(chan service.SyncProgress)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for p := range progress {
					if p.Err != nil {
						fmt.Printf("  %-9s unavailable: %v\n", p.Provider, p.Err)
						continue
					}
					fmt.Printf("  %-9s %d fetched, %d stored\n", p.Provider, p.Fetched, p.Stored)
				}
			}()

			res, err := a.syncer.SyncAll(ctx, progress)
			<-done
			if err != nil {
				return err
			}
			for _, e := range res.Errors {
				fmt.Fprintf(os.Stderr, "  %v\n", e)
			}
			fmt.Printf("Synced %d activities from %d providers\n", res.ActivitiesStored, len(a.syncer.Providers())-len(res.Unavailable))
			return nil
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authorize access to the social fitness platform",
	Long: `Without --code, prints the authorization URL. Open it, approve access and
copy the code parameter from the address you are redirected to, then run
readiness login --code <code>.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if !a.cfg.HasSocial() {
				return errors.New("providers.social.client_id and client_secret must be set first")
			}
			oc := a.oauthConfig()
			if loginCode == "" {
				fmt.Println("Open this URL to authorize access:")
				fmt.Println()
				fmt.Println("  " + auth.AuthorizeURL(oc))
				fmt.Println()
				fmt.Println("Then run: readiness login --code <code>")
				return nil
			}
			res, err := auth.Exchange(ctx, oc, a.db, strings.TrimSpace(loginCode))
			if err != nil {
				return err
			}
			fmt.Printf("Authorized athlete %d\n", res.AthleteID)
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import device exports",
}

var importFitCmd = &cobra.Command{
	Use:   "fit [files...]",
	Short: "Import FIT workout files (default: every .fit in providers.device.fit_dir)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			paths := args
			if len(paths) == 0 {
				dir := a.cfg.Providers.Device.FitDir
				if dir == "" {
					return errors.New("no files given and providers.device.fit_dir is not set")
				}
				matches, err := filepath.Glob(filepath.Join(dir, "*.fit"))
				if err != nil {
					return err
				}
				paths = matches
			}

			n, errs := device.ImportFIT(ctx, a.db, paths, time.Local)
			for _, err := range errs {
				fmt.Fprintf(os.Stderr, "  skipped: %v\n", err)
			}
			fmt.Printf("Imported %d of %d workouts\n", n, len(paths))
			if n > 0 {
				a.cache.InvalidateKind(service.KindActivities)
			}
			return nil
		})
	},
}

var importHealthCmd = &cobra.Command{
	Use:   "health <export.json>",
	Short: "Import health samples and sleep sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			sum, err := device.ImportHealth(ctx, a.db, f)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d samples and %d sleep sessions (%d skipped)\n", sum.Samples, sum.Sleep, sum.Skipped)
			return nil
		})
	},
}

var trendCmd = &cobra.Command{
	Use:   "trend",
	Short: "Plot fitness and fatigue",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			trend, err := a.daily.LoadTrend(ctx, trendDays)
			if err != nil {
				return err
			}
			if len(trend) == 0 {
				fmt.Println("No activities stored yet. Run `readiness sync` first.")
				return nil
			}
			fmt.Println(render.LoadChart(trend, 60))
			return nil
		})
	},
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent daily records",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			to := time.Now()
			recs, err := a.daily.History(ctx, to.AddDate(0, 0, -(historyDays-1)).Format(store.DateLayout), to.Format(store.DateLayout))
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tRECOVERY\tSLEEP\tSTRESS\tCHRONIC\tCTL\tATL\tTSB\tALERT\tILLNESS")
			for _, r := range recs {
				alert := ""
				if r.StressAlert {
					alert = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.1f\t%.1f\t%+.1f\t%s\t%s\n",
					r.Date, optInt(r.Recovery), optInt(r.Sleep), optInt(r.StressAcute), optInt(r.StressChronic),
					r.CTL, r.ATL, r.TSB, alert, r.IllnessSeverity)
			}
			return w.Flush()
		})
	},
}

var illnessCmd = &cobra.Command{
	Use:   "illness",
	Short: "Check for early signs of illness",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			ind, err := a.daily.Illness().Analyze(ctx, illnessForce)
			if err != nil {
				return err
			}
			if !ind.Found() {
				fmt.Println("No illness indicators.")
				return nil
			}
			fmt.Printf("Possible illness: %s (confidence %.0f%%)\n", ind.Severity, ind.Confidence*100)
			for _, s := range ind.Signals {
				fmt.Printf("  %-22s %+.1f%% vs baseline (%d of last 3 days)\n", s.Type, s.DeviationPct, s.DaysCrossed)
			}
			return nil
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write daily records to a parquet file",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			n, err := export.WriteDailyFile(ctx, a.db, exportFrom, exportTo, exportOut)
			if err != nil {
				return err
			}
			fmt.Printf("Wrote %d days to %s\n", n, exportOut)
			return nil
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve scores, illness status and live updates over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmd.SetContext(ctx)

		return withApp(cmd, func(ctx context.Context, a *app) error {
			cfg := api.DefaultServerConfig()
			cfg.Addr = a.cfg.Server.Addr
			if serveAddr != "" {
				cfg.Addr = serveAddr
			}
			srv := api.NewServer(cfg, a.daily, a.daily.Illness(), a.metrics.Handler())

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Start() }()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	},
}
