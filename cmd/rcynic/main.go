package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/relyingparty/rcynic/pkg/config"
	"github.com/relyingparty/rcynic/pkg/history"
	"github.com/relyingparty/rcynic/pkg/log"
	"github.com/relyingparty/rcynic/pkg/metrics"
	"github.com/relyingparty/rcynic/pkg/rpki/counters"
	"github.com/relyingparty/rcynic/pkg/rpki/events"
	"github.com/relyingparty/rcynic/pkg/rpki/fetch"
	"github.com/relyingparty/rcynic/pkg/rpki/fetchcache"
	"github.com/relyingparty/rcynic/pkg/rpki/runctx"
	"github.com/relyingparty/rcynic/pkg/rpki/staging"
	"github.com/relyingparty/rcynic/pkg/rpki/trustanchor"
	"github.com/relyingparty/rcynic/pkg/xmlsummary"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rcynic: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rcynic",
	Short: "RPKI relying-party validator",
	Long: `rcynic walks every configured trust anchor's certificate
hierarchy, fetches each publication point over rsync, validates every
manifest, CRL, ROA, and Ghostbuster record it finds, and installs the
accepted objects into an authenticated/ tree for downstream consumers.`,
	SilenceUsage: true,
	RunE:         runSweep,
}

func init() {
	rootCmd.Flags().StringP("config", "c", "rcynic.conf", "path to the YAML configuration file")
	rootCmd.Flags().StringP("log-level", "l", "", "override the configured log-level")
	rootCmd.Flags().BoolP("syslog", "s", false, "override use-syslog")
	rootCmd.Flags().BoolP("stderr", "e", false, "override use-stderr")
	rootCmd.Flags().IntP("jitter", "j", -1, "override jitter, in seconds (0 disables)")
	rootCmd.Flags().BoolP("version", "V", false, "print the version and exit")
	rootCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while the sweep runs")

	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("number", "n", 10, "number of past runs to show, most recent first")
}

func runSweep(cmd *cobra.Command, args []string) error {
	if v, _ := cmd.Flags().GetBool("version"); v {
		fmt.Printf("rcynic %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		return nil
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, cfg)

	logCfg, err := cfg.LogConfig()
	if err != nil {
		return err
	}
	if err := log.Init(logCfg); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}

	unlock, err := runctx.Lock(cfg.Lockfile)
	if err != nil {
		return err
	}
	defer unlock()

	sleepJitter(cfg.Jitter)

	roots := cfg.Roots()
	cache := fetchcache.New()
	fetcher := fetch.New(cfg.RsyncProgram, time.Duration(cfg.RsyncTimeout)*time.Second, roots.Unauthenticated, cache)

	anchors, err := resolveTrustAnchors(cfg, fetcher, roots)
	if err != nil {
		return err
	}

	registry := counters.NewRegistry()
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		collector := metrics.NewCollector(broker)
		collector.Start()
		defer collector.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithComponent("metrics").Error().Err(err).Msg("metrics server stopped")
			}
		}()
		defer metricsSrv.Close()
	}

	installer := staging.Installer{Roots: roots, UseLinks: cfg.UseLinks}
	rc := runctx.New(installer, fetcher, cfg.Policy(), registry, broker)

	start := time.Now()
	timer := metrics.NewTimer()
	sweepErr := rc.Run(context.Background(), anchors, start)
	timer.ObserveDuration(metrics.RunDuration)
	finished := time.Now()

	if cfg.XMLSummary != "" {
		hostname, _ := os.Hostname()
		if err := xmlsummary.WriteFile(cfg.XMLSummary, registry, hostname, finished.UTC().Format(time.RFC3339)); err != nil {
			log.WithComponent("xmlsummary").Error().Err(err).Msg("failed to write XML summary")
		}
	}

	recordHistory(cfg, registry, start, finished)

	return sweepErr
}

func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetBool("syslog"); v {
		cfg.UseSyslog = true
	}
	if v, _ := cmd.Flags().GetBool("stderr"); v {
		cfg.UseStderr = true
	}
	if v, _ := cmd.Flags().GetInt("jitter"); v >= 0 {
		cfg.Jitter = v
	}
	if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}
}

// sleepJitter sleeps a random duration in [0, seconds), spec.md §5's
// cron-friendly startup stagger so a fleet of validators sharing a
// schedule don't all hit the same repositories at once.
func sleepJitter(seconds int) {
	if seconds <= 0 {
		return
	}
	time.Sleep(time.Duration(rand.Intn(seconds)) * time.Second)
}

func resolveTrustAnchors(cfg *config.Config, fetcher *fetch.Fetcher, roots staging.Roots) ([]*trustanchor.Anchor, error) {
	var anchors []*trustanchor.Anchor

	for _, path := range cfg.TrustAnchor {
		a, err := trustanchor.LoadLocalFile(path)
		if err != nil {
			return nil, err
		}
		anchors = append(anchors, a)
	}

	for _, path := range cfg.TrustAnchorLocator {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening trust anchor locator %s: %w", path, err)
		}
		tal, err := trustanchor.ParseTAL(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("parsing trust anchor locator %s: %w", path, err)
		}

		a, outcome := tal.Resolve(context.Background(), fetcher, roots)
		if outcome != counters.ValidationOK {
			return nil, fmt.Errorf("resolving trust anchor locator %s: %s", path, outcome)
		}
		anchors = append(anchors, a)
	}

	return anchors, nil
}

func recordHistory(cfg *config.Config, registry *counters.Registry, start, finished time.Time) {
	store, err := history.Open(".")
	if err != nil {
		log.WithComponent("history").Error().Err(err).Msg("failed to open history store")
		return
	}
	defer store.Close()

	hosts := make(map[string]counters.HostCounters)
	for _, h := range registry.Hosts() {
		hosts[h] = registry.HostCounters(h)
	}

	_, err = store.Save(history.RunSummary{
		StartedAt:  start,
		FinishedAt: finished,
		XMLSummary: cfg.XMLSummary,
		Hosts:      hosts,
	})
	if err != nil {
		log.WithComponent("history").Error().Err(err).Msg("failed to save run summary")
	}
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show a trend line of past validation runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, _ := cmd.Flags().GetInt("number")

		store, err := history.Open(".")
		if err != nil {
			return fmt.Errorf("opening history store: %w", err)
		}
		defer store.Close()

		runs, err := store.Recent(n)
		if err != nil {
			return fmt.Errorf("reading run history: %w", err)
		}
		if len(runs) == 0 {
			fmt.Println("No recorded runs")
			return nil
		}

		fmt.Printf("%-20s %-20s %-10s %s\n", "STARTED", "FINISHED", "HOSTS", "VALIDATIONS")
		for _, r := range runs {
			var total uint64
			for _, hc := range r.Hosts {
				total += hc.ValidationCount()
			}
			fmt.Printf("%-20s %-20s %-10d %d\n",
				r.StartedAt.Format("2006-01-02 15:04:05"),
				r.FinishedAt.Format("2006-01-02 15:04:05"),
				len(r.Hosts),
				total,
			)
		}
		return nil
	},
}
