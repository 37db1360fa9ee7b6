// Command glubean-run is the optional developer-facing front end for the
// engine: point it at a compiled test file and one or more test ids and it
// drives the batch scheduler locally, rendering progress and a summary
// table instead of raw NDJSON. It is not part of the library engine itself
// (spec.md §1's CLI/dashboard non-goals still hold for any *persisted*
// report format); this is scaffolding for local iteration, grounded on the
// teacher's cmd/slctl entry point style, generalized here to
// github.com/spf13/cobra + github.com/spf13/viper per blackcoderx-falcon's
// cmd/falcon/main.go.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/glubean/glubean/internal/engine"
	"github.com/glubean/glubean/internal/report"
	"github.com/glubean/glubean/internal/sandboxconfig"
)

var (
	cfgFile     string
	concurrency int
	failFast    bool
	failAfter   int
	allowNet    string
	quiet       bool
	verbose     bool
	debugStderr bool
	varFlags    []string
	secretFlags []string
)

func main() {
	root := &cobra.Command{
		Use:          "glubean-run <testUrl> <testId> [testId...]",
		Short:        "Run one or more Glubean tests locally and print a summary",
		Args:         cobra.MinimumNArgs(2),
		SilenceUsage: true,
		RunE:         runBatch,
	}
	cobra.OnInitialize(initConfig)
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file overriding run defaults (default: env GLUBEAN_DEV_CONFIG)")
	root.Flags().IntVar(&concurrency, "concurrency", 0, "worker pool size (default: from config, else 1)")
	root.Flags().BoolVar(&failFast, "fail-fast", false, "stop scheduling after the first failure")
	root.Flags().IntVar(&failAfter, "fail-after", 0, "stop scheduling after N failures (takes precedence over --fail-fast)")
	root.Flags().StringVar(&allowNet, "allow-net", "", `"*" for unrestricted, empty for none, or a comma-separated host allowlist`)
	root.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress the progress spinner")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "emit full request/response trace bodies")
	root.Flags().BoolVar(&debugStderr, "debug", false, "inherit harness stderr instead of capturing it")
	root.Flags().StringArrayVar(&varFlags, "var", nil, "key=value test variable, repeatable")
	root.Flags().StringArrayVar(&secretFlags, "secret", nil, "key=value test secret, repeatable")
	_ = viper.BindPFlags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "glubean-run: %v\n", err)
		os.Exit(1)
	}
}

// initConfig wires viper to the same YAML override file sandboxconfig.Load
// reads, so a value set there (or in the environment, via AutomaticEnv) is
// visible to viper.IsSet checks below even when the matching CLI flag was
// left at its zero value, mirroring cmd/falcon/main.go's initConfig.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if env := os.Getenv("GLUBEAN_DEV_CONFIG"); env != "" {
		viper.SetConfigFile(env)
	}
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

func runBatch(cmd *cobra.Command, args []string) error {
	testURL := args[0]
	testIDs := args[1:]

	cfg, err := sandboxconfig.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyOverrides(&cfg)
	flags := sandboxconfig.ResolveFlags(cfg)

	vars, err := parseKeyValues(varFlags)
	if err != nil {
		return fmt.Errorf("--var: %w", err)
	}
	secrets, err := parseKeyValues(secretFlags)
	if err != nil {
		return fmt.Errorf("--secret: %w", err)
	}

	execInput := engine.ExecutionInput{
		Vars:          vars,
		Secrets:       secrets,
		EmitFullTrace: flags.EmitFullTrace,
	}

	executor := engine.NewExecutor()
	scheduler := engine.NewScheduler(executor)

	var progress *report.Progress
	if !quiet {
		progress = report.NewProgress(len(testIDs))
	}

	batch := scheduler.RunMany(context.Background(), testURL, testIDs, engine.BatchOptions{
		Concurrency:  cfg.Concurrency,
		FailureLimit: cfg.FailureLimit(),
		Context:      execInput,
		Flags:        flags,
		Debug:        debugStderr,
		OnEvent: func(ev engine.TimelineEvent) {
			if verbose {
				report.LogLine(os.Stdout, ev)
			}
		},
	})

	if progress != nil {
		for _, r := range batch.Results {
			progress.OnResult(r)
		}
		progress.Stop()
	}

	report.Summary(os.Stdout, batch)

	if !batch.Success() {
		os.Exit(1)
	}
	return nil
}

// applyOverrides layers CLI/config-file values over cfg, which already
// carries the environment-decoded baseline from sandboxconfig.Load.
// viper.IsSet reports true when the value came from the bound flag, the
// YAML file initConfig loaded, or AutomaticEnv, any of which should win
// over sandboxconfig.Load's own defaults.
func applyOverrides(cfg *sandboxconfig.RunConfig) {
	if viper.IsSet("concurrency") && viper.GetInt("concurrency") > 0 {
		cfg.Concurrency = viper.GetInt("concurrency")
	}
	if viper.IsSet("fail-fast") && viper.GetBool("fail-fast") {
		cfg.FailFast = true
	}
	if viper.IsSet("fail-after") && viper.GetInt("fail-after") > 0 {
		cfg.FailAfter = viper.GetInt("fail-after")
	}
	if viper.IsSet("allow-net") && viper.GetString("allow-net") != "" {
		cfg.AllowNet = viper.GetString("allow-net")
	}
	if viper.IsSet("verbose") && viper.GetBool("verbose") {
		cfg.EmitFullTrace = true
	}
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("malformed %q, expected key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
