// README: Bench entry point; loads bench settings through viper, runs the engine properties and exits non-zero when one fails.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"drop/internal/config"
)

// Settings are the bench knobs. DSN and RedisAddr come from the service config so the bench hits the same
// database the API uses.
type Settings struct {
	BaseURL        string        `mapstructure:"base-url"`
	MigrationPath  string        `mapstructure:"migration"`
	ApplyMigration bool          `mapstructure:"apply-migration"`
	Strict         bool          `mapstructure:"strict"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Concurrency    int           `mapstructure:"concurrency"`
	Duration       time.Duration `mapstructure:"duration"`

	DSN       string `mapstructure:"-"`
	RedisAddr string `mapstructure:"-"`
}

func main() {
	settings, err := loadSettings(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "bench:", err)
		os.Exit(2)
	}
	svc, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "bench:", err)
		os.Exit(2)
	}
	settings.DSN = svc.DB.DSN
	settings.RedisAddr = svc.Redis.Addr

	ctx, cancel := context.WithTimeout(context.Background(), settings.Timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	results := NewRunner(settings).RunAll(ctx)
	os.Exit(report(os.Stdout, results, settings.Strict))
}

// loadSettings layers flags over DROP_BENCH_* env vars over defaults.
func loadSettings(args []string) (Settings, error) {
	fs := pflag.NewFlagSet("bench", pflag.ContinueOnError)
	fs.String("base-url", "", "API base URL; empty skips HTTP checks")
	fs.String("migration", "migrations/0001_init.sql", "migration SQL path")
	fs.Bool("apply-migration", false, "apply the migration before running")
	fs.Bool("strict", false, "treat skipped properties as failures")
	fs.Duration("timeout", 60*time.Second, "total timeout")
	fs.Int("concurrency", 20, "riders racing for each order")
	fs.Duration("duration", 10*time.Second, "duration of throughput cases")
	if err := fs.Parse(args); err != nil {
		return Settings{}, err
	}

	v := viper.New()
	v.SetEnvPrefix("DROP_BENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return Settings{}, err
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("bench settings: %w", err)
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	switch {
	case s.Concurrency < 2:
		return Settings{}, fmt.Errorf("concurrency must be at least 2 to race, got %d", s.Concurrency)
	case s.Timeout <= 0 || s.Duration <= 0:
		return Settings{}, errors.New("timeout and duration must be positive")
	}
	return s, nil
}

// report prints the properties that did not hold and returns the process exit code.
func report(w io.Writer, results []Result, strict bool) int {
	var failed, skipped []Result
	for _, r := range results {
		switch r.Status {
		case "FAIL":
			failed = append(failed, r)
		case "SKIP":
			skipped = append(skipped, r)
		}
	}

	held := len(results) - len(failed) - len(skipped)
	fmt.Fprintf(w, "\n%d/%d properties held, %d skipped\n", held, len(results), len(skipped))
	for _, r := range failed {
		fmt.Fprintf(w, "  violated: %s (%s): %s\n", r.Name, r.Focus, r.Note)
	}
	if len(failed) > 0 || (strict && len(skipped) > 0) {
		return 1
	}
	return 0
}
