package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/localstore"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/validator"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "candidate",
		Short:        "Run an exam session on this device",
		SilenceUsage: true,
	}

	run := runCmd()
	root.AddCommand(run, inspectCmd(), resetCmd())

	// Make "run" the default when no subcommand is given.
	root.RunE = run.RunE
	root.Flags().AddFlagSet(run.Flags())

	return root
}

// storeFlags are shared by every subcommand that opens the local store.
func storeFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "candidate.db", "SQLite file holding the local session state")
	f.String("redis-url", "", "Use a shared Redis instead of SQLite (lab kiosks)")
	f.Duration("redis-ttl", 48*time.Hour, "Expiry of session entries in the shared Redis")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "json", "Log format (json, pretty)")
	f.String("log-file", "candidate.log", "Log file (- for stderr)")
}

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start or resume the exam in this terminal",
		RunE:  runExam,
	}
	storeFlags(cmd)

	d := config.LoadEngine()
	f := cmd.Flags()
	f.StringP("package", "p", "exam.json", "Exam package with the session descriptor and questions")
	f.StringP("server", "s", "", "proctord base URL (empty runs fully offline)")
	f.String("token", "", "Device token issued by the proctor")
	f.StringP("lang", "l", "", "Notice language (id, en); defaults to Indonesian")
	f.Duration("tick", d.TickInterval, "Countdown tick interval")
	f.Duration("sync-interval", d.SyncInterval, "Interval between pushes to proctord")
	f.Duration("probe-interval", d.ProbeInterval, "Interval between connectivity probes")
	f.Duration("request-timeout", d.RequestTimeout, "Timeout of one request to proctord")
	f.Duration("reconnect-delay", d.ReconnectDelay, "Pause between command stream dial attempts")
	return cmd
}

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the persisted state and result of a session",
		RunE:  runInspect,
	}
	storeFlags(cmd)
	keyFlags(cmd)
	return cmd
}

func resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the persisted state and result of a session",
		RunE:  runReset,
	}
	storeFlags(cmd)
	keyFlags(cmd)
	cmd.Flags().Bool("yes", false, "Do not ask for confirmation")
	return cmd
}

func keyFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringP("package", "p", "", "Take the candidate and session from this exam package")
	f.String("candidate", "", "Candidate id")
	f.String("session", "", "Session id")
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("EXSTEM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("candidate")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/exstem")
	v.AddConfigPath("/etc/exstem")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "error reading config file: %v\n", err)
		}
	}

	return v
}

// setupLogging returns the harness logger. The terminal belongs to the
// candidate, so logs go to a file unless "-" is given.
func setupLogging(v *viper.Viper) (zerolog.Logger, func(), error) {
	var (
		out     io.Writer = os.Stderr
		closeFn           = func() {}
	)
	if path := v.GetString("log-file"); path != "" && path != "-" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return zerolog.Nop(), closeFn, fmt.Errorf("open log file: %w", err)
		}
		out, closeFn = f, func() { f.Close() }
	}
	log := logger.SetupTo(out, v.GetString("log-level"), v.GetString("log-format"))
	if path := v.ConfigFileUsed(); path != "" {
		log.Info().Str("path", path).Msg("Loaded config file")
	}
	return log, closeFn, nil
}

// openStore opens the SQLite file, or the shared Redis when one is configured.
func openStore(v *viper.Viper, log zerolog.Logger) (*localstore.Store, error) {
	if url := v.GetString("redis-url"); url != "" {
		opt, err := redis.ParseURL(url)
		if err != nil {
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}
		log.Info().Str("addr", opt.Addr).Msg("Using shared Redis store")
		return localstore.New(localstore.NewRedis(redis.NewClient(opt), v.GetDuration("redis-ttl")), localstore.WithLogger(log)), nil
	}

	backend, err := localstore.OpenSQLite(v.GetString("db"))
	if err != nil {
		return nil, err
	}
	return localstore.New(backend, localstore.WithLogger(log)), nil
}

// loadPackage reads and validates an exam package file.
func loadPackage(path string) (*model.ExamPackage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read package: %w", err)
	}
	pkg := &model.ExamPackage{}
	if err := json.Unmarshal(raw, pkg); err != nil {
		return nil, fmt.Errorf("decode package %s: %w", path, err)
	}
	if fields := validator.Struct(pkg); fields != nil {
		return nil, fmt.Errorf("invalid package %s: %v", path, fields)
	}
	if err := pkg.Descriptor.Validate(); err != nil {
		return nil, err
	}
	return pkg, nil
}

// keyFromFlags resolves the session key from --package or the explicit ids.
func keyFromFlags(v *viper.Viper) (localstore.Key, error) {
	if path := v.GetString("package"); path != "" {
		pkg, err := loadPackage(path)
		if err != nil {
			return localstore.Key{}, err
		}
		return localstore.KeyFor(pkg.Descriptor), nil
	}
	k := localstore.Key{CandidateID: v.GetString("candidate"), SessionID: v.GetString("session")}
	if k.CandidateID == "" || k.SessionID == "" {
		return k, fmt.Errorf("give --package or both --candidate and --session")
	}
	return k, nil
}
