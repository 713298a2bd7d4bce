// Command jpgis-dem converts GSI JPGIS/GML DEM files into GeoTIFFs and
// inspects the results.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gpxz/go-jpgisdem"
)

var version = "dev"

const (
	exitSuccess          = 0
	exitInternalError    = 1
	exitUsageError       = 2
	exitParseError       = 3
	exitConsistencyError = 4
	exitIOError          = 5
)

// A usageError is an invalid invocation.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

type app struct {
	stdout      io.Writer
	stderr      io.Writer
	verbose     bool
	metricsFile string
	logger      *zap.Logger
}

func (a *app) newRootCommand() *cobra.Command {
	rootCommand := &cobra.Command{
		Use:           "jpgis-dem",
		Short:         "Convert JPGIS/GML DEM files to GeoTIFF",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.logger = newLogger(a.stderr, a.verbose)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usageErrorf("missing command")
			}
			return usageErrorf("unknown command %q", args[0])
		},
	}
	rootCommand.SetOut(a.stdout)
	rootCommand.SetErr(a.stderr)
	rootCommand.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	persistentFlags := rootCommand.PersistentFlags()
	persistentFlags.BoolVarP(&a.verbose, "verbose", "v", false, "log debug messages")
	persistentFlags.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to `file` on exit")

	rootCommand.AddCommand(
		a.newRasterizeCommand(),
		a.newBatchCommand(),
		a.newInfoCommand(),
		a.newSampleCommand(),
		a.newPreviewCommand(),
		a.newVersionCommand(),
	)
	return rootCommand
}

func (a *app) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := fmt.Fprintln(a.stdout, version)
			return err
		},
	}
}

// exactArgs is cobra.ExactArgs returning a usageError.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

func newLogger(w io.Writer, verbose bool) *zap.Logger {
	level := zap.InfoLevel
	if verbose {
		level = zap.DebugLevel
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(w),
		level,
	)
	return zap.New(core)
}

func exitCode(err error) int {
	var usageErr *usageError
	switch {
	case err == nil:
		return exitSuccess
	case errors.As(err, &usageErr):
		return exitUsageError
	case errors.Is(err, jpgisdem.ErrParse):
		return exitParseError
	case errors.Is(err, jpgisdem.ErrConsistency):
		return exitConsistencyError
	case errors.Is(err, jpgisdem.ErrIO):
		return exitIOError
	default:
		return exitInternalError
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{
		stdout: stdout,
		stderr: stderr,
		logger: zap.NewNop(),
	}
	rootCommand := a.newRootCommand()
	rootCommand.SetArgs(args)
	err := rootCommand.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "jpgis-dem: %v\n", err)
	}
	if a.metricsFile != "" {
		if metricsErr := prometheus.WriteToTextfile(a.metricsFile, prometheus.DefaultGatherer); metricsErr != nil {
			fmt.Fprintf(stderr, "jpgis-dem: %s: %v\n", a.metricsFile, metricsErr)
			if err == nil {
				err = &jpgisdem.Error{Kind: jpgisdem.ErrIO, Name: a.metricsFile, Err: metricsErr}
			}
		}
	}
	_ = a.logger.Sync()
	return exitCode(err)
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
