package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

type cli struct {
	in       io.Reader
	out      io.Writer
	errOut   io.Writer
	logLevel string
}

func (c *cli) logger() *slog.Logger {
	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(c.logLevel))
	return slog.New(slog.NewTextHandler(c.errOut, &slog.HandlerOptions{Level: level}))
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{in: in, out: out, errOut: errOut}
	root := &cobra.Command{
		Use:           "questkit",
		Short:         "Evaluate quest criteria and inspect quest catalogs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "warn", "log level for diagnostics (debug, info, warn, error)")

	root.AddCommand(newEvaluateCmd(c), newCatalogCmd(c))
	return root
}
