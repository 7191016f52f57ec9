// Command baby-cam-probe joins a baby-cam session as an extra endpoint and
// reports signaling round-trip times.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"

	"github.com/todorgrigorov/baby-cam/internal/probe"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("baby-cam-probe", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var cfg probe.Config
	fs.StringVar(&cfg.URL, "url", "ws://localhost:3000/", "Signaling WebSocket URL")
	fs.StringVar(&cfg.Origin, "origin", "", "Origin header to send (needed when the server restricts origins)")
	fs.IntVar(&cfg.Count, "count", 5, "Number of pings to send")
	fs.DurationVar(&cfg.Interval, "interval", time.Second, "Delay between pings")
	fs.DurationVar(&cfg.Timeout, "timeout", 2*time.Second, "How long to wait for each pong")
	debug := fs.Bool("debug", false, "Show debug output")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	if *debug {
		pterm.DefaultLogger.Level = pterm.LogLevelDebug
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pterm.DefaultLogger.Debug("probing", pterm.DefaultLogger.Args("url", cfg.URL, "count", cfg.Count))
	report, err := probe.Run(ctx, cfg)
	if report.Role != "" {
		pterm.DefaultLogger.Info(fmt.Sprintf("joined as %s", report.Role))
	}
	if len(report.Samples) > 0 {
		if renderErr := pterm.DefaultTable.WithHasHeader().WithData(report.TableData()).Render(); renderErr != nil {
			pterm.DefaultLogger.Warn(fmt.Sprintf("render table: %v", renderErr))
		}
		lo, mean, hi := report.Stats()
		pterm.Info.Printfln("rtt min/avg/max = %s/%s/%s, %d sent, %d lost",
			lo.Round(time.Microsecond), mean.Round(time.Microsecond), hi.Round(time.Microsecond),
			report.Sent, report.Lost())
	}
	if err != nil {
		pterm.DefaultLogger.Error(err.Error())
		return 1
	}
	if report.Lost() > 0 {
		return 1
	}
	return 0
}
