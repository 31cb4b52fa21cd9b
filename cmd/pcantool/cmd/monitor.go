package cmd

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/roffe/peakcan"
	"github.com/roffe/peakcan/internal/logging"
	"github.com/roffe/peakcan/internal/metrics"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "print received frames until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		noColor, _ := f.GetBool("no-color")
		filter, _ := f.GetString("filter")
		extended, _ := f.GetBool("extended")
		count, _ := f.GetInt("count")
		if noColor {
			color.NoColor = true
		}

		s, err := openSocket(cmd)
		if err != nil {
			return err
		}
		defer closeSocket(s)

		if filter != "" {
			from, to, err := parseRange(filter)
			if err != nil {
				return err
			}
			mode := peakcan.Standard
			if extended {
				mode = peakcan.Extended
			}
			if err := s.FilterMessages(from, to, mode); err != nil {
				return err
			}
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		g, gctx := errgroup.WithContext(ctx)
		if addr := mustString(cmd.Flags(), flagMetricsAddr); addr != "" {
			g.Go(func() error {
				return metrics.Serve(gctx, addr)
			})
		}
		g.Go(func() error {
			defer cancel()
			return monitor(gctx, s, count)
		})
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

// monitor prints frames from s until ctx is done or count frames were
// read. A count of zero means no limit.
func monitor(ctx context.Context, s *peakcan.Socket, count int) error {
	log := logging.L().With("bus", s.Bus().String())
	log.Info("monitor_start", "fd", s.FD())
	for n := 0; count == 0 || n < count; n++ {
		var line string
		if s.FD() {
			frame, ts, err := s.RecvFDContext(ctx)
			if err != nil {
				return err
			}
			line = fmt.Sprintf("%12.6f %s", float64(ts)/1e6, frame.ColorString())
		} else {
			frame, ts, err := s.RecvContext(ctx)
			if err != nil {
				return err
			}
			line = ts.String() + " " + frame.ColorString()
		}
		fmt.Println(line)
	}
	log.Info("monitor_done", "frames", count)
	return nil
}

// parseRange reads "7E0-7EF" or a single id "7E8" as hex.
func parseRange(s string) (uint32, uint32, error) {
	lo, hi, found := strings.Cut(s, "-")
	if !found {
		hi = lo
	}
	from, err := strconv.ParseUint(strings.TrimPrefix(lo, "0x"), 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("filter: %w", err)
	}
	to, err := strconv.ParseUint(strings.TrimPrefix(hi, "0x"), 16, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("filter: %w", err)
	}
	return uint32(from), uint32(to), nil
}

func init() {
	f := monitorCmd.Flags()
	f.Bool("no-color", false, "disable colored output")
	f.String("filter", "", "only receive ids in this hex range, e.g. 7E0-7EF")
	f.BoolP("extended", "x", false, "filter range is in 29 bit ids")
	f.IntP("count", "n", 0, "stop after this many frames")
	rootCmd.AddCommand(monitorCmd)
}
