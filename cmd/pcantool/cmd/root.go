package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/roffe/peakcan"
	"github.com/roffe/peakcan/internal/logging"
	"github.com/roffe/peakcan/pkg/pcan"
	"github.com/roffe/peakcan/pkg/pcan/pcantest"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	flagChannel     = "channel"
	flagBitrate     = "bitrate"
	flagFDTiming    = "fd-timing"
	flagVirtual     = "virtual"
	flagLogLevel    = "log-level"
	flagLogFormat   = "log-format"
	flagMetricsAddr = "metrics-addr"

	envPrefix = "PCANTOOL_"
)

var rootCmd = &cobra.Command{
	Use:          "pcantool",
	Short:        "PEAK PCAN-Basic swiss army tool",
	Long:         `List, inspect, send on and monitor PEAK CAN interfaces through PCAN-Basic.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := envFallback(cmd.Flags()); err != nil {
			return err
		}
		pf := cmd.Flags()
		lvl, err := logging.ParseLevel(mustString(pf, flagLogLevel))
		if err != nil {
			return err
		}
		logging.Set(logging.New(mustString(pf, flagLogFormat), lvl, os.Stderr))
		return nil
	},
}

// Execute runs the root command with ctx cancelled on interrupt.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringP(flagChannel, "c", "usb1", "PCAN channel, e.g. usb1, lan2 or 0x51")
	pf.StringP(flagBitrate, "b", "500k", "classic bit rate (500k, 1M) or BTR0BTR1 (0x001C)")
	pf.String(flagFDTiming, "", "CAN FD bit rate string, opens the channel in FD mode")
	pf.Bool(flagVirtual, false, "use an in-memory loopback instead of the PCAN-Basic library")
	pf.String(flagLogLevel, "info", "log level: debug, info, warn, error")
	pf.String(flagLogFormat, "text", "log format: text or json")
	pf.String(flagMetricsAddr, "", "serve prometheus metrics on this address, e.g. :9100")
}

// envFallback fills flags the user did not set from PCANTOOL_<FLAG>.
func envFallback(fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed {
			return
		}
		key := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		v, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if serr := fs.Set(f.Name, v); serr != nil {
			err = fmt.Errorf("%s: %w", key, serr)
		}
	})
	return err
}

func mustString(fs *pflag.FlagSet, name string) string {
	v, err := fs.GetString(name)
	if err != nil {
		panic(err)
	}
	return v
}

func selectedBus(cmd *cobra.Command) (peakcan.Bus, error) {
	return peakcan.ParseBus(mustString(cmd.Flags(), flagChannel))
}

// driver returns the PCAN-Basic library, or a loopback exposing bus and
// the channel after it when --virtual is set.
func driver(cmd *cobra.Command, bus peakcan.Bus) (pcan.Driver, error) {
	virtual, _ := cmd.Flags().GetBool(flagVirtual)
	if virtual {
		logging.L().Debug("driver_virtual", "bus", bus.String())
		return pcantest.New(bus.Handle(), bus.Handle()+1), nil
	}
	return pcan.Load()
}

// openSocket initializes the selected channel, in FD mode when --fd-timing
// is given.
func openSocket(cmd *cobra.Command) (*peakcan.Socket, error) {
	bus, err := selectedBus(cmd)
	if err != nil {
		return nil, err
	}
	drv, err := driver(cmd, bus)
	if err != nil {
		return nil, err
	}
	opts := []peakcan.Opts{peakcan.OptLogger(logging.L())}
	if fd := mustString(cmd.Flags(), flagFDTiming); fd != "" {
		ft, _, err := peakcan.ParseFDBitrate(fd)
		if err != nil {
			return nil, err
		}
		return peakcan.OpenFD(drv, bus, ft, opts...)
	}
	baud, err := peakcan.ParseBaudrate(mustString(cmd.Flags(), flagBitrate))
	if err != nil {
		return nil, err
	}
	return peakcan.Open(drv, bus, baud, opts...)
}

func logErr(msg string, err error) {
	logging.L().Error(msg, slog.Any("error", err))
}

func closeSocket(s *peakcan.Socket) {
	if err := s.Close(); err != nil {
		logErr("socket_close", err)
	}
}
