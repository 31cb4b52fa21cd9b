package cmd

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/roffe/peakcan"
	"github.com/roffe/peakcan/pkg/bar"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <id> [data]",
	Short: "send a frame",
	Long: `Sends one frame, or --repeat frames spaced by --interval. Data is hex,
bytes may be separated by spaces, colons or dots: "02 10 03" or 021003.`,
	Example: `  pcantool send 7E0 "02 10 03"
  pcantool send -x 18DAF110 021003 --repeat 100 --interval 10ms
  pcantool --fd-timing "f_clock=80000000,..." send 123 00112233445566778899 --fd --brs`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		extended, _ := f.GetBool("extended")
		rtr, _ := f.GetBool("rtr")
		fd, _ := f.GetBool("fd")
		brs, _ := f.GetBool("brs")
		repeat, _ := f.GetInt("repeat")
		interval, _ := f.GetDuration("interval")

		id, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(args[0]), "0x"), 16, 32)
		if err != nil {
			return fmt.Errorf("id: %w", err)
		}
		var data []byte
		if len(args) == 2 {
			if data, err = parseHex(args[1]); err != nil {
				return err
			}
		}
		mode := peakcan.Standard
		if extended {
			mode = peakcan.Extended
		}

		s, err := openSocket(cmd)
		if err != nil {
			return err
		}
		defer closeSocket(s)

		send, err := frameSender(s, uint32(id), mode, data, rtr, fd, brs)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if repeat <= 1 {
			return send(ctx)
		}
		pb := bar.New(repeat, bar.Describe("send", s.Bus().String(), uint32(id)))
		t := time.NewTicker(interval)
		defer t.Stop()
		for i := 0; i < repeat; i++ {
			if err := send(ctx); err != nil {
				return fmt.Errorf("frame %d: %w", i+1, err)
			}
			pb.Add(1)
			if i == repeat-1 {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
		}
		return nil
	},
}

// frameSender builds the frame once and returns a func sending it on s.
func frameSender(s *peakcan.Socket, id uint32, mode peakcan.Mode, data []byte, rtr, fd, brs bool) (func(context.Context) error, error) {
	if fd || brs {
		if !s.FD() {
			return nil, fmt.Errorf("--fd and --brs need --%s", flagFDTiming)
		}
		if rtr {
			return nil, fmt.Errorf("CAN FD frames have no remote request")
		}
		frame, err := peakcan.NewFDFrame(id, mode, data, true, brs)
		if err != nil {
			return nil, err
		}
		return func(ctx context.Context) error {
			return s.SendFDContext(ctx, frame)
		}, nil
	}
	frame, err := peakcan.NewFrame(id, mode, data)
	if err != nil {
		return nil, err
	}
	if rtr {
		frame = frame.WithRTR()
	}
	return func(ctx context.Context) error {
		return s.SendContext(ctx, frame)
	}, nil
}

func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "", ".", "", "0x", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("data: %w", err)
	}
	return b, nil
}

func init() {
	f := sendCmd.Flags()
	f.BoolP("extended", "x", false, "29 bit identifier")
	f.Bool("rtr", false, "remote transmission request")
	f.Bool("fd", false, "send as a CAN FD frame")
	f.Bool("brs", false, "switch to the data bit rate for the payload, implies --fd")
	f.IntP("repeat", "n", 1, "number of frames to send")
	f.Duration("interval", 100*time.Millisecond, "delay between repeated frames")
	rootCmd.AddCommand(sendCmd)
}
