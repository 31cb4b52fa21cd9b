package cmd

import (
	"fmt"
	"strconv"

	"github.com/roffe/peakcan"
	"github.com/roffe/peakcan/pkg/pcan"
	"github.com/spf13/cobra"
)

var timingCmd = &cobra.Command{
	Use:   "timing",
	Short: "compute bit timing register values",
}

var timingClassicCmd = &cobra.Command{
	Use:   "classic <prescaler> <sjw> <tseg1> <tseg2>",
	Short: "print BTR0BTR1 and bit rate for a classic timing",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseUint16s(args)
		if err != nil {
			return err
		}
		bt, err := peakcan.NewBitTiming(v[0], v[1], v[2], v[3])
		if err != nil {
			return err
		}
		fmt.Printf("btr0btr1     0x%04X\n", uint16(bt.BTR0BTR1()))
		fmt.Printf("bitrate      %d\n", bt.Bitrate(peakcan.ClassicClockHz))
		fmt.Printf("sample point %.1f%%\n", bt.SamplePoint()*100)
		return nil
	},
}

var timingDecodeCmd = &cobra.Command{
	Use:   "decode <btr0btr1>",
	Short: "decode a BTR0BTR1 register value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return fmt.Errorf("btr0btr1: %w", err)
		}
		bt := peakcan.DecodeBTR0BTR1(pcan.TPCANBaudrate(v))
		fmt.Printf("prescaler %d sjw %d tseg1 %d tseg2 %d\n", bt.Prescaler(), bt.SJW(), bt.TSEG1(), bt.TSEG2())
		fmt.Printf("bitrate   %d\n", bt.Bitrate(peakcan.ClassicClockHz))
		return nil
	},
}

var timingFDCmd = &cobra.Command{
	Use:   "fd <nom_brp> <nom_sjw> <nom_tseg1> <nom_tseg2> <data_brp> <data_sjw> <data_tseg1> <data_tseg2>",
	Short: "print the CAN FD bit rate string for a timing",
	Args:  cobra.ExactArgs(8),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := parseUint16s(args)
		if err != nil {
			return err
		}
		ft, err := peakcan.NewFDBitTiming(v[0], v[1], v[2], v[3], v[4], v[5], v[6], v[7])
		if err != nil {
			return err
		}
		fmt.Println(ft.String())
		fmt.Printf("nominal %d\n", ft.NominalBitrate())
		fmt.Printf("data    %d\n", ft.DataBitrate())
		return nil
	},
}

func parseUint16s(args []string) ([]uint16, error) {
	out := make([]uint16, len(args))
	for i, a := range args {
		v, err := strconv.ParseUint(a, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i+1, err)
		}
		out[i] = uint16(v)
	}
	return out, nil
}

func init() {
	timingCmd.AddCommand(timingClassicCmd, timingDecodeCmd, timingFDCmd)
	rootCmd.AddCommand(timingCmd)
}
