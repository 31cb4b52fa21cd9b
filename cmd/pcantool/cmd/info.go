package cmd

import (
	"errors"
	"fmt"

	"github.com/roffe/peakcan"
	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "print the parameters the selected channel supports",
	Long: `Reads every parameter the hardware family supports. Without --open the
channel is queried without initializing it; with --open the channel is
initialized first and the socket parameters are read as well.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		open, _ := cmd.Flags().GetBool("open")
		if !open {
			bus, err := selectedBus(cmd)
			if err != nil {
				return err
			}
			drv, err := driver(cmd, bus)
			if err != nil {
				return err
			}
			printInfo(peakcan.NewChannel(drv, bus))
			return nil
		}
		s, err := openSocket(cmd)
		if err != nil {
			return err
		}
		defer closeSocket(s)
		printInfo(s)
		printSocketInfo(s)
		return nil
	},
}

// queryable is the accessor set shared by peakcan.Channel and peakcan.Socket.
type queryable interface {
	Bus() peakcan.Bus
	Capabilities() peakcan.Capability
	Condition() (peakcan.Condition, error)
	HardwareName() (string, error)
	ControllerNumber() (uint32, error)
	DeviceID() (uint32, error)
	PartNumber() (string, error)
	ChannelVersion() (string, error)
	Features() (peakcan.Features, error)
	BitrateInfo() (peakcan.BitTiming, error)
	Identifying() (bool, error)
	FiveVolts() (bool, error)
	ReceiveStatus() (bool, error)
}

type row struct {
	name string
	get  func() (any, error)
}

func printRows(rows []row) {
	for _, r := range rows {
		v, err := r.get()
		switch {
		case errors.Is(err, peakcan.ErrNotSupported):
			continue
		case err != nil:
			fmt.Printf("%-22s error: %v\n", r.name, err)
		default:
			fmt.Printf("%-22s %v\n", r.name, v)
		}
	}
}

func wrap[T any](f func() (T, error)) func() (any, error) {
	return func() (any, error) { return f() }
}

func printInfo(c queryable) {
	fmt.Printf("%-22s %s\n", "channel", c.Bus())
	fmt.Printf("%-22s %s\n", "capabilities", c.Capabilities())
	printRows([]row{
		{"condition", wrap(c.Condition)},
		{"hardware name", wrap(c.HardwareName)},
		{"controller number", wrap(c.ControllerNumber)},
		{"device id", wrap(c.DeviceID)},
		{"part number", wrap(c.PartNumber)},
		{"channel version", wrap(c.ChannelVersion)},
		{"features", wrap(c.Features)},
		{"bitrate info", wrap(c.BitrateInfo)},
		{"identifying", wrap(c.Identifying)},
		{"5V power", wrap(c.FiveVolts)},
		{"receive status", wrap(c.ReceiveStatus)},
	})
}

func printSocketInfo(s *peakcan.Socket) {
	printRows([]row{
		{"firmware version", wrap(s.FirmwareVersion)},
		{"nominal bus speed", wrap(s.NominalBusSpeed)},
		{"data bus speed", wrap(s.DataBusSpeed)},
		{"ip address", wrap(s.IPAddress)},
		{"listen only", wrap(s.ListenOnly)},
		{"bitrate adapting", wrap(s.BitrateAdapting)},
		{"busoff autoreset", wrap(s.BusOffAutoreset)},
		{"interframe delay", wrap(s.InterframeDelay)},
		{"message filter", wrap(s.MessageFilter)},
		{"acceptance 11bit", wrap(s.AcceptanceFilter11)},
		{"acceptance 29bit", wrap(s.AcceptanceFilter29)},
		{"status frames", wrap(s.AllowStatusFrames)},
		{"rtr frames", wrap(s.AllowRTRFrames)},
		{"error frames", wrap(s.AllowErrorFrames)},
		{"echo frames", wrap(s.AllowEchoFrames)},
		{"trace location", wrap(s.TraceLocation)},
		{"trace status", wrap(s.TraceStatus)},
		{"digital config", wrap(s.DigitalConfiguration)},
		{"digital value", wrap(s.DigitalValue)},
		{"analog value", wrap(s.AnalogValue)},
	})
	if s.FD() {
		printRows([]row{{"bitrate info fd", func() (any, error) {
			t, _, err := s.BitrateInfoFD()
			return t, err
		}}})
	}
	if err := s.Status(); err != nil {
		fmt.Printf("%-22s %v\n", "bus status", err)
	} else {
		fmt.Printf("%-22s ok\n", "bus status")
	}
}

func init() {
	infoCmd.Flags().Bool("open", false, "initialize the channel and read socket parameters too")
	rootCmd.AddCommand(infoCmd)
}
