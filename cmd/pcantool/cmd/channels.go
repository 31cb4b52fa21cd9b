package cmd

import (
	"fmt"

	"github.com/manifoldco/promptui"
	"github.com/roffe/peakcan"
	"github.com/roffe/peakcan/pkg/pcan"
	"github.com/spf13/cobra"
)

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "list attached PCAN channels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		bus, err := selectedBus(cmd)
		if err != nil {
			return err
		}
		drv, err := driver(cmd, bus)
		if err != nil {
			return err
		}
		if v, err := peakcan.APIVersion(drv); err == nil {
			fmt.Println("PCAN-Basic", v)
		}
		chans, err := peakcan.AttachedChannels(drv)
		if err != nil {
			return err
		}
		if len(chans) == 0 {
			fmt.Println("no channels attached")
			return nil
		}
		items := make([]string, len(chans))
		for i, c := range chans {
			items[i] = describeChannel(c)
			fmt.Println(items[i])
		}
		if sel, _ := cmd.Flags().GetBool("select"); !sel {
			return nil
		}
		prompt := promptui.Select{
			Label:    "Channel",
			HideHelp: true,
			Items:    items,
		}
		idx, _, err := prompt.Run()
		if err != nil {
			return fmt.Errorf("prompt failed: %w", err)
		}
		b, err := peakcan.BusFromHandle(chans[idx].ChannelHandle)
		if err != nil {
			return err
		}
		fmt.Printf("--%s %s\n", flagChannel, b)
		return nil
	},
}

func describeChannel(c pcan.TPCANChannelInformation) string {
	name := fmt.Sprintf("0x%03X", uint16(c.ChannelHandle))
	if b, err := peakcan.BusFromHandle(c.ChannelHandle); err == nil {
		name = b.String()
	}
	fd := ""
	if c.DeviceFeatures&pcan.FEATURE_FD_CAPABLE != 0 {
		fd = " FD"
	}
	return fmt.Sprintf("%-6s %-24s ctrl %d id %d %s%s", name, c.Name(), c.ControllerNumber, c.DeviceID,
		peakcan.Condition(c.ChannelCondition), fd)
}

func init() {
	channelsCmd.Flags().Bool("select", false, "pick a channel interactively")
	rootCmd.AddCommand(channelsCmd)
}
