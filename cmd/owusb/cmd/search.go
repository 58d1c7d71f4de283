package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bjanders/1wire/pkg/ds18b20"
)

var alarmOnly bool

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Enumerate devices on the 1-Wire bus",
	Long: `Walk the ROM search tree and print the address of every device on the
bus, one per line, in family.serial.crc notation.

Examples:
  owusb search            # All devices
  owusb search --alarm    # Only devices in an alarm state`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().BoolVar(&alarmOnly, "alarm", false, "only devices in an alarm state")
}

func runSearch(cmd *cobra.Command, args []string) error {
	d, err := openAdapter()
	if err != nil {
		return err
	}
	defer d.Close()

	addrs, err := d.Search(alarmOnly)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	for _, addr := range addrs {
		if verbose {
			fmt.Printf("%s  %s\n", formatAddr(addr), ds18b20.Family(addr&0xFF))
		} else {
			fmt.Println(formatAddr(addr))
		}
	}
	if verbose {
		fmt.Printf("Found %d device(s)\n", len(addrs))
	}
	return nil
}
