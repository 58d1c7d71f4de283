package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/onewire"
	"periph.io/x/conn/v3/physic"

	"github.com/bjanders/1wire/pkg/ds18b20"
)

var resolutionBits int

var tempCmd = &cobra.Command{
	Use:   "temp",
	Short: "Read all temperature sensors on the bus",
	Long: `Search the bus for temperature sensors, run one conversion on all of
them at once and print each reading.

Examples:
  owusb temp                    # Read at the default 10-bit resolution
  owusb temp --resolution 12    # Slower but finer readings`,
	RunE: runTemp,
}

func init() {
	rootCmd.AddCommand(tempCmd)

	tempCmd.Flags().IntVarP(&resolutionBits, "resolution", "r", 10,
		"conversion resolution in bits (9..12)")
}

func runTemp(cmd *cobra.Command, args []string) error {
	d, err := openAdapter()
	if err != nil {
		return err
	}
	defer d.Close()

	addrs, err := d.Search(false)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	type sensor struct {
		addr onewire.Address
		dev  *ds18b20.Dev
	}
	var sensors []sensor
	for _, addr := range addrs {
		if !ds18b20.IsTemperatureSensor(addr) {
			if verbose {
				fmt.Printf("%s  skipped, not a temperature sensor\n", formatAddr(addr))
			}
			continue
		}
		s, err := ds18b20.New(d, addr, resolutionBits)
		if err != nil {
			return fmt.Errorf("%s: %w", formatAddr(addr), err)
		}
		sensors = append(sensors, sensor{addr, s})
	}
	if len(sensors) == 0 {
		fmt.Println("No temperature sensors found")
		return nil
	}

	// One broadcast conversion covers every sensor on the bus.
	if err := ds18b20.ConvertAll(d, resolutionBits); err != nil {
		return fmt.Errorf("conversion failed: %w", err)
	}

	for _, s := range sensors {
		t, err := s.dev.LastTemp()
		if err != nil {
			fmt.Printf("%s  read failed: %v\n", formatAddr(s.addr), err)
			continue
		}
		fmt.Printf("%s  %.4f°C\n", formatAddr(s.addr), float64(t-physic.ZeroCelsius)/float64(physic.Celsius))
	}
	return nil
}
