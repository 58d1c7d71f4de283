package cmd

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"periph.io/x/conn/v3/onewire"

	"github.com/bjanders/1wire/internal/config"
	"github.com/bjanders/1wire/pkg/ds2490"
)

var (
	// Global flags
	verbose    bool
	useSim     bool
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "owusb",
	Short: "DS2490 USB 1-Wire adapter tool",
	Long: `Drive a Maxim DS2490 USB to 1-Wire bridge: enumerate adapters, inspect
their status, search the bus for devices and read temperature sensors.

Examples:
  owusb list                       # Show attached DS2490 adapters
  owusb status                     # Dump the adapter status block
  owusb search                     # Enumerate devices on the bus
  owusb search --alarm             # Only devices in an alarm state
  owusb temp                       # Read all temperature sensors
  owusb --sim search               # Run against a simulated bus`,
	Version: "1.0.0",
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&useSim, "sim", false, "use a simulated adapter instead of USB hardware")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "adapter configuration file (YAML)")
}

// openAdapter opens the first DS2490 on the bus, or a simulated one with two
// temperature sensors when --sim is set, and applies the configuration file
// if one was given.
func openAdapter() (*ds2490.Device, error) {
	var (
		d   *ds2490.Device
		err error
	)
	if useSim {
		d, err = ds2490.NewDevice(simBus())
	} else {
		d, err = ds2490.Open()
	}
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			d.Close()
			return nil, err
		}
		if err := config.Validate(cfg); err != nil {
			d.Close()
			return nil, err
		}
		if err := config.Apply(cfg, d); err != nil {
			d.Close()
			return nil, err
		}
		if verbose {
			fmt.Printf("Applied configuration from %s\n", configPath)
		}
	}
	return d, nil
}

// simBus builds the simulated bus used by --sim: a DS18B20 at 22.5°C and a
// DS18S20 at 18°C which is also alarming.
func simBus() *ds2490.BusSim {
	b20 := &ds2490.SimSlave{
		ROM:        ds2490.SimROM(0x28, 0x42),
		Scratchpad: simScratch(0x0168, 0x3F), // 22.5°C, 10 bit
	}
	s20 := &ds2490.SimSlave{
		ROM:        ds2490.SimROM(0x10, 0x1207),
		Scratchpad: simScratch(0x0024, 0x00), // 18°C in half degrees
		Alarming:   true,
	}
	return ds2490.NewBusSim(b20, s20)
}

func simScratch(raw uint16, cfg byte) []byte {
	spad := []byte{byte(raw), byte(raw >> 8), 0x4B, 0x46, cfg, 0xFF, 0x0C, 0x10, 0x00}
	spad[8] = ds2490.CRC8(spad[:8])
	return spad
}

// formatAddr renders a ROM code in the usual family.serial.crc notation,
// serial printed most significant byte first.
func formatAddr(addr onewire.Address) string {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(addr))
	return fmt.Sprintf("%02x.%02x%02x%02x%02x%02x%02x.%02x",
		b[0], b[6], b[5], b[4], b[3], b[2], b[1], b[7])
}
