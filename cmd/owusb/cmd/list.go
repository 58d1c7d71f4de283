package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bjanders/1wire/pkg/ds2490"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List attached DS2490 adapters",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	if useSim {
		fmt.Println("sim: simulated DS2490 adapter")
		return nil
	}

	adapters, err := ds2490.List()
	if err != nil {
		return fmt.Errorf("failed to enumerate adapters: %w", err)
	}
	if len(adapters) == 0 {
		fmt.Println("No DS2490 adapters found")
		return nil
	}
	for _, a := range adapters {
		fmt.Printf("bus %d addr %3d: %s", a.Bus, a.Address, a.Description)
		if a.SerialNumber != "" {
			fmt.Printf(" (serial %s)", a.SerialNumber)
		}
		fmt.Println()
	}
	return nil
}
