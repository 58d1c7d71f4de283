package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Dump the adapter status block",
	Long: `Read one status block from the adapter and print its decoded fields:
configured timings, the state register and any pending result bytes.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	d, err := openAdapter()
	if err != nil {
		return err
	}
	defer d.Close()

	snap, err := d.Status()
	if err != nil {
		return fmt.Errorf("status poll failed: %w", err)
	}
	snap.Dump(os.Stdout)
	if r := snap.ResultFlags(); r != 0 {
		fmt.Printf("Result flags:           %s\n", r)
	}
	return nil
}
