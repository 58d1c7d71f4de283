package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bjanders/1wire/internal/config"
)

var applyCmd = &cobra.Command{
	Use:   "apply <profile.yaml>",
	Short: "Program the adapter mode registers from a profile",
	Long: `Load a YAML adapter profile, validate it and write it into the
adapter's mode registers, then dump the resulting status block.`,
	Args: cobra.ExactArgs(1),
	RunE: runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(args[0])
	if err != nil {
		return err
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	d, err := openAdapter()
	if err != nil {
		return err
	}
	defer d.Close()

	if err := config.Apply(cfg, d); err != nil {
		return fmt.Errorf("applying %s: %w", args[0], err)
	}

	snap, err := d.Status()
	if err != nil {
		return err
	}
	fmt.Printf("Applied %s\n", args[0])
	fmt.Printf("1-Wire speed:           %s\n", snap.Speed)
	fmt.Printf("Strong pullup duration: %s\n", snap.PullupDuration)
	return nil
}
