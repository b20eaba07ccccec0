package main

import (
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/tinykern/kalloc/kalloc"
	"github.com/tinykern/kalloc/slab"
)

func init() {
	rootCmd.AddCommand(newClassesCmd())
}

func newClassesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "List the default slab size classes",
		Long: `The classes command prints the default slab ladder with the slot
alignment and the number of slots per frame of each class.

Example:
  kallocsim classes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Size", "Align", "Slot Align", "Slots/Frame"})
			table.SetAlignment(tablewriter.ALIGN_RIGHT)

			for _, class := range kalloc.DefaultSizeClasses {
				layout := class.Normalize()
				table.Append([]string{
					layout.Size.String(),
					layout.Align.String(),
					slab.SlotAlign(layout).String(),
					strconv.Itoa(slab.SlotsPerFrame(layout)),
				})
			}

			table.Render()
			return nil
		},
	}
}
