package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duelforge/tactics-server-go/internal/cards"
)

var cardsCmd = &cobra.Command{
	Use:   "cards",
	Short: "Work with card definition files",
}

var cardsValidateCmd = &cobra.Command{
	Use:   "validate <file>...",
	Short: "Compile card definitions and report errors",
	Long: `Parses each card file, checks it against the definition schema and compiles every
expression in it. Nothing is loaded into a running server.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			f, err := cards.LoadFile(path)
			if err != nil {
				return err
			}
			if err := cards.Validate(f); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d cards ok\n", path, len(f.Cards))
		}
		return nil
	},
}

func init() {
	cardsCmd.AddCommand(cardsValidateCmd)
	rootCmd.AddCommand(cardsCmd)
}
