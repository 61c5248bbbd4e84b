package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "tileconsole",
	Short: "Back office console for the tile catalog",
	Long: `tileconsole runs the tile catalog back office.

It serves the JSON console used to add tiles with their face images, and
offers the bulk and maintenance operations from the command line.

Examples:
  tileconsole serve                      # Start the console server
  tileconsole import sheet tiles.xlsx    # Import tiles from a workbook
  tileconsole import folder ./images     # Resize a folder of tile images
  tileconsole variants MG-100            # List the face variants of a tile
  tileconsole export -o tiles.xlsx       # Download the tile list
  tileconsole runs --sku MG-100          # Show ingestion history`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("env-file", ".env", "Environment file applied before reading the configuration")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(variantsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(runsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
