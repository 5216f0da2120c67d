// ABOUTME: Entry point for the heapgrok command line tool
// ABOUTME: Wires the cobra command tree and the persistent configuration flags

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/prateek/heapgrok"
)

// flags shared by every subcommand
type globalFlags struct {
	config  string
	catalog string
	image   string
	level   string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "heapgrok",
		Short:         "Decode engine heap images into object graphs",
		Version:       heapgrok.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.config, "config", "c", "", "Path to a YAML configuration file")
	root.PersistentFlags().StringVar(&flags.catalog, "catalog", "", "Constants catalog (.py, .yaml or .json); overrides the config file")
	root.PersistentFlags().StringVar(&flags.image, "image", "", "Memory image; overrides the config file")
	root.PersistentFlags().StringVar(&flags.level, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newInspectCmd(flags),
		newClassifyCmd(flags),
		newObjectCmd(flags),
		newFramesCmd(flags),
		newConvertCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "heapgrok:", err)
		os.Exit(1)
	}
}
