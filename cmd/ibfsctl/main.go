package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/4s1ght/ibfs/internal/ilog"
)

var log ilog.Logger

var (
	flagVerbose      bool
	flagNoColor      bool
	flagIntegrity    bool
	flagLeaseTimeout int
)

var rootCmd = &cobra.Command{
	Use:           "ibfsctl",
	Short:         "inspect and build IBFS volume files",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func commandInit() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug-level logging")
	rootCmd.PersistentFlags().BoolVar(&flagNoColor, "no-color", false, "disable colorized log output")
	rootCmd.PersistentFlags().BoolVar(&flagIntegrity, "integrity", true, "check the volume file size on open and the CRC on every block read")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cli := ilog.NewCLI(flagNoColor)
		if flagVerbose {
			logrus.SetLevel(logrus.DebugLevel)
		} else {
			logrus.SetLevel(logrus.InfoLevel)
		}
		log = cli
		return nil
	}

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(fsckCmd)
}

func main() {
	commandInit()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
