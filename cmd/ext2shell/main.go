package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/L33tSh4rk/EXT2-FileSystem/pkg/elog"
)

var log elog.View

var (
	flagVerbose bool
	flagDebug   bool
	flagNumbers string
)

var rootCmd = &cobra.Command{
	Use:   "ext2shell IMAGE",
	Short: "Interactive shell over a second-extended-style disk image",
	Long: `ext2shell mounts an ext2 disk image by reading and writing its bytes
directly -- it never calls the host kernel's mount(2) -- and drops you into
an interactive shell for walking and editing the filesystem it finds there.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runShell(args[0])
	},
}

func commandInit() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().StringVar(&flagNumbers, "numbers", "short", "size format for ls, attr and print output: short, dec, or hex")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logger := &elog.CLI{}
		logrus.SetFormatter(logger)
		logrus.SetLevel(logrus.TraceLevel)

		if flagDebug {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerbose {
			logger.IsVerbose = true
		}
		log = logger

		return setNumbersMode(flagNumbers)
	}
}

func main() {
	commandInit()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
