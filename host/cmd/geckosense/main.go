// Command geckosense is the host side of the humidity firmware: it decodes
// the report stream from a board and runs the sampling loop against a
// simulated peripheral.
package main

import (
	"fmt"
	"os"

	"geckosense/protocol"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "geckosense",
	Short: "Host tools for the geckosense humidity firmware.",
	Long:  "Decode the report stream of a geckosense board, or run the firmware's sampling loop against a simulated I2C bus.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if getFlag(cmd, "verbose") {
			log.SetLevel(log.DebugLevel)
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		if getFlag(cmd, "version") {
			fmt.Println("geckosense " + protocol.Version)
			return
		}
		fmt.Println(cmd.UsageString())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().Bool("version", false, "Report version of this executable")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "increase logging verbosity")
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(simulateCmd)
}
