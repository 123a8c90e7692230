package main

import (
	"fmt"
	"os"
	"time"

	"geckosense/core"
	"geckosense/protocol"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Get an expected flag, or panic if an error arises.
func getFlag(cmd *cobra.Command, flag string) bool {
	r, err := cmd.Flags().GetBool(flag)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	return r
}

func getString(cmd *cobra.Command, flag string) string {
	r, err := cmd.Flags().GetString(flag)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	return r
}

func getInt(cmd *cobra.Command, flag string) int {
	r, err := cmd.Flags().GetInt(flag)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	return r
}

func getDuration(cmd *cobra.Command, flag string) time.Duration {
	r, err := cmd.Flags().GetDuration(flag)
	if err != nil {
		fmt.Println(err)
		os.Exit(2)
	}

	return r
}

// logReport writes one decoded report to the log.
func logReport(rep protocol.Report) {
	switch m := rep.(type) {
	case protocol.Identify:
		log.WithField("version", m.Version).Info("board identified")
	case protocol.Humidity:
		log.WithFields(log.Fields{
			"bus":   m.Bus,
			"clock": m.Clock,
			"code":  fmt.Sprintf("0x%04x", m.Code),
			"rh":    fmt.Sprintf("%d.%d%%", m.DeciRH/10, m.DeciRH%10),
		}).Info("humidity")
	case protocol.Fault:
		log.WithFields(log.Fields{
			"bus":   m.Bus,
			"clock": m.Clock,
			"state": core.State(m.State).String(),
			"nacks": m.Nacks,
		}).Warn(m.Code.String())
	case protocol.Trace:
		log.WithFields(log.Fields{
			"kind":  m.Kind,
			"bus":   m.Bus,
			"state": core.State(m.State).String(),
			"clock": m.Clock,
			"value": fmt.Sprintf("0x%x", m.Value),
		}).Debug("trace")
	default:
		log.Warnf("unhandled report %T", rep)
	}
}
