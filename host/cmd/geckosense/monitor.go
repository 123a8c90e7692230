package main

import (
	"context"
	"io"
	"os"
	"os/signal"

	"geckosense/host/serial"
	"geckosense/protocol"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [flags] [device]",
	Short: "Decode report frames from a board.",
	Long: "Read the board's report stream from a serial port, or from a capture file " +
		"written by simulate, and log every report until the stream ends or the " +
		"command is interrupted.",
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var src io.ReadCloser

		if file := getString(cmd, "file"); file != "" {
			f, err := os.Open(file)
			if err != nil {
				log.Error(err)
				os.Exit(1)
			}
			src = f
		} else {
			device := getString(cmd, "device")
			if len(args) == 1 {
				device = args[0]
			}
			cfg := serial.DefaultConfig(device)
			cfg.Baud = getInt(cmd, "baud")
			port, err := serial.Open(cfg)
			if err != nil {
				log.Error(err)
				os.Exit(1)
			}
			log.WithFields(log.Fields{"device": device, "baud": cfg.Baud}).Info("connected")
			src = port
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		rd := protocol.NewReader(src)
		n := monitor(ctx, rd, getInt(cmd, "count"))
		logStats(rd, n)
	},
}

// monitor logs reports until ctx is done, the stream ends or limit reports
// were seen. A limit of zero means no limit. The reader is closed on return.
func monitor(ctx context.Context, rd *protocol.Reader, limit int) int {
	defer rd.Close()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return n
		case rep, ok := <-rd.Reports():
			if !ok {
				return n
			}
			logReport(rep)
			n++
			if limit > 0 && n >= limit {
				return n
			}
		}
	}
}

func logStats(rd *protocol.Reader, reports int) {
	stats, bad := rd.Stats()
	log.WithFields(log.Fields{
		"reports":      reports,
		"frames":       stats.Frames,
		"lost":         stats.Lost,
		"resyncs":      stats.Resyncs,
		"skipped":      stats.Skipped,
		"bad_payloads": bad,
	}).Info("stream closed")
}

func init() {
	monitorCmd.Flags().StringP("device", "d", "/dev/ttyACM0", "serial device of the board")
	monitorCmd.Flags().IntP("baud", "b", serial.DefaultBaud, "baud rate")
	monitorCmd.Flags().StringP("file", "f", "", "read a capture file instead of a serial port")
	monitorCmd.Flags().IntP("count", "n", 0, "stop after this many reports (0 = no limit)")
}
