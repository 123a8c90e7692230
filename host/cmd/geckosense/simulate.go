package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"geckosense/config"
	"geckosense/core"
	"geckosense/protocol"
	"geckosense/sim"
	"geckosense/station"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"tinygo.org/x/drivers"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate [flags]",
	Short: "Run the sampling loop against a simulated Si7021.",
	Long: "Run the firmware's sampling loop on the host. Each configured bus gets a " +
		"simulated EFM32 I2C peripheral with an Si7021 attached. Simulated time " +
		"advances one tick per loop, so a long run finishes immediately.",
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := config.DefaultConfig()
		if path := getString(cmd, "config"); path != "" {
			var err error
			if cfg, err = config.LoadFile(path); err != nil {
				log.Error(err)
				os.Exit(1)
			}
		}

		p := simParams{
			duration:   getDuration(cmd, "duration"),
			deciRH:     int32(getInt(cmd, "rh")),
			driftRH:    int32(getInt(cmd, "drift")),
			deciC:      int32(getInt(cmd, "temp")),
			nackHeader: getInt(cmd, "nack-header"),
			nackData:   getInt(cmd, "nack-data"),
			debug:      getFlag(cmd, "verbose"),
		}

		var capture bytes.Buffer
		sink := io.Writer(&capture)
		if out := getString(cmd, "out"); out != "" {
			f, err := os.Create(out)
			if err != nil {
				log.Error(err)
				os.Exit(1)
			}
			defer f.Close()
			sink = io.MultiWriter(&capture, f)
		}

		st, err := simulate(cfg, p, sink)
		if err != nil {
			log.Error(err)
			os.Exit(1)
		}
		launched, completed, failed := st.Stats()
		log.WithFields(log.Fields{
			"launched":  launched,
			"completed": completed,
			"failed":    failed,
			"alert":     st.Alert(),
		}).Info("simulation finished")

		// replay the captured frames through the same decoder the monitor uses
		rd := protocol.NewReader(io.NopCloser(&capture))
		logStats(rd, monitor(context.Background(), rd, 0))
	},
}

type simParams struct {
	duration   time.Duration
	deciRH     int32 // humidity of the first sample
	driftRH    int32 // change per sample
	deciC      int32
	nackHeader int // NACKs injected on write headers of every bus
	nackData   int // NACKs injected on command bytes of every bus
	debug      bool
}

// simulate runs cfg on a simulated board for p.duration of simulated time and
// writes the report frames to sink.
func simulate(cfg *config.BoardConfig, p simParams, sink io.Writer) (*station.Station, error) {
	var slaves [core.NumBuses]drivers.I2C
	for _, bus := range cfg.Buses {
		slaves[bus.Bus] = newDriftingSensor(p)
	}
	board := sim.NewBoard(slaves[core.Bus0], slaves[core.Bus1])
	for _, per := range board.Bus {
		if per != nil {
			per.InjectNack(sim.PhaseWriteHeader, p.nackHeader)
			per.InjectNack(sim.PhaseData, p.nackData)
		}
	}

	r0, r1 := board.Registers()
	st, err := station.New(cfg, station.Platform{
		Registers: [core.NumBuses]core.Registers{r0, r1},
		IRQ:       board,
		Clock:     board,
		Delay:     func(time.Duration) {},
	}, sink)
	if err != nil {
		return nil, err
	}

	core.SetDebugWriter(func(s string) { log.Debug(s) })
	if p.debug {
		core.SetDebugEnabled(true)
	}
	st.OnReading = func(rd core.Reading) {
		if rd.Err != nil {
			log.WithField("bus", rd.Bus).Debug(rd.Err)
		} else if rd.Alert {
			log.WithField("bus", rd.Bus).Debugf("humidity alert at %d", rd.DeciRH)
		}
	}

	if err := st.Start(0); err != nil {
		return nil, err
	}
	end := core.TimerFromDuration(p.duration)
	for now := uint32(0); now <= end; now++ {
		if _, err := st.Poll(now); err != nil {
			return st, err
		}
		if err := board.Pump(st.Reg); err != nil {
			log.WithField("clock", now).Debug(err)
		}
	}
	st.Stop()
	// pick up a measurement that completed on the last tick
	_, err = st.Poll(end + 1)
	return st, err
}

// newDriftingSensor returns a sensor whose humidity moves by p.driftRH on
// every measurement.
func newDriftingSensor(p simParams) *sim.Si7021 {
	s := sim.NewSi7021(p.deciRH, p.deciC)
	next := p.deciRH
	s.Humidity = func() int32 {
		v := next
		next += p.driftRH
		if next < 0 || next > 1000 {
			p.driftRH = -p.driftRH
			next += 2 * p.driftRH
		}
		return v
	}
	return s
}

func init() {
	simulateCmd.Flags().StringP("config", "c", "", "board configuration file (default: starter kit layout)")
	simulateCmd.Flags().DurationP("duration", "d", 10*time.Second, "simulated run time")
	simulateCmd.Flags().Int("rh", 450, "initial humidity in tenths of a percent")
	simulateCmd.Flags().Int("drift", 0, "humidity change per sample in tenths of a percent")
	simulateCmd.Flags().Int("temp", 220, "temperature in tenths of a degree")
	simulateCmd.Flags().Int("nack-header", 0, "NACK this many write headers on every bus")
	simulateCmd.Flags().Int("nack-data", 0, "NACK this many command bytes on every bus")
	simulateCmd.Flags().StringP("out", "o", "", "write the report frames to this file")
}
