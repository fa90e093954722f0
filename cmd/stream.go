// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 MyTooliT

package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mytoolit/icostat/pkg/icotronic"
	"github.com/spf13/cobra"
)

var (
	streamChannels string
	streamDuration time.Duration
	streamVerbose  bool
)

var streamCmd = &cobra.Command{
	Use:   "stream <device>",
	Short: "Stream measurement data from a sensor device",
	Long: `Connect to a sensor device and stream ADC values of the selected
channels until --duration has elapsed or Ctrl+C is pressed.

Channels are selected with --channels, e.g. "1", "1,2,3" or "2,3". A summary
with received batches and lost frames is printed at the end.

Exit codes:
  0 - Streaming finished
  1 - Device not found, stream timeout or buffer overflow
  2 - Connection error`,
	Args: cobra.ExactArgs(1),
	Run:  runStream,
}

func init() {
	streamCmd.Flags().StringVar(&streamChannels, "channels", "1", "Comma separated list of channels (1-3)")
	streamCmd.Flags().DurationVarP(&streamDuration, "duration", "d", 0, "Streaming duration (0 streams until interrupted)")
	streamCmd.Flags().BoolVarP(&streamVerbose, "verbose", "v", false, "Print every batch")
	rootCmd.AddCommand(streamCmd)
}

func parseChannels(s string) (icotronic.StreamingConfiguration, error) {
	var config icotronic.StreamingConfiguration
	for _, field := range strings.Split(s, ",") {
		switch strings.TrimSpace(field) {
		case "1":
			config.First = true
		case "2":
			config.Second = true
		case "3":
			config.Third = true
		default:
			return config, fmt.Errorf("invalid channel %q", field)
		}
	}
	return config, config.Validate()
}

func runStream(cmd *cobra.Command, args []string) {
	config, err := parseChannels(streamChannels)
	if err != nil {
		exitOperationError(err)
	}

	withSensor(cmd, args[0], "Stream", func(ctx context.Context, device *icotronic.SensorDevice) error {
		if streamDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, streamDuration)
			defer cancel()
		}

		stream, err := device.OpenStream(ctx, config, cfg.Protocol.StreamTimeout)
		if err != nil {
			return err
		}

		printField("Channels", config)
		printField("Session", stream.Session())
		fmt.Println()

		for batch, err := range stream.Batches(ctx) {
			if err != nil {
				stream.CloseWithError(err)
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break
				}
				return err
			}
			if streamVerbose {
				printBatch(batch)
			}
		}

		if err := stream.Close(); err != nil {
			return err
		}
		printStatistics(stream.Statistics())
		return nil
	})
}

func printBatch(batch icotronic.SampleBatch) {
	fmt.Printf("[%s] #%03d", batch.Timestamp.Format("15:04:05.000"), batch.Counter)
	for i, values := range [][]uint16{batch.First, batch.Second, batch.Third} {
		if len(values) > 0 {
			fmt.Printf("  %s %v", labelStyle.Render(fmt.Sprintf("ch%d", i+1)), values)
		}
	}
	fmt.Println()
}

func printStatistics(stats icotronic.StreamStatistics) {
	fmt.Println()
	fmt.Println(titleStyle.Render("Statistics"))
	printField("Batches", stats.Batches)
	printField("Lost frames", stats.LostFrames)
	printField("Loss ratio", fmt.Sprintf("%.2f%%", stats.LossRatio()*100))
	printField("Batch rate", fmt.Sprintf("%.1f/s", stats.BatchRate()))
}
