// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 MyTooliT

package cmd

import (
	"context"
	"fmt"

	"github.com/mytoolit/icostat/pkg/icotronic"
	"github.com/spf13/cobra"
)

var (
	adcPrescaler       int
	adcAcquisitionTime int
	adcOversampling    int
	adcReference       float64
)

var adcCmd = &cobra.Command{
	Use:   "adc <device>",
	Short: "Show or change the ADC configuration of a sensor device",
	Long: `Connect to a sensor device and print its ADC configuration and the
resulting sample rate. Any of the configuration flags changes the
configuration first; flags that are not given keep their current value.

Exit codes:
  0 - Success
  1 - Device not found or invalid configuration
  2 - Connection error`,
	Args: cobra.ExactArgs(1),
	Run:  runADC,
}

func init() {
	adcCmd.Flags().IntVar(&adcPrescaler, "prescaler", 2, "ADC clock prescaler (1-127)")
	adcCmd.Flags().IntVar(&adcAcquisitionTime, "acquisition", 8, "Acquisition time in ADC clock cycles")
	adcCmd.Flags().IntVar(&adcOversampling, "oversampling", 64, "Oversampling rate (power of two)")
	adcCmd.Flags().Float64Var(&adcReference, "reference", 3.3, "Reference voltage in volts")
	rootCmd.AddCommand(adcCmd)
}

func runADC(cmd *cobra.Command, args []string) {
	flags := cmd.Flags()
	changed := flags.Changed("prescaler") || flags.Changed("acquisition") ||
		flags.Changed("oversampling") || flags.Changed("reference")

	withSensor(cmd, args[0], "ADC Configuration", func(ctx context.Context, device *icotronic.SensorDevice) error {
		config, err := device.ADCConfiguration(ctx)
		if err != nil {
			return err
		}

		if changed {
			if flags.Changed("prescaler") {
				config.Prescaler = adcPrescaler
			}
			if flags.Changed("acquisition") {
				config.AcquisitionTime = adcAcquisitionTime
			}
			if flags.Changed("oversampling") {
				config.OversamplingRate = adcOversampling
			}
			if flags.Changed("reference") {
				config.ReferenceVoltage = adcReference
			}
			if err := device.SetADCConfiguration(ctx, config); err != nil {
				return err
			}
		}

		printField("Prescaler", config.Prescaler)
		printField("Acquisition", config.AcquisitionTime)
		printField("Oversampling", config.OversamplingRate)
		printField("Reference", fmt.Sprintf("%.2f V", config.ReferenceVoltage))
		printField("Sample rate", fmt.Sprintf("%.1f Hz", config.SampleRate()))
		return nil
	})
}
