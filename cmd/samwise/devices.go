package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chandeldivyam/samwise/pkg/audio"
	"github.com/chandeldivyam/samwise/pkg/audio/portaudio"
)

func newDevicesCmd(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List capture devices and the resolved defaults",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			var opts []portaudio.Option
			if name := st.cfg.Audio.LoopbackDevice; name != "" {
				opts = append(opts, portaudio.WithLoopbackDevice(name))
			}
			host, err := portaudio.New(opts...)
			if err != nil {
				return err
			}
			defer host.Close()

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROLE\tDEVICE\tFORMAT")
			for _, dir := range audio.Directions {
				dev, err := audio.ResolveDefault(host, dir)
				if err != nil {
					fmt.Fprintf(tw, "%s\t(unavailable: %v)\t\n", dir, err)
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", dir, dev.Name, dev.Config)
			}
			devs, err := host.Devices()
			if err != nil {
				return err
			}
			for _, d := range devs {
				fmt.Fprintf(tw, "-\t%s\t%s\n", d.Name, d.Config)
			}
			return tw.Flush()
		},
	}
}
