package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clkernel/internal/platform"
)

var (
	devicesOpenCL bool
	devicesJSON   bool
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List platforms and devices",
	Long: `Lists the devices kernels are inspected against. By default these come
from the device manifest; --opencl enumerates the installed OpenCL driver
instead (requires a build with -tags gpu).`,
	RunE: runDevices,
}

func init() {
	devicesCmd.Flags().BoolVar(&devicesOpenCL, "opencl", false, "Enumerate real OpenCL platforms")
	devicesCmd.Flags().BoolVar(&devicesJSON, "json", false, "Print JSON instead of a table")
	rootCmd.AddCommand(devicesCmd)
}

func runDevices(cmd *cobra.Command, args []string) error {
	var (
		platforms []platform.PlatformInfo
		err       error
	)
	if devicesOpenCL {
		platforms, err = platform.EnumeratePlatforms()
	} else {
		platforms, err = loadPlatforms()
	}
	if err != nil {
		return fmt.Errorf("failed to load platforms: %w", err)
	}

	out := cmd.OutOrStdout()
	if devicesJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(platforms)
	}
	writeDevicesTable(out, platforms)
	return nil
}

func writeDevicesTable(out io.Writer, platforms []platform.PlatformInfo) {
	if len(platforms) == 0 {
		fmt.Fprintln(out, "No platforms found.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PLATFORM\tDEVICE\tTYPE\tCUS\tMAX WG\tMULTIPLE\tLOCAL MEM")
	fmt.Fprintln(w, "--------\t------\t----\t---\t------\t--------\t---------")
	for _, p := range platforms {
		for _, d := range p.Devices {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
				p.Name, d.Name, d.Type, d.MaxComputeUnits, d.MaxWorkGroupSize,
				d.PreferredWorkGroupSizeMultiple, formatBytes(int64(d.LocalMemSize)))
		}
	}
	w.Flush()
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
