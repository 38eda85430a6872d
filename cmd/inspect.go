package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/clkernel/internal/cl"
	"github.com/cwbudde/clkernel/internal/clc"
	"github.com/cwbudde/clkernel/internal/inspect"
	"github.com/cwbudde/clkernel/internal/platform"
	"github.com/cwbudde/clkernel/internal/store"
)

var (
	buildOptions   string
	globalSize     uint64
	strictArgInfo  bool
	deviceFilters  []string
	inspectJSON    bool
	saveReport     bool
	inspectDataDir string
	useOpenCL      bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.cl>...",
	Short: "Build OpenCL C sources and report their kernels",
	Long: `Builds each source file for the configured devices, creates every kernel
and prints the results of all kernel, argument and work-group queries.

With --global-size a local work size is suggested for every kernel and
device. With --save the reports are written to the data directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&buildOptions, "options", "", "Build options passed to the compiler")
	inspectCmd.Flags().Uint64Var(&globalSize, "global-size", 0, "Global work size used to suggest a local size (0 disables)")
	inspectCmd.Flags().BoolVar(&strictArgInfo, "strict-arg-info", false, "Drop argument names unless built with "+clc.ArgInfoOption)
	inspectCmd.Flags().StringSliceVar(&deviceFilters, "device", nil, "Only use devices whose name contains this value (repeatable)")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Print reports as JSON")
	inspectCmd.Flags().BoolVar(&saveReport, "save", false, "Persist reports to the data directory")
	inspectCmd.Flags().StringVar(&inspectDataDir, "data-dir", "./data", "Data directory for saved reports")
	inspectCmd.Flags().BoolVar(&useOpenCL, "opencl", false, "Build with the installed OpenCL driver (requires -tags gpu)")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	compiler, specs, cleanup, err := inspectTarget()
	if err != nil {
		return err
	}
	defer cleanup()

	var fs *store.FSStore
	if saveReport {
		fs, err = store.NewFSStore(inspectDataDir)
		if err != nil {
			return fmt.Errorf("failed to open data directory: %w", err)
		}
	}

	rt := cl.New(compiler)
	ctx, devices, err := rt.CreateContext(specs...)
	if err != nil {
		return fmt.Errorf("failed to create context: %w", err)
	}
	defer rt.ReleaseContext(ctx)

	out := cmd.OutOrStdout()
	var failed int
	for _, path := range args {
		report, err := inspectFile(rt, ctx, devices, path, compiler)
		if err != nil {
			var bf *inspect.BuildFailedError
			if errors.As(err, &bf) {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: build failed\n%s\n", path, bf.Log)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
			}
			failed++
			continue
		}

		if fs != nil {
			if err := fs.SaveReport(report); err != nil {
				return fmt.Errorf("failed to save report for %s: %w", path, err)
			}
			slog.Info("report saved", "id", report.ID, "file", path)
		}

		if inspectJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
			continue
		}
		writeReport(out, report)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d source(s) failed", failed, len(args))
	}
	return nil
}

// inspectTarget returns the compiler and devices selected by the flags.
func inspectTarget() (cl.Compiler, []cl.DeviceSpec, func(), error) {
	if useOpenCL {
		ocl, err := platform.InitOpenCL()
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to initialize OpenCL: %w", err)
		}
		slog.Info("using OpenCL device", "platform", ocl.Platform.Name, "device", ocl.Device.Name)
		return ocl, []cl.DeviceSpec{ocl.Device.Spec()}, ocl.Close, nil
	}

	platforms, err := loadPlatforms()
	if err != nil {
		return nil, nil, nil, err
	}
	specs := platform.Specs(platforms, deviceFilters...)
	if len(specs) == 0 {
		return nil, nil, nil, fmt.Errorf("no device matches %v", deviceFilters)
	}
	return &clc.Compiler{StrictArgInfo: strictArgInfo}, specs, func() {}, nil
}

func inspectFile(rt *cl.Runtime, ctx cl.Context, devices []cl.Device, path string, compiler cl.Compiler) (*inspect.Report, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source: %w", err)
	}
	name := filepath.Base(path)
	if c, ok := compiler.(*clc.Compiler); ok {
		c.Filename = name
	}

	start := time.Now()
	report, err := inspect.InspectSource(rt, ctx, devices, string(src), buildOptions, inspect.Options{
		Name:       name,
		GlobalSize: globalSize,
	})
	if err != nil {
		return nil, err
	}
	slog.Debug("source inspected", "file", path, "kernels", len(report.Kernels), "elapsed", time.Since(start))
	return report, nil
}

func writeReport(out io.Writer, r *inspect.Report) {
	fmt.Fprintf(out, "Program: %s (%d kernel(s), report %s)\n", r.Name, len(r.Kernels), r.ID)
	if r.Program.Options != "" {
		fmt.Fprintf(out, "Options: %s\n", r.Program.Options)
	}
	if r.Program.BuildLog != "" {
		fmt.Fprintf(out, "Build log: %s\n", r.Program.BuildLog)
	}

	for _, k := range r.Kernels {
		fmt.Fprintf(out, "\nKernel %s (%d arg(s))\n", k.Name, k.NumArgs)
		if k.Attributes != "" {
			fmt.Fprintf(out, "  Attributes: %s\n", k.Attributes)
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  IDX\tNAME\tTYPE\tADDRESS\tACCESS\tQUALIFIERS")
		for _, a := range k.Args {
			name, typeName := a.Name, a.TypeName
			if !a.Metadata {
				name, typeName = "-", "-"
			}
			fmt.Fprintf(w, "  %d\t%s\t%s\t%s\t%s\t%s\n", a.Index, name, typeName, a.Address, a.Access, a.TypeQualifiers)
		}
		w.Flush()

		fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "  DEVICE\tWG SIZE\tCOMPILE WG\tMULTIPLE\tLOCAL MEM\tPRIVATE MEM\tLOCAL SIZE")
		for _, wg := range k.WorkGroup {
			fmt.Fprintf(w, "  %s\t%d\t%s\t%d\t%s\t%s\t%s\n",
				wg.Device, wg.WorkGroupSize, formatCompileSize(wg.CompileWorkGroupSize),
				wg.PreferredMultiple, formatBytes(int64(wg.LocalMemSize)),
				formatBytes(int64(wg.PrivateMemSize)), formatLocalSize(wg))
		}
		w.Flush()
	}
}

func formatCompileSize(s [3]uint64) string {
	if s == [3]uint64{} {
		return "-"
	}
	return fmt.Sprintf("%dx%dx%d", s[0], s[1], s[2])
}

func formatLocalSize(wg inspect.WorkGroupReport) string {
	switch {
	case wg.LocalSizeError != "":
		return "error: " + wg.LocalSizeError
	case wg.LocalSize == 0:
		return "-"
	default:
		return fmt.Sprint(wg.LocalSize)
	}
}
