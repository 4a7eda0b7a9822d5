//go:build !ios && !android && (amd64 || arm64)

package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/obinnaokechukwu/gosparse"
	"github.com/obinnaokechukwu/gosparse/cuda"
	"github.com/obinnaokechukwu/gosparse/cusparse"
	"github.com/obinnaokechukwu/gosparse/envconfig"
	"github.com/obinnaokechukwu/gosparse/hostrt"
	"github.com/obinnaokechukwu/gosparse/hostrt/inproc"
	"github.com/obinnaokechukwu/gosparse/internal/bindings"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// NewCLI builds the root command.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	rootCmd := &cobra.Command{
		Use:           "gosparse",
		Short:         "cuSPARSE handle lifecycle tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging()
		},
	}

	rootCmd.AddCommand(newProbeCmd(), newSelftestCmd(), newEnvCmd())
	return rootCmd
}

func setupLogging() error {
	newLogger := zap.NewProduction
	if envconfig.Debug() {
		newLogger = zap.NewDevelopment
	}
	l, err := newLogger()
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(l)
	gosparse.SetLogger(l)
	return nil
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.SetAutoWrapText(false)
	return table
}

func newProbeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Locate and load the CUDA driver and cuSPARSE",
		Args:  cobra.NoArgs,
		RunE:  probeHandler,
	}
}

func probeHandler(cmd *cobra.Command, _ []string) error {
	var data [][]string
	for _, lib := range []bindings.Library{bindings.DriverLibrary, bindings.SparseLibrary} {
		path, err := bindings.FindLibrary(lib)
		if err != nil {
			path = "not found (using loader search)"
		}
		data = append(data, []string{lib.Name, path})
	}

	if err := gosparse.Init(); err != nil {
		table := newTable(cmd.OutOrStdout(), "LIBRARY", "PATH")
		table.AppendBulk(data)
		table.Render()
		return err
	}

	d, err := cuda.Open()
	if err != nil {
		return err
	}
	dv, err := d.Version()
	if err != nil {
		return err
	}
	data[0] = append(data[0], fmt.Sprintf("%d.%d", dv/1000, dv%1000/10))

	lib, err := cusparse.Open()
	if err != nil {
		return err
	}
	var parts []string
	for _, p := range []cusparse.Property{cusparse.MajorVersion, cusparse.MinorVersion, cusparse.PatchLevel} {
		v, err := lib.Property(p)
		if err != nil {
			return err
		}
		parts = append(parts, strconv.Itoa(v))
	}
	data[1] = append(data[1], strings.Join(parts, "."))

	table := newTable(cmd.OutOrStdout(), "LIBRARY", "PATH", "VERSION")
	table.AppendBulk(data)
	table.Render()

	n, err := d.DeviceCount()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d CUDA device(s)\n", n)
	return nil
}

func newSelftestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "selftest",
		Short: "Run tasks that create, reuse and tear down cuSPARSE handles",
		Args:  cobra.NoArgs,
		RunE:  selftestHandler,
	}
	cmd.Flags().Int("device", 0, "Device ordinal")
	cmd.Flags().Int("tasks", 64, "Number of tasks to submit")
	cmd.Flags().Int("queues", 2, "Number of queues on the device")
	cmd.Flags().Int("workers", 0, "Runtime worker threads (default: GOSPARSE_WORKERS)")
	cmd.Flags().String("backend", "", "Task back-end: host_task or custom_operation (default: GOSPARSE_TASK_BACKEND)")
	return cmd
}

func selftestHandler(cmd *cobra.Command, _ []string) error {
	device, _ := cmd.Flags().GetInt("device")
	tasks, _ := cmd.Flags().GetInt("tasks")
	nqueues, _ := cmd.Flags().GetInt("queues")
	workers, _ := cmd.Flags().GetInt("workers")
	backendName, _ := cmd.Flags().GetString("backend")
	if nqueues < 1 {
		return errors.New("--queues must be at least 1")
	}

	var opts []gosparse.Option
	if backendName != "" {
		tb, ok := gosparse.ParseTaskBackend(strings.ToLower(backendName))
		if !ok {
			return fmt.Errorf("unknown back-end %q", backendName)
		}
		opts = append(opts, gosparse.WithTaskBackend(tb))
	}
	b, err := gosparse.Open(opts...)
	if err != nil {
		return err
	}
	d, err := cuda.Open()
	if err != nil {
		return err
	}

	rt := inproc.New(d, inproc.WithWorkers(workers), inproc.WithLogger(zap.L()))
	ctx, err := rt.NewContext(device)
	if err != nil {
		return errors.Join(err, rt.Close())
	}

	var queues []*inproc.Queue
	for i := 0; i < nqueues; i++ {
		q, err := ctx.NewQueue()
		if err != nil {
			return errors.Join(err, ctx.Release(), rt.Close())
		}
		queues = append(queues, q)
	}

	var (
		mu      sync.Mutex
		handles = map[cusparse.Handle]bool{}
		evs     []hostrt.Event
	)
	for i := 0; i < tasks; i++ {
		q := queues[i%len(queues)]
		evs = append(evs, q.Submit(func(cgh hostrt.Handler) {
			b.Enqueue(cgh, q, func(sc *gosparse.ScopedContextHandler) error {
				h, err := sc.Handle(q)
				if err != nil {
					return err
				}
				mu.Lock()
				handles[h] = true
				mu.Unlock()
				return nil
			})
		}))
	}

	var errs []error
	for _, ev := range evs {
		if err := ev.Wait(cmd.Context()); err != nil {
			errs = append(errs, err)
		}
	}
	// Tear the context down while workers still hold their caches, so both
	// destroyers get exercised.
	errs = append(errs, ctx.Release(), rt.Close())
	if err := errors.Join(errs...); err != nil {
		return err
	}

	s := b.Stats()
	table := newTable(cmd.OutOrStdout(), "COUNTER", "VALUE")
	table.AppendBulk([][]string{
		{"backend", b.TaskBackend().String()},
		{"workers", strconv.Itoa(rt.Workers())},
		{"tasks", strconv.Itoa(tasks)},
		{"distinct handles", strconv.Itoa(len(handles))},
		{"handles created", strconv.FormatInt(s.HandlesCreated, 10)},
		{"handles destroyed", strconv.FormatInt(s.HandlesDestroyed, 10)},
		{"stream rebinds", strconv.FormatInt(s.StreamRebinds, 10)},
		{"context switches", strconv.FormatInt(s.ContextSwitches, 10)},
		{"context restores", strconv.FormatInt(s.ContextRestores, 10)},
		{"callbacks fired", strconv.FormatInt(s.CallbacksFired, 10)},
	})
	table.Render()

	if s.HandlesCreated != s.HandlesDestroyed {
		return fmt.Errorf("leaked %d handle(s)", s.HandlesCreated-s.HandlesDestroyed)
	}
	return nil
}

func newEnvCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  envHandler,
	}
}

func envHandler(cmd *cobra.Command, _ []string) error {
	vars := envconfig.AsMap()
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	table := newTable(cmd.OutOrStdout(), "NAME", "VALUE", "DESCRIPTION")
	for _, name := range names {
		v := vars[name]
		table.Append([]string{v.Name, fmt.Sprint(v.Value), v.Description})
	}
	table.Render()
	return nil
}
