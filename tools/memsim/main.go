//go:build linux

// Command memsim runs the kernel memory subsystem in user mode on top of an
// emulated machine and reports what it does.
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"incroos/kernel/kfmt"
	"incroos/kernel/mm"
	"incroos/kernel/mm/heap"
	"incroos/kernel/mm/kmem"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	memorySize  string
	kernelEnd   uint64
	heapInitial string
	heapMax     string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "memsim",
	Short: "Run the kernel memory subsystem on an emulated machine",
	Long: `memsim boots the physical frame allocator, the page table manager and the
kernel heap in user mode. Physical memory is emulated with a memory-backed file
and heap pages become accessible only through the page tables maintained by
the page table manager.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&memorySize, "memory", "64M", "Emulated physical memory size")
	rootCmd.PersistentFlags().Uint64Var(&kernelEnd, "kernel-end", 0x200000, "Physical address past the end of the kernel image")
	rootCmd.PersistentFlags().StringVar(&heapInitial, "heap-initial", "1M", "Initial heap size")
	rootCmd.PersistentFlags().StringVar(&heapMax, "heap-max", "16M", "Maximum heap size")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Kernel log level (trace, debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// session bundles an emulated machine with a booted memory subsystem.
type session struct {
	machine *machine
	mem     kmem.Subsystem
	out     io.Writer
}

// bootSession creates a machine as described by the global flags and brings
// up the memory subsystem on it. Kernel diagnostics are written to the
// command output prefixed with "kernel: ".
func bootSession(cmd *cobra.Command) (*session, error) {
	level, err := parseLevel(logLevel)
	if err != nil {
		return nil, err
	}

	var memSize, initialSize, maxSize mm.Size
	for _, flag := range []struct {
		name  string
		value string
		dst   *mm.Size
	}{
		{"memory", memorySize, &memSize},
		{"heap-initial", heapInitial, &initialSize},
		{"heap-max", heapMax, &maxSize},
	} {
		if *flag.dst, err = parseSize(flag.value); err != nil {
			return nil, fmt.Errorf("invalid --%s value: %w", flag.name, err)
		}
	}

	m, err := newMachine(memSize, maxSize.PageAlign())
	if err != nil {
		return nil, err
	}

	s := &session{machine: m, out: cmd.OutOrStdout()}
	kfmt.SetLevel(level)
	kfmt.SetOutputSink(&kfmt.PrefixWriter{Sink: s.out, Prefix: []byte("kernel: ")})

	m.pages = &s.mem.Pages
	kerr := s.mem.Init(kmem.Config{
		TotalMemory:   memSize,
		KernelEnd:     mm.PhysAddr(kernelEnd),
		MMU:           m,
		PhysMapOffset: m.PhysMapOffset(),
		Heap: heap.Config{
			Base:        m.HeapBase(),
			InitialSize: initialSize,
			MaxSize:     maxSize,
		},
	})
	if kerr != nil {
		s.Close()
		return nil, fmt.Errorf("memory subsystem initialization failed: %w", kerr)
	}

	if err = m.Err(); err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// Close detaches the kernel log and releases the machine.
func (s *session) Close() {
	kfmt.SetOutputSink(nil)
	s.machine.Close()
}

func (s *session) printf(format string, args ...interface{}) {
	fmt.Fprintf(s.out, format, args...)
}

// parseSize parses sizes such as "4096", "16K", "1M" or "2G".
func parseSize(value string) (mm.Size, error) {
	var (
		unit = mm.Byte
		num  = strings.ToUpper(strings.TrimSpace(value))
	)

	switch {
	case strings.HasSuffix(num, "K"):
		unit = mm.Kb
	case strings.HasSuffix(num, "M"):
		unit = mm.Mb
	case strings.HasSuffix(num, "G"):
		unit = mm.Gb
	}
	if unit != mm.Byte {
		num = num[:len(num)-1]
	}

	n, err := strconv.ParseUint(num, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed size %q", value)
	}

	return mm.Size(n) * unit, nil
}

func parseLevel(value string) (kfmt.Level, error) {
	for level := kfmt.LevelTrace; level <= kfmt.LevelError; level++ {
		if strings.EqualFold(value, level.String()) {
			return level, nil
		}
	}

	return 0, fmt.Errorf("unknown log level %q", value)
}
