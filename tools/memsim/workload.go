//go:build linux

package main

import (
	"fmt"
	"math/rand"
	"unsafe"

	"incroos/kernel/mm"

	"github.com/spf13/cobra"
)

var (
	workloadOps      int
	workloadSeed     int64
	workloadMaxAlloc string
	workloadCheck    int
)

func init() {
	cmd := newHeapCmd()
	cmd.Flags().IntVar(&workloadOps, "ops", 1000, "Number of heap operations to run")
	cmd.Flags().Int64Var(&workloadSeed, "seed", 1, "Seed for the operation generator")
	cmd.Flags().StringVar(&workloadMaxAlloc, "max-alloc", "8K", "Largest allocation request")
	cmd.Flags().IntVar(&workloadCheck, "check-every", 100, "Verify heap consistency every N operations (0 disables)")
	rootCmd.AddCommand(cmd)
}

func newHeapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "heap",
		Short: "Run a random allocation workload against the kernel heap",
		Long: `The heap command issues a pseudo-random mix of allocate, reallocate and free
requests. Every live allocation is filled with a pattern derived from its id
and the pattern is verified before the allocation is released or resized.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			maxAlloc, err := parseSize(workloadMaxAlloc)
			if err != nil {
				return fmt.Errorf("invalid --max-alloc value: %w", err)
			}

			s, err := bootSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			w := workload{
				session:    s,
				rng:        rand.New(rand.NewSource(workloadSeed)),
				maxAlloc:   maxAlloc,
				checkEvery: workloadCheck,
			}
			return w.run(workloadOps)
		},
	}
}

// allocation tracks a live heap allocation and the byte pattern stored in it.
type allocation struct {
	ptr     mm.VirtAddr
	size    mm.Size
	pattern byte
}

type workload struct {
	*session

	rng        *rand.Rand
	maxAlloc   mm.Size
	checkEvery int

	live   []allocation
	nextID int

	allocs, reallocs, frees, failures int
}

func (w *workload) run(ops int) error {
	if w.maxAlloc == 0 {
		return fmt.Errorf("max allocation size must be positive")
	}

	for op := 1; op <= ops; op++ {
		var err error
		switch n := w.rng.Intn(10); {
		case n < 5 || len(w.live) == 0:
			err = w.allocate()
		case n < 7:
			err = w.reallocate()
		default:
			err = w.free()
		}
		if err != nil {
			return fmt.Errorf("operation %d: %w", op, err)
		}

		if err = w.machine.Err(); err != nil {
			return err
		}

		if w.checkEvery > 0 && op%w.checkEvery == 0 {
			if kerr := w.mem.Heap.Check(); kerr != nil {
				return fmt.Errorf("operation %d: %w", op, kerr)
			}
		}
	}

	// Release everything; the heap must collapse back to free blocks only.
	for len(w.live) != 0 {
		if err := w.free(); err != nil {
			return err
		}
	}
	if kerr := w.mem.Heap.Check(); kerr != nil {
		return kerr
	}

	w.printf("allocs: %d, reallocs: %d, frees: %d, failed requests: %d\n", w.allocs, w.reallocs, w.frees, w.failures)
	w.mem.PrintStats()

	if used := w.mem.Heap.UsedBytes(); used != 0 {
		return fmt.Errorf("expected no used heap bytes after releasing all allocations; got %d", used)
	}
	return nil
}

func (w *workload) randomSize() mm.Size {
	return mm.Size(w.rng.Int63n(int64(w.maxAlloc))) + 1
}

func (w *workload) allocate() error {
	size := w.randomSize()
	ptr, err := w.mem.Heap.Allocate(size)
	if err != nil {
		// Running out of heap space is a legitimate outcome.
		w.failures++
		return nil
	}

	w.nextID++
	a := allocation{ptr: ptr, size: size, pattern: byte(w.nextID)}
	fill(a.ptr, 0, a.size, a.pattern)
	w.live = append(w.live, a)
	w.allocs++
	return nil
}

func (w *workload) reallocate() error {
	index := w.rng.Intn(len(w.live))
	a := &w.live[index]
	if err := verify(*a); err != nil {
		return err
	}

	newSize := w.randomSize()
	ptr, err := w.mem.Heap.Reallocate(a.ptr, newSize)
	if err != nil {
		w.failures++
		return verify(*a)
	}

	kept := a.size
	if newSize < kept {
		kept = newSize
	}
	a.ptr, a.size = ptr, kept
	if err := verify(*a); err != nil {
		return fmt.Errorf("contents not preserved by reallocation: %w", err)
	}

	fill(a.ptr, kept, newSize, a.pattern)
	a.size = newSize
	w.reallocs++
	return nil
}

func (w *workload) free() error {
	index := w.rng.Intn(len(w.live))
	a := w.live[index]
	if err := verify(a); err != nil {
		return err
	}

	w.mem.Heap.Free(a.ptr)
	w.live[index] = w.live[len(w.live)-1]
	w.live = w.live[:len(w.live)-1]
	w.frees++
	return nil
}

func payloadBytes(ptr mm.VirtAddr, size mm.Size) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(ptr))), uintptr(size))
}

// fill writes the pattern for bytes [from, to) of the allocation at ptr.
func fill(ptr mm.VirtAddr, from, to mm.Size, pattern byte) {
	buf := payloadBytes(ptr, to)
	for i := from; i < to; i++ {
		buf[i] = pattern ^ byte(i)
	}
}

func verify(a allocation) error {
	for i, b := range payloadBytes(a.ptr, a.size) {
		if want := a.pattern ^ byte(i); b != want {
			return fmt.Errorf("allocation at 0x%x corrupted at offset %d: expected 0x%02x; got 0x%02x", uintptr(a.ptr), i, want, b)
		}
	}
	return nil
}
