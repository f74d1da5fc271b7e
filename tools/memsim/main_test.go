//go:build linux

package main

import (
	"bytes"
	"testing"
	"unsafe"

	"incroos/kernel/kfmt"
	"incroos/kernel/mm"
	"incroos/kernel/mm/heap"
	"incroos/kernel/mm/kmem"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	specs := []struct {
		input string
		exp   mm.Size
	}{
		{"4096", 4096},
		{"0x1000", 4096},
		{"16K", 16 * mm.Kb},
		{"16k", 16 * mm.Kb},
		{" 2M ", 2 * mm.Mb},
		{"1G", mm.Gb},
	}

	for _, spec := range specs {
		got, err := parseSize(spec.input)
		require.NoError(t, err, spec.input)
		assert.Equal(t, spec.exp, got, spec.input)
	}

	for _, input := range []string{"", "M", "12Q", "-1K"} {
		_, err := parseSize(input)
		assert.Error(t, err, input)
	}
}

func TestParseLevel(t *testing.T) {
	level, err := parseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, kfmt.LevelDebug, level)

	_, err = parseLevel("verbose")
	assert.Error(t, err)
}

func TestNewMachineErrors(t *testing.T) {
	_, err := newMachine(mm.Mb, mm.Mb)
	assert.Error(t, err)

	_, err = newMachine(4*mm.Mb, 100)
	assert.Error(t, err)
}

func TestHeapBackedByPhysicalMemory(t *testing.T) {
	kfmt.SetOutputSink(&bytes.Buffer{})
	defer kfmt.SetOutputSink(nil)

	m, err := newMachine(8*mm.Mb, 256*mm.Kb)
	require.NoError(t, err)
	defer m.Close()

	var mem kmem.Subsystem
	m.pages = &mem.Pages
	kerr := mem.Init(kmem.Config{
		TotalMemory:   8 * mm.Mb,
		KernelEnd:     0x200000,
		MMU:           m,
		PhysMapOffset: m.PhysMapOffset(),
		Heap: heap.Config{
			Base:        m.HeapBase(),
			InitialSize: 16 * mm.Kb,
			MaxSize:     256 * mm.Kb,
		},
	})
	require.Nil(t, kerr)
	require.NoError(t, m.Err())
	require.NotZero(t, m.flushes)

	ptr, kerr := mem.Heap.Allocate(64)
	require.Nil(t, kerr)
	*(*byte)(unsafe.Pointer(uintptr(ptr))) = 0xa5

	physAddr, kerr := mem.Pages.Translate(ptr)
	require.Nil(t, kerr)
	assert.Equal(t, byte(0xa5), m.physMem[physAddr])

	// Growing the heap maps more pages into the window.
	big, kerr := mem.Heap.Allocate(64 * mm.Kb)
	require.Nil(t, kerr)
	require.NoError(t, m.Err())
	*(*byte)(unsafe.Pointer(uintptr(big) + uintptr(64*mm.Kb) - 1)) = 0x5a

	physAddr, kerr = mem.Pages.Translate(big + mm.VirtAddr(64*mm.Kb) - 1)
	require.Nil(t, kerr)
	assert.Equal(t, byte(0x5a), m.physMem[physAddr])
	assert.Nil(t, mem.Heap.Check())
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{
		"--memory", "16M",
		"--kernel-end", "0x200000",
		"--heap-initial", "64K",
		"--heap-max", "1M",
		"--log-level", "info",
	}, args...))

	err := rootCmd.Execute()
	return out.String(), err
}

func TestBootCommand(t *testing.T) {
	out, err := runCommand(t, "boot")
	require.NoError(t, err)
	assert.Contains(t, out, "kernel: [info] [kmem] memory subsystem ready\n")
	assert.Contains(t, out, "tlb flushes: ")
}

func TestFramesCommand(t *testing.T) {
	out, err := runCommand(t, "frames", "--count", "10")
	require.NoError(t, err)
	assert.Contains(t, out, "reused: true")
}

func TestTranslateCommand(t *testing.T) {
	out, err := runCommand(t, "translate", "0xffff800000001234", "--phys", "0x300000")
	require.NoError(t, err)
	assert.Contains(t, out, "translate  0xffff800000001234 -> 0x300234\n")
	assert.Contains(t, out, "unmap      0xffff800000001234 -> not mapped\n")

	_, err = runCommand(t, "translate", "not-an-address")
	assert.Error(t, err)
}

func TestHeapCommand(t *testing.T) {
	out, err := runCommand(t, "heap", "--ops", "500", "--seed", "42", "--max-alloc", "4K", "--check-every", "50")
	require.NoError(t, err)
	assert.Contains(t, out, "allocs: ")
}

func TestBootCommandErrors(t *testing.T) {
	_, err := runCommand(t, "boot", "--heap-initial", "2M")
	assert.Error(t, err)

	_, err = runCommand(t, "boot", "--memory", "lots")
	assert.Error(t, err)
}
