package pmm

import (
	"bytes"
	"testing"

	"incroos/kernel/kfmt"
	"incroos/kernel/mm"

	"github.com/stretchr/testify/require"
)

func TestInitFrameCounts(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	kfmt.SetOutputSink(&bytes.Buffer{})

	specs := []struct {
		name        string
		totalMemory mm.Size
		kernelEnd   mm.PhysAddr
		expTotal    uint64
		expReserved uint64
	}{
		{"reserved low memory only", 8 * mm.Mb, 0, 2048, 256},
		{"kernel inside low memory", 8 * mm.Mb, 0x80000, 2048, 256},
		{"kernel end at 2M", 8 * mm.Mb, 0x200000, 2048, 512},
		{"unaligned kernel end", 8 * mm.Mb, 0x200001, 2048, 513},
		{"exactly the reserved frames", 2 * mm.Mb, 0x200000, 512, 512},
		{"memory smaller than the kernel", 1 * mm.Mb, 0x200000, 256, 256},
		{"partial trailing frame", 8*mm.Mb + 100, 0x200000, 2048, 512},
		{"capped at bitmap capacity", 8 * mm.Gb, 0x200000, MaxFrames, 512},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			var alloc BitmapAllocator
			alloc.Init(spec.totalMemory, spec.kernelEnd)

			require.Equal(t, spec.expTotal, alloc.TotalFrames())
			require.Equal(t, spec.expReserved, alloc.ReservedFrames())
			require.Equal(t, spec.expReserved, alloc.UsedFrames())
			require.Equal(t, spec.expTotal-spec.expReserved, alloc.FreeFrames())

			for frame := mm.Frame(0); uint64(frame) < spec.expReserved; frame++ {
				require.True(t, alloc.IsAllocated(frame), "frame %d", frame)
			}
		})
	}
}

func TestInitResetsState(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	kfmt.SetOutputSink(&bytes.Buffer{})

	var alloc BitmapAllocator
	alloc.Init(4*mm.Mb, 0x200000)
	alloc.ReserveRegion(0x300000, mm.Size(mm.PageSize))
	for i := 0; i < 10; i++ {
		_, err := alloc.AllocFrame()
		require.Nil(t, err)
	}

	alloc.Init(4*mm.Mb, 0x200000)
	require.Equal(t, uint64(512), alloc.UsedFrames())
	require.Equal(t, uint64(512), alloc.ReservedFrames())

	frame, err := alloc.AllocFrame()
	require.Nil(t, err)
	require.Equal(t, mm.PhysAddr(0x200000), frame.Address())
}

func TestAllocFrame(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	kfmt.SetOutputSink(&bytes.Buffer{})

	var (
		alloc       BitmapAllocator
		totalMemory = 3 * mm.Mb
		kernelEnd   = mm.PhysAddr(0x180000)
		boundary    = mm.FrameFromAddress(kernelEnd)
	)
	alloc.Init(totalMemory, kernelEnd)

	expFree := alloc.FreeFrames()
	for i := uint64(0); i < expFree; i++ {
		frame, err := alloc.AllocFrame()
		require.Nil(t, err)
		require.Equal(t, boundary+mm.Frame(i), frame, "expected lowest free frame to be returned")
		require.True(t, frame.Address().Aligned())
		require.Less(t, uintptr(frame.Address()), uintptr(totalMemory))
		require.True(t, alloc.IsAllocated(frame))
		require.Equal(t, alloc.TotalFrames(), alloc.UsedFrames()+alloc.FreeFrames())
	}

	frame, err := alloc.AllocFrame()
	require.Equal(t, errBitmapAllocOutOfMemory, err)
	require.Equal(t, mm.InvalidFrame, frame)
	require.False(t, frame.Valid())
	require.Equal(t, uint64(0), alloc.FreeFrames())
}

func TestAllocFrameWithNoUsableFrames(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	kfmt.SetOutputSink(&bytes.Buffer{})

	var alloc BitmapAllocator
	alloc.Init(1*mm.Mb, 0x200000)

	_, err := alloc.AllocFrame()
	require.Equal(t, errBitmapAllocOutOfMemory, err)
	require.Equal(t, alloc.TotalFrames(), alloc.UsedFrames())
}

func TestAllocFrameSkipsFullBlocks(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	kfmt.SetOutputSink(&bytes.Buffer{})

	var alloc BitmapAllocator
	alloc.Init(8*mm.Mb, 0x100000)

	// Frames 256-447 form three complete bitmap blocks.
	alloc.ReserveRegion(0x100000, 192*mm.Size(mm.PageSize))

	frame, err := alloc.AllocFrame()
	require.Nil(t, err)
	require.Equal(t, mm.Frame(448), frame)
}

func TestFreeFrame(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	kfmt.SetOutputSink(&bytes.Buffer{})

	var alloc BitmapAllocator
	alloc.Init(8*mm.Mb, 0x200000)

	frame, err := alloc.AllocFrame()
	require.Nil(t, err)
	used := alloc.UsedFrames()

	alloc.FreeFrame(frame)
	require.False(t, alloc.IsAllocated(frame))
	require.Equal(t, used-1, alloc.UsedFrames())

	// Freeing an already free frame is a no-op
	alloc.FreeFrame(frame)
	require.Equal(t, used-1, alloc.UsedFrames())
	require.Equal(t, alloc.TotalFrames(), alloc.UsedFrames()+alloc.FreeFrames())
}

func TestFreeAddressNoOps(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	kfmt.SetOutputSink(&bytes.Buffer{})

	var alloc BitmapAllocator
	alloc.Init(8*mm.Mb, 0x200000)
	alloc.ReserveRegion(0x400000, 2*mm.Size(mm.PageSize))

	frame, err := alloc.AllocFrame()
	require.Nil(t, err)

	specs := []struct {
		name string
		addr mm.PhysAddr
	}{
		{"misaligned", frame.Address() + 1},
		{"null address", 0},
		{"low memory", 0x9f000},
		{"kernel image", 0x1ff000},
		{"firmware hole", 0x401000},
		{"past the end of memory", 0x800000},
		{"far past the end of memory", 0x7fff0000000},
	}

	for _, spec := range specs {
		t.Run(spec.name, func(t *testing.T) {
			used := alloc.UsedFrames()
			alloc.FreeAddress(spec.addr)
			require.Equal(t, used, alloc.UsedFrames())
			require.True(t, alloc.IsAllocated(frame))
		})
	}

	alloc.FreeAddress(frame.Address())
	require.False(t, alloc.IsAllocated(frame))
}

func TestReserveRegion(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	kfmt.SetOutputSink(&bytes.Buffer{})

	var alloc BitmapAllocator
	alloc.Init(8*mm.Mb, 0x200000)

	// Unaligned region touching frames 0x300 and 0x301
	alloc.ReserveRegion(0x300800, mm.Size(mm.PageSize))
	require.Equal(t, uint64(514), alloc.ReservedFrames())
	require.True(t, alloc.IsAllocated(0x300))
	require.True(t, alloc.IsAllocated(0x301))

	// Overlapping regions are not double counted
	alloc.ReserveRegion(0x301000, 2*mm.Size(mm.PageSize))
	require.Equal(t, uint64(515), alloc.ReservedFrames())

	// Regions inside the kernel image or beyond the managed range change nothing
	alloc.ReserveRegion(0x100000, mm.Mb)
	alloc.ReserveRegion(0x900000, mm.Mb)
	alloc.ReserveRegion(0x400000, 0)
	require.Equal(t, uint64(515), alloc.ReservedFrames())
	require.Equal(t, uint64(515), alloc.UsedFrames())

	// Region straddling the end of memory is clamped
	alloc.ReserveRegion(0x7ff000, mm.Mb)
	require.Equal(t, uint64(516), alloc.ReservedFrames())
	require.Equal(t, alloc.TotalFrames(), alloc.UsedFrames()+alloc.FreeFrames())
}

func TestTenFrameScenario(t *testing.T) {
	defer kfmt.SetOutputSink(nil)
	kfmt.SetOutputSink(&bytes.Buffer{})

	var (
		alloc    BitmapAllocator
		boundary = mm.PhysAddr(0x200000)
		addrs    []mm.PhysAddr
	)
	alloc.Init(8*mm.Mb, boundary)

	for i := 0; i < 10; i++ {
		frame, err := alloc.AllocFrame()
		require.Nil(t, err)

		addr := frame.Address()
		require.True(t, addr.Aligned())
		require.GreaterOrEqual(t, uintptr(addr), uintptr(boundary))
		if i > 0 {
			require.Greater(t, uintptr(addr), uintptr(addrs[i-1]))
		}
		addrs = append(addrs, addr)
	}

	alloc.FreeAddress(addrs[4])
	frame, err := alloc.AllocFrame()
	require.Nil(t, err)
	require.Equal(t, addrs[4], frame.Address())
}

func TestPrintStats(t *testing.T) {
	defer kfmt.SetOutputSink(nil)

	var (
		buf   bytes.Buffer
		alloc BitmapAllocator
	)
	kfmt.SetOutputSink(&buf)
	alloc.Init(8*mm.Mb, 0x200000)
	buf.Reset()

	alloc.PrintStats()

	exp := "[info] [pmm] frames total: 2048, used: 512, free: 1536, reserved: 512\n" +
		"[info] [pmm] memory total: 8192Kb, free: 6144Kb\n"
	require.Equal(t, exp, buf.String())
}
