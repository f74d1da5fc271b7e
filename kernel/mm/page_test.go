package mm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameMethods(t *testing.T) {
	for frameIndex := uint64(0); frameIndex < 128; frameIndex++ {
		frame := Frame(frameIndex)

		require.True(t, frame.Valid(), "frame %d", frameIndex)
		require.Equal(t, PhysAddr(frameIndex<<PageShift), frame.Address())
		require.True(t, frame.Address().Aligned())
	}

	require.False(t, InvalidFrame.Valid())
}

func TestFrameFromAddress(t *testing.T) {
	specs := []struct {
		input    PhysAddr
		expFrame Frame
	}{
		{0, Frame(0)},
		{4095, Frame(0)},
		{4096, Frame(1)},
		{4123, Frame(1)},
		{0x200000, Frame(512)},
	}

	for specIndex, spec := range specs {
		require.Equal(t, spec.expFrame, FrameFromAddress(spec.input), "spec %d", specIndex)
	}
}

func TestPageMethods(t *testing.T) {
	for pageIndex := uint64(0); pageIndex < 128; pageIndex++ {
		page := Page(pageIndex)
		require.Equal(t, VirtAddr(pageIndex<<PageShift), page.Address())
	}
}

func TestPageFromAddress(t *testing.T) {
	specs := []struct {
		input   VirtAddr
		expPage Page
	}{
		{0, Page(0)},
		{4095, Page(0)},
		{4096, Page(1)},
		{4123, Page(1)},
		{0x10000000, Page(0x10000)},
	}

	for specIndex, spec := range specs {
		require.Equal(t, spec.expPage, PageFromAddress(spec.input), "spec %d", specIndex)
	}
}

func TestAddressAlignment(t *testing.T) {
	require.True(t, PhysAddr(0).Aligned())
	require.True(t, PhysAddr(0x1000).Aligned())
	require.False(t, PhysAddr(0x1001).Aligned())
	require.True(t, VirtAddr(0x10000000).Aligned())
	require.False(t, VirtAddr(0x10000010).Aligned())

	require.Equal(t, uintptr(0x123), VirtAddr(0x10000123).PageOffset())
	require.Equal(t, uintptr(0), VirtAddr(0x10000000).PageOffset())
}

func TestSize(t *testing.T) {
	specs := []struct {
		size     Size
		expPages uintptr
		expAlign Size
	}{
		{0, 0, 0},
		{1, 1, 4 * Kb},
		{4 * Kb, 1, 4 * Kb},
		{4*Kb + 1, 2, 8 * Kb},
		{Mb, 256, Mb},
	}

	for specIndex, spec := range specs {
		require.Equal(t, spec.expPages, spec.size.Pages(), "spec %d", specIndex)
		require.Equal(t, spec.expAlign, spec.size.PageAlign(), "spec %d", specIndex)
	}
}
