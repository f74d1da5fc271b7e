//go:build linux

package main

import (
	"fmt"

	"incroos/kernel/mm"

	"github.com/spf13/cobra"
)

var frameCount int

func init() {
	cmd := newFramesCmd()
	cmd.Flags().IntVar(&frameCount, "count", 10, "Number of frames to allocate")
	rootCmd.AddCommand(cmd)
}

func newFramesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "frames",
		Short: "Allocate frames, release the middle one and allocate again",
		Long: `The frames command allocates a sequence of physical frames, releases the
one in the middle of the sequence and shows that the next allocation returns
the released frame.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := bootSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			return runFrames(s, frameCount)
		},
	}
}

func runFrames(s *session, count int) error {
	if count < 1 {
		return fmt.Errorf("frame count must be positive; got %d", count)
	}

	frames := make([]mm.Frame, 0, count)
	for i := 0; i < count; i++ {
		frame, err := s.mem.Frames.AllocFrame()
		if err != nil {
			return fmt.Errorf("frame %d: %w", i, err)
		}
		frames = append(frames, frame)
		s.printf("alloc  #%-3d 0x%08x\n", i, uintptr(frame.Address()))
	}

	released := frames[(count-1)/2]
	s.mem.Frames.FreeAddress(released.Address())
	s.printf("free        0x%08x\n", uintptr(released.Address()))

	frame, err := s.mem.Frames.AllocFrame()
	if err != nil {
		return err
	}
	s.printf("realloc     0x%08x (reused: %t)\n", uintptr(frame.Address()), frame == released)
	s.printf("used frames: %d, free frames: %d\n", s.mem.Frames.UsedFrames(), s.mem.Frames.FreeFrames())

	if frame != released {
		return fmt.Errorf("expected frame 0x%x to be reused; got 0x%x", uintptr(released.Address()), uintptr(frame.Address()))
	}
	return nil
}
