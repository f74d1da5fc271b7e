//go:build linux

package main

import (
	"fmt"
	"strconv"

	"incroos/kernel/mm"
	"incroos/kernel/mm/vmm"

	"github.com/spf13/cobra"
)

var translatePhys uint64

func init() {
	cmd := newTranslateCmd()
	cmd.Flags().Uint64Var(&translatePhys, "phys", 0, "Physical address to map (default: a newly allocated frame)")
	rootCmd.AddCommand(cmd)
}

func newTranslateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "translate <virtual address>",
		Short: "Map, translate and unmap a virtual address",
		Long: `The translate command maps the page that contains the supplied virtual
address, translates the address, unmaps the page and translates it again.

Example:
  memsim translate 0xffff800000001234
  memsim translate 0x40000000 --phys 0x300000`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			virt, err := strconv.ParseUint(args[0], 0, 64)
			if err != nil {
				return fmt.Errorf("malformed virtual address %q", args[0])
			}

			s, err := bootSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			return runTranslate(s, mm.VirtAddr(virt), mm.PhysAddr(translatePhys))
		},
	}
}

func runTranslate(s *session, virt mm.VirtAddr, phys mm.PhysAddr) error {
	page := virt &^ mm.VirtAddr(mm.PageSize-1)

	if s.mem.Pages.IsMapped(page) {
		return fmt.Errorf("address 0x%x is already mapped", uintptr(virt))
	}

	if phys == 0 {
		frame, err := s.mem.Frames.AllocFrame()
		if err != nil {
			return err
		}
		defer s.mem.Frames.FreeFrame(frame)
		phys = frame.Address()
	}

	tables := s.mem.Pages.TablesCreated()
	if err := s.mem.Pages.Map(page, phys, vmm.FlagRW); err != nil {
		return err
	}
	s.printf("map        0x%016x -> 0x%x (new tables: %d)\n", uintptr(page), uintptr(phys), s.mem.Pages.TablesCreated()-tables)

	got, err := s.mem.Pages.Translate(virt)
	if err != nil {
		return err
	}
	s.printf("translate  0x%016x -> 0x%x\n", uintptr(virt), uintptr(got))

	s.mem.Pages.Unmap(page)
	if _, err = s.mem.Pages.Translate(virt); err == nil {
		return fmt.Errorf("address 0x%x is still mapped after unmap", uintptr(virt))
	}
	s.printf("unmap      0x%016x -> not mapped\n", uintptr(virt))

	if want := phys + mm.PhysAddr(vmm.PageOffset(virt)); got != want {
		return fmt.Errorf("expected 0x%x to translate to 0x%x; got 0x%x", uintptr(virt), uintptr(want), uintptr(got))
	}
	return nil
}
