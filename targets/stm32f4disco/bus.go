//go:build stm32f4disco

package main

import (
	"runtime/volatile"
	"unsafe"
)

// mmio is the memory-mapped peripheral bus. Every access is volatile so the
// compiler neither merges nor reorders register reads and writes.
type mmio struct{}

func (mmio) Load16(addr uintptr) uint16 {
	return volatile.LoadUint16((*uint16)(unsafe.Pointer(addr)))
}

func (mmio) Store16(addr uintptr, value uint16) {
	volatile.StoreUint16((*uint16)(unsafe.Pointer(addr)), value)
}

func (mmio) Load32(addr uintptr) uint32 {
	return volatile.LoadUint32((*uint32)(unsafe.Pointer(addr)))
}

func (mmio) Store32(addr uintptr, value uint32) {
	volatile.StoreUint32((*uint32)(unsafe.Pointer(addr)), value)
}

// ramPlacer hands DMA source tables to the controller. Tables live on the
// heap in main SRAM (DMA1 cannot reach CCM RAM) and are kept referenced so
// the collector never frees memory a stream is still reading.
type ramPlacer struct {
	tables [][]uint16
}

func (r *ramPlacer) Place(values []uint16) uintptr {
	t := make([]uint16, len(values))
	copy(t, values)
	r.tables = append(r.tables, t)
	return uintptr(unsafe.Pointer(&t[0]))
}
