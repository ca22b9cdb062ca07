// Package util holds the few generic helpers the memory subsystem leans
// on: page-size rounding for mmap lengths and the fixed-width loads and
// stores the user-memory accessors perform through a mapped page.
package util

import "unsafe"

// Int is satisfied by all built-in integer types.
type Int interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Min returns the smaller of a and b.
func Min[T Int](a, b T) T {
	if a < b {
		return a
	}
	return b
}

// Rounddown aligns v down to the nearest multiple of b.
func Rounddown[T Int](v, b T) T {
	return v - v%b
}

// Roundup aligns v up to the nearest multiple of b. Callers pass the page
// size; a reserved mapping length is always a whole number of pages.
func Roundup[T Int](v, b T) T {
	return Rounddown(v+b-1, b)
}

// Readn loads an n-byte little-endian value from a at off. n must be a
// power of two no larger than 8 and the load must stay in bounds.
func Readn(a []uint8, n int, off int) int {
	if off < 0 || off+n > len(a) {
		panic("readn oob")
	}
	p := unsafe.Pointer(&a[off])
	switch n {
	case 8:
		return *(*int)(p)
	case 4:
		return int(*(*uint32)(p))
	case 2:
		return int(*(*uint16)(p))
	case 1:
		return int(*(*uint8)(p))
	}
	panic("unsupported size")
}

// Writen stores the low sz bytes of val into a at off, little-endian,
// with the same size and bounds rules as Readn.
func Writen(a []uint8, sz int, off int, val int) {
	if off < 0 || off+sz > len(a) {
		panic("writen oob")
	}
	p := unsafe.Pointer(&a[off])
	switch sz {
	case 8:
		*(*int)(p) = val
	case 4:
		*(*uint32)(p) = uint32(val)
	case 2:
		*(*uint16)(p) = uint16(val)
	case 1:
		*(*uint8)(p) = uint8(val)
	default:
		panic("unsupported size")
	}
}
