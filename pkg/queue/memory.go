package queue

import "runtime"

// heapInUse reports the bytes of allocated heap objects.
// ReadMemStats stops the world, so it is sampled between jobs only.
func heapInUse() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}

func bytesToMB(b uint64) uint64 {
	return b / (1024 * 1024)
}
