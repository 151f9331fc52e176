// Package buffers pools the fixed-size read buffers used while streaming
// remote files to disk.
package buffers

import (
	"sync"
	"sync/atomic"

	"github.com/earthanddusk/hfbackup/internal/constants"
)

var (
	allocations int64
	gets        int64

	chunkPool = &sync.Pool{
		New: func() interface{} {
			atomic.AddInt64(&allocations, 1)
			buf := make([]byte, constants.DownloadChunkSize)
			return &buf
		},
	}
)

// GetChunkBuffer returns a DownloadChunkSize buffer. Return it with
// PutChunkBuffer when done.
//
//	buf := buffers.GetChunkBuffer()
//	defer buffers.PutChunkBuffer(buf)
//	n, err := body.Read(*buf)
func GetChunkBuffer() *[]byte {
	atomic.AddInt64(&gets, 1)
	return chunkPool.Get().(*[]byte)
}

// PutChunkBuffer returns buf to the pool. Buffers of any other size are
// dropped. The contents are cleared first.
func PutChunkBuffer(buf *[]byte) {
	if buf == nil || len(*buf) != constants.DownloadChunkSize {
		return
	}
	clear(*buf)
	chunkPool.Put(buf)
}

// Stats reports pool usage.
type Stats struct {
	BufferSize  int
	Allocations int64 // buffers created
	Gets        int64 // buffers handed out, reused or new
}

// GetStats returns current pool statistics.
func GetStats() Stats {
	return Stats{
		BufferSize:  constants.DownloadChunkSize,
		Allocations: atomic.LoadInt64(&allocations),
		Gets:        atomic.LoadInt64(&gets),
	}
}
