package platform

import "sync"

// blockSize matches a typical disk block. The user-space copy loops move
// data in blocks of this size.
const blockSize = 4096

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, blockSize)
		return &b
	},
}

// getBuffer returns a transfer buffer with undefined contents: a reused
// buffer still holds bytes from its previous copy. Callers may only read
// back the prefix the most recent fill wrote.
func getBuffer() *[]byte {
	return bufPool.Get().(*[]byte)
}

func putBuffer(b *[]byte) {
	bufPool.Put(b)
}
