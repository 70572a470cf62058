package edoc

import "sync"

var keyBytesPool = &sync.Pool{
	New: func() any {
		return make([]byte, 0, 1024)
	},
}

// pkListPool holds primary key lists collected by multi-document writes.
var pkListPool = &sync.Pool{
	New: func() any {
		return make([][]byte, 0, 256)
	},
}

func releasePKList(pks [][]byte) {
	clear(pks)
	pkListPool.Put(pks[:0])
}
