package loop

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// goroutineIDBufPool holds reusable buffers for parsing the current
// goroutine's id out of a runtime stack dump. No ecosystem package in the
// retrieval pack exposes goroutine identity (the usual suspects - zap,
// testify, fx, quic-go - none of them need it), so this one mechanism stays
// on the standard library: it's the textbook technique for "am I running on
// goroutine X", not a domain concern this repo can source from a library.
var goroutineIDBufPool = sync.Pool{
	New: func() any {
		buf := make([]byte, 64)
		return &buf
	},
}

// currentGoroutineID extracts the numeric id Go prints at the head of a
// stack trace ("goroutine 123 [running]: ..."). It is only ever used to
// compare against a Loop's recorded worker id, never displayed to users.
func currentGoroutineID() uint64 {
	bufp := goroutineIDBufPool.Get().(*[]byte)
	defer goroutineIDBufPool.Put(bufp)

	buf := *bufp
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}
	*bufp = buf

	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	idx := bytes.IndexByte(buf, ' ')
	if idx < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(buf[:idx]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
