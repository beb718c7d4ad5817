package buffer

import "sync"

const (
	frameCap     = 16 * 1024 // пакет с T до ~8000 байт (2 байта на слот)
	maxPooledCap = 128 * 1024
)

// framePool - pool буферов кадров, чтобы не аллоцировать на каждый символ
var framePool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, 0, frameCap)
		return &b
	},
}

// Frame holds one framed data packet between framing and transmission. It has a single
// owner; Release hands the storage back to the pool.
type Frame struct {
	b *[]byte
}

func GetFrame() *Frame {
	return &Frame{b: framePool.Get().(*[]byte)}
}

// Encode runs fn over the emptied storage (fn appends the packet, e.g. packet.AppendData)
// and keeps what it returns.
func (f *Frame) Encode(fn func(dst []byte) []byte) []byte {
	if f.b == nil {
		b := make([]byte, 0, frameCap)
		f.b = &b
	}
	*f.b = fn((*f.b)[:0])
	return *f.b
}

// Bytes returns the framed packet, nil after Release.
func (f *Frame) Bytes() []byte {
	if f.b == nil {
		return nil
	}
	return *f.b
}

// Release возвращает буфер в pool; повторный вызов ничего не делает
func (f *Frame) Release() {
	if f.b == nil {
		return
	}
	// выросшие буферы не держим в pool'е
	if cap(*f.b) <= maxPooledCap {
		*f.b = (*f.b)[:0]
		framePool.Put(f.b)
	}
	f.b = nil
}
