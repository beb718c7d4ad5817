package buffer

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"raptorcast/internal/utils"
)

var ErrWriterClosed = errors.New("buffer: writer closed")

// OrderedFileWriter accumulates recovered chunks and writes them in large blocks from a
// single worker goroutine, so the file receives the bytes in Write order.
type OrderedFileWriter struct {
	out     io.Writer
	closer  io.Closer
	buffer  []byte
	bufSize int

	mu        sync.Mutex
	writeChan chan writeJob
	closed    bool

	errMu sync.Mutex
	err   error // первая ошибка записи воркера

	totalBytes  int64
	writeTime   int64
	workersDone sync.WaitGroup
}

type writeJob struct {
	data []byte
	ack  chan struct{} // не nil для Flush
}

// NewOrderedFileWriter creates filename ("-" = stdout) with a buffer of bufferSize bytes.
func NewOrderedFileWriter(filename string, bufferSize int) (*OrderedFileWriter, error) {
	if filename == "-" {
		return NewOrderedWriter(os.Stdout, nil, bufferSize), nil
	}
	file, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return NewOrderedWriter(file, file, bufferSize), nil
}

// NewOrderedWriter wraps out; closer, if set, is closed by Close.
func NewOrderedWriter(out io.Writer, closer io.Closer, bufferSize int) *OrderedFileWriter {
	if bufferSize <= 0 {
		bufferSize = 1024 * 1024 // 1MB по умолчанию
	}
	w := &OrderedFileWriter{
		out:       out,
		closer:    closer,
		buffer:    make([]byte, 0, bufferSize),
		bufSize:   bufferSize,
		writeChan: make(chan writeJob, 16),
	}
	w.workersDone.Add(1)
	go w.writeWorker()
	return w
}

// Write копирует данные в буфер и отдает полный буфер воркеру
func (w *OrderedFileWriter) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrWriterClosed
	}

	written := 0
	for written < len(data) {
		n := w.bufSize - len(w.buffer)
		if n > len(data)-written {
			n = len(data) - written
		}
		w.buffer = append(w.buffer, data[written:written+n]...)
		written += n
		if len(w.buffer) >= w.bufSize {
			w.sendBufferLocked()
		}
	}
	return written, nil
}

func (w *OrderedFileWriter) writeWorker() {
	defer w.workersDone.Done()
	for job := range w.writeChan {
		if len(job.data) > 0 {
			start := time.Now()
			n, err := w.out.Write(job.data)
			atomic.AddInt64(&w.writeTime, int64(time.Since(start)))
			atomic.AddInt64(&w.totalBytes, int64(n))
			if err != nil {
				utils.DebugLog("[WRITER] Write error: %v", err)
				w.errMu.Lock()
				if w.err == nil {
					w.err = err
				}
				w.errMu.Unlock()
			}
		}
		if job.ack != nil {
			close(job.ack)
		}
	}
}

func (w *OrderedFileWriter) sendBufferLocked() {
	if len(w.buffer) == 0 {
		return
	}
	data := make([]byte, len(w.buffer))
	copy(data, w.buffer)
	w.writeChan <- writeJob{data: data}
	w.buffer = w.buffer[:0]
}

// Flush отправляет остаток буфера и ждет, пока воркер его запишет
func (w *OrderedFileWriter) Flush() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrWriterClosed
	}
	w.sendBufferLocked()
	ack := make(chan struct{})
	w.writeChan <- writeJob{ack: ack}
	w.mu.Unlock()

	<-ack
	return w.Err()
}

// Err returns the first error reported by the worker.
func (w *OrderedFileWriter) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// Written is the number of bytes that reached the underlying writer.
func (w *OrderedFileWriter) Written() int64 {
	return atomic.LoadInt64(&w.totalBytes)
}

// GetWriteSpeed returns the write speed in MB/s measured over time spent in Write.
func (w *OrderedFileWriter) GetWriteSpeed() float64 {
	total := atomic.LoadInt64(&w.totalBytes)
	spent := time.Duration(atomic.LoadInt64(&w.writeTime))
	if spent.Seconds() > 0 {
		return float64(total) / spent.Seconds() / (1024 * 1024)
	}
	return 0
}

// Close flushes remaining data, stops the worker and closes the file.
func (w *OrderedFileWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.sendBufferLocked()
	w.closed = true
	close(w.writeChan)
	w.mu.Unlock()

	w.workersDone.Wait()
	err := w.Err()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
