// Package ring 提供容量固定的环形字节缓冲，暂存尚未遇到分隔符的入站字节。
package ring

import "bytes"

// Buffer 的容量是 2 的幂，下标用掩码回绕。head/tail 单调增长，只在清空时归零。
// 只在 Mux.Update 所在的逻辑线程中使用，不加锁。
type Buffer struct {
	data []byte
	mask int
	head int // 读
	tail int // 写
}

// New 返回容量不小于 size 的缓冲（向上取 2 的幂）。
func New(size int) *Buffer {
	n := 1
	for n < size {
		n <<= 1
	}
	return &Buffer{data: make([]byte, n), mask: n - 1}
}

func (b *Buffer) Cap() int  { return len(b.data) }
func (b *Buffer) Len() int  { return b.tail - b.head }
func (b *Buffer) Free() int { return len(b.data) - b.Len() }
func (b *Buffer) Full() bool {
	return b.Len() == len(b.data)
}

// segments 返回已缓存字节的两段视图；未回绕时第二段为空。
func (b *Buffer) segments() ([]byte, []byte) {
	n := b.Len()
	if n == 0 {
		return nil, nil
	}
	start := b.head & b.mask
	if start+n <= len(b.data) {
		return b.data[start : start+n], nil
	}
	return b.data[start:], b.data[:start+n-len(b.data)]
}

// Fill 写入 p 中能容纳的前缀，返回写入的字节数。
func (b *Buffer) Fill(p []byte) int {
	n := min(len(p), b.Free())
	if n == 0 {
		return 0
	}
	at := b.tail & b.mask
	k := copy(b.data[at:], p[:n])
	copy(b.data, p[k:n])
	b.tail += n
	return n
}

// IndexByte 返回 c 相对读位置的偏移，不存在返回 -1。
func (b *Buffer) IndexByte(c byte) int {
	first, second := b.segments()
	if i := bytes.IndexByte(first, c); i >= 0 {
		return i
	}
	if i := bytes.IndexByte(second, c); i >= 0 {
		return len(first) + i
	}
	return -1
}

// View 返回前 n 字节的连续视图；跨越回绕点时拷贝。视图在下一次 Fill 前有效。
func (b *Buffer) View(n int) []byte {
	n = min(n, b.Len())
	if n <= 0 {
		return nil
	}
	first, second := b.segments()
	if n <= len(first) {
		return first[:n]
	}
	out := make([]byte, n)
	k := copy(out, first)
	copy(out[k:], second)
	return out
}

// Skip 丢弃前 n 字节。
func (b *Buffer) Skip(n int) {
	b.head += min(n, b.Len())
	if b.head == b.tail {
		b.Reset()
	}
}

func (b *Buffer) Reset() { b.head, b.tail = 0, 0 }
