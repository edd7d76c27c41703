package collections

import "github.com/lkmio/samplebuffer/utils"

// Deque 基于环形缓冲区的双端队列, 容量不足时翻倍扩容
// 按距离头部的偏移随机访问, 支持从两端批量弹出
type Deque[T any] struct {
	data []T
	head int
	size int
}

func NewDeque[T any](capacity int) *Deque[T] {
	utils.Assert(capacity > 0)

	return &Deque[T]{data: make([]T, capacity)}
}

func (d *Deque[T]) grow() {
	newData := make([]T, len(d.data)*2)
	n := copy(newData, d.data[d.head:])
	copy(newData[n:], d.data[:d.head])

	d.data = newData
	d.head = 0
}

func (d *Deque[T]) PushBack(value T) {
	if d.size == len(d.data) {
		d.grow()
	}

	d.data[(d.head+d.size)%len(d.data)] = value
	d.size++
}

func (d *Deque[T]) Get(index int) T {
	utils.Assert(index >= 0 && index < d.size)

	return d.data[(d.head+index)%len(d.data)]
}

// PopFront 从头部弹出count个元素, 弹出的槽位清零以释放引用
func (d *Deque[T]) PopFront(count int) {
	utils.Assert(count >= 0 && count <= d.size)

	var zero T
	for i := 0; i < count; i++ {
		d.data[d.head] = zero
		d.head = (d.head + 1) % len(d.data)
	}

	d.size -= count
	if d.size == 0 {
		d.head = 0
	}
}

// PopBack 从尾部弹出count个元素
func (d *Deque[T]) PopBack(count int) {
	utils.Assert(count >= 0 && count <= d.size)

	var zero T
	for i := 0; i < count; i++ {
		d.data[(d.head+d.size-1-i)%len(d.data)] = zero
	}

	d.size -= count
	if d.size == 0 {
		d.head = 0
	}
}

func (d *Deque[T]) Size() int {
	return d.size
}

func (d *Deque[T]) Clear() {
	var zero T
	for i := 0; i < d.size; i++ {
		d.data[(d.head+i)%len(d.data)] = zero
	}

	d.head = 0
	d.size = 0
}
