package samplebuffer

import (
	"sync"

	"github.com/lkmio/samplebuffer/log"
	"github.com/lkmio/samplebuffer/utils"
)

// Allocation 池中一块固定长度内存, 同一时刻最多被一个持有者引用
// Data中有效区间从Offset开始, 长度为池的单块长度
type Allocation struct {
	Data   []byte
	Offset int
}

// Allocator 内存池. 加载线程和消费线程都会释放内存块, 实现必须线程安全
type Allocator interface {
	Allocate() *Allocation

	Release(allocation *Allocation)

	// ReleaseAll 批量释放, 只加一次锁
	ReleaseAll(allocations []*Allocation)

	IndividualAllocationLength() int

	// Trim 回收超出保留目标的空闲内存块
	Trim()
}

// DefaultAllocator 空闲链表实现的内存池, 释放的内存块优先复用
type DefaultAllocator struct {
	mutex sync.Mutex

	allocationLength      int
	targetAllocationCount int
	allocatedCount        int
	available             []*Allocation
}

func NewDefaultAllocator(allocationLength int) *DefaultAllocator {
	utils.Assert(allocationLength > 0)

	return &DefaultAllocator{allocationLength: allocationLength}
}

func (d *DefaultAllocator) Allocate() *Allocation {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.allocatedCount++
	if n := len(d.available); n > 0 {
		allocation := d.available[n-1]
		d.available[n-1] = nil
		d.available = d.available[:n-1]
		return allocation
	}

	return &Allocation{Data: make([]byte, d.allocationLength)}
}

func (d *DefaultAllocator) Release(allocation *Allocation) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.release(allocation)
}

func (d *DefaultAllocator) ReleaseAll(allocations []*Allocation) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	for _, allocation := range allocations {
		d.release(allocation)
	}
}

func (d *DefaultAllocator) release(allocation *Allocation) {
	utils.Assert(allocation != nil && len(allocation.Data) >= allocation.Offset+d.allocationLength)

	d.allocatedCount--
	utils.Assert(d.allocatedCount >= 0)
	d.available = append(d.available, allocation)
}

func (d *DefaultAllocator) IndividualAllocationLength() int {
	return d.allocationLength
}

// SetTargetBufferSize 设置池的保留内存目标, Trim时超出的空闲内存块交还GC
func (d *DefaultAllocator) SetTargetBufferSize(targetBufferSize int) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.targetAllocationCount = (targetBufferSize + d.allocationLength - 1) / d.allocationLength
}

func (d *DefaultAllocator) Trim() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	released := 0
	for len(d.available) > 0 && d.allocatedCount+len(d.available) > d.targetAllocationCount {
		n := len(d.available)
		d.available[n-1] = nil
		d.available = d.available[:n-1]
		released++
	}

	if released > 0 {
		log.Sugar.Debugf("回收空闲内存块 count:%d size:%d", released, released*d.allocationLength)
	}
}

// TotalBytesAllocated 在用内存总量
func (d *DefaultAllocator) TotalBytesAllocated() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return d.allocatedCount * d.allocationLength
}
