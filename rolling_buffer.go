package samplebuffer

import (
	"io"
	"sync"

	"github.com/lkmio/samplebuffer/libbufio"
	"github.com/lkmio/samplebuffer/utils"
)

// RollingBuffer 基于内存池的滚动字节缓冲区, 以单调递增的绝对偏移寻址
// 内存块按序覆盖[basePosition, writePosition)区间, 等长且无空洞
// 写侧只归加载线程, 读取和丢弃只归消费线程. 块表和游标由互斥锁保护,
// 写入窗口内的字节拷贝在锁外进行, 由CommitWrite对消费线程发布
// 写块的内存在首次写入时才向池申请, 后继块按需追加
type RollingBuffer struct {
	mutex sync.Mutex

	allocator        Allocator
	allocationLength int

	blocks        []*Allocation
	basePosition  int64 // blocks[0]的起始绝对偏移
	writePosition int64 // 下一个写入字节的绝对偏移
}

func NewRollingBuffer(allocator Allocator) *RollingBuffer {
	return &RollingBuffer{
		allocator:        allocator,
		allocationLength: allocator.IndividualAllocationLength(),
	}
}

// blockAt 绝对偏移所在的内存块和块内偏移, 调用方持有锁
func (r *RollingBuffer) blockAt(position int64) (*Allocation, int) {
	index := int((position - r.basePosition) / int64(r.allocationLength))
	block := r.blocks[index]
	return block, block.Offset + int(position-r.basePosition-int64(index)*int64(r.allocationLength))
}

// Append 返回一个最长length字节的写入窗口, 窗口不跨内存块
// 写满当前块后需要重新Append. 写入后调用CommitWrite提交
func (r *RollingBuffer) Append(length int) []byte {
	utils.Assert(length > 0)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.writePosition == r.basePosition+int64(len(r.blocks))*int64(r.allocationLength) {
		r.blocks = append(r.blocks, r.allocator.Allocate())
	}

	block, offset := r.blockAt(r.writePosition)
	spaceLeft := r.allocationLength - (offset - block.Offset)
	return block.Data[offset : offset+libbufio.MinInt(length, spaceLeft)]
}

func (r *RollingBuffer) CommitWrite(n int) {
	utils.Assert(n >= 0)

	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.writePosition += int64(n)
	utils.Assert(r.writePosition <= r.basePosition+int64(len(r.blocks))*int64(r.allocationLength))
}

func (r *RollingBuffer) Write(data []byte) {
	for len(data) > 0 {
		window := r.Append(len(data))
		n := copy(window, data)
		r.CommitWrite(n)
		data = data[n:]
	}
}

// ReadFrom 从字节源读入写入窗口, 单次最多填满当前写块
func (r *RollingBuffer) ReadFrom(source io.Reader, length int) (int, error) {
	window := r.Append(length)
	n, err := source.Read(window)
	if n > 0 {
		r.CommitWrite(n)
	}

	return n, err
}

// ReadBytes 从绝对偏移拷贝len(target)字节, 跨块对调用者透明
// 读取未写入或者已丢弃的区间属于调用方错误
func (r *RollingBuffer) ReadBytes(position int64, target []byte) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	utils.Assert(position >= r.basePosition)
	utils.Assert(position+int64(len(target)) <= r.writePosition)

	remaining := len(target)
	for remaining > 0 {
		block, offset := r.blockAt(position)
		toCopy := libbufio.MinInt(remaining, r.allocationLength-(offset-block.Offset))
		copy(target[len(target)-remaining:], block.Data[offset:offset+toCopy])

		remaining -= toCopy
		position += int64(toCopy)
	}
}

// DiscardTo 释放结束偏移不超过position的所有内存块
func (r *RollingBuffer) DiscardTo(position int64) {
	if position == PositionUnset {
		return
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	utils.Assert(position <= r.writePosition)
	if position <= r.basePosition {
		return
	}

	count := int((position - r.basePosition) / int64(r.allocationLength))
	if count == 0 {
		return
	}

	r.allocator.ReleaseAll(r.blocks[:count])
	for i := 0; i < count; i++ {
		r.blocks[i] = nil
	}

	r.blocks = r.blocks[count:]
	r.basePosition += int64(count) * int64(r.allocationLength)
}

// TruncateWrite 写侧回退到position, 丢弃position所在块之后的所有内存块
// 后继块重新变为未初始化状态, 由下次Append申请
func (r *RollingBuffer) TruncateWrite(position int64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	utils.Assert(position >= r.basePosition && position <= r.writePosition)

	r.writePosition = position

	keep := int((position - r.basePosition + int64(r.allocationLength) - 1) / int64(r.allocationLength))
	if keep < len(r.blocks) {
		r.allocator.ReleaseAll(r.blocks[keep:])
		for i := keep; i < len(r.blocks); i++ {
			r.blocks[i] = nil
		}

		r.blocks = r.blocks[:keep]
	}
}

// Reset 释放全部内存块并重新设置基准偏移, 同时让池回收空闲内存
func (r *RollingBuffer) Reset(basePosition int64) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if len(r.blocks) > 0 {
		r.allocator.ReleaseAll(r.blocks)
		for i := range r.blocks {
			r.blocks[i] = nil
		}
	}

	r.blocks = nil
	r.basePosition = basePosition
	r.writePosition = basePosition
	r.allocator.Trim()
}

// FirstPosition 仍被缓存的最早字节的绝对偏移
func (r *RollingBuffer) FirstPosition() int64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.basePosition
}

// WritePosition 下一个写入字节的绝对偏移, 即已写入的总字节数
func (r *RollingBuffer) WritePosition() int64 {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.writePosition
}
