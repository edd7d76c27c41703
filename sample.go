package samplebuffer

import "math"

// ReadResult Read的返回值
type ReadResult int

const (
	// ResultNothing 没有可读的数据
	ResultNothing = ReadResult(iota)

	// ResultFormat 读到格式, 样本数据留到下次读取
	ResultFormat

	// ResultBuffer 读到样本或者流结束标记
	ResultBuffer
)

// PeekResult PeekNext的返回值, 不移动读游标
type PeekResult int

const (
	PeekNothing = PeekResult(iota)

	PeekFormat

	PeekBufferClear

	PeekBufferEncrypted
)

// Flags 样本标记
type Flags uint32

const (
	// FlagKeyFrame 关键帧, 不依赖之前的样本即可解码
	FlagKeyFrame = Flags(1 << iota)

	// FlagEncrypted 样本数据前携带子样本加密布局
	FlagEncrypted

	// FlagLastSample 流的最后一个样本
	FlagLastSample

	// FlagEndOfStream 流结束, 由读取端合成, 不对应实际样本
	FlagEndOfStream

	// FlagDecodeOnly 样本只解码不渲染
	FlagDecodeOnly
)

const (
	// AdvanceFailed 移动读游标失败
	AdvanceFailed = -1

	// PositionUnset 无效的绝对字节偏移
	PositionUnset = int64(-1)

	// TimeUnset 无效时间戳
	TimeUnset = int64(math.MinInt64)
)

// SampleBuffer 消费端读取样本的载体, Data按需扩容后复用
type SampleBuffer struct {
	Data   []byte
	TimeUs int64
	Flags  Flags

	// FlagsOnly 只填充标记和时间戳, 不拷贝样本数据, 读游标不前进
	FlagsOnly bool

	CryptoInfo CryptoInfo
}

func (b *SampleBuffer) Clear() {
	b.Data = b.Data[:0]
	b.TimeUs = 0
	b.Flags = 0
}

func (b *SampleBuffer) IsKeyFrame() bool {
	return b.Flags&FlagKeyFrame != 0
}

func (b *SampleBuffer) IsEncrypted() bool {
	return b.Flags&FlagEncrypted != 0
}

func (b *SampleBuffer) IsEndOfStream() bool {
	return b.Flags&FlagEndOfStream != 0
}

func (b *SampleBuffer) IsDecodeOnly() bool {
	return b.Flags&FlagDecodeOnly != 0
}

// ensureSpace 保证Data至少可容纳size字节, 返回长度为size的写入窗口
func (b *SampleBuffer) ensureSpace(size int) []byte {
	if cap(b.Data) < size {
		b.Data = make([]byte, size)
	} else {
		b.Data = b.Data[:size]
	}

	return b.Data
}

// FormatHolder 读到格式时的输出载体
type FormatHolder struct {
	Format *Format

	// DrmSession 格式生效后持有的会话引用, 未配置内容保护时为nil
	DrmSession DrmSession
}
