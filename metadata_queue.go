package samplebuffer

import (
	"sync"

	"github.com/lkmio/samplebuffer/collections"
	"github.com/lkmio/samplebuffer/libbufio"
	"github.com/lkmio/samplebuffer/utils"
)

// sampleRecord 一条样本元数据, 按提交顺序入队
type sampleRecord struct {
	sourceID int
	timeUs   int64
	flags    Flags
	size     int
	offset   int64 // 样本数据在RollingBuffer中的起始绝对偏移
	crypto   *CryptoData
	format   *Format // 样本生效的格式, 多个样本共享同一个指针
}

// SampleExtras 读到样本后, 从RollingBuffer拷贝数据所需的寻址信息
type SampleExtras struct {
	size   int
	offset int64
	crypto *CryptoData
}

// SampleMetadataQueue 样本元数据队列, 以单调递增的绝对索引寻址
// 写侧只归加载线程, 读游标和下游丢弃只归消费线程
// 所有公开方法持有互斥锁, 跨线程可见性由锁保证
type SampleMetadataQueue struct {
	mutex sync.Mutex

	records *collections.Deque[sampleRecord]

	absoluteFirstIndex int
	readPosition       int // 相对absoluteFirstIndex

	// 加载线程
	upstreamFormat           *Format
	upstreamSourceID         int
	upstreamFormatRequired   bool
	upstreamKeyframeRequired bool

	largestDiscardedTimestampUs int64
	largestQueuedTimestampUs    int64
	isLastSampleQueued          bool
}

func NewSampleMetadataQueue() *SampleMetadataQueue {
	q := &SampleMetadataQueue{records: collections.NewDeque[sampleRecord](32)}
	q.Reset(true)
	return q
}

func (q *SampleMetadataQueue) Reset(resetUpstreamFormat bool) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.records.Clear()
	q.absoluteFirstIndex = 0
	q.readPosition = 0
	q.upstreamKeyframeRequired = true
	q.largestDiscardedTimestampUs = TimeUnset
	q.largestQueuedTimestampUs = TimeUnset
	q.isLastSampleQueued = false

	if resetUpstreamFormat {
		q.upstreamFormat = nil
		q.upstreamFormatRequired = true
	}
}

// SetFormat 记录对后续样本生效的格式, 返回是否与当前待生效格式不同
func (q *SampleMetadataQueue) SetFormat(format *Format) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if format == nil {
		q.upstreamFormatRequired = true
		return false
	}

	q.upstreamFormatRequired = false
	if format.Equal(q.upstreamFormat) {
		return false
	}

	q.upstreamFormat = format
	return true
}

// CommitSample 在写索引处追加一条样本记录
// 重置后的首个样本必须是关键帧, 否则丢弃
func (q *SampleMetadataQueue) CommitSample(timeUs int64, flags Flags, offset int64, size int, crypto *CryptoData) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.upstreamKeyframeRequired {
		if flags&FlagKeyFrame == 0 {
			return
		}
		q.upstreamKeyframeRequired = false
	}

	utils.Assert(!q.upstreamFormatRequired)

	q.largestQueuedTimestampUs = libbufio.MaxInt64(q.largestQueuedTimestampUs, timeUs)
	q.isLastSampleQueued = flags&FlagLastSample != 0
	q.records.PushBack(sampleRecord{
		sourceID: q.upstreamSourceID,
		timeUs:   timeUs,
		flags:    flags,
		size:     size,
		offset:   offset,
		crypto:   crypto,
		format:   q.upstreamFormat,
	})
}

// AttemptSplice 丢弃读游标之后时间戳不小于timeUs的未读样本, 为拼接新片段腾出队尾
// 已读样本的时间戳达到timeUs时拼接失败
func (q *SampleMetadataQueue) AttemptSplice(timeUs int64) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.records.Size() == 0 {
		return timeUs > q.largestDiscardedTimestampUs
	}

	largestReadTimestampUs := libbufio.MaxInt64(q.largestDiscardedTimestampUs, q.getLargestTimestamp(q.readPosition))
	if largestReadTimestampUs >= timeUs {
		return false
	}

	retainCount := q.records.Size()
	for retainCount > q.readPosition && q.records.Get(retainCount-1).timeUs >= timeUs {
		retainCount--
	}

	q.discardUpstreamSamples(q.absoluteFirstIndex + retainCount)
	return true
}

// DiscardUpstreamSamples 从写侧丢弃绝对索引不小于discardFromIndex的样本
// 返回丢弃后写侧应回退到的绝对字节偏移, 没有丢弃任何样本时返回PositionUnset
func (q *SampleMetadataQueue) DiscardUpstreamSamples(discardFromIndex int) int64 {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.discardUpstreamSamples(discardFromIndex)
}

func (q *SampleMetadataQueue) discardUpstreamSamples(discardFromIndex int) int64 {
	discardCount := q.writeIndex() - discardFromIndex
	utils.Assert(discardCount >= 0 && discardCount <= q.records.Size()-q.readPosition)

	if discardCount == 0 {
		return PositionUnset
	}

	first := q.records.Get(q.records.Size() - discardCount)
	q.records.PopBack(discardCount)
	q.largestQueuedTimestampUs = libbufio.MaxInt64(q.largestDiscardedTimestampUs, q.getLargestTimestamp(q.records.Size()))
	q.isLastSampleQueued = false

	if n := q.records.Size(); n > 0 {
		last := q.records.Get(n - 1)
		return last.offset + int64(last.size)
	}

	return first.offset
}

// Read 核心读取协议
// 1. 读游标处的格式尚未下发, 或者formatRequired置位, 返回格式
// 2. 没有可读样本时返回ResultNothing, 加载结束后合成流结束标记
// 3. allowOnlyClearBuffers置位时跳过加密样本
// 4. 其余情况填充样本元数据并前移读游标
func (q *SampleMetadataQueue) Read(formatHolder *FormatHolder, buffer *SampleBuffer,
	formatRequired, allowOnlyClearBuffers, loadingFinished bool,
	downstreamFormat *Format, extras *SampleExtras) ReadResult {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if !q.hasNextSample() {
		if loadingFinished || q.isLastSampleQueued {
			buffer.Clear()
			buffer.TimeUs = TimeUnset
			buffer.Flags = FlagEndOfStream
			return ResultBuffer
		} else if q.upstreamFormat != nil && (formatRequired || q.upstreamFormat != downstreamFormat) {
			formatHolder.Format = q.upstreamFormat
			return ResultFormat
		}

		return ResultNothing
	}

	record := q.records.Get(q.readPosition)
	if formatRequired || record.format != downstreamFormat {
		// 格式变更先于其所属的样本下发, 且只下发一次
		formatHolder.Format = record.format
		return ResultFormat
	}

	if allowOnlyClearBuffers && record.flags&FlagEncrypted != 0 {
		return ResultNothing
	}

	buffer.TimeUs = record.timeUs
	buffer.Flags = record.flags
	if buffer.FlagsOnly {
		return ResultBuffer
	}

	extras.size = record.size
	extras.offset = record.offset
	extras.crypto = record.crypto
	q.readPosition++
	return ResultBuffer
}

// PeekNext 回答读游标处是否有数据就绪, 不改变任何状态
func (q *SampleMetadataQueue) PeekNext(downstreamFormat *Format) PeekResult {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if !q.hasNextSample() {
		if q.upstreamFormat == nil || q.upstreamFormat == downstreamFormat {
			return PeekNothing
		}

		return PeekFormat
	}

	record := q.records.Get(q.readPosition)
	if record.format != downstreamFormat {
		return PeekFormat
	}

	if record.flags&FlagEncrypted != 0 {
		return PeekBufferEncrypted
	}

	return PeekBufferClear
}

// findSampleBefore 从startIndex起最多检查length条记录, 返回时间戳不超过timeUs的
// 最后一条记录相对startIndex的偏移, 不存在返回-1
func (q *SampleMetadataQueue) findSampleBefore(startIndex, length int, timeUs int64, toKeyframe bool) int {
	target := -1
	for i := 0; i < length; i++ {
		record := q.records.Get(startIndex + i)
		if record.timeUs > timeUs {
			break
		}

		if !toKeyframe || record.flags&FlagKeyFrame != 0 {
			target = i
		}
	}

	return target
}

// getLargestTimestamp 前n条记录的最大时间戳. 时间戳在关键帧之后才可能乱序,
// 从后向前扫到关键帧即可停止
func (q *SampleMetadataQueue) getLargestTimestamp(n int) int64 {
	largest := TimeUnset
	for i := n - 1; i >= 0; i-- {
		record := q.records.Get(i)
		largest = libbufio.MaxInt64(largest, record.timeUs)
		if record.flags&FlagKeyFrame != 0 {
			break
		}
	}

	return largest
}

// AdvanceTo 读游标前移到时间戳不超过timeUs的最后一个样本
func (q *SampleMetadataQueue) AdvanceTo(timeUs int64, toKeyframe, allowTimeBeyondBuffer bool) int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if !q.hasNextSample() || timeUs < q.records.Get(q.readPosition).timeUs ||
		(timeUs > q.largestQueuedTimestampUs && !allowTimeBeyondBuffer) {
		return AdvanceFailed
	}

	offset := q.findSampleBefore(q.readPosition, q.records.Size()-q.readPosition, timeUs, toKeyframe)
	if offset == -1 {
		return AdvanceFailed
	}

	q.readPosition += offset
	return offset
}

// AdvanceToEnd 读游标前移到写索引, 返回跳过的样本数
func (q *SampleMetadataQueue) AdvanceToEnd() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	skipped := q.records.Size() - q.readPosition
	q.readPosition = q.records.Size()
	return skipped
}

// SetReadPosition 读游标定位到绝对索引, 越界返回false
func (q *SampleMetadataQueue) SetReadPosition(sampleIndex int) bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if sampleIndex < q.absoluteFirstIndex || sampleIndex > q.writeIndex() {
		return false
	}

	q.readPosition = sampleIndex - q.absoluteFirstIndex
	return true
}

func (q *SampleMetadataQueue) Rewind() {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.readPosition = 0
}

// discardSamples 从头部丢弃count条记录, 返回丢弃后最早仍被引用的绝对字节偏移
func (q *SampleMetadataQueue) discardSamples(count int) int64 {
	utils.Assert(count >= 0 && count <= q.records.Size())

	if count == 0 {
		if q.records.Size() == 0 {
			return PositionUnset
		}

		return q.records.Get(0).offset
	}

	q.largestDiscardedTimestampUs = libbufio.MaxInt64(q.largestDiscardedTimestampUs, q.getLargestTimestamp(count))
	lastDiscarded := q.records.Get(count - 1)

	q.records.PopFront(count)
	q.absoluteFirstIndex += count
	q.readPosition = libbufio.MaxInt(0, q.readPosition-count)

	if q.records.Size() == 0 {
		return lastDiscarded.offset + int64(lastDiscarded.size)
	}

	return q.records.Get(0).offset
}

// DiscardTo 从头部丢弃到timeUs之前(不含目标样本), 返回RollingBuffer可释放到的偏移
func (q *SampleMetadataQueue) DiscardTo(timeUs int64, toKeyframe, stopAtReadPosition bool) int64 {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	n := q.records.Size()
	if n == 0 || timeUs < q.records.Get(0).timeUs {
		return PositionUnset
	}

	searchLength := n
	if stopAtReadPosition && q.readPosition != n {
		searchLength = q.readPosition + 1
	}

	discardCount := q.findSampleBefore(0, searchLength, timeUs, toKeyframe)
	if discardCount == -1 {
		return PositionUnset
	}

	return q.discardSamples(discardCount)
}

func (q *SampleMetadataQueue) DiscardToRead() int64 {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.readPosition == 0 {
		return PositionUnset
	}

	return q.discardSamples(q.readPosition)
}

func (q *SampleMetadataQueue) DiscardToEnd() int64 {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.records.Size() == 0 {
		return PositionUnset
	}

	return q.discardSamples(q.records.Size())
}

func (q *SampleMetadataQueue) hasNextSample() bool {
	return q.readPosition != q.records.Size()
}

func (q *SampleMetadataQueue) HasNextSample() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.hasNextSample()
}

func (q *SampleMetadataQueue) FirstIndex() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.absoluteFirstIndex
}

func (q *SampleMetadataQueue) ReadIndex() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.absoluteFirstIndex + q.readPosition
}

func (q *SampleMetadataQueue) writeIndex() int {
	return q.absoluteFirstIndex + q.records.Size()
}

func (q *SampleMetadataQueue) WriteIndex() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.writeIndex()
}

func (q *SampleMetadataQueue) FirstTimestampUs() int64 {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if q.records.Size() == 0 {
		return TimeUnset
	}

	return q.records.Get(0).timeUs
}

// LargestQueuedTimestampUs 入过队的最大时间戳, 不含写侧丢弃的样本, 含已读样本
func (q *SampleMetadataQueue) LargestQueuedTimestampUs() int64 {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.largestQueuedTimestampUs
}

func (q *SampleMetadataQueue) IsLastSampleQueued() bool {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.isLastSampleQueued
}

func (q *SampleMetadataQueue) SourceID(sourceID int) {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	q.upstreamSourceID = sourceID
}

// PeekSourceID 下一个待读样本的源标识, 队列空时返回写侧当前的源标识
func (q *SampleMetadataQueue) PeekSourceID() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	if !q.hasNextSample() {
		return q.upstreamSourceID
	}

	return q.records.Get(q.readPosition).sourceID
}

func (q *SampleMetadataQueue) UpstreamFormat() *Format {
	q.mutex.Lock()
	defer q.mutex.Unlock()

	return q.upstreamFormat
}
