package samplebuffer

import (
	"testing"

	"github.com/lkmio/samplebuffer/utils"
)

// commitSamples 以固定大小连续提交样本, 时间戳间隔10ms
func commitSamples(q *SampleMetadataQueue, count int, size int, flags Flags) {
	base := q.WriteIndex()
	for i := 0; i < count; i++ {
		q.CommitSample(int64(base+i)*10, flags, int64(base+i)*int64(size), size, nil)
	}
}

func checkIndicesInvariant(q *SampleMetadataQueue) {
	utils.Assert(q.FirstIndex() <= q.ReadIndex() && q.ReadIndex() <= q.WriteIndex())
}

func TestMetadataQueueAdvanceTo(t *testing.T) {
	q := NewSampleMetadataQueue()
	q.SetFormat(&Format{ID: "a"})
	commitSamples(q, 5, 100, FlagKeyFrame)

	// 时间戳[0,10,20,30,40], 移动到25处应停在20
	skipped := q.AdvanceTo(25, true, false)
	utils.Assert(skipped == 2)
	utils.Assert(q.ReadIndex() == 2)
	checkIndicesInvariant(q)

	// 超出队尾且不允许越界
	utils.Assert(q.AdvanceTo(100, false, false) == AdvanceFailed)

	// 允许越界时停在最后一个样本
	skipped = q.AdvanceTo(100, false, true)
	utils.Assert(skipped == 2)
	utils.Assert(q.ReadIndex() == 4)

	// 向前移动失败
	utils.Assert(q.AdvanceTo(0, false, false) == AdvanceFailed)
	checkIndicesInvariant(q)
}

func TestMetadataQueueAdvanceToEnd(t *testing.T) {
	q := NewSampleMetadataQueue()
	q.SetFormat(&Format{ID: "a"})
	commitSamples(q, 4, 100, FlagKeyFrame)

	utils.Assert(q.AdvanceToEnd() == 4)
	utils.Assert(q.ReadIndex() == q.WriteIndex())
	utils.Assert(q.AdvanceToEnd() == 0)

	utils.Assert(q.SetReadPosition(2))
	utils.Assert(q.ReadIndex() == 2)
	utils.Assert(!q.SetReadPosition(5))
	utils.Assert(!q.SetReadPosition(-1))

	q.Rewind()
	utils.Assert(q.ReadIndex() == 0)
	checkIndicesInvariant(q)
}

func TestMetadataQueueDiscardUpstream(t *testing.T) {
	q := NewSampleMetadataQueue()
	q.SetFormat(&Format{ID: "a"})
	commitSamples(q, 5, 100, FlagKeyFrame)

	position := q.DiscardUpstreamSamples(3)
	utils.Assert(position == 300)
	utils.Assert(q.WriteIndex() == 3)
	utils.Assert(q.LargestQueuedTimestampUs() == 20)

	// 没有样本被丢弃
	utils.Assert(q.DiscardUpstreamSamples(3) == PositionUnset)

	// 全部未读样本丢弃后, 回退到首个被丢弃样本的偏移
	position = q.DiscardUpstreamSamples(0)
	utils.Assert(position == 0)
	utils.Assert(q.WriteIndex() == 0)
	checkIndicesInvariant(q)
}

func TestMetadataQueueDiscardTo(t *testing.T) {
	q := NewSampleMetadataQueue()
	q.SetFormat(&Format{ID: "a"})

	// 每隔两个样本一个关键帧
	for i := 0; i < 6; i++ {
		flags := Flags(0)
		if i%2 == 0 {
			flags = FlagKeyFrame
		}
		q.CommitSample(int64(i)*10, flags, int64(i)*100, 100, nil)
	}

	q.AdvanceToEnd()

	// 丢弃到35, 约束到关键帧则停在20
	position := q.DiscardTo(35, true, false)
	utils.Assert(position == 200)
	utils.Assert(q.FirstIndex() == 2)

	// 不约束关键帧, 丢弃到30
	position = q.DiscardTo(35, false, false)
	utils.Assert(position == 300)
	utils.Assert(q.FirstIndex() == 3)

	// 时间戳早于队首
	utils.Assert(q.DiscardTo(5, false, false) == PositionUnset)
	checkIndicesInvariant(q)
}

func TestMetadataQueueDiscardToRead(t *testing.T) {
	q := NewSampleMetadataQueue()
	q.SetFormat(&Format{ID: "a"})
	commitSamples(q, 5, 100, FlagKeyFrame)

	utils.Assert(q.DiscardToRead() == PositionUnset)

	q.SetReadPosition(3)
	utils.Assert(q.DiscardToRead() == 300)
	utils.Assert(q.FirstIndex() == 3 && q.ReadIndex() == 3)

	position := q.DiscardToEnd()
	utils.Assert(position == 500)
	utils.Assert(q.FirstIndex() == 5 && q.WriteIndex() == 5)
	utils.Assert(q.DiscardToEnd() == PositionUnset)
	checkIndicesInvariant(q)
}

func TestMetadataQueueSplice(t *testing.T) {
	q := NewSampleMetadataQueue()
	q.SetFormat(&Format{ID: "a"})
	commitSamples(q, 5, 100, FlagKeyFrame)

	// 已读部分的时间戳达到拼接点, 拒绝
	q.SetReadPosition(3)
	utils.Assert(!q.AttemptSplice(15))

	// 丢弃30和40两个未读样本
	utils.Assert(q.AttemptSplice(25))
	utils.Assert(q.WriteIndex() == 3)
	utils.Assert(q.LargestQueuedTimestampUs() == 20)

	// 拼接点晚于队尾, 接受且不丢弃
	utils.Assert(q.AttemptSplice(100))
	utils.Assert(q.WriteIndex() == 3)
	checkIndicesInvariant(q)
}

func TestMetadataQueueKeyframeRequired(t *testing.T) {
	q := NewSampleMetadataQueue()
	q.SetFormat(&Format{ID: "a"})

	// 重置后首个非关键帧样本被丢弃
	q.CommitSample(0, 0, 0, 100, nil)
	utils.Assert(q.WriteIndex() == 0)

	q.CommitSample(10, FlagKeyFrame, 0, 100, nil)
	q.CommitSample(20, 0, 100, 100, nil)
	utils.Assert(q.WriteIndex() == 2)
}

func TestMetadataQueueReadStateMachine(t *testing.T) {
	q := NewSampleMetadataQueue()
	formatA := &Format{ID: "a"}
	formatB := &Format{ID: "b"}

	var formatHolder FormatHolder
	var buffer SampleBuffer
	var extras SampleExtras

	// 空队列
	utils.Assert(q.Read(&formatHolder, &buffer, false, false, false, nil, &extras) == ResultNothing)

	utils.Assert(q.SetFormat(formatA))
	utils.Assert(!q.SetFormat(&Format{ID: "a"}))

	q.CommitSample(0, FlagKeyFrame, 0, 100, nil)
	q.CommitSample(10, FlagKeyFrame, 100, 100, nil)

	// 格式先于样本下发, 且只下发一次
	result := q.Read(&formatHolder, &buffer, false, false, false, nil, &extras)
	utils.Assert(result == ResultFormat && formatHolder.Format == formatA)
	utils.Assert(q.ReadIndex() == 0)

	downstream := formatHolder.Format
	result = q.Read(&formatHolder, &buffer, false, false, false, downstream, &extras)
	utils.Assert(result == ResultBuffer && buffer.TimeUs == 0)
	utils.Assert(extras.size == 100 && extras.offset == 0)

	// 格式未变更时直接读下一个样本
	result = q.Read(&formatHolder, &buffer, false, false, false, downstream, &extras)
	utils.Assert(result == ResultBuffer && buffer.TimeUs == 10)

	// 读空, 加载未结束
	utils.Assert(q.Read(&formatHolder, &buffer, false, false, false, downstream, &extras) == ResultNothing)

	// 读空且加载结束, 合成流结束标记
	result = q.Read(&formatHolder, &buffer, false, false, true, downstream, &extras)
	utils.Assert(result == ResultBuffer && buffer.IsEndOfStream())

	// 变更格式后, 格式紧挨其后的样本之前下发
	utils.Assert(q.SetFormat(formatB))
	q.CommitSample(20, FlagKeyFrame, 200, 100, nil)

	result = q.Read(&formatHolder, &buffer, false, false, false, downstream, &extras)
	utils.Assert(result == ResultFormat && formatHolder.Format == formatB)

	result = q.Read(&formatHolder, &buffer, false, false, false, formatB, &extras)
	utils.Assert(result == ResultBuffer && buffer.TimeUs == 20)
	checkIndicesInvariant(q)
}

func TestMetadataQueuePeekNext(t *testing.T) {
	q := NewSampleMetadataQueue()
	format := &Format{ID: "a"}

	utils.Assert(q.PeekNext(nil) == PeekNothing)

	q.SetFormat(format)
	q.CommitSample(0, FlagKeyFrame, 0, 100, nil)
	q.CommitSample(10, FlagKeyFrame|FlagEncrypted, 100, 100, &CryptoData{})

	utils.Assert(q.PeekNext(nil) == PeekFormat)
	utils.Assert(q.PeekNext(format) == PeekBufferClear)

	q.SetReadPosition(1)
	utils.Assert(q.PeekNext(format) == PeekBufferEncrypted)

	q.AdvanceToEnd()
	utils.Assert(q.PeekNext(format) == PeekNothing)
}

func TestMetadataQueueAllowOnlyClearBuffers(t *testing.T) {
	q := NewSampleMetadataQueue()
	format := &Format{ID: "a"}
	q.SetFormat(format)

	q.CommitSample(0, FlagKeyFrame, 0, 100, nil)
	q.CommitSample(10, FlagKeyFrame|FlagEncrypted, 100, 100, &CryptoData{})

	var formatHolder FormatHolder
	var buffer SampleBuffer
	var extras SampleExtras

	// 明文样本不受限制
	result := q.Read(&formatHolder, &buffer, false, true, false, format, &extras)
	utils.Assert(result == ResultBuffer && buffer.TimeUs == 0)

	// 加密样本在密钥就绪前读不到
	utils.Assert(q.Read(&formatHolder, &buffer, false, true, false, format, &extras) == ResultNothing)
	utils.Assert(q.ReadIndex() == 1)

	result = q.Read(&formatHolder, &buffer, false, false, false, format, &extras)
	utils.Assert(result == ResultBuffer && buffer.TimeUs == 10)
}

func TestMetadataQueueLastSample(t *testing.T) {
	q := NewSampleMetadataQueue()
	q.SetFormat(&Format{ID: "a"})

	q.CommitSample(0, FlagKeyFrame, 0, 100, nil)
	utils.Assert(!q.IsLastSampleQueued())

	q.CommitSample(10, FlagKeyFrame|FlagLastSample, 100, 100, nil)
	utils.Assert(q.IsLastSampleQueued())

	// 写侧丢弃最后的样本后, 流结束不再成立
	q.DiscardUpstreamSamples(1)
	utils.Assert(!q.IsLastSampleQueued())

	var formatHolder FormatHolder
	var buffer SampleBuffer
	var extras SampleExtras
	q.SetFormat(&Format{ID: "a", Bitrate: 1})
	q.CommitSample(20, FlagKeyFrame|FlagLastSample, 100, 100, nil)
	q.AdvanceToEnd()

	// 最后一个样本已入队, 无需loadingFinished即可收到流结束标记
	result := q.Read(&formatHolder, &buffer, false, false, false, nil, &extras)
	utils.Assert(result == ResultBuffer && buffer.IsEndOfStream())
}

func TestMetadataQueueSourceID(t *testing.T) {
	q := NewSampleMetadataQueue()
	q.SetFormat(&Format{ID: "a"})

	q.SourceID(1)
	q.CommitSample(0, FlagKeyFrame, 0, 100, nil)
	q.SourceID(2)

	utils.Assert(q.PeekSourceID() == 1)
	q.AdvanceToEnd()
	utils.Assert(q.PeekSourceID() == 2)
}

func TestMetadataQueueReset(t *testing.T) {
	q := NewSampleMetadataQueue()
	q.SetFormat(&Format{ID: "a"})
	commitSamples(q, 3, 100, FlagKeyFrame)

	q.Reset(false)
	utils.Assert(q.FirstIndex() == 0 && q.WriteIndex() == 0)
	utils.Assert(q.FirstTimestampUs() == TimeUnset)
	utils.Assert(q.LargestQueuedTimestampUs() == TimeUnset)

	// 不重置写侧格式, 直接提交样本
	q.CommitSample(0, FlagKeyFrame, 0, 100, nil)
	utils.Assert(q.WriteIndex() == 1)

	// 重置写侧格式后必须重新设置格式
	q.Reset(true)
	utils.Assert(q.UpstreamFormat() == nil)
	utils.Assert(expectPanic(func() {
		q.CommitSample(0, FlagKeyFrame, 0, 100, nil)
	}))
}
