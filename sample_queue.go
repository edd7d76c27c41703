package samplebuffer

import (
	"encoding/binary"
	"io"

	"github.com/lkmio/samplebuffer/libbufio"
	"github.com/lkmio/samplebuffer/log"
	"github.com/lkmio/samplebuffer/utils"
)

const initialScratchSize = 32

// FormatChangeListener 加载线程提交新格式时回调
type FormatChangeListener func(format *Format)

// SampleQueue 在加载线程和消费线程之间缓冲解复用后的媒体样本
// 字节数据进RollingBuffer, 元数据进SampleMetadataQueue, 两者以绝对偏移关联
// 写操作只允许加载线程调用, 读操作只允许消费线程调用, 两个底层队列各自以
// 互斥锁保证跨线程可见性. Reset和DiscardUpstreamSamples要求加载线程处于
// 静止状态, 由调用方保证
type SampleQueue struct {
	allocator                   Allocator
	drmManager                  DrmSessionManager
	playClearSamplesWithoutKeys bool

	buffer   *RollingBuffer
	metadata *SampleMetadataQueue

	extras        SampleExtras
	scratch       []byte
	scratchFormat FormatHolder

	// 消费线程
	downstreamFormat *Format
	currentSession   DrmSession

	// 加载线程
	sampleOffsetUs int64
	pendingSplice  bool
	listener       FormatChangeListener
}

// NewSampleQueue drmManager为nil时内容保护被关闭, 加密样本直接透传
func NewSampleQueue(allocator Allocator, drmManager DrmSessionManager) *SampleQueue {
	q := &SampleQueue{
		allocator:  allocator,
		drmManager: drmManager,
		buffer:     NewRollingBuffer(allocator),
		metadata:   NewSampleMetadataQueue(),
		scratch:    make([]byte, initialScratchSize),
	}

	if drmManager != nil {
		q.playClearSamplesWithoutKeys = drmManager.PlayClearSamplesWithoutKeys()
	}

	return q
}

// 加载线程调用的写侧接口

// SetFormat 设置对后续提交样本生效的格式
func (q *SampleQueue) SetFormat(format *Format) {
	changed := q.metadata.SetFormat(format)
	if changed && q.listener != nil {
		q.listener(format)
	}
}

func (q *SampleQueue) SetFormatChangeListener(listener FormatChangeListener) {
	q.listener = listener
}

// SetSampleOffsetUs 后续提交样本的时间戳偏移量
func (q *SampleQueue) SetSampleOffsetUs(sampleOffsetUs int64) {
	q.sampleOffsetUs = sampleOffsetUs
}

// SampleData 追加样本数据
func (q *SampleQueue) SampleData(data []byte) {
	q.buffer.Write(data)
}

// SampleDataFrom 从字节源读入最多length字节的样本数据
// 源结束时返回io.EOF, allowEndOfInput未置位时视为数据异常截断
func (q *SampleQueue) SampleDataFrom(source io.Reader, length int, allowEndOfInput bool) (int, error) {
	n, err := q.buffer.ReadFrom(source, length)
	if n > 0 {
		return n, nil
	}

	if err == io.EOF && !allowEndOfInput {
		return 0, io.ErrUnexpectedEOF
	}

	return 0, err
}

// SampleMetadata 提交一条样本元数据, 样本数据必须已经全部写入
// offset为样本末尾到当前写入位置的字节数
func (q *SampleQueue) SampleMetadata(timeUs int64, flags Flags, size, offset int, crypto *CryptoData) {
	timeUs += q.sampleOffsetUs

	if q.pendingSplice {
		if flags&FlagKeyFrame == 0 || !q.metadata.AttemptSplice(timeUs) {
			log.Sugar.Debugf("样本未通过拼接检查, 丢弃 time:%dus", timeUs)
			return
		}

		q.pendingSplice = false
	}

	absoluteOffset := q.buffer.WritePosition() - int64(size) - int64(offset)
	q.metadata.CommitSample(timeUs, flags, absoluteOffset, size, crypto)
}

// Splice 后续提交的样本拼接到已缓冲的样本之后, 丢弃两者重叠的部分
func (q *SampleQueue) Splice() {
	q.pendingSplice = true
}

// SourceID 设置后续提交样本的源标识
func (q *SampleQueue) SourceID(sourceID int) {
	q.metadata.SourceID(sourceID)
}

// DiscardUpstreamSamples 从写侧丢弃绝对索引不小于discardFromIndex的样本,
// 同时回退RollingBuffer的写入位置. 要求加载线程静止
func (q *SampleQueue) DiscardUpstreamSamples(discardFromIndex int) {
	total := q.metadata.DiscardUpstreamSamples(discardFromIndex)
	if total == PositionUnset {
		return
	}

	log.Sugar.Debugf("丢弃写侧样本 fromIndex:%d writePosition:%d", discardFromIndex, total)
	q.buffer.TruncateWrite(total)
}

// 消费线程调用的读侧接口

// Read 尝试读取. 格式变更先于样本下发; 读到样本时buffer携带数据和加密信息;
// loadingFinished且队列读空时合成流结束标记
// decodeOnlyUntilUs 时间戳早于该值的样本追加FlagDecodeOnly
func (q *SampleQueue) Read(formatHolder *FormatHolder, buffer *SampleBuffer,
	formatRequired, loadingFinished bool, decodeOnlyUntilUs int64) ReadResult {
	readFlagFormatRequired := false
	readFlagAllowOnlyClearBuffers := false
	onlyPropagateFormatChanges := false

	if q.downstreamFormat == nil || formatRequired {
		readFlagFormatRequired = true
	} else if q.drmManager != nil && q.downstreamFormat.DrmInitData != nil &&
		q.sessionState() != SessionStateOpenedWithKeys {
		if q.playClearSamplesWithoutKeys {
			// 密钥未就绪, 只允许读明文样本
			readFlagAllowOnlyClearBuffers = true
		} else {
			// 样本一律不可读, 格式和流结束标记仍可下发, 但格式只在发生变更时下发
			onlyPropagateFormatChanges = true
			readFlagFormatRequired = true
		}
	}

	result := q.metadata.Read(&q.scratchFormat, buffer, readFlagFormatRequired,
		readFlagAllowOnlyClearBuffers, loadingFinished, q.downstreamFormat, &q.extras)

	switch result {
	case ResultFormat:
		if onlyPropagateFormatChanges && q.downstreamFormat == q.scratchFormat.Format {
			return ResultNothing
		}

		q.onFormat(q.scratchFormat.Format, formatHolder)
		return ResultFormat
	case ResultBuffer:
		if !buffer.IsEndOfStream() {
			if buffer.TimeUs < decodeOnlyUntilUs {
				buffer.Flags |= FlagDecodeOnly
			}

			if !buffer.FlagsOnly {
				q.readToBuffer(buffer, &q.extras)
			}
		}

		return ResultBuffer
	default:
		return ResultNothing
	}
}

// IsReady 是否有数据可读. 流结束后总是就绪, 读取将返回流结束标记
func (q *SampleQueue) IsReady(loadingFinished bool) bool {
	switch q.metadata.PeekNext(q.downstreamFormat) {
	case PeekFormat:
		return true
	case PeekBufferClear:
		return q.currentSession == nil || q.playClearSamplesWithoutKeys
	case PeekBufferEncrypted:
		return q.drmManager == nil || q.sessionState() == SessionStateOpenedWithKeys
	default:
		return loadingFinished
	}
}

// PendingError 返回阻碍读取的会话错误, 没有则返回nil
// 会话出错不影响已经可解码的明文样本, 错误只在调用方主动查询时下发
func (q *SampleQueue) PendingError() error {
	if q.currentSession != nil && q.currentSession.State() == SessionStateError {
		return q.currentSession.Error()
	}

	return nil
}

func (q *SampleQueue) AdvanceTo(timeUs int64, toKeyframe, allowTimeBeyondBuffer bool) int {
	return q.metadata.AdvanceTo(timeUs, toKeyframe, allowTimeBeyondBuffer)
}

func (q *SampleQueue) AdvanceToEnd() int {
	return q.metadata.AdvanceToEnd()
}

func (q *SampleQueue) SetReadPosition(sampleIndex int) bool {
	return q.metadata.SetReadPosition(sampleIndex)
}

// Rewind 读游标回退到队列中的第一个样本
func (q *SampleQueue) Rewind() {
	q.metadata.Rewind()
}

// DiscardTo 从头部丢弃到timeUs之前的样本并释放对应内存块
func (q *SampleQueue) DiscardTo(timeUs int64, toKeyframe, stopAtReadPosition bool) {
	q.buffer.DiscardTo(q.metadata.DiscardTo(timeUs, toKeyframe, stopAtReadPosition))
}

func (q *SampleQueue) DiscardToRead() {
	q.buffer.DiscardTo(q.metadata.DiscardToRead())
}

func (q *SampleQueue) DiscardToEnd() {
	q.buffer.DiscardTo(q.metadata.DiscardToEnd())
}

// Reset 清空队列并重新从绝对偏移0开始, 要求加载线程静止
// resetUpstreamFormat置位时必须重新SetFormat后才能提交样本
func (q *SampleQueue) Reset(resetUpstreamFormat bool) {
	q.metadata.Reset(resetUpstreamFormat)
	q.buffer.Reset(0)
}

// PreRelease 丢弃全部样本并释放会话引用, 队列之后仍可继续使用
func (q *SampleQueue) PreRelease() {
	q.DiscardToEnd()
	q.releaseDrmResources()
}

// Release 重置并释放会话引用
func (q *SampleQueue) Release() {
	q.Reset(false)
	q.releaseDrmResources()
}

func (q *SampleQueue) HasNextSample() bool {
	return q.metadata.HasNextSample()
}

func (q *SampleQueue) FirstIndex() int {
	return q.metadata.FirstIndex()
}

func (q *SampleQueue) ReadIndex() int {
	return q.metadata.ReadIndex()
}

func (q *SampleQueue) WriteIndex() int {
	return q.metadata.WriteIndex()
}

func (q *SampleQueue) FirstTimestampUs() int64 {
	return q.metadata.FirstTimestampUs()
}

func (q *SampleQueue) LargestQueuedTimestampUs() int64 {
	return q.metadata.LargestQueuedTimestampUs()
}

func (q *SampleQueue) IsLastSampleQueued() bool {
	return q.metadata.IsLastSampleQueued()
}

func (q *SampleQueue) PeekSourceID() int {
	return q.metadata.PeekSourceID()
}

func (q *SampleQueue) UpstreamFormat() *Format {
	return q.metadata.UpstreamFormat()
}

// 内部实现

func (q *SampleQueue) sessionState() SessionState {
	utils.Assert(q.currentSession != nil)
	return q.currentSession.State()
}

func (q *SampleQueue) releaseDrmResources() {
	if q.currentSession != nil {
		q.drmManager.ReleaseSession(q.currentSession)
		q.currentSession = nil
	}
}

// onFormat 格式下发到消费端, 按需切换内容保护会话
func (q *SampleQueue) onFormat(format *Format, formatHolder *FormatHolder) {
	formatHolder.Format = format

	isFirstFormat := q.downstreamFormat == nil
	var oldDrmInitData *DrmInitData
	if !isFirstFormat {
		oldDrmInitData = q.downstreamFormat.DrmInitData
	}

	q.downstreamFormat = format
	if q.drmManager == nil {
		return
	}

	formatHolder.DrmSession = q.currentSession
	if !isFirstFormat && oldDrmInitData.Equal(format.DrmInitData) {
		// 保护元数据未变, 会话继续使用
		return
	}

	// 先申请新会话再释放旧会话, 底层密钥相同时避免无谓的重建
	previousSession := q.currentSession
	if format.DrmInitData != nil {
		q.currentSession = q.drmManager.AcquireSession(format.DrmInitData)
	} else {
		q.currentSession = nil
	}

	formatHolder.DrmSession = q.currentSession
	if previousSession != nil {
		q.drmManager.ReleaseSession(previousSession)
	}
}

// readToBuffer 依据寻址信息从RollingBuffer拷贝样本数据
func (q *SampleQueue) readToBuffer(buffer *SampleBuffer, extras *SampleExtras) {
	if buffer.IsEncrypted() {
		q.readEncryptionData(buffer, extras)
	}

	target := buffer.ensureSpace(extras.size)
	q.buffer.ReadBytes(extras.offset, target)
}

// readEncryptionData 解析样本数据前的子样本加密布局
// 布局: 1字节信号位 -> IV -> 可选的2字节子样本数和(2字节明文长度, 4字节密文长度)列表
// 解析消耗的头部字节从样本数据中剔除
func (q *SampleQueue) readEncryptionData(buffer *SampleBuffer, extras *SampleExtras) {
	offset := extras.offset

	// 信号字节: 高位是否携带子样本布局, 低7位IV长度
	q.readScratch(offset, 1)
	offset++
	signalByte := q.scratch[0]
	subsampleEncryption := signalByte&0x80 != 0
	ivSize := int(signalByte & 0x7F)

	// IV字段固定16字节, 声称的IV长度不能超过它
	utils.Assert(ivSize <= 16)

	info := &buffer.CryptoInfo
	if len(info.IV) != 16 {
		info.IV = make([]byte, 16)
	} else {
		for i := range info.IV {
			info.IV[i] = 0
		}
	}

	utils.Assert(1+ivSize <= extras.size)
	q.buffer.ReadBytes(offset, info.IV[:ivSize])
	offset += int64(ivSize)

	subsampleCount := 1
	if subsampleEncryption {
		q.readScratch(offset, 2)
		offset += 2
		subsampleCount = int(binary.BigEndian.Uint16(q.scratch))
	}

	if len(info.ClearBytes) < subsampleCount {
		info.ClearBytes = make([]int, subsampleCount)
		info.EncryptedBytes = make([]int, subsampleCount)
	}

	if subsampleEncryption {
		subsampleDataLength := 6 * subsampleCount

		// 声称的子样本数不能超过样本中实际剩余的字节
		utils.Assert(int(offset-extras.offset)+subsampleDataLength <= extras.size)
		q.readScratch(offset, subsampleDataLength)
		offset += int64(subsampleDataLength)

		reader := libbufio.NewBytesReader(q.scratch[:subsampleDataLength])
		for i := 0; i < subsampleCount; i++ {
			clearBytes, err := reader.ReadUint16()
			utils.Assert(err == nil)
			encryptedBytes, err := reader.ReadUint32()
			utils.Assert(err == nil)
			info.ClearBytes[i] = int(clearBytes)
			info.EncryptedBytes[i] = int(encryptedBytes)
		}
	} else {
		// 没有子样本布局时, 整个样本视作一个密文子样本
		info.ClearBytes[0] = 0
		info.EncryptedBytes[0] = extras.size - int(offset-extras.offset)
	}

	crypto := extras.crypto
	info.SubsampleCount = subsampleCount
	info.Key = crypto.EncryptionKey
	info.Mode = crypto.CryptoMode
	info.EncryptedBlocks = crypto.EncryptedBlocks
	info.ClearBlocks = crypto.ClearBlocks

	bytesRead := int(offset - extras.offset)
	extras.offset += int64(bytesRead)
	extras.size -= bytesRead
}

// readScratch 读入暂存区, 跨内存块的头部先拷出来再解析
func (q *SampleQueue) readScratch(position int64, length int) {
	if cap(q.scratch) < length {
		q.scratch = make([]byte, length)
	}

	q.scratch = q.scratch[:cap(q.scratch)]
	q.buffer.ReadBytes(position, q.scratch[:length])
}
