package samplebuffer

import "io"

// Writer 加载线程的角色句柄, 只暴露写侧接口
// 与Reader配对使用时, 跨角色误调用在编译期即可发现
type Writer struct {
	q *SampleQueue
}

// Reader 消费线程的角色句柄, 只暴露读侧接口
type Reader struct {
	q *SampleQueue
}

// Split 拆分出写侧和读侧句柄, 各自交给对应的线程持有
func (q *SampleQueue) Split() (*Writer, *Reader) {
	return &Writer{q: q}, &Reader{q: q}
}

func (w *Writer) SetFormat(format *Format) {
	w.q.SetFormat(format)
}

func (w *Writer) SetSampleOffsetUs(sampleOffsetUs int64) {
	w.q.SetSampleOffsetUs(sampleOffsetUs)
}

func (w *Writer) SampleData(data []byte) {
	w.q.SampleData(data)
}

func (w *Writer) SampleDataFrom(source io.Reader, length int, allowEndOfInput bool) (int, error) {
	return w.q.SampleDataFrom(source, length, allowEndOfInput)
}

func (w *Writer) SampleMetadata(timeUs int64, flags Flags, size, offset int, crypto *CryptoData) {
	w.q.SampleMetadata(timeUs, flags, size, offset, crypto)
}

func (w *Writer) Splice() {
	w.q.Splice()
}

func (w *Writer) SourceID(sourceID int) {
	w.q.SourceID(sourceID)
}

func (w *Writer) DiscardUpstreamSamples(discardFromIndex int) {
	w.q.DiscardUpstreamSamples(discardFromIndex)
}

func (w *Writer) WriteIndex() int {
	return w.q.WriteIndex()
}

func (r *Reader) Read(formatHolder *FormatHolder, buffer *SampleBuffer,
	formatRequired, loadingFinished bool, decodeOnlyUntilUs int64) ReadResult {
	return r.q.Read(formatHolder, buffer, formatRequired, loadingFinished, decodeOnlyUntilUs)
}

func (r *Reader) IsReady(loadingFinished bool) bool {
	return r.q.IsReady(loadingFinished)
}

func (r *Reader) PendingError() error {
	return r.q.PendingError()
}

func (r *Reader) AdvanceTo(timeUs int64, toKeyframe, allowTimeBeyondBuffer bool) int {
	return r.q.AdvanceTo(timeUs, toKeyframe, allowTimeBeyondBuffer)
}

func (r *Reader) AdvanceToEnd() int {
	return r.q.AdvanceToEnd()
}

func (r *Reader) SetReadPosition(sampleIndex int) bool {
	return r.q.SetReadPosition(sampleIndex)
}

func (r *Reader) Rewind() {
	r.q.Rewind()
}

func (r *Reader) DiscardTo(timeUs int64, toKeyframe, stopAtReadPosition bool) {
	r.q.DiscardTo(timeUs, toKeyframe, stopAtReadPosition)
}

func (r *Reader) DiscardToRead() {
	r.q.DiscardToRead()
}

func (r *Reader) DiscardToEnd() {
	r.q.DiscardToEnd()
}

func (r *Reader) ReadIndex() int {
	return r.q.ReadIndex()
}
