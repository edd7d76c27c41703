package samplebuffer

import "bytes"

// DrmInitData 格式携带的内容保护元数据, 相同的元数据可以复用底层会话
type DrmInitData struct {
	SchemeType string
	SchemeData []byte
}

func (d *DrmInitData) Equal(other *DrmInitData) bool {
	if d == other {
		return true
	}

	if d == nil || other == nil {
		return false
	}

	return d.SchemeType == other.SchemeType && bytes.Equal(d.SchemeData, other.SchemeData)
}

// Format 描述其后所有样本的媒体格式, 直到下一个格式生效
// 不随样本复制, 队列中的样本记录共享同一个Format
type Format struct {
	ID           string
	MimeType     string
	CodecName    string
	Bitrate      int
	Width        int
	Height       int
	SampleRate   int
	ChannelCount int
	DrmInitData  *DrmInitData
}

func (f *Format) Equal(other *Format) bool {
	if f == other {
		return true
	}

	if f == nil || other == nil {
		return false
	}

	return f.ID == other.ID &&
		f.MimeType == other.MimeType &&
		f.CodecName == other.CodecName &&
		f.Bitrate == other.Bitrate &&
		f.Width == other.Width &&
		f.Height == other.Height &&
		f.SampleRate == other.SampleRate &&
		f.ChannelCount == other.ChannelCount &&
		f.DrmInitData.Equal(other.DrmInitData)
}
