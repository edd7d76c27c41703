package samplebuffer

// SessionState 内容保护会话状态
type SessionState int

const (
	SessionStateOpening = SessionState(iota + 1)

	SessionStateOpenedWithoutKeys

	SessionStateOpenedWithKeys

	SessionStateError
)

// DrmSession 内容保护会话引用, 由DrmSessionManager发放和回收
type DrmSession interface {
	State() SessionState

	// Error 会话进入SessionStateError后的错误原因
	Error() error
}

// DrmSessionManager 内容保护会话提供者, 密钥交换和许可证协议在实现方
// SampleQueue同一时刻最多持有一个会话引用
type DrmSessionManager interface {
	AcquireSession(drmInitData *DrmInitData) DrmSession

	// AcquirePlaceholderSession 为明文内容申请占位会话, 供需要安全解码器的调用方使用
	AcquirePlaceholderSession() DrmSession

	ReleaseSession(session DrmSession)

	// PlayClearSamplesWithoutKeys 密钥未就绪时是否允许读取明文样本
	PlayClearSamplesWithoutKeys() bool
}
