package samplebuffer

// CryptoData 加载端随样本提交的加密参数, 核心不做解释, 读取时原样附带
type CryptoData struct {
	EncryptionKey   []byte
	CryptoMode      int
	EncryptedBlocks int
	ClearBlocks     int
}

// CryptoInfo 解析子样本加密布局后的完整加密信息
// 布局: 1字节信号位(高位是否带子样本布局, 低7位IV长度) + IV + 可选的子样本列表
type CryptoInfo struct {
	// IV 初始化向量, 固定16字节, 不足补0
	IV []byte

	SubsampleCount int

	// ClearBytes 每个子样本的明文字节数
	ClearBytes []int

	// EncryptedBytes 每个子样本的密文字节数
	EncryptedBytes []int

	Key             []byte
	Mode            int
	EncryptedBlocks int
	ClearBlocks     int
}
