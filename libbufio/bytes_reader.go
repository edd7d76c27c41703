package libbufio

import (
	"encoding/binary"
	"errors"
)

var ErrInsufficientData = errors.New("insufficient data")

// BytesReader 封装切片读操作
type BytesReader interface {
	ReadUint8() (uint8, error)

	ReadUint16() (uint16, error)

	ReadUint24() (uint32, error)

	ReadUint32() (uint32, error)

	ReadBytes(size int) ([]byte, error)

	RemainingBytes() int
}

type bytesReader struct {
	data   []byte
	offset int
}

func (b *bytesReader) peekN(size int) error {
	if len(b.data)-b.offset < size {
		return ErrInsufficientData
	}

	b.offset += size
	return nil
}

func (b *bytesReader) ReadUint8() (uint8, error) {
	if err := b.peekN(1); err != nil {
		return 0, err
	}

	return b.data[b.offset-1], nil
}

func (b *bytesReader) ReadUint16() (uint16, error) {
	if err := b.peekN(2); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint16(b.data[b.offset-2:]), nil
}

func (b *bytesReader) ReadUint24() (uint32, error) {
	if err := b.peekN(3); err != nil {
		return 0, err
	}

	bytes := b.data[b.offset-3:]
	return uint32(bytes[0])<<16 | uint32(bytes[1])<<8 | uint32(bytes[2]), nil
}

func (b *bytesReader) ReadUint32() (uint32, error) {
	if err := b.peekN(4); err != nil {
		return 0, err
	}

	return binary.BigEndian.Uint32(b.data[b.offset-4:]), nil
}

func (b *bytesReader) ReadBytes(size int) ([]byte, error) {
	tmp := b.offset
	if err := b.peekN(size); err != nil {
		return nil, err
	}

	return b.data[tmp:b.offset], nil
}

func (b *bytesReader) RemainingBytes() int {
	return len(b.data) - b.offset
}

func NewBytesReader(data []byte) BytesReader {
	return &bytesReader{data: data}
}
