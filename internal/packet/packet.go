package packet

import (
	"encoding/binary"
	"errors"

	"raptorcast/internal/config"
)

var (
	ErrMalformedPacket = errors.New("packet: malformed data packet")
	ErrMalformedAck    = errors.New("packet: malformed ack")
	ErrMalformedRaw    = errors.New("packet: malformed raw packet")
)

// Header - заголовок пакета с закодированным символом
// Все поля 16-битные big-endian, порядок на проводе фиксирован
type Header struct {
	SBN uint16 // Номер исходного блока
	ESI uint16 // Индекс закодированного символа внутри блока
	K   uint16 // Количество исходных символов в блоке
	N   uint16 // Общее количество закодированных символов блока
	T   uint16 // Длина символа в байтах
}

// DataPacket - разобранный пакет данных
// Symbols содержит значения слотов, уже приведенные к байтам
type DataPacket struct {
	Header
	Symbols []byte
}

// Size возвращает длину пакета на проводе для заданного количества байт символа
func Size(symbols int) int {
	return config.DataHeaderLen + symbols*config.SlotWidth
}

// EncodeData сериализует заголовок и символ
// Каждый байт символа расширяется до 16-битного слота (формат совместимости)
func EncodeData(h Header, symbols []byte) []byte {
	return AppendData(make([]byte, 0, Size(len(symbols))), h, symbols)
}

// AppendData is EncodeData into a caller-owned buffer, used with pooled buffers.
func AppendData(dst []byte, h Header, symbols []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, h.SBN)
	dst = binary.BigEndian.AppendUint16(dst, h.ESI)
	dst = binary.BigEndian.AppendUint16(dst, h.K)
	dst = binary.BigEndian.AppendUint16(dst, h.N)
	dst = binary.BigEndian.AppendUint16(dst, h.T)
	for _, s := range symbols {
		dst = binary.BigEndian.AppendUint16(dst, uint16(s))
	}
	return dst
}

// DecodeData разбирает пакет данных
// Слоты со значением больше 255 обрезаются до 255 перед передачей в кодек
func DecodeData(b []byte) (*DataPacket, error) {
	// 12 а не 10: наблюдаемая консервативная граница, отбрасывает пакеты без символов
	if len(b) < config.MinDataPacketLen {
		return nil, ErrMalformedPacket
	}

	p := &DataPacket{
		Header: Header{
			SBN: binary.BigEndian.Uint16(b[0:2]),
			ESI: binary.BigEndian.Uint16(b[2:4]),
			K:   binary.BigEndian.Uint16(b[4:6]),
			N:   binary.BigEndian.Uint16(b[6:8]),
			T:   binary.BigEndian.Uint16(b[8:10]),
		},
	}

	body := b[config.DataHeaderLen:]
	p.Symbols = make([]byte, len(body)/config.SlotWidth)
	for i := range p.Symbols {
		v := binary.BigEndian.Uint16(body[i*config.SlotWidth:])
		if v > 255 {
			v = 255
		}
		p.Symbols[i] = byte(v)
	}
	return p, nil
}

func EncodeAck(counter uint16) []byte {
	return binary.BigEndian.AppendUint16(make([]byte, 0, config.AckLen), counter)
}

func DecodeAck(b []byte) (uint16, error) {
	if len(b) != config.AckLen {
		return 0, ErrMalformedAck
	}
	return binary.BigEndian.Uint16(b), nil
}

// AppendRaw writes an uncoded packet: the 16-bit counter followed by data as is.
func AppendRaw(dst []byte, seq uint16, data []byte) []byte {
	dst = binary.BigEndian.AppendUint16(dst, seq)
	return append(dst, data...)
}

// DecodeRaw splits an uncoded packet. Data may be empty, the sender keeps counting after
// the input runs out. The returned data aliases b.
func DecodeRaw(b []byte) (uint16, []byte, error) {
	if len(b) < config.RawHeaderLen {
		return 0, nil, ErrMalformedRaw
	}
	return binary.BigEndian.Uint16(b), b[config.RawHeaderLen:], nil
}
