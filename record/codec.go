package record

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/c360/timemerge/errors"
)

// Frame layout, all integers big-endian:
//
//	[body length: 4][body][crc32(body): 4]
//	body = [timestamp: 8][seq: 8][channel length: 2][channel][payload]
//
// The length prefix makes the encoding self-delimiting: spill files and the
// output file are plain concatenations of frames, readable back as a bounded
// sequence without a separate index.
const (
	frameLenSize  = 4
	frameCRCSize  = 4
	bodyFixedSize = 8 + 8 + 2

	// maxFrameSize bounds a single decoded frame. A length prefix beyond
	// this is treated as corruption rather than an allocation request.
	maxFrameSize = 16 << 20
)

// Encode writes rec to w as a single self-delimiting frame.
func Encode(w io.Writer, rec Record) error {
	chanLen := len(rec.Channel)
	if chanLen > 0xFFFF {
		return errors.WrapInvalid(
			fmt.Errorf("channel id length %d exceeds %d", chanLen, 0xFFFF),
			"record", "Encode", "channel id",
		)
	}

	bodyLen := bodyFixedSize + chanLen + len(rec.Payload)
	buf := make([]byte, frameLenSize+bodyLen+frameCRCSize)

	binary.BigEndian.PutUint32(buf[0:4], uint32(bodyLen))
	body := buf[frameLenSize : frameLenSize+bodyLen]
	binary.BigEndian.PutUint64(body[0:8], uint64(rec.Timestamp))
	binary.BigEndian.PutUint64(body[8:16], rec.Seq)
	binary.BigEndian.PutUint16(body[16:18], uint16(chanLen))
	copy(body[18:18+chanLen], rec.Channel)
	copy(body[18+chanLen:], rec.Payload)
	binary.BigEndian.PutUint32(buf[frameLenSize+bodyLen:], crc32.ChecksumIEEE(body))

	_, err := w.Write(buf)
	return err
}

// Decode reads one frame from r. It returns io.EOF when r is positioned
// exactly at a frame boundary with no more data, and io.ErrUnexpectedEOF if
// the stream ends mid-frame.
func Decode(r io.Reader) (Record, error) {
	var lenBuf [frameLenSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		// A clean EOF here means the previous frame was the last one.
		return Record{}, err
	}

	bodyLen := binary.BigEndian.Uint32(lenBuf[:])
	if bodyLen < bodyFixedSize || bodyLen > maxFrameSize {
		return Record{}, errors.WrapInvalid(
			fmt.Errorf("frame body length %d out of range: %w", bodyLen, errors.ErrDataCorrupted),
			"record", "Decode", "frame header",
		)
	}

	buf := make([]byte, bodyLen+frameCRCSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Record{}, err
	}

	body := buf[:bodyLen]
	sum := binary.BigEndian.Uint32(buf[bodyLen:])
	if crc32.ChecksumIEEE(body) != sum {
		return Record{}, errors.WrapInvalid(errors.ErrChecksumFailed, "record", "Decode", "frame checksum")
	}

	chanLen := int(binary.BigEndian.Uint16(body[16:18]))
	if bodyFixedSize+chanLen > int(bodyLen) {
		return Record{}, errors.WrapInvalid(
			fmt.Errorf("channel length %d exceeds body: %w", chanLen, errors.ErrDataCorrupted),
			"record", "Decode", "frame body",
		)
	}

	rec := Record{
		Timestamp: Timestamp(binary.BigEndian.Uint64(body[0:8])),
		Seq:       binary.BigEndian.Uint64(body[8:16]),
		Channel:   string(body[18 : 18+chanLen]),
	}
	if payload := body[18+chanLen:]; len(payload) > 0 {
		rec.Payload = append([]byte(nil), payload...)
	}
	return rec, nil
}

// EncodedSize returns the on-disk size of rec's frame in bytes.
func EncodedSize(rec Record) int {
	return frameLenSize + bodyFixedSize + len(rec.Channel) + len(rec.Payload) + frameCRCSize
}
