package audio

import (
	"bytes"
	"encoding/binary"
)

// EncodeWAV wraps 16-bit mono PCM in a RIFF/WAVE container. The backend's
// speech-to-text endpoint wants a real audio file in the multipart upload,
// not bare samples.
func EncodeWAV(pcm []int16, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)*2))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(Channels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*Channels*2)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(Channels*2))            // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))                    // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)*2))
	for _, sample := range pcm {
		binary.Write(buf, binary.LittleEndian, sample)
	}

	return buf.Bytes()
}
