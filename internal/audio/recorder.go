package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/harsh8423/CustArea-An-AI-native-CRM-sub002/internal/codec"
)

const (
	pcmChannels = 1
	pcmBitDepth = 16
)

// CallRecorder captures the audio of a single call as raw PCM and encodes
// it to a playable file when the call ends. Both legs of the call are
// appended to one mono track in arrival order.
type CallRecorder struct {
	dir        string
	sampleRate int

	mu      sync.Mutex
	callID  string
	rawPath string
	rawFile *os.File

	encode func(rawPath, callID string) (string, error)
}

// NewCallRecorder opens the raw capture file for one call. sampleRate is
// the rate of the PCM that will be written, typically codec.TelephonyRate.
func NewCallRecorder(dir, callID string, sampleRate int) (*CallRecorder, error) {
	if dir == "" {
		dir = filepath.Join("data", "recordings")
	}
	if sampleRate <= 0 {
		sampleRate = codec.TelephonyRate
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	rawPath := filepath.Join(dir, callID+".pcm")
	rawFile, err := os.OpenFile(rawPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open raw pcm file: %w", err)
	}

	r := &CallRecorder{
		dir:        dir,
		sampleRate: sampleRate,
		callID:     callID,
		rawPath:    rawPath,
		rawFile:    rawFile,
	}
	r.encode = r.defaultEncode
	return r, nil
}

// WriteMuLaw decodes one frame of G.711 audio and appends it to the capture.
func (r *CallRecorder) WriteMuLaw(data []byte) error {
	return r.WritePCM(codec.PCMToBytes(codec.DecodeMuLawBytes(data)))
}

// WritePCM appends raw little-endian 16-bit samples to the capture. Writes
// after Close are dropped.
func (r *CallRecorder) WritePCM(data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rawFile == nil {
		return nil
	}

	if _, err := r.rawFile.Write(data); err != nil {
		return fmt.Errorf("write raw pcm bytes: %w", err)
	}
	return nil
}

// Writer tees PCM flowing to dst into the recording.
func (r *CallRecorder) Writer(dst io.Writer) io.Writer {
	return &teeWriter{recorder: r, dst: dst}
}

// Close finalizes the capture and returns the path of the encoded file.
// It prefers mp3 via ffmpeg or lame and falls back to wav when neither
// encoder is installed.
func (r *CallRecorder) Close() (string, error) {
	r.mu.Lock()
	if r.rawFile == nil {
		r.mu.Unlock()
		return "", nil
	}

	callID := r.callID
	rawPath := r.rawPath
	rawFile := r.rawFile
	r.rawFile = nil
	r.mu.Unlock()

	if err := rawFile.Close(); err != nil {
		return "", fmt.Errorf("close raw pcm file: %w", err)
	}

	audioPath, err := r.encode(rawPath, callID)
	if err != nil {
		return "", err
	}

	_ = os.Remove(rawPath)
	return audioPath, nil
}

func (r *CallRecorder) defaultEncode(rawPath, callID string) (string, error) {
	mp3Path := filepath.Join(r.dir, callID+".mp3")

	if err := encodeWithFFmpeg(rawPath, mp3Path, r.sampleRate); err == nil {
		return mp3Path, nil
	}

	if err := encodeWithLame(rawPath, mp3Path, r.sampleRate); err == nil {
		return mp3Path, nil
	}

	wavPath := filepath.Join(r.dir, callID+".wav")
	if err := pcmToWav(rawPath, wavPath, r.sampleRate); err != nil {
		return "", fmt.Errorf("encode wav fallback: %w", err)
	}

	return wavPath, nil
}

func encodeWithFFmpeg(rawPath, outputPath string, sampleRate int) error {
	cmd := exec.Command(
		"ffmpeg",
		"-y",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-i", rawPath,
		outputPath,
	)
	return cmd.Run()
}

func encodeWithLame(rawPath, outputPath string, sampleRate int) error {
	khz := float64(sampleRate) / 1000.0
	formatted := strconv.FormatFloat(khz, 'f', -1, 64)
	cmd := exec.Command(
		"lame",
		"-r",
		"-s", formatted,
		"--bitwidth", "16",
		"-m", "m",
		rawPath,
		outputPath,
	)
	return cmd.Run()
}

func pcmToWav(rawPath, wavPath string, sampleRate int) error {
	pcmData, err := os.ReadFile(rawPath)
	if err != nil {
		return fmt.Errorf("read raw pcm data: %w", err)
	}

	out, err := os.OpenFile(wavPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open wav output: %w", err)
	}
	defer out.Close()

	header, err := wavHeader(len(pcmData), sampleRate, pcmChannels, pcmBitDepth)
	if err != nil {
		return fmt.Errorf("build wav header: %w", err)
	}

	if _, err := out.Write(header); err != nil {
		return fmt.Errorf("write wav header: %w", err)
	}
	if _, err := out.Write(pcmData); err != nil {
		return fmt.Errorf("write wav payload: %w", err)
	}

	return nil
}

func wavHeader(dataSize, sampleRate, channels, bitDepth int) ([]byte, error) {
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8
	chunkSize := 36 + dataSize

	buf := bytes.NewBuffer(make([]byte, 0, 44))
	if _, err := buf.WriteString("RIFF"); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(chunkSize)); err != nil {
		return nil, err
	}
	if _, err := buf.WriteString("WAVE"); err != nil {
		return nil, err
	}
	if _, err := buf.WriteString("fmt "); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(16)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(1)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(channels)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(byteRate)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(blockAlign)); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint16(bitDepth)); err != nil {
		return nil, err
	}
	if _, err := buf.WriteString("data"); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, uint32(dataSize)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

type teeWriter struct {
	recorder *CallRecorder
	dst      io.Writer
}

func (w *teeWriter) Write(p []byte) (int, error) {
	n, err := w.dst.Write(p)
	if err != nil {
		return n, err
	}

	if err := w.recorder.WritePCM(p[:n]); err != nil {
		return n, err
	}

	return n, nil
}
