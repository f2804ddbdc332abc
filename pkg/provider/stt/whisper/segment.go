package whisper

import (
	"encoding/binary"
	"math"
	"time"
)

// silenceRMS is the energy (in 16-bit sample units) below which a chunk
// counts as silence.
const silenceRMS = 300.0

// segmenter cuts a PCM stream into utterances at pauses. Leading silence is
// dropped. It is not safe for concurrent use.
type segmenter struct {
	bytesPerSec int
	silence     time.Duration
	maxBytes    int

	buf       []byte
	hadSpeech bool
	quiet     time.Duration
}

func newSegmenter(sampleRate, channels int, silence, maxSegment time.Duration) *segmenter {
	bps := sampleRate * channels * 2
	return &segmenter{
		bytesPerSec: bps,
		silence:     silence,
		maxBytes:    int(maxSegment.Seconds() * float64(bps)),
	}
}

// push adds chunk and returns a completed utterance, if this chunk ended one.
func (s *segmenter) push(chunk []byte) []byte {
	if rms(chunk) < silenceRMS {
		if !s.hadSpeech {
			return nil
		}
		s.buf = append(s.buf, chunk...)
		s.quiet += s.duration(chunk)
		if s.quiet >= s.silence {
			return s.take()
		}
		return nil
	}

	s.hadSpeech = true
	s.quiet = 0
	s.buf = append(s.buf, chunk...)
	if s.maxBytes > 0 && len(s.buf) >= s.maxBytes {
		return s.take()
	}
	return nil
}

// flush returns any buffered speech.
func (s *segmenter) flush() []byte {
	if !s.hadSpeech {
		s.buf = nil
		return nil
	}
	return s.take()
}

func (s *segmenter) take() []byte {
	out := s.buf
	s.buf, s.hadSpeech, s.quiet = nil, false, 0
	return out
}

func (s *segmenter) duration(chunk []byte) time.Duration {
	if s.bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(len(chunk)) * time.Second / time.Duration(s.bytesPerSec)
}

// rms returns the root-mean-square energy of 16-bit little-endian PCM.
func rms(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
