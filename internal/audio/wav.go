package audio

import (
	"fmt"
	"io"
	"os"

	wav "github.com/youpy/go-wav"
)

// LoadWAV decodes a RIFF/WAVE file into per-channel float32 PCM, mono or
// stereo. The file must already be at wantRate; the mixer never resamples, so
// a rate mismatch is an error here rather than a pitch bug later. Mono
// sources return right aliasing left.
func LoadWAV(path string, wantRate int) (left, right []float32, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	r := wav.NewReader(f)
	format, err := r.Format()
	if err != nil {
		return nil, nil, fmt.Errorf("%s: read wav header: %w", path, err)
	}
	if format.NumChannels != 1 && format.NumChannels != 2 {
		return nil, nil, fmt.Errorf("%s: unsupported channel count %d", path, format.NumChannels)
	}
	if int(format.SampleRate) != wantRate {
		return nil, nil, fmt.Errorf("%s: sample rate %d, device wants %d", path, format.SampleRate, wantRate)
	}

	stereo := format.NumChannels == 2
	for {
		samples, err := r.ReadSamples()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%s: decode wav: %w", path, err)
		}
		for _, s := range samples {
			left = append(left, float32(r.FloatValue(s, 0)))
			if stereo {
				right = append(right, float32(r.FloatValue(s, 1)))
			}
		}
	}

	if !stereo {
		return left, left, nil
	}
	return left, right, nil
}
