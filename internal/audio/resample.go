package audio

// Upsample16to48 converts 16kHz mono int16 samples to 48kHz
// by repeating each sample 3 times.
func Upsample16to48(in []int16) []int16 {
	out := make([]int16, len(in)*3)
	for i, s := range in {
		out[i*3] = s
		out[i*3+1] = s
		out[i*3+2] = s
	}
	return out
}

// Frames splits pcm into frames of exactly size samples. The last frame is
// zero-padded.
func Frames(pcm []int16, size int) [][]int16 {
	if size <= 0 || len(pcm) == 0 {
		return nil
	}
	frames := make([][]int16, 0, (len(pcm)+size-1)/size)
	for start := 0; start < len(pcm); start += size {
		end := start + size
		if end <= len(pcm) {
			frames = append(frames, pcm[start:end])
			continue
		}
		last := make([]int16, size)
		copy(last, pcm[start:])
		frames = append(frames, last)
	}
	return frames
}
