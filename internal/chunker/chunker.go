package chunker

import (
	"fmt"
	"strings"
)

// Options controls how text is chunked.
type Options struct {
	// ChunkSize is the window length in characters (runes).
	ChunkSize int
	// Overlap is the number of trailing characters shared with the next chunk.
	// Must be smaller than ChunkSize.
	Overlap int
}

// Validate rejects option combinations the splitter cannot honor.
// An overlap at or above the chunk size would stop the window from advancing.
func (o Options) Validate() error {
	if o.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", o.ChunkSize)
	}
	if o.Overlap < 0 {
		return fmt.Errorf("overlap must not be negative, got %d", o.Overlap)
	}
	if o.Overlap >= o.ChunkSize {
		return fmt.Errorf("overlap %d must be smaller than chunk size %d", o.Overlap, o.ChunkSize)
	}
	return nil
}

// Chunk is one window of the source text with its provenance offsets.
// Offsets are rune positions into the original text.
type Chunk struct {
	Index  int
	Text   string
	Start  int
	End    int
	Length int
}

// terminators end a sentence for boundary snapping.
const terminators = ".!?。！？"

// Split slides a window of opts.ChunkSize characters across text. When a
// sentence terminator falls past the midpoint of a window, the window is cut
// just after it so sentences are not severed. Consecutive windows share
// opts.Overlap characters. Deterministic: the same input always yields the
// same chunks.
func Split(text string, opts Options) ([]Chunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(text)
	var chunks []Chunk

	start := 0
	for start < len(runes) {
		end := start + opts.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}

		// Snap to the last sentence terminator in the window, but only if it
		// sits past the midpoint; a snap earlier than that would make the
		// chunk degenerately small.
		if end < len(runes) {
			if cut := lastTerminator(runes[start:end]); cut > opts.ChunkSize/2 {
				end = start + cut + 1
			}
		}

		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Text:   string(runes[start:end]),
			Start:  start,
			End:    end,
			Length: end - start,
		})

		if end == len(runes) {
			break
		}

		next := end - opts.Overlap
		if next <= start {
			// Snapping produced a window no longer than the overlap; skip the
			// overlap for this step so the walk always advances.
			next = end
		}
		start = next
	}

	return chunks, nil
}

// lastTerminator returns the index of the last sentence terminator in window,
// or -1 if none is present.
func lastTerminator(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if strings.ContainsRune(terminators, window[i]) {
			return i
		}
	}
	return -1
}
