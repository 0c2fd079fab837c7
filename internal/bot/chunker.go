package bot

import "strings"

const (
	// maxMessageSize is Telegram's message length limit.
	maxMessageSize = 4096

	// chunkSearchDistance is how far back from the size limit a split
	// point is searched for.
	chunkSearchDistance = 410
)

// chunkDelimiters in preference order: paragraph break, line break,
// sentence end, word boundary.
var chunkDelimiters = []string{"\n\n", "\n", ". ", " "}

// splitMessage splits a message into chunks of at most maxSize bytes.
// Each chunk ends right after the best delimiter found within the last
// searchDistance bytes of the window; with no delimiter in range the chunk
// is hard-cut at exactly maxSize. Concatenating the chunks reproduces the
// message exactly. A message that already fits is returned as one chunk.
func splitMessage(message string, maxSize, searchDistance int) []string {
	var chunks []string

	for i := 0; i < len(message); {
		if len(message)-i <= maxSize {
			chunks = append(chunks, message[i:])
			break
		}

		end := i + maxSize
		lo := end - searchDistance
		if lo < i {
			lo = i
		}

		cut := end
		for _, delimiter := range chunkDelimiters {
			if idx := strings.LastIndex(message[lo:end], delimiter); idx != -1 {
				cut = lo + idx + len(delimiter)
				break
			}
		}

		chunks = append(chunks, message[i:cut])
		i = cut
	}

	return chunks
}
