package processing

import "fmt"

// TitlePrompt is the lead-in prepended to every chunk of an article so that a
// chunk retrieved on its own still names the article it came from.
func TitlePrompt(title string) string {
	return fmt.Sprintf("News title: %s\n News content: ", title)
}

// Chunk splits text into windows of budget runes, each prefixed with prefix.
// Windows start every budget*(1-overlapRatio) runes and the walk stops after
// the window that reaches the end of text, so only the last window may be
// shorter than budget. Text that fits in one window yields a single chunk.
func Chunk(prefix, text string, budget int, overlapRatio float64) []string {
	runes := []rune(text)
	n := len(runes)
	if budget <= 0 || n <= budget {
		return []string{prefix + text}
	}

	step := chunkStep(budget, overlapRatio)
	chunks := make([]string, 0, ChunkCount(n, budget, overlapRatio))
	for i := 0; ; i += step {
		end := i + budget
		if end > n {
			end = n
		}
		chunks = append(chunks, prefix+string(runes[i:end]))
		if end == n {
			break
		}
	}
	return chunks
}

// ChunkCount returns how many chunks Chunk produces for a text of n runes:
// ceil((n-budget)/step)+1 when n > budget, else 1.
func ChunkCount(n, budget int, overlapRatio float64) int {
	if budget <= 0 || n <= budget {
		return 1
	}
	step := chunkStep(budget, overlapRatio)
	return (n-budget+step-1)/step + 1
}

func chunkStep(budget int, overlapRatio float64) int {
	if overlapRatio < 0 {
		overlapRatio = 0
	}
	step := budget - int(float64(budget)*overlapRatio)
	if step < 1 {
		step = 1
	}
	return step
}
