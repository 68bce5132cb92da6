package reader

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/readgate/readgate/internal/models"
)

// linesPerChunk is the fallback chunk size for plain text that has no
// blank-line paragraph structure (song-lyric-style input). Chunking guards
// against degenerate single-block documents that would make the gate
// un-gateable.
const linesPerChunk = 4

var (
	blockTagRe  = regexp.MustCompile(`(?i)</?(p|h[1-6]|li|blockquote|pre|div)[^>]*>`)
	tagRe       = regexp.MustCompile(`<[^>]+>`)
	blankRunRe  = regexp.MustCompile(`\n[ \t]*\n+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Segment splits raw content into block-level units and computes each
// block's required dwell time. Markup is split on block-level tags; plain
// text is auto-paragraphed by blank-line runs, or, failing that, chunked
// into fixed-size line groups. Malformed or empty content yields zero
// blocks; callers must treat that as insufficient content, never as
// already read.
func Segment(raw string, cfg Config) []*models.ContentBlock {
	cfg = cfg.withDefaults()
	raw = strings.ReplaceAll(raw, "\r\n", "\n")

	var parts []string
	if blockTagRe.MatchString(raw) {
		parts = splitMarkup(raw)
	} else {
		parts = splitPlain(raw)
	}

	blocks := make([]*models.ContentBlock, 0, len(parts))
	for _, text := range parts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		wc := len(strings.Fields(text))
		idx := len(blocks)
		blocks = append(blocks, &models.ContentBlock{
			ID:              fmt.Sprintf("block-%d", idx),
			Index:           idx,
			Text:            text,
			WordCount:       wc,
			RequiredDwellMs: requiredDwellMs(wc, cfg),
		})
	}
	return blocks
}

func splitMarkup(raw string) []string {
	// Block-level tags become separators; remaining inline tags are dropped.
	raw = blockTagRe.ReplaceAllString(raw, "\n\n")
	raw = tagRe.ReplaceAllString(raw, " ")
	return blankRunRe.Split(raw, -1)
}

func splitPlain(raw string) []string {
	if blankRunRe.MatchString(raw) {
		return blankRunRe.Split(raw, -1)
	}

	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) <= linesPerChunk {
		if len(lines) == 0 {
			return nil
		}
		return []string{strings.Join(lines, "\n")}
	}

	var chunks []string
	for start := 0; start < len(lines); start += linesPerChunk {
		end := start + linesPerChunk
		if end > len(lines) {
			end = len(lines)
		}
		chunks = append(chunks, strings.Join(lines[start:end], "\n"))
	}
	return chunks
}

// requiredDwellMs scales dwell with word count, with a floor so tiny blocks
// cannot be skimmed for free and a ceiling so one giant block cannot stall
// the reader indefinitely.
func requiredDwellMs(wordCount int, cfg Config) int {
	dwell := float64(wordCount) / 100.0 * float64(cfg.DwellPer100wMs)
	if dwell < float64(cfg.MinDwellBaseMs) {
		dwell = float64(cfg.MinDwellBaseMs)
	}
	if dwell > float64(cfg.MaxDwellMs) {
		dwell = float64(cfg.MaxDwellMs)
	}
	if dwell < 0 {
		dwell = 0
	}
	return int(dwell)
}
