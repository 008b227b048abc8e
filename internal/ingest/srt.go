package ingest

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	srtTimestamp  = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}[,.]\d{3}\s*-->\s*\d{2}:\d{2}:\d{2}[,.]\d{3}`)
	markupTags    = regexp.MustCompile(`<[^>]+>|\{[^}]*\}`)
	soundCues     = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)`)
	leadingDash   = regexp.MustCompile(`^\s*-\s*`)
	musicCueLine  = regexp.MustCompile(`(?i)^\s*(\[[^\]]*(music|song)[^\]]*\]|\([^)]*music[^)]*\))\s*$`)
	wordRunes     = regexp.MustCompile(`[^\p{L}\p{N}]`)
	advertisement = []*regexp.Regexp{
		regexp.MustCompile(`(?i)opensubtitles`),
		regexp.MustCompile(`(?i)subtitles? by`),
		regexp.MustCompile(`(?i)synced? and corrected`),
		regexp.MustCompile(`(?i)http(s)?://`),
		regexp.MustCompile(`(?i)\bwww\.`),
	}
)

// PlainText extracts the spoken dialogue from SRT subtitles as a single
// space-separated string. Cue numbers, timestamps, markup, bracketed sound
// cues, lyrics and advertisement cues are dropped.
func PlainText(raw []byte) string {
	content := strings.ReplaceAll(string(raw), "\r\n", "\n")
	content = strings.TrimPrefix(content, "\ufeff")

	var out []string
	for _, block := range strings.Split(strings.TrimSpace(content), "\n\n") {
		lines := cueText(strings.Split(block, "\n"))
		if isAdvertisement(lines) {
			continue
		}
		for _, line := range lines {
			if isLyric(line) {
				continue
			}
			if cleaned := cleanLine(line); cleaned != "" {
				out = append(out, cleaned)
			}
		}
	}
	return strings.Join(out, " ")
}

// cueText strips the leading cue number and timestamp of an SRT block.
func cueText(lines []string) []string {
	start := 0
	if start < len(lines) && isNumeric(lines[start]) {
		start++
	}
	if start < len(lines) && srtTimestamp.MatchString(strings.TrimSpace(lines[start])) {
		start++
	}
	text := make([]string, 0, len(lines)-start)
	for _, line := range lines[start:] {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			text = append(text, trimmed)
		}
	}
	return text
}

func isAdvertisement(lines []string) bool {
	payload := strings.Join(lines, " ")
	for _, pattern := range advertisement {
		if pattern.MatchString(payload) {
			return true
		}
	}
	return false
}

// isLyric reports lines that are music cues or sung lyrics. A line with a
// music note and little else is treated as a lyric too.
func isLyric(line string) bool {
	if musicCueLine.MatchString(line) {
		return true
	}
	if !strings.ContainsRune(line, '♪') {
		return false
	}
	plain := markupTags.ReplaceAllString(line, "")
	plain = strings.TrimSpace(plain)
	if strings.HasPrefix(plain, "♪") || strings.HasSuffix(plain, "♪") {
		return true
	}
	return utf8.RuneCountInString(wordRunes.ReplaceAllString(plain, "")) < 12
}

func cleanLine(line string) string {
	line = markupTags.ReplaceAllString(line, "")
	line = soundCues.ReplaceAllString(line, "")
	line = strings.ReplaceAll(line, "*", "")
	line = leadingDash.ReplaceAllString(line, "")
	return strings.Join(strings.Fields(line), " ")
}

func isNumeric(value string) bool {
	value = strings.TrimSpace(value)
	if value == "" {
		return false
	}
	_, err := strconv.Atoi(value)
	return err == nil
}
