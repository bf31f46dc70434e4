package agent

import (
	"os"
	"path/filepath"
	"time"
)

// maxMemoryContextChars bounds how much of the long-term/daily journal
// files get inlined into the system prompt per turn.
const maxMemoryContextChars = 4000

// loadMemoryContext reads the daily-summary journal files
// (internal/dailysummary writes {memoryDir}/MEMORY.md and
// {memoryDir}/{YYYY-MM-DD}.md) into the long-term and today's memory
// blocks BuildOpts expects. A missing file yields an empty string, not
// an error — there may be no journal yet.
func (l *Loop) loadMemoryContext() (longTerm, today string) {
	if l.memoryDir == "" {
		return "", ""
	}
	longTerm = truncateStr(readFileOrEmpty(filepath.Join(l.memoryDir, "MEMORY.md")), maxMemoryContextChars)
	today = truncateStr(readFileOrEmpty(filepath.Join(l.memoryDir, time.Now().Format("2006-01-02")+".md")), maxMemoryContextChars)
	return longTerm, today
}

func readFileOrEmpty(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}
