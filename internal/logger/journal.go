package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

// The journal is a second, plain-text stream that records every evaluated
// signal with its reasons. It is off unless a writer is installed.
var (
	journalMu  sync.Mutex
	journalLog *log.Logger
)

func SetJournalWriter(w io.Writer) {
	journalMu.Lock()
	defer journalMu.Unlock()
	if w == nil {
		journalLog = nil
		return
	}
	journalLog = log.New(w, "", log.LstdFlags)
}

type JournalSection struct {
	Title string
	Body  string
}

func Journal(kind, symbol string, sections ...JournalSection) {
	journalMu.Lock()
	out := journalLog
	journalMu.Unlock()
	if out == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[SIGNAL]")
	for _, tag := range []string{kind, symbol} {
		if tag == "" {
			continue
		}
		b.WriteString("[")
		b.WriteString(tag)
		b.WriteString("]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- ")
		b.WriteString(t)
		b.WriteString(" ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	out.Print(b.String())
}
