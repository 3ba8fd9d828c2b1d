package esp

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

const transcriptIndent = "  "

var transcriptEscaper = strings.NewReplacer("\r", `\r`, "\n", `\n`)

// transcript renders the exchange with the module for a human reader and
// tracks the write epoch: the span between the first outbound byte of a
// command and the start of waiting for its reply.
//
// Sink errors are ignored. A nil sink still tracks the epoch.
type transcript struct {
	w       io.Writer
	writing bool
}

func newTranscript(w io.Writer) *transcript {
	return &transcript{w: w}
}

// beginWrite opens a write epoch. It reports false when one is already open.
func (t *transcript) beginWrite() bool {
	if t.writing {
		return false
	}
	t.writing = true
	t.printf("\r\n%s-S->", transcriptIndent)
	return true
}

// endWrite closes the open write epoch, if any.
func (t *transcript) endWrite() {
	if !t.writing {
		return
	}
	t.writing = false
	t.printf("<-S-\r\n")
}

func (t *transcript) outbound(p []byte) {
	if t.w == nil {
		return
	}
	_, _ = io.WriteString(t.w, transcriptEscaper.Replace(string(p)))
}

func (t *transcript) searching(token string) {
	t.printf("%sSearch for: '%s'...", transcriptIndent, transcriptEscaper.Replace(token))
}

func (t *transcript) received(p []byte) {
	t.printf("%sGot %d bytes: %s\r\n", transcriptIndent, len(p), transcriptEscaper.Replace(string(p)))
}

func (t *transcript) result(err error) {
	switch {
	case err == nil:
		t.printf("found\r\n")
	case errors.Is(err, ErrTimeout):
		t.printf("not found (timeout)\r\n")
	default:
		t.printf("not found (%v)\r\n", err)
	}
}

func (t *transcript) line(p []byte) {
	t.printf("%s-R->%s<-R-\r\n", transcriptIndent, transcriptEscaper.Replace(string(p)))
}

func (t *transcript) note(msg string) {
	t.printf("%s%s\r\n", transcriptIndent, msg)
}

func (t *transcript) printf(format string, args ...any) {
	if t.w == nil {
		return
	}
	_, _ = fmt.Fprintf(t.w, format, args...)
}

// mirrorTransport duplicates outbound bytes into a transcript.
type mirrorTransport struct {
	Transport
	transcript *transcript
}

func newMirrorTransport(primary Transport, t *transcript) Transport {
	if t == nil || t.w == nil {
		return primary
	}
	return &mirrorTransport{Transport: primary, transcript: t}
}

func (m *mirrorTransport) Write(p []byte) (int, error) {
	m.transcript.outbound(p)
	return m.Transport.Write(p)
}
