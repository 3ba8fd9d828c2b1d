package at

import (
	"bufio"
	"bytes"
	"strings"
)

// Splitter is used for tokenizing ESP8266 output. It uses the signature of
// bufio.SplitFunc so it can be directly used with bufio.Scanner.
//
// It splits the input by CRLF line endings and also recognizes the
// CIPSEND input prompt ("> ").
//
// Splitter is meant for output that is logged or classified after the fact
// (drained bytes, unsolicited reports). The engine itself never line-splits
// "+IPD" frames: their payload may contain CRLF.
//
// The atEOF parameter indicates whether any more data will be available.
// When true, any remaining data is returned as the final token.
func Splitter(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	// 1. Match send prompt
	if bytes.HasPrefix(data, []byte(Prompt)) {
		return len(Prompt), data[0:len(Prompt)], nil
	}

	// 2. Match standard line ending with CRLF
	if i := bytes.Index(data, []byte(CRLF)); i >= 0 {
		return i + len(CRLF), data[0:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

var _ bufio.SplitFunc = Splitter

// Classify identifies the nature of the ESP8266 output
func Classify(line string) ResponseType {
	if line == Prompt {
		return TypePrompt
	}

	// Direct matches for final results
	switch line {
	case LineOK, LineError, LineFail, LineSendOK, LineSendFail:
		return TypeFinal
	case UrcReady, UrcUnlink, UrcLink, UrcWifiConnected, UrcWifiGotIP, UrcWifiDisconnect:
		return TypeURC
	}

	// Prefix and suffix matches
	switch {
	case strings.HasPrefix(line, FramePrefix):
		return TypeURC
	case isLinkEvent(line, UrcConnect), isLinkEvent(line, UrcClosed):
		return TypeURC
	default:
		return TypeData
	}
}

// isLinkEvent reports lines such as "0,CONNECT" or "3,CLOSED".
func isLinkEvent(line, suffix string) bool {
	id, ok := strings.CutSuffix(line, suffix)
	if !ok || id == "" {
		return false
	}
	for _, c := range id {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
