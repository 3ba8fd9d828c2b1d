package esp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"i4.energy/across/espbridge/at"
)

// maxFrameHeaderLength bounds the bytes between "+IPD," and ":". The longest
// form, <id>,<len>,"<ip>",<port>, stays well below it.
const maxFrameHeaderLength = 64

// readFrame waits for token. With framing it first skips everything up to
// and including the next "+IPD,<header>:" so the transport is left at the
// first payload byte, and only then looks for token. An empty token ends the
// call right there.
//
// A malformed header is logged and reported as a zero FrameHeader; only a
// missing "+IPD," or ":" fails the call. A header that runs past
// maxFrameHeaderLength without its ":" fails with ErrMalformedHeader.
func (m *matcher) readFrame(ctx context.Context, token string, framing bool, opts findOptions) (at.FrameHeader, error) {
	if !framing {
		return at.FrameHeader{}, m.find(ctx, token, opts)
	}

	m.transcript.note("")
	if err := m.find(ctx, at.FramePrefix, findOptions{timeout: opts.timeout, verbose: opts.verbose}); err != nil {
		return at.FrameHeader{}, fmt.Errorf("frame prefix: %w", err)
	}

	var header bytes.Buffer
	err := m.find(ctx, at.FrameSeparator, findOptions{
		timeout: opts.timeout,
		keep:    &header,
		verbose: opts.verbose,
		limit:   maxFrameHeaderLength,
	})
	switch {
	case errors.Is(err, errSearchLimit):
		m.logger.Warn("frame header too long", "header", header.String())
		return at.FrameHeader{}, fmt.Errorf("%w: %w", ErrMalformedHeader, err)
	case err != nil:
		return at.FrameHeader{}, fmt.Errorf("frame header: %w", err)
	}

	raw := strings.TrimSuffix(header.String(), at.FrameSeparator)
	h, err := at.ParseFrameHeader(raw)
	if err != nil {
		m.logger.Warn("ignoring frame header", "header", raw, "error", err)
		h = at.FrameHeader{}
	}

	if len(token) == 0 {
		return h, nil
	}
	return h, m.find(ctx, token, opts)
}
