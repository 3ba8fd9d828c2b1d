package esp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// findBufferSize caps how many bytes a single read may pull off the
// transport while matching.
const findBufferSize = 8

// matcher consumes bytes from a transport until a literal token has been
// seen. It never reads past the last byte of the match, so whatever follows
// the token stays pending for the next reader.
type matcher struct {
	transport    Transport
	transcript   *transcript
	metrics      *Metrics
	logger       *slog.Logger
	pollInterval time.Duration
}

type findOptions struct {
	// timeout bounds the silence between received bytes.
	timeout time.Duration
	// keep, when set, receives every consumed byte, token included.
	keep *bytes.Buffer
	// verbose logs every chunk read.
	verbose bool
	// limit, when positive, ends the search once that many bytes were
	// consumed without a match.
	limit int
}

// errSearchLimit is returned by find when findOptions.limit is reached.
var errSearchLimit = errors.New("search limit reached")

// find waits for token. An empty token succeeds at once without reading.
// Opening a search closes any write epoch left open by the last command.
func (m *matcher) find(ctx context.Context, token string, opts findOptions) error {
	m.transcript.endWrite()
	if len(token) == 0 {
		return nil
	}

	m.transcript.searching(token)
	err := m.scan(ctx, token, opts)
	m.transcript.result(err)

	switch {
	case err == nil:
		m.metrics.incMatchesFound()
	case errors.Is(err, ErrTimeout):
		m.metrics.incMatchTimeouts()
		m.logger.Debug("token not found", "token", token, "timeout", opts.timeout)
	}
	return err
}

func (m *matcher) scan(ctx context.Context, token string, opts findOptions) error {
	table := prefixTable(token)
	matched := 0
	consumed := 0
	deadline := time.Now().Add(opts.timeout)

	var buf [findBufferSize]byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := 0
		if avail := m.transport.Buffered(); avail > 0 {
			// Only read what can still belong to this token.
			want := min(avail, len(buf), len(token)-matched)
			var err error
			n, err = m.transport.Read(buf[:want])
			if n < want {
				m.metrics.incShortReads()
				m.logger.Debug("transport returned fewer bytes than buffered",
					"error", ErrShortRead, "want", want, "got", n)
			}

			if n > 0 {
				chunk := buf[:n]
				if opts.keep != nil {
					opts.keep.Write(chunk)
				}
				if opts.verbose {
					m.transcript.received(chunk)
					m.logger.Debug("received", "bytes", n, "data", string(chunk))
				}
				for _, c := range chunk {
					matched = advance(token, table, matched, c)
					if matched == len(token) {
						return nil
					}
				}
				consumed += n
				if opts.limit > 0 && consumed >= opts.limit {
					return fmt.Errorf("%w: no %q within %d bytes", errSearchLimit, token, opts.limit)
				}
				// Any received byte restarts the silence timer.
				deadline = time.Now().Add(opts.timeout)
			}

			if err != nil && !isReadTimeout(err) {
				return fmt.Errorf("read: %w", err)
			}
		}
		if n > 0 {
			continue
		}

		// Nothing was buffered or the read came back empty.
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %q", ErrTimeout, token)
		}
		if err := sleepCtx(ctx, m.pollInterval); err != nil {
			return err
		}
	}
}

// prefixTable returns, for every position i of token, the length of the
// longest proper prefix of token[:i+1] that is also its suffix.
func prefixTable(token string) []int {
	table := make([]int, len(token))
	k := 0
	for i := 1; i < len(token); i++ {
		for k > 0 && token[i] != token[k] {
			k = table[k-1]
		}
		if token[i] == token[k] {
			k++
		}
		table[i] = k
	}
	return table
}

// advance feeds c to a partial match of length matched (< len(token)) and
// returns the new match length. On a mismatch it falls back to the longest
// prefix that is still matched instead of restarting from zero, so tokens
// that overlap themselves are not missed.
func advance(token string, table []int, matched int, c byte) int {
	for matched > 0 && token[matched] != c {
		matched = table[matched-1]
	}
	if token[matched] == c {
		matched++
	}
	return matched
}

func isReadTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
