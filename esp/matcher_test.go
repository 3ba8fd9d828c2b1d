package esp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"testing"
	"time"

	"go.uber.org/mock/gomock"
)

func newTestMatcher(transport Transport) (*matcher, *bytes.Buffer) {
	var sink bytes.Buffer
	return &matcher{
		transport:    transport,
		transcript:   newTranscript(&sink),
		metrics:      &Metrics{},
		logger:       slog.New(slog.DiscardHandler),
		pollInterval: time.Millisecond,
	}, &sink
}

func TestPrefixTable(t *testing.T) {
	tests := []struct {
		token    string
		expected []int
	}{
		{"OK\r\n", []int{0, 0, 0, 0}},
		{"aab", []int{0, 1, 0}},
		{"abab", []int{0, 0, 1, 2}},
		{"aaaa", []int{0, 1, 2, 3}},
	}
	for _, tt := range tests {
		if got := prefixTable(tt.token); !slices.Equal(got, tt.expected) {
			t.Errorf("prefixTable(%q) = %v, expected %v", tt.token, got, tt.expected)
		}
	}
}

func TestMatcherFind(t *testing.T) {
	opts := findOptions{timeout: 50 * time.Millisecond}

	tests := []struct {
		name    string
		input   string
		token   string
		pending string
	}{
		{"token only", "OK\r\n", "OK\r\n", ""},
		{"noise before token", "AT+CWMODE=1\r\n\r\nOK\r\n", "OK\r\n", ""},
		{"stops at the end of the token", "OK\r\nOK\r\n", "OK\r\n", "OK\r\n"},
		{"overlapping prefix", "aaab", "aab", ""},
		{"repeated prefix byte", "++IPD,0,4:ping", "+IPD,", "0,4:ping"},
		{"prompt", "\r\nOK\r\n> ", "> ", ""},
		{"partial match abandoned", "OKAY OK\r\nrest", "OK\r\n", "rest"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := NewTestTransport()
			transport.Feed(tt.input)
			m, _ := newTestMatcher(transport)

			if err := m.find(context.Background(), tt.token, opts); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := transport.Pending(); got != tt.pending {
				t.Errorf("expected %q pending, got %q", tt.pending, got)
			}
			if got := m.metrics.MatchesFound.Load(); got != 1 {
				t.Errorf("expected 1 match counted, got %d", got)
			}
		})
	}
}

func TestMatcherFind_EmptyToken(t *testing.T) {
	transport := NewTestTransport()
	transport.Feed("untouched")
	m, _ := newTestMatcher(transport)

	if err := m.find(context.Background(), "", findOptions{timeout: time.Millisecond}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if transport.Pending() != "untouched" {
		t.Errorf("expected input untouched, got %q", transport.Pending())
	}
}

func TestMatcherFind_Timeout(t *testing.T) {
	t.Run("Silence longer than the timeout", func(t *testing.T) {
		transport := NewTestTransport()
		transport.Feed("OK")
		transport.FeedAfter(200*time.Millisecond, "\r\n")
		m, _ := newTestMatcher(transport)

		err := m.find(context.Background(), "OK\r\n", findOptions{timeout: 20 * time.Millisecond})
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("expected ErrTimeout, got: %v", err)
		}
		if got := m.metrics.MatchTimeouts.Load(); got != 1 {
			t.Errorf("expected 1 timeout counted, got %d", got)
		}
	})

	t.Run("Each byte restarts the timeout", func(t *testing.T) {
		transport := NewTestTransport()
		transport.Feed("O")
		transport.FeedAfter(30*time.Millisecond, "K")
		transport.FeedAfter(60*time.Millisecond, "\r")
		transport.FeedAfter(90*time.Millisecond, "\n")
		m, _ := newTestMatcher(transport)

		err := m.find(context.Background(), "OK\r\n", findOptions{timeout: 60 * time.Millisecond})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Nothing at all", func(t *testing.T) {
		m, _ := newTestMatcher(NewTestTransport())

		start := time.Now()
		err := m.find(context.Background(), "ready\r\n", findOptions{timeout: 10 * time.Millisecond})
		if !errors.Is(err, ErrTimeout) {
			t.Errorf("expected ErrTimeout, got: %v", err)
		}
		if elapsed := time.Since(start); elapsed > time.Second {
			t.Errorf("find took %s", elapsed)
		}
	})
}

func TestMatcherFind_Cancelled(t *testing.T) {
	m, _ := newTestMatcher(NewTestTransport())

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(5*time.Millisecond, cancel)

	err := m.find(ctx, "OK\r\n", findOptions{timeout: time.Hour})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got: %v", err)
	}
}

func TestMatcherFind_Keep(t *testing.T) {
	transport := NewTestTransport()
	transport.Feed("0,12:payload")
	m, _ := newTestMatcher(transport)

	var keep bytes.Buffer
	if err := m.find(context.Background(), ":", findOptions{timeout: 10 * time.Millisecond, keep: &keep}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if keep.String() != "0,12:" {
		t.Errorf("expected 0,12: kept, got %q", keep.String())
	}
}

func TestMatcherFind_ShortRead(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := NewMockTransport(ctrl)
	gomock.InOrder(
		transport.EXPECT().Buffered().Return(4),
		transport.EXPECT().Read(gomock.Len(4)).DoAndReturn(func(p []byte) (int, error) {
			return copy(p, "OK"), nil
		}),
		transport.EXPECT().Buffered().Return(2),
		transport.EXPECT().Read(gomock.Len(2)).DoAndReturn(func(p []byte) (int, error) {
			return copy(p, "\r\n"), nil
		}),
	)

	m, _ := newTestMatcher(transport)
	if err := m.find(context.Background(), "OK\r\n", findOptions{timeout: 10 * time.Millisecond}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := m.metrics.ShortReads.Load(); got != 1 {
		t.Errorf("expected 1 short read counted, got %d", got)
	}
}

func TestMatcherFind_EmptyReads(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// Bytes are reported as buffered but every read comes back empty.
	transport := NewMockTransport(ctrl)
	transport.EXPECT().Buffered().Return(1).AnyTimes()
	transport.EXPECT().Read(gomock.Any()).Return(0, os.ErrDeadlineExceeded).AnyTimes()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	m, _ := newTestMatcher(transport)
	start := time.Now()
	err := m.find(ctx, "OK\r\n", findOptions{timeout: 20 * time.Millisecond})
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got: %v", err)
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("timeout not honored, took %s", elapsed)
	}
	if got := m.metrics.MatchTimeouts.Load(); got != 1 {
		t.Errorf("expected 1 timeout counted, got %d", got)
	}
}

func TestMatcherFind_ReadSize(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	// 100 bytes pending, but a 5 byte token never needs more than 5 at once.
	transport := NewMockTransport(ctrl)
	gomock.InOrder(
		transport.EXPECT().Buffered().Return(100),
		transport.EXPECT().Read(gomock.Len(5)).DoAndReturn(func(p []byte) (int, error) {
			return copy(p, "+IPD,"), nil
		}),
	)

	m, _ := newTestMatcher(transport)
	if err := m.find(context.Background(), "+IPD,", findOptions{timeout: 10 * time.Millisecond}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMatcherFind_ReadError(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	transport := NewMockTransport(ctrl)
	gomock.InOrder(
		transport.EXPECT().Buffered().Return(1),
		transport.EXPECT().Read(gomock.Any()).Return(0, io.ErrUnexpectedEOF),
	)

	m, _ := newTestMatcher(transport)
	err := m.find(context.Background(), "OK\r\n", findOptions{timeout: 10 * time.Millisecond})
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("expected io.ErrUnexpectedEOF, got: %v", err)
	}
}

func TestMatcherFind_Transcript(t *testing.T) {
	transport := NewTestTransport()
	transport.Feed("OK\r\n")
	m, sink := newTestMatcher(transport)

	m.transcript.beginWrite()
	if err := m.find(context.Background(), "OK\r\n", findOptions{timeout: 10 * time.Millisecond, verbose: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := sink.String()
	for _, want := range []string{
		"-S-><-S-\r\n",
		`Search for: 'OK\r\n'...`,
		`Got 4 bytes: OK\r\n`,
		"found\r\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("expected transcript to contain %q, got %q", want, got)
		}
	}
	if m.transcript.writing {
		t.Error("write epoch still open after find")
	}
}
