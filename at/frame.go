package at

import (
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

var ErrMalformedHeader = errors.New("malformed +IPD header")

// FrameHeader is the metadata the firmware places between "+IPD," and ":".
//
// Depending on the connection mode and AT+CIPDINFO the header is one of
//
//	<len>
//	<len>,<ip>,<port>
//	<id>,<len>
//	<id>,<len>,<ip>,<port>
//
// LinkID is 0 in single-connection mode.
type FrameHeader struct {
	LinkID     int
	Length     int
	RemoteIP   netip.Addr
	RemotePort int
}

// ParseFrameHeader parses the raw header text, without the "+IPD," prefix
// and ":" separator.
func ParseFrameHeader(raw string) (FrameHeader, error) {
	var h FrameHeader

	fields := strings.Split(strings.TrimSpace(raw), ",")
	var err error
	switch len(fields) {
	case 1:
		h.Length, err = parseNonNegative(fields[0])
	case 2:
		if h.LinkID, err = parseNonNegative(fields[0]); err == nil {
			h.Length, err = parseNonNegative(fields[1])
		}
	case 3:
		if h.Length, err = parseNonNegative(fields[0]); err == nil {
			h.RemoteIP, h.RemotePort, err = parseRemote(fields[1], fields[2])
		}
	case 4:
		if h.LinkID, err = parseNonNegative(fields[0]); err != nil {
			break
		}
		if h.Length, err = parseNonNegative(fields[1]); err == nil {
			h.RemoteIP, h.RemotePort, err = parseRemote(fields[2], fields[3])
		}
	default:
		err = fmt.Errorf("%d fields", len(fields))
	}
	if err != nil {
		return FrameHeader{}, fmt.Errorf("%w %q: %v", ErrMalformedHeader, raw, err)
	}

	return h, nil
}

func parseNonNegative(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}

func parseRemote(ip, port string) (netip.Addr, int, error) {
	addr, err := netip.ParseAddr(strings.Trim(ip, `"`))
	if err != nil {
		return netip.Addr{}, 0, err
	}
	p, err := parseNonNegative(port)
	if err != nil {
		return netip.Addr{}, 0, err
	}
	return addr, p, nil
}

// ParseLocalIP extracts the address from one line of AT+CIFSR output.
// Both the bare form ("192.168.1.5") and the tagged form
// (+CIFSR:STAIP,"192.168.1.5") are accepted.
func ParseLocalIP(line string) (netip.Addr, error) {
	line = strings.TrimSpace(line)
	if rest, ok := strings.CutPrefix(line, "+CIFSR:"); ok {
		_, value, found := strings.Cut(rest, ",")
		if !found {
			return netip.Addr{}, fmt.Errorf("no address in %q", line)
		}
		line = value
	}
	return netip.ParseAddr(strings.Trim(line, `"`))
}
