package at

import (
	"fmt"
	"strconv"
)

// Fixed commands. The engine terminates every command with CRLF.
const (
	CmdReset         = "AT+RST"
	CmdEchoOff       = "ATE0"
	CmdStationMode   = "AT+CWMODE=1"
	CmdQuitAP        = "AT+CWQAP"
	CmdSingleConn    = "AT+CIPMUX=0"
	CmdMultiConn     = "AT+CIPMUX=1"
	CmdNormalMode    = "AT+CIPMODE=0"
	CmdServerClose   = "AT+CIPSERVER=0"
	CmdClose         = "AT+CIPCLOSE"
	CmdLocalAddress  = "AT+CIFSR"
	MaxServerTimeout = 7200 // seconds, firmware limit for AT+CIPSTO
)

// JoinAP joins a WiFi access point in station mode.
func JoinAP(ssid, password string) string {
	return fmt.Sprintf(`AT+CWJAP="%s","%s"`, ssid, password)
}

// TCPStart opens a single client connection.
func TCPStart(host string, port int) string {
	return fmt.Sprintf(`AT+CIPSTART="TCP","%s",%d`, host, port)
}

// ServerOpen starts listening on port. Requires multi-connection mode.
func ServerOpen(port uint16) string {
	return "AT+CIPSERVER=1," + strconv.Itoa(int(port))
}

// ServerTimeout sets the idle timeout, in seconds, after which the
// firmware drops an inactive server-side client.
func ServerTimeout(seconds int) string {
	return "AT+CIPSTO=" + strconv.Itoa(seconds)
}

// Send announces n payload bytes on the single client connection.
func Send(n int) string {
	return "AT+CIPSEND=" + strconv.Itoa(n)
}

// SendLink announces n payload bytes on link id (multi-connection mode).
func SendLink(id, n int) string {
	return fmt.Sprintf("AT+CIPSEND=%d,%d", id, n)
}

// CloseLink closes link id (multi-connection mode).
func CloseLink(id int) string {
	return "AT+CIPCLOSE=" + strconv.Itoa(id)
}

// HTTPGet builds a minimal HTTP/1.1 GET request for path on host.
func HTTPGet(path, host string) string {
	return "GET " + path + " HTTP/1.1\r\nHost: " + host + "\r\n\r\n"
}
