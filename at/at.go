// Package at holds the ESP8266 AT command vocabulary: the literal tokens the
// firmware emits, the commands the bridge issues and small helpers for
// formatting commands and parsing the few structured replies the engine reads.
package at

const (
	// Terminal Control
	CRLF   = "\r\n"
	Prompt = "> "

	// Tokens matched literally in the byte stream
	BootBanner     = "ready\r\n"
	OK             = "OK\r\n"
	SendOK         = "SEND OK\r\n"
	Unlink         = "Unlink\r\n"
	FramePrefix    = "+IPD,"
	FrameSeparator = ":"

	// Response lines (CRLF stripped)
	LineOK       = "OK"
	LineError    = "ERROR"
	LineFail     = "FAIL"
	LineSendOK   = "SEND OK"
	LineSendFail = "SEND FAIL"

	// URCs (Unsolicited Result Codes)
	UrcReady          = "ready"
	UrcUnlink         = "Unlink"
	UrcLink           = "Link"
	UrcWifiConnected  = "WIFI CONNECTED"
	UrcWifiGotIP      = "WIFI GOT IP"
	UrcWifiDisconnect = "WIFI DISCONNECT"
	UrcConnect        = ",CONNECT"
	UrcClosed         = ",CLOSED"
)

type ResponseType int

const (
	TypeFinal  ResponseType = iota // OK, ERROR, SEND OK
	TypeURC                        // Asynchronous notifications
	TypeData                       // Intermediate command output (+CIFSR:...)
	TypePrompt                     // CIPSEND input prompt
)

func (t ResponseType) String() string {
	switch t {
	case TypeFinal:
		return "final"
	case TypeURC:
		return "urc"
	case TypeData:
		return "data"
	case TypePrompt:
		return "prompt"
	default:
		return "unknown"
	}
}
