package esp_test

import (
	"strconv"

	"i4.energy/across/espbridge/at"
	"i4.energy/across/espbridge/esp"
)

// ReplySequenceBuilder scripts how a TestTransport answers the commands of
// the Device operations, in the order they are issued.
type ReplySequenceBuilder struct {
	transport *esp.TestTransport
}

func NewReplySequence(transport *esp.TestTransport) *ReplySequenceBuilder {
	return &ReplySequenceBuilder{transport: transport}
}

func (b *ReplySequenceBuilder) OK(cmd string) *ReplySequenceBuilder {
	b.transport.Reply(cmd+at.CRLF, "\r\nOK\r\n")
	return b
}

func (b *ReplySequenceBuilder) Error(cmd string) *ReplySequenceBuilder {
	b.transport.Reply(cmd+at.CRLF, "\r\nERROR\r\n")
	return b
}

func (b *ReplySequenceBuilder) SoftReset() *ReplySequenceBuilder {
	b.transport.Reply("AT+RST\r\n",
		"\r\nOK\r\n",
		" ets Jan  8 2013,rst cause:2, boot mode:(3,6)\r\n",
		"load 0x40100000, len 1856, room 16\r\n",
		"\r\nready\r\n",
	)
	return b.OK(at.CmdEchoOff)
}

func (b *ReplySequenceBuilder) JoinAP(ssid, password string) *ReplySequenceBuilder {
	b.OK(at.CmdStationMode)
	b.transport.Reply(at.JoinAP(ssid, password)+at.CRLF,
		"WIFI CONNECTED\r\n",
		"WIFI GOT IP\r\n",
		"\r\nOK\r\n",
	)
	return b.OK(at.CmdSingleConn)
}

func (b *ReplySequenceBuilder) LocalAddress(ip string) *ReplySequenceBuilder {
	b.transport.Reply(at.CmdLocalAddress+at.CRLF,
		`+CIFSR:STAIP,"`+ip+`"`+"\r\n",
		`+CIFSR:STAMAC,"5c:cf:7f:0a:1b:2c"`+"\r\n",
		"\r\nOK\r\n",
	)
	return b
}

func (b *ReplySequenceBuilder) Accept(port uint16, idleSeconds int) *ReplySequenceBuilder {
	return b.
		OK(at.CmdNormalMode).
		OK(at.CmdMultiConn).
		OK(at.ServerOpen(port)).
		OK(at.ServerTimeout(idleSeconds))
}

// Send scripts a CIPSEND exchange for n bytes on link (negative for the
// single connection) followed by payload.
func (b *ReplySequenceBuilder) Send(link int, payload string) *ReplySequenceBuilder {
	cmd := at.Send(len(payload))
	if link >= 0 {
		cmd = at.SendLink(link, len(payload))
	}
	b.transport.Reply(cmd+at.CRLF, "\r\nOK\r\n> ")
	b.transport.Reply(payload, "\r\nRecv "+strconv.Itoa(len(payload))+" bytes\r\n\r\nSEND OK\r\n")
	return b
}
