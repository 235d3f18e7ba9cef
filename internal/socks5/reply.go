package socks5

import (
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// CmdConnect is the SOCKS5 CONNECT command.
const CmdConnect = txsocks5.CmdConnect

// Auth holds optional username/password credentials.
type Auth struct {
	Username string
	Password string
}

// ReplyError is a non-success reply from a SOCKS5 server.
type ReplyError struct {
	Code byte
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("socks5: connect failed: reply code %#x", e.Code)
}

// WriteCommandNotSupported tells the client its command is not implemented.
func WriteCommandNotSupported(conn net.Conn, atyp byte) {
	_, _ = zeroAddrReply(txsocks5.RepCommandNotSupported, atyp).WriteTo(conn)
}

// WriteHostUnreachable tells the client the destination could not be reached.
func WriteHostUnreachable(conn net.Conn, atyp byte) {
	_, _ = zeroAddrReply(txsocks5.RepHostUnreachable, atyp).WriteTo(conn)
}

// WriteSuccess writes a success reply with bound as the bound address.
func WriteSuccess(conn net.Conn, bound net.Addr) error {
	atyp, addr, port, err := txsocks5.ParseAddress(bound.String())
	if err != nil {
		return fmt.Errorf("socks5 parse bound address %q: %w", bound, err)
	}
	if atyp == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, atyp, addr, port).WriteTo(conn); err != nil {
		return fmt.Errorf("socks5 success reply: %w", err)
	}
	return nil
}

func zeroAddrReply(rep, atyp byte) *txsocks5.Reply {
	if atyp == txsocks5.ATYPIPv6 {
		return txsocks5.NewReply(rep, txsocks5.ATYPIPv6, []byte(net.IPv6zero), []byte{0x00, 0x00})
	}
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}

// RFC 1928: 0xFF means none of the offered methods is acceptable.
func writeNoAcceptableMethods(conn net.Conn) {
	_, _ = txsocks5.NewNegotiationReply(0xff).WriteTo(conn)
}
