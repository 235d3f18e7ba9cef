package socks5

import (
	"errors"
	"fmt"
	"net"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
)

// ErrAuthRequired is returned when the server insists on username/password
// authentication but no credentials were configured.
var ErrAuthRequired = errors.New("socks5: server requires username/password")

// ErrDomainTooLong is returned for host names that do not fit the one-byte
// length of a SOCKS5 domain address.
var ErrDomainTooLong = errors.New("socks5: domain name longer than 255 bytes")

const maxDomainLen = 255

// Connect negotiates auth on conn and asks the server to CONNECT to address,
// which may carry a host name that the server resolves.
func Connect(conn net.Conn, auth Auth, address string) error {
	if err := negotiateClient(conn, auth); err != nil {
		return err
	}
	return requestConnect(conn, address)
}

func negotiateClient(conn net.Conn, auth Auth) error {
	methods := []byte{txsocks5.MethodNone}
	if auth.Username != "" {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(conn); err != nil {
		return fmt.Errorf("socks5 write negotiation: %w", err)
	}
	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("socks5 read negotiation: %w", err)
	}
	if !slices.Contains(methods, neg.Method) {
		return fmt.Errorf("socks5: server chose unoffered method %#x", neg.Method)
	}
	if neg.Method == txsocks5.MethodNone {
		return nil
	}

	if auth.Username == "" {
		return ErrAuthRequired
	}
	req := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password))
	if _, err := req.WriteTo(conn); err != nil {
		return fmt.Errorf("socks5 write userpass: %w", err)
	}
	rep, err := txsocks5.NewUserPassNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("socks5 read userpass: %w", err)
	}
	if rep.Status != txsocks5.UserPassStatusSuccess {
		return errors.New("socks5: authentication rejected")
	}
	return nil
}

func requestConnect(conn net.Conn, address string) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("socks5 parse address %q: %w", address, err)
	}
	if len(host) > maxDomainLen {
		return ErrDomainTooLong
	}

	atyp, addr, port, err := txsocks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("socks5 parse address %q: %w", address, err)
	}
	if atyp == txsocks5.ATYPDomain {
		// ParseAddress prefixes domains with their length; NewRequest adds
		// it again.
		addr = addr[1:]
	}

	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, addr, port).WriteTo(conn); err != nil {
		return fmt.Errorf("socks5 write request: %w", err)
	}
	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("socks5 read reply: %w", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return &ReplyError{Code: rep.Rep}
	}
	return nil
}
