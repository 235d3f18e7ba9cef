package upstream

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/die-net/multiproxy/internal/dialer"
)

// ServerConfig describes one upstream server.
type ServerConfig struct {
	Tag       string `toml:"tag"`
	URL       string `toml:"url"`
	ScoreBase int64  `toml:"score_base"`
}

type listFile struct {
	Servers []ServerConfig `toml:"server"`
}

// LoadListFile reads server definitions from a TOML file of the form:
//
//	[[server]]
//	tag = "tokyo"
//	url = "socks5://192.0.2.10:1080"
//	score_base = 20
func LoadListFile(path string) ([]ServerConfig, error) {
	var f listFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("server list %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("server list %s: unknown key %q", path, undecoded[0].String())
	}
	return f.Servers, nil
}

// ParseServerFlag parses "URL" or "URL#tag".
func ParseServerFlag(s string) ServerConfig {
	u, tag, _ := strings.Cut(s, "#")
	return ServerConfig{URL: u, Tag: tag}
}

// BuildList constructs servers and their dialers. Tags default to the
// upstream's host:port and must be unique.
func BuildList(cfg dialer.Config, confs []ServerConfig) (*ServerList, error) {
	if len(confs) == 0 {
		return nil, errors.New("no upstream servers configured")
	}

	seen := make(map[string]bool, len(confs))
	servers := make([]*Server, 0, len(confs))
	for _, c := range confs {
		u, err := dialer.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("server %q: %w", c.URL, err)
		}
		d, err := dialer.New(cfg, c.URL)
		if err != nil {
			return nil, fmt.Errorf("server %q: %w", c.URL, err)
		}

		tag := c.Tag
		if tag == "" {
			tag = u.Host
			if tag == "" {
				tag = u.Scheme
			}
		}
		if seen[tag] {
			return nil, fmt.Errorf("duplicate server tag %q", tag)
		}
		seen[tag] = true

		servers = append(servers, NewServer(tag, u.Redacted(), c.ScoreBase, d))
	}
	return NewServerList(servers), nil
}
