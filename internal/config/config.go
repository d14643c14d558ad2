// Package config holds the agent's run configuration and the optional
// on-disk credential table. Argument parsing itself lives in cmd/agent;
// this package only shapes the data and loads the users file, grounded on
// the teacher's encoding/json + os.Open loader.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/paulGUZU/revsocks/internal/socks5"
)

// Config is the agent's run configuration, per spec §6.
type Config struct {
	Host           string
	Port           uint16
	TLS            bool
	Tor            bool
	ConnectTimeout time.Duration
	UsersFile      string
}

// usersFile is the on-disk shape of an optional credential table:
//
//	{"users": [{"username": "alice", "password": "s3cret"}]}
type usersFile struct {
	Users []struct {
		Username string `json:"username"`
		Password string `json:"password"`
	} `json:"users"`
}

// LoadUsers reads a JSON credential table from path. An empty path is not
// an error: it means no credentials are configured, per spec §3's default
// (empty set + NO AUTH).
func LoadUsers(path string) ([]socks5.Credential, error) {
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open users file: %w", err)
	}
	defer f.Close()

	var parsed usersFile
	if err := json.NewDecoder(f).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("parse users file: %w", err)
	}

	creds := make([]socks5.Credential, 0, len(parsed.Users))
	for _, u := range parsed.Users {
		creds = append(creds, socks5.Credential{Username: u.Username, Password: u.Password})
	}
	return creds, nil
}
