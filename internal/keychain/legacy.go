package keychain

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// LegacyAccount is one entry of the pre-keychain plaintext accounts
// file. Field names match the historical on-disk format.
type LegacyAccount struct {
	Name                string          `json:"name"`
	Active              bool            `json:"active"`
	Password            string          `json:"password,omitempty"`
	ServerHost          string          `json:"serverHost,omitempty"`
	RosterVersion       string          `json:"rosterVersion,omitempty"`
	Nickname            string          `json:"nickname,omitempty"`
	PresenceDescription string          `json:"presenceDescription,omitempty"`
	PushEnabled         bool            `json:"pushNotifications,omitempty"`
	DisableTLS13        bool            `json:"disableTLS13,omitempty"`
	Endpoint            *LegacyEndpoint `json:"endpoint,omitempty"`
}

// LegacyEndpoint is the historical connection endpoint shape.
type LegacyEndpoint struct {
	Proto string `json:"proto"`
	Host  string `json:"host"`
	Port  int    `json:"port"`
}

// ReadLegacy loads the legacy accounts file, sorted by account name.
// A missing file yields an empty result, not an error.
func ReadLegacy(path string) ([]LegacyAccount, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read legacy accounts: %w", err)
	}
	var accounts []LegacyAccount
	if err := json.Unmarshal(data, &accounts); err != nil {
		return nil, fmt.Errorf("parse legacy accounts: %w", err)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].Name < accounts[j].Name
	})
	return accounts, nil
}
