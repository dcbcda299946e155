package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// StoredGrant is what the CLI persists between invocations so a user does not
// log in for every command. It is re-verified against the provider before a
// process adopts it.
type StoredGrant struct {
	AccessToken string `json:"access_token"`
	Principal   string `json:"principal"`
	Email       string `json:"email,omitempty"`
}

func baseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".brix")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

func grantPath() (string, error) {
	dir, err := baseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session.json"), nil
}

func SaveGrant(g StoredGrant) error {
	path, err := grantPath()
	if err != nil {
		return err
	}
	body, err := json.MarshalIndent(g, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, body, 0o600)
}

func LoadGrant() (StoredGrant, error) {
	path, err := grantPath()
	if err != nil {
		return StoredGrant{}, err
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return StoredGrant{}, err
	}
	var g StoredGrant
	if err := json.Unmarshal(body, &g); err != nil {
		return StoredGrant{}, err
	}
	if strings.TrimSpace(g.AccessToken) == "" {
		return StoredGrant{}, fmt.Errorf("no access token found in session")
	}
	return g, nil
}

func ClearGrant() error {
	path, err := grantPath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	return os.Remove(path)
}
