package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Template renders Default as a TOML file a user can edit.
func Template() ([]byte, error) {
	def := Default()
	raw := fileConfig{
		AgentAddress:       def.Client.Address,
		FrameHeapBytes:     def.Client.FrameHeapSize,
		ConnectTimeout:     def.Client.ConnectTimeout.String(),
		WriteTimeout:       def.Client.WriteTimeout.String(),
		MaxConnectAttempts: def.Client.MaxConnectAttempts,
		StatusAddress:      "",
		CORSOrigins:        []string{"http://localhost:3000"},
		EntityFile:         "",
		LogLevel:           def.LogLevel,
	}
	out, err := toml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("render bw2ctl config: %w", err)
	}
	return out, nil
}

// WriteTemplate writes Template to path, refusing to replace an existing
// file unless overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	data, err := Template()
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, data, 0o600)
}
