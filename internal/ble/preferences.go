package ble

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
)

type preferencesData struct {
	PreferredDeviceAddress string `json:"preferred_device_address"`
	PreferredDeviceName    string `json:"preferred_device_name"`
}

// Preferences remembers the last peripheral the user connected to so the next
// session can skip the picker and go straight to a bonded scan.
type Preferences struct {
	filePath string
	data     preferencesData
	logger   *log.Logger
}

func NewPreferences(dataDir string, logger *log.Logger) *Preferences {
	if logger == nil {
		panic("Preferences: logger cannot be nil")
	}
	p := &Preferences{
		filePath: filepath.Join(dataDir, "preferred_device.json"),
		logger:   logger,
	}
	p.load()
	return p
}

func (p *Preferences) PreferredDevice() (address, name string) {
	return p.data.PreferredDeviceAddress, p.data.PreferredDeviceName
}

func (p *Preferences) SetPreferredDevice(address, name string) {
	p.logger.Printf("Preferences: setPreferredDevice %q (%s)", name, address)
	p.data.PreferredDeviceAddress = address
	p.data.PreferredDeviceName = name
	p.save()
}

func (p *Preferences) load() {
	p.data = preferencesData{}
	raw, err := os.ReadFile(p.filePath)
	if err != nil {
		p.logger.Printf("Preferences: load %s (no existing file)", p.filePath)
		return
	}
	if err := json.Unmarshal(raw, &p.data); err != nil {
		p.logger.Printf("Preferences: load %s failed to parse: %v", p.filePath, err)
		return
	}
	p.logger.Printf("Preferences: load %s -> %q (%s)", p.filePath, p.data.PreferredDeviceName, p.data.PreferredDeviceAddress)
}

func (p *Preferences) save() {
	if err := os.MkdirAll(filepath.Dir(p.filePath), 0755); err != nil {
		p.logger.Printf("Preferences: save mkdir failed: %v", err)
		return
	}
	raw, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		p.logger.Printf("Preferences: save marshal failed: %v", err)
		return
	}
	if err := os.WriteFile(p.filePath, raw, 0644); err != nil {
		p.logger.Printf("Preferences: save %s failed: %v", p.filePath, err)
		return
	}
}
