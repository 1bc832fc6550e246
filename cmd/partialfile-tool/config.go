package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// configuration is the on-disk shape of the single YAML file this
// tool takes as its only argument. It describes the loopback medium
// to simulate and the extent to create or resume a transfer against.
type configuration struct {
	// DeviceSizeBytes is the size of the in-memory block device to
	// simulate standing in for the USB mass-storage medium.
	DeviceSizeBytes uint64 `yaml:"deviceSizeBytes"`
	// LUN identifies the logical unit the extent is allocated on.
	LUN uint32 `yaml:"lun"`
	// FirstSectorNbr is the absolute LBA the allocator's sector space
	// begins at.
	FirstSectorNbr uint32 `yaml:"firstSectorNbr"`
	// SectorCount is how many sectors, starting at FirstSectorNbr,
	// the allocator may hand out.
	SectorCount uint32 `yaml:"sectorCount"`

	// TransferPath is the path the extent is created or reopened
	// under within the simulated medium.
	TransferPath string `yaml:"transferPath"`
	// TransferSizeBytes is the total size of a new transfer. Ignored
	// when resuming, since the extent already records its own size.
	TransferSizeBytes uint64 `yaml:"transferSizeBytes"`
	// SectorPoolSize bounds how many sector buffers are in flight at
	// once. Defaults to 4 when zero.
	SectorPoolSize int `yaml:"sectorPoolSize"`

	// StateFilePath is where the transfer's resume state is read from
	// on startup and written back to once, after the final sync at the
	// end of the run.
	StateFilePath string `yaml:"stateFilePath"`
}

func readConfiguration(path string) (*configuration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var config configuration
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}
