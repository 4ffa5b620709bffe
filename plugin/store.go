package plugin

import (
	"github.com/teranos/ghostline/settings"
)

// FileStore keeps settings in a TOML file. Saves rotate backups and write
// the device override file when device-specific settings are on.
//
// An empty Path means the layered configuration: defaults, the user file,
// a project ghostline.toml and GHOSTLINE_* variables. Saves then go to the
// user file.
type FileStore struct {
	Path string
}

// Load reads the settings. A missing file yields the defaults.
func (f FileStore) Load() (*settings.Settings, error) {
	if f.Path == "" {
		s, err := settings.Load()
		if err != nil {
			return nil, err
		}
		return s.Clone(), nil
	}
	return settings.LoadFromFile(f.Path)
}

// Save writes s to the file.
func (f FileStore) Save(s *settings.Settings) error {
	if err := settings.Save(s, f.File()); err != nil {
		return err
	}
	settings.Reset()
	return nil
}

// File is the path Save writes to.
func (f FileStore) File() string {
	if f.Path == "" {
		return settings.DefaultPath()
	}
	return f.Path
}
