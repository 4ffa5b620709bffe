package settings

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/ghostline/errors"
	"github.com/teranos/ghostline/logger"
)

// Save writes s to path, rotating backups first. With device-specific
// settings enabled, the listed keys go to the device override file and are
// left out of the shared file.
func Save(s *Settings, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create settings directory")
	}

	shared, err := toMap(s)
	if err != nil {
		return err
	}

	if s.DeviceSpecific.Enabled {
		device := splitDeviceKeys(shared, s.DeviceSpecific.Keys)
		devicePath := DevicePath(path)

		existing, err := readDeviceFile(devicePath)
		if err != nil {
			return err
		}
		for _, key := range s.DeviceSpecific.Keys {
			if val, ok := lookupPath(device, key); ok {
				setPath(existing, key, val)
			}
		}
		if err := writeDeviceFile(devicePath, existing); err != nil {
			return err
		}
	}

	if err := createBackup(path); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(shared)
	if err != nil {
		return errors.Wrap(err, "failed to marshal settings")
	}

	// Mark this as our own write to prevent reload loops
	if w := GetGlobalWatcher(); w != nil {
		w.MarkOwnWrite()
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(err, "failed to write settings")
	}

	logger.Debugw("Settings saved", logger.FieldPath, path)
	return nil
}

// toMap round-trips s through TOML so nested sections become nested maps.
func toMap(s *Settings) (map[string]interface{}, error) {
	data, err := toml.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal settings")
	}
	m := make(map[string]interface{})
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "failed to convert settings")
	}
	return m, nil
}

// createBackup creates rotating backups (.back1, .back2, .back3) before modifying settings
func createBackup(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	back3 := path + ".back3"
	back2 := path + ".back2"
	back1 := path + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete old settings backup", logger.FieldPath, back3, logger.FieldError, err)
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}

	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read settings for backup")
	}

	if err := os.WriteFile(back1, content, 0600); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}

	return nil
}
