package settings

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/teranos/ghostline/errors"
)

// DevicePath returns the per-host override file next to configPath:
// device-<hostname>.toml.
func DevicePath(configPath string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	host = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, host)
	return filepath.Join(filepath.Dir(configPath), "device-"+host+".toml")
}

// applyDeviceOverrides copies the device-specific keys from the override file
// into v. Missing file or disabled feature is a no-op.
func applyDeviceOverrides(v *viper.Viper, configPath string) error {
	if !v.GetBool("device_specific.enabled") {
		return nil
	}

	path := DevicePath(configPath)
	values, err := readDeviceFile(path)
	if err != nil {
		return err
	}

	for _, key := range v.GetStringSlice("device_specific.keys") {
		if val, ok := lookupPath(values, key); ok {
			v.Set(key, val)
		}
	}
	return nil
}

func readDeviceFile(path string) (map[string]interface{}, error) {
	values := make(map[string]interface{})
	if _, err := toml.DecodeFile(path, &values); err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, errors.Wrapf(err, "failed to read device settings %s", path)
	}
	return values, nil
}

func writeDeviceFile(path string, values map[string]interface{}) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrapf(err, "failed to open device settings %s", path)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(values); err != nil {
		return errors.Wrapf(err, "failed to encode device settings %s", path)
	}
	return nil
}

// splitDeviceKeys moves the listed dotted keys out of shared into a new map.
func splitDeviceKeys(shared map[string]interface{}, keys []string) map[string]interface{} {
	device := make(map[string]interface{})
	for _, key := range keys {
		val, ok := lookupPath(shared, key)
		if !ok {
			continue
		}
		setPath(device, key, val)
		deletePath(shared, key)
	}
	return device
}

func lookupPath(m map[string]interface{}, key string) (interface{}, bool) {
	parts := strings.Split(key, ".")
	var cur interface{} = m
	for _, part := range parts {
		node, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(m map[string]interface{}, key string, val interface{}) {
	parts := strings.Split(key, ".")
	node := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			node[part] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = val
}

func deletePath(m map[string]interface{}, key string) {
	parts := strings.Split(key, ".")
	node := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]interface{})
		if !ok {
			return
		}
		node = next
	}
	delete(node, parts[len(parts)-1])
}
