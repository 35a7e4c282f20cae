package identity

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const (
	DeviceIDKey        = "TICOS_DEVICE_ID"
	HardwareVersionKey = "TICOS_HARDWARE_VERSION"
)

// values end up unquoted in a shell script and in remote query paths
var safeValue = regexp.MustCompile(`^[A-Za-z0-9._:+-]+$`)

// Identity is the per-test device identity baked into a provisioned image.
// DeviceID doubles as the correlation key for every remote query.
type Identity struct {
	DeviceID        string `json:"deviceId"`
	HardwareVersion string `json:"hardwareVersion"`
}

// New returns an identity with a fresh random device id.
func New(hardwareVersion string) Identity {
	return Identity{
		DeviceID:        uuid.NewString(),
		HardwareVersion: hardwareVersion,
	}
}

func (i Identity) Validate() error {
	var errs []error
	if i.DeviceID == "" {
		errs = append(errs, errors.New("device id is empty"))
	} else if !safeValue.MatchString(i.DeviceID) {
		errs = append(errs, fmt.Errorf("device id %q contains unsupported characters", i.DeviceID))
	}
	if i.HardwareVersion == "" {
		errs = append(errs, errors.New("hardware version is empty"))
	} else if !safeValue.MatchString(i.HardwareVersion) {
		errs = append(errs, fmt.Errorf("hardware version %q contains unsupported characters", i.HardwareVersion))
	}
	return errors.Join(errs...)
}

// Script renders the executable the device init sequence runs to learn its identity.
func (i Identity) Script() []byte {
	var b bytes.Buffer
	b.WriteString("#!/bin/sh\n")
	fmt.Fprintf(&b, "echo %s=%s\n", DeviceIDKey, i.DeviceID)
	fmt.Fprintf(&b, "echo %s=%s\n", HardwareVersionKey, i.HardwareVersion)
	return b.Bytes()
}

// ParseEnv reads KEY=value lines as printed by the identity script. The
// script text itself is accepted too, so an extracted file can be checked
// without running it.
func ParseEnv(data []byte) (Identity, error) {
	var id Identity
	seen := map[string]bool{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		line = strings.TrimPrefix(line, "echo ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case DeviceIDKey:
			id.DeviceID = value
		case HardwareVersionKey:
			id.HardwareVersion = value
		default:
			continue
		}
		if seen[key] {
			return Identity{}, fmt.Errorf("duplicate %s", key)
		}
		seen[key] = true
	}
	if err := scanner.Err(); err != nil {
		return Identity{}, err
	}
	if !seen[DeviceIDKey] || !seen[HardwareVersionKey] {
		return Identity{}, fmt.Errorf("expected %s and %s", DeviceIDKey, HardwareVersionKey)
	}
	return id, nil
}

func (i Identity) String() string {
	return fmt.Sprintf("%s=%s %s=%s", DeviceIDKey, i.DeviceID, HardwareVersionKey, i.HardwareVersion)
}
