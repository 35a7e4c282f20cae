package client

import (
	"encoding/json"
	"fmt"
)

// RebootReason is the reboot reason code reported by the device.
type RebootReason int

const (
	RebootReasonUnknown            RebootReason = 0x0000
	RebootReasonUserShutdown       RebootReason = 0x0001
	RebootReasonUserReset          RebootReason = 0x0002
	RebootReasonFirmwareUpdate     RebootReason = 0x0003
	RebootReasonLowPower           RebootReason = 0x0004
	RebootReasonDebuggerHalted     RebootReason = 0x0005
	RebootReasonButtonReset        RebootReason = 0x0006
	RebootReasonPowerOnReset       RebootReason = 0x0007
	RebootReasonSoftwareReset      RebootReason = 0x0008
	RebootReasonDeepSleep          RebootReason = 0x0009
	RebootReasonPinReset           RebootReason = 0x000A
	RebootReasonUnknownError       RebootReason = 0x8000
	RebootReasonAssert             RebootReason = 0x8001
	RebootReasonWatchdogDeprecated RebootReason = 0x8002
	RebootReasonBrownOutReset      RebootReason = 0x8003
	RebootReasonNmi                RebootReason = 0x8004
	RebootReasonHardwareWatchdog   RebootReason = 0x8005
	RebootReasonSoftwareWatchdog   RebootReason = 0x8006
	RebootReasonClockFailure       RebootReason = 0x8007
	RebootReasonKernelPanic        RebootReason = 0x8008
	RebootReasonFirmwareUpdateErr  RebootReason = 0x8009
	RebootReasonBusFault           RebootReason = 0x9100
	RebootReasonMemFault           RebootReason = 0x9200
	RebootReasonUsageFault         RebootReason = 0x9300
	RebootReasonHardFault          RebootReason = 0x9400
	RebootReasonLockup             RebootReason = 0x9401
)

var rebootReasonNames = map[RebootReason]string{
	RebootReasonUnknown:            "Unknown",
	RebootReasonUserShutdown:       "UserShutdown",
	RebootReasonUserReset:          "UserReset",
	RebootReasonFirmwareUpdate:     "FirmwareUpdate",
	RebootReasonLowPower:           "LowPower",
	RebootReasonDebuggerHalted:     "DebuggerHalted",
	RebootReasonButtonReset:        "ButtonReset",
	RebootReasonPowerOnReset:       "PowerOnReset",
	RebootReasonSoftwareReset:      "SoftwareReset",
	RebootReasonDeepSleep:          "DeepSleep",
	RebootReasonPinReset:           "PinReset",
	RebootReasonUnknownError:       "UnknownError",
	RebootReasonAssert:             "Assert",
	RebootReasonWatchdogDeprecated: "WatchdogDeprecated",
	RebootReasonBrownOutReset:      "BrownOutReset",
	RebootReasonNmi:                "Nmi",
	RebootReasonHardwareWatchdog:   "HardwareWatchdog",
	RebootReasonSoftwareWatchdog:   "SoftwareWatchdog",
	RebootReasonClockFailure:       "ClockFailure",
	RebootReasonKernelPanic:        "KernelPanic",
	RebootReasonFirmwareUpdateErr:  "FirmwareUpdateError",
	RebootReasonBusFault:           "BusFault",
	RebootReasonMemFault:           "MemFault",
	RebootReasonUsageFault:         "UsageFault",
	RebootReasonHardFault:          "HardFault",
	RebootReasonLockup:             "Lockup",
}

func (r RebootReason) String() string {
	if name, ok := rebootReasonNames[r]; ok {
		return fmt.Sprintf("%s(0x%04x)", name, int(r))
	}
	return fmt.Sprintf("0x%04x", int(r))
}

// Unexpected reports whether the reason is in the error range.
func (r RebootReason) Unexpected() bool {
	return r >= RebootReasonUnknownError
}

// RebootEvent is one entry of a device's reboot history.
type RebootEvent struct {
	Reason       RebootReason `json:"reason"`
	DeviceSerial string       `json:"device_serial,omitempty"`
	Time         string       `json:"time,omitempty"`
	SoftwareType string       `json:"software_type,omitempty"`
}

// Report is a heartbeat or metric report uploaded by a device.
type Report struct {
	DeviceSerial string         `json:"device_serial,omitempty"`
	Type         string         `json:"type,omitempty"`
	Metrics      map[string]any `json:"metrics"`
}

type DeviceRef struct {
	DeviceSerial string `json:"device_serial"`
}

// ElfCoredump is a processed core file uploaded by a device.
type ElfCoredump struct {
	ID     json.Number `json:"id,omitempty"`
	Device *DeviceRef  `json:"device,omitempty"`
	Reason string      `json:"reason,omitempty"`
}

type CustomMetric struct {
	StringKey string `json:"string_key"`
}

type AttributeState struct {
	Value any `json:"value"`
}

// Attribute is one custom device attribute. State is nil until the backend
// has received a value for it.
type Attribute struct {
	CustomMetric CustomMetric    `json:"custom_metric"`
	State        *AttributeState `json:"state"`
}

// ListResponse is the envelope of every list endpoint.
type ListResponse[T any] struct {
	Data []T `json:"data"`
}

type ListRebootEventsParams struct {
	Page    *int `form:"page,omitempty" json:"page,omitempty"`
	PerPage *int `form:"per_page,omitempty" json:"per_page,omitempty"`
}

type ListReportsParams struct {
	DeviceSerial *string `form:"device_serial,omitempty" json:"device_serial,omitempty"`
	Page         *int    `form:"page,omitempty" json:"page,omitempty"`
	PerPage      *int    `form:"per_page,omitempty" json:"per_page,omitempty"`
}

type ListElfCoredumpsParams struct {
	Device  *string `form:"device,omitempty" json:"device,omitempty"`
	Page    *int    `form:"page,omitempty" json:"page,omitempty"`
	PerPage *int    `form:"per_page,omitempty" json:"per_page,omitempty"`
}

type ListAttributesParams struct {
	Page    *int `form:"page,omitempty" json:"page,omitempty"`
	PerPage *int `form:"per_page,omitempty" json:"per_page,omitempty"`
}
