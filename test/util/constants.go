package util

const TICOSD_SERVICE = "ticosd"
const COLLECTD_SERVICE = "collectd"
const SWUPDATE_SERVICE = "swupdate"

// Define a type for messages.
type Message string

func (m Message) String() string {
	return string(m)
}

// ticosd and ticosctl output
const (
	EnablingDataCollection        Message = "Enabling data collection."
	DataCollectionAlreadyEnabled  Message = "Data collection is already enabled."
	DisablingDataCollection       Message = "Disabling data collection."
	DataCollectionAlreadyDisabled Message = "Data collection is already disabled."

	EnablingDeveloperMode        Message = "Enabling developer mode"
	DeveloperModeAlreadyEnabled  Message = "Developer mode is already enabled"
	DisablingDeveloperMode       Message = "Disabling developer mode"
	DeveloperModeAlreadyDisabled Message = "Developer mode is already disabled"
	StartingWithDeveloperMode    Message = "Starting with developer mode enabled"

	BootIDAlreadyTracked Message = "reboot:: boot_id already tracked"
	CoredumpEnqueued     Message = "coredump:: enqueued corefile"
	FileTransmitted      Message = "network:: Successfully transmitted file"
	RequestingCollectd   Message = "collectd:: Requesting metrics from collectd now."
	TicosdUsage          Message = `Usage: ticosd \[OPTION\]...`
	RebootingSystem      Message = "reboot: Restarting system"
	LoginPrompt          Message = " login:"
	ScheduledRestartJob  Message = "ticosd.service: Scheduled restart job"
)

// systemd messages for the ticosd unit
const (
	StoppedTicosd  Message = "Stopped ticosd daemon"
	StartingTicosd Message = "Starting ticosd daemon"
)

// device side commands
const (
	CmdEnableDataCollection  = "ticosctl enable-data-collection"
	CmdDisableDataCollection = "ticosctl disable-data-collection"
	CmdEnableDevMode         = "ticosctl enable-dev-mode"
	CmdDisableDevMode        = "ticosctl disable-dev-mode"
	CmdRequestMetrics        = "ticosctl request-metrics"
	CmdSync                  = "ticosctl sync"
	CmdTriggerCoredump       = "ticosctl trigger-coredump"
	CmdFlushTicosd           = "systemctl kill ticosd --signal SIGUSR1"
	CmdRestartTicosd         = "systemctl restart ticosd"
	CmdKernelPanic           = "echo 1 > /proc/sys/kernel/panic; echo c > /proc/sysrq-trigger"
	CmdButtonResetReason     = "echo 6 > /media/last_reboot_reason"
	CmdCollectdInterval5s    = `echo '{"collectd_plugin": {"interval_seconds": 5}}' > /media/ticos/runtime.conf`
	CmdTicosdHelp            = "ticosd -h"
	CmdRebootLowPower        = "ticosctl reboot --reason 4"
	CmdSyncFilesystems       = "sync"
)

// ticosd flags that toggle settings and restart the service
const (
	CmdTicosdEnableDataCollection  = "ticosd --enable-data-collection"
	CmdTicosdDisableDataCollection = "ticosd --disable-data-collection"
	CmdTicosdEnableDevMode         = "ticosd --enable-dev-mode"
	CmdTicosdDisableDevMode        = "ticosd --disable-dev-mode"
)

const CmdWriteAttributes = `ticosctl write-attributes a_string=running a_bool=false a_boolish_string=\"true\" a_float=42.42`
