package display

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/ticos/ticos-e2e/internal/api/client"
)

const NoneString = "<none>"

var timeNow = time.Now

// TableFormatter handles table output formatting
type TableFormatter struct {
	now func() time.Time
}

func (f *TableFormatter) Format(data any, options FormatOptions) error {
	w := tabwriter.NewWriter(options.Writer, 0, 8, 1, '\t', 0)
	defer w.Flush()

	switch items := data.(type) {
	case []client.RebootEvent:
		return f.printRebootsTable(w, items)
	case []client.Report:
		return f.printReportsTable(w, items)
	case []client.ElfCoredump:
		return f.printCoredumpsTable(w, items)
	case map[string]any:
		return f.printAttributesTable(w, items)
	default:
		return fmt.Errorf("no table format for %s (%T)", options.Kind, data)
	}
}

func (f *TableFormatter) printRebootsTable(w *tabwriter.Writer, events []client.RebootEvent) error {
	fmt.Fprintln(w, "REASON\tUNEXPECTED\tSOFTWARE TYPE\tAGE")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%t\t%s\t%s\n",
			e.Reason,
			e.Reason.Unexpected(),
			lo.CoalesceOrEmpty(e.SoftwareType, NoneString),
			f.age(e.Time),
		)
	}
	return nil
}

func (f *TableFormatter) printReportsTable(w *tabwriter.Writer, reports []client.Report) error {
	fmt.Fprintln(w, "DEVICE\tTYPE\tMETRICS")
	for _, r := range reports {
		fmt.Fprintf(w, "%s\t%s\t%d\n",
			r.DeviceSerial,
			lo.CoalesceOrEmpty(r.Type, NoneString),
			len(r.Metrics),
		)
	}
	return nil
}

func (f *TableFormatter) printCoredumpsTable(w *tabwriter.Writer, dumps []client.ElfCoredump) error {
	fmt.Fprintln(w, "ID\tDEVICE\tREASON")
	for _, d := range dumps {
		device := NoneString
		if d.Device != nil {
			device = d.Device.DeviceSerial
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", d.ID, device, lo.CoalesceOrEmpty(d.Reason, NoneString))
	}
	return nil
}

func (f *TableFormatter) printAttributesTable(w *tabwriter.Writer, attrs map[string]any) error {
	fmt.Fprintln(w, "KEY\tTYPE\tVALUE")
	keys := lo.Keys(attrs)
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s\t%T\t%v\n", k, attrs[k], attrs[k])
	}
	return nil
}

func (f *TableFormatter) age(ts string) string {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return NoneString
	}
	return humanize.RelTime(t, f.now(), "ago", "from now")
}
