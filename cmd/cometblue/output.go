package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/benvon/cometblue-bridge/internal/climate"
	"github.com/benvon/cometblue-bridge/internal/devices/cometblue"
	"github.com/benvon/cometblue-bridge/pkg/model"
)

// Output formats
const (
	formatTable = "table"
	formatJSON  = "json"
)

var (
	heading = color.New(color.FgCyan, color.Bold)
	good    = color.New(color.FgGreen)
	warning = color.New(color.FgYellow)
	bad     = color.New(color.FgRed)
)

func validateFormat(format string) error {
	if format != formatTable && format != formatJSON {
		return fmt.Errorf("invalid format '%s': must be one of [%s %s]", format, formatTable, formatJSON)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func temp(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 1, 64) + " °C"
}

func batteryText(v *int) string {
	if v == nil {
		return "-"
	}
	text := fmt.Sprintf("%d %%", *v)
	switch {
	case *v < 15:
		return bad.Sprint(text)
	case *v < 30:
		return warning.Sprint(text)
	default:
		return good.Sprint(text)
	}
}

func modeText(mode climate.HVACMode) string {
	switch mode {
	case climate.HVACModeOff:
		return bad.Sprint(mode)
	case climate.HVACModeHeat:
		return warning.Sprint(mode)
	default:
		return good.Sprint(mode)
	}
}

// printSnapshot renders the derived state of one thermostat
func printSnapshot(w io.Writer, name, address string, s model.Snapshot) error {
	state := climate.StateOf(climate.ClimateEntityID(name), s)

	if _, err := heading.Fprintf(w, "%s (%s)\n", name, address); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	rows := [][2]string{
		{"Current", temp(s.CurrentTemp)},
		{"Target", temp(s.ManualTemp)},
		{"Eco (low)", temp(s.TargetTempLow)},
		{"Comfort (high)", temp(s.TargetTempHigh)},
		{"Offset", temp(s.TempOffset)},
		{"Mode", modeText(state.HVACMode)},
		{"Action", string(state.HVACAction)},
		{"Preset", state.PresetMode},
		{"Battery", batteryText(s.Battery)},
	}
	if s.WindowOpen != nil {
		window := "closed"
		if *s.WindowOpen {
			window = warning.Sprint("open")
		}
		rows = append(rows, [2]string{"Window", window})
	}
	if s.Holiday != nil && s.Holiday.End != nil {
		holiday := "until " + s.Holiday.End.Format("2006-01-02 15:04")
		if s.Holiday.Start != nil {
			holiday = s.Holiday.Start.Format("2006-01-02 15:04") + " " + holiday
		}
		if climate.HolidayActive(s) {
			holiday = warning.Sprint("active ") + holiday
		}
		rows = append(rows, [2]string{"Holiday", holiday + " at " + temp(s.Holiday.Temperature)})
	}
	if s.Datetime != nil {
		rows = append(rows, [2]string{"Device clock", s.Datetime.Format(time.RFC3339)})
	}

	for _, row := range rows {
		if _, err := fmt.Fprintf(tw, "  %s:\t%s\n", row[0], row[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// printSchedule renders the weekly periods, Monday first
func printSchedule(w io.Writer, schedule model.WeekSchedule) error {
	if _, err := heading.Fprintln(w, "  Schedule"); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, day := range model.Weekdays {
		periods := schedule[day]
		text := "-"
		if len(periods) > 0 {
			text = ""
			for i, p := range periods {
				if i > 0 {
					text += ", "
				}
				text += p.Start.String() + "-" + p.End.String()
			}
		}
		if _, err := fmt.Fprintf(tw, "  %s:\t%s\n", model.WeekdayName(day), text); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// printDiscovered renders scan results as a table
func printDiscovered(w io.Writer, devices []cometblue.Discovered, now time.Time) error {
	if len(devices) == 0 {
		_, err := warning.Fprintln(w, "No thermostats found")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "ADDRESS\tNAME\tRSSI\tLAST SEEN"); err != nil {
		return err
	}
	for _, d := range devices {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%s ago\n",
			d.Address, d.Name, d.RSSI, now.Sub(d.LastSeen).Truncate(time.Second)); err != nil {
			return err
		}
	}
	return tw.Flush()
}
