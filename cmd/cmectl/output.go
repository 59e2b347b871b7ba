package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pterm/pterm"
)

// printJSON writes v to stdout when --json is set and reports whether it did
func printJSON(v interface{}) (bool, error) {
	if !rootJSON {
		return false, nil
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return true, fmt.Errorf("failed to encode output: %w", err)
	}
	fmt.Fprintln(os.Stdout, string(data))
	return true, nil
}

func renderTable(header []string, rows [][]string) error {
	if len(rows) == 0 {
		pterm.Info.Println("Nothing to show")
		return nil
	}
	data := pterm.TableData{header}
	data = append(data, rows...)
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func renderBox(title string, ok bool, body string) {
	color := pterm.FgGreen
	if !ok {
		color = pterm.FgRed
	}
	styled := pterm.NewStyle(color, pterm.Bold).Sprint(title)
	pterm.Println(pterm.DefaultBox.WithTitle(styled).WithPadding(1).Sprint(strings.TrimRight(body, "\n")))
}

// renderMap prints a flat key/value map sorted by key
func renderMap(m map[string]interface{}) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, fmt.Sprint(m[k])})
	}
	return renderTable([]string{"Key", "Value"}, rows)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func intPtr(p *int) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprint(*p)
}
