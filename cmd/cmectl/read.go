package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/zph/cmectl/pkg/cme"
	"github.com/zph/cmectl/pkg/iosparse"
)

// withReader runs fn against a filtered reader on the device session
func withReader(fn func(ctx context.Context, r *cme.Reader) error) error {
	a := newApp()
	defer a.close()

	sess, err := a.session()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(a)
	defer cancel()
	return fn(ctx, cme.NewReader(sess, a.filter))
}

func commandContext(a *app) (context.Context, context.CancelFunc) {
	timeout := a.settings.Session.ConnectTimeout + 4*a.settings.Session.CommandTimeout
	return context.WithTimeout(context.Background(), timeout)
}

var showCmd = &cobra.Command{
	Use:   "show <command...>",
	Short: "Run a read-only exec command",
	Long: `Run one exec-mode command on the router and print its output.

The command must pass the exec allowlist (show, ping, traceroute, ...).

Examples:
  cmectl show ip interface brief
  cmectl show "running-config | section telephony-service"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		command := strings.Join(args, " ")
		if !strings.HasPrefix(strings.ToLower(command), "show") {
			command = "show " + command
		}
		return withReader(func(ctx context.Context, r *cme.Reader) error {
			res, err := r.Show(ctx, command)
			if err != nil {
				return err
			}
			if done, err := printJSON(res); done {
				return err
			}
			fmt.Println(res.Output)
			return nil
		})
	},
}

var ephoneCmd = &cobra.Command{
	Use:   "ephone [id]",
	Short: "List phones, or show one phone",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withReader(func(ctx context.Context, r *cme.Reader) error {
			if len(args) == 0 {
				phones, raw, err := r.Ephones(ctx)
				if err != nil {
					return err
				}
				if done, err := printJSON(map[string]interface{}{"ephones": phones, "raw": raw}); done {
					return err
				}
				rows := make([][]string, 0, len(phones))
				for _, p := range phones {
					rows = append(rows, []string{strconv.Itoa(p.ID), orDash(p.MAC), orDash(p.Status), orDash(p.IP), orDash(p.Type), intPtr(p.PrimaryDN)})
				}
				return renderTable([]string{"Ephone", "MAC", "Status", "IP", "Type", "Primary DN"}, rows)
			}

			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid ephone id %q", args[0])
			}
			detail, block, err := r.Ephone(ctx, id)
			if err != nil {
				return err
			}
			if done, err := printJSON(map[string]interface{}{"ephone": detail, "raw": block}); done {
				return err
			}
			if block == "" {
				pterm.Warning.Printf("ephone %d not found\n", id)
				return nil
			}
			pterm.DefaultSection.Printf("ephone %d  %s  %s", detail.ID, orDash(detail.MAC), orDash(detail.Status))
			rows := make([][]string, 0, len(detail.SpeedDials))
			for _, sd := range detail.SpeedDials {
				rows = append(rows, []string{strconv.Itoa(sd.Position), sd.Number, sd.Label})
			}
			return renderTable([]string{"Speed-dial", "Number", "Label"}, rows)
		})
	},
}

var dnCmd = &cobra.Command{
	Use:   "dn",
	Short: "List directory numbers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withReader(func(ctx context.Context, r *cme.Reader) error {
			dns, raw, err := r.DNs(ctx)
			if err != nil {
				return err
			}
			if done, err := printJSON(map[string]interface{}{"dns": dns, "raw": raw}); done {
				return err
			}
			rows := make([][]string, 0, len(dns))
			for _, d := range dns {
				rows = append(rows, []string{strconv.Itoa(d.ID), orDash(d.Number), orDash(d.Label), orDash(d.State), intPtr(d.EphoneID)})
			}
			return renderTable([]string{"DN", "Number", "Label", "State", "Ephone"}, rows)
		})
	},
}

var telephonyCmd = &cobra.Command{
	Use:   "telephony",
	Short: "Show parsed telephony-service settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withReader(func(ctx context.Context, r *cme.Reader) error {
			data, raw, err := r.TelephonyService(ctx)
			if err != nil {
				return err
			}
			if done, err := printJSON(map[string]interface{}{"data": data, "raw": raw}); done {
				return err
			}
			return renderMap(data)
		})
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read running-config sections",
}

var configSectionCmd = &cobra.Command{
	Use:   "section <anchor>",
	Short: "Print the running-config section for an anchor keyword",
	Long: `Print a running-config section.

Examples:
  cmectl config section telephony-service
  cmectl config section ephone --ephone 3
  cmectl config section ephone-dn --dn 12`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ephoneID, _ := cmd.Flags().GetInt("ephone")
		dnID, _ := cmd.Flags().GetInt("dn")
		anchor := strings.Join(args, " ")

		return withReader(func(ctx context.Context, r *cme.Reader) error {
			var section string
			var parsed interface{}
			var err error
			switch {
			case ephoneID > 0:
				anchor = fmt.Sprintf("ephone %d", ephoneID)
				var e *iosparse.ConfigEphone
				section, e, err = r.EphoneConfig(ctx, ephoneID)
				if e != nil {
					parsed = e
				}
			case dnID > 0:
				anchor = fmt.Sprintf("ephone-dn %d", dnID)
				var d *iosparse.ConfigDN
				section, d, err = r.DNConfig(ctx, dnID)
				if d != nil {
					parsed = d
				}
			default:
				section, err = r.Section(ctx, anchor)
			}
			if err != nil {
				return err
			}
			if done, err := printJSON(map[string]interface{}{"anchor": anchor, "config": section, "parsed": parsed}); done {
				return err
			}
			if strings.TrimSpace(section) == "" {
				pterm.Warning.Printf("no %q section in running-config\n", anchor)
				return nil
			}
			fmt.Println(section)
			return nil
		})
	},
}

func init() {
	configSectionCmd.Flags().Int("ephone", 0, "print and parse the section for this ephone")
	configSectionCmd.Flags().Int("dn", 0, "print and parse the section for this ephone-dn")
	configCmd.AddCommand(configSectionCmd)

	rootCmd.AddCommand(showCmd, ephoneCmd, dnCmd, telephonyCmd, configCmd)
}
