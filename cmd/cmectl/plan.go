package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zph/cmectl/pkg/plan"
)

var (
	planCreateFile         string
	planCreateDescription  string
	planCreateModePath     []string
	planCreateCommands     []string
	planCreateVerification []string
	planCreateEntities     []string
	planCreateRisk         string

	planShowYAML bool
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Create and inspect configuration change plans",
	Long: `Plans describe a configuration change without touching the router.

A plan is a mode path (e.g. "configure terminal" then "ephone 3"), the commands
to run there, optional verification show commands and a risk level. Plans are
stored under <state_dir>/plans and applied at most once.`,
}

var planCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a plan from a YAML/JSON file or flags",
	Long: `Create a plan.

Examples:
  # From a file
  cmectl plan create -f speed-dial.yaml

  # From flags
  cmectl plan create -d "Raise phone limit" \
    --mode "configure terminal" --mode telephony-service \
    --command "max-ephones 48" --verify "show telephony-service"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var req plan.Request
		if planCreateFile != "" {
			r, err := plan.LoadRequest(planCreateFile)
			if err != nil {
				return err
			}
			req = r
		} else {
			req = plan.Request{
				Description:      planCreateDescription,
				ModePath:         planCreateModePath,
				Commands:         planCreateCommands,
				Verification:     planCreateVerification,
				AffectedEntities: planCreateEntities,
				RiskLevel:        plan.RiskLevel(planCreateRisk),
			}
		}

		store, err := newApp().planStore()
		if err != nil {
			return err
		}
		p, err := plan.Create(store, req)
		if err != nil {
			return err
		}
		return renderPlan(p)
	},
}

var planIntentCmd = &cobra.Command{
	Use:   "intent <name> [key=value...]",
	Short: "Create a plan from a named intent",
	Long: `Create a plan from one of the built-in intents.

Run "cmectl plan intents" for the catalogue.

Examples:
  cmectl plan intent set_speed_dial ephone_id=3 position=2 number=5551234 label="Help Desk"
  cmectl plan intent delete_speed_dial ephone_id=3 position=2
  cmectl plan intent set_url_idle url=http://10.0.0.5/idle.xml idle_timeout=60
  cmectl plan intent clear_url_services`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := plan.ParseParams(args[1:])
		if err != nil {
			return err
		}
		store, err := newApp().planStore()
		if err != nil {
			return err
		}
		p, err := plan.CreateFromIntent(store, plan.Intent(args[0]), params)
		if err != nil {
			return err
		}
		return renderPlan(p)
	},
}

var planIntentsCmd = &cobra.Command{
	Use:   "intents",
	Short: "List the built-in intents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		names := plan.Intents()
		if done, err := printJSON(names); done {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored plans, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := newApp()
		store, err := a.planStore()
		if err != nil {
			return err
		}
		plans, err := store.List()
		if err != nil {
			return err
		}
		if done, err := printJSON(plans); done {
			return err
		}

		var applied map[string]bool
		if ledger, err := a.ledger(); err == nil {
			applied = make(map[string]bool)
			if entries, err := ledger.List(); err == nil {
				for _, e := range entries {
					applied[e.PlanID] = true
				}
			}
		}

		rows := make([][]string, 0, len(plans))
		for _, p := range plans {
			rows = append(rows, []string{
				p.PlanID,
				p.CreatedAt.Local().Format("2006-01-02 15:04"),
				string(p.RiskLevel),
				yesNo(p.Validated),
				yesNo(applied[p.PlanID]),
				p.Description,
			})
		}
		return renderTable([]string{"Plan", "Created", "Risk", "Validated", "Applied", "Description"}, rows)
	},
}

var planShowCmd = &cobra.Command{
	Use:   "show <plan-id>",
	Short: "Show one plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := newApp().planStore()
		if err != nil {
			return err
		}
		p, err := store.Get(args[0])
		if err != nil {
			return err
		}
		if planShowYAML {
			out, err := yaml.Marshal(plan.Request{
				Description:      p.Description,
				ModePath:         p.ModePath,
				Commands:         p.Commands,
				Verification:     p.Verification,
				AffectedEntities: p.AffectedEntities,
				RiskLevel:        p.RiskLevel,
			})
			if err != nil {
				return fmt.Errorf("failed to encode plan: %w", err)
			}
			os.Stdout.Write(out)
			return nil
		}
		return renderPlan(p)
	},
}

var planDeleteCmd = &cobra.Command{
	Use:   "delete <plan-id>",
	Short: "Delete a stored plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := newApp().planStore()
		if err != nil {
			return err
		}
		if err := store.Delete(args[0]); err != nil {
			return err
		}
		pterm.Success.Printf("Deleted plan %s\n", args[0])
		return nil
	},
}

func renderPlan(p *plan.ConfigPlan) error {
	if done, err := printJSON(p); done {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Description: %s\n", p.Description)
	fmt.Fprintf(&b, "Risk:        %s\n", p.RiskLevel)
	fmt.Fprintf(&b, "Mode path:   %s\n", strings.Join(p.ModePath, " > "))
	if len(p.AffectedEntities) > 0 {
		fmt.Fprintf(&b, "Affects:     %s\n", strings.Join(p.AffectedEntities, ", "))
	}
	b.WriteString("\nCommands:\n")
	for _, c := range p.Commands {
		fmt.Fprintf(&b, "  %s\n", c)
	}
	if len(p.Verification) > 0 {
		b.WriteString("\nVerification:\n")
		for _, c := range p.Verification {
			fmt.Fprintf(&b, "  %s\n", c)
		}
	}
	if p.ValidationResult != nil {
		fmt.Fprintf(&b, "\nValidated: ok=%s", yesNo(p.ValidationResult.OK))
	}
	renderBox("Plan "+p.PlanID, true, b.String())
	return nil
}

func init() {
	planCreateCmd.Flags().StringVarP(&planCreateFile, "file", "f", "", "YAML or JSON plan request")
	planCreateCmd.Flags().StringVarP(&planCreateDescription, "description", "d", "", "what the change does")
	planCreateCmd.Flags().StringArrayVar(&planCreateModePath, "mode", nil, "mode path entry, in order (repeatable)")
	planCreateCmd.Flags().StringArrayVar(&planCreateCommands, "command", nil, "configuration command (repeatable)")
	planCreateCmd.Flags().StringArrayVar(&planCreateVerification, "verify", nil, "verification show command (repeatable)")
	planCreateCmd.Flags().StringArrayVar(&planCreateEntities, "entity", nil, "affected entity, e.g. \"ephone 3\" (repeatable)")
	planCreateCmd.Flags().StringVar(&planCreateRisk, "risk", "", "risk level: low, medium, high (default low)")

	planShowCmd.Flags().BoolVar(&planShowYAML, "yaml", false, "print the plan as a request file usable with plan create -f")

	planCmd.AddCommand(planCreateCmd, planIntentCmd, planIntentsCmd, planListCmd, planShowCmd, planDeleteCmd)
	rootCmd.AddCommand(planCmd)
}
