package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"claimline/internal/app"
	"claimline/internal/engine"
	"claimline/internal/events"
	"claimline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "clm",
	Short: "Claimline CLI",
	Long: `Claimline tracks construction-contract claims as append-only event logs.
A case owns three tracks: basis (liability), compensation (money) and
deadline (schedule extension). Current status is always re-derived by
replaying the case history; nothing is stored mutably. The CLI is a pure
client of the store and the reducer.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CLAIMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "local-user", "actor name recorded on events")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(caseCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(respondCmd())
	rootCmd.AddCommand(withdrawCmd())
	rootCmd.AddCommand(specifyDaysCmd())
	rootCmd.AddCommand(accelCmd())
	rootCmd.AddCommand(changeOrderCmd())
	rootCmd.AddCommand(indexCmd())
	rootCmd.AddCommand(serveCmd())
}

func withEnv(ctx context.Context, fn func(ctx context.Context, env *app.Env) error) error {
	env, err := app.Open(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer env.Close()
	return fn(ctx, env)
}

func actor() string { return viper.GetString("actor") }

func caseCmd() *cobra.Command {
	c := &cobra.Command{Use: "case", Short: "Manage cases"}
	c.AddCommand(caseCreateCmd())
	c.AddCommand(caseListCmd())
	c.AddCommand(caseShowCmd())
	c.AddCommand(caseEventsCmd())
	return c
}

func caseCreateCmd() *cobra.Command {
	var id, title, category, externalRef string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st, err := env.Engine.CreateCase(ctx, engine.CaseCreateOptions{
					ID:          id,
					Title:       title,
					Category:    events.CaseCategory(category),
					ExternalRef: externalRef,
					Actor:       actor(),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "case id (generated when empty)")
	cmd.Flags().StringVar(&title, "title", "", "case title")
	cmd.Flags().StringVar(&category, "category", "standard", "case category (standard|acceleration|change-order)")
	cmd.Flags().StringVar(&externalRef, "external-ref", "", "external correlation id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func caseListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				items, err := env.Engine.ListCases(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Basis", "Compensation", "Deadline", "Net", "Days", "Ver"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.CaseID, e.Title, e.BasisStatus, e.CompensationStatus, e.DeadlineStatus, e.NetAmount, e.DeadlineDays, e.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func caseShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <case-id>",
		Short: "Show computed case state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st, _, err := env.Engine.GetCase(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	return cmd
}

func caseEventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events <case-id>",
		Short: "Show the case event history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				_, evs, err := env.Engine.GetCase(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(evs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Kind", "Actor", "Role", "TS", "Comment"})
				for _, ev := range evs {
					tw.AppendRow(table.Row{ev.Seq, ev.Kind, ev.Actor, ev.Role, ev.TS, ev.Comment})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func submitCmd() *cobra.Command {
	c := &cobra.Command{Use: "submit", Short: "Submit or revise a claim track"}
	c.AddCommand(submitBasisCmd())
	c.AddCommand(submitCompensationCmd())
	c.AddCommand(submitDeadlineCmd())
	return c
}

func submitBasisCmd() *cobra.Command {
	var ground, description, contractRef string
	cmd := &cobra.Command{
		Use:   "basis <case-id>",
		Short: "Submit the liability grounds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st, err := env.Engine.SubmitBasis(ctx, args[0], events.BasisClaim{
					Ground:      ground,
					Description: description,
					ContractRef: contractRef,
				}, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(st.Basis)
			})
		},
	}
	cmd.Flags().StringVar(&ground, "ground", "", "claim ground category")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&contractRef, "contract-ref", "", "contract clause reference")
	_ = cmd.MarkFlagRequired("ground")
	return cmd
}

func submitCompensationCmd() *cobra.Command {
	var method string
	var estimate, deduction float64
	var lines []string
	cmd := &cobra.Command{
		Use:   "compensation <case-id>",
		Short: "Submit the monetary claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			claim := events.CompensationClaim{
				Method:    events.Method(method),
				Estimate:  estimate,
				Deduction: deduction,
			}
			for _, l := range lines {
				line, err := parseLine(l)
				if err != nil {
					return err
				}
				claim.Lines = append(claim.Lines, line)
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st, err := env.Engine.SubmitCompensation(ctx, args[0], claim, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(st.Compensation)
			})
		},
	}
	cmd.Flags().StringVar(&method, "method", "direct-sum", "quantification method (direct-sum|cost-estimate)")
	cmd.Flags().Float64Var(&estimate, "estimate", 0, "cost estimate amount")
	cmd.Flags().Float64Var(&deduction, "deduction", 0, "deduction amount")
	cmd.Flags().StringArrayVar(&lines, "line", nil, "claim line as description=amount (repeatable)")
	return cmd
}

func submitDeadlineCmd() *cobra.Command {
	var days int
	var interim bool
	var reason string
	cmd := &cobra.Command{
		Use:   "deadline <case-id>",
		Short: "Submit the schedule extension claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st, err := env.Engine.SubmitDeadline(ctx, args[0], events.DeadlineClaim{
					Days:    days,
					Interim: interim,
					Reason:  reason,
				}, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(st.Deadline)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "days claimed (0 = notice only, specify later)")
	cmd.Flags().BoolVar(&interim, "interim", false, "interim notice")
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	return cmd
}

func specifyDaysCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "specify-days <case-id>",
		Short: "Quantify a previously noticed extension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st, err := env.Engine.SpecifyDeadlineDays(ctx, args[0], days, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(st.Deadline)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "days claimed")
	_ = cmd.MarkFlagRequired("days")
	return cmd
}

func respondCmd() *cobra.Command {
	c := &cobra.Command{Use: "respond", Short: "Record the owner's response on a track"}
	c.AddCommand(respondBasisCmd())
	c.AddCommand(respondCompensationCmd())
	c.AddCommand(respondDeadlineCmd())
	return c
}

func respondBasisCmd() *cobra.Command {
	var result, recategorize string
	var waived bool
	cmd := &cobra.Command{
		Use:   "basis <case-id>",
		Short: "Respond to the basis claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st, err := env.Engine.RespondBasis(ctx, args[0], events.BasisResponse{
					Result:        events.ResponseResult(result),
					Waived:        waived,
					Recategorized: events.CaseCategory(recategorize),
				}, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(st.Basis)
			})
		},
	}
	cmd.Flags().StringVar(&result, "result", "", "approved|partially-approved|rejected|under-negotiation")
	cmd.Flags().BoolVar(&waived, "waived", false, "objections waived")
	cmd.Flags().StringVar(&recategorize, "recategorize", "", "re-categorize the case")
	return cmd
}

func respondCompensationCmd() *cobra.Command {
	var result, mainNotice, siteCostNotice, productivityNotice, methodAccepted string
	var approved, deduction, subAmount float64
	var subResult, subRationale string
	var lines []string
	cmd := &cobra.Command{
		Use:   "compensation <case-id>",
		Short: "Respond to the monetary claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp := events.CompensationResponse{
				MainNotice:         events.GateOutcome(mainNotice),
				SiteCostNotice:     events.GateOutcome(siteCostNotice),
				ProductivityNotice: events.GateOutcome(productivityNotice),
				MethodAccepted:     events.GateOutcome(methodAccepted),
				Result:             events.ResponseResult(result),
				ApprovedAmount:     approved,
				Deduction:          deduction,
			}
			for _, l := range lines {
				line, err := parseLine(l)
				if err != nil {
					return err
				}
				resp.Lines = append(resp.Lines, events.LineAssessment{Description: line.Description, ApprovedAmount: line.Amount})
			}
			if subResult != "" {
				resp.Subsidiary = &events.SubsidiaryPosition{
					Result:    events.ResponseResult(subResult),
					Amount:    subAmount,
					Rationale: subRationale,
				}
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st, err := env.Engine.RespondCompensation(ctx, args[0], resp, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(st.Compensation)
			})
		},
	}
	cmd.Flags().StringVar(&result, "result", "", "stated aggregate result")
	cmd.Flags().StringVar(&mainNotice, "main-notice", "", "main claim notice gate (accepted|rejected|waived)")
	cmd.Flags().StringVar(&siteCostNotice, "site-cost-notice", "", "site/rig cost notice gate")
	cmd.Flags().StringVar(&productivityNotice, "productivity-notice", "", "productivity loss notice gate")
	cmd.Flags().StringVar(&methodAccepted, "method-accepted", "", "method acceptance gate")
	cmd.Flags().Float64Var(&approved, "approved", 0, "approved amount")
	cmd.Flags().Float64Var(&deduction, "deduction", 0, "deduction amount")
	cmd.Flags().StringArrayVar(&lines, "line", nil, "line assessment as description=amount (repeatable)")
	cmd.Flags().StringVar(&subResult, "sub-result", "", "subsidiary result")
	cmd.Flags().Float64Var(&subAmount, "sub-amount", 0, "subsidiary amount")
	cmd.Flags().StringVar(&subRationale, "sub-rationale", "", "subsidiary rationale")
	return cmd
}

func respondDeadlineCmd() *cobra.Command {
	var result, notice, condition string
	var days, subDays int
	var subResult, subRationale string
	cmd := &cobra.Command{
		Use:   "deadline <case-id>",
		Short: "Respond to the extension claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp := events.DeadlineResponse{
				NoticeGate: events.GateOutcome(notice),
				Condition:  events.GateOutcome(condition),
				Days:       days,
				Result:     events.ResponseResult(result),
			}
			if subResult != "" {
				resp.Subsidiary = &events.SubsidiaryPosition{
					Result:    events.ResponseResult(subResult),
					Days:      subDays,
					Rationale: subRationale,
				}
			}
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st, err := env.Engine.RespondDeadline(ctx, args[0], resp, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(st.Deadline)
			})
		},
	}
	cmd.Flags().StringVar(&result, "result", "", "stated result")
	cmd.Flags().StringVar(&notice, "notice", "", "notice timeliness gate (accepted|rejected|waived)")
	cmd.Flags().StringVar(&condition, "condition", "", "condition/causation gate")
	cmd.Flags().IntVar(&days, "days", 0, "days granted")
	cmd.Flags().StringVar(&subResult, "sub-result", "", "subsidiary result")
	cmd.Flags().IntVar(&subDays, "sub-days", 0, "subsidiary days")
	cmd.Flags().StringVar(&subRationale, "sub-rationale", "", "subsidiary rationale")
	return cmd
}

func withdrawCmd() *cobra.Command {
	var track, reason string
	cmd := &cobra.Command{
		Use:   "withdraw <case-id>",
		Short: "Withdraw a track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st, err := env.Engine.Withdraw(ctx, args[0], events.Track(track), reason, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&track, "track", "", "basis|compensation|deadline")
	cmd.Flags().StringVar(&reason, "reason", "", "reason")
	_ = cmd.MarkFlagRequired("track")
	return cmd
}

func accelCmd() *cobra.Command {
	c := &cobra.Command{Use: "accel", Short: "Acceleration sub-flow"}

	var days int
	var amount float64
	var description string
	request := &cobra.Command{
		Use:   "request <case-id>",
		Short: "Request acceleration instead of a time extension",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st, err := env.Engine.RequestAcceleration(ctx, args[0], events.AccelerationRequest{
					Days:        days,
					Amount:      amount,
					Description: description,
				}, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(st.Acceleration)
			})
		},
	}
	request.Flags().IntVar(&days, "days", 0, "days the extension would have granted")
	request.Flags().Float64Var(&amount, "amount", 0, "offered compensation")
	request.Flags().StringVar(&description, "description", "", "description")
	_ = request.MarkFlagRequired("days")

	var agreed float64
	accept := &cobra.Command{
		Use:   "accept <case-id>",
		Short: "Accept a pending acceleration request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st, err := env.Engine.DecideAcceleration(ctx, args[0], true, events.AccelerationDecision{Amount: agreed}, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(st.Acceleration)
			})
		},
	}
	accept.Flags().Float64Var(&agreed, "amount", 0, "agreed compensation (defaults to the offer)")

	var reason string
	reject := &cobra.Command{
		Use:   "reject <case-id>",
		Short: "Reject a pending acceleration request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st, err := env.Engine.DecideAcceleration(ctx, args[0], false, events.AccelerationDecision{Reason: reason}, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(st.Acceleration)
			})
		},
	}
	reject.Flags().StringVar(&reason, "reason", "", "reason")

	c.AddCommand(request, accept, reject)
	return c
}

func changeOrderCmd() *cobra.Command {
	c := &cobra.Command{Use: "co", Short: "Change-order sub-flow"}

	var reference, description string
	var amount float64
	var days int
	issue := &cobra.Command{
		Use:   "issue <case-id>",
		Short: "Issue a change order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st, err := env.Engine.IssueChangeOrder(ctx, args[0], events.ChangeOrder{
					Reference:   reference,
					Description: description,
					Amount:      amount,
					Days:        days,
				}, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(st.ChangeOrder)
			})
		},
	}
	issue.Flags().StringVar(&reference, "reference", "", "change order reference")
	issue.Flags().StringVar(&description, "description", "", "description")
	issue.Flags().Float64Var(&amount, "amount", 0, "amount")
	issue.Flags().IntVar(&days, "days", 0, "days")
	_ = issue.MarkFlagRequired("reference")

	accept := &cobra.Command{
		Use:   "accept <case-id>",
		Short: "Accept an issued change order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st, err := env.Engine.DecideChangeOrder(ctx, args[0], true, "", actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(st.ChangeOrder)
			})
		},
	}

	var reason string
	dispute := &cobra.Command{
		Use:   "dispute <case-id>",
		Short: "Dispute an issued change order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				st, err := env.Engine.DecideChangeOrder(ctx, args[0], false, reason, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(st.ChangeOrder)
			})
		},
	}
	dispute.Flags().StringVar(&reason, "reason", "", "reason")

	c.AddCommand(issue, accept, dispute)
	return c
}

func indexCmd() *cobra.Command {
	c := &cobra.Command{Use: "index", Short: "Metadata cache maintenance"}
	c.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the case index by replaying every case",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				if err := env.Engine.RebuildIndex(ctx); err != nil {
					return err
				}
				items, err := env.Engine.ListCases(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("rebuilt %d cases\n", len(items))
				return nil
			})
		},
	})
	return c
}

func serveCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(cmd.Context(), func(ctx context.Context, env *app.Env) error {
				addr := listen
				if addr == "" {
					addr = env.Config.Server.Listen
				}
				handler, err := server.New(server.Config{
					Engine:   env.Engine,
					BasePath: env.Config.Server.BasePath,
					Auth: server.AuthConfig{
						JWTSecret:        env.Config.Server.Auth.JWTSecret,
						AllowActorHeader: env.Config.Server.Auth.AllowActorHeader,
					},
				})
				if err != nil {
					return err
				}
				fmt.Println("listening on", addr)
				return http.ListenAndServe(addr, handler)
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

func parseLine(raw string) (events.ClaimLine, error) {
	desc, amountStr, ok := strings.Cut(raw, "=")
	if !ok {
		return events.ClaimLine{}, fmt.Errorf("line %q must be description=amount", raw)
	}
	amount, err := strconv.ParseFloat(strings.TrimSpace(amountStr), 64)
	if err != nil {
		return events.ClaimLine{}, fmt.Errorf("line %q has invalid amount: %w", raw, err)
	}
	return events.ClaimLine{Description: strings.TrimSpace(desc), Amount: amount}, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
