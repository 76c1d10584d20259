package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/tabarnam/enrich-cli/internal/budget"
	"github.com/tabarnam/enrich-cli/internal/enrich"
	"github.com/tabarnam/enrich-cli/internal/review"
)

var (
	enrichName     string
	enrichURL      string
	enrichDomain   string
	enrichFields   []string
	enrichBudgetMS int64
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Enrich a single company record",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("enrich"); err != nil {
			return err
		}
		if enrichName == "" || enrichURL == "" {
			return eris.New("--name and --url are required")
		}

		ctx := cmd.Context()
		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		company := companyFromPayload(importCompany{
			CompanyName:      enrichName,
			WebsiteURL:       enrichURL,
			NormalizedDomain: enrichDomain,
		})
		if existing, err := e.companies.Load(ctx, company.ID); err == nil {
			// Re-runs continue where the last pass stopped.
			company = existing
		}

		hardCap := cfg.Enrich.HardCap()
		if enrichBudgetMS > 0 {
			hardCap = time.Duration(enrichBudgetMS) * time.Millisecond
		}

		sessionID := uuid.NewString()
		b := budget.Start(budget.WithHardCap(hardCap))
		result, err := e.orchestrator.Run(ctx, b, company, enrich.RunOptions{
			SessionID: sessionID,
			Fields:    enrichFields,
			Attempts:  company.EnrichmentAttempts,
		})
		if err != nil {
			return err
		}

		e.orchestrator.Apply(company, result, sessionID)
		if err := e.companies.Save(ctx, company); err != nil {
			return err
		}

		out := map[string]any{
			"ok":               result.OK,
			"session_id":       sessionID,
			"company_id":       company.ID,
			"fields_completed": result.FieldsCompleted,
			"fields_failed":    result.FieldsFailed,
			"deferred":         result.Deferred,
			"skipped":          result.Skipped,
			"errors":           result.Errors,
			"missing":          company.ImportMissingFields,
			"elapsed_ms":       result.ElapsedMS,
		}
		if result.Reviews != nil {
			out["reviews_accepted"] = len(result.Reviews.Accepted)
			sel := review.SelectionResult{Rejections: result.Reviews.Rejections}
			out["review_rejections"] = sel.RejectionCounts()
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	enrichCmd.Flags().StringVar(&enrichName, "name", "", "company name (required)")
	enrichCmd.Flags().StringVar(&enrichURL, "url", "", "company website URL (required)")
	enrichCmd.Flags().StringVar(&enrichDomain, "domain", "", "normalized domain (derived from --url when empty)")
	enrichCmd.Flags().StringSliceVar(&enrichFields, "fields", nil, "restrict to specific fields (default: whatever is missing)")
	enrichCmd.Flags().Int64Var(&enrichBudgetMS, "budget-ms", 0, "invocation budget in milliseconds (default from config)")
	rootCmd.AddCommand(enrichCmd)
}
