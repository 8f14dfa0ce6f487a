package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/solarsync/solarsync/internal/catalog"
	"github.com/solarsync/solarsync/internal/config"
	"github.com/solarsync/solarsync/internal/sizing"
	"github.com/solarsync/solarsync/internal/storage"
	"github.com/solarsync/solarsync/internal/weather"
)

// parseApplianceSpec parses "name:quantity:runtime_hrs" with an optional
// ":power_w" tail. Power left at zero falls back to the catalog rating.
func parseApplianceSpec(spec string) (sizing.Appliance, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 3 || len(parts) > 4 {
		return sizing.Appliance{}, fmt.Errorf("invalid appliance %q, want name:quantity:runtime_hrs[:power_w]", spec)
	}

	qty, err := strconv.Atoi(parts[1])
	if err != nil {
		return sizing.Appliance{}, fmt.Errorf("invalid quantity in %q: %w", spec, err)
	}
	runtime, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return sizing.Appliance{}, fmt.Errorf("invalid runtime in %q: %w", spec, err)
	}

	a := sizing.Appliance{Name: parts[0], Quantity: qty, RuntimeHrs: runtime}
	if len(parts) == 4 {
		power, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return sizing.Appliance{}, fmt.Errorf("invalid power in %q: %w", spec, err)
		}
		a.PowerW = power
	}
	return a, nil
}

func parseApplianceSpecs(specs []string) ([]sizing.Appliance, error) {
	appliances := make([]sizing.Appliance, 0, len(specs))
	for _, spec := range specs {
		a, err := parseApplianceSpec(spec)
		if err != nil {
			return nil, err
		}
		appliances = append(appliances, a)
	}
	return appliances, nil
}

// --- size ---

var sizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Size a solar system locally, without creating a job",
	RunE: func(cmd *cobra.Command, args []string) error {
		systemType, _ := cmd.Flags().GetString("system")
		batteryType, _ := cmd.Flags().GetString("battery")
		specs, _ := cmd.Flags().GetStringArray("appliance")
		lat, _ := cmd.Flags().GetFloat64("lat")
		lon, _ := cmd.Flags().GetFloat64("lon")
		psh, _ := cmd.Flags().GetFloat64("psh")

		appliances, err := parseApplianceSpecs(specs)
		if err != nil {
			return err
		}
		if len(appliances) == 0 {
			return fmt.Errorf("at least one --appliance is required")
		}

		var source sizing.WeatherSource
		if psh > 0 {
			source = weather.Static(psh)
		} else {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			source = weather.NewClient(cfg.Weather.BaseURL, cfg.WeatherCacheTTL())
		}

		engine := sizing.NewEngine(source, nil)
		res, err := engine.Calculate(cmd.Context(), systemType, appliances, sizing.Position{Lat: lat, Lon: lon}, batteryType)
		if err != nil {
			return err
		}

		printStatus("Load demand", "%.2f kWh/day", res.LoadDemandKwh)
		printStatus("Peak sun hours", "%.2f h", res.PeakSunHours)
		printStatus("Panels", "%d (%.2f kW)", res.PanelsRequired, res.PanelCapacityKw)
		printStatus("Inverters", "%d (%.2f kW)", res.InvertersRequired, res.InverterCapacityKw)
		if batteryType == "lithium_ion" {
			printStatus("Battery bank", "%d x lithium ion (%.0f Ah demand)", res.LithiumIonBank.Required, res.LithiumIonAhDemand)
		} else {
			printStatus("Battery bank", "%d x lead acid (%.0f Ah demand)", res.LeadAcidBank.Required, res.LeadAcidAhDemand)
		}
		printStatus("Total cost", "%.0f KSh", res.TotalCostKsh)
		if res.RoiYears.IsInf() {
			printStatus("ROI", "never (no excess energy)")
		} else {
			printStatus("ROI", "%.1f years", float64(res.RoiYears))
		}
		return nil
	},
}

func init() {
	sizeCmd.Flags().String("system", "hybrid", "system type (pure or hybrid)")
	sizeCmd.Flags().String("battery", "lead_acid", "battery chemistry (lead_acid or lithium_ion)")
	sizeCmd.Flags().StringArray("appliance", nil, "appliance as name:quantity:runtime_hrs[:power_w], repeatable")
	sizeCmd.Flags().Float64("lat", 0, "site latitude")
	sizeCmd.Flags().Float64("lon", 0, "site longitude")
	sizeCmd.Flags().Float64("psh", 0, "peak sun hours override, skips the weather lookup")
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Create and inspect dispatch jobs",
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Submit a new job to the pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		systemType, _ := cmd.Flags().GetString("system")
		batteryType, _ := cmd.Flags().GetString("battery")
		userID, _ := cmd.Flags().GetString("user")
		specs, _ := cmd.Flags().GetStringArray("appliance")
		lat, _ := cmd.Flags().GetFloat64("lat")
		lon, _ := cmd.Flags().GetFloat64("lon")
		phone, _ := cmd.Flags().GetString("phone")
		name, _ := cmd.Flags().GetString("name")

		appliances, err := parseApplianceSpecs(specs)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"user_id":      userID,
			"description":  description,
			"system_type":  systemType,
			"battery_type": batteryType,
			"appliances":   appliances,
			"contact":      map[string]string{"first_name": name, "phone": phone},
		}
		if lat != 0 || lon != 0 {
			body["position"] = map[string]float64{"lat": lat, "lon": lon}
		}

		resp, err := client.post(cmd.Context(), "/jobs", body)
		if err != nil {
			return err
		}

		var created struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}

		printSuccess("Job %s accepted (%s)", created.ID, created.Status)
		return nil
	},
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/jobs/"+args[0])
		if err != nil {
			return err
		}

		var job any
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(job)
	},
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/jobs"
		if status != "" {
			path += "?status=" + status
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var jobs []struct {
			ID          string `json:"id"`
			Description string `json:"description"`
			Status      string `json:"status"`
			Priority    string `json:"priority"`
			Technician  string `json:"technician_name"`
		}
		if err := decodeJSON(resp, &jobs); err != nil {
			return err
		}

		if len(jobs) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}

		for _, j := range jobs {
			desc := j.Description
			if len(desc) > 60 {
				desc = desc[:60] + "..."
			}
			line := fmt.Sprintf("%s  %-12s", colorize(colorCyan, j.ID[:8]), j.Status)
			if j.Priority != "" {
				line += fmt.Sprintf("  [%s]", j.Priority)
			}
			if j.Technician != "" {
				line += "  " + j.Technician
			}
			fmt.Printf("%s  %s\n", line, desc)
		}
		return nil
	},
}

var jobsCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Close out a finished job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		feedback, _ := cmd.Flags().GetString("feedback")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/jobs/"+args[0]+"/complete", map[string]string{"feedback": feedback})
		if err != nil {
			return err
		}

		var result struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Job %s %s", result.ID, result.Status)
		return nil
	},
}

var jobsRecheckCmd = &cobra.Command{
	Use:   "recheck <id>",
	Short: "Re-run the weather check for one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/jobs/"+args[0]+"/recheck", nil)
		if err != nil {
			return err
		}

		var result struct {
			ID     string `json:"id"`
			Events []struct {
				Agent   string `json:"agent"`
				Outcome string `json:"outcome"`
				Message string `json:"message"`
			} `json:"events"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, e := range result.Events {
			fmt.Printf("%s  %-18s %s\n", colorize(colorBold, e.Agent), e.Outcome, e.Message)
		}
		return nil
	},
}

var jobsPredictionsCmd = &cobra.Command{
	Use:   "predictions <id>",
	Short: "Show triage predictions recorded for a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/jobs/"+args[0]+"/predictions")
		if err != nil {
			return err
		}

		var predictions any
		if err := decodeJSON(resp, &predictions); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(predictions)
	},
}

func init() {
	jobsCreateCmd.Flags().String("description", "", "what the job is about")
	jobsCreateCmd.Flags().String("system", "hybrid", "system type (pure or hybrid)")
	jobsCreateCmd.Flags().String("battery", "lead_acid", "battery chemistry")
	jobsCreateCmd.Flags().String("user", "", "requesting user id")
	jobsCreateCmd.Flags().StringArray("appliance", nil, "appliance as name:quantity:runtime_hrs[:power_w], repeatable")
	jobsCreateCmd.Flags().Float64("lat", 0, "site latitude")
	jobsCreateCmd.Flags().Float64("lon", 0, "site longitude")
	jobsCreateCmd.Flags().String("phone", "", "contact phone")
	jobsCreateCmd.Flags().String("name", "", "contact name")

	jobsListCmd.Flags().String("status", "", "filter by status (comma-separated)")
	jobsCompleteCmd.Flags().String("feedback", "", "customer feedback")

	jobsCmd.AddCommand(jobsCreateCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsCompleteCmd)
	jobsCmd.AddCommand(jobsRecheckCmd)
	jobsCmd.AddCommand(jobsPredictionsCmd)
}

// --- technicians ---

var techniciansCmd = &cobra.Command{
	Use:   "technicians",
	Short: "Manage the technician roster",
}

var techniciansAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or update a technician",
	RunE: func(cmd *cobra.Command, args []string) error {
		firstName, _ := cmd.Flags().GetString("first-name")
		lastName, _ := cmd.Flags().GetString("last-name")
		email, _ := cmd.Flags().GetString("email")
		phone, _ := cmd.Flags().GetString("phone")
		skills, _ := cmd.Flags().GetString("skills")
		id, _ := cmd.Flags().GetString("id")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/technicians", map[string]string{
			"id":         id,
			"first_name": firstName,
			"last_name":  lastName,
			"email":      email,
			"phone":      phone,
			"skills":     skills,
		})
		if err != nil {
			return err
		}

		var result struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Technician %s saved", result.ID)
		return nil
	},
}

var techniciansListCmd = &cobra.Command{
	Use:   "list",
	Short: "List technicians",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/technicians")
		if err != nil {
			return err
		}

		var technicians []struct {
			ID        string `json:"id"`
			FirstName string `json:"first_name"`
			LastName  string `json:"last_name"`
			Phone     string `json:"phone"`
			Skills    string `json:"skills"`
		}
		if err := decodeJSON(resp, &technicians); err != nil {
			return err
		}

		if len(technicians) == 0 {
			fmt.Println("No technicians found.")
			return nil
		}

		for _, t := range technicians {
			fmt.Printf("%s  %s %s  %s  %s\n",
				colorize(colorCyan, t.ID[:8]),
				t.FirstName, t.LastName, t.Phone, t.Skills,
			)
		}
		return nil
	},
}

func init() {
	techniciansAddCmd.Flags().String("id", "", "technician id (generated when empty)")
	techniciansAddCmd.Flags().String("first-name", "", "first name")
	techniciansAddCmd.Flags().String("last-name", "", "last name")
	techniciansAddCmd.Flags().String("email", "", "email address")
	techniciansAddCmd.Flags().String("phone", "", "phone number")
	techniciansAddCmd.Flags().String("skills", "", "comma-separated skills")

	techniciansCmd.AddCommand(techniciansAddCmd)
	techniciansCmd.AddCommand(techniciansListCmd)
}

// --- catalog ---

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage appliance power ratings",
}

var catalogListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog ratings",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/catalog")
		if err != nil {
			return err
		}

		var ratings map[string]float64
		if err := decodeJSON(resp, &ratings); err != nil {
			return err
		}

		if len(ratings) == 0 {
			fmt.Println("Catalog is empty.")
			return nil
		}

		for name, watts := range ratings {
			fmt.Printf("  %s = %.0f W\n", colorize(colorBold, name), watts)
		}
		return nil
	},
}

var catalogSetCmd = &cobra.Command{
	Use:   "set <name> <watts>",
	Short: "Set one appliance rating",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		watts, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("invalid wattage %q: %w", args[1], err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/catalog", map[string]any{
			"name":    args[0],
			"power_w": watts,
		})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Set %s = %s W", args[0], args[1])
		return nil
	},
}

// Import talks to storage directly so it works without a running server.
var catalogImportCmd = &cobra.Command{
	Use:   "import <pdf>",
	Short: "Import appliance ratings from a spec-sheet PDF",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		printStep("Importing ratings from %s...", args[0])
		n, err := catalog.New(store).ImportPDF(args[0])
		if err != nil {
			return err
		}

		printSuccess("Imported %d ratings", n)
		return nil
	},
}

func init() {
	catalogCmd.AddCommand(catalogListCmd)
	catalogCmd.AddCommand(catalogSetCmd)
	catalogCmd.AddCommand(catalogImportCmd)
}

// --- recheck-all ---

var recheckAllCmd = &cobra.Command{
	Use:   "recheck-all",
	Short: "Re-run the weather check for every active job",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/weather/update-all", nil)
		if err != nil {
			return err
		}

		var result struct {
			JobsRechecked int `json:"jobs_rechecked"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Rechecked %d jobs", result.JobsRechecked)
		return nil
	},
}
