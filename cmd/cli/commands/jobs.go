package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// GetJobsCmd returns the jobs command group
func GetJobsCmd() *cobra.Command {
	return jobsCmd
}

func init() {
	jobsCmd.AddCommand(submitJobCmd)
	jobsCmd.AddCommand(listJobsCmd)
	jobsCmd.AddCommand(getJobCmd)
	jobsCmd.AddCommand(retryJobCmd)
	jobsCmd.AddCommand(cancelJobCmd)
	jobsCmd.AddCommand(deleteJobCmd)

	submitJobCmd.Flags().StringP("kind", "k", "", "Job kind: cut or upscale")
	submitJobCmd.Flags().StringP("url", "u", "", "Video URL (cut jobs)")
	submitJobCmd.Flags().StringP("mode", "m", "simple", "Cut mode: simple or auto")
	submitJobCmd.Flags().Float64("start", 0, "Trim window start in seconds (simple cut)")
	submitJobCmd.Flags().Float64("end", 0, "Trim window end in seconds (simple cut)")
	submitJobCmd.Flags().StringP("file", "f", "", "Local input file (upscale jobs)")
	_ = submitJobCmd.MarkFlagRequired("kind")

	listJobsCmd.Flags().IntP("limit", "l", 50, "Limit the number of jobs returned")
	listJobsCmd.Flags().Int("offset", 0, "Pagination offset")
	listJobsCmd.Flags().String("status", "", "Filter jobs by status")
	listJobsCmd.Flags().String("kind", "", "Filter jobs by kind")
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage cut and upscale jobs",
}

var submitJobCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		kind, _ := cmd.Flags().GetString("kind")
		videoURL, _ := cmd.Flags().GetString("url")
		mode, _ := cmd.Flags().GetString("mode")
		start, _ := cmd.Flags().GetFloat64("start")
		end, _ := cmd.Flags().GetFloat64("end")
		file, _ := cmd.Flags().GetString("file")

		req := map[string]interface{}{"kind": kind}
		switch kind {
		case "cut":
			if videoURL == "" {
				return fmt.Errorf("--url is required for cut jobs")
			}
			req["url"] = videoURL
			req["mode"] = mode
			req["start"] = start
			req["end"] = end
		case "upscale":
			if file == "" {
				return fmt.Errorf("--file is required for upscale jobs")
			}
			req["file_path"] = file
		default:
			return fmt.Errorf("invalid job kind: %s", kind)
		}

		data, err := apiClient.CreateJob(context.Background(), req)
		if err != nil {
			return fmt.Errorf("error submitting job: %w", err)
		}
		return prettyPrint(data)
	},
}

var listJobsCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		status, _ := cmd.Flags().GetString("status")
		kind, _ := cmd.Flags().GetString("kind")

		query := url.Values{}
		query.Set("limit", fmt.Sprint(limit))
		query.Set("offset", fmt.Sprint(offset))
		if status != "" {
			query.Set("status", status)
		}
		if kind != "" {
			query.Set("kind", kind)
		}

		data, err := apiClient.ListJobs(context.Background(), query.Encode())
		if err != nil {
			return fmt.Errorf("error fetching jobs: %w", err)
		}
		return prettyPrint(data)
	},
}

var getJobCmd = &cobra.Command{
	Use:   "get [id]",
	Short: "Get a job by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		data, err := apiClient.GetJob(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("error fetching job: %w", err)
		}
		return prettyPrint(data)
	},
}

var retryJobCmd = &cobra.Command{
	Use:   "retry [id]",
	Short: "Resubmit a failed or canceled job",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		data, err := apiClient.RetryJob(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("error retrying job: %w", err)
		}
		return prettyPrint(data)
	},
}

var cancelJobCmd = &cobra.Command{
	Use:   "cancel [id]",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		data, err := apiClient.CancelJob(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("error canceling job: %w", err)
		}
		return prettyPrint(data)
	},
}

var deleteJobCmd = &cobra.Command{
	Use:   "delete [id]",
	Short: "Delete a job and its local files",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		if err := apiClient.DeleteJob(context.Background(), args[0]); err != nil {
			return fmt.Errorf("error deleting job: %w", err)
		}
		fmt.Println("deleted")
		return nil
	},
}

// prettyPrint renders raw JSON with indentation
func prettyPrint(data json.RawMessage) error {
	var buf interface{}
	if err := json.Unmarshal(data, &buf); err != nil {
		fmt.Println(string(data))
		return nil
	}
	out, err := json.MarshalIndent(buf, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
