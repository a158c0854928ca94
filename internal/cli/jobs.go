package cli

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/exchangeset/orchestrator/internal/model"
	"github.com/exchangeset/orchestrator/internal/queue"
)

func (c *commandContext) client() (*apiClient, error) {
	token, err := c.bearer()
	if err != nil {
		return nil, err
	}
	return newAPIClient(c.server, token), nil
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var req model.SubmitJobRequest

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit an exchange set job",
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := ctx.client()
			if err != nil {
				return err
			}
			var out model.SubmitJobResponse
			if err := api.do(cmd.Context(), http.MethodPost, "/api/jobs", &req, &out); err != nil {
				return err
			}
			return writeJSON(cmd, out)
		},
	}
	cmd.Flags().StringVarP(&req.DataStandard, "standard", "s", "s100", "Data standard (s100, s63, s57)")
	cmd.Flags().StringVar(&req.CorrelationID, "correlation-id", "", "Correlation id, generated when empty")
	cmd.Flags().StringSliceVarP(&req.Products, "product", "p", nil, "Product name to build, repeatable")
	return cmd
}

func newJobCommands(ctx *commandContext) []*cobra.Command {
	get := func(use, short, suffix string) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <job-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				api, err := ctx.client()
				if err != nil {
					return err
				}
				var out json.RawMessage
				path := "/api/jobs/" + url.PathEscape(args[0]) + suffix
				if err := api.do(cmd.Context(), http.MethodGet, path, nil, &out); err != nil {
					return err
				}
				return writeJSON(cmd, out)
			},
		}
	}

	return []*cobra.Command{
		get("job", "Show a job", ""),
		get("status", "Show a job's build status", "/status"),
		get("mementos", "List a job's build history", "/mementos"),
	}
}

// newRespondCommand publishes a builder response directly to the response
// queue, standing in for the builder when testing a deployment.
func newRespondCommand(ctx *commandContext) *cobra.Command {
	var (
		resp     model.BuildResponse
		standard string
		exitCode string
	)

	cmd := &cobra.Command{
		Use:   "respond",
		Short: "Publish a build response for a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			std, ok := model.ParseDataStandard(standard)
			if !ok {
				return fmt.Errorf("unsupported data standard %q", standard)
			}
			switch model.ExitCode(exitCode) {
			case model.ExitCodeSuccess, model.ExitCodeFailed, model.ExitCodeNotRun:
			default:
				return fmt.Errorf("unsupported exit code %q", exitCode)
			}
			if resp.JobID == "" {
				return fmt.Errorf("--job is required")
			}

			resp.Version = model.MessageVersion
			resp.Timestamp = time.Now().UTC()
			resp.DataStandard = std
			resp.ExitCode = model.ExitCode(exitCode)
			data, err := json.Marshal(resp)
			if err != nil {
				return err
			}

			rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			defer rdb.Close()
			q := queue.NewRedisQueue(rdb, cfg.Redis.KeyPrefix, cfg.Queues.BuildResponseQueue(std.String()), cfg.Queues.VisibilityTimeout)
			if err := q.Enqueue(cmd.Context(), string(data)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %s response for job %s on %s\n", resp.ExitCode, resp.JobID, q.Name())
			return nil
		},
	}
	cmd.Flags().StringVar(&resp.JobID, "job", "", "Job id")
	cmd.Flags().StringVarP(&standard, "standard", "s", "s100", "Data standard")
	cmd.Flags().StringVar(&exitCode, "exit-code", string(model.ExitCodeSuccess), "Builder exit code (success, failed, notRun)")
	return cmd
}
