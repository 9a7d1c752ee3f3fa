package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ifuryst/quickbyte/internal/pipeline"
)

// addJobCommands adds one subcommand per clock-driven job. Each dispatches
// the job; with --drain the queue is run in-process until it is empty.
func addJobCommands(root *cobra.Command) {
	jobs := []struct {
		name  string
		short string
	}{
		{pipeline.JobFetchNews, "Fetch headlines and submit them for classification"},
		{pipeline.JobPollBatches, "Poll in-flight provider batches"},
		{pipeline.JobCheckQueuedAssets, "Check queued video generations"},
		{pipeline.JobFindReadyScripts, "Dispatch composition for scripts with every asset stored"},
		{pipeline.JobProcessScheduledUploads, "Dispatch the uploads due now"},
		{pipeline.JobReclaimStale, "Hand news held past the claim lease back to their stage"},
	}

	for _, j := range jobs {
		job := j.name
		var drain, force bool

		cmd := &cobra.Command{
			Use:   job,
			Short: j.short,
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				a, err := newApp(ctx)
				if err != nil {
					return err
				}
				defer a.logger.Sync()

				var payload interface{}
				if force {
					payload = map[string]bool{"force": true}
				}
				queued, err := a.pipeline.Trigger(ctx, job, payload)
				if err != nil {
					return err
				}
				a.logger.Info("Job dispatched", zap.String("job", job), zap.Bool("queued", queued))

				if !drain {
					return nil
				}
				return a.queue.Drain(ctx)
			},
		}
		cmd.Flags().BoolVar(&drain, "drain", false, "run queued jobs in this process until none is left")
		if job == pipeline.JobProcessScheduledUploads {
			cmd.Flags().BoolVar(&force, "force", false, "dispatch every pending upload regardless of its slot")
		}
		root.AddCommand(cmd)
	}
}
