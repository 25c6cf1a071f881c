package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/podhub"
	"github.com/poiesic/podhub/config"
	"github.com/poiesic/podhub/core"
	"github.com/poiesic/podhub/reembed"
	"github.com/urfave/cli/v2"
)

type commands struct {
	hubOpts []podhub.Option
}

// open loads the configuration, lets adjust modify it and opens a Hub.
func (cmds *commands) open(c *cli.Context, adjust ...func(*config.Config)) (*podhub.Hub, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	for _, fn := range adjust {
		fn(cfg)
	}
	hub, err := podhub.Open(c.Context, cfg, cmds.hubOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open podhub: %w", err)
	}
	return hub, nil
}

func (cmds *commands) podCreate(c *cli.Context) error {
	hub, err := cmds.open(c)
	if err != nil {
		return err
	}
	defer hub.Close()

	pod, err := hub.CreatePod(c.Context, c.String("name"), c.String("owner"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Created pod %s\n", pod.ID)
	return nil
}

func (cmds *commands) podAdd(c *cli.Context) error {
	contents := c.StringSlice("content")
	if path := c.String("file"); path != "" {
		lines, err := readLines(path)
		if err != nil {
			return err
		}
		contents = append(contents, lines...)
	}
	if len(contents) == 0 {
		return errors.New("nothing to add: pass --content or --file")
	}

	hub, err := cmds.open(c)
	if err != nil {
		return err
	}
	defer hub.Close()

	items, err := hub.AddItems(c.Context, c.String("pod"), contents...)
	if err != nil {
		return err
	}
	for _, item := range items {
		fmt.Fprintf(c.App.Writer, "Added item %s (seq %d)\n", item.ID, item.Seq)
	}
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	return lines, scanner.Err()
}

func (cmds *commands) podShow(c *cli.Context) error {
	hub, err := cmds.open(c)
	if err != nil {
		return err
	}
	defer hub.Close()

	stats, err := podStats(c.Context, hub, c.String("pod"))
	if err != nil {
		return err
	}
	w := c.App.Writer
	fmt.Fprintf(w, "Pod:     %s\n", stats.Pod.ID)
	fmt.Fprintf(w, "Name:    %s\n", stats.Pod.Name)
	fmt.Fprintf(w, "Owner:   %s\n", stats.Pod.OwnerUserID)
	fmt.Fprintf(w, "Created: %s\n", stats.Pod.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Items:   %d\n", stats.Items)
	fmt.Fprintf(w, "Chunks:  %d\n", stats.Chunks)
	fmt.Fprintf(w, "Jobs:    %d\n", stats.Jobs)
	if stats.LastJob != nil {
		fmt.Fprintf(w, "Last job: %s %s\n", stats.LastJob.ID, stats.LastJob.Status)
	}
	return nil
}

func (cmds *commands) podList(c *cli.Context) error {
	hub, err := cmds.open(c)
	if err != nil {
		return err
	}
	defer hub.Close()

	pods, err := hub.ListPods(c.Context)
	if err != nil {
		return err
	}
	for _, pod := range pods {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", pod.ID, pod.Name, pod.OwnerUserID)
	}
	return nil
}

type stats struct {
	Pod     *core.Pod         `json:"pod"`
	Items   int               `json:"items"`
	Chunks  int               `json:"chunks"`
	Jobs    int               `json:"jobs"`
	LastJob *core.IndexingJob `json:"lastJob,omitempty"`
}

func podStats(ctx context.Context, hub *podhub.Hub, podID string) (*stats, error) {
	pod, err := hub.GetPod(ctx, podID)
	if err != nil {
		return nil, err
	}
	s := &stats{Pod: pod}
	if s.Items, err = hub.CountItems(ctx, podID); err != nil {
		return nil, err
	}
	if s.Chunks, err = hub.CountChunks(ctx, podID); err != nil {
		return nil, err
	}
	jobs, err := hub.ListJobs(ctx, podID)
	if err != nil {
		return nil, err
	}
	s.Jobs = len(jobs)
	if len(jobs) > 0 {
		s.LastJob = jobs[len(jobs)-1]
	}
	return s, nil
}

func (cmds *commands) index(c *cli.Context) error {
	hub, err := cmds.open(c)
	if err != nil {
		return err
	}
	defer hub.Close()

	inProcess := hub.Config().Broker.Kind == config.BrokerMemory
	if inProcess && c.Bool("wait") {
		if err := hub.Start(c.Context); err != nil {
			return err
		}
	}

	job, err := hub.StartIndexing(c.Context, c.String("pod"))
	if err != nil {
		return err
	}
	jobID := job.ID
	fmt.Fprintf(c.App.Writer, "Started job %s\n", jobID)

	if !c.Bool("wait") {
		if inProcess {
			slog.Warn("memory broker does not outlive this process; use --wait or the nats broker", "jobID", jobID)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()
	job, err = hub.WaitForJob(ctx, jobID, podhub.DefaultPollInterval)
	if err != nil {
		return fmt.Errorf("waiting for job %s: %w", jobID, err)
	}

	if inProcess {
		// The job completes once every item is published; let the item
		// workers drain before stopping.
		if err := waitForChunks(ctx, hub, job.PodID); err != nil {
			slog.Warn("stopped before every item was embedded", "err", err)
		}
	}
	printJob(c, job)
	if job.Status == core.JobStatusFailed {
		return fmt.Errorf("job %s failed: %s", job.ID, job.ErrorMessage)
	}
	return nil
}

// waitForChunks polls until every item of the pod is embedded or dead-lettered.
func waitForChunks(ctx context.Context, hub *podhub.Hub, podID string) error {
	items, err := hub.CountItems(ctx, podID)
	if err != nil {
		return err
	}
	ticker := time.NewTicker(podhub.DefaultPollInterval)
	defer ticker.Stop()
	for {
		chunks, err := hub.CountChunks(ctx, podID)
		if err != nil {
			return err
		}
		letters, err := hub.DeadLetters(ctx, 0)
		if err != nil {
			return err
		}
		if chunks+len(letters) >= items {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJob(c *cli.Context, job *core.IndexingJob) {
	w := c.App.Writer
	fmt.Fprintf(w, "Job:      %s\n", job.ID)
	fmt.Fprintf(w, "Pod:      %s\n", job.PodID)
	fmt.Fprintf(w, "Status:   %s\n", job.Status)
	fmt.Fprintf(w, "Created:  %s\n", job.CreatedAt.Format(time.RFC3339))
	if d := job.Duration(); d > 0 {
		fmt.Fprintf(w, "Duration: %v\n", d.Round(time.Millisecond))
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(w, "Error:    %s\n", job.ErrorMessage)
	}
}

func (cmds *commands) jobShow(c *cli.Context) error {
	hub, err := cmds.open(c)
	if err != nil {
		return err
	}
	defer hub.Close()

	job, err := hub.GetJob(c.Context, c.String("job"))
	if err != nil {
		return err
	}
	printJob(c, job)
	return nil
}

func (cmds *commands) jobsList(c *cli.Context) error {
	hub, err := cmds.open(c)
	if err != nil {
		return err
	}
	defer hub.Close()

	jobs, err := hub.ListJobs(c.Context, c.String("pod"))
	if err != nil {
		return err
	}
	for _, job := range jobs {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", job.ID, job.Status, job.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func (cmds *commands) jobsStale(c *cli.Context) error {
	hub, err := cmds.open(c)
	if err != nil {
		return err
	}
	defer hub.Close()

	jobs, err := hub.StaleJobs(c.Context, c.Duration("older-than"))
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintln(c.App.Writer, "No stale jobs")
		return nil
	}
	for _, job := range jobs {
		fmt.Fprintf(c.App.Writer, "%s\tpod %s\tcreated %s\n", job.ID, job.PodID, job.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func (cmds *commands) serve(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub, err := cmds.open(c)
	if err != nil {
		return err
	}
	defer hub.Close()

	if err := hub.Start(ctx); err != nil {
		return err
	}
	slog.Info("serving; press Ctrl-C to stop", "broker", hub.Config().Broker.Kind)

	var tick <-chan time.Time
	if interval := c.Duration("metrics-interval"); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			hub.Stop()
			return nil
		case <-tick:
			slog.Info("metrics", hub.Metrics().Snapshot().Values()...)
		}
	}
}

func (cmds *commands) search(c *cli.Context) error {
	hub, err := cmds.open(c)
	if err != nil {
		return err
	}
	defer hub.Close()

	var monitor *printMonitor
	if c.Bool("verbose") {
		monitor = &printMonitor{w: c.App.Writer}
	}
	retrieval, err := hub.Searcher().RetrieveWithMonitor(c.Context, c.String("pod"), c.String("question"), c.Int("limit"), monitor.orNil())
	if err != nil {
		return err
	}

	w := c.App.Writer
	if retrieval.Fallback {
		fmt.Fprintln(w, "No similar chunks; using the pod index")
		fmt.Fprintln(w, retrieval.Context)
		return nil
	}
	fmt.Fprintf(w, "Found %d hits\n", len(retrieval.Chunks))
	for i, hit := range retrieval.Chunks {
		fmt.Fprintf(w, "%d: '%s' (%s)[%0.3f]\n", i, hit.Chunk.Content, hit.Chunk.ItemID, hit.Distance)
	}
	return nil
}

func (cmds *commands) ask(c *cli.Context) error {
	hub, err := cmds.open(c)
	if err != nil {
		return err
	}
	defer hub.Close()

	answer, err := hub.Ask(c.Context, c.String("pod"), c.String("question"), c.Int("limit"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, answer.Text)
	fmt.Fprintf(c.App.Writer, "\nSources: %s\n", strings.Join(answer.Retrieval.UsedIDs, ", "))
	return nil
}

func (cmds *commands) dlqList(c *cli.Context) error {
	hub, err := cmds.open(c)
	if err != nil {
		return err
	}
	defer hub.Close()

	letters, err := hub.DeadLetters(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	if len(letters) == 0 {
		fmt.Fprintln(c.App.Writer, "No dead letters")
		return nil
	}
	for _, l := range letters {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\t%s\t%s\n", l.ID, l.CreatedAt.Format(time.RFC3339), l.Topic, l.Key, l.Reason)
	}
	return nil
}

func (cmds *commands) dlqReplay(c *cli.Context) error {
	id, all := c.String("id"), c.Bool("all")
	if (id == "") == !all {
		return errors.New("pass exactly one of --id or --all")
	}

	hub, err := cmds.open(c)
	if err != nil {
		return err
	}
	defer hub.Close()

	if all {
		n, err := hub.ReplayDeadLetters(c.Context)
		fmt.Fprintf(c.App.Writer, "Replayed %d dead letters\n", n)
		return err
	}
	if err := hub.ReplayDeadLetter(c.Context, id); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Replayed %s\n", id)
	return nil
}

func (cmds *commands) reembed(c *cli.Context) error {
	reembedConfig := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
		Force:          c.Bool("force"),
	}
	if reembedConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reembedConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if reembedConfig.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	hub, err := cmds.open(c, func(cfg *config.Config) {
		if model := c.String("model"); model != "" {
			cfg.AI.EmbeddingModel = model
		}
	})
	if err != nil {
		return err
	}
	defer hub.Close()

	fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", hub.Config().AI.EmbeddingHost)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n", hub.Config().AI.EmbeddingModel)

	result, err := hub.Reembed(c.Context, c.String("pod"), reembedConfig, c.App.ErrWriter)
	if err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "Re-embedded %d of %d chunks (%d already current)\n", result.Reembedded, result.Total, result.Skipped)
	return nil
}

func (cmds *commands) metrics(c *cli.Context) error {
	hub, err := cmds.open(c)
	if err != nil {
		return err
	}
	defer hub.Close()

	out := struct {
		Pod     *stats `json:"pod,omitempty"`
		Breaker string `json:"breaker"`
		Metrics any    `json:"metrics"`
	}{
		Breaker: hub.Breaker().State().String(),
		Metrics: hub.Metrics().Snapshot(),
	}
	if podID := c.String("pod"); podID != "" {
		if out.Pod, err = podStats(c.Context, hub, podID); err != nil {
			return err
		}
	}

	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func (cmds *commands) configInit(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	path := c.String("out")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := config.Write(cfg, path); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Wrote %s\n", path)
	return nil
}
