// ABOUTME: Data processor executor: scraping and outbound notifications.
// ABOUTME: Scrape results land in the context tree for other agents to read.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/kinworks/swarm/internal/contextstore"
	"github.com/kinworks/swarm/internal/registry"
	"github.com/kinworks/swarm/internal/tools"
)

// defaultScrapeURL is used when a task description names no URL.
const defaultScrapeURL = "https://example.com/data"

var urlPattern = regexp.MustCompile(`https?://[^\s]+`)

// DataProcessor implements the scrape and messaging workflows.
type DataProcessor struct {
	store  contextstore.Store
	kit    *tools.Kit
	logger *slog.Logger
}

// NewDataProcessor builds the data processor executor.
func NewDataProcessor(store contextstore.Store, kit *tools.Kit, logger *slog.Logger) *DataProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &DataProcessor{
		store:  store,
		kit:    kit,
		logger: logger.With("component", "dataprocessor"),
	}
}

// ExecuteTask dispatches on the assigned workflow: scrape_website fetches
// and stores results under "data.scrapes.<task_id>", send_slack_message
// posts the description text.
func (p *DataProcessor) ExecuteTask(ctx context.Context, task *registry.Task) error {
	switch task.Workflow {
	case "scrape_website":
		return p.scrape(ctx, task)
	case "send_slack_message":
		return p.notify(ctx, task)
	default:
		return fmt.Errorf("unsupported workflow %q", task.Workflow)
	}
}

func (p *DataProcessor) scrape(ctx context.Context, task *registry.Task) error {
	url := defaultScrapeURL
	if m := urlPattern.FindString(task.Description); m != "" {
		url = m
	}

	res := p.kit.Scraper.Scrape(ctx, url)
	if !res.Success {
		return fmt.Errorf("scrape failed: %s", res.Detail)
	}

	p.store.Set("data.scrapes."+task.ID, res.Data)
	p.store.Increment("metrics.scrapes_completed", 1)
	p.logger.Info("scrape stored", "task_id", task.ID, "url", url)
	return nil
}

func (p *DataProcessor) notify(ctx context.Context, task *registry.Task) error {
	res := p.kit.Messenger.Send(ctx, "", task.Description)
	if !res.Success {
		return fmt.Errorf("send failed: %s", res.Detail)
	}
	return nil
}
