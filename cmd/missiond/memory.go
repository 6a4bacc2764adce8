package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/missiond/internal/config"
	"github.com/fyrsmithlabs/missiond/internal/inference"
	"github.com/fyrsmithlabs/missiond/internal/memory"
	"github.com/fyrsmithlabs/missiond/internal/retry"
	"github.com/fyrsmithlabs/missiond/internal/vectorstore"
)

var (
	memAddType    string
	memAddTitle   string
	memAddTags    string
	memSearchType string
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Manage mission memory",
}

var memoryAddCmd = &cobra.Command{
	Use:   "add [file]",
	Short: "Store a memory item from a file or stdin",
	Long: `Add embeds and stores a memory item. Content comes from the file
argument, or stdin when the argument is omitted or "-".

Examples:
  missiond memory add --type adr --title "Use NATS for events" decision.md
  git log -1 | missiond memory add --type playbook --title "Release steps" -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMemoryAdd,
}

var memorySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search mission memory",
	Args:  cobra.ExactArgs(1),
	RunE:  runMemorySearch,
}

func init() {
	memoryAddCmd.Flags().StringVar(&memAddType, "type", "snippet", "item type: adr, playbook, snippet or glossary")
	memoryAddCmd.Flags().StringVar(&memAddTitle, "title", "", "item title (required)")
	memoryAddCmd.Flags().StringVar(&memAddTags, "tags", "", "comma-separated tags")
	_ = memoryAddCmd.MarkFlagRequired("title")

	memorySearchCmd.Flags().StringVar(&memSearchType, "type", "", "restrict results to one item type: adr, playbook, snippet or glossary")

	memoryCmd.AddCommand(memoryAddCmd)
	memoryCmd.AddCommand(memorySearchCmd)
}

// newMemoryService builds the memory stack for one-shot CLI operations.
func newMemoryService(ctx context.Context) (*memory.Service, func(), error) {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return nil, nil, err
	}

	retrier := retry.NewExecutor(retry.Config{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialBackoff:    cfg.Retry.InitialBackoff,
		MaxBackoff:        cfg.Retry.MaxBackoff,
		BackoffMultiplier: cfg.Retry.BackoffMultiplier,
	}, nil)

	inferenceSvc, err := inference.NewService(inference.Config{
		BaseURL:        cfg.Inference.BaseURL,
		Model:          cfg.Inference.Model,
		EmbeddingModel: cfg.Inference.EmbeddingModel,
		Timeout:        cfg.Inference.Timeout,
	}, retrier, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("inference setup failed: %w", err)
	}

	store, err := vectorstore.NewFromConfig(ctx, cfg, retrier, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("vectorstore setup failed: %w", err)
	}

	svc := memory.NewService(memory.Config{
		TopK:            cfg.Memory.TopK,
		MinScore:        cfg.Memory.MinScore,
		MaxContextBytes: cfg.Memory.MaxContextBytes,
	}, store, inferenceSvc, nil)

	return svc, func() { _ = store.Close() }, nil
}

func runMemoryAdd(cmd *cobra.Command, args []string) error {
	var content []byte
	var err error
	if len(args) == 0 || args[0] == "-" {
		content, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		content, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file %s: %w", args[0], err)
		}
	}
	if len(content) == 0 {
		return fmt.Errorf("no content to store")
	}

	svc, cleanup, err := newMemoryService(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	var tags []string
	if memAddTags != "" {
		tags = strings.Split(memAddTags, ",")
	}

	item, err := svc.Save(cmd.Context(), memory.Item{
		Type:    memory.ItemType(memAddType),
		Title:   memAddTitle,
		Content: string(content),
		Tags:    tags,
	})
	if err != nil {
		return err
	}

	fmt.Printf("stored %s %s (%s)\n", item.Type, item.ID, item.Title)
	return nil
}

func runMemorySearch(cmd *cobra.Command, args []string) error {
	svc, cleanup, err := newMemoryService(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := svc.Retrieve(cmd.Context(), args[0], memory.ItemType(memSearchType))
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no relevant memory found")
		return nil
	}

	for _, r := range results {
		fmt.Printf("%.3f  [%s] %s\n", r.Score, r.Item.Type, r.Item.Title)
		preview := r.Item.Content
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		fmt.Printf("       %s\n", strings.ReplaceAll(preview, "\n", "\n       "))
	}
	return nil
}
