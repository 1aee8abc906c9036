package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/copilotkit-support/AI-shopping-assistant/config"
	"github.com/copilotkit-support/AI-shopping-assistant/internal/app"
	"github.com/copilotkit-support/AI-shopping-assistant/internal/domain"
	"github.com/copilotkit-support/AI-shopping-assistant/internal/usecase"
)

var (
	retailers  []string
	verbose    bool
	showBuffer bool

	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "shopctl",
	Short: "ShopLens product research from the terminal",
	Long: `shopctl runs one product research turn against the configured retailers
and prints the selected products as JSON.

API keys are read from SHOPLENS_TAVILY_API_KEY and SHOPLENS_OPENAI_API_KEY.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zapConfig := zap.NewProductionConfig()
		zapConfig.OutputPaths = []string{"stderr"}
		zapConfig.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			zapConfig.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zapConfig.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// searchCmd runs a single research turn
var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Research a product query across retailers",
	Long: `Searches each retailer, extracts structured products from the result pages
and prints a merged selection.

Example:
  shopctl search "noise cancelling headphones under $200" --retailer amazon.com --retailer target.com`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	searchCmd.Flags().StringSliceVarP(&retailers, "retailer", "r", nil, "Restrict the search to these retailer domains")
	searchCmd.Flags().BoolVar(&showBuffer, "more", false, "Print the full buffered product list instead of the selection")
	rootCmd.AddCommand(searchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pipeline, err := app.NewPipeline(cfg, logger)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	request := &domain.TurnRequest{Query: strings.Join(args, " "), Retailers: retailers}
	result, err := pipeline.Service.RunTurn(cmd.Context(), request, &stderrObserver{w: cmd.ErrOrStderr()})
	if err != nil {
		logger.Debug("turn failed", zap.Error(err))
		return errors.New(usecase.UserMessage(err))
	}

	products := result.Products
	if showBuffer {
		products = result.Buffer
	}
	return writeProducts(cmd.OutOrStdout(), products)
}

func writeProducts(w io.Writer, products []domain.Product) error {
	if products == nil {
		products = []domain.Product{}
	}
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(products)
}

// stderrObserver prints turn progress for the terminal user
type stderrObserver struct {
	w io.Writer
}

func (o *stderrObserver) OnLog(entry domain.LogEntry) {
	marker := "…"
	if entry.Status == domain.LogStatusCompleted {
		marker = "✓"
	}
	fmt.Fprintf(o.w, "%s %s\n", marker, entry.Message)
}

func (o *stderrObserver) OnCanvas(status domain.CanvasStatus) {
	fmt.Fprintf(o.w, "== %s: %s\n", status.Title, status.Subtitle)
}
