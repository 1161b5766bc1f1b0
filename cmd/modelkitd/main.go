// Command modelkitd runs the modelkit engine: a small HTTP server exposing
// the resolved model catalog and a completion endpoint, plus one-shot CLI
// commands for listing models and chatting from the terminal.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	modelkit "github.com/noteflow/modelkit"
	"github.com/noteflow/modelkit/internal/kvstore"
	"github.com/noteflow/modelkit/internal/version"
	"github.com/noteflow/modelkit/models"
	"github.com/noteflow/modelkit/provider"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var settingsPath string

	root := &cobra.Command{
		Use:           "modelkitd",
		Short:         "Model resolution and streaming completion engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&settingsPath, "settings", "", "path to a settings file (.json, .yaml, .yml)")

	root.AddCommand(
		newServeCmd(&settingsPath),
		newModelsCmd(&settingsPath),
		newChatCmd(&settingsPath),
		newVersionCmd(),
	)
	return root
}

// loadSettings resolves settings from (in order) the --settings file, the
// MODELKIT_SETTINGS env path, and individual env vars for anything unset.
func loadSettings(path string) (modelkit.Settings, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("MODELKIT_SETTINGS")
	}

	var s modelkit.Settings
	if path != "" {
		loaded, err := modelkit.LoadSettings(path)
		if err != nil {
			return modelkit.Settings{}, err
		}
		s = *loaded
	}

	if s.APIKey == "" {
		s.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if s.BaseURL == "" {
		s.BaseURL = os.Getenv("MODELKIT_BASE_URL")
	}
	if !s.EnableModelDiscovery && os.Getenv("MODELKIT_DISCOVERY") == "1" {
		s.EnableModelDiscovery = true
	}

	if err := modelkit.ValidateSettings(s); err != nil {
		return modelkit.Settings{}, err
	}
	return s, nil
}

// newStore picks the durable blob store: Postgres when a DSN is set, SQLite
// when a path is set, otherwise in-memory (no persistence across restarts).
func newStore() (kvstore.Store, error) {
	if dsn := os.Getenv("MODELKIT_POSTGRES_DSN"); dsn != "" {
		return kvstore.NewPostgresStore(dsn)
	}
	if path := os.Getenv("MODELKIT_DB"); path != "" {
		return kvstore.NewSQLiteStore(path)
	}
	return kvstore.NewMemory(), nil
}

func newModelsCmd(settingsPath *string) *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the models available for conversation and image generation",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := loadSettings(*settingsPath)
			if err != nil {
				return err
			}
			store, err := newStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			mgr := modelkit.NewManager(s, store)
			ctx := cmd.Context()
			opts := modelkit.ListOptions{ForceRefresh: refresh, PreserveDefaults: true}

			fmt.Println("Conversational models:")
			printModels(mgr.AvailableModels(ctx, opts))
			fmt.Println()
			fmt.Println("Image generation models:")
			printModels(mgr.ImageGenerationModels(ctx, opts))
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "force a catalog refresh, bypassing the discovery cache")
	return cmd
}

func printModels(list []models.Model) {
	for _, m := range list {
		line := fmt.Sprintf("  %-45s %s", m.ID, m.Label)
		if len(m.DefaultForRoles) > 0 {
			roles := make([]string, len(m.DefaultForRoles))
			for i, r := range m.DefaultForRoles {
				roles[i] = string(r)
			}
			line += fmt.Sprintf("  (default: %s)", strings.Join(roles, ", "))
		}
		fmt.Println(line)
	}
	if len(list) == 0 {
		fmt.Println("  (none)")
	}
}

func newChatCmd(settingsPath *string) *cobra.Command {
	var model string
	var noStream bool
	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Send a one-shot prompt and print the response",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(*settingsPath)
			if err != nil {
				return err
			}
			store, err := newStore()
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			mgr := modelkit.NewManager(s, store)
			ctx := cmd.Context()
			mgr.UpdateModels(ctx, s, modelkit.ListOptions{PreserveDefaults: true})

			client := mgr.NewClient()
			req := provider.ChatRequest{
				Model:                model,
				Prompt:               strings.Join(args, " "),
				CustomPrompt:         s.CustomPrompt,
				CustomPromptOverride: s.CustomPromptOverride,
			}

			if noStream {
				result, err := client.Complete(ctx, req)
				if err != nil {
					return err
				}
				fmt.Println(result.Markdown)
				return nil
			}

			result, err := client.Stream(ctx, req, func(chunk string) {
				fmt.Print(chunk)
			})
			if err != nil {
				return err
			}
			fmt.Println()
			if result.Cancelled {
				fmt.Fprintln(os.Stderr, "(cancelled; partial response shown)")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "model id override")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the full response instead of streaming")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(*cobra.Command, []string) {
			fmt.Println("modelkitd", version.String())
		},
	}
}
