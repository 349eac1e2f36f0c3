package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/jholhewres/didicogs/pkg/didi/config"
	"github.com/jholhewres/didicogs/pkg/didi/conversation"
	"github.com/jholhewres/didicogs/pkg/didi/gemini"
)

// geminiKeyEnv holds the API key for terminal chats.
const geminiKeyEnv = "GEMINI_API_KEY"

// chatChannel is the pseudo channel ID terminal turns are stored under.
const chatChannel = "terminal"

// newChatCmd creates the `didi chat` command for talking to Gemini from a
// terminal with the same conversation rules the bot uses in Discord.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with Gemini from the terminal",
		Long: `Send one message to Gemini, or start an interactive session when no
message is given. History is kept in memory for the session only.
The API key is read from ` + geminiKeyEnv + `.

Examples:
  didi chat "explain the Crab Nebula in two lines"
  didi chat --system "You are a terse astronomer"`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}

	cmd.Flags().StringP("model", "m", "", "Gemini model (defaults to the configured one)")
	cmd.Flags().StringP("system", "s", "", "system prompt")
	cmd.Flags().Bool("no-history", false, "send every message without previous turns")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if path, _ := cmd.Root().PersistentFlags().GetString("config"); path != "" || config.Find() != "" {
		if path == "" {
			path = config.Find()
		}
		loaded, err := config.Load(path, nil)
		if err != nil {
			return fmt.Errorf("loading config from %s: %w", path, err)
		}
		cfg = loaded
	}
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := config.NewLogger(cfg.Logging, verbose, os.Stderr)

	apiKey := os.Getenv(geminiKeyEnv)
	if apiKey == "" {
		return fmt.Errorf("%s is not set", geminiKeyEnv)
	}

	model, _ := cmd.Flags().GetString("model")
	if model == "" {
		model = cfg.Gemini.Model
	}
	system, _ := cmd.Flags().GetString("system")
	noHistory, _ := cmd.Flags().GetBool("no-history")

	store := conversation.NewMemoryStore(conversation.Settings{
		APIKey:       apiKey,
		Model:        model,
		BaseURL:      cfg.Gemini.BaseURL,
		SystemPrompt: system,
		UseHistory:   !noHistory,
	})
	httpClient := &http.Client{Timeout: cfg.HTTP.Timeout}
	defer httpClient.CloseIdleConnections()
	manager := conversation.NewManager(store, gemini.New(httpClient, cfg.Gemini, logger), logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if len(args) > 0 {
		reply, err := sendTurn(ctx, manager, args[0])
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	}
	return chatLoop(ctx, manager, logger)
}

// chatLoop runs the interactive session until EOF, Ctrl+C or "exit".
func chatLoop(ctx context.Context, manager *conversation.Manager, logger *slog.Logger) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     chatHistoryFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("opening terminal: %w", err)
	}
	defer rl.Close()

	fmt.Println("Type a message, /clear to forget the conversation, or exit to quit.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "/clear":
			if err := manager.Clear(ctx, chatChannel); err != nil {
				logger.Warn("failed to clear history", "error", err)
			}
			fmt.Println("Chat history cleared.")
			continue
		}

		reply, err := sendTurn(ctx, manager, line)
		if err != nil {
			fmt.Println(conversation.UserMessage(err))
			continue
		}
		fmt.Printf("gemini> %s\n", reply)
	}
}

func sendTurn(ctx context.Context, manager *conversation.Manager, content string) (string, error) {
	return manager.Chat(ctx, conversation.Turn{
		ChannelID:  chatChannel,
		AuthorName: currentUser(),
		Content:    content,
	})
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "user"
}

// chatHistoryFile keeps readline history next to the user's config dir.
func chatHistoryFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	dir = filepath.Join(dir, "didi")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return ""
	}
	return filepath.Join(dir, "chat_history")
}
