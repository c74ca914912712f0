package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"chatrelay-backend/client"
)

var (
	serverURL   string
	modelName   string
	sessionID   string
	timeoutSecs int
)

var (
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

var rootCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive terminal client for the chat relay",
	RunE:  runChat,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		rec := newReconciler()
		sessions, err := rec.Sessions(cmd.Context())
		if err != nil {
			return err
		}
		for _, s := range sessions {
			fmt.Printf("%s  %s  %s (%d messages)\n",
				dimStyle.Render(s.SessionID),
				s.LastMessageAt.Local().Format("2006-01-02 15:04"),
				s.Title, s.MessageCount)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Print a session's transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rec := newReconciler()
		if err := rec.SwitchSession(cmd.Context(), args[0]); err != nil {
			return err
		}
		for _, t := range rec.Transcript() {
			printTurn(t)
		}
		return nil
	},
}

func newReconciler() *client.Reconciler {
	transport := client.NewHTTPTransport(serverURL, time.Duration(timeoutSecs)*time.Second)
	return client.NewReconciler(transport, modelName)
}

func runChat(cmd *cobra.Command, args []string) error {
	rec := newReconciler()
	ctx := cmd.Context()

	if sessionID != "" {
		if err := rec.SwitchSession(ctx, sessionID); err != nil {
			return err
		}
		for _, t := range rec.Transcript() {
			printTurn(t)
		}
	}

	fmt.Println(dimStyle.Render("Type a message, or /new, /sessions, /switch <id>, /quit"))

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)

	for {
		fmt.Print(userStyle.Render("> "))
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return nil
		case line == "/new":
			rec.NewChat()
			fmt.Println(dimStyle.Render("Started a new chat."))
			continue
		case line == "/sessions":
			sessions, err := rec.Sessions(ctx)
			if err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
				continue
			}
			for _, s := range sessions {
				fmt.Printf("%s  %s\n", dimStyle.Render(s.SessionID), s.Title)
			}
			continue
		case strings.HasPrefix(line, "/switch "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/switch "))
			if err := rec.SwitchSession(ctx, id); err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
				continue
			}
			for _, t := range rec.Transcript() {
				printTurn(t)
			}
			continue
		}

		send(ctx, rec, line)
	}
}

func send(ctx context.Context, rec *client.Reconciler, message string) {
	// The reconciler records failures as error turns; render whatever
	// landed at the tail of the transcript.
	rec.Send(ctx, message)
	transcript := rec.Transcript()
	if len(transcript) == 0 {
		return
	}
	printTurn(transcript[len(transcript)-1])
}

func printTurn(t client.Turn) {
	switch t.Role {
	case "user":
		fmt.Println(userStyle.Render("you: ") + t.Content)
	case "assistant":
		label := "assistant"
		if t.ModelName != "" {
			label = t.ModelName
		}
		fmt.Println(assistantStyle.Render(label+": ") + t.Content)
	case "error":
		fmt.Println(errorStyle.Render("error: " + t.Content))
	}
}

func main() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "relay server base URL")
	rootCmd.PersistentFlags().StringVarP(&modelName, "model", "m", "", "model id (server default when empty)")
	rootCmd.PersistentFlags().IntVar(&timeoutSecs, "timeout", 90, "request timeout in seconds")
	rootCmd.Flags().StringVarP(&sessionID, "session", "s", "", "resume an existing session")
	rootCmd.AddCommand(sessionsCmd, historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}
