// Package cli implements the interactive REPL and scripted run modes
// behind the redisq-cli binary: a thin terminal layer over a
// redisq.Handler with raw-mode history navigation, leaving all RESP
// encoding and parsing to internal/proto through the Handler.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"redisq"
	"redisq/internal/proto"
)

// Config holds the CLI's connection and run-mode settings, parsed from
// flags by cmd/redisq-cli.
type Config struct {
	Host     string
	Port     int
	Password string
	Database int
	Raw      bool
	Eval     string
	File     string
	Pipe     bool
}

// CommandHistory tracks previously entered lines for up/down navigation
// in interactive mode.
type CommandHistory struct {
	commands []string
	position int
	maxSize  int
}

// NewCommandHistory creates a history buffer capped at maxSize entries.
func NewCommandHistory(maxSize int) *CommandHistory {
	return &CommandHistory{commands: make([]string, 0, maxSize), maxSize: maxSize}
}

func (h *CommandHistory) Len() int { return len(h.commands) }

// Add appends command to history, skipping blanks and immediate repeats.
func (h *CommandHistory) Add(command string) {
	if command == "" || (len(h.commands) > 0 && h.commands[len(h.commands)-1] == command) {
		return
	}
	h.commands = append(h.commands, command)
	if len(h.commands) > h.maxSize {
		h.commands = h.commands[1:]
	}
	h.position = len(h.commands)
}

// Previous returns the prior command, staying at the oldest entry once reached.
func (h *CommandHistory) Previous() string {
	if len(h.commands) == 0 {
		return ""
	}
	if h.position >= len(h.commands) {
		h.position = len(h.commands) - 1
		return h.commands[h.position]
	}
	if h.position > 0 {
		h.position--
	}
	return h.commands[h.position]
}

// Next returns the following command, or "" once past the newest entry.
func (h *CommandHistory) Next() string {
	if len(h.commands) == 0 {
		return ""
	}
	if h.position < len(h.commands)-1 {
		h.position++
		return h.commands[h.position]
	}
	h.position = len(h.commands)
	return ""
}

// ResetPosition moves the cursor back to "current input".
func (h *CommandHistory) ResetPosition() { h.position = len(h.commands) }

func connectOpts(cfg *Config) []redisq.Option {
	opts := []redisq.Option{redisq.WithAddr(fmt.Sprintf("%s:%d", cfg.Host, cfg.Port))}
	if cfg.Password != "" {
		opts = append(opts, redisq.WithPassword(cfg.Password))
	}
	if cfg.Database != 0 {
		opts = append(opts, redisq.WithDB(cfg.Database))
	}
	return opts
}

// splitCommand tokenizes a REPL line into a command name and arguments.
func splitCommand(input string) (string, []any) {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return "", nil
	}
	args := make([]any, len(parts)-1)
	for i, p := range parts[1:] {
		args[i] = p
	}
	return strings.ToUpper(parts[0]), args
}

func runOne(ctx context.Context, h *redisq.Handler, input string, raw bool) {
	name, args := splitCommand(input)
	if name == "" {
		return
	}
	reply, err := h.Execute(ctx, name, args...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "(error) %v\n", err)
		return
	}
	if raw {
		fmt.Println(reply.String())
	} else {
		fmt.Println(formatReply(*reply))
	}
}

func formatReply(r proto.Reply) string {
	switch r.Kind {
	case proto.KindBulk:
		if r.IsNull {
			return "(nil)"
		}
		return string(r.Bulk)
	case proto.KindArray:
		if r.IsNull {
			return "(nil)"
		}
		if len(r.Array) == 0 {
			return "(empty array)"
		}
		var b strings.Builder
		for i, el := range r.Array {
			fmt.Fprintf(&b, "%d) %s", i+1, formatReply(el))
			if i < len(r.Array)-1 {
				b.WriteByte('\n')
			}
		}
		return b.String()
	case proto.KindError:
		return "(error) " + r.Err.Error()
	case proto.KindInteger:
		return fmt.Sprintf("(integer) %d", r.Int)
	default:
		return r.Str
	}
}

func runFile(ctx context.Context, h *redisq.Handler, filename string, raw bool) {
	file, err := os.Open(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening %s: %v\n", filename, err)
		os.Exit(1)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		runOne(ctx, h, line, raw)
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error reading %s: %v\n", filename, err)
		os.Exit(1)
	}
}

func runPipe(ctx context.Context, h *redisq.Handler, raw bool) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		runOne(ctx, h, line, raw)
	}
}

func printHelp() {
	fmt.Println("\rCommands:\r")
	fmt.Println("\r  help                   - show this help\r")
	fmt.Println("\r  quit, exit             - leave the REPL\r")
	fmt.Println("\r  clear                  - clear the screen\r")
	fmt.Println("\r\r")
	fmt.Println("\rAny other line is sent to the server as-is, e.g.:\r")
	fmt.Println("\r  SET key value\r")
	fmt.Println("\r  GET key\r")
	fmt.Println("\r  MULTI / EXEC / DISCARD\r")
	fmt.Println("\r")
}

func runInteractive(ctx context.Context, h *redisq.Handler, cfg *Config) {
	fmt.Printf("redisq-cli\nConnected to %s:%d\n", cfg.Host, cfg.Port)
	if cfg.Database != 0 {
		fmt.Printf("Using database %d\n", cfg.Database)
	}
	fmt.Printf("Type 'help' for commands, 'quit' to exit\n\n")

	history := NewCommandHistory(100)

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "\r\nWarning: could not set terminal to raw mode: %v\r\n", err)
		runInteractiveFallback(ctx, h, cfg)
		return
	}
	defer term.Restore(int(os.Stdin.Fd()), oldState)

	reader := bufio.NewReader(os.Stdin)

	for {
		fmt.Print("redisq> ")
		input, err := readInputWithHistory(reader, history)
		if err != nil {
			if err == io.EOF {
				fmt.Println()
				break
			}
			fmt.Fprintf(os.Stderr, "\r\nerror reading input: %v\r\n", err)
			continue
		}
		input = strings.TrimSpace(input)
		fmt.Print("\r\n")

		switch input {
		case "":
			continue
		case "quit", "exit":
			fmt.Print("Goodbye!\r\n")
			return
		case "help":
			printHelp()
			continue
		case "clear":
			fmt.Print("\033[H\033[2J")
			continue
		}

		history.Add(input)
		runOne(ctx, h, input, cfg.Raw)
	}
	fmt.Print("Goodbye!\r\n")
}

func runInteractiveFallback(ctx context.Context, h *redisq.Handler, cfg *Config) {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("redisq> ")
		input, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				fmt.Println()
				break
			}
			fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
			continue
		}
		input = strings.TrimSpace(input)
		switch input {
		case "":
			continue
		case "quit", "exit":
			fmt.Println("Goodbye!")
			return
		case "help":
			printHelp()
			continue
		case "clear":
			fmt.Print("\033[H\033[2J")
			continue
		}
		runOne(ctx, h, input, cfg.Raw)
	}
	fmt.Println("Goodbye!")
}

// readInputWithHistory reads a line byte by byte, recognizing arrow-key
// escape sequences for history navigation and basic cursor movement.
func readInputWithHistory(reader *bufio.Reader, history *CommandHistory) (string, error) {
	var input strings.Builder
	cursorPos := 0

	redraw := func() {
		fmt.Print("\r\033[K")
		fmt.Print("redisq> ")
		fmt.Print(input.String())
		if back := input.Len() - cursorPos; back > 0 {
			fmt.Printf("\033[%dD", back)
		}
	}

	for {
		b, err := reader.ReadByte()
		if err != nil {
			return "", err
		}

		switch b {
		case '\r', '\n':
			history.ResetPosition()
			return input.String(), nil
		case 3: // Ctrl-C
			return "", io.EOF
		case 127, 8: // backspace
			if cursorPos > 0 {
				s := input.String()
				input.Reset()
				input.WriteString(s[:cursorPos-1] + s[cursorPos:])
				cursorPos--
				redraw()
			}
			continue
		case 27: // ESC: arrow-key sequence
			b2, err := reader.ReadByte()
			if err != nil || b2 != '[' {
				continue
			}
			b3, err := reader.ReadByte()
			if err != nil {
				continue
			}
			switch b3 {
			case 'A': // up
				if cmd := history.Previous(); cmd != "" || history.Len() > 0 {
					input.Reset()
					input.WriteString(cmd)
					cursorPos = input.Len()
					redraw()
				}
			case 'B': // down
				cmd := history.Next()
				input.Reset()
				input.WriteString(cmd)
				cursorPos = input.Len()
				redraw()
			case 'C': // right
				if cursorPos < input.Len() {
					cursorPos++
					redraw()
				}
			case 'D': // left
				if cursorPos > 0 {
					cursorPos--
					redraw()
				}
			case 'H': // home
				cursorPos = 0
				redraw()
			case 'F': // end
				cursorPos = input.Len()
				redraw()
			}
			continue
		default:
			s := input.String()
			input.Reset()
			input.WriteString(s[:cursorPos] + string(b) + s[cursorPos:])
			cursorPos++
			redraw()
		}
	}
}

// Run dials the server and drives whichever mode cfg/args select:
// single eval, file, piped stdin, positional-args one-shot, or the
// interactive REPL.
func Run(cfg *Config, args []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	h, err := redisq.Connect(ctx, connectOpts(cfg)...)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error connecting to %s:%d: %v\n", cfg.Host, cfg.Port, err)
		os.Exit(1)
	}
	defer h.Disconnect(context.Background())

	runCtx := context.Background()
	switch {
	case cfg.Eval != "":
		runOne(runCtx, h, cfg.Eval, cfg.Raw)
	case len(args) > 0:
		runOne(runCtx, h, strings.Join(args, " "), cfg.Raw)
	case cfg.File != "":
		runFile(runCtx, h, cfg.File, cfg.Raw)
	case cfg.Pipe:
		runPipe(runCtx, h, cfg.Raw)
	default:
		runInteractive(runCtx, h, cfg)
	}
}
