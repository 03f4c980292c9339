package searchbot

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"BytesmeSearch/internal/catalog"
	"BytesmeSearch/internal/config"
	"BytesmeSearch/internal/reveal"
	"BytesmeSearch/internal/session"
	"BytesmeSearch/internal/store"
	"BytesmeSearch/internal/stream"
	"BytesmeSearch/internal/telemetry"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// SearchBot is the interactive terminal front end of the search engine
type SearchBot struct {
	config   config.Config
	db       *sql.DB
	archive  *store.Store
	products *catalog.Client
	logger   *slog.Logger
	tracer   trace.Tracer
	session  *stream.Session
	cleanup  func()

	in  io.Reader
	out io.Writer

	outMu       sync.Mutex
	background  sync.WaitGroup
	renderDone  chan struct{}
	archiveJobs chan session.Conversation
	archiveDone chan struct{}

	shutdownOnce sync.Once

	// render state of the turn in flight, touched only by the render goroutine
	shownThinking int
	shownAnswer   int
}

// deps are the collaborators a SearchBot is assembled from
type deps struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	dialer   stream.Dialer
	archive  *store.Store
	products *catalog.Client
	in       io.Reader
	out      io.Writer
}

// NewSearchBot creates a new SearchBot instance
func NewSearchBot(cfg config.Config) (*SearchBot, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := telemetry.InitLogger(cfg.LogDir, cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx, cfg.LogDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	var db *sql.DB
	var archive *store.Store
	if cfg.Persist {
		db, err = telemetry.InitDB(cfg.DBPath)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		archive, err = store.New(db, logger)
		if err != nil {
			closeDB(db)
			cleanup()
			return nil, fmt.Errorf("failed to initialize archive: %w", err)
		}
	}

	dialer, err := stream.NewDialer(cfg, logger)
	if err != nil {
		closeDB(db)
		cleanup()
		return nil, fmt.Errorf("failed to create stream transport: %w", err)
	}

	products, err := catalog.NewClient(cfg, logger, tracer)
	if err != nil {
		closeDB(db)
		cleanup()
		return nil, fmt.Errorf("failed to create catalog client: %w", err)
	}

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	b := newSearchBot(cfg, deps{
		logger:   logger,
		tracer:   tracer,
		meter:    meter,
		dialer:   dialer,
		archive:  archive,
		products: products,
		in:       os.Stdin,
		out:      os.Stdout,
	})
	b.db = db
	b.cleanup = cleanup
	return b, nil
}

func closeDB(db *sql.DB) {
	if db != nil {
		db.Close()
	}
}

func newSearchBot(cfg config.Config, d deps) *SearchBot {
	b := &SearchBot{
		config:     cfg,
		archive:    d.archive,
		products:   d.products,
		logger:     d.logger,
		tracer:     d.tracer,
		in:         d.in,
		out:        d.out,
		renderDone:  make(chan struct{}),
		archiveJobs: make(chan session.Conversation, 32),
		archiveDone: make(chan struct{}),
	}
	b.session = stream.NewSession(d.dialer,
		stream.WithLogger(d.logger),
		stream.WithTracer(d.tracer),
		stream.WithMeter(d.meter),
		stream.WithReveal(reveal.NewScheduler(cfg.RevealDelay, cfg.RevealStagger)),
		stream.WithIdleTimeout(cfg.IdleTimeout),
	)
	go b.render()
	go b.archiveLoop()
	return b
}

func (b *SearchBot) printf(format string, args ...any) {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	fmt.Fprintf(b.out, format, args...)
}

func (b *SearchBot) println(args ...any) {
	b.outMu.Lock()
	defer b.outMu.Unlock()
	fmt.Fprintln(b.out, args...)
}

// render prints engine events until the session is closed
func (b *SearchBot) render() {
	defer close(b.renderDone)
	for ev := range b.session.Events() {
		switch ev.Type {
		case stream.EventStateChanged:
			switch ev.State {
			case stream.StateConnecting:
				b.shownThinking, b.shownAnswer = 0, 0
			case stream.StateCancelled:
				b.endAnswerLine()
				b.println("(cancelled)")
			}
		case stream.EventPending:
			b.renderPending(ev.Pending)
		case stream.EventTurnCompleted:
			b.renderCompleted(ev.Turn, ev.Reveal, ev.Conversation)
		case stream.EventFailed:
			b.endAnswerLine()
			b.printf("Error: %v\n", ev.Err)
		case stream.EventReset:
			b.shownThinking, b.shownAnswer = 0, 0
		}
	}
}

func (b *SearchBot) renderPending(snap session.PendingSnapshot) {
	if len(snap.ThinkingText) > b.shownThinking {
		delta := strings.TrimPrefix(snap.ThinkingText[b.shownThinking:], "\n")
		b.shownThinking = len(snap.ThinkingText)
		for _, line := range strings.Split(delta, "\n") {
			b.printf("  … %s\n", line)
		}
	}
	if len(snap.AnswerText) > b.shownAnswer {
		if b.shownAnswer == 0 {
			b.printf("Bot: ")
		}
		b.printf("%s", snap.AnswerText[b.shownAnswer:])
		b.shownAnswer = len(snap.AnswerText)
	}
}

func (b *SearchBot) endAnswerLine() {
	if b.shownAnswer > 0 {
		b.println()
	}
	b.shownAnswer = 0
}

func (b *SearchBot) renderCompleted(turn session.AssistantTurn, run *reveal.Run, conv session.Conversation) {
	if b.shownAnswer == 0 && turn.AnswerText != "" {
		b.printf("Bot: %s", turn.AnswerText)
		b.shownAnswer = len(turn.AnswerText)
	}
	b.endAnswerLine()

	products := turn.Products()
	if len(products) > 0 {
		b.printf("%d product(s) recommended\n", len(products))
	}
	if run != nil {
		b.background.Add(1)
		go b.renderReveals(run, products)
	}

	if b.archive != nil {
		b.archiveJobs <- conv
	}
}

// archiveLoop saves conversations one at a time in completion order,
// so a later copy of a conversation always wins
func (b *SearchBot) archiveLoop() {
	defer close(b.archiveDone)
	for conv := range b.archiveJobs {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := b.archive.Save(ctx, conv); err != nil {
			b.logger.Error("failed to archive conversation", "conversation_id", conv.ID, "error", err)
		}
		cancel()
	}
}

func (b *SearchBot) renderReveals(run *reveal.Run, products []session.ProductAttachment) {
	defer b.background.Done()
	for ev := range run.C() {
		if ev.Index < 0 || ev.Index >= len(products) {
			continue
		}
		b.printf("  ▸ %s\n", describeProduct(products[ev.Index]))
	}
}

func describeProduct(p session.ProductAttachment) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", p.ProductID, p.Name))
	if p.Category != "" {
		sb.WriteString(fmt.Sprintf(" (%s)", p.Category))
	}
	for _, sp := range p.SizePriceTable {
		sb.WriteString(fmt.Sprintf(" %s:%.0f", sp.Size, sp.Price))
	}
	if p.Rating != nil {
		sb.WriteString(fmt.Sprintf(" ★%.1f", *p.Rating))
	}
	if p.DiscountPercent != nil && *p.DiscountPercent > 0 {
		sb.WriteString(fmt.Sprintf(" -%.0f%%", *p.DiscountPercent))
	}
	return sb.String()
}

// handleInput runs one line of user input; plain text starts a new search
func (b *SearchBot) handleInput(ctx context.Context, input string) (bool, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return false, nil
	}
	if strings.HasPrefix(input, "/") {
		return b.handleCommand(ctx, input)
	}
	if err := b.session.Start(ctx, input); err != nil {
		return false, fmt.Errorf("failed to start search: %w", err)
	}
	return false, nil
}

// handleCommand handles special commands
func (b *SearchBot) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}
	arg := strings.TrimSpace(strings.TrimPrefix(cmd, parts[0]))

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/ask":
		if arg == "" {
			return false, fmt.Errorf("usage: /ask <follow-up question>")
		}
		err := b.session.StartFollowUp(ctx, arg)
		if errors.Is(err, stream.ErrNoSession) {
			return false, fmt.Errorf("no conversation to follow up yet, type a query first")
		}
		if err != nil {
			return false, fmt.Errorf("failed to start follow-up: %w", err)
		}
		return false, nil

	case "/new":
		b.session.Reset()
		b.println("Started new search:", b.session.Search().ID())
		return false, nil

	case "/cancel":
		b.session.Cancel()
		return false, nil

	case "/history":
		if b.archive == nil {
			b.println("Archive is disabled.")
			return false, nil
		}
		list, err := b.archive.List(ctx, 20)
		if err != nil {
			return false, fmt.Errorf("failed to list conversations: %w", err)
		}
		if len(list) == 0 {
			b.println("No archived conversations.")
			return false, nil
		}
		b.println("\nArchived conversations:")
		for i, sum := range list {
			b.printf("%d. %s  %s  %d turns  %q\n", i+1, sum.ID, sum.StartTime.Local().Format(time.DateTime), sum.TurnCount, sum.FirstQuery)
		}
		b.println()
		return false, nil

	case "/load":
		if b.archive == nil {
			b.println("Archive is disabled.")
			return false, nil
		}
		if arg == "" {
			return false, fmt.Errorf("usage: /load <conversation id>")
		}
		conv, err := b.archive.Load(ctx, arg)
		if err != nil {
			return false, fmt.Errorf("failed to load conversation: %w", err)
		}
		b.printConversation(conv)
		return false, nil

	case "/product":
		if arg == "" {
			return false, fmt.Errorf("usage: /product <product id>")
		}
		detail, err := b.products.Product(ctx, arg)
		if err != nil {
			return false, fmt.Errorf("failed to fetch product: %w", err)
		}
		b.println(describeProduct(session.AttachmentFromPayload(detail.Product)))
		if detail.Description != "" {
			b.println("  " + detail.Description)
		}
		if len(detail.Categories) > 0 {
			b.println("  Categories: " + strings.Join(detail.Categories, ", "))
		}
		return false, nil

	case "/help":
		b.println("Available commands:")
		b.println("  <query>             - Start a new search")
		b.println("  /ask <question>     - Ask a follow-up in the current conversation")
		b.println("  /new                - Discard the conversation and start over")
		b.println("  /cancel             - Cancel the answer being streamed")
		b.println("  /history            - List archived conversations")
		b.println("  /load <id>          - Show an archived conversation")
		b.println("  /product <id>       - Show product details")
		b.println("  /help               - Show this help message")
		b.println("  /quit, /exit        - Exit")
		return false, nil

	default:
		return false, fmt.Errorf("unknown command: %s (try /help)", parts[0])
	}
}

func (b *SearchBot) printConversation(conv store.Conversation) {
	b.printf("\nConversation %s (%s)\n", conv.ID, conv.StartTime.Local().Format(time.DateTime))
	for _, turn := range conv.Turns {
		switch t := turn.(type) {
		case session.UserTurn:
			b.printf("You: %s\n", t.Text)
		case session.AssistantTurn:
			b.printf("Bot: %s\n", t.AnswerText)
			for _, p := range t.Products() {
				b.printf("  ▸ %s\n", describeProduct(p))
			}
		}
	}
	b.println()
}

// Run reads commands and queries until /quit or end of input
func (b *SearchBot) Run() error {
	defer b.shutdown()

	b.println("=== Bytesme Search ===")
	b.printf("Backend: %s (%s)\n", b.config.StreamURL(), b.config.ResolveTransport())
	b.println("Type a query to search, /help for commands, /quit to exit")
	b.println()

	scanner := bufio.NewScanner(b.in)
	ctx := context.Background()

	for scanner.Scan() {
		shouldQuit, err := b.handleInput(ctx, scanner.Text())
		if err != nil {
			b.printf("Error: %v\n", err)
			b.logger.Error("command error", "error", err)
		}
		if shouldQuit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}

	b.println("Goodbye!")
	return nil
}

// shutdown stops the engine and waits for pending archive writes; safe to call repeatedly
func (b *SearchBot) shutdown() {
	b.shutdownOnce.Do(func() {
		b.session.Close()
		<-b.renderDone
		b.background.Wait()

		// render has stopped, so no more archive jobs can arrive
		close(b.archiveJobs)
		<-b.archiveDone

		if b.db != nil {
			if err := b.db.Close(); err != nil {
				b.logger.Error("failed to close database", "error", err)
			}
		}
		if b.cleanup != nil {
			b.cleanup()
		}
	})
}
