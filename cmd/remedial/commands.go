package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/remedial/internal/dispatch"
	"github.com/pavelanni/remedial/internal/events"
	"github.com/pavelanni/remedial/internal/grading"
	"github.com/pavelanni/remedial/internal/handler"
	appI18n "github.com/pavelanni/remedial/internal/i18n"
	"github.com/pavelanni/remedial/internal/llm"
	"github.com/pavelanni/remedial/internal/mailer"
	"github.com/pavelanni/remedial/internal/marks"
	"github.com/pavelanni/remedial/internal/model"
	"github.com/pavelanni/remedial/internal/registry"
	"github.com/pavelanni/remedial/internal/report"
	"github.com/pavelanni/remedial/internal/roster"
	"github.com/pavelanni/remedial/internal/store"
)

// pipeline is the loaded registry and roster with their derived assignments and report.
type pipeline struct {
	reg          *registry.Registry
	registryPath string
	registryData []byte
	rosterPath   string
	rosterData   []byte
	students     []model.StudentRecord
	assignments  []model.Assignment
	report       model.Report
}

func loadPipeline(v *viper.Viper) (*pipeline, error) {
	p := &pipeline{
		registryPath: v.GetString("registry"),
		rosterPath:   v.GetString("roster"),
	}

	regData, err := os.ReadFile(p.registryPath)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", p.registryPath, err)
	}
	reg, err := registry.Parse(regData, registry.FormatFromPath(p.registryPath))
	if err != nil {
		return nil, fmt.Errorf("registry %s: %w", p.registryPath, err)
	}
	p.reg = reg
	p.registryData = regData

	data, err := os.ReadFile(p.rosterPath)
	if err != nil {
		return nil, fmt.Errorf("read roster %s: %w", p.rosterPath, err)
	}
	p.rosterData = data
	format, err := roster.FormatFromPath(p.rosterPath)
	if err != nil {
		return nil, err
	}
	cols := roster.Columns{
		Name:    v.GetString("name-col"),
		ID:      v.GetString("id-col"),
		Contact: v.GetString("contact-col"),
		Total:   v.GetString("total-col"),
	}
	students, err := roster.Load(bytes.NewReader(data), format, cols, reg)
	if err != nil {
		return nil, fmt.Errorf("roster %s: %w", p.rosterPath, err)
	}
	p.students = students
	for _, id := range roster.CheckTotals(students) {
		slog.Warn("total does not match the sum of question scores", "student", id)
	}

	p.assignments, err = grading.AssignAll(students, reg)
	if err != nil {
		return nil, err
	}
	p.report = report.Build(reg, students, p.assignments)
	slog.Debug("pipeline loaded", "students", len(students), "questions", reg.Len())
	return p, nil
}

func dispatchOptions(v *viper.Viper, lang string) dispatch.Options {
	return dispatch.Options{
		Timeout:     v.GetDuration("timeout"),
		Teacher:     v.GetString("teacher"),
		Institution: v.GetString("institution"),
		Lang:        lang,
	}
}

func openOutput(stdout io.Writer, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}
	return f, f.Close, nil
}

func assignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Classify scores and write the per-student material report as JSON",
		Args:  cobra.NoArgs,
		RunE:  runAssign,
	}
	f := cmd.Flags()
	addPipelineFlags(f)
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.StringP("lang", "l", appI18n.DefaultLang, "Summary language (en, ru)")
	addLogFlags(f)
	return cmd
}

func runAssign(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	p, err := loadPipeline(v)
	if err != nil {
		return err
	}

	w, closeFn, err := openOutput(cmd.OutOrStdout(), v.GetString("output"))
	if err != nil {
		return err
	}
	if err := report.WriteJSON(w, report.Export(p.reg, p.report, p.rosterPath, p.registryPath)); err != nil {
		_ = closeFn()
		return err
	}
	if err := closeFn(); err != nil {
		return err
	}

	items := 0
	for _, a := range p.assignments {
		items += len(a.Items)
	}
	fmt.Fprintln(cmd.ErrOrStderr(), appI18n.Tp(appI18n.WithLang(cmd.Context(), lang), "MaterialsAssigned", items))
	return nil
}

func summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print per-question averages and bucket distribution",
		Args:  cobra.NoArgs,
		RunE:  runSummary,
	}
	f := cmd.Flags()
	addPipelineFlags(f)
	f.Bool("json", false, "Print JSON instead of a table")
	addLogFlags(f)
	return cmd
}

func runSummary(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	p, err := loadPipeline(v)
	if err != nil {
		return err
	}
	summaries := report.Summarize(p.reg, p.students)
	if v.GetBool("json") {
		return report.WriteJSON(cmd.OutOrStdout(), summaries)
	}
	return report.WriteSummary(cmd.OutOrStdout(), summaries)
}

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send every student their study materials",
		Args:  cobra.NoArgs,
		RunE:  runSend,
	}
	f := cmd.Flags()
	addPipelineFlags(f)
	addChannelFlags(f, mailer.ChannelConsole)
	f.StringSlice("only", nil, "Only message these student ids (repeatable)")
	f.StringP("lang", "l", appI18n.DefaultLang, "Message language (en, ru)")
	f.Bool("save", true, "Record the run in the database")
	addDBFlags(f)
	addEventFlags(f)
	addLogFlags(f)
	return cmd
}

func runSend(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	p, err := loadPipeline(v)
	if err != nil {
		return err
	}
	rep := report.Filter(p.report, v.GetStringSlice("only"))

	ch, err := mailer.New(channelConfig(v, cmd.OutOrStdout()))
	if err != nil {
		return fmt.Errorf("create channel: %w", err)
	}

	pub, err := events.Connect(ctx, eventsConfig(v))
	if err != nil {
		return fmt.Errorf("connect event brokers: %w", err)
	}
	defer pub.Close()

	run, dispatchErr := dispatch.New(ch, p.reg, dispatchOptions(v, lang)).Dispatch(ctx, rep)

	if v.GetBool("save") {
		db, err := openStore(v)
		if err != nil {
			return err
		}
		defer db.Close()
		// The run is recorded even when the parent context was cancelled.
		if err := db.SaveDispatchRun(cmd.Context(), run); err != nil {
			return fmt.Errorf("save dispatch run: %w", err)
		}
	}
	if dispatchErr != nil {
		return dispatchErr
	}

	if err := pub.PublishRun(ctx, run); err != nil {
		slog.Warn("failed to publish dispatch events", "run", run.ID, "error", err)
	}

	counts := run.Counts()
	lctx := appI18n.WithLang(ctx, lang)
	fmt.Fprintln(cmd.ErrOrStderr(), appI18n.Td(lctx, "DispatchSummary", map[string]any{
		"RunID":   run.ID,
		"Sent":    counts[model.OutcomeSent],
		"Skipped": counts[model.OutcomeSkippedNoAddress],
		"Failed":  counts[model.OutcomeFailed],
	}))
	for _, o := range run.Outcomes {
		if o.Status == model.OutcomeSent {
			continue
		}
		fmt.Fprintln(cmd.ErrOrStderr(), appI18n.Td(lctx, "OutcomeReason", map[string]any{
			"StudentID": o.StudentID,
			"Name":      o.Name,
			"Reason":    outcomeReason(lctx, o),
		}))
	}
	return nil
}

// outcomeReason localizes the reasons the dispatcher itself produces.
// Channel errors are printed as reported.
func outcomeReason(ctx context.Context, o model.Outcome) string {
	switch {
	case o.Status == model.OutcomeSkippedNoAddress:
		return appI18n.T(ctx, "NoAddress")
	case o.Reason == dispatch.ErrTimeout.Error():
		return appI18n.T(ctx, "Timeout")
	default:
		return o.Reason
	}
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load roster scores and assignments into the database",
		Args:  cobra.NoArgs,
		RunE:  runImport,
	}
	f := cmd.Flags()
	addPipelineFlags(f)
	addDBFlags(f)
	f.Bool("force", false, "Re-import even when the roster file is unchanged")
	addLogFlags(f)
	return cmd
}

func runImport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	p, err := loadPipeline(v)
	if err != nil {
		return err
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	hash := sha256sum(p.rosterData)
	regHash := sha256sum(p.registryData)
	prev, err := db.GetImportInfo(ctx)
	if err != nil {
		return fmt.Errorf("check import status: %w", err)
	}
	if prev.RosterSHA256 == hash && prev.RegistrySHA256 == regHash && !v.GetBool("force") {
		slog.Info("roster unchanged, skipping import", "path", p.rosterPath, "imported_at", prev.ImportedAt)
		return nil
	}

	if err := db.ReplaceScores(ctx, p.reg, p.students); err != nil {
		return fmt.Errorf("load scores: %w", err)
	}
	if err := db.ReplaceAssignments(ctx, p.students, p.assignments); err != nil {
		return fmt.Errorf("load assignments: %w", err)
	}
	if err := db.SetImportInfo(ctx, store.ImportInfo{
		RosterPath:     p.rosterPath,
		RosterSHA256:   hash,
		RegistryPath:   p.registryPath,
		RegistrySHA256: regHash,
		Students:       len(p.students),
		ImportedAt:     time.Now(),
	}); err != nil {
		return fmt.Errorf("record import: %w", err)
	}
	slog.Info("imported roster", "path", p.rosterPath, "students", len(p.students), "questions", p.reg.Len())
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [question...]",
		Short: "Ask a question about the imported scores",
		Long: "Ask a question about the imported scores. \"score of <id>\" and \"name of <id>\" are\n" +
			"answered directly; anything else goes to the model with a read-only SQL tool.\n" +
			"Without arguments the question is read from stdin.",
		RunE: runQuery,
	}
	f := cmd.Flags()
	f.String("registry", "registry.json", "Scoring rules registry (.json, .yaml)")
	f.Bool("show-sql", false, "Print the SQL the model ran")
	f.StringP("lang", "l", appI18n.DefaultLang, "Answer language for direct lookups (en, ru)")
	addDBFlags(f)
	addLLMFlags(f)
	addLogFlags(f)
	return cmd
}

func runQuery(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	question := strings.TrimSpace(strings.Join(args, " "))
	if question == "" {
		data, err := io.ReadAll(bufio.NewReader(cmd.InOrStdin()))
		if err != nil {
			return fmt.Errorf("read question: %w", err)
		}
		question = strings.TrimSpace(string(data))
	}
	if question == "" {
		return errors.New("no question given")
	}

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	if intent, ok := llm.ParseIntent(question); ok {
		students, err := db.ListStudents(ctx)
		if err != nil {
			return fmt.Errorf("list students: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), intent.Resolve(appI18n.WithLang(ctx, v.GetString("lang")), students))
		return nil
	}

	reg, err := registry.LoadFile(v.GetString("registry"))
	if err != nil {
		return err
	}
	client := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
	ans, err := client.Ask(ctx, llm.Database{
		Querier: db,
		Dialect: string(db.Driver()),
		Schema:  store.SchemaDescription(reg),
		MaxRows: store.MaxQueryRows,
	}, question)
	if err != nil {
		return err
	}
	if v.GetBool("show-sql") {
		for _, q := range ans.Queries {
			fmt.Fprintln(cmd.ErrOrStderr(), "SQL:", q)
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), ans.Text)
	return nil
}

func marksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "marks <file>",
		Short: "Extract marks and BT levels from a question paper (docx, pdf, txt)",
		Args:  cobra.ExactArgs(1),
		RunE:  runMarks,
	}
	f := cmd.Flags()
	f.Bool("json", false, "Print JSON")
	f.String("pdftotext", "pdftotext", "pdftotext binary used for PDF documents")
	f.Duration("pdf-timeout", marks.DefaultPDFTimeout, "Timeout for PDF text extraction")
	addLogFlags(f)
	return cmd
}

func runMarks(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ex := marks.Extractor{PDFToText: v.GetString("pdftotext"), PDFTimeout: v.GetDuration("pdf-timeout")}
	res, err := ex.ExtractFile(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if v.GetBool("json") {
		return report.WriteJSON(out, res)
	}
	if len(res.Entries) == 0 {
		slog.Warn("no marks found", "file", args[0], "mime", res.MIME)
		return nil
	}
	for _, e := range res.Entries {
		fmt.Fprintf(out, "Question %d: Marks = %d, BT Level = L%d\n", e.Question, e.Marks, e.BTLevel)
	}
	return nil
}

func hashPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print its bcrypt hash for --api-password-hash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			setupLogging(cmd)
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("read password: %w", err)
			}
			password := strings.TrimRight(line, "\r\n")
			if password == "" {
				return errors.New("empty password")
			}
			hash, err := handler.HashPassword(password)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
	addLogFlags(cmd.Flags())
	return cmd
}
