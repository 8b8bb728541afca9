package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/hpungsan/dridash/internal/catalog"
	"github.com/hpungsan/dridash/internal/config"
	"github.com/hpungsan/dridash/internal/dri"
	"github.com/hpungsan/dridash/internal/errors"
	"github.com/hpungsan/dridash/internal/issue"
	"github.com/hpungsan/dridash/internal/notes"
	"github.com/hpungsan/dridash/internal/ops"
	"github.com/hpungsan/dridash/internal/settings"
	"github.com/hpungsan/dridash/internal/web"
)

// maxItemBytes bounds the item JSON read by classify.
const maxItemBytes = 1 << 20

// cliEnv carries what commands need. The session is opened in Before so
// --scope can select the storage namespace.
type cliEnv struct {
	cfg  *config.Config
	open func(cfg *config.Config) (*ops.Session, io.Closer, error)

	session *ops.Session
	closer  io.Closer
}

// newCLIApp creates the CLI application with all commands. env may be nil
// for --help and --version.
func newCLIApp(env *cliEnv) *cli.App {
	app := &cli.App{
		Name:    "dridash",
		Usage:   "DRI dashboard for GitHub issues and pull requests",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "repo", Aliases: []string{"r"}, Usage: "Repository (owner/repo)"},
			&cli.StringFlag{Name: "dri-token", Usage: "DRI token prefix (default DRI:@)"},
			&cli.StringFlag{Name: "handle", Usage: "Your handle (default @me)"},
			&cli.StringFlag{Name: "coder-body-flag", Usage: "Word after the DRI token marking the DRI as coder"},
			&cli.StringFlag{Name: "coder-label-flag", Usage: "Label marking the author as unavailable"},
			&cli.BoolFlag{Name: "use-body-text", Usage: "Source DRI tokens from item bodies instead of labels"},
			&cli.StringFlag{Name: "scope", Usage: "Storage scope (overrides storage_scope)"},
		},
		Before: func(c *cli.Context) error {
			if env == nil {
				return nil
			}
			return env.start(c)
		},
		After: func(c *cli.Context) error {
			if env == nil || env.closer == nil {
				return nil
			}
			return env.closer.Close()
		},
		Commands: []*cli.Command{
			queriesCmd(env),
			refreshCmd(env),
			cardsCmd(env),
			classifyCmd(env),
			settingsCmd(env),
			noteCmd(env),
			notesExportCmd(env),
			notesImportCmd(env),
			runsCmd(env),
			serveCmd(env),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func (e *cliEnv) start(c *cli.Context) error {
	cfg := *e.cfg
	if scope := strings.TrimSpace(c.String("scope")); scope != "" {
		cfg.StorageScope = scope
	}
	session, closer, err := e.open(&cfg)
	if err != nil {
		return outputError(err)
	}
	e.session, e.closer = session, closer
	// Global flags lock their fields for this invocation, like URL overrides.
	session.Apply(overridesFrom(c), settings.Inputs{})
	return nil
}

// overridesFrom reads the settings flags.
func overridesFrom(c *cli.Context) settings.Partial {
	p := settings.Partial{
		Repo:           strings.TrimSpace(c.String("repo")),
		DriToken:       strings.TrimSpace(c.String("dri-token")),
		CoderBodyFlag:  strings.TrimSpace(c.String("coder-body-flag")),
		CoderLabelFlag: strings.TrimSpace(c.String("coder-label-flag")),
	}
	if h := strings.TrimSpace(c.String("handle")); h != "" {
		p.Handle = settings.NormalizeHandle(h, "")
	}
	if c.IsSet("use-body-text") {
		b := c.Bool("use-body-text")
		p.UseBodyText = &b
	}
	return p
}

// settingsFlags maps the string settings flags to their fields.
var settingsFlags = []struct{ flag, field string }{
	{"repo", settings.FieldRepo},
	{"dri-token", settings.FieldDriToken},
	{"handle", settings.FieldHandle},
	{"coder-body-flag", settings.FieldCoderBodyFlag},
	{"coder-label-flag", settings.FieldCoderLabelFlag},
}

// resetsFrom returns the fields whose flag was given with a blank value.
func resetsFrom(c *cli.Context) []string {
	var out []string
	for _, f := range settingsFlags {
		if c.IsSet(f.flag) && strings.TrimSpace(c.String(f.flag)) == "" {
			out = append(out, f.field)
		}
	}
	return out
}

func queriesCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "queries",
		Usage: "Print the search query and link of every card",
		Action: func(c *cli.Context) error {
			output, err := env.session.Queries(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// refreshCmd creates the refresh command.
func refreshCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "refresh",
		Usage:     "Refresh a section, a single card, or every section",
		ArgsUsage: "[section|card-id]",
		Action: func(c *cli.Context) error {
			target := c.Args().First()

			if target != "" && !catalog.IsSection(target) {
				result, err := env.session.RefreshCard(c.Context, target)
				if result != nil {
					printCard(c.App.ErrWriter, result.CardView)
				}
				if err != nil {
					return outputError(fmt.Errorf("card %s: %w", target, err))
				}
				return outputJSON(c.App.Writer, result)
			}

			sections := catalog.Sections()
			if target != "" {
				sections = []string{target}
			}
			reports := make([]*ops.SectionReport, 0, len(sections))
			for _, name := range sections {
				report, err := env.session.RefreshSection(c.Context, name)
				if err != nil {
					return outputError(err)
				}
				printReport(c.App.ErrWriter, report)
				reports = append(reports, report)
				if report.Cancelled {
					break
				}
			}
			if len(reports) == 1 {
				return outputJSON(c.App.Writer, reports[0])
			}
			return outputJSON(c.App.Writer, reports)
		},
	}
}

func cardsCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "cards",
		Usage: "Print the dashboard from the card cache (no network unless labels are needed)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "section", Aliases: []string{"s"}, Usage: "Only this section"},
		},
		Action: func(c *cli.Context) error {
			d, err := env.session.Dashboard(c.Context)
			if err != nil {
				return outputError(err)
			}
			if name := c.String("section"); name != "" {
				if !catalog.IsSection(name) {
					return outputError(errors.NewNotFound("section", name))
				}
				for _, sec := range d.Sections {
					if sec.Name == name {
						d.Sections = []ops.SectionView{sec}
						break
					}
				}
			}
			return outputJSON(c.App.Writer, d)
		},
	}
}

// classifyCmd creates the classify command.
func classifyCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "classify",
		Usage: "Classify one item (JSON from --item or stdin) by its DRI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "item", Usage: "Item JSON as returned by the search API"},
			&cli.StringFlag{Name: "card", Usage: "Card id, to include the card's display lines"},
		},
		Action: func(c *cli.Context) error {
			raw := c.String("item")
			if raw == "" {
				if c.App.Reader == os.Stdin && !stdinHasData() {
					return outputError(errors.NewInvalidRequest("item JSON must be passed with --item or piped via stdin"))
				}
				text, err := readInput(c.App.Reader, maxItemBytes)
				if err != nil {
					return outputError(errors.NewInvalidRequest(err.Error()))
				}
				raw = text
			}

			var it issue.Item
			if err := json.Unmarshal([]byte(raw), &it); err != nil {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("invalid item JSON: %v", err)))
			}

			snap := env.session.Snapshot()
			opts := dri.OptionsFrom(snap)
			d := dri.Extract(it, opts)
			line, _ := dri.Format(d, snap.Handle)
			output := map[string]any{
				"dri":        d,
				"found":      d.Found(),
				"dri_line":   line,
				"author_mia": dri.IsAuthorMIA(it, opts),
				"coder":      dri.ResolveCoderHandle(it, d, opts),
				"assignee":   dri.FormatAssignee(it, d, snap, dri.AssigneeOptions{IncludeActionForYou: true}),
			}

			if id := c.String("card"); id != "" {
				card, ok := catalog.Lookup(id)
				if !ok {
					return outputError(errors.NewNotFound("card", id))
				}
				output["view"] = ops.BuildItemView(card, it, snap, env.session.Note(notes.Key(snap.Repo, it.ID)))
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// settingsCmd shows settings, or saves the global settings flags when --save is given.
func settingsCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show settings; with --save, persist the global settings flags (a blank flag resets to the default)",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "save", Usage: "Persist the global settings flags instead of treating them as overrides"},
			&cli.StringFlag{Name: "token", EnvVars: []string{"DRIDASH_TOKEN"}, Usage: "API token to store"},
			&cli.BoolFlag{Name: "clear-token", Usage: "Forget the stored token"},
		},
		Action: func(c *cli.Context) error {
			in := settings.Inputs{
				Token:      c.String("token"),
				ClearToken: c.Bool("clear-token"),
			}
			overrides := overridesFrom(c)
			if c.Bool("save") {
				in.Partial = overrides
				in.Reset = resetsFrom(c)
				overrides = settings.Partial{}
			}
			snap := env.session.Apply(overrides, in)

			return outputJSON(c.App.Writer, map[string]any{
				"settings":    snap,
				"has_token":   snap.HasToken(),
				"repo_ok":     snap.RepoValid(),
				"locked":      env.session.Locked(),
				"fingerprint": env.session.Fingerprint(),
				"saved":       env.session.Saved(),
			})
		},
	}
}

// noteCmd creates the note command.
func noteCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "note",
		Usage:     "Show, set or clear an item note (empty text and no --red deletes it)",
		ArgsUsage: "<repo#id|item-id> [text]",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "red", Usage: "Flag the note"},
			&cli.BoolFlag{Name: "show", Usage: "Print the note without changing it"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return outputError(errors.NewInvalidRequest("note key is required"))
			}
			key := noteKey(env.session.Snapshot().Repo, c.Args().First())

			if c.Bool("show") {
				return outputJSON(c.App.Writer, map[string]any{"key": key, "note": env.session.Note(key)})
			}

			text := strings.Join(c.Args().Slice()[1:], " ")
			entry, err := env.session.SetNote(ops.SetNoteInput{Key: key, Text: text, IsRed: c.Bool("red")}, nil)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, map[string]any{"key": key, "note": entry, "deleted": entry.Empty()})
		},
	}
}

// noteKey accepts a full "owner/repo#id" key or a bare item id for the current repo.
func noteKey(repo, arg string) string {
	arg = strings.TrimSpace(arg)
	if strings.Contains(arg, "#") || repo == "" {
		return arg
	}
	return repo + "#" + arg
}

// notesExportCmd creates the notes-export command.
func notesExportCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "notes-export",
		Usage: "Export notes to a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Usage: "Output path (default ~/.dridash/exports/<scope>-<ts>.jsonl)"},
		},
		Action: func(c *cli.Context) error {
			output, err := env.session.ExportNotes(c.Context, ops.ExportNotesInput{Path: c.String("path")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

// notesImportCmd creates the notes-import command.
func notesImportCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "notes-import",
		Usage: "Import notes from a JSONL file",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "path", Aliases: []string{"p"}, Required: true, Usage: "Input path"},
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "replace", Usage: "Existing keys: replace|keep"},
		},
		Action: func(c *cli.Context) error {
			output, err := env.session.ImportNotes(c.Context, ops.ImportNotesInput{
				Path: c.String("path"),
				Mode: ops.ImportMode(c.String("mode")),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, output)
		},
	}
}

func runsCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "runs",
		Usage: "List recent refresh runs",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum runs to show"},
		},
		Action: func(c *cli.Context) error {
			runs, err := env.session.Runs(c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, map[string]any{"runs": runs})
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(env *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the local web dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind"},
			&cli.IntFlag{Name: "port", Value: 8765, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			srv := web.NewServer(env.session, Version, c.String("bind"), c.Int("port"))
			if err := web.Run(srv); err != nil {
				return outputError(errors.NewInternal(err))
			}
			return nil
		},
	}
}

// Helper functions

var (
	okColor    = color.New(color.FgGreen)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed, color.Bold)
	dimColor   = color.New(color.FgHiBlack)
)

func toneColor(tone string) *color.Color {
	switch tone {
	case catalog.ToneError:
		return errorColor
	case catalog.ToneWarn:
		return warnColor
	}
	return okColor
}

// printCard writes one colored summary line for a card.
func printCard(w io.Writer, v ops.CardView) {
	if v.Error != "" {
		errorColor.Fprintf(w, "  %-28s %s\n", v.Card.Label, v.Count())
		dimColor.Fprintf(w, "    %s\n", v.Error)
		return
	}
	toneColor(v.Card.Tone).Fprintf(w, "  %-28s %s\n", v.Card.Label, v.Count())
}

// printReport writes a section header, its cards and the status line.
func printReport(w io.Writer, r *ops.SectionReport) {
	fmt.Fprintf(w, "%s\n", strings.ToUpper(r.Section))
	for _, res := range r.Cards {
		printCard(w, res.CardView)
	}
	toneColor(r.Tone).Fprintf(w, "  %s\n", r.Status)
}

// outputJSON marshals result to w as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var dErr *errors.DashError
	if stderrors.As(err, &dErr) {
		msg := dErr.Message
		if prefix, ok := strings.CutSuffix(err.Error(), dErr.Error()); ok && prefix != "" {
			msg = prefix + msg
		}
		return cli.Exit(fmt.Sprintf("[%s] %s", dErr.Code, msg), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readInput reads at most limit bytes from r.
func readInput(r io.Reader, limit int64) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("input exceeds %d bytes", limit)
	}
	return strings.TrimSpace(string(data)), nil
}
