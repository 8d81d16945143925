package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/neilberkman/casesim/internal/core/models"
	"github.com/neilberkman/casesim/internal/core/orchestrator"
	"github.com/neilberkman/casesim/internal/core/session"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	chatSpecialty string
	chatVerbose   bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Run a case in a line-oriented chat",
	Long: `Start a new case and talk to the simulated patient line by line.

Each line you type is one turn. Lines starting with / are commands:
  /finalize           close the encounter and get the write-up and grade
  /retry              keep waiting after a timeout
  /new                abandon this case and start another
  /specialty <name>   switch specialty (psf, pediatria, emergencias)
  /history            show the conversation so far
  /copy               copy the last write-up to the clipboard
  /stats              show your case count and grades
  /quit               leave

Examples:
  casesim chat --user ana --specialty pediatria
  CASESIM_PASSWORD=secret casesim chat -u ana`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&chatSpecialty, "specialty", "s", "psf", "Specialty: psf, pediatria or emergencias")
	chatCmd.Flags().BoolVarP(&chatVerbose, "verbose", "v", false, "Log session activity to stderr")
}

func runChat(cmd *cobra.Command, args []string) error {
	specialty, err := models.ParseSpecialty(chatSpecialty)
	if err != nil {
		return err
	}

	logger := orchestrator.QuietLogger()
	if chatVerbose {
		logger = log.New(os.Stderr, "", log.LstdFlags)
	}

	ctx := cmd.Context()
	app, err := openApp(ctx, true, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = app.Close()
	}()

	user, err := login(ctx, app)
	if err != nil {
		return err
	}

	r := &repl{
		orch:      app.Orch,
		user:      user,
		specialty: specialty,
		in:        os.Stdin,
		out:       os.Stdout,
		spin:      term.IsTerminal(int(os.Stderr.Fd())),
	}
	return r.run(ctx)
}

// repl is the chat loop over one orchestrator
type repl struct {
	orch      *orchestrator.Orchestrator
	user      string
	specialty models.Specialty
	in        io.Reader
	out       io.Writer
	spin      bool

	sess   *session.Session
	report string
}

func (r *repl) run(ctx context.Context) error {
	fmt.Fprintln(r.out, headerStyle.Render(fmt.Sprintf("casesim: %s (%s)", r.user, r.specialty.Label())))
	r.printStats(ctx)
	r.startCase(ctx)

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	r.prompt()
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			r.prompt()
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := r.command(ctx, line); quit {
				return nil
			}
		} else {
			r.turn(ctx, line)
		}
		r.prompt()
	}
	return scanner.Err()
}

func (r *repl) prompt() {
	fmt.Fprint(r.out, dimStyle.Render("médico> "))
}

func (r *repl) command(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit", "/q":
		return true
	case "/finalize", "/f":
		r.finalize(ctx)
	case "/retry":
		r.retry(ctx)
	case "/new":
		r.startCase(ctx)
	case "/specialty":
		r.switchSpecialty(ctx, arg)
	case "/history":
		r.printHistory()
	case "/copy":
		r.copyReport()
	case "/stats":
		r.printStats(ctx)
	case "/help":
		fmt.Fprintln(r.out, "/finalize /retry /new /specialty <name> /history /copy /stats /quit")
	default:
		fmt.Fprintln(r.out, warnStyle.Render("unknown command "+name+" (try /help)"))
	}
	return false
}

func (r *repl) startCase(ctx context.Context) {
	r.report = ""
	done := r.wait("Gerando novo caso...")
	res, err := r.orch.StartNewCase(ctx, r.user, r.specialty)
	done()
	if res != nil {
		r.sess = res.Session
	}
	if err != nil {
		r.printErr("start case", err)
		return
	}
	r.printOpening(res)
}

func (r *repl) switchSpecialty(ctx context.Context, arg string) {
	sp, err := models.ParseSpecialty(arg)
	if err != nil {
		r.printErr("specialty", err)
		return
	}
	if r.sess != nil && sp == r.specialty {
		fmt.Fprintln(r.out, dimStyle.Render("already in "+sp.Label()))
		return
	}
	r.specialty = sp
	r.report = ""

	done := r.wait("Gerando novo caso...")
	res, err := r.orch.SwitchSpecialty(ctx, r.sess, r.user, sp)
	done()
	if res != nil {
		r.sess = res.Session
	}
	if err != nil {
		r.printErr("switch specialty", err)
		return
	}
	r.printOpening(res)
}

func (r *repl) printOpening(res *orchestrator.StartResult) {
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, headerStyle.Render("Identificação do Paciente"))
	fmt.Fprintln(r.out, patientStyle.Render(res.Opening))
	if res.Similar {
		fmt.Fprintln(r.out, warnStyle.Render(fmt.Sprintf("note: this case looks like one you already did (%.0f%% similar)", res.Ratio*100)))
	}
	fmt.Fprintln(r.out)
}

func (r *repl) turn(ctx context.Context, text string) {
	if r.sess == nil {
		fmt.Fprintln(r.out, warnStyle.Render("no case open, use /new"))
		return
	}
	if r.sess.Finalized() {
		fmt.Fprintln(r.out, warnStyle.Render("this case is closed, use /new"))
		return
	}

	before := len(r.sess.History())
	done := r.wait("Processando...")
	err := r.orch.SubmitTurn(ctx, r.sess, text)
	done()
	if err != nil {
		r.printErr("turn", err)
		return
	}
	r.printReplies(before)
}

func (r *repl) retry(ctx context.Context) {
	if r.sess == nil {
		return
	}
	switch r.sess.State() {
	case session.AwaitingAssistant:
		before := len(r.sess.History())
		done := r.wait("Processando...")
		err := r.sess.AwaitCompletion(ctx)
		done()
		if err != nil {
			r.printErr("retry", err)
			return
		}
		r.printReplies(before)
	case session.AwaitingFinal:
		r.finalize(ctx)
	default:
		fmt.Fprintln(r.out, dimStyle.Render("nothing to wait for"))
	}
}

func (r *repl) printReplies(from int) {
	hist := r.sess.History()
	for _, m := range hist[min(from, len(hist)):] {
		if m.Role == models.RoleAssistant {
			fmt.Fprintln(r.out, patientStyle.Render(m.Text))
		}
	}
}

func (r *repl) finalize(ctx context.Context) {
	if r.sess == nil {
		fmt.Fprintln(r.out, warnStyle.Render("no case open, use /new"))
		return
	}
	done := r.wait("Gerando relatório final...")
	res, err := r.orch.FinalizeCase(ctx, r.sess, r.user)
	done()
	if err != nil {
		if errors.Is(err, session.ErrNoFinalAnswer) {
			fmt.Fprintln(r.out, warnStyle.Render("the assistant did not produce a complete write-up yet; /finalize again to ask once more"))
			return
		}
		r.printErr("finalize", err)
		return
	}

	r.report = res.Report
	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, headerStyle.Render("Resultado Final"))
	fmt.Fprintln(r.out, res.Report)
	fmt.Fprintln(r.out)
	switch {
	case !res.GradeFound:
		fmt.Fprintln(r.out, warnStyle.Render("Nota não encontrada."))
	case res.OutOfRange:
		fmt.Fprintln(r.out, warnStyle.Render(fmt.Sprintf("Nota: %s (outside 0-10, recorded as given)", formatScore(*res.Score))))
	default:
		fmt.Fprintln(r.out, gradeStyle.Render("Nota: "+formatScore(*res.Score)))
	}
	fmt.Fprintf(r.out, "Casos finalizados: %d  Média global: %s\n", res.CaseCount, formatScore(res.Average))
}

func (r *repl) printHistory() {
	if r.sess == nil {
		return
	}
	for _, m := range r.sess.History() {
		who := "médico"
		style := dimStyle
		if m.Role == models.RoleAssistant {
			who = "paciente"
			style = patientStyle
		}
		fmt.Fprintf(r.out, "%s %s\n%s\n\n", dimStyle.Render(m.CreatedAt.Local().Format("15:04")), who, style.Render(m.Text))
	}
}

func (r *repl) copyReport() {
	if r.report == "" {
		fmt.Fprintln(r.out, dimStyle.Render("nothing to copy yet"))
		return
	}
	if err := clipboard.WriteAll(r.report); err != nil {
		r.printErr("copy", err)
		return
	}
	fmt.Fprintln(r.out, dimStyle.Render("write-up copied to clipboard"))
}

func (r *repl) printStats(ctx context.Context) {
	st, err := r.orch.Stats(ctx, r.user)
	if err != nil {
		r.printErr("stats", err)
		return
	}
	fmt.Fprintf(r.out, "Casos finalizados: %d  Média global: %s\n", st.Cases, formatScore(st.Average))
}

func (r *repl) printErr(op string, err error) {
	msg := fmt.Sprintf("%s failed: %v", op, err)
	if session.IsRetryable(err) && r.sess != nil && r.sess.State() != session.ReadyForInput {
		msg += " (use /retry)"
	}
	fmt.Fprintln(r.out, warnStyle.Render(msg))
}

// wait starts a spinner when attached to a terminal and returns its stop func
func (r *repl) wait(message string) func() {
	if !r.spin {
		return func() {}
	}
	s := NewSpinner(os.Stderr, message)
	s.Start()
	return s.Stop
}
