package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rahul/makeprogress/internal/observability"
	"github.com/rahul/makeprogress/internal/planclient"
	"github.com/rahul/makeprogress/internal/replan"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Plan a task interactively in the terminal",
	Long: `Plan a task against a running planning service.

Commands, one per line:
  s N        start step N
  d N        mark step N done
  x N        mark step N stuck
  f N text   answer the question of step N
  n task     start over with a new task
  r          clear everything
  q          quit`,
	RunE: runClient,
}

func init() {
	runCmd.Flags().String("server", "", "planning service URL (overrides config)")
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if server, _ := cmd.Flags().GetString("server"); server != "" {
		cfg.Client.BaseURL = server
	}

	logger, err := newLogger(cfg, observability.NewTermWriter(os.Stderr))
	if err != nil {
		return err
	}

	color := observability.IsTerminal(os.Stdout)
	ui := newScreen(os.Stdout, color, func() int { return observability.TermWidth(os.Stdout) })
	client := planclient.New(cfg.Client.BaseURL, planclient.WithLogger(logger))
	ctrl := replan.New(replan.FromClient(client), replan.WithObserver(ui), replan.WithLogger(logger))
	defer ctrl.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if task := strings.Join(args, " "); task != "" {
		_ = ctrl.Submit(task)
	} else {
		ui.Changed(ctrl.Snapshot())
	}

	lines := readLines(cmd.InOrStdin())
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				ctrl.Wait()
				return nil
			}
			c, err := parseCommand(line)
			if err != nil {
				ui.Say(err.Error())
				continue
			}
			if c.op == opQuit {
				return nil
			}
			if err := c.apply(ctrl); err != nil && !errors.Is(err, replan.ErrEmptyTask) {
				ui.Say(err.Error())
			}
		}
	}
}

func readLines(r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			out <- sc.Text()
		}
	}()
	return out
}

type op string

const (
	opNone     op = ""
	opStart    op = "s"
	opDone     op = "d"
	opStuck    op = "x"
	opFeedback op = "f"
	opNew      op = "n"
	opReset    op = "r"
	opQuit     op = "q"
)

type command struct {
	op    op
	index int
	text  string
}

var errUsage = errors.New("用法: s N | d N | x N | f N 回答 | n 任务 | r | q")

func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{op: opNone}, nil
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	c := command{op: op(strings.ToLower(name))}
	switch c.op {
	case opReset, opQuit:
		return c, nil
	case opNew:
		c.text = rest
		return c, nil
	case opStart, opDone, opStuck, opFeedback:
		num, text, _ := strings.Cut(rest, " ")
		index, err := strconv.Atoi(num)
		if err != nil {
			return command{}, fmt.Errorf("步骤编号无效 %q: %w", num, errUsage)
		}
		c.index = index
		if c.op == opFeedback {
			c.text = strings.TrimSpace(text)
		}
		return c, nil
	}
	return command{}, errUsage
}

func (c command) apply(ctrl *replan.Controller) error {
	switch c.op {
	case opStart:
		return ctrl.Start(c.index)
	case opDone:
		return ctrl.Complete(c.index)
	case opStuck:
		return ctrl.MarkStuck(c.index)
	case opFeedback:
		return ctrl.SetFeedback(c.index, c.text)
	case opNew:
		return ctrl.Submit(c.text)
	case opReset:
		ctrl.Reset()
	}
	return nil
}
