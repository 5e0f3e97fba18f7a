// Command tmctl is the operator client of the test management service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/xiaot623/gogo/testmgmt/internal/domain"
	"github.com/xiaot623/gogo/testmgmt/internal/transport/rpc"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", domain.MessageOf(err))
		os.Exit(exitCode(err))
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:      "tmctl",
		Usage:     "Submit, inspect and cancel test runs",
		Writer:    out,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server", Value: "http://localhost:8080", EnvVars: []string{"TMCTL_SERVER"}},
			&cli.StringFlag{Name: "token", EnvVars: []string{"TMCTL_TOKEN"}, Usage: "bearer token from `tmctl login`"},
		},
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Obtain an access token",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "username", Required: true},
					&cli.StringFlag{Name: "password", EnvVars: []string{"TMCTL_PASSWORD"}, Required: true},
				},
				Action: login,
			},
			{
				Name:  "submit",
				Usage: "Create a run over explicit cases or a suite",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "case", Aliases: []string{"c"}},
					&cli.StringFlag{Name: "suite", Aliases: []string{"s"}},
					&cli.StringFlag{Name: "trigger", Value: string(domain.TriggerManual)},
					&cli.BoolFlag{Name: "watch", Aliases: []string{"w"}, Usage: "stream events until the run finishes"},
				},
				Action: submit,
			},
			{
				Name:  "list",
				Usage: "List runs, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status"},
					&cli.StringFlag{Name: "trigger"},
					&cli.StringFlag{Name: "owner"},
					&cli.IntFlag{Name: "limit", Value: 20},
				},
				Action: list,
			},
			{
				Name:      "get",
				Usage:     "Show a run and its results",
				ArgsUsage: "RUN_ID",
				Action:    get,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel a pending or running run",
				ArgsUsage: "RUN_ID",
				Action:    cancel,
			},
			{
				Name:      "watch",
				Usage:     "Stream the events of a run until it finishes",
				ArgsUsage: "RUN_ID",
				Action:    watch,
			},
			{
				Name:  "report",
				Usage: "Report a case result over RPC, as an execution agent would",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "rpc-addr", Value: "localhost:8091", EnvVars: []string{"TMCTL_RPC_ADDR"}},
					&cli.StringFlag{Name: "run", Required: true},
					&cli.StringFlag{Name: "case", Required: true},
					&cli.StringFlag{Name: "outcome", Required: true},
					&cli.Int64Flag{Name: "duration-ms"},
					&cli.StringFlag{Name: "error"},
				},
				Action: report,
			},
		},
	}
}

func apiClient(c *cli.Context) *APIClient {
	return NewAPIClient(c.String("server"), c.String("token"))
}

func runIDArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", errors.New("expected exactly one RUN_ID argument")
	}
	return c.Args().First(), nil
}

func login(c *cli.Context) error {
	tok, err := apiClient(c).Login(c.Context, c.String("username"), c.String("password"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, tok.AccessToken)
	return nil
}

func submit(c *cli.Context) error {
	client := apiClient(c)
	run, err := client.CreateRun(c.Context, domain.CreateRunRequest{
		CaseIDs: c.StringSlice("case"),
		SuiteID: c.String("suite"),
		Trigger: domain.Trigger(c.String("trigger")),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "created %s with %d cases\n", run.ID, run.TotalTests)
	if !c.Bool("watch") {
		return nil
	}
	return watchRun(c, client, run.ID)
}

func list(c *cli.Context) error {
	query := url.Values{}
	for _, name := range []string{"status", "trigger", "owner"} {
		if v := c.String(name); v != "" {
			query.Set(name, v)
		}
	}
	if limit := c.Int("limit"); limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	runs, err := apiClient(c).ListRuns(c.Context, query)
	if err != nil {
		return err
	}
	renderRuns(c.App.Writer, runs)
	return nil
}

func get(c *cli.Context) error {
	runID, err := runIDArg(c)
	if err != nil {
		return err
	}
	client := apiClient(c)
	run, err := client.GetRun(c.Context, runID)
	if err != nil {
		return err
	}
	results, err := client.GetResults(c.Context, runID)
	if err != nil {
		return err
	}
	renderRun(c.App.Writer, run, results)
	return nil
}

func cancel(c *cli.Context) error {
	runID, err := runIDArg(c)
	if err != nil {
		return err
	}
	run, err := apiClient(c).CancelRun(c.Context, runID)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s %s\n", run.ID, run.Status)
	return nil
}

func watch(c *cli.Context) error {
	runID, err := runIDArg(c)
	if err != nil {
		return err
	}
	return watchRun(c, apiClient(c), runID)
}

func watchRun(c *cli.Context, client *APIClient, runID string) error {
	err := client.Watch(c.Context, runID, func(ev domain.RunEvent) {
		ts := time.UnixMilli(ev.Ts).Local().Format(time.TimeOnly)
		fmt.Fprintf(c.App.Writer, "%s %-16s %s\n", ts, ev.Type, ev.Payload)
	})
	// A finished run has nothing to stream, so fall through to its summary.
	if err != nil && !domain.IsKind(err, domain.KindState) {
		return err
	}
	run, err := client.GetRun(c.Context, runID)
	if err != nil {
		return err
	}
	results, err := client.GetResults(c.Context, runID)
	if err != nil {
		return err
	}
	renderRun(c.App.Writer, run, results)
	if run.Status == domain.RunStatusFailed {
		return cli.Exit("", 2)
	}
	return nil
}

func report(c *cli.Context) error {
	result, err := rpc.NewClient(c.String("rpc-addr")).RecordResult(c.Context, rpc.RecordResultRequest{
		RunID:       c.String("run"),
		CaseID:      c.String("case"),
		Outcome:     domain.Outcome(c.String("outcome")),
		DurationMs:  c.Int64("duration-ms"),
		ErrorDetail: c.String("error"),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "recorded %s %s for %s\n", result.CaseID, result.Outcome, result.RunID)
	return nil
}
