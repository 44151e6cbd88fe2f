// SPDX-License-Identifier: MIT

// autocast is the operator CLI. It talks to a running daemon over the
// HTTP API; nothing here touches storage directly.
//
// Exit codes: 0 success, 1 run failure, 2 usage or configuration error,
// 3 quality gate rejection.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/autocast/internal/config"
	"github.com/ManuGH/autocast/internal/pipeline/model"
	"github.com/ManuGH/autocast/internal/version"
)

const (
	exitOK           = 0
	exitRunFailed    = 1
	exitUsage        = 2
	exitGateRejected = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitUsage
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := &client{
		base: config.ParseString("AUTOCAST_API_URL", "http://127.0.0.1:8080"),
		http: &http.Client{Timeout: 30 * time.Second},
	}

	switch args[0] {
	case "run":
		return cmdRun(ctx, cli, args[1:])
	case "status":
		return cmdStatus(ctx, cli, args[1:])
	case "validate":
		return cmdValidate(ctx, cli, args[1:])
	case "topics":
		return cmdTopics(ctx, cli)
	case "version":
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: autocast <command> [flags]

commands:
  run       submit a pipeline run for a topic
  status    show the state of an execution
  validate  run the quality gate against an existing project
  topics    list scheduler topics
  version   print version and exit

environment:
  AUTOCAST_API_URL  daemon base URL (default http://127.0.0.1:8080)`)
}

func cmdRun(ctx context.Context, cli *client, args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	topic := fs.String("topic", "", "topic to produce a video for (required)")
	audience := fs.String("audience", "", "target audience hint")
	duration := fs.Int("duration", 0, "target video duration in seconds")
	skipPublish := fs.Bool("skip-publish", false, "stop after assembly, do not publish")
	minVisuals := fs.Int("min-visuals", -1, "override the gate's minimum visuals per scene")
	wait := fs.Bool("wait", true, "wait for the run to finish")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *topic == "" {
		fmt.Fprintln(os.Stderr, "run: --topic is required")
		return exitUsage
	}

	req := model.StartRunRequest{
		Topic:          *topic,
		TargetAudience: *audience,
		VideoDuration:  *duration,
		Options:        model.Options{SkipPublish: *skipPublish},
	}
	if *minVisuals >= 0 {
		req.Options.MinVisuals = minVisuals
	}

	var accepted struct {
		ExecutionID string          `json:"executionId"`
		ProjectID   string          `json:"projectId"`
		Status      model.RunStatus `json:"status"`
	}
	if code := cli.post(ctx, "/api/runs", req, &accepted); code != exitOK {
		return code
	}
	fmt.Printf("execution: %s\nproject:   %s\n", accepted.ExecutionID, accepted.ProjectID)

	if !*wait {
		return exitOK
	}
	return waitForRun(ctx, cli, accepted.ExecutionID)
}

func waitForRun(ctx context.Context, cli *client, executionID string) int {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "interrupted; run continues on the daemon")
			return exitRunFailed
		case <-ticker.C:
		}
		var rec model.RunRecord
		if code := cli.get(ctx, "/api/runs/"+executionID, &rec); code != exitOK {
			return code
		}
		if !rec.Status.IsTerminal() {
			continue
		}
		printRun(&rec)
		return runExitCode(&rec)
	}
}

func cmdStatus(ctx context.Context, cli *client, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: autocast status <executionId>")
		return exitUsage
	}
	var rec model.RunRecord
	if code := cli.get(ctx, "/api/runs/"+args[0], &rec); code != exitOK {
		return code
	}
	printRun(&rec)
	if rec.Status.IsTerminal() {
		return runExitCode(&rec)
	}
	return exitOK
}

func cmdValidate(ctx context.Context, cli *client, args []string) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	minVisuals := fs.Int("min-visuals", -1, "override the gate's minimum visuals per scene")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: autocast validate [flags] <projectId>")
		return exitUsage
	}

	var opts model.Options
	if *minVisuals >= 0 {
		opts.MinVisuals = minVisuals
	}
	var out struct {
		Approved bool            `json:"approved"`
		Report   json.RawMessage `json:"report"`
	}
	if code := cli.post(ctx, "/api/validate/"+fs.Arg(0), opts, &out); code != exitOK {
		return code
	}

	var pretty bytes.Buffer
	_ = json.Indent(&pretty, out.Report, "", "  ")
	fmt.Println(pretty.String())
	if !out.Approved {
		return exitGateRejected
	}
	return exitOK
}

func cmdTopics(ctx context.Context, cli *client) int {
	var topics json.RawMessage
	if code := cli.get(ctx, "/api/topics", &topics); code != exitOK {
		return code
	}
	var pretty bytes.Buffer
	_ = json.Indent(&pretty, topics, "", "  ")
	fmt.Println(pretty.String())
	return exitOK
}

func printRun(rec *model.RunRecord) {
	fmt.Printf("execution: %s\nproject:   %s\nstatus:    %s\n", rec.ExecutionID, rec.ProjectID, rec.Status)
	for _, s := range rec.Stages {
		line := fmt.Sprintf("  %-14s %s", s.Name, s.Status)
		if s.Attempts > 1 {
			line += fmt.Sprintf(" (attempts: %d)", s.Attempts)
		}
		if s.Error != nil {
			line += " - " + s.Error.Message
		}
		fmt.Println(line)
	}
}

// runExitCode distinguishes a gate rejection from other failures so
// automation can branch on it.
func runExitCode(rec *model.RunRecord) int {
	switch rec.Status {
	case model.RunSucceeded, model.RunPartial:
		return exitOK
	}
	if s := rec.Stage(model.StageQualityGate); s != nil && s.Error != nil &&
		s.Error.Kind == model.KindQualityGateRejected {
		return exitGateRejected
	}
	return exitRunFailed
}

// client is a minimal JSON API client.
type client struct {
	base string
	http *http.Client
}

func (c *client) get(ctx context.Context, path string, out any) int {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitUsage
	}
	return c.do(req, out)
}

func (c *client) post(ctx context.Context, path string, body, out any) int {
	raw, err := json.Marshal(body)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitUsage
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitUsage
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *client) do(req *http.Request, out any) int {
	resp, err := c.http.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: daemon unreachable at %s: %v\n", c.base, err)
		return exitUsage
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return exitRunFailed
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		msg := string(payload)
		if json.Unmarshal(payload, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		fmt.Fprintf(os.Stderr, "error: %s (%d)\n", msg, resp.StatusCode)
		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
			return exitUsage
		}
		return exitRunFailed
	}
	if out != nil {
		if err := json.Unmarshal(payload, out); err != nil {
			fmt.Fprintln(os.Stderr, "error: malformed response:", err)
			return exitRunFailed
		}
	}
	return exitOK
}
