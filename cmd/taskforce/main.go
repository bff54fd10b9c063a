// Command taskforce is the taskforce CLI client.
package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/GoCodeAlone/taskforce/comms"
	"github.com/GoCodeAlone/taskforce/internal/version"
	"github.com/GoCodeAlone/taskforce/server"
	"github.com/GoCodeAlone/taskforce/server/api"
	"github.com/GoCodeAlone/taskforce/task"
)

const defaultServer = "http://localhost:9090"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		serverURL string
		token     string
	)
	cli := &Client{HTTPClient: &http.Client{Timeout: 15 * time.Second}}

	root := &cobra.Command{
		Use:          "taskforce",
		Short:        "taskforce CLI",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cli.BaseURL = strings.TrimRight(serverURL, "/")
			cli.Token = token
		},
	}
	root.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "taskforce server URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("TASKFORCE_TOKEN"), "JWT auth token (or $TASKFORCE_TOKEN)")

	root.AddCommand(
		newVersionCommand(),
		newHashPasswordCommand(),
		newLoginCommand(cli),
		newStatusCommand(cli),
		newSummaryCommand(cli),
		newAgentsCommand(cli),
		newTasksCommand(cli),
		newTaskCommand(cli),
		newSubmitCommand(cli),
		newCancelCommand(cli),
		newResultsCommand(cli),
		newMessagesCommand(cli),
		newSendCommand(cli),
		newTeamsCommand(cli),
		newMissionCommand(cli),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "taskforce %s (commit %s, built %s)\n",
				version.Version, version.Commit, version.BuildDate)
		},
	}
}

func newHashPasswordCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for auth.admin_pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := server.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newLoginCommand(c *Client) *cobra.Command {
	var user, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Obtain an API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("TASKFORCE_PASSWORD")
			}
			var resp struct {
				Token     string    `json:"token"`
				ExpiresAt time.Time `json:"expires_at"`
			}
			body := map[string]string{"username": user, "password": password}
			if err := c.post("/api/auth/login", body, &resp); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.Token)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "admin", "username")
	cmd.Flags().StringVar(&password, "password", "", "password (or $TASKFORCE_PASSWORD)")
	return cmd
}

func newStatusCommand(c *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var st api.Status
			if err := c.get("/api/status", &st); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "status:  %s\n", st.Status)
			fmt.Fprintf(w, "version: %s\n", st.Version)
			fmt.Fprintf(w, "uptime:  %s\n", st.Uptime)
			if s := st.Stats; s != nil {
				fmt.Fprintf(w, "agents:  %d\n", s.Agents)
				fmt.Fprintf(w, "tasks:   %d active (max %d), %d pending\n", s.Active, s.MaxConcurrent, s.Pending)
				fmt.Fprintf(w, "done:    %d completed, %d failed, %d cancelled\n", s.Completed, s.Failed, s.Cancelled)
			}
			return nil
		},
	}
}

func newSummaryCommand(c *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Print the orchestrator summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			var text string
			if err := c.get("/api/summary", &text); err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), text)
			return nil
		},
	}
}

func newAgentsCommand(c *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			var agents []map[string]any
			if err := c.get("/api/agents", &agents); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(agents) == 0 {
				fmt.Fprintln(w, "no agents")
				return nil
			}
			fmt.Fprintf(w, "%-20s %-24s %-10s %s\n", "ID", "NAME", "STATUS", "CAPABILITIES")
			fmt.Fprintln(w, strings.Repeat("-", 80))
			for _, a := range agents {
				fmt.Fprintf(w, "%-20s %-24s %-10s %s\n",
					strVal(a["id"]),
					truncate(strVal(a["name"]), 23),
					strVal(a["status"]),
					joinVals(a["capabilities"]),
				)
			}
			return nil
		},
	}
}

func newTasksCommand(c *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List running and queued tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			var list struct {
				Pending []map[string]any `json:"pending"`
				Active  []struct {
					Task    map[string]any `json:"task"`
					AgentID string         `json:"agent_id"`
				} `json:"active"`
			}
			if err := c.get("/api/tasks", &list); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(list.Pending) == 0 && len(list.Active) == 0 {
				fmt.Fprintln(w, "no tasks")
				return nil
			}
			fmt.Fprintf(w, "%-36s %-10s %-9s %-20s %s\n", "ID", "STATE", "PRIORITY", "AGENT", "DESCRIPTION")
			fmt.Fprintln(w, strings.Repeat("-", 100))
			for _, e := range list.Active {
				fmt.Fprintf(w, "%-36s %-10s %-9s %-20s %s\n",
					strVal(e.Task["id"]), "running", strVal(e.Task["priority_name"]), e.AgentID,
					truncate(strVal(e.Task["description"]), 30))
			}
			for _, t := range list.Pending {
				fmt.Fprintf(w, "%-36s %-10s %-9s %-20s %s\n",
					strVal(t["id"]), "queued", strVal(t["priority_name"]), "",
					truncate(strVal(t["description"]), 30))
			}
			return nil
		},
	}
}

func newTaskCommand(c *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "task <id>",
		Short: "Show a task and its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var st struct {
				State   string         `json:"state"`
				Task    map[string]any `json:"task"`
				AgentID string         `json:"agent_id"`
				Result  map[string]any `json:"result"`
			}
			if err := c.get("/api/tasks/"+url.PathEscape(args[0]), &st); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "id:      %s\n", args[0])
			fmt.Fprintf(w, "state:   %s\n", st.State)
			if st.Task != nil {
				fmt.Fprintf(w, "type:    %s\n", strVal(st.Task["type"]))
				fmt.Fprintf(w, "summary: %s\n", strVal(st.Task["description"]))
			}
			if st.AgentID != "" {
				fmt.Fprintf(w, "agent:   %s\n", st.AgentID)
			}
			if st.Result != nil {
				fmt.Fprintf(w, "result:  %s\n", strVal(st.Result["status"]))
				if e := strVal(st.Result["error"]); e != "" {
					fmt.Fprintf(w, "error:   %s\n", e)
				}
				if out := st.Result["output"]; out != nil {
					fmt.Fprintf(w, "output:  %s\n", strVal(out))
				}
			}
			return nil
		},
	}
}

func newSubmitCommand(c *Client) *cobra.Command {
	var (
		priority    string
		description string
		caps        []string
		timeout     string
		params      []string
	)
	cmd := &cobra.Command{
		Use:   "submit <type>",
		Short: "Submit a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.TaskRequest{
				Type:        task.Type(args[0]),
				Priority:    priority,
				Description: description,
				Timeout:     timeout,
			}
			for _, name := range caps {
				req.RequiredCapabilities = append(req.RequiredCapabilities, task.Capability(name))
			}
			if len(params) > 0 {
				req.Parameters = make(map[string]task.Value, len(params))
				for _, p := range params {
					k, v, ok := strings.Cut(p, "=")
					if !ok || k == "" {
						return fmt.Errorf("invalid --param %q, want key=value", p)
					}
					req.Parameters[k] = parseParam(v)
				}
			}
			var created map[string]any
			if err := c.post("/api/tasks", req, &created); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted task %s\n", strVal(created["id"]))
			return nil
		},
	}
	cmd.Flags().StringVarP(&priority, "priority", "p", "normal", "low, normal, high or critical")
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringSliceVarP(&caps, "capability", "c", nil, "required capability (repeatable)")
	cmd.Flags().StringVar(&timeout, "timeout", "", "execution timeout, e.g. 30s")
	cmd.Flags().StringArrayVar(&params, "param", nil, "task parameter key=value (repeatable)")
	return cmd
}

// parseParam reads ints, floats and booleans as such; everything else is a string.
func parseParam(s string) task.Value {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return task.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return task.Float(f)
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return task.Bool(b)
	}
	return task.String(s)
}

func newCancelCommand(c *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a queued or running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.delete("/api/tasks/" + url.PathEscape(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "task %s cancelled\n", args[0])
			return nil
		},
	}
}

func newResultsCommand(c *Client) *cobra.Command {
	var (
		agentID string
		status  string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "results",
		Short: "List finished task results",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if agentID != "" {
				q.Set("agent_id", agentID)
			}
			if status != "" {
				q.Set("status", status)
			}
			q.Set("limit", strconv.Itoa(limit))
			var results []map[string]any
			if err := c.get("/api/results?"+q.Encode(), &results); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintln(w, "no results")
				return nil
			}
			fmt.Fprintf(w, "%-36s %-20s %-8s %s\n", "TASK", "AGENT", "STATUS", "DETAIL")
			fmt.Fprintln(w, strings.Repeat("-", 100))
			for _, r := range results {
				detail := strVal(r["error"])
				if detail == "" {
					detail = strVal(r["output"])
				}
				fmt.Fprintf(w, "%-36s %-20s %-8s %s\n",
					strVal(r["task_id"]), strVal(r["agent_id"]), strVal(r["status"]), truncate(detail, 40))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "only results from this agent")
	cmd.Flags().StringVar(&status, "status", "", "success or failure")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of results")
	return cmd
}

func newMessagesCommand(c *Client) *cobra.Command {
	var (
		agentID string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "messages",
		Short: "Show recent bus messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if agentID != "" {
				q.Set("agent_id", agentID)
			}
			q.Set("limit", strconv.Itoa(limit))
			var msgs []map[string]any
			if err := c.get("/api/messages?"+q.Encode(), &msgs); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, m := range msgs {
				to := strVal(m["to"])
				if to == "" {
					to = "*"
				}
				fmt.Fprintf(w, "[%s] %s -> %s: %s %s\n",
					strVal(m["type"]), strVal(m["from"]), to, strVal(m["subject"]), strVal(m["content"]))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&agentID, "agent", "", "only messages to or from this agent")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of messages")
	return cmd
}

func newSendCommand(c *Client) *cobra.Command {
	var (
		from string
		typ  string
	)
	cmd := &cobra.Command{
		Use:   "send <to|*> <content>",
		Short: "Send a message to an agent, or broadcast with *",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := api.MessageRequest{
				From:    from,
				To:      args[0],
				Type:    comms.MessageType(typ),
				Content: strings.Join(args[1:], " "),
			}
			var reply map[string]any
			if err := c.post("/api/messages", req, &reply); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if strVal(reply["type"]) == "broadcast" {
				fmt.Fprintf(w, "broadcast %s\n", strVal(reply["id"]))
				return nil
			}
			fmt.Fprintf(w, "%s: %s\n", strVal(reply["from"]), strVal(reply["content"]))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "cli", "sender id")
	cmd.Flags().StringVar(&typ, "type", "request", "message type")
	return cmd
}

func newTeamsCommand(c *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "teams",
		Short: "List teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			var teams []map[string]any
			if err := c.get("/api/teams", &teams); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if len(teams) == 0 {
				fmt.Fprintln(w, "no teams")
				return nil
			}
			fmt.Fprintf(w, "%-16s %-20s %-16s %-12s %s\n", "ID", "NAME", "LEADER", "MISSION", "MEMBERS")
			fmt.Fprintln(w, strings.Repeat("-", 90))
			for _, t := range teams {
				mission := "-"
				if m, ok := t["current_mission"].(map[string]any); ok {
					mission = strVal(m["status"])
				}
				fmt.Fprintf(w, "%-16s %-20s %-16s %-12s %s\n",
					strVal(t["id"]), truncate(strVal(t["name"]), 19), strVal(t["leader"]), mission, joinVals(t["members"]))
			}
			return nil
		},
	}
}

func newMissionCommand(c *Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mission",
		Short: "Start or cancel team missions",
	}

	var wait bool
	start := &cobra.Command{
		Use:   "start <team> <kind>",
		Short: "Start a predefined mission (quick_cleanup, deep_cleanup, diagnostics, emergency_response)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/teams/" + url.PathEscape(args[0]) + "/missions"
			if wait {
				path += "?wait=true"
			}
			var m map[string]any
			if err := c.post(path, api.MissionRequest{Kind: args[1]}, &m); err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if !wait {
				fmt.Fprintf(w, "mission %s accepted by team %s\n", args[1], args[0])
				return nil
			}
			fmt.Fprintf(w, "mission %s %s\n", strVal(m["id"]), strVal(m["status"]))
			if results, ok := m["results"].([]any); ok {
				for _, r := range results {
					if rm, ok := r.(map[string]any); ok {
						fmt.Fprintf(w, "  %-36s %-20s %s\n", strVal(rm["task_id"]), strVal(rm["agent_id"]), strVal(rm["status"]))
					}
				}
			}
			return nil
		},
	}
	start.Flags().BoolVar(&wait, "wait", false, "block until the mission finishes")

	cancel := &cobra.Command{
		Use:   "cancel <team>",
		Short: "Cancel the team's running mission",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.delete("/api/teams/" + url.PathEscape(args[0]) + "/missions/current"); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mission cancelled\n")
			return nil
		},
	}

	cmd.AddCommand(start, cancel)
	return cmd
}

// --- helpers ---

func strVal(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func joinVals(v any) string {
	list, ok := v.([]any)
	if !ok {
		return ""
	}
	parts := make([]string, 0, len(list))
	for _, e := range list {
		parts = append(parts, strVal(e))
	}
	return strings.Join(parts, ",")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
