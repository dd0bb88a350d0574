package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/replyd/internal/config"
	"github.com/kalambet/replyd/internal/content"
	"github.com/kalambet/replyd/internal/domain"
	"github.com/kalambet/replyd/internal/operator"
	"github.com/kalambet/replyd/internal/pipeline"
	"github.com/kalambet/replyd/internal/scheduler"
	"github.com/kalambet/replyd/internal/storage"
	"github.com/kalambet/replyd/internal/voice"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// --- comments ---

var commentsCmd = &cobra.Command{
	Use:   "comments",
	Short: "Inspect and reprocess fetched comments",
}

var commentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent comments with their latest reply",
	RunE: func(cmd *cobra.Command, args []string) error {
		platform, _ := cmd.Flags().GetString("platform")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listComments(cmd.Context(), client, os.Stdout, platform, limit)
	},
}

func listComments(ctx context.Context, client *apiClient, w io.Writer, platform string, limit int) error {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if platform != "" {
		q.Set("platform", platform)
	}

	var comments []operator.CommentView
	if err := client.call(ctx, http.MethodGet, "/comments?"+q.Encode(), nil, &comments); err != nil {
		return err
	}

	if len(comments) == 0 {
		fmt.Fprintln(w, "No comments found.")
		return nil
	}
	for _, c := range comments {
		category := "-"
		if c.Classification != nil {
			category = string(c.Classification.Category)
		}
		fmt.Fprintf(w, "%s  %-9s  %-9s  %-10s  %s: %s\n",
			paint(cyan, string(c.Platform)+":"+c.ID),
			c.Status,
			category,
			c.PublishedAt.Local().Format("Jan 02 15:04"),
			c.AuthorName,
			truncate(c.Text, 80),
		)
		if c.Reply != nil {
			fmt.Fprintf(w, "    ↳ [%s %s] %s\n", c.Reply.Status, shortID(c.Reply.ID), truncate(c.Reply.Text, 80))
		}
	}
	return nil
}

var commentsReprocessCmd = &cobra.Command{
	Use:   "reprocess <platform> <comment-id>",
	Short: "Run a stored comment through the pipeline again",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := domain.ParsePlatform(args[0]); err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/comments/%s/%s/reprocess", url.PathEscape(args[0]), url.PathEscape(args[1]))
		var out pipeline.Outcome
		if err := client.call(cmd.Context(), http.MethodPost, path, struct{}{}, &out); err != nil {
			return err
		}

		printSuccess("Reprocessed %s (status %s)", out.Key, out.Status)
		if out.Reply != nil {
			printStatus("Reply", "%s [%s]", truncate(out.Reply.Text, 100), out.Reply.Status)
		}
		return nil
	},
}

func init() {
	commentsListCmd.Flags().String("platform", "", "only list comments from this platform")
	commentsListCmd.Flags().Int("limit", 20, "maximum number of comments to list")
	commentsCmd.AddCommand(commentsListCmd)
	commentsCmd.AddCommand(commentsReprocessCmd)
}

// --- replies ---

var repliesCmd = &cobra.Command{
	Use:   "replies",
	Short: "Review and send replies",
}

var repliesPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List replies waiting for approval",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listPending(cmd.Context(), client, os.Stdout, limit)
	},
}

func listPending(ctx context.Context, client *apiClient, w io.Writer, limit int) error {
	var replies []domain.Reply
	if err := client.call(ctx, http.MethodGet, fmt.Sprintf("/replies/pending?limit=%d", limit), nil, &replies); err != nil {
		return err
	}

	if len(replies) == 0 {
		fmt.Fprintln(w, "No pending replies.")
		return nil
	}
	for _, r := range replies {
		fmt.Fprintf(w, "%s  %s  %-9s %.2f  %s\n",
			paint(cyan, r.ID),
			r.CommentKey(),
			r.Category,
			r.Confidence,
			truncate(r.Text, 100),
		)
		if len(r.Triggers.Workflows) > 0 {
			fmt.Fprintf(w, "    workflows: %s\n", strings.Join(r.Triggers.Workflows, ", "))
		}
	}
	return nil
}

var repliesApproveCmd = &cobra.Command{
	Use:   "approve <reply-id>...",
	Short: "Approve one or more replies",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return approveReplies(cmd.Context(), client, args)
	},
}

// approveReplies uses the single-reply route for one id and the bulk route
// otherwise. Bulk failures are reported per id.
func approveReplies(ctx context.Context, client *apiClient, ids []string) error {
	if len(ids) == 1 {
		var reply domain.Reply
		if err := client.call(ctx, http.MethodPost, "/replies/"+url.PathEscape(ids[0])+"/approve", struct{}{}, &reply); err != nil {
			return err
		}
		printSuccess("Approved %s", reply.ID)
		return nil
	}

	var result struct {
		Results []operator.BulkResult `json:"results"`
	}
	if err := client.call(ctx, http.MethodPost, "/replies/bulk-approve", map[string]any{"ids": ids}, &result); err != nil {
		return err
	}

	failed := 0
	for _, r := range result.Results {
		if r.Error != "" {
			failed++
			printError("%s: %s", r.ID, r.Error)
			continue
		}
		printSuccess("Approved %s", r.ID)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d approvals failed", failed, len(result.Results))
	}
	return nil
}

var repliesRejectCmd = &cobra.Command{
	Use:   "reject <reply-id>",
	Short: "Reject a reply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var reply domain.Reply
		if err := client.call(cmd.Context(), http.MethodPost, "/replies/"+url.PathEscape(args[0])+"/reject", struct{}{}, &reply); err != nil {
			return err
		}
		printSuccess("Rejected %s", reply.ID)
		return nil
	},
}

var repliesSendCmd = &cobra.Command{
	Use:   "send <platform> <comment-id> <text>...",
	Short: "Queue an owner-written reply for delivery",
	Long: `Queue an owner-written reply for delivery.

The reply is stored as approved and goes out on the next sweep.

Examples:
  replyd replies send youtube Ugx123 "Thank you, see you Sunday!"`,
	Args: cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := domain.ParsePlatform(args[0]); err != nil {
			return err
		}
		text := strings.Join(args[2:], " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var reply domain.Reply
		if err := client.call(cmd.Context(), http.MethodPost, "/replies", map[string]string{
			"platform":   args[0],
			"comment_id": args[1],
			"text":       text,
		}, &reply); err != nil {
			return err
		}
		printSuccess("Queued reply %s", reply.ID)
		return nil
	},
}

func init() {
	repliesPendingCmd.Flags().Int("limit", 20, "maximum number of replies to list")
	repliesCmd.AddCommand(repliesPendingCmd)
	repliesCmd.AddCommand(repliesApproveCmd)
	repliesCmd.AddCommand(repliesRejectCmd)
	repliesCmd.AddCommand(repliesSendCmd)
}

// --- owner ---

var ownerCmd = &cobra.Command{
	Use:       "owner <on|off|status>",
	Short:     "Show or set the owner activity flag",
	Long:      "While the owner is active every generated reply is held for approval and nothing is auto-posted.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var set *bool
		switch args[0] {
		case "on", "off":
			v := args[0] == "on"
			set = &v
		case "status":
		default:
			return fmt.Errorf("unknown argument %q (valid: on, off, status)", args[0])
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		active, err := ownerActivity(cmd.Context(), client, set)
		if err != nil {
			return err
		}

		state := "away"
		if active {
			state = "active"
		}
		if set != nil {
			printSuccess("Owner marked %s", state)
			return nil
		}
		printStatus("Owner", "%s", state)
		return nil
	},
}

// ownerActivity reads the flag, or sets it first when set is non-nil.
func ownerActivity(ctx context.Context, client *apiClient, set *bool) (bool, error) {
	var out struct {
		Active bool `json:"active"`
	}
	var err error
	if set != nil {
		err = client.call(ctx, http.MethodPost, "/owner/activity", map[string]bool{"active": *set}, &out)
	} else {
		err = client.call(ctx, http.MethodGet, "/owner/activity", nil, &out)
	}
	if err != nil {
		return false, err
	}
	return out.Active, nil
}

// --- cycle / sweep ---

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one fetch cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Running fetch cycle...")
		var rep scheduler.CycleReport
		if err := client.call(cmd.Context(), http.MethodPost, "/cycle", struct{}{}, &rep); err != nil {
			return err
		}
		printCycleReport(os.Stdout, rep)
		return nil
	},
}

func printCycleReport(w io.Writer, rep scheduler.CycleReport) {
	if rep.OwnerActive {
		fmt.Fprintln(w, paint(yellow, "owner active: replies held for approval"))
	}
	if len(rep.Platforms) == 0 {
		fmt.Fprintln(w, "No platforms configured.")
		return
	}
	for _, p := range rep.Platforms {
		switch {
		case p.Skipped:
			fmt.Fprintf(w, "  %-10s skipped %s\n", p.Platform, p.Error)
		case p.Error != "":
			fmt.Fprintf(w, "  %-10s %s\n", p.Platform, paint(red, p.Error))
		default:
			fmt.Fprintf(w, "  %-10s fetched %d, processed %d, posted %d, failed %d\n",
				p.Platform, p.Fetched, p.Processed, p.Posted, p.Failed)
		}
	}
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Deliver approved replies and auto-approve eligible ones now",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var rep scheduler.SweepReport
		if err := client.call(cmd.Context(), http.MethodPost, "/sweep", struct{}{}, &rep); err != nil {
			return err
		}
		printSuccess("Sweep delivered %d, auto-approved %d, failed %d", rep.Delivered, rep.AutoApproved, rep.Failed)
		return nil
	},
}

// --- voice ---

var voiceCmd = &cobra.Command{
	Use:   "voice",
	Short: "Manage the brand voice",
}

var voiceShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current brand voice as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var v voice.Voice
		if err := client.call(cmd.Context(), http.MethodGet, "/voice", nil, &v); err != nil {
			return err
		}
		return printJSON(os.Stdout, v)
	},
}

var voiceSetCmd = &cobra.Command{
	Use:   "set <field> <value>",
	Short: "Set a brand voice field",
	Long: `Set a brand voice field.

Fields: tone, style, values, avoid, guidelines. List fields take a JSON
array or a comma separated list.

Examples:
  replyd voice set tone "warm and encouraging"
  replyd voice set avoid "politics, sarcasm"`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		field, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		if err := client.call(cmd.Context(), http.MethodPatch, "/voice", map[string]string{field: value}, nil); err != nil {
			return err
		}
		printSuccess("Set %s", field)
		return nil
	},
}

var voiceImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a brand guide (html, markdown, text, pdf or yaml)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		res, err := importVoice(cmd.Context(), client, args[0])
		if err != nil {
			return err
		}

		printSuccess("Imported %s document", res.Format)
		printStatus("Fields", "%s", strings.Join(res.Fields, ", "))
		if res.Truncated {
			printWarning("Document truncated to %d characters", res.Chars)
		}
		return nil
	},
}

func importVoice(ctx context.Context, client *apiClient, path string) (voice.ImportResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return voice.ImportResult{}, fmt.Errorf("reading file: %w", err)
	}

	var res voice.ImportResult
	if err := client.call(ctx, http.MethodPost, "/voice/import", map[string]string{
		"filename": filepath.Base(path),
		"content":  base64.StdEncoding.EncodeToString(data),
	}, &res); err != nil {
		return voice.ImportResult{}, err
	}
	return res, nil
}

func init() {
	voiceCmd.AddCommand(voiceShowCmd)
	voiceCmd.AddCommand(voiceSetCmd)
	voiceCmd.AddCommand(voiceImportCmd)
}

// --- content ---

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Generate and list long-form content drafts",
}

var contentGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate content drafts in the brand voice",
	Long: fmt.Sprintf(`Generate content drafts in the brand voice.

Types: %s

Examples:
  replyd content generate --type devotional --topic patience
  replyd content generate --type social_caption --series "Monday Hope" --count 3`, strings.Join(content.Types(), ", ")),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		topic, _ := cmd.Flags().GetString("topic")
		series, _ := cmd.Flags().GetString("series")
		count, _ := cmd.Flags().GetInt("count")

		if typ == "" {
			return fmt.Errorf("--type is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Generating %d %s draft(s)...", max(count, 1), typ)
		var drafts []storage.Draft
		if err := client.call(cmd.Context(), http.MethodPost, "/content/generate", content.Request{
			Type:   typ,
			Topic:  topic,
			Series: series,
			Count:  count,
		}, &drafts); err != nil {
			return err
		}
		printDrafts(os.Stdout, drafts)
		return nil
	},
}

var contentCaptionsCmd = &cobra.Command{
	Use:     "captions <topic>...",
	Short:   "Generate three social captions for each topic",
	Example: `  replyd content captions "faith and business" "morning motivation" --series "Weekly Inspiration"`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		series, _ := cmd.Flags().GetString("series")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Generating captions for %d topic(s)...", len(args))
		var drafts []storage.Draft
		if err := client.call(cmd.Context(), http.MethodPost, "/content/captions/bulk", content.BulkCaptionsRequest{
			Topics: args,
			Series: series,
		}, &drafts); err != nil {
			return err
		}
		printDrafts(os.Stdout, drafts)
		return nil
	},
}

var contentSeriesCmd = &cobra.Command{
	Use:     "series <theme>",
	Short:   "Generate a numbered devotional series",
	Example: `  replyd content series "Overcoming Fear" --days 5`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Generating a %d-day series on %q...", days, args[0])
		var drafts []storage.Draft
		if err := client.call(cmd.Context(), http.MethodPost, "/content/devotionals/series", content.SeriesRequest{
			Theme: args[0],
			Days:  days,
		}, &drafts); err != nil {
			return err
		}
		printDrafts(os.Stdout, drafts)
		return nil
	},
}

var contentHashtagsCmd = &cobra.Command{
	Use:     "hashtags <category>...",
	Short:   "Generate a hashtag set for each content category",
	Example: `  replyd content hashtags faith fitness business`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Generating hashtag sets for %d categories...", len(args))
		var library map[string]storage.Draft
		if err := client.call(cmd.Context(), http.MethodPost, "/content/hashtags/library", content.LibraryRequest{
			Categories: args,
		}, &library); err != nil {
			return err
		}
		printLibrary(os.Stdout, library)
		return nil
	},
}

var contentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored drafts",
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		if typ != "" {
			q.Set("type", typ)
		}
		var drafts []storage.Draft
		if err := client.call(cmd.Context(), http.MethodGet, "/content?"+q.Encode(), nil, &drafts); err != nil {
			return err
		}
		printDrafts(os.Stdout, drafts)
		return nil
	},
}

func printDrafts(w io.Writer, drafts []storage.Draft) {
	if len(drafts) == 0 {
		fmt.Fprintln(w, "No drafts found.")
		return
	}
	for _, d := range drafts {
		header := fmt.Sprintf("%s  %s", shortID(d.ID), d.Type)
		switch {
		case d.SeriesTitle != "":
			header += "  " + d.SeriesTitle
		case d.Series != "":
			header += "  series: " + d.Series
		}
		fmt.Fprintf(w, "\n%s\n%s\n", paint(bold, header), d.Content)
	}
}

func printLibrary(w io.Writer, library map[string]storage.Draft) {
	if len(library) == 0 {
		fmt.Fprintln(w, "No hashtag sets generated.")
		return
	}
	categories := make([]string, 0, len(library))
	for c := range library {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	for _, c := range categories {
		fmt.Fprintf(w, "\n%s\n%s\n", paint(bold, c), library[c].Content)
	}
}

func init() {
	contentGenerateCmd.Flags().String("type", "", "content type")
	contentGenerateCmd.Flags().String("topic", "", "topic to write about")
	contentGenerateCmd.Flags().String("series", "", "series name the drafts belong to")
	contentGenerateCmd.Flags().Int("count", 1, "number of drafts to generate")
	contentCaptionsCmd.Flags().String("series", "", "series name the captions belong to")
	contentSeriesCmd.Flags().Int("days", 7, "number of days in the series")
	contentListCmd.Flags().String("type", "", "only list drafts of this type")
	contentListCmd.Flags().Int("limit", 20, "maximum number of drafts to list")
	contentCmd.AddCommand(contentGenerateCmd)
	contentCmd.AddCommand(contentCaptionsCmd)
	contentCmd.AddCommand(contentSeriesCmd)
	contentCmd.AddCommand(contentHashtagsCmd)
	contentCmd.AddCommand(contentListCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Printf("Stored in %s\n\n", config.BackendLocation())
		for _, st := range config.ShowAll(cfg) {
			line := fmt.Sprintf("  %s = %s", paint(bold, st.Key), st.Value)
			if st.Env != "" {
				line += paint(yellow, "  (from "+st.Env+")")
			}
			fmt.Println(line)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value.

Secret keys (API keys and tokens) go to the platform secret store instead
of the plain config backend.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if config.IsSecret(key) {
			if err := config.SetSecret(config.NewKeychain(), key, value); err != nil {
				return err
			}
			printSuccess("Stored secret %s", key)
			return nil
		}

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored value so the default applies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
