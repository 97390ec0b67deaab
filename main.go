package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/manishrjain/keys"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

var (
	inputFile = flag.String("file", "", "Path of the CSV or JSON file containing transactions.")
	fileName  = flag.String("name", "", "Name to track progress under. Defaults to the base name of -file.")
	format    = flag.String("format", "auto", "Input format: auto, csv or json.")
	reset     = flag.Bool("reset", false, "Discard stored progress for the file and re-ingest it.")
	checkOnly = flag.Bool("check", false, "Validate the input and print the report without storing anything.")
	review    = flag.Bool("review", true, "Interactively review uncategorized rows.")
	ai        = flag.Bool("ai", false, "Ask the inference service for category suggestions before review.")
	summary   = flag.Bool("summary", false, "Print per-category counts and totals for the file.")
	output    = flag.String("out", "", "Write the categorized rows as CSV to this path.")
	addCat    = flag.String("add-category", "", "Add a category to the registry and exit.")
	listCats  = flag.Bool("list-categories", false, "List registered categories and exit.")
	listAll   = flag.Bool("list-files", false, "List files with stored progress and exit.")
	category  = flag.String("category", "", "Category to apply to the rows given by -rows.")
	rowSpec   = flag.String("rows", "", "Comma separated row indices to categorize with -category.")
	configDir = flag.String("conf", os.Getenv("HOME")+"/.txntag",
		"Config directory to store txntag configs in.")
	shortcuts = flag.String("short", "shortcuts.yaml", "Name of shortcuts file.")
	dbPath    = flag.String("db", "", "Path of the progress database. Defaults to txntag.db in the config directory.")
	debug     = flag.Bool("debug", false, "Log a trace line for every inference call.")
)

type configs struct {
	AI struct {
		Enabled        bool   `yaml:"enabled"`
		APIKey         string `yaml:"api_key"`
		BaseURL        string `yaml:"base_url"`
		Model          string `yaml:"model"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		HistoryLimit   int    `yaml:"history_limit"`
	} `yaml:"ai"`
}

func loadConfigs(dir string) configs {
	var c configs
	data, err := os.ReadFile(path.Join(dir, "config.yaml"))
	if err != nil {
		return c
	}
	checkf(yaml.Unmarshal(data, &c), "Unable to unmarshal yaml config at %v", dir)
	return c
}

func printReport(rep *ValidationReport) {
	if rep.Valid {
		color.New(color.FgGreen).Printf("Valid: %d of %d rows accepted\n",
			len(rep.Accepted), rep.RowCount)
	} else {
		color.New(color.FgRed).Printf("Invalid: 0 of %d rows accepted\n", rep.RowCount)
	}
	for _, msg := range rep.Errors {
		fmt.Printf("  %s\n", msg)
	}
}

func printFileSummary(fp *FileProgress) {
	s := summarize(fp)
	cats := make([]string, 0, len(s.PerCategory))
	for cat := range s.PerCategory {
		cats = append(cats, cat)
	}
	sort.Strings(cats)

	fmt.Println()
	for _, cat := range cats {
		stat := s.PerCategory[cat]
		color.New(color.BgGreen, color.FgBlack).Printf(" %-20s ", cat)
		fmt.Printf(" %4d rows ", stat.Count)
		color.New(color.BgYellow, color.FgBlack).Printf(" %10.2f ", stat.Total)
		fmt.Println()
	}
	fmt.Println()
	fmt.Printf("Total rows: %d. Uncategorized: %d.\n", s.TotalRows, s.Uncategorized)
}

func parseRowSpec(spec string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if len(part) == 0 {
			continue
		}
		idx, err := strconv.Atoi(part)
		if err != nil {
			return nil, errors.Wrapf(err, "bad row index %q", part)
		}
		out = append(out, idx)
	}
	return out, nil
}

// applyBulkAndReport runs one bulk update and prints per-row failures without
// aborting the run. Rows that fail stay uncategorized for review.
func applyBulkAndReport(store *progressStore, name string, updates map[int]string) {
	if len(updates) == 0 {
		return
	}
	results, err := store.ApplyBulk(name, updates)
	checkf(err, "Unable to apply bulk update to %s", name)
	var applied int
	for _, res := range results {
		if res.Err != nil {
			fmt.Printf("  row %d: %v\n", res.Index, res.Err)
			continue
		}
		applied++
	}
	fmt.Printf("Applied %d of %d updates.\n", applied, len(updates))
}

// runInference asks for suggestions over the uncategorized rows in chunks and
// applies what comes back. Transport and response failures skip the chunk; the
// rows stay uncategorized and surface during review.
func runInference(store *progressStore, fp *FileProgress, c configs,
	categories []string, suggested map[int][]Suggestion) {

	var pending []Txn
	for _, row := range fp.Rows {
		if len(row.Category) == 0 {
			pending = append(pending, row)
		}
	}
	if len(pending) == 0 {
		return
	}

	history, err := store.HistoricalExamples(c.AI.HistoryLimit)
	checkf(err, "Unable to load historical examples")
	history = pickExemplars(history, c.AI.HistoryLimit)

	var sink TraceSink = nopSink{}
	if *debug {
		sink = logSink{}
	}
	engine := newSuggestEngine(newAnthropicClient(c.AI.APIKey, c.AI.BaseURL, c.AI.Model), sink)
	if c.AI.TimeoutSeconds > 0 {
		engine.timeout = time.Duration(c.AI.TimeoutSeconds) * time.Second
	}
	if c.AI.HistoryLimit > 0 {
		engine.historyLimit = c.AI.HistoryLimit
	}

	fmt.Printf("Asking for suggestions on %d rows...\n", len(pending))
	updates := make(map[int]string)
	for start := 0; start < len(pending); start += maxSuggestBatch {
		end := min(start+maxSuggestBatch, len(pending))
		chunk := pending[start:end]

		sugs, err := engine.SuggestBatch(context.Background(), chunk, history, categories)
		if err != nil {
			var unavailable *InferenceUnavailableError
			if errors.As(err, &unavailable) {
				fmt.Printf("Inference service unavailable: %v. Continuing without suggestions.\n", err)
				return
			}
			fmt.Printf("Discarding suggestions for rows %d-%d: %v\n",
				chunk[0].Index, chunk[len(chunk)-1].Index, err)
			continue
		}
		for i, sug := range sugs {
			row := chunk[i]
			updates[row.Index] = sug.Category
			suggested[row.Index] = append(suggested[row.Index],
				Suggestion{Category: sug.Category, Confidence: 1})
		}
	}
	applyBulkAndReport(store, fp.Name, updates)
}

func ingest(store *progressStore) *FileProgress {
	data, err := os.ReadFile(*inputFile)
	checkf(err, "Unable to read input file: %v", *inputFile)

	hint, err := parseHint(*format)
	checkf(err, "Unable to parse -format")

	rep := validate(data, hint)
	printReport(rep)
	if *checkOnly {
		os.Exit(0)
	}
	if !rep.Valid {
		log.Fatalf("No rows accepted from %s", *inputFile)
	}

	name := *fileName
	if len(name) == 0 {
		name = path.Base(*inputFile)
	}

	exists, err := store.Exists(name)
	checkf(err, "Unable to check progress for %s", name)
	if exists && !*reset {
		fmt.Printf("Progress for %s already exists. Re-run with -reset to re-ingest.\n", name)
		fp, err := store.Get(name)
		checkf(err, "Unable to load progress for %s", name)
		return fp
	}

	fp, err := store.CreateOrReset(name, rep.Accepted)
	checkf(err, "Unable to store progress for %s", name)
	fmt.Printf("Stored %d rows under %s.\n", len(fp.Rows), name)
	return fp
}

func main() {
	flag.Parse()

	checkf(os.MkdirAll(*configDir, 0o755), "Unable to create directory: %v", *configDir)
	c := loadConfigs(*configDir)

	if len(*dbPath) == 0 {
		*dbPath = path.Join(*configDir, "txntag.db")
	}
	db, err := openDB(*dbPath)
	checkf(err, "Unable to open database at %v", *dbPath)
	defer db.Close()

	reg := newCategoryRegistry(db)
	checkf(reg.SeedDefaults(), "Unable to seed default categories")
	store := newProgressStore(db, reg)

	if len(*addCat) > 0 {
		label, err := reg.Propose(*addCat)
		checkf(err, "Unable to add category %q", *addCat)
		checkf(reg.ConfirmAdd(label), "Unable to add category %q", label)
		fmt.Printf("Added category: %s\n", label)
		return
	}
	if *listCats {
		cats, err := reg.List()
		checkf(err, "Unable to list categories")
		for _, cat := range cats {
			fmt.Println(cat)
		}
		return
	}
	if *listAll {
		names, err := store.ListFiles()
		checkf(err, "Unable to list files")
		for _, name := range names {
			fp, err := store.Get(name)
			checkf(err, "Unable to load progress for %s", name)
			s := summarize(fp)
			fmt.Printf("%s\t%d rows\t%d uncategorized\n", name, s.TotalRows, s.Uncategorized)
		}
		return
	}

	var fp *FileProgress
	switch {
	case len(*inputFile) > 0:
		fp = ingest(store)
	case len(*fileName) > 0:
		fp, err = store.Get(*fileName)
		checkf(err, "Unable to load progress for %s", *fileName)
	default:
		oerr("Please specify an input file with -file, or a tracked name with -name")
		return
	}

	categories, err := reg.List()
	checkf(err, "Unable to list categories")

	if len(*category) > 0 || len(*rowSpec) > 0 {
		assertf(len(*category) > 0 && len(*rowSpec) > 0, "-category and -rows go together")
		indices, err := parseRowSpec(*rowSpec)
		checkf(err, "Unable to parse -rows")
		updates := make(map[int]string, len(indices))
		for _, idx := range indices {
			updates[idx] = *category
		}
		applyBulkAndReport(store, fp.Name, updates)
		fp, err = store.Get(fp.Name)
		checkf(err, "Unable to load progress for %s", fp.Name)
	}

	if rules, err := loadRules(path.Join(*configDir, "rules.yaml")); err != nil {
		checkf(err, "Unable to load rules")
	} else if hits := applyRules(fp.Rows, rules, categories); len(hits) > 0 {
		updates := make(map[int]string, len(hits))
		for _, hit := range hits {
			updates[hit.Index] = hit.Category
		}
		fmt.Printf("Rules matched %d rows.\n", len(hits))
		applyBulkAndReport(store, fp.Name, updates)
	}

	suggested := make(map[int][]Suggestion)
	if *ai && c.AI.Enabled {
		fp, err = store.Get(fp.Name)
		checkf(err, "Unable to load progress for %s", fp.Name)
		runInference(store, fp, c, categories, suggested)
	} else if *ai {
		fmt.Println("AI is not enabled in config.yaml; skipping suggestions.")
	}

	if *review {
		history, err := store.HistoricalExamples(0)
		checkf(err, "Unable to load historical examples")
		cl := newClassifier(history)

		keyfile := path.Join(*configDir, *shortcuts)
		short := keys.ParseConfig(keyfile)
		defer short.Persist(keyfile)

		rv := newReviewer(store, fp.Name, categories, cl, short)
		rv.suggested = suggested
		rv.run()
	}

	fp, err = store.Get(fp.Name)
	checkf(err, "Unable to load progress for %s", fp.Name)

	if *summary {
		printFileSummary(fp)
	}
	if len(*output) > 0 {
		tmpl, err := newExportTemplate(defaultExportTemplate)
		checkf(err, "Unable to parse export template")
		out, err := os.Create(*output)
		checkf(err, "Unable to create output file: %v", *output)
		defer out.Close()
		checkf(exportProgress(out, fp, tmpl), "Unable to export %s", fp.Name)
		fmt.Printf("Wrote %d rows to %s.\n", len(fp.Rows), *output)
	}
}
