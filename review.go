package main

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/fatih/color"
	"github.com/manishrjain/keys"
	"github.com/pkg/errors"
)

const (
	descLength = 40
	catLength  = 20
)

// reviewer drives the interactive categorization loop over one file's rows.
// Every accepted shortcut writes through the store immediately, so quitting
// mid-file loses nothing.
type reviewer struct {
	store      *progressStore
	file       string
	categories []string
	cl         *classifier
	suggested  map[int][]Suggestion
	short      *keys.Shortcuts
}

func newReviewer(store *progressStore, file string, categories []string, cl *classifier, short *keys.Shortcuts) *reviewer {
	r := &reviewer{
		store:      store,
		file:       file,
		categories: categories,
		cl:         cl,
		suggested:  make(map[int][]Suggestion),
		short:      short,
	}
	setDefaultMappings(r.short)
	for _, cat := range categories {
		r.short.AutoAssign(cat, "default")
	}
	return r
}

func setDefaultMappings(ks *keys.Shortcuts) {
	ks.BestEffortAssign('b', ".back", "default")
	ks.BestEffortAssign('q', ".quit", "default")
	ks.BestEffortAssign('s', ".skip", "default")
	ks.BestEffortAssign('c', ".clear", "default")
	ks.BestEffortAssign('n', ".new category", "default")
}

func printRow(t Txn, idx, total int) {
	if len(t.Category) > 0 {
		color.New(color.BgGreen, color.FgBlack).Printf(" R ")
	} else {
		color.New(color.BgRed, color.FgWhite).Printf(" N ")
	}
	color.New(color.BgBlue, color.FgWhite).Printf(" [%3d of %3d] ", idx+1, total)
	color.New(color.BgYellow, color.FgBlack).Printf(" %10s ", t.Date.Format("2006-01-02"))

	desc := t.Desc
	if len(desc) > descLength {
		desc = desc[:descLength]
	}
	color.New(color.BgWhite, color.FgBlack).Printf(" %-40s", desc)

	cat := t.Category
	if len(cat) > catLength {
		cat = cat[:catLength]
	}
	if len(cat) > 0 {
		color.New(color.BgGreen, color.FgBlack).Printf(" %-20s ", cat)
	}
	color.New(color.BgRed, color.FgWhite).Printf(" %9.2f ", t.Amount)
	fmt.Println()
}

func clear() {
	cmd := exec.Command("clear")
	cmd.Stdout = os.Stdout
	cmd.Run()
	fmt.Println()
}

func readChar() rune {
	r := make([]byte, 1)
	os.Stdin.Read(r)
	return rune(r[0])
}

// promptNewCategory leaves single-char mode to read a full label, proposes and
// confirms it against the registry, and returns the canonical form.
func (rv *reviewer) promptNewCategory() (string, bool) {
	saneMode()
	defer singleCharMode()

	fmt.Print("New category name: ")
	var name string
	fmt.Scanln(&name)
	label, err := rv.store.reg.Propose(name)
	if err != nil {
		fmt.Printf("Rejected: %v\n", err)
		readChar()
		return "", false
	}
	if err := rv.store.reg.ConfirmAdd(label); err != nil && !errors.Is(err, ErrAlreadyExists) {
		fmt.Printf("Unable to add category: %v\n", err)
		readChar()
		return "", false
	}
	rv.categories = appendIfMissing(rv.categories, label)
	rv.short.AutoAssign(label, "default")
	return label, true
}

func appendIfMissing(list []string, label string) []string {
	for _, l := range list {
		if l == label {
			return list
		}
	}
	return append(list, label)
}

// categorizeRow shows one row with its classifier and inference hints and
// returns how far to advance: -1 back, 0 stay, 1 next, quitSentinel to stop.
const quitSentinel = 1 << 20

func (rv *reviewer) categorizeRow(t *Txn, idx, total int) int {
	clear()
	printRow(*t, idx, total)
	fmt.Println()
	if len(t.Desc) > descLength {
		color.New(color.BgWhite, color.FgBlack).Printf("%6s %s ", "[DESC]", t.Desc)
		fmt.Println()
	}

	hints := rv.suggested[t.Index]
	if len(hints) == 0 && rv.cl != nil {
		for _, hit := range rv.cl.topHits(t.Desc) {
			hints = append(hints, Suggestion{Category: hit.Category, Confidence: hit.Confidence})
		}
	}
	if len(hints) > 0 {
		color.New(color.BgMagenta, color.FgWhite).Printf("[SUGGESTED]")
		fmt.Println()
		for i, s := range hints {
			color.New(color.FgCyan).Printf("  %d. ", i+1)
			color.New(color.FgYellow).Printf("%-30s", s.Category)
			color.New(color.FgGreen).Printf(" (%.0f%%)", s.Confidence*100)
			fmt.Println()
		}
	}
	fmt.Println()

	rv.short.Print("default", false)
	ch := readChar()

	opt, has := rv.short.MapsTo(ch, "default")
	if !has {
		return 0
	}
	switch opt {
	case ".back":
		return -1
	case ".skip":
		return 1
	case ".quit":
		return quitSentinel
	case ".clear":
		checkf(rv.store.UpdateRow(rv.file, t.Index, ""), "Unable to clear row %d", t.Index)
		t.Category = ""
		return 1
	case ".new category":
		label, ok := rv.promptNewCategory()
		if !ok {
			return 0
		}
		opt = label
	}

	checkf(rv.store.UpdateRow(rv.file, t.Index, opt), "Unable to categorize row %d", t.Index)
	t.Category = opt
	return 1
}

// applySimilar copies the category just chosen at from to the following rows
// whose descriptions differ only in digits and punctuation and whose amounts
// share a sign. Returns the index after the last row touched.
func (rv *reviewer) applySimilar(txns []Txn, from int) int {
	t := txns[from]
	src := strings.ToLower(lettersOnly.ReplaceAllString(t.Desc, ""))
	if len(src) == 0 {
		return from + 1
	}
	for i := from + 1; i < len(txns); i++ {
		dst := &txns[i]
		if src != strings.ToLower(lettersOnly.ReplaceAllString(dst.Desc, "")) {
			return i
		}
		if (t.Amount < 0) != (dst.Amount < 0) {
			return i
		}
		if len(dst.Category) > 0 {
			return i
		}
		checkf(rv.store.UpdateRow(rv.file, dst.Index, t.Category), "Unable to categorize row %d", dst.Index)
		dst.Category = t.Category
	}
	return len(txns)
}

func (rv *reviewer) run() {
	fp, err := rv.store.Get(rv.file)
	checkf(err, "Unable to load progress for %s", rv.file)
	txns := fp.Rows

	for i := range txns {
		printRow(txns[i], i, len(txns))
	}
	fmt.Println()
	fmt.Printf("Found %d rows. Review (Y/n)? ", len(txns))
	ch := readChar()
	if ch == 'n' || ch == 'q' {
		return
	}

	singleCharMode()
	defer saneMode()

	for i := 0; i < len(txns) && i >= 0; {
		t := &txns[i]
		res := rv.categorizeRow(t, i, len(txns))
		if res == quitSentinel {
			return
		}
		if res == 1 && len(t.Category) > 0 {
			upto := rv.applySimilar(txns, i)
			if upto > i+1 {
				clear()
				for j := i; j < upto; j++ {
					printRow(txns[j], j, len(txns))
				}
				fmt.Println()
				fmt.Println("The rows above matched the last categorized row and got its category. " +
					"Step back to change any of them.")
				readChar()
				i = upto
				continue
			}
		}
		i += res
		if i < 0 {
			i = 0
		}
	}
}
