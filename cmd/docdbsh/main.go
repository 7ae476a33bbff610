// docdbsh is an interactive shell for a docbase data file.
//
// Usage:
//
//	docdbsh --path <data-file>
//
// Commands (in REPL):
//
//	insert <collection> <json-doc>             Insert one document
//	find <collection> [json-filter]            Find matching documents
//	findone <collection> [json-filter]         Find the first matching document
//	update <collection> <json-filter> <json-update>  Update matching documents
//	delete <collection> [json-filter]          Delete matching documents
//	count <collection> [json-filter]           Count matching documents
//	aggregate <collection> <json-pipeline>     Run an aggregation pipeline
//	createindex <collection> <field> [unique]  Create a secondary index
//	dropindex <collection> <name>              Drop a secondary index
//	indexes <collection>                       List indexes
//	explain <collection> [json-filter]         Explain how a find would run
//	begin                                      Begin an explicit transaction
//	commit                                     Commit the open transaction
//	rollback                                   Roll back the open transaction
//	collections                                List collections
//	drop <collection>                          Drop a collection
//	stats                                      Show per-collection stats
//	vacuum                                     Compact the data file
//	export <collection> <path>                 Export a collection to JSON
//	help                                       Show this help
//	exit / quit / q                            Exit
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	docdb "github.com/calvinalkan/docbase"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	path := flag.StringP("path", "p", "", "data file path (created if it doesn't exist)")
	flag.Parse()

	if *path == "" {
		flag.Usage()
		return errors.New("missing --path")
	}

	db, err := docdb.Open(docdb.Options{Path: *path})
	if err != nil {
		return fmt.Errorf("opening %s: %w", *path, err)
	}
	defer db.Close()

	repl := &REPL{db: db, ctx: context.Background()}
	return repl.Run()
}

// REPL is the interactive command loop.
type REPL struct {
	db    *docdb.DB
	ctx   context.Context
	liner *liner.State

	// txnID is non-nil while an explicit transaction is open, restricting
	// begin to one at a time the same way the engine itself does.
	txnID *uint64
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".docdbsh_history")
}

// Run starts the REPL loop.
func (r *REPL) Run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()

	r.liner.SetCtrlCAborts(true)
	r.liner.SetCompleter(r.completer)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("docdbsh - docbase shell")
	fmt.Println("Type 'help' for available commands.")
	fmt.Println()

	for {
		line, err := r.liner.Prompt(r.prompt())
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nBye!")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		if !r.dispatch(line) {
			r.saveHistory()
			return nil
		}
	}

	r.saveHistory()
	return nil
}

func (r *REPL) prompt() string {
	if r.txnID != nil {
		return fmt.Sprintf("docdb[txn %d]> ", *r.txnID)
	}
	return "docdb> "
}

func (r *REPL) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *REPL) completer(line string) []string {
	commands := []string{
		"insert", "find", "findone", "update", "delete", "count", "aggregate",
		"createindex", "dropindex", "indexes", "explain",
		"begin", "commit", "rollback",
		"collections", "drop", "stats", "vacuum", "export",
		"help", "exit", "quit", "q",
	}
	var completions []string
	lower := strings.ToLower(line)
	for _, cmd := range commands {
		if strings.HasPrefix(cmd, lower) {
			completions = append(completions, cmd)
		}
	}
	return completions
}

// dispatch runs one command line, returning false when the REPL should
// exit.
func (r *REPL) dispatch(line string) bool {
	parts := splitArgs(line)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "exit", "quit", "q":
		fmt.Println("Bye!")
		return false
	case "help", "?":
		r.printHelp()
	case "insert":
		r.cmdInsert(args)
	case "find":
		r.cmdFind(args)
	case "findone":
		r.cmdFindOne(args)
	case "update":
		r.cmdUpdate(args)
	case "delete":
		r.cmdDelete(args)
	case "count":
		r.cmdCount(args)
	case "aggregate":
		r.cmdAggregate(args)
	case "createindex":
		r.cmdCreateIndex(args)
	case "dropindex":
		r.cmdDropIndex(args)
	case "indexes":
		r.cmdIndexes(args)
	case "explain":
		r.cmdExplain(args)
	case "begin":
		r.cmdBegin()
	case "commit":
		r.cmdCommit()
	case "rollback":
		r.cmdRollback()
	case "collections":
		r.cmdCollections()
	case "drop":
		r.cmdDrop(args)
	case "stats":
		r.cmdStats()
	case "vacuum":
		r.cmdVacuum()
	case "export":
		r.cmdExport(args)
	default:
		fmt.Printf("Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

// splitArgs splits a command line into its command word, its collection
// name, and any remaining JSON arguments (filters, updates, pipelines),
// which may themselves contain spaces. The first two words are plain
// whitespace-delimited fields; everything after that is scanned for
// balanced {...}/[...] chunks since docdbsh's filter/update/pipeline
// arguments are JSON values.
func splitArgs(line string) []string {
	cmd, rest := cutField(line)
	if rest == "" {
		return []string{cmd}
	}

	collection, rest := cutField(rest)
	out := []string{cmd, collection}
	for rest != "" {
		var chunk string
		chunk, rest = takeJSONOrWord(rest)
		out = append(out, chunk)
		rest = strings.TrimSpace(rest)
	}
	return out
}

// cutField pulls one whitespace-delimited word off the front of s.
func cutField(s string) (field, rest string) {
	s = strings.TrimSpace(s)
	i := strings.IndexAny(s, " \t")
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// takeJSONOrWord consumes one balanced {...}/[...] value from the front of
// s, or one whitespace-delimited word if s doesn't start with a brace.
func takeJSONOrWord(s string) (chunk, rest string) {
	if len(s) == 0 {
		return "", ""
	}
	if s[0] != '{' && s[0] != '[' {
		fields := strings.SplitN(s, " ", 2)
		if len(fields) == 1 {
			return fields[0], ""
		}
		return fields[0], fields[1]
	}

	openCh, closeCh := byte('{'), byte('}')
	if s[0] == '[' {
		openCh, closeCh = '[', ']'
	}

	depth := 0
	inString := false
	escape := false
	for i, c := range []byte(s) {
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case openCh:
			depth++
		case closeCh:
			depth--
			if depth == 0 {
				return s[:i+1], s[i+1:]
			}
		}
	}
	return s, ""
}

func parseJSONObject(s string) (map[string]any, error) {
	if s == "" {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	return m, nil
}

func parseJSONArray(s string) ([]map[string]any, error) {
	var arr []map[string]any
	if err := json.Unmarshal([]byte(s), &arr); err != nil {
		return nil, fmt.Errorf("invalid JSON array: %w", err)
	}
	return arr, nil
}

func printDocs(docs []map[string]any) {
	if len(docs) == 0 {
		fmt.Println("(empty)")
		return
	}
	for i, d := range docs {
		b, _ := json.MarshalIndent(d, "", "  ")
		fmt.Printf("%3d. %s\n", i+1, b)
	}
}

func (r *REPL) cmdInsert(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: insert <collection> <json-doc>")
		return
	}
	doc, err := parseJSONObject(args[1])
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	res, err := r.db.InsertOne(r.ctx, args[0], doc)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Printf("OK: inserted _id=%d\n", res.InsertedID)
}

func (r *REPL) cmdFind(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: find <collection> [json-filter]")
		return
	}
	filterArg := ""
	if len(args) >= 2 {
		filterArg = args[1]
	}
	filter, err := parseJSONObject(filterArg)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	docs, err := r.db.Find(r.ctx, args[0], filter, docdb.FindOptions{})
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	printDocs(docs)
}

func (r *REPL) cmdFindOne(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: findone <collection> [json-filter]")
		return
	}
	filterArg := ""
	if len(args) >= 2 {
		filterArg = args[1]
	}
	filter, err := parseJSONObject(filterArg)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	doc, err := r.db.FindOne(r.ctx, args[0], filter)
	if err != nil {
		if errors.Is(err, docdb.ErrNotFound) {
			fmt.Println("(not found)")
			return
		}
		fmt.Println("Error:", err)
		return
	}
	printDocs([]map[string]any{doc})
}

func (r *REPL) cmdUpdate(args []string) {
	if len(args) < 3 {
		fmt.Println("Usage: update <collection> <json-filter> <json-update>")
		return
	}
	filter, err := parseJSONObject(args[1])
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	upd, err := parseJSONObject(args[2])
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	res, err := r.db.UpdateMany(r.ctx, args[0], filter, upd)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Printf("OK: matched=%d modified=%d\n", res.MatchedCount, res.ModifiedCount)
}

func (r *REPL) cmdDelete(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: delete <collection> [json-filter]")
		return
	}
	filterArg := ""
	if len(args) >= 2 {
		filterArg = args[1]
	}
	filter, err := parseJSONObject(filterArg)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	res, err := r.db.DeleteMany(r.ctx, args[0], filter)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Printf("OK: deleted=%d\n", res.DeletedCount)
}

func (r *REPL) cmdCount(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: count <collection> [json-filter]")
		return
	}
	filterArg := ""
	if len(args) >= 2 {
		filterArg = args[1]
	}
	filter, err := parseJSONObject(filterArg)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	n, err := r.db.CountDocuments(r.ctx, args[0], filter)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println(n)
}

func (r *REPL) cmdAggregate(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: aggregate <collection> <json-pipeline>")
		return
	}
	pipeline, err := parseJSONArray(args[1])
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	out, err := r.db.Aggregate(r.ctx, args[0], pipeline)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	printDocs(out)
}

func (r *REPL) cmdCreateIndex(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: createindex <collection> <field> [unique]")
		return
	}
	unique := len(args) >= 3 && (args[2] == "unique" || args[2] == "true")
	name, err := r.db.CreateIndex(r.ctx, args[0], args[1], docdb.CreateIndexOptions{Unique: unique})
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Printf("OK: created index %q\n", name)
}

func (r *REPL) cmdDropIndex(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: dropindex <collection> <name>")
		return
	}
	if err := r.db.DropIndex(r.ctx, args[0], args[1]); err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println("OK")
}

func (r *REPL) cmdIndexes(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: indexes <collection>")
		return
	}
	list, err := r.db.ListIndexes(r.ctx, args[0])
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	if len(list) == 0 {
		fmt.Println("(none)")
		return
	}
	for _, idx := range list {
		fmt.Printf("  %-20s field=%-15s unique=%v\n", idx.Name, idx.Field, idx.Unique)
	}
}

func (r *REPL) cmdExplain(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: explain <collection> [json-filter]")
		return
	}
	filterArg := ""
	if len(args) >= 2 {
		filterArg = args[1]
	}
	filter, err := parseJSONObject(filterArg)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	res, err := r.db.Explain(r.ctx, args[0], filter)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	b, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(b))
}

func (r *REPL) cmdBegin() {
	if r.txnID != nil {
		fmt.Println("Error: a transaction is already open")
		return
	}
	id, err := r.db.BeginTransaction(r.ctx)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	r.txnID = &id
	fmt.Printf("OK: started transaction %d\n", id)
}

func (r *REPL) cmdCommit() {
	if r.txnID == nil {
		fmt.Println("Error: no transaction is open")
		return
	}
	if err := r.db.CommitTransaction(r.ctx, *r.txnID); err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println("OK: committed")
	r.txnID = nil
}

func (r *REPL) cmdRollback() {
	if r.txnID == nil {
		fmt.Println("Error: no transaction is open")
		return
	}
	if err := r.db.RollbackTransaction(r.ctx, *r.txnID); err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println("OK: rolled back")
	r.txnID = nil
}

func (r *REPL) cmdCollections() {
	names, err := r.db.ListCollections(r.ctx)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	if len(names) == 0 {
		fmt.Println("(none)")
		return
	}
	for _, n := range names {
		fmt.Println(" ", n)
	}
}

func (r *REPL) cmdDrop(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: drop <collection>")
		return
	}
	answer, err := r.liner.Prompt(fmt.Sprintf("Drop collection %q? (yes/no): ", args[0]))
	if err != nil || strings.ToLower(strings.TrimSpace(answer)) != "yes" {
		fmt.Println("Cancelled.")
		return
	}
	if err := r.db.DropCollection(r.ctx, args[0]); err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println("OK")
}

func (r *REPL) cmdStats() {
	stats, err := r.db.Stats(r.ctx)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	if len(stats) == 0 {
		fmt.Println("(no collections)")
		return
	}
	for name, s := range stats {
		fmt.Printf("  %-20s docs=%-8d indexes=%d\n", name, s.DocumentCount, s.IndexCount)
	}
}

func (r *REPL) cmdVacuum() {
	if err := r.db.Vacuum(r.ctx); err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Println("OK: vacuumed")
}

func (r *REPL) cmdExport(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: export <collection> <path>")
		return
	}
	if err := r.db.ExportCollection(r.ctx, args[0], args[1]); err != nil {
		fmt.Println("Error:", err)
		return
	}
	fmt.Printf("OK: exported to %s\n", args[1])
}

func (r *REPL) printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  insert <collection> <json-doc>                    Insert one document")
	fmt.Println("  find <collection> [json-filter]                   Find matching documents")
	fmt.Println("  findone <collection> [json-filter]                Find the first matching document")
	fmt.Println("  update <collection> <json-filter> <json-update>   Update matching documents")
	fmt.Println("  delete <collection> [json-filter]                 Delete matching documents")
	fmt.Println("  count <collection> [json-filter]                  Count matching documents")
	fmt.Println("  aggregate <collection> <json-pipeline>            Run an aggregation pipeline")
	fmt.Println("  createindex <collection> <field> [unique]         Create a secondary index")
	fmt.Println("  dropindex <collection> <name>                     Drop a secondary index")
	fmt.Println("  indexes <collection>                              List indexes")
	fmt.Println("  explain <collection> [json-filter]                Explain how a find would run")
	fmt.Println("  begin / commit / rollback                         Explicit transaction control")
	fmt.Println("  collections                                       List collections")
	fmt.Println("  drop <collection>                                 Drop a collection")
	fmt.Println("  stats                                             Show per-collection stats")
	fmt.Println("  vacuum                                            Compact the data file")
	fmt.Println("  export <collection> <path>                        Export a collection to JSON")
	fmt.Println("  help                                              Show this help")
	fmt.Println("  exit / quit / q                                   Exit")
	fmt.Println()
	fmt.Println("Filters, updates, and pipelines are standard JSON: {\"age\": {\"$gt\": 21}}")
}
